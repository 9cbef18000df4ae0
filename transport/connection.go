package transport

import (
	"sync"

	"github.com/pkg/errors"
)

// Connection is one long-lived multiplexed link to a peer node, carrying frames for every
// session currently open between the two nodes. Mirrors the teacher's
// netadapter/server.Connection contract (Send/Receive/Disconnect plus a disconnected-handler
// hook); Address/IsOutbound come from netadapter.NetConnection, which the router layer wraps
// Connection in the same way.
type Connection interface {
	Send(frame *Frame) error
	Receive() (*Frame, error)
	Disconnect() error
	Address() string
	IsOutbound() bool
	SetOnDisconnectedHandler(func() error)
}

// frameStream is the subset of the generated client/server stream types a connection needs;
// Transport_StreamClient and Transport_StreamServer both satisfy it.
type frameStream interface {
	Send(*Frame) error
	Recv() (*Frame, error)
}

type gRPCConnection struct {
	address  string
	outbound bool

	clientConn clientConnCloser
	stream     frameStream

	sendChan     chan *Frame
	receiveChan  chan *Frame
	errChan      chan error
	disconnected chan struct{}

	disconnectOnce        sync.Once
	onDisconnectedHandler func() error

	serverStream Transport_StreamServer
}

// clientConnCloser is satisfied by *grpc.ClientConn; narrowed to ease testing.
type clientConnCloser interface {
	Close() error
}

func newConnection(address string, outbound bool) *gRPCConnection {
	return &gRPCConnection{
		address:      address,
		outbound:     outbound,
		sendChan:     make(chan *Frame, 64),
		receiveChan:  make(chan *Frame, 64),
		errChan:      make(chan error),
		disconnected: make(chan struct{}),
	}
}

// Send is part of the Connection interface.
func (c *gRPCConnection) Send(frame *Frame) error {
	select {
	case c.sendChan <- frame:
		return <-c.errChan
	case <-c.disconnected:
		return errors.WithStack(ErrConnectionClosed)
	}
}

// Receive is part of the Connection interface.
func (c *gRPCConnection) Receive() (*Frame, error) {
	select {
	case frame, ok := <-c.receiveChan:
		if !ok {
			return nil, errors.WithStack(ErrConnectionClosed)
		}
		return frame, nil
	case <-c.disconnected:
		return nil, errors.WithStack(ErrConnectionClosed)
	}
}

// Disconnect is part of the Connection interface. Idempotent.
func (c *gRPCConnection) Disconnect() error {
	var closeErr error
	c.disconnectOnce.Do(func() {
		close(c.disconnected)
		if c.clientConn != nil {
			closeErr = c.clientConn.Close()
		}
		if c.onDisconnectedHandler != nil {
			if err := c.onDisconnectedHandler(); err != nil {
				log.Warnf("disconnected handler for %s returned an error: %s", c.address, err)
			}
		}
	})
	return closeErr
}

func (c *gRPCConnection) Address() string { return c.address }

func (c *gRPCConnection) IsOutbound() bool { return c.outbound }

func (c *gRPCConnection) SetOnDisconnectedHandler(handler func() error) {
	c.onDisconnectedHandler = handler
}

// pumpOutgoing drains sendChan onto the underlying stream, serializing every Send call a session
// pump makes against this connection (grpc streams are not safe for concurrent Send).
func (c *gRPCConnection) pumpOutgoing(stream frameStream) {
	for {
		select {
		case frame := <-c.sendChan:
			err := stream.Send(frame)
			select {
			case c.errChan <- err:
			case <-c.disconnected:
				return
			}
			if err != nil {
				_ = c.Disconnect()
				return
			}
		case <-c.disconnected:
			return
		}
	}
}

// pumpIncoming reads frames off the underlying stream and fans them into receiveChan until the
// stream errors or the connection is torn down.
func (c *gRPCConnection) pumpIncoming(stream frameStream) {
	for {
		frame, err := stream.Recv()
		if err != nil {
			log.Warnf("failed to receive from %s: %s", c.address, err)
			_ = c.Disconnect()
			return
		}
		select {
		case c.receiveChan <- frame:
		case <-c.disconnected:
			return
		}
	}
}

// ErrConnectionClosed is returned by Send/Receive once a connection has been torn down.
var ErrConnectionClosed = errors.New("connection is closed")
