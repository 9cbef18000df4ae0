package transport

import (
	"context"
	"net"

	"github.com/mpcwallet/orchestrator/logs"
	"github.com/mpcwallet/orchestrator/util/panics"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"
)

var log, _ = logs.Get("NTAD")
var spawn = panics.GoroutineWrapperFunc(log)

// OnConnectedHandler is invoked once for every new connection, inbound or outbound.
type OnConnectedHandler func(connection Connection) error

// Server is the listening/dialing side of the transport, mirroring the teacher's
// netadapter/server.Server contract.
type Server interface {
	Start() error
	Stop() error
	Connect(address string) (Connection, error)
	Connections() []Connection
	SetOnConnectedHandler(OnConnectedHandler)
}

type gRPCServer struct {
	listeningAddrs     []string
	server             *grpc.Server
	onConnectedHandler OnConnectedHandler

	connections []*gRPCConnection
}

// NewGRPCServer constructs (but does not start) a Server listening on listeningAddrs.
func NewGRPCServer(listeningAddrs []string) (Server, error) {
	s := &gRPCServer{
		server:         grpc.NewServer(),
		listeningAddrs: listeningAddrs,
	}
	RegisterTransportServer(s.server, s)
	return s, nil
}

func (s *gRPCServer) SetOnConnectedHandler(handler OnConnectedHandler) {
	s.onConnectedHandler = handler
}

func (s *gRPCServer) Start() error {
	for _, addr := range s.listeningAddrs {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return errors.Wrapf(err, "error listening on %s", addr)
		}
		listenAddr := addr
		spawn(func() {
			if err := s.server.Serve(listener); err != nil {
				panics.Exit(log, "error serving on "+listenAddr+": "+err.Error())
			}
		})
		log.Infof("transport server listening on %s", listenAddr)
	}
	return nil
}

func (s *gRPCServer) Stop() error {
	s.server.GracefulStop()
	return nil
}

// Connect dials address as an outbound connection and starts its Stream RPC.
func (s *gRPCServer) Connect(address string) (Connection, error) {
	log.Infof("dialing %s", address)
	conn, err := grpc.Dial(address, grpc.WithInsecure(), grpc.WithBlock(), grpc.WithDefaultCallOptions(callContentSubtype))
	if err != nil {
		return nil, errors.Wrapf(err, "error connecting to %s", address)
	}
	client := NewTransportClient(conn)
	stream, err := client.Stream(context.Background())
	if err != nil {
		return nil, errors.Wrapf(err, "error opening stream to %s", address)
	}

	connection := newConnection(address, true)
	connection.clientConn = conn
	connection.stream = stream
	s.connections = append(s.connections, connection)
	spawn(func() { connection.pumpOutgoing(stream) })
	spawn(func() { connection.pumpIncoming(stream) })

	if s.onConnectedHandler != nil {
		if err := s.onConnectedHandler(connection); err != nil {
			return nil, err
		}
	}
	return connection, nil
}

// Stream implements TransportServer for inbound connections accepted by the gRPC server.
func (s *gRPCServer) Stream(stream Transport_StreamServer) error {
	p, _ := peerAddressFromContext(stream.Context())
	connection := newConnection(p, false)
	connection.stream = stream
	s.connections = append(s.connections, connection)

	spawn(func() { connection.pumpOutgoing(stream) })

	if s.onConnectedHandler != nil {
		if err := s.onConnectedHandler(connection); err != nil {
			return err
		}
	}

	connection.pumpIncoming(stream)
	<-connection.disconnected
	return nil
}

func peerAddressFromContext(ctx context.Context) (string, bool) {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "", false
	}
	return p.Addr.String(), true
}

func (s *gRPCServer) Connections() []Connection {
	result := make([]Connection, 0, len(s.connections))
	for _, c := range s.connections {
		result = append(result, c)
	}
	return result
}
