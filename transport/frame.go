// Package transport is the connection-oriented, mutually-multiplexed transport underneath the
// message router (§4.2): every ceremony session and every vote/FSM broadcast rides the same set
// of long-lived node-to-node connections, demultiplexed by the SessionID carried in each frame.
//
// Grounded on the teacher's netadapter/server/grpcserver: a gRPC bidirectional stream per
// connection, one send loop and one receive loop per connection, wired through a Server/
// Connection interface pair that mirrors netadapter/server's. The pack did not retrieve the
// teacher's generated protowire/*.pb.go output (protoc was never run against it either), so
// Frame's wire encoding here is hand-written rather than protoc-generated; see DESIGN.md for why
// a custom grpc/encoding.Codec stands in for protobuf-generated marshaling.
package transport

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Frame is the single message type that crosses every connection. SessionID demultiplexes to a
// ceremony/voting/FSM session (§4.2); Sender/Sequence support the router's duplicate-suppression
// property (testable property 2, §8); Broadcast marks a frame addressed to all other nodes rather
// than one peer.
type Frame struct {
	SessionID [16]byte
	Sender    uint32
	Sequence  uint64
	Broadcast bool
	Payload   []byte
}

// Marshal encodes a Frame into a flat byte slice: 16-byte session id, 4-byte sender, 8-byte
// sequence, 1-byte broadcast flag, then the raw payload. There is no length prefix on Payload
// since it always runs to the end of the buffer.
func (f *Frame) Marshal() ([]byte, error) {
	buf := make([]byte, 16+4+8+1+len(f.Payload))
	copy(buf[0:16], f.SessionID[:])
	binary.BigEndian.PutUint32(buf[16:20], f.Sender)
	binary.BigEndian.PutUint64(buf[20:28], f.Sequence)
	if f.Broadcast {
		buf[28] = 1
	}
	copy(buf[29:], f.Payload)
	return buf, nil
}

// Unmarshal decodes a Frame previously produced by Marshal.
func (f *Frame) Unmarshal(data []byte) error {
	if len(data) < 29 {
		return errors.Errorf("frame too short: %d bytes", len(data))
	}
	copy(f.SessionID[:], data[0:16])
	f.Sender = binary.BigEndian.Uint32(data[16:20])
	f.Sequence = binary.BigEndian.Uint64(data[20:28])
	f.Broadcast = data[28] != 0
	f.Payload = append([]byte(nil), data[29:]...)
	return nil
}
