package ipc

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/mortise-project/mortise-manager/pkg/manager"
	"github.com/mortise-project/mortise-manager/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeManagerLoop answers PingPong with Ok and everything else with a
// canned error, standing in for manager.Manager.Run so these tests
// exercise the broker's framing and dispatch without loading real BPF
// objects.
func fakeManagerLoop(ctx context.Context, reqs <-chan manager.Request) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-reqs:
			switch req.Op.Manager.(type) {
			case protocol.PingPongOp:
				req.Reply <- protocol.Ok(nil)
			default:
				req.Reply <- protocol.Err("unsupported in fake loop")
			}
		}
	}
}

func TestBrokerRoundTripsPingPong(t *testing.T) {
	reqs := make(chan manager.Request)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fakeManagerLoop(ctx, reqs)

	broker := NewBroker(reqs, nil)
	client, server := net.Pipe()
	go broker.handleConn(server)
	defer client.Close()

	op := protocol.Operation{Manager: protocol.PingPongOp{}}
	body, err := json.Marshal(op)
	require.NoError(t, err)

	client.SetDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, WriteFrame(client, body))

	respBody, err := ReadFrame(client)
	require.NoError(t, err)

	var resp protocol.Response
	require.NoError(t, json.Unmarshal(respBody, &resp))
	assert.False(t, resp.IsErr)
}

func TestReadWriteFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := []byte("hello")
	go func() {
		_ = WriteFrame(client, payload)
	}()

	got, err := ReadFrame(server)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], maxFrameSize+1)
		_, _ = client.Write(prefix[:])
	}()

	_, err := ReadFrame(server)
	require.Error(t, err)
}
