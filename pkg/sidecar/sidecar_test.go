package sidecar

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/mortise-project/mortise-manager/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLink(t *testing.T) (*Link, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	l := &Link{queue: make(chan []byte, 8), conn: client}
	go l.run()
	t.Cleanup(func() { l.Close() })
	return l, server
}

func readFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	var prefix [4]byte
	_, err := io.ReadFull(conn, prefix[:])
	require.NoError(t, err)
	n := binary.BigEndian.Uint32(prefix[:])
	body := make([]byte, n)
	_, err = io.ReadFull(conn, body)
	require.NoError(t, err)
	return body
}

func TestNotifyFlowFramesAndEncodesExternallyTagged(t *testing.T) {
	l, server := newTestLink(t)
	defer server.Close()

	l.NotifyFlow(protocol.ConnectNotification(42))

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	body := readFrame(t, server)

	var decoded map[string]map[string]uint32
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, uint32(42), decoded["Connect"]["flow_id"])
}

func TestForwardBytesRelaysRawPayload(t *testing.T) {
	l, server := newTestLink(t)
	defer server.Close()

	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	l.ForwardBytes(payload)

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	body := readFrame(t, server)
	assert.Equal(t, payload, body)
}
