// Package sidecar is the Sidecar Link (spec.md §4.G): a best-effort
// Unix-socket writer that forwards flow lifecycle notifications and raw
// ring-buffer records to an external analytics process, grounded on the
// teacher's exporter.KafkaProto (a for-range-over-channel consumer
// draining a single outbound queue) adapted from Kafka messages to a
// length-delimited Unix socket frame.
package sidecar

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"

	"github.com/mortise-project/mortise-manager/pkg/protocol"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "sidecar")

// Link owns the outbound connection to the analytics sidecar. Sends are
// best effort: a full queue or a dead connection drops the message
// rather than blocking the Manager Core, matching connect_py's
// fire-and-forget mpsc::UnboundedSender.
type Link struct {
	queue chan []byte
	conn  net.Conn
}

// Dial connects to path and starts the writer goroutine. If the dial
// fails, a nil *Link is returned with the error so callers can run
// without a sidecar configured (connect_py logs a warning and proceeds
// with py_con = None; this package asks the caller to do the same).
func Dial(path string, queueDepth int) (*Link, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("connecting to sidecar at %s: %w", path, err)
	}
	l := &Link{
		queue: make(chan []byte, queueDepth),
		conn:  conn,
	}
	go l.run()
	return l, nil
}

// run drains the queue and writes each payload length-delimited (4-byte
// big-endian length prefix), matching LengthDelimitedCodec's default
// framing used on the control socket.
func (l *Link) run() {
	defer l.conn.Close()
	for payload := range l.queue {
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
		if _, err := l.conn.Write(prefix[:]); err != nil {
			log.WithError(err).Warn("sidecar write failed, disconnecting")
			return
		}
		if _, err := l.conn.Write(payload); err != nil {
			log.WithError(err).Warn("sidecar write failed, disconnecting")
			return
		}
	}
}

// send enqueues payload, dropping it if the queue is full rather than
// blocking the caller.
func (l *Link) send(payload []byte) {
	select {
	case l.queue <- payload:
	default:
		log.Warn("sidecar queue full, dropping message")
	}
}

// NotifyFlow forwards a Connect/Disconnect lifecycle event, implementing
// manager.Sidecar.
func (l *Link) NotifyFlow(op protocol.PyOperation) {
	b, err := json.Marshal(op)
	if err != nil {
		log.WithError(err).Error("failed to encode flow notification")
		return
	}
	l.send(b)
}

// ForwardBytes relays a raw ring-buffer record unmodified, implementing
// manager.Reporter.
func (l *Link) ForwardBytes(data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	l.send(cp)
}

// Close stops accepting new sends and closes the queue, letting run()
// flush in-flight writes before it exits.
func (l *Link) Close() {
	close(l.queue)
}
