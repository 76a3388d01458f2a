// Package ipc is the IPC Broker (spec.md §4.E): accepts connections on
// the control Unix socket, frames requests/replies with a 4-byte
// big-endian length prefix, and translates each decoded Operation into
// a manager.Request submitted to the Manager Core's dedicated goroutine.
// Grounded on ipc.rs's handle_uds loop, translated from tokio_util's
// LengthDelimitedCodec to a small hand-rolled reader/writer since the
// corpus doesn't carry a length-delimited framing dependency of its own.
package ipc

import (
	"encoding/binary"
	"fmt"
	"io"
)

const maxFrameSize = 16 << 20 // generous upper bound against a misbehaving peer

// ReadFrame reads one 4-byte-big-endian-length-prefixed frame from r.
// Exported so mortisectl can speak the same framing as a plain client.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds max %d", n, maxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}
	return body, nil
}

// WriteFrame writes payload prefixed with its 4-byte big-endian length.
func WriteFrame(w io.Writer, payload []byte) error {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
