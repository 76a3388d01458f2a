// Package mortisetest provides channel-backed test doubles for the
// manager's external dependencies, adapted from the teacher's
// pkg/test.ExporterFake/PerfExporterFake: a buffered channel plus a
// Get helper that fails the test on timeout instead of blocking forever.
package mortisetest

import (
	"testing"
	"time"

	"github.com/mortise-project/mortise-manager/pkg/protocol"
)

// SidecarFake records every notification and forwarded byte payload
// sent to it, implementing both manager.Sidecar and manager.Reporter so
// a single fake can stand in for the whole Sidecar Link in tests.
type SidecarFake struct {
	notifications chan protocol.PyOperation
	bytes         chan []byte
}

// NewSidecarFake returns an empty fake with reasonably deep buffers so a
// test driving several flows doesn't need a consumer goroutine.
func NewSidecarFake() *SidecarFake {
	return &SidecarFake{
		notifications: make(chan protocol.PyOperation, 100),
		bytes:         make(chan []byte, 100),
	}
}

// NotifyFlow implements manager.Sidecar.
func (f *SidecarFake) NotifyFlow(op protocol.PyOperation) {
	f.notifications <- op
}

// ForwardBytes implements manager.Reporter.
func (f *SidecarFake) ForwardBytes(data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	f.bytes <- cp
}

// GetNotification waits up to timeout for the next flow notification.
func (f *SidecarFake) GetNotification(t *testing.T, timeout time.Duration) protocol.PyOperation {
	t.Helper()
	select {
	case <-time.After(timeout):
		t.Fatalf("timeout %s waiting for a sidecar notification", timeout)
		return protocol.PyOperation{}
	case op := <-f.notifications:
		return op
	}
}

// GetBytes waits up to timeout for the next forwarded ring buffer record.
func (f *SidecarFake) GetBytes(t *testing.T, timeout time.Duration) []byte {
	t.Helper()
	select {
	case <-time.After(timeout):
		t.Fatalf("timeout %s waiting for a forwarded record", timeout)
		return nil
	case b := <-f.bytes:
		return b
	}
}
