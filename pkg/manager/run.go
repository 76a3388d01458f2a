package manager

import (
	"context"
	"runtime"

	"github.com/mortise-project/mortise-manager/pkg/protocol"
)

// Request is one IPC-broker-submitted operation awaiting a reply,
// translating mortise-manager's ManagerIpcOperation (req + oneshot
// reply sender) into a plain Go request/reply channel pair.
type Request struct {
	Op    protocol.Operation
	Reply chan<- protocol.Response
}

// Run drains reqs on the calling goroutine until either reqs is closed
// or a Shutdown manager operation is received, exactly mirroring
// manager()'s blocking_recv loop: a single dedicated goroutine, locked to
// its OS thread, owns the Manager for its entire lifetime, so none of its
// methods need locking. sidecar may be nil if no sidecar link is
// configured.
func (m *Manager) Run(ctx context.Context, reqs <-chan Request, sidecar Sidecar) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for {
		select {
		case <-ctx.Done():
			m.drainShutdown()
			return
		case req, ok := <-reqs:
			if !ok {
				m.drainShutdown()
				return
			}
			if req.Op.Manager != nil {
				if _, isShutdown := req.Op.Manager.(protocol.ShutdownOp); isShutdown {
					m.drainShutdown()
					if req.Reply != nil {
						req.Reply <- protocol.Ok(nil)
					}
					return
				}
			}
			resp := m.Handle(req.Op, sidecar)
			if req.Reply != nil {
				req.Reply <- resp
			}
		}
	}
}

func (m *Manager) drainShutdown() {
	if err := m.Shutdown(); err != nil {
		log.WithError(err).Error("error during shutdown")
		return
	}
	log.Info("all struct_ops destroyed")
}
