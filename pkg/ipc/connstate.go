package ipc

import (
	"github.com/mortise-project/mortise-manager/pkg/manager"
	"github.com/mortise-project/mortise-manager/pkg/protocol"
	"github.com/mortise-project/mortise-manager/pkg/qoe"
)

// connState is the per-connection bookkeeping ipc.rs calls
// PerUdsLocalInfo: which flow ids this connection originated (so they
// can be released on disconnect) and the QoE smoother driving this
// connection's sk_stg_map tradeoff updates.
type connState struct {
	flows    map[uint32]struct{}
	smoother *qoe.Smoother
}

func newConnState() *connState {
	return &connState{
		flows:    make(map[uint32]struct{}),
		smoother: qoe.NewSmoother(),
	}
}

// release synthesizes a Disconnect for every flow this connection still
// owns, submitting each to the manager and draining its reply, mirroring
// PerUdsLocalInfo::release. Called once the connection's reader loop
// ends, whether by a clean close or an error.
func (c *connState) release(reqs chan<- manager.Request) {
	for flowID := range c.flows {
		reply := make(chan protocol.Response, 1)
		reqs <- manager.Request{
			Op: protocol.Operation{Flow: &protocol.FlowEnvelope{
				FlowID: flowID,
				Op:     protocol.DisconnectOp{},
			}},
			Reply: reply,
		}
		<-reply
		delete(c.flows, flowID)
	}
}
