package ipc

import (
	"encoding/binary"
	"errors"
	"net"

	"github.com/mortise-project/mortise-manager/pkg/manager"
	"github.com/mortise-project/mortise-manager/pkg/metrics"
	"github.com/mortise-project/mortise-manager/pkg/protocol"
	"github.com/mortise-project/mortise-manager/pkg/qoe"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "ipc.Broker")

// Broker accepts control-socket connections and drives each one's
// request/reply loop against a shared channel into the Manager Core's
// dedicated goroutine (manager.Manager.Run).
type Broker struct {
	reqs    chan manager.Request
	metrics *metrics.Metrics
}

// NewBroker returns a Broker whose requests are read by the given
// channel's consumer (normally a goroutine running m.Run(ctx, reqs, ...)).
// m may be nil to run without metrics.
func NewBroker(reqs chan manager.Request, m *metrics.Metrics) *Broker {
	return &Broker{reqs: reqs, metrics: m}
}

// Serve accepts connections on ln until it is closed, handling each on
// its own goroutine.
func (b *Broker) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go b.handleConn(conn)
	}
}

// handleConn is handle_uds translated to blocking reads on a net.Conn:
// decode a frame, dispatch it, encode and write the reply, until the
// peer disconnects or a frame is malformed, at which point every flow
// this connection owns is released.
func (b *Broker) handleConn(conn net.Conn) {
	defer conn.Close()
	state := newConnState()
	for {
		body, err := ReadFrame(conn)
		if err != nil {
			log.WithError(err).Info("connection closed")
			state.release(b.reqs)
			return
		}
		op, err := protocol.Decode(body)
		if err != nil {
			log.WithError(err).Error("malformed request")
			state.release(b.reqs)
			return
		}
		resp := b.processRequest(op, state)
		out, err := protocol.Encode(resp)
		if err != nil {
			log.WithError(err).Error("failed to encode response")
			state.release(b.reqs)
			return
		}
		if err := WriteFrame(conn, out); err != nil {
			log.WithError(err).Warn("write failed")
			state.release(b.reqs)
			return
		}
	}
}

// processRequest mirrors ipc.rs's process_request: most operations are
// forwarded to the manager unchanged, but Connect replies are parsed to
// track ownership for release(), and QoEUpdate samples are consumed
// locally by the connection's smoother and only occasionally translated
// into a SkStgMapUpdate against the manager.
func (b *Broker) processRequest(op protocol.Operation, state *connState) protocol.Response {
	if op.Flow != nil {
		switch v := op.Flow.Op.(type) {
		case protocol.ConnectOp:
			resp := b.submit(op)
			if !resp.IsErr && len(resp.Ok) == 4 {
				flowID := binary.BigEndian.Uint32(resp.Ok)
				state.flows[flowID] = struct{}{}
			}
			return resp
		case protocol.QoEUpdateOp:
			return b.handleQoEUpdate(op.Flow.FlowID, v.QoE, state)
		}
	}
	return b.submit(op)
}

// handleQoEUpdate folds sample into state's smoother and, only if the
// resulting tradeoff actually moved, pushes a new AppInfo value into the
// flow's sk_stg_map. It never surfaces an error to the client: a failed
// tradeoff push is logged and swallowed, matching process_request's
// QoEUpdate arm.
func (b *Broker) handleQoEUpdate(flowID uint32, sample protocol.FrameQoE, state *connState) protocol.Response {
	if b.metrics != nil {
		b.metrics.ObserveQoEScore(sample.Score())
	}
	tradeoff, changed := state.smoother.Update(sample)
	if !changed {
		return protocol.Ok(nil)
	}
	info := qoe.AppInfo{Req: tradeoff, Resp: 0}
	resp := b.submit(protocol.Operation{Flow: &protocol.FlowEnvelope{
		FlowID: flowID,
		Op: protocol.SkStgMapUpdateOp{
			MapName: "sk_stg_map",
			Val:     info.Bytes(),
			Flag:    0,
		},
	}})
	if resp.IsErr {
		log.WithField("flow_id", flowID).WithField("error", resp.Err).Error("failed to update tradeoff")
	}
	return protocol.Ok(nil)
}

// submit sends op to the manager goroutine and blocks for its reply.
func (b *Broker) submit(op protocol.Operation) protocol.Response {
	reply := make(chan protocol.Response, 1)
	b.reqs <- manager.Request{Op: op, Reply: reply}
	return <-reply
}
