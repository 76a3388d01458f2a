package manager

import (
	"encoding/binary"

	"github.com/cilium/ebpf"
	"github.com/mortise-project/mortise-manager/pkg/mortiseerr"
	"github.com/mortise-project/mortise-manager/pkg/protocol"
)

// Sidecar is the subset of the Sidecar Link the Manager Core drives
// directly: flow lifecycle notifications (spec.md §4.G). Ring-buffer
// byte forwarding goes through Reporter instead, since it runs on the
// pump goroutines rather than the dispatch goroutine.
type Sidecar interface {
	NotifyFlow(op protocol.PyOperation)
}

// Handle dispatches one decoded Operation, mirroring handle_op's match
// arms exactly, including its wire-encoding quirks: Load/Connect replies
// carry their assigned id as big-endian bytes (client-facing, cross
// process), SkStgMapLookup replies carry the looked-up value, and every
// other success reply is an empty byte slice.
func (m *Manager) Handle(op protocol.Operation, sidecar Sidecar) protocol.Response {
	if m.metrics != nil {
		defer m.metrics.ControlOpTimer(opLabel(op))()
	}
	if op.Flow != nil {
		return m.handleFlowOp(op.Flow.FlowID, op.Flow.Op, sidecar)
	}
	return m.handleManagerOp(op.Manager)
}

// opLabel names an operation for the control_op_duration_seconds metric
// without round-tripping it through JSON just to read the tag.
func opLabel(op protocol.Operation) string {
	if op.Flow != nil {
		switch op.Flow.Op.(type) {
		case protocol.SkStgMapUpdateOp:
			return "flow.sk_stg_map_update"
		case protocol.SkStgMapLookupOp:
			return "flow.sk_stg_map_lookup"
		case protocol.ConnectOp:
			return "flow.connect"
		case protocol.DisconnectOp:
			return "flow.disconnect"
		case protocol.QoEUpdateOp:
			return "flow.qoe_update"
		default:
			return "flow.unknown"
		}
	}
	switch op.Manager.(type) {
	case protocol.LoadOp:
		return "manager.load"
	case protocol.UnloadOp:
		return "manager.unload"
	case protocol.InsertOp:
		return "manager.insert"
	case protocol.ShutdownOp:
		return "manager.shutdown"
	case protocol.PingPongOp:
		return "manager.ping_pong"
	case protocol.RegisterRingBufOp:
		return "manager.register_ring_buf"
	case protocol.UnregisterRingBufOp:
		return "manager.unregister_ring_buf"
	default:
		return "manager.unknown"
	}
}

func (m *Manager) handleManagerOp(op protocol.ManagerOperation) protocol.Response {
	switch v := op.(type) {
	case protocol.LoadOp:
		objID, err := m.OpenAndLoadObject(v.Path, v.Option)
		if err != nil {
			log.WithError(err).Error("failed to load object")
			return protocol.Err(err.Error())
		}
		log.WithField("obj_id", objID).Info("loaded object")
		return protocol.Ok(beU32(objID))

	case protocol.UnloadOp:
		if err := m.UnloadObject(v.ObjID); err != nil {
			log.WithError(err).Error("failed to unload object")
			return protocol.Err(err.Error())
		}
		log.WithField("obj_id", v.ObjID).Info("unloaded object")
		return protocol.Ok(nil)

	case protocol.InsertOp:
		if _, err := m.InsertAndLoadObject(v.ObjID, v.Path, v.Option); err != nil {
			log.WithError(err).Error("failed to insert object")
			return protocol.Err(err.Error())
		}
		log.WithField("obj_id", v.ObjID).Info("inserted object")
		return protocol.Ok(nil)

	case protocol.ShutdownOp:
		// Shutdown is intercepted by Run before it reaches Handle
		// (spec.md §4.C); this arm exists only so the type switch is total.
		return protocol.Ok(nil)

	case protocol.PingPongOp:
		log.Info("ping-pong")
		return protocol.Ok(nil)

	case protocol.RegisterRingBufOp:
		if err := m.RegisterRingBuf(v.ObjIDs, m.reporter); err != nil {
			log.WithError(err).Error("failed to register ring buffer")
			return protocol.Err(err.Error())
		}
		log.WithField("obj_ids", v.ObjIDs).Info("registered ring buffer")
		return protocol.Ok(nil)

	case protocol.UnregisterRingBufOp:
		log.Info("unregistered ring buffer")
		if err := m.UnregisterRingBuf(); err != nil {
			return protocol.Err(err.Error())
		}
		return protocol.Ok(nil)

	default:
		return protocol.Err("unknown manager operation")
	}
}

func (m *Manager) handleFlowOp(flowID uint32, op protocol.FlowOperation, sidecar Sidecar) protocol.Response {
	switch v := op.(type) {
	case protocol.SkStgMapUpdateOp:
		md, ok := m.GetFlowMetadata(flowID)
		if !ok {
			return protocol.Err((&mortiseerr.FlowNotFoundError{ID: flowID}).Error())
		}
		flags, err := mapUpdateFlagsFromBits(v.Flag)
		if err != nil {
			log.WithError(err).Error("invalid bpf flags")
			return protocol.Err(err.Error())
		}
		key := nativeU32(uint32(md.LocalFD))
		if err := m.UpdateMap(md.ObjID, v.MapName, key, v.Val, flags); err != nil {
			log.WithError(err).Error("failed to update map")
			return protocol.Err(err.Error())
		}
		return protocol.Ok(nil)

	case protocol.SkStgMapLookupOp:
		md, ok := m.GetFlowMetadata(flowID)
		if !ok {
			return protocol.Err((&mortiseerr.FlowNotFoundError{ID: flowID}).Error())
		}
		key := nativeU32(uint32(md.LocalFD))
		val, err := m.LookupMap(md.ObjID, v.MapName, key)
		if err != nil {
			return protocol.Err(err.Error())
		}
		return protocol.Ok(val)

	case protocol.ConnectOp:
		newFlowID, err := m.Connect(v.Pid, v.ObjID, v.SkFd, v.DefaultAppInfo)
		if err != nil {
			log.WithError(err).Error("failed to connect flow")
			return protocol.Err(err.Error())
		}
		if sidecar != nil {
			log.WithField("flow_id", newFlowID).Info("notifying sidecar of connect")
			sidecar.NotifyFlow(protocol.ConnectNotification(newFlowID))
		}
		return protocol.Ok(beU32(newFlowID))

	case protocol.DisconnectOp:
		err := m.Disconnect(flowID)
		if sidecar != nil {
			sidecar.NotifyFlow(protocol.DisconnectNotification(flowID))
		}
		if err != nil {
			return protocol.Err(err.Error())
		}
		return protocol.Ok(nil)

	case protocol.QoEUpdateOp:
		// QoE samples are consumed by the IPC broker's per-connection
		// smoother before a Flow operation ever reaches the manager
		// (spec.md §4.F); this arm is unreachable in practice.
		_ = v
		return protocol.Ok(nil)

	default:
		return protocol.Err("unknown flow operation")
	}
}

func beU32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}

// mapUpdateFlagsFromBits validates the wire flag bits against the known
// BPF_ANY/BPF_NOEXIST/BPF_EXIST set, matching BpfMapFlags::from_bits's
// rejection of unknown bits.
func mapUpdateFlagsFromBits(bits uint64) (ebpf.MapUpdateFlags, error) {
	const known = uint64(ebpf.UpdateAny | ebpf.UpdateNoExist | ebpf.UpdateExist)
	if bits&^known != 0 {
		return 0, mortiseerr.ErrInvalidBpfFlags
	}
	return ebpf.MapUpdateFlags(bits), nil
}
