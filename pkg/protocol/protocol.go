// Package protocol defines the JSON wire contract spoken over the
// control socket and the analytics sidecar socket.
//
// The original mortise components (this manager, the traffic client, the
// analytics sidecar) are written against Rust's serde_json, whose default
// enum representation is "externally tagged": a unit variant serializes as
// a bare string ("Disconnect"), and a variant carrying fields serializes as
// a single-key object ({"Load": {"path": "...", "option": null}}). This
// package reproduces that representation by hand so any non-Go component
// speaking the wire format keeps working unmodified. One difference: a nil
// optional field (such as LoadOp.Option) is omitted when encoding rather
// than written as null; decoding accepts either form.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// OuterMapDescriptor names one outer map-in-map an object exposes for
// per-flow scratch maps, and the shape of the inner maps created on connect.
type OuterMapDescriptor struct {
	// Mim is the outer map's name, as declared in the loaded object.
	Mim string `json:"mim"`
	// Name is an optional human-readable label for the inner maps; unused
	// by the kernel side but carried for diagnostics.
	Name *string `json:"name,omitempty"`
	// ValueSize is the per-entry value size of each inner map, in bytes.
	ValueSize uint32 `json:"value_size"`
	// MaxEntries bounds the inner map's capacity.
	MaxEntries uint32 `json:"max_entries"`
}

// ConnectOption snapshots which outer maps an object wants populated on
// every Connect. Immutable once an object is loaded.
type ConnectOption struct {
	SkArrayMaps []OuterMapDescriptor `json:"sk_array_maps"`
}

// Clone returns a deep copy, so the manager can keep driving Disconnect
// even after a caller mutates or forgets the option it passed to Load.
func (c *ConnectOption) Clone() *ConnectOption {
	if c == nil {
		return nil
	}
	out := &ConnectOption{SkArrayMaps: make([]OuterMapDescriptor, len(c.SkArrayMaps))}
	copy(out.SkArrayMaps, c.SkArrayMaps)
	return out
}

// FrameQoE is one client-reported quality-of-experience sample. Durations
// travel as microseconds on the wire (Rust's serde has no native Duration
// encoding; the traffic client already sends them this way).
type FrameQoE struct {
	ServerSend      uint64 `json:"server_send"`
	ClientRecv      uint64 `json:"client_recv"`
	ServerRecv      uint64 `json:"server_recv"`
	Size            uint64 `json:"size"`
	FrameIntervalUs uint64 `json:"frame_interval_us"`
	FrameID         uint64 `json:"frame_id"`
}

// ManagerOperation is the tagged union of operations that do not target a
// specific flow.
type ManagerOperation interface {
	isManagerOperation()
}

type LoadOp struct {
	Path   string         `json:"path"`
	Option *ConnectOption `json:"option,omitempty"`
}

type UnloadOp struct {
	ObjID uint32 `json:"obj_id"`
}

type InsertOp struct {
	ObjID  uint32         `json:"obj_id"`
	Path   string         `json:"path"`
	Option *ConnectOption `json:"option,omitempty"`
}

type ShutdownOp struct{}
type PingPongOp struct{}

type RegisterRingBufOp struct {
	ObjIDs []uint32 `json:"obj_ids"`
}

type UnregisterRingBufOp struct{}

func (LoadOp) isManagerOperation()              {}
func (UnloadOp) isManagerOperation()             {}
func (InsertOp) isManagerOperation()             {}
func (ShutdownOp) isManagerOperation()           {}
func (PingPongOp) isManagerOperation()           {}
func (RegisterRingBufOp) isManagerOperation()    {}
func (UnregisterRingBufOp) isManagerOperation()  {}

// FlowOperation is the tagged union of operations addressed at a single
// flow id.
type FlowOperation interface {
	isFlowOperation()
}

type SkStgMapUpdateOp struct {
	MapName string    `json:"map_name"`
	Val     ByteSlice `json:"val"`
	Flag    uint64    `json:"flag"`
}

type SkStgMapLookupOp struct {
	MapName string `json:"map_name"`
}

type ConnectOp struct {
	ObjID          uint32  `json:"obj_id"`
	SkFd           int32   `json:"sk_fd"`
	Pid            int32   `json:"pid"`
	DefaultAppInfo *uint64 `json:"default_app_info,omitempty"`
}

type DisconnectOp struct{}

type QoEUpdateOp struct {
	QoE FrameQoE `json:"qoe"`
}

func (SkStgMapUpdateOp) isFlowOperation() {}
func (SkStgMapLookupOp) isFlowOperation() {}
func (ConnectOp) isFlowOperation()        {}
func (DisconnectOp) isFlowOperation()     {}
func (QoEUpdateOp) isFlowOperation()      {}

// FlowEnvelope pairs a flow id with the operation to run against it.
type FlowEnvelope struct {
	FlowID uint32
	Op     FlowOperation
}

// Operation is the top-level tagged union received on the control socket:
// either a Manager operation or a Flow operation addressed by flow id.
type Operation struct {
	Manager ManagerOperation
	Flow    *FlowEnvelope
}

// PyOperation is the JSON shape of flow-lifecycle notifications pushed to
// the analytics sidecar (distinct from the raw ring-buffer byte records
// also sent over that link).
type PyOperation struct {
	Kind   string
	FlowID uint32
}

const (
	PyOpConnect    = "Connect"
	PyOpDisconnect = "Disconnect"
)

func ConnectNotification(flowID uint32) PyOperation    { return PyOperation{Kind: PyOpConnect, FlowID: flowID} }
func DisconnectNotification(flowID uint32) PyOperation { return PyOperation{Kind: PyOpDisconnect, FlowID: flowID} }

func (p PyOperation) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{p.Kind: map[string]any{"flow_id": p.FlowID}})
}

// ByteSlice marshals as a JSON array of numbers rather than
// encoding/json's default base64-string treatment of []byte, matching
// serde_json's representation of Vec<u8>. Every byte payload that
// crosses the wire (Response.Ok, SkStgMapUpdateOp.Val) uses this type
// instead of a bare []byte so a non-Go component reading or writing
// the same socket sees the array form it expects.
type ByteSlice []byte

func (b ByteSlice) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(b))
	for i, v := range b {
		ints[i] = int(v)
	}
	return json.Marshal(ints)
}

func (b *ByteSlice) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make(ByteSlice, len(ints))
	for i, v := range ints {
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// Response is the JSON envelope returned for every request: either the
// success bytes or a human-readable error string, mirroring Rust's
// Result<Vec<u8>, String> serde representation
// ({"Ok": [0,0,0,1]}/{"Err": "..."}).
type Response struct {
	Ok    ByteSlice
	Err   string
	IsErr bool
}

func Ok(b []byte) Response    { return Response{Ok: ByteSlice(b)} }
func Err(msg string) Response { return Response{Err: msg, IsErr: true} }

func (r Response) MarshalJSON() ([]byte, error) {
	if r.IsErr {
		return json.Marshal(map[string]any{"Err": r.Err})
	}
	return json.Marshal(map[string]any{"Ok": r.Ok})
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if raw, ok := m["Err"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*r = Err(s)
		return nil
	}
	if raw, ok := m["Ok"]; ok {
		var b ByteSlice
		if err := json.Unmarshal(raw, &b); err != nil {
			return err
		}
		*r = Ok(b)
		return nil
	}
	return fmt.Errorf("response envelope has neither Ok nor Err key")
}

// --- externally-tagged enum marshaling ---

func (op Operation) MarshalJSON() ([]byte, error) {
	if op.Flow != nil {
		return json.Marshal(map[string]any{"Flow": struct {
			FlowID uint32        `json:"flow_id"`
			Op     flowOpWrapper `json:"op"`
		}{FlowID: op.Flow.FlowID, Op: flowOpWrapper{op.Flow.Op}}})
	}
	return json.Marshal(map[string]any{"Manager": managerOpWrapper{op.Manager}})
}

func (op *Operation) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if raw, ok := m["Flow"]; ok {
		var env struct {
			FlowID uint32          `json:"flow_id"`
			Op     json.RawMessage `json:"op"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("decoding flow envelope: %w", err)
		}
		fop, err := decodeFlowOp(env.Op)
		if err != nil {
			return err
		}
		op.Flow = &FlowEnvelope{FlowID: env.FlowID, Op: fop}
		return nil
	}
	if raw, ok := m["Manager"]; ok {
		mop, err := decodeManagerOp(raw)
		if err != nil {
			return err
		}
		op.Manager = mop
		return nil
	}
	return fmt.Errorf("operation envelope has neither Manager nor Flow key")
}

type managerOpWrapper struct{ op ManagerOperation }

func (w managerOpWrapper) MarshalJSON() ([]byte, error) {
	switch v := w.op.(type) {
	case ShutdownOp:
		return json.Marshal("Shutdown")
	case PingPongOp:
		return json.Marshal("PingPong")
	case UnregisterRingBufOp:
		return json.Marshal("UnregisterRingBuf")
	case LoadOp:
		return json.Marshal(map[string]any{"Load": v})
	case UnloadOp:
		return json.Marshal(map[string]any{"Unload": v})
	case InsertOp:
		return json.Marshal(map[string]any{"Insert": v})
	case RegisterRingBufOp:
		return json.Marshal(map[string]any{"RegisterRingBuf": v})
	default:
		return nil, fmt.Errorf("unknown manager operation %T", w.op)
	}
}

func decodeManagerOp(raw json.RawMessage) (ManagerOperation, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var tag string
		if err := json.Unmarshal(trimmed, &tag); err != nil {
			return nil, err
		}
		switch tag {
		case OpShutdown:
			return ShutdownOp{}, nil
		case OpPingPong:
			return PingPongOp{}, nil
		case OpUnregisterRingBuf:
			return UnregisterRingBufOp{}, nil
		default:
			return nil, fmt.Errorf("unknown manager operation tag %q", tag)
		}
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, fmt.Errorf("decoding manager operation: %w", err)
	}
	for tag, body := range m {
		switch tag {
		case OpLoad:
			var v LoadOp
			if err := json.Unmarshal(body, &v); err != nil {
				return nil, err
			}
			return v, nil
		case OpUnload:
			var v UnloadOp
			if err := json.Unmarshal(body, &v); err != nil {
				return nil, err
			}
			return v, nil
		case OpInsert:
			var v InsertOp
			if err := json.Unmarshal(body, &v); err != nil {
				return nil, err
			}
			return v, nil
		case OpRegisterRingBuf:
			var v RegisterRingBufOp
			if err := json.Unmarshal(body, &v); err != nil {
				return nil, err
			}
			return v, nil
		default:
			return nil, fmt.Errorf("unknown manager operation tag %q", tag)
		}
	}
	return nil, fmt.Errorf("empty manager operation object")
}

type flowOpWrapper struct{ op FlowOperation }

func (w flowOpWrapper) MarshalJSON() ([]byte, error) {
	switch v := w.op.(type) {
	case DisconnectOp:
		return json.Marshal("Disconnect")
	case SkStgMapUpdateOp:
		return json.Marshal(map[string]any{"SkStgMapUpdate": v})
	case SkStgMapLookupOp:
		return json.Marshal(map[string]any{"SkStgMapLookup": v})
	case ConnectOp:
		return json.Marshal(map[string]any{"Connect": v})
	case QoEUpdateOp:
		return json.Marshal(map[string]any{"QoEUpdate": v})
	default:
		return nil, fmt.Errorf("unknown flow operation %T", w.op)
	}
}

func decodeFlowOp(raw json.RawMessage) (FlowOperation, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var tag string
		if err := json.Unmarshal(trimmed, &tag); err != nil {
			return nil, err
		}
		if tag == FlowOpDisconnect {
			return DisconnectOp{}, nil
		}
		return nil, fmt.Errorf("unknown flow operation tag %q", tag)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, fmt.Errorf("decoding flow operation: %w", err)
	}
	for tag, body := range m {
		switch tag {
		case FlowOpSkStgMapUpdate:
			var v SkStgMapUpdateOp
			if err := json.Unmarshal(body, &v); err != nil {
				return nil, err
			}
			return v, nil
		case FlowOpSkStgMapLookup:
			var v SkStgMapLookupOp
			if err := json.Unmarshal(body, &v); err != nil {
				return nil, err
			}
			return v, nil
		case FlowOpConnect:
			var v ConnectOp
			if err := json.Unmarshal(body, &v); err != nil {
				return nil, err
			}
			return v, nil
		case FlowOpQoEUpdate:
			var v QoEUpdateOp
			if err := json.Unmarshal(body, &v); err != nil {
				return nil, err
			}
			return v, nil
		default:
			return nil, fmt.Errorf("unknown flow operation tag %q", tag)
		}
	}
	return nil, fmt.Errorf("empty flow operation object")
}

const (
	OpLoad              = "Load"
	OpUnload            = "Unload"
	OpInsert            = "Insert"
	OpShutdown          = "Shutdown"
	OpPingPong          = "PingPong"
	OpRegisterRingBuf   = "RegisterRingBuf"
	OpUnregisterRingBuf = "UnregisterRingBuf"
)

const (
	FlowOpSkStgMapUpdate = "SkStgMapUpdate"
	FlowOpSkStgMapLookup = "SkStgMapLookup"
	FlowOpConnect        = "Connect"
	FlowOpDisconnect     = "Disconnect"
	FlowOpQoEUpdate      = "QoEUpdate"
)

// Decode parses a length-delimited JSON frame's body into an Operation.
func Decode(body []byte) (Operation, error) {
	var op Operation
	if err := json.Unmarshal(body, &op); err != nil {
		return Operation{}, fmt.Errorf("decoding operation: %w", err)
	}
	return op, nil
}

// Encode serializes a response envelope for the wire.
func Encode(resp Response) ([]byte, error) {
	b, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	return b, nil
}
