// Package manager is the Manager Core (spec.md §4.C): the single
// authority over loaded objects and registered flows, grounded on
// mortise-manager/src/core.rs's MortiseManager. Every exported method
// here assumes single-goroutine ownership, the same way the teacher's
// flow.MapTracer assumes a single consumer draining its ring buffer —
// callers (the IPC broker) serialize access by running the Manager on
// its own dedicated goroutine (Run, below) rather than locking.
package manager

import (
	"encoding/binary"
	"errors"
	"fmt"
	"syscall"

	"github.com/cilium/ebpf"
	"github.com/mortise-project/mortise-manager/pkg/bpfobj"
	"github.com/mortise-project/mortise-manager/pkg/flow"
	"github.com/mortise-project/mortise-manager/pkg/metrics"
	"github.com/mortise-project/mortise-manager/pkg/mortiseerr"
	"github.com/mortise-project/mortise-manager/pkg/protocol"
	"github.com/mortise-project/mortise-manager/pkg/qoe"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "manager")

// Manager owns every opened/loaded object and the flow registry, mapping
// directly onto MortiseManager's fields.
type Manager struct {
	objID    uint32
	objs     map[uint32]*bpfobj.Object // loaded
	openObjs map[uint32]*bpfobj.Object // open but not loaded
	flows    *flow.Registry
	rb       *ringBufManager
	reporter Reporter
	metrics  *metrics.Metrics
}

// SetReporter installs the sink every future RegisterRingBuf call wires
// new pump goroutines to. Set once at boot, before the Manager is handed
// off to its dispatch goroutine.
func (m *Manager) SetReporter(rep Reporter) {
	m.reporter = rep
}

// SetMetrics installs the collector set future object/flow lifecycle
// events are recorded against. A nil Manager.metrics is valid: every
// call site below checks for it, so metrics stay opt-in (spec.md's
// Non-goals exclude a mandated observability stack, but the ambient
// stack is carried regardless, per the teacher's own pattern).
func (m *Manager) SetMetrics(metrics *metrics.Metrics) {
	m.metrics = metrics
}

// New returns an empty Manager. Resource limits are raised once at
// process boot (cmd/mortise-manager), not per Manager instance, since a
// process only ever owns one.
func New() *Manager {
	return &Manager{
		objs:     make(map[uint32]*bpfobj.Object),
		openObjs: make(map[uint32]*bpfobj.Object),
		flows:    flow.NewRegistry(),
	}
}

// OpenObject parses path into a new open object and assigns it the next
// obj id.
func (m *Manager) OpenObject(path string) (uint32, error) {
	obj, err := bpfobj.Open(path)
	if err != nil {
		return 0, err
	}
	m.objID++
	m.openObjs[m.objID] = obj
	return m.objID, nil
}

// InsertObject is OpenObject with a caller-supplied obj id; the manager's
// id counter is bumped to stay ahead of it so future OpenObject calls
// never collide, mirroring insert_object's std::cmp::max.
func (m *Manager) InsertObject(objID uint32, path string) (uint32, error) {
	obj, err := bpfobj.Open(path)
	if err != nil {
		return 0, err
	}
	if objID > m.objID {
		m.objID = objID
	}
	m.openObjs[objID] = obj
	return objID, nil
}

// CloseObject discards an open (not-yet-loaded) object without loading it.
func (m *Manager) CloseObject(objID uint32) error {
	if _, ok := m.openObjs[objID]; !ok {
		return &mortiseerr.ObjectNotFoundError{ID: objID}
	}
	delete(m.openObjs, objID)
	return nil
}

// LoadObject promotes an open object to a loaded, struct_ops-attached one.
func (m *Manager) LoadObject(objID uint32, option *protocol.ConnectOption) error {
	obj, ok := m.openObjs[objID]
	if !ok {
		return &mortiseerr.ObjectNotFoundError{ID: objID}
	}
	delete(m.openObjs, objID)
	if err := obj.Load(option); err != nil {
		return err
	}
	if err := obj.AttachStructOps(); err != nil {
		return err
	}
	m.objs[objID] = obj
	if m.metrics != nil {
		m.metrics.ObjectLoaded()
	}
	return nil
}

// OpenAndLoadObject is the Load manager operation: open, then load, in
// one step, returning the freshly assigned obj id.
func (m *Manager) OpenAndLoadObject(path string, option *protocol.ConnectOption) (uint32, error) {
	objID, err := m.OpenObject(path)
	if err != nil {
		return 0, err
	}
	if err := m.LoadObject(objID, option); err != nil {
		return 0, err
	}
	return objID, nil
}

// InsertAndLoadObject is the Insert manager operation: open at a
// caller-chosen obj id, then load it.
func (m *Manager) InsertAndLoadObject(objID uint32, path string, option *protocol.ConnectOption) (uint32, error) {
	if _, err := m.InsertObject(objID, path); err != nil {
		return 0, err
	}
	if err := m.LoadObject(objID, option); err != nil {
		return 0, err
	}
	return objID, nil
}

// UnloadObject tears a loaded object down. It does not check whether any
// flows are still registered against objID: Unload-while-flows-attached
// is undefended in the original and left that way here (spec.md §9(a),
// DESIGN.md) — a flow left pointing at an unloaded object's inner maps
// is the caller's problem, not this call's.
func (m *Manager) UnloadObject(objID uint32) error {
	obj, ok := m.objs[objID]
	if !ok {
		return &mortiseerr.ObjectNotFoundError{ID: objID}
	}
	delete(m.objs, objID)
	if m.metrics != nil {
		m.metrics.ObjectUnloaded()
	}
	return obj.Close()
}

// GetObject returns the loaded object for objID.
func (m *Manager) GetObject(objID uint32) (*bpfobj.Object, error) {
	obj, ok := m.objs[objID]
	if !ok {
		return nil, &mortiseerr.ObjectNotFoundError{ID: objID}
	}
	return obj, nil
}

// GetOpenObject returns the open (not loaded) object for objID.
func (m *Manager) GetOpenObject(objID uint32) (*bpfobj.Object, error) {
	obj, ok := m.openObjs[objID]
	if !ok {
		return nil, &mortiseerr.ObjectNotFoundError{ID: objID}
	}
	return obj, nil
}

// UpdateMap writes key/val into mapName on objID's loaded collection.
func (m *Manager) UpdateMap(objID uint32, mapName string, key, val []byte, flags ebpf.MapUpdateFlags) error {
	obj, err := m.GetObject(objID)
	if err != nil {
		return err
	}
	bpfMap, err := obj.Map(mapName)
	if err != nil {
		return err
	}
	if err := bpfMap.Update(key, val, flags); err != nil {
		return fmt.Errorf("updating map %s: %w", mapName, err)
	}
	return nil
}

// LookupMap reads key from mapName on objID's loaded collection.
func (m *Manager) LookupMap(objID uint32, mapName string, key []byte) ([]byte, error) {
	obj, err := m.GetObject(objID)
	if err != nil {
		return nil, err
	}
	bpfMap, err := obj.Map(mapName)
	if err != nil {
		return nil, err
	}
	val, err := bpfMap.LookupBytes(key)
	if err != nil {
		return nil, fmt.Errorf("looking up map %s: %w", mapName, err)
	}
	if val == nil {
		return nil, &mortiseerr.ElemNotFoundError{Name: mapName}
	}
	return val, nil
}

// GetFlowMetadata returns the registry entry for flowID.
func (m *Manager) GetFlowMetadata(flowID uint32) (*flow.Metadata, bool) {
	return m.flows.Lookup(flowID)
}

// Shutdown tears down the ring buffer pump and every loaded/open object,
// in that order, matching MortiseManager::shutdown.
func (m *Manager) Shutdown() error {
	if err := m.UnregisterRingBuf(); err != nil {
		return err
	}
	for objID, obj := range m.objs {
		if err := obj.Close(); err != nil {
			log.WithError(err).WithField("obj_id", objID).Warn("error closing object during shutdown")
		}
		delete(m.objs, objID)
	}
	for objID := range m.openObjs {
		delete(m.openObjs, objID)
	}
	return nil
}

// Connect registers a new flow for (pid, skFD) against objID, wiring any
// declared per-flow scratch maps and, if requested, a default AppInfo
// value into sk_stg_map. An already-connected (pid, skFD) pair returns
// its existing flow id rather than erroring (spec.md §4.B/§7).
func (m *Manager) Connect(pid int32, objID uint32, skFD int32, defaultAppInfo *uint64) (uint32, error) {
	flowID, existed, err := m.flows.Insert(pid, skFD, objID)
	if err != nil {
		return 0, err
	}
	if existed {
		return flowID, nil
	}
	if m.metrics != nil {
		m.metrics.FlowConnected()
	}
	md, _ := m.flows.Lookup(flowID)
	obj, err := m.GetObject(objID)
	if err != nil {
		return 0, err
	}
	opt := obj.ConnectOption()
	if opt != nil && len(opt.SkArrayMaps) > 0 {
		if err := m.wireScratchMaps(obj, md, flowID, opt); err != nil {
			return 0, err
		}
	}
	if defaultAppInfo != nil {
		appInfoMap, err := obj.Map("sk_stg_map")
		if err != nil {
			return 0, err
		}
		info := qoe.AppInfo{Req: *defaultAppInfo, Resp: 0}
		key := nativeU32(uint32(md.LocalFD))
		if err := appInfoMap.Update(key, info.Bytes(), ebpf.UpdateAny); err != nil {
			return 0, fmt.Errorf("updating sk_stg_map: %w", err)
		}
	}
	return flowID, nil
}

// wireScratchMaps creates one inner hash map per declared outer map
// descriptor, stores each inner map's fd into the outer map keyed by
// flow id (native byte order: this is kernel-to-kernel, not wire
// traffic), and records local_sk_fd -> flow_id in flow_id_stg.
func (m *Manager) wireScratchMaps(obj *bpfobj.Object, md *flow.Metadata, flowID uint32, opt *protocol.ConnectOption) error {
	newMaps := make([]*ebpf.Map, 0, len(opt.SkArrayMaps))
	for _, desc := range opt.SkArrayMaps {
		outer, err := obj.Map(desc.Mim)
		if err != nil {
			return err
		}
		inner, err := bpfobj.NewInnerMap(desc.Mim+"_inner", desc.ValueSize, desc.MaxEntries)
		if err != nil {
			return err
		}
		newMaps = append(newMaps, inner)
		key := nativeU32(flowID)
		val := nativeU32(uint32(inner.FD()))
		if err := outer.Update(key, val, ebpf.UpdateAny); err != nil {
			log.WithError(err).WithField("map", desc.Mim).Error("failed to update outer map")
			if errors.Is(err, syscall.E2BIG) {
				return mortiseerr.ErrExceedsMaxEntries
			}
			return fmt.Errorf("updating outer map %s: %w", desc.Mim, err)
		}
	}
	obj.SetInnerMaps(flowID, newMaps)

	flowIDMap, err := obj.Map("flow_id_stg")
	if err != nil {
		return err
	}
	key := nativeU32(uint32(md.LocalFD))
	val := nativeU32(flowID)
	if err := flowIDMap.Update(key, val, ebpf.UpdateAny); err != nil {
		return fmt.Errorf("updating flow_id_stg: %w", err)
	}
	return nil
}

// Disconnect releases flowID: removes it from the registry (closing its
// local fd) and deletes its entries from any declared scratch maps.
func (m *Manager) Disconnect(flowID uint32) error {
	md, ok := m.flows.Remove(flowID)
	if !ok {
		return nil
	}
	if m.metrics != nil {
		m.metrics.FlowDisconnected()
	}
	obj, err := m.GetObject(md.ObjID)
	if err != nil {
		return err
	}
	opt := obj.ConnectOption()
	if opt != nil && len(opt.SkArrayMaps) > 0 {
		for _, desc := range opt.SkArrayMaps {
			outer, err := obj.Map(desc.Mim)
			if err != nil {
				return err
			}
			key := nativeU32(flowID)
			if err := outer.Delete(key); err != nil {
				log.WithError(err).WithField("map", desc.Mim).Warn("failed to delete outer map entry")
			}
		}
		obj.RemoveInnerMaps(flowID)
	}
	return nil
}

func nativeU32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.NativeEndian.PutUint32(buf, v)
	return buf
}
