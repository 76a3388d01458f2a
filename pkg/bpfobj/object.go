// Package bpfobj is the Object Adapter: a thin typed facade over a loaded
// kernel object (struct_ops CCA), grounded on the teacher's own
// ebpf.LoadCollectionSpec/LoadAndAssign idiom in the netobserv agent's
// pkg/ebpf/tracer.go, generalized from a single compiled-in program to an
// arbitrary object loaded by path at runtime.
package bpfobj

import (
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/mortise-project/mortise-manager/pkg/mortiseerr"
	"github.com/mortise-project/mortise-manager/pkg/protocol"
)

// state tracks whether an Object has been promoted from Open to Loaded.
// The two states are mutually exclusive, as spec.md §4.A requires.
type state int

const (
	stateOpen state = iota
	stateLoaded
)

// Object is a single loaded (or open-only) kernel artifact: the path it
// came from, its attached struct_ops links, its ConnectOption snapshot,
// and the per-flow inner maps it owns.
type Object struct {
	Path  string
	state state

	spec *ebpf.CollectionSpec // valid only in stateOpen
	coll *ebpf.Collection     // valid only in stateLoaded

	links     map[string]*structOpsLink      // map name -> attached link
	option    *protocol.ConnectOption        // immutable snapshot taken at Load
	innerMaps map[uint32][]*ebpf.Map         // flow id -> inner maps this object owns for it
}

// Open parses path into a CollectionSpec without touching the kernel,
// mirroring ObjectBuilder::open_file in the original implementation.
func Open(path string) (*Object, error) {
	spec, err := ebpf.LoadCollectionSpec(path)
	if err != nil {
		return nil, fmt.Errorf("opening object %s: %w", path, err)
	}
	return &Object{
		Path:  path,
		state: stateOpen,
		spec:  spec,
	}, nil
}

// Load promotes an open object to a kernel-resident collection, consuming
// the open spec. opt is cloned and retained so Disconnect can still be
// driven even if the caller mutates or drops its own copy.
func (o *Object) Load(opt *protocol.ConnectOption) error {
	if o.state != stateOpen {
		return fmt.Errorf("object %s is not open", o.Path)
	}
	coll, err := ebpf.NewCollectionWithOptions(o.spec, ebpf.CollectionOptions{})
	if err != nil {
		return fmt.Errorf("loading object %s: %w", o.Path, err)
	}
	o.coll = coll
	o.spec = nil
	o.state = stateLoaded
	o.option = opt.Clone()
	o.links = make(map[string]*structOpsLink)
	o.innerMaps = make(map[uint32][]*ebpf.Map)
	return nil
}

// ConnectOption returns the immutable snapshot captured at Load time, or
// nil if none was given.
func (o *Object) ConnectOption() *protocol.ConnectOption {
	return o.option
}

// Map returns the named map of a loaded object.
func (o *Object) Map(name string) (*ebpf.Map, error) {
	if o.state != stateLoaded {
		return nil, &mortiseerr.ObjectNotFoundError{}
	}
	m, ok := o.coll.Maps[name]
	if !ok {
		return nil, &mortiseerr.MapNotFoundError{Name: name}
	}
	return m, nil
}

// InnerMaps returns the inner maps this object holds for flowID.
func (o *Object) InnerMaps(flowID uint32) ([]*ebpf.Map, bool) {
	maps, ok := o.innerMaps[flowID]
	return maps, ok
}

// SetInnerMaps records the inner maps created for a newly connected flow.
// Invariant: inner maps for a flow exist iff the flow is registered
// against this object (spec.md §3).
func (o *Object) SetInnerMaps(flowID uint32, maps []*ebpf.Map) {
	o.innerMaps[flowID] = maps
}

// RemoveInnerMaps closes and forgets the inner maps owned for flowID, if
// any. It is a no-op if the flow never had inner maps on this object.
func (o *Object) RemoveInnerMaps(flowID uint32) {
	maps, ok := o.innerMaps[flowID]
	if !ok {
		return
	}
	for _, m := range maps {
		_ = m.Close()
	}
	delete(o.innerMaps, flowID)
}

// AttachStructOps walks the object's maps, identifies those of type
// struct_ops, and records the resulting links keyed by map name.
// Re-calling it closes and discards the previously recorded links first.
func (o *Object) AttachStructOps() error {
	if o.state != stateLoaded {
		return fmt.Errorf("object %s is not loaded", o.Path)
	}
	for name, l := range o.links {
		_ = l.Close()
		delete(o.links, name)
	}
	links := make(map[string]*structOpsLink)
	for name, m := range o.coll.Maps {
		if m.Type() != ebpf.StructOpsMap {
			continue
		}
		l, err := attachStructOps(name, m)
		if err != nil {
			for _, existing := range links {
				_ = existing.Close()
			}
			return fmt.Errorf("attaching struct_ops map %s: %w", name, err)
		}
		links[name] = l
	}
	o.links = links
	return nil
}

// Close tears the object down in the order spec.md §4.A and object.rs's
// Drop impl require: inner maps for every remaining flow first, then
// struct_ops links, then the backing collection.
func (o *Object) Close() error {
	if o.state != stateLoaded {
		return nil
	}
	for flowID := range o.innerMaps {
		o.RemoveInnerMaps(flowID)
	}
	for name, l := range o.links {
		_ = l.Close()
		delete(o.links, name)
	}
	o.coll.Close()
	return nil
}
