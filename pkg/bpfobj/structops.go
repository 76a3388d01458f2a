package bpfobj

import (
	"fmt"

	"github.com/cilium/ebpf"
)

// structOpsLink represents one attached struct_ops map. cilium/ebpf has no
// typed helper for struct_ops attachment (unlike cgroup/tracing/xdp links):
// a struct_ops map registers itself with the kernel the moment its single
// BPF_MAP_UPDATE_ELEM populates the struct_ops record, and the
// registration stays live for exactly as long as the map's fd does, with
// no separate BPF_LINK_CREATE step or link fd involved. Attachment here is
// therefore "keep the map's fd open," matching libbpf's
// bpf_map__attach_struct_ops in spirit without needing its own handle.
type structOpsLink struct {
	mapName string
	raw     *ebpf.Map // the struct_ops map this handle was recorded for
	closed  bool
}

// attachStructOps checks that m is a struct_ops map and returns a handle
// recording it under name. It makes no syscall of its own: the policy
// module's registration lives with the map's fd, not with this handle.
func attachStructOps(name string, m *ebpf.Map) (*structOpsLink, error) {
	if m.Type() != ebpf.StructOpsMap {
		return nil, fmt.Errorf("map %s is not a struct_ops map", name)
	}
	// The kernel pins the struct_ops instance for as long as the map stays
	// open; m.Pin or m.Clone would each keep it alive independently. We
	// hold no separate fd here: attachment lifetime is tied to the map's
	// own fd, which the owning Object already keeps open.
	return &structOpsLink{mapName: name, raw: m}, nil
}

// Close marks the handle closed. Idempotent. It does not unregister the
// struct_ops map; that happens only when the owning Object closes its
// collection and with it the map's fd.
func (l *structOpsLink) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	return nil
}
