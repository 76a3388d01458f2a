package bpfobj

import (
	"fmt"

	"github.com/cilium/ebpf"
)

// NoPrealloc mirrors libbpf_rs::libbpf_sys::BPF_F_NO_PREALLOC, used when
// creating inner scratch maps on connect so the kernel doesn't pre-commit
// memory for entries that may never be used.
const NoPrealloc = 1 << 0

// NewInnerMap creates a fresh hash-typed map with 4-byte keys (flow ids),
// the declared per-entry value size, and capacity, matching the outer-map
// descriptor's contract (spec.md §6): BPF_F_NO_PREALLOC, 4-byte keys,
// caller-declared value size. It is not attached to any outer map yet;
// the caller stores its fd into the outer map themselves.
func NewInnerMap(name string, valueSize, maxEntries uint32) (*ebpf.Map, error) {
	m, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       name,
		Type:       ebpf.Hash,
		KeySize:    4,
		ValueSize:  valueSize,
		MaxEntries: maxEntries,
		Flags:      NoPrealloc,
	})
	if err != nil {
		return nil, fmt.Errorf("creating inner map %s: %w", name, err)
	}
	return m, nil
}
