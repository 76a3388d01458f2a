// Package qoe implements the quality-of-experience feedback loop: the
// per-frame scoring formulas and sliding-window smoother from
// mortise-common/src/qoe.rs, plus the fixed-layout AppInfo value written
// into a loaded object's sk_stg_map on Connect.
package qoe

import "encoding/binary"

// AppInfo is the per-socket scratch value a struct_ops program reads to
// learn the application's requested behavior (req) and report back its
// own decision (resp). It is written with native byte order because it
// is read directly by a BPF program on the same host, not decoded by a
// cross-architecture peer (spec.md §3, contrasted with the big-endian
// client-facing ids in the control protocol).
type AppInfo struct {
	Req  uint64
	Resp uint64
}

// Bytes returns the 16-byte native-endian encoding matching the
// #[repr(C)] Plain layout the original struct_ops program expects.
func (a AppInfo) Bytes() []byte {
	buf := make([]byte, 16)
	binary.NativeEndian.PutUint64(buf[0:8], a.Req)
	binary.NativeEndian.PutUint64(buf[8:16], a.Resp)
	return buf
}
