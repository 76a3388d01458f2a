// Package flow implements the Flow Registry: per-(pid, remote-fd)
// ownership of duplicated local file descriptors, keyed by a monotonically
// increasing flow id. It is the Go translation of
// mortise-manager/src/core.rs's FlowManager/PidManager/SkFdCell, kept
// single-threaded by convention (the Manager Core is the only caller, and
// it runs on one goroutine — spec.md §5) the same way the teacher's
// pkg/flow types assume external synchronization rather than locking
// internally.
package flow

import (
	"github.com/mortise-project/mortise-manager/pkg/mortiseerr"
	"github.com/mortise-project/mortise-manager/pkg/pidfd"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "flow.Registry")

// pidfdOpen and pidfdGetFD indirect the real syscalls so tests can run
// without a live target pid to duplicate fds from.
var (
	pidfdOpen  = pidfd.Open
	pidfdGetFD = pidfd.GetFD
)

// Metadata is the user-space shadow of one managed TCP connection.
type Metadata struct {
	Pid      int32
	RemoteFD int32
	LocalFD  int32
	ObjID    uint32
	FlowID   uint32
}

// pidEntry groups every flow belonging to one remote pid.
type pidEntry struct {
	pidFD     int
	remoteFDs map[int32]*Metadata // remote fd -> metadata (same pointer as byFlowID's value)
}

// Registry is the pair of indices (pid -> pidEntry, flow id -> Metadata)
// plus the monotonically increasing flow-id counter.
type Registry struct {
	byPid    map[int32]*pidEntry
	byFlowID map[uint32]*Metadata
	nextID   uint32
}

// NewRegistry returns an empty registry. Flow ids start at 1: 0 is never
// issued, so callers can use it as a "no flow" sentinel.
func NewRegistry() *Registry {
	return &Registry{
		byPid:    make(map[int32]*pidEntry),
		byFlowID: make(map[uint32]*Metadata),
	}
}

// Contains reports whether (pid, remoteFD) is already registered.
func (r *Registry) Contains(pid, remoteFD int32) bool {
	entry, ok := r.byPid[pid]
	if !ok {
		return false
	}
	_, ok = entry.remoteFDs[remoteFD]
	return ok
}

// Insert registers a new flow for (pid, remoteFD) against objID. If the
// pair is already registered, it returns the existing flow id and
// existed=true instead of erroring — this is the Go-idiomatic rendering
// of FlowConnected (spec.md §4.B / §7): the caller (Manager Core) treats
// it as success, not failure.
func (r *Registry) Insert(pid, remoteFD int32, objID uint32) (flowID uint32, existed bool, err error) {
	entry, ok := r.byPid[pid]
	if !ok {
		fd, err := pidfdOpen(pid, false)
		if err != nil {
			log.WithError(err).WithField("pid", pid).Error("failed to open pidfd")
			return 0, false, err
		}
		entry = &pidEntry{pidFD: fd, remoteFDs: make(map[int32]*Metadata)}
		r.byPid[pid] = entry
	}

	if existing, ok := entry.remoteFDs[remoteFD]; ok {
		log.WithFields(logrus.Fields{"pid": pid, "remote_fd": remoteFD}).
			Warn("remote fd already connected")
		return existing.FlowID, true, nil
	}

	localFD, err := pidfdGetFD(entry.pidFD, int(remoteFD))
	if err != nil {
		log.WithError(err).Error("pidfd_getfd failed")
		return 0, false, err
	}

	r.nextID++
	md := &Metadata{
		Pid:      pid,
		RemoteFD: remoteFD,
		LocalFD:  int32(localFD),
		ObjID:    objID,
		FlowID:   r.nextID,
	}
	entry.remoteFDs[remoteFD] = md
	r.byFlowID[r.nextID] = md
	return r.nextID, false, nil
}

// Remove drops flowID from both indices, closing its local fd, and
// discards the owning pid entry (closing its pidfd) once it becomes
// empty.
func (r *Registry) Remove(flowID uint32) (*Metadata, bool) {
	md, ok := r.byFlowID[flowID]
	if !ok {
		return nil, false
	}
	delete(r.byFlowID, flowID)
	if entry, ok := r.byPid[md.Pid]; ok {
		delete(entry.remoteFDs, md.RemoteFD)
		closeFD(md.LocalFD)
		if len(entry.remoteFDs) == 0 {
			closeFD(int32(entry.pidFD))
			delete(r.byPid, md.Pid)
		}
	}
	return md, true
}

// Lookup returns the metadata for flowID, if registered.
func (r *Registry) Lookup(flowID uint32) (*Metadata, bool) {
	md, ok := r.byFlowID[flowID]
	return md, ok
}

// Len reports how many flows are currently registered, used by tests.
func (r *Registry) Len() int {
	return len(r.byFlowID)
}

// ErrFlowNotFound is returned by callers that need a typed error for a
// missing flow id rather than Remove/Lookup's ok-bool form.
func ErrFlowNotFound(flowID uint32) error {
	return &mortiseerr.FlowNotFoundError{ID: flowID}
}
