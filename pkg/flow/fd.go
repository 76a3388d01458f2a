package flow

import "golang.org/x/sys/unix"

// closeFD is a best-effort close for fds borrowed from another process via
// pidfd_getfd or opened as a pidfd itself; errors are logged, not
// propagated, matching SkFdCell/PidManager's Drop impls which cannot fail
// outward either.
func closeFD(fd int32) {
	if fd < 0 {
		return
	}
	if err := unix.Close(int(fd)); err != nil {
		log.WithError(err).WithField("fd", fd).Trace("close failed")
	}
}
