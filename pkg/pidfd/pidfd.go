// Package pidfd wraps the two Linux pidfd syscalls the Flow Registry
// depends on: pidfd_open and pidfd_getfd. Neither has a wrapper in
// golang.org/x/sys/unix yet, so this mirrors the raw-syscall shape the
// teacher already uses elsewhere for kernel-facing primitives, matching
// mortise-common/src/pidfd.rs's manual syscall numbers one to one.
//
// On kernels lacking these syscalls (Linux < 5.6 for pidfd_open, < 5.6 for
// pidfd_getfd proper support), every call here fails; there is no
// portable fallback, and the manager cannot function without them.
package pidfd

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// sysPidfdOpen and sysPidfdGetfd are not exported by golang.org/x/sys/unix
// on all architectures; the numeric values below are the stable, arch
// independent syscall numbers on linux/amd64 and linux/arm64.
const (
	sysPidfdOpen  = 434
	sysPidfdGetfd = 438

	// PIDFD_NONBLOCK requests a non-blocking pidfd from pidfd_open.
	PIDFDNonblock = 0x800
)

// Open creates a file descriptor referring to the process whose pid is
// given. The close-on-exec flag is set on the returned descriptor. If
// nonblock is true, a subsequent waitid(2) on the fd returns EAGAIN
// immediately instead of blocking while the process is still alive.
func Open(pid int32, nonblock bool) (int, error) {
	flags := uintptr(0)
	if nonblock {
		flags = PIDFDNonblock
	}
	fd, _, errno := unix.Syscall(sysPidfdOpen, uintptr(pid), flags, 0)
	if errno != 0 {
		return -1, fmt.Errorf("pidfd_open(%d): %w", pid, errno)
	}
	return int(fd), nil
}

// GetFD duplicates targetFD, as seen in the process referred to by pidFD,
// into the calling process. The duplicate shares the open file
// description (offset, status flags) with the original. The close-on-exec
// flag is set on the returned descriptor.
//
// Permission to duplicate another process's file descriptor is governed
// by a ptrace access-mode check (PTRACE_MODE_ATTACH_REALCREDS); the
// manager typically needs CAP_SYS_PTRACE or to run as the same user.
func GetFD(pidFD, targetFD int) (int, error) {
	fd, _, errno := unix.Syscall(sysPidfdGetfd, uintptr(pidFD), uintptr(targetFD), 0)
	if errno != 0 {
		return -1, fmt.Errorf("pidfd_getfd(pidfd=%d, fd=%d): %w", pidFD, targetFD, errno)
	}
	return int(fd), nil
}
