// Package defs holds types and constants shared across every kernel
// subsystem: the Linux errno table, device identifiers, and the small
// scalar types (Err_t, Tid_t, Pid_t) that syscall-facing APIs pass around
// instead of a Go error.
package defs

import "strconv"

/// Err_t is a Linux-ABI result: zero or positive is success, negative is
/// -errno. Every syscall-facing function in the kernel returns an Err_t
/// instead of a Go error so that the syscall dispatcher can hand the value
/// to userspace unmodified.
type Err_t int

// Centralized errno table. Linux-compatible values; no subsystem may define
// its own copy of any of these.
const (
	EPERM        Err_t = 1
	ENOENT       Err_t = 2
	ESRCH        Err_t = 3
	EINTR        Err_t = 4
	EIO          Err_t = 5
	ENXIO        Err_t = 6
	E2BIG        Err_t = 7
	EBADF        Err_t = 9
	ECHILD       Err_t = 10
	EAGAIN       Err_t = 11
	ENOMEM       Err_t = 12
	EACCES       Err_t = 13
	EFAULT       Err_t = 14
	EBUSY        Err_t = 16
	EEXIST       Err_t = 17
	EXDEV        Err_t = 18
	ENODEV       Err_t = 19
	ENOTDIR      Err_t = 20
	EISDIR       Err_t = 21
	EINVAL       Err_t = 22
	ENFILE       Err_t = 23
	EMFILE       Err_t = 24
	ENOTTY       Err_t = 25
	EFBIG        Err_t = 27
	ENOSPC       Err_t = 28
	ESPIPE       Err_t = 29
	EROFS        Err_t = 30
	EMLINK       Err_t = 31
	EPIPE        Err_t = 32
	ERANGE       Err_t = 34
	ENOSYS       Err_t = 38
	ENOTEMPTY    Err_t = 39
	ELOOP        Err_t = 40
	ENAMETOOLONG Err_t = 36
	ENOTSOCK     Err_t = 88
	ETIMEDOUT    Err_t = 110
	// ENOHEAP is not a Linux errno; it is biscuit's idiom for "the kernel
	// ran out of its own bookkeeping heap mid-operation" (distinct from
	// ENOMEM, which covers user-visible allocation failure). Kept for the
	// same reason the teacher keeps it: a caller-resumable user-copy loop
	// needs to distinguish "no user pages" from "no kernel heap" so it can
	// retry after a reclaim pass instead of failing the syscall outright.
	ENOHEAP Err_t = 4096
)

/// Errstr returns a short textual name for an Err_t, for panic and log
/// messages. Returns "errno %d" for values without a name.
func (e Err_t) Errstr() string {
	switch -e {
	case EPERM:
		return "EPERM"
	case ENOENT:
		return "ENOENT"
	case ESRCH:
		return "ESRCH"
	case EINTR:
		return "EINTR"
	case EIO:
		return "EIO"
	case ENXIO:
		return "ENXIO"
	case E2BIG:
		return "E2BIG"
	case EBADF:
		return "EBADF"
	case ECHILD:
		return "ECHILD"
	case EAGAIN:
		return "EAGAIN"
	case ENOMEM:
		return "ENOMEM"
	case EACCES:
		return "EACCES"
	case EFAULT:
		return "EFAULT"
	case EBUSY:
		return "EBUSY"
	case EEXIST:
		return "EEXIST"
	case EXDEV:
		return "EXDEV"
	case ENODEV:
		return "ENODEV"
	case ENOTDIR:
		return "ENOTDIR"
	case EISDIR:
		return "EISDIR"
	case EINVAL:
		return "EINVAL"
	case ENFILE:
		return "ENFILE"
	case EMFILE:
		return "EMFILE"
	case ENOTTY:
		return "ENOTTY"
	case EFBIG:
		return "EFBIG"
	case ENOSPC:
		return "ENOSPC"
	case ESPIPE:
		return "ESPIPE"
	case EROFS:
		return "EROFS"
	case EMLINK:
		return "EMLINK"
	case EPIPE:
		return "EPIPE"
	case ERANGE:
		return "ERANGE"
	case ENOSYS:
		return "ENOSYS"
	case ENOTEMPTY:
		return "ENOTEMPTY"
	case ELOOP:
		return "ELOOP"
	case ENAMETOOLONG:
		return "ENAMETOOLONG"
	case ENOTSOCK:
		return "ENOTSOCK"
	case ETIMEDOUT:
		return "ETIMEDOUT"
	case ENOHEAP:
		return "ENOHEAP"
	}
	if e == 0 {
		return "OK"
	}
	return "errno " + strconv.Itoa(int(-e))
}

/// Tid_t identifies a schedulable thread of execution.
type Tid_t int

/// Pid_t identifies a process (the task group leader's Tid_t).
type Pid_t int

// AT_FDCWD is the sentinel directory fd meaning "relative to the current
// working directory", per spec.md §6.
const AT_FDCWD int = -100
