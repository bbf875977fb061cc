// Package sched implements the single-hart, cooperative task scheduler
// (a task switches only when it yields, blocks or exits; the timer tick
// does not preempt the running task): round-robin over Ready tasks, FIFO wait queues keyed by
// condition, and the lifecycle operations (spawn/exit/waitpid/yield_now)
// spec.md §4.6 names. Grounded on the teacher's tinfo/tinfo.go for the
// per-task note fields (Killed/Isdoomed/Killnaps, kept under the same
// names) and on internal/accnt for the per-task accounting a Task_t
// carries.
//
// Task execution vehicle: the teacher maps one biscuit process directly
// onto one goroutine of its *forked* Go runtime, whose scheduler already
// understands kernel-style task switching. LevitateOS deliberately does
// not fork the runtime (see DESIGN.md), so it cannot reuse that trick, and
// hand-rolling a raw stack-pointer-swapping context switch would corrupt
// the stock runtime's own bookkeeping for the goroutine whose stack is
// being repurposed (stack-growth checks and the g register assume a
// goroutine's stack is only ever resumed by the runtime itself). Instead
// each Task_t is backed by one ordinary goroutine gated by a pair of
// unbuffered-semantics channels: Schedule() hands control to exactly one
// task's channel at a time, so only one task ever runs, matching spec.md
// §5's "at any moment at most one Task runs" model while staying inside
// the safe, unforked runtime. cmd/kernel disables the runtime's
// asynchronous goroutine preemption at boot (GOMAXPROCS(1) plus the
// `//go:debug asyncpreemptoff=1` directive) so a task's goroutine is never
// involuntarily suspended by the Go scheduler at a point this package did
// not choose.
package sched

import (
	"sync"

	"levitateos/internal/accnt"
	"levitateos/internal/defs"
	"levitateos/internal/fd"
	"levitateos/internal/limits"
	"levitateos/internal/timer"
	"levitateos/internal/trap"
	"levitateos/internal/vm"
)

// State is a task's scheduling state.
type State int

const (
	StateReady State = iota
	StateRunning
	StateBlocked
	StateZombie
)

// Task_t is one schedulable thread of execution: the kernel's notion of a
// process, since LevitateOS does not implement a separate thread/process
// distinction beyond what spec.md's clone() handler needs.
type Task_t struct {
	Tid   defs.Tid_t
	Pid   defs.Pid_t
	State State

	As *vm.AddressSpace_t

	// resume is signaled by Schedule to let this task's goroutine proceed
	// and is the channel this task blocks on when it is not Running.
	resume chan struct{}

	Parent   *Task_t
	children []*Task_t

	Killed   bool
	Isdoomed bool
	Killnaps struct {
		Killch chan bool
		Kerr   defs.Err_t
	}

	Accnt    accnt.Accnt_t
	ExitCode int

	// FdMu guards Fds, the dense per-Task descriptor vector spec.md §4.9
	// names: index N is fd N, a nil entry is a closed slot reused by the
	// next open. Cwd is the task's current-working-directory pointer.
	FdMu sync.Mutex
	Fds  []*fd.Fd_t
	Cwd  *fd.Cwd_t

	// FSBase is the x86_64 thread-local-storage base arch_prctl's
	// ARCH_SET_FS/ARCH_GET_FS pair manipulates. Loading it into the FS_BASE
	// MSR on context switch is internal/boot's job once that low-level
	// entry assembly exists; tracked here regardless since it is otherwise
	// indistinguishable from any other piece of per-task register state.
	FSBase uintptr

	waitq WaitQueue
}

// AddFd installs f at the lowest unused descriptor number, growing the
// table if every existing slot is occupied, and returns that number.
func (t *Task_t) AddFd(f *fd.Fd_t) int {
	t.FdMu.Lock()
	defer t.FdMu.Unlock()
	for i, slot := range t.Fds {
		if slot == nil {
			t.Fds[i] = f
			return i
		}
	}
	t.Fds = append(t.Fds, f)
	return len(t.Fds) - 1
}

// GetFd returns the descriptor at n, or -EBADF if n is out of range or
// closed.
func (t *Task_t) GetFd(n int) (*fd.Fd_t, defs.Err_t) {
	t.FdMu.Lock()
	defer t.FdMu.Unlock()
	if n < 0 || n >= len(t.Fds) || t.Fds[n] == nil {
		return nil, -defs.EBADF
	}
	return t.Fds[n], 0
}

// SetFd installs f at exactly slot n (dup2/dup3 semantics), growing the
// table as needed and closing whatever previously occupied n.
func (t *Task_t) SetFd(n int, f *fd.Fd_t) defs.Err_t {
	if n < 0 {
		return -defs.EBADF
	}
	t.FdMu.Lock()
	defer t.FdMu.Unlock()
	for len(t.Fds) <= n {
		t.Fds = append(t.Fds, nil)
	}
	if old := t.Fds[n]; old != nil {
		old.Fops.Close()
	}
	t.Fds[n] = f
	return 0
}

// CloseFd closes and clears the descriptor at n.
func (t *Task_t) CloseFd(n int) defs.Err_t {
	t.FdMu.Lock()
	defer t.FdMu.Unlock()
	if n < 0 || n >= len(t.Fds) || t.Fds[n] == nil {
		return -defs.EBADF
	}
	err := t.Fds[n].Fops.Close()
	t.Fds[n] = nil
	return err
}

// closeAllFds tears down every open descriptor, per spec.md §4.6's exit
// contract ("closes all FDs"). Close failures are not fatal to a task that
// is already exiting.
func (t *Task_t) closeAllFds() {
	t.FdMu.Lock()
	defer t.FdMu.Unlock()
	for i, f := range t.Fds {
		if f != nil {
			f.Fops.Close()
			t.Fds[i] = nil
		}
	}
}

// WaitQueue is a FIFO of parked tasks keyed by an arbitrary condition the
// caller re-checks after being woken; spurious wakeups are tolerated by
// construction since every blocking call loops on its condition.
type WaitQueue struct {
	sync.Mutex
	parked []*Task_t
}

var (
	schedMu  sync.Mutex
	runq     []*Task_t
	current  *Task_t
	allTasks = map[defs.Tid_t]*Task_t{}
	nextTid  defs.Tid_t = 1
)

// IdleHook is called by the idle task whenever it is scheduled with
// nothing else Ready; internal/boot installs the architecture's
// halt-until-interrupt instruction (WFI on AArch64, HLT on x86_64) here.
// The default spins, which is correct but wasteful, for hosts that never
// install a real hook (including go test).
var IdleHook func() = func() {}

var idleTask *Task_t

// ResetForTest clears all package-level scheduler state. The package is a
// single-instance singleton (correct for a kernel, which only ever has one
// scheduler), so tests reset it between cases rather than constructing a
// fresh instance; exported so internal/syscalls' tests can get the same
// clean slate this package's own tests use.
func ResetForTest() {
	schedMu.Lock()
	runq = nil
	current = nil
	allTasks = map[defs.Tid_t]*Task_t{}
	nextTid = 1
	idleTask = nil
	schedMu.Unlock()
}

// ensureIdle lazily spawns the permanent idle task the first time Schedule
// runs. Unlike Spawn, the idle task gets no address space: it never leaves
// kernel context, so Schedule never issues a PageTable.Activate for it and
// it runs under whatever address space happened to be active already.
func ensureIdle() {
	schedMu.Lock()
	if idleTask != nil {
		schedMu.Unlock()
		return
	}
	tid := nextTid
	nextTid++
	t := &Task_t{
		Tid:    tid,
		Pid:    defs.Pid_t(tid),
		State:  StateReady,
		resume: make(chan struct{}),
	}
	allTasks[tid] = t
	enqueueReadyLocked(t)
	idleTask = t
	schedMu.Unlock()

	go func() {
		<-t.resume
		for {
			IdleHook()
			schedMu.Lock()
			stale := allTasks[t.Tid] != t
			schedMu.Unlock()
			if stale {
				// Superseded by a later ensureIdle (only happens under
				// test teardown, which rebuilds scheduler state); this
				// goroutine has nothing left to do.
				return
			}
			YieldNow()
		}
	}()
}

func init() {
	trap.KillHandler = killHandler
}

// Current returns the presently running task, or nil if called from
// outside any task's goroutine (the one-time bootstrap call that kicks off
// the very first dispatch).
func Current() *Task_t {
	schedMu.Lock()
	defer schedMu.Unlock()
	return current
}

func enqueueReadyLocked(t *Task_t) {
	t.State = StateReady
	runq = append(runq, t)
}

// Schedule hands control to the next Ready task. The caller is responsible
// for having already set its own State correctly (Ready for a voluntary
// yield, Blocked for a wait, Zombie for exit) and, if Ready, for having
// enqueued itself before calling in.
//
// Schedule must only ever be called either from within a task's own
// goroutine (the common case: YieldNow/Wait/Exit all call it with that
// task as the implicit caller) or exactly once from outside any task, to
// bootstrap the very first dispatch. A non-task caller must not call
// Schedule a second time; once the system is running, the permanent idle
// task (see ensureIdle) is always present to receive control when nothing
// else is Ready, and all further scheduling happens through tasks handing
// control to each other.
func Schedule() {
	self := Current()
	ensureIdle()

	schedMu.Lock()
	if len(runq) == 0 {
		// Nothing Ready: self must already be a real task (the bootstrap
		// caller never reaches here, since ensureIdle just made the idle
		// task Ready). Block until some other task's Schedule call finds
		// self in the run queue and dispatches it.
		schedMu.Unlock()
		if self == nil {
			panic("sched: Schedule found nothing ready on the bootstrap call")
		}
		<-self.resume
		return
	}
	next := runq[0]
	runq = runq[1:]
	next.State = StateRunning
	current = next
	schedMu.Unlock()

	if next == self {
		return
	}
	if next.As != nil && (self == nil || self.As != next.As) {
		next.As.Pt.Activate()
	}
	next.resume <- struct{}{}
	if self != nil {
		<-self.resume
	}
}

// YieldNow voluntarily gives up the remainder of the current task's
// quantum.
func YieldNow() {
	schedMu.Lock()
	t := current
	if t != nil {
		enqueueReadyLocked(t)
	}
	schedMu.Unlock()
	Schedule()
}

// Wait enqueues the current task on q, marks it Blocked, and yields.
// Callers must re-check their condition in a loop after Wait returns.
func Wait(q *WaitQueue) {
	t := Current()
	schedMu.Lock()
	t.State = StateBlocked
	schedMu.Unlock()

	q.Lock()
	q.parked = append(q.parked, t)
	q.Unlock()

	Schedule()
}

// WakeAll moves every task parked on q to Ready.
func WakeAll(q *WaitQueue) {
	q.Lock()
	parked := q.parked
	q.parked = nil
	q.Unlock()

	schedMu.Lock()
	for _, t := range parked {
		enqueueReadyLocked(t)
	}
	schedMu.Unlock()
}

type sleeper struct {
	task     *Task_t
	deadline int64
}

var (
	sleepMu       sync.Mutex
	sleepers      []sleeper
	sleepHookOnce sync.Once
)

// SleepUntil blocks the calling task until timer.UptimeNs nanoseconds since
// boot reaches deadlineNs, per spec.md §4.7's nanosleep handler. The first
// call installs a timer.Subscribe sweep (timer.go's own doc comment on
// UptimeNs names this as internal/sched's job); every tick thereafter wakes
// whichever sleepers have reached their deadline, tolerating up to one tick
// period of early or late wakeup the way a jiffies-based kernel always has.
func SleepUntil(deadlineNs int64) {
	sleepHookOnce.Do(func() { timer.Subscribe(wakeSleepersPastDeadline) })

	t := Current()
	sleepMu.Lock()
	sleepers = append(sleepers, sleeper{task: t, deadline: deadlineNs})
	sleepMu.Unlock()

	schedMu.Lock()
	t.State = StateBlocked
	schedMu.Unlock()
	Schedule()
}

// wakeSleepersPastDeadline is called from the timer tick's interrupt
// context (already running with the architecture's interrupts masked, per
// the per-arch trap trampoline); it must not block.
func wakeSleepersPastDeadline() {
	now := timer.UptimeNs()
	sleepMu.Lock()
	var remaining []sleeper
	var woken []*Task_t
	for _, s := range sleepers {
		if now >= s.deadline {
			woken = append(woken, s.task)
		} else {
			remaining = append(remaining, s)
		}
	}
	sleepers = remaining
	sleepMu.Unlock()

	if len(woken) == 0 {
		return
	}
	schedMu.Lock()
	for _, t := range woken {
		enqueueReadyLocked(t)
	}
	schedMu.Unlock()
}

// Spawn allocates a Task and an address space, registers it as a child of
// parent, and enqueues it Ready to run body. setup, if non-nil, runs after
// the Task_t is constructed but before it is made visible to the scheduler
// (added to allTasks and the run queue) — the only safe place for a caller
// to install Fds/Cwd or anything else the task's own goroutine must see
// fully formed the instant it first runs. body is the task's entire
// execution: for a user task it ends by invoking trap.EnterUser(entry,
// usp), which does not return until the task traps back into the kernel;
// for the kernel's own bookkeeping tasks it is whatever Go function the
// caller supplies. internal/elfload's Load plus internal/userinit compose
// on top of Spawn to implement spec.md's ELF-backed spawn(); this function
// only provides the Task_t/scheduling half.
func Spawn(parent *Task_t, setup func(*Task_t), body func()) (*Task_t, defs.Err_t) {
	schedMu.Lock()
	if len(allTasks) >= limits.Syslimit.Sysprocs {
		schedMu.Unlock()
		return nil, -defs.ENOMEM
	}
	tid := nextTid
	nextTid++
	schedMu.Unlock()

	as, err := vm.New()
	if err != 0 {
		return nil, err
	}

	t := &Task_t{
		Tid:    tid,
		Pid:    defs.Pid_t(tid),
		State:  StateReady,
		As:     as,
		Parent: parent,
		resume: make(chan struct{}),
	}
	t.Killnaps.Killch = make(chan bool, 1)
	if setup != nil {
		setup(t)
	}

	schedMu.Lock()
	allTasks[tid] = t
	if parent != nil {
		parent.children = append(parent.children, t)
	}
	enqueueReadyLocked(t)
	schedMu.Unlock()

	go func() {
		<-t.resume
		body()
		Exit(0)
	}()
	return t, 0
}

// Exit closes every open FD, unmaps the task's user address space and
// frees its page table down to the root frame, marks the task Zombie,
// stores status, and wakes a waiting parent — spec.md §4.6's exit
// contract in full.
func Exit(status int) {
	t := Current()
	t.closeAllFds()
	if t.As != nil {
		t.As.Lock()
		vmas := t.As.Region.Slice()
		t.As.Unlock()
		for _, vma := range vmas {
			t.As.Unmap(vma.Start, vma.Len)
		}
		// Every VMA's leaf frames and the intermediate tables that mapped
		// them are gone by now; only the (already-empty) root table frame
		// is left to return.
		t.As.Pt.Destroy()
	}

	schedMu.Lock()
	t.State = StateZombie
	t.ExitCode = status
	schedMu.Unlock()

	if t.Parent != nil {
		WakeAll(&t.Parent.waitq)
	}
	Schedule()
}

// Waitpid blocks until a child matching pid (0 meaning "any child") is
// Zombie, then reaps it and returns its exit status. -ECHILD if the
// caller has no matching child at all.
func Waitpid(pid defs.Pid_t) (defs.Pid_t, int, defs.Err_t) {
	t := Current()
	for {
		schedMu.Lock()
		var zombie *Task_t
		found := false
		for i, c := range t.children {
			if pid != 0 && c.Pid != pid {
				continue
			}
			found = true
			if c.State == StateZombie {
				zombie = c
				t.children = append(t.children[:i], t.children[i+1:]...)
				break
			}
		}
		if !found {
			schedMu.Unlock()
			return 0, 0, -defs.ECHILD
		}
		if zombie != nil {
			delete(allTasks, zombie.Tid)
			schedMu.Unlock()
			return zombie.Pid, zombie.ExitCode, 0
		}
		schedMu.Unlock()
		Wait(&t.waitq)
	}
}

// TaskSample is one task's identity and accounting data, as handed out by
// Snapshot; a copy, not a live reference, so a caller walking it never
// needs to take schedMu itself.
type TaskSample struct {
	Tid    defs.Tid_t
	Pid    defs.Pid_t
	State  State
	Userns int64
	Sysns  int64
}

// Snapshot returns one TaskSample per currently known task, for read-only
// reporting consumers like /dev/prof and /dev/stat that must not hold
// schedMu themselves or touch Task_t fields directly.
func Snapshot() []TaskSample {
	schedMu.Lock()
	tasks := make([]*Task_t, 0, len(allTasks))
	for _, t := range allTasks {
		tasks = append(tasks, t)
	}
	schedMu.Unlock()

	out := make([]TaskSample, 0, len(tasks))
	for _, t := range tasks {
		t.Accnt.Lock()
		userns, sysns := t.Accnt.Userns, t.Accnt.Sysns
		t.Accnt.Unlock()
		out = append(out, TaskSample{
			Tid:    t.Tid,
			Pid:    t.Pid,
			State:  t.State,
			Userns: userns,
			Sysns:  sysns,
		})
	}
	return out
}

// Kill marks the task identified by pid doomed. There is no forced
// wakeup of a task parked on a wait queue; a doomed task exits when
// internal/syscalls' Dispatch next finishes a system call for it.
// killHandler, used for unhandled faults, exits the faulting task at once.
func Kill(pid defs.Pid_t) defs.Err_t {
	schedMu.Lock()
	var target *Task_t
	for _, tt := range allTasks {
		if tt.Pid == pid {
			target = tt
			break
		}
	}
	if target != nil {
		target.Killed = true
		target.Isdoomed = true
	}
	schedMu.Unlock()
	if target == nil {
		return -defs.ESRCH
	}
	return 0
}

func killHandler(sig trap.Signal, f trap.Frame) {
	t := Current()
	schedMu.Lock()
	t.Killed = true
	t.Isdoomed = true
	t.ExitCode = 128 + int(sig)
	schedMu.Unlock()
	Exit(t.ExitCode)
}
