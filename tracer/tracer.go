// Package tracer drives one supervised child command under PTRACE_SYSCALL,
// walking every task it forks/clones through the syscall-stop state machine
// and handing completed syscalls to a syscalls.Decoder (spec.md §4.G).
//
// All ptrace calls for a traced process must come from the single OS thread
// that created it (the kernel ties a tracee to the tracer *thread*, not the
// process), so Run locks its goroutine to its OS thread for the lifetime of
// the trace, mirroring the raw-fork ptrace loops in the reference material
// this package is grounded on.
package tracer

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/poecap/poe/events"
	"github.com/poecap/poe/procfs"
	"github.com/poecap/poe/syscalls"
)

var log = logrus.WithField("component", "tracer")

// ptOptions is fixed, never configurable: every tracee gets the full set of
// event notifications the decoder and the process-lifecycle bookkeeping need.
const ptOptions = unix.PTRACE_O_TRACESYSGOOD |
	unix.PTRACE_O_TRACEEXEC |
	unix.PTRACE_O_TRACEEXIT |
	unix.PTRACE_O_TRACEFORK |
	unix.PTRACE_O_TRACEVFORK |
	unix.PTRACE_O_TRACECLONE |
	unix.PTRACE_O_EXITKILL

// ErrTracerConflict is returned by Run when the child (or a descendant)
// attempts to PTRACE_TRACEME or PTRACE_ATTACH itself, which the kernel
// refuses for an already-traced task. spec.md §9 classifies this as a
// Setup-class coordinator error, not a capture failure.
type ErrTracerConflict struct{ PID int }

func (e *ErrTracerConflict) Error() string {
	return fmt.Sprintf("tracer: pid %d attempted to trace itself while already traced", e.PID)
}

// Handlers receives every observation the tracer produces. All callbacks run
// synchronously on the tracer's locked OS thread; callers that need to do
// nontrivial work (store writes, symbol resolution) must hand off to their
// own goroutines rather than block here.
type Handlers struct {
	OnFile         func(events.File)
	OnNet          func(events.Net)
	OnDNS          func(events.DNS)
	OnGeneric      func(events.Event)
	OnProcessStart func(events.Process)
	OnProcessExit  func(events.Process)
	OnStateChange  func(pid int, s State)

	// OnStarted fires once, right after the root command forks and before
	// the capture loop begins, with the root pid already known. Callers use
	// it to close their copy of any stdio pipe write-ends they handed to
	// SetIO and to attach a sampler that needs the pid.
	OnStarted func(rootPID int)
}

// ExitInfo summarizes how the root command ended.
type ExitInfo struct {
	ExitCode  int
	Signal    string
	SignalNum int // 0 unless Signal is set
	Crashed   bool // true if terminated by a signal that dumps core
}

// Tracer supervises exactly one root command invocation.
type Tracer struct {
	cmd     *exec.Cmd
	decoder *syscalls.Decoder

	mu       sync.Mutex
	tasks    map[int]*taskState
	conflict error
}

// New builds a Tracer for the given command. decMode controls whether the
// underlying syscalls.Decoder records unknown syscalls (spec.md §4.F).
func New(path string, args []string, dir string, env []string, decMode syscalls.Mode) *Tracer {
	cmd := exec.Command(path, args...)
	cmd.Dir = dir
	cmd.Env = env
	return &Tracer{
		cmd:     cmd,
		decoder: syscalls.New(decMode),
		tasks:   make(map[int]*taskState),
	}
}

// SetIO wires the child's stdout/stderr directly to the given files, rather
// than the exec.Cmd default of inheriting the parent's. Passing *os.File
// lets os/exec dup the fd straight onto the child instead of copying through
// an intermediate pipe of its own.
func (t *Tracer) SetIO(stdout, stderr *os.File) {
	if stdout != nil {
		t.cmd.Stdout = stdout
	}
	if stderr != nil {
		t.cmd.Stderr = stderr
	}
}

// Run starts the child under ptrace and blocks until it (and every task it
// spawned) has exited, invoking h for every observation along the way. The
// calling goroutine is locked to its OS thread for the duration.
func (t *Tracer) Run(h Handlers) (ExitInfo, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	t.cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	if err := t.cmd.Start(); err != nil {
		return ExitInfo{}, fmt.Errorf("tracer: start: %w", err)
	}
	rootPID := t.cmd.Process.Pid

	// The child stops itself with SIGTRAP immediately after exec due to
	// PTRACE_TRACEME (set implicitly by Ptrace:true). Consume that stop and
	// install our options before letting it run.
	var status syscall.WaitStatus
	if _, err := syscall.Wait4(rootPID, &status, 0, nil); err != nil {
		return ExitInfo{}, fmt.Errorf("tracer: initial wait: %w", err)
	}
	if err := syscall.PtraceSetOptions(rootPID, ptOptions); err != nil {
		return ExitInfo{}, fmt.Errorf("tracer: set options: %w", err)
	}

	t.addTask(rootPID, nil)
	t.emitProcessStart(h, rootPID, 0)

	if h.OnStarted != nil {
		h.OnStarted(rootPID)
	}

	if err := syscall.PtraceSyscall(rootPID, 0); err != nil {
		return ExitInfo{}, fmt.Errorf("tracer: initial syscall restart: %w", err)
	}

	var info ExitInfo
	for t.liveTaskCount() > 0 {
		pid, ws, err := wait4Any()
		if err != nil {
			if err == syscall.ECHILD {
				break
			}
			return info, fmt.Errorf("tracer: wait4: %w", err)
		}

		exited, exitInfo := t.handleStop(pid, ws, h)
		if exited && pid == rootPID {
			info = exitInfo
		}
		if t.conflict != nil {
			return info, t.conflict
		}
	}

	return info, nil
}

func wait4Any() (int, syscall.WaitStatus, error) {
	var ws syscall.WaitStatus
	pid, err := syscall.Wait4(-1, &ws, syscall.WALL, nil)
	return pid, ws, err
}

// handleStop classifies one wait4 stop and advances that task's state
// machine, returning (true, info) only when this stop was the task's final
// exit (and exitInfo is meaningful only for the root task).
func (t *Tracer) handleStop(pid int, ws syscall.WaitStatus, h Handlers) (bool, ExitInfo) {
	switch {
	case ws.Exited():
		t.decoder.Reset(pid)
		t.emitProcessExit(h, pid, ws.ExitStatus(), "")
		t.removeTask(pid)
		t.setState(h, pid, StateExited)
		return true, ExitInfo{ExitCode: ws.ExitStatus()}

	case ws.Signaled():
		t.decoder.Reset(pid)
		sig := ws.Signal()
		t.emitProcessExit(h, pid, -1, sig.String())
		t.removeTask(pid)
		t.setState(h, pid, StateExited)
		return true, ExitInfo{Signal: sig.String(), SignalNum: int(sig), Crashed: dumpsCore(sig)}

	case ws.Stopped():
		t.handleStopped(pid, ws, h)
		return false, ExitInfo{}
	}
	return false, ExitInfo{}
}

func (t *Tracer) handleStopped(pid int, ws syscall.WaitStatus, h Handlers) {
	sig := ws.StopSignal()

	switch {
	case isSyscallStop(sig):
		t.handleSyscallStop(pid, h)
		_ = syscall.PtraceSyscall(pid, 0)

	case isPtraceEvent(ws):
		t.handlePtraceEvent(pid, ws, h)
		_ = syscall.PtraceSyscall(pid, 0)

	case sig == syscall.SIGSTOP || sig == syscall.SIGTSTP || sig == syscall.SIGTTIN || sig == syscall.SIGTTOU:
		t.setState(h, pid, StateGroupStop)
		_ = syscall.PtraceSyscall(pid, 0)

	default:
		// Plain signal-stop: forward the signal to the tracee unmodified
		// rather than swallowing it, so the child's own handlers still run.
		t.setState(h, pid, StateSignaled)
		_ = syscall.PtraceSyscall(pid, int(sig))
	}
}

// isSyscallStop distinguishes a syscall-stop (SIGTRAP with bit 0x80 set, via
// PTRACE_O_TRACESYSGOOD) from an ordinary SIGTRAP delivered for any other
// reason.
func isSyscallStop(sig syscall.Signal) bool {
	return sig&0x80 != 0 && (sig&^0x80) == syscall.SIGTRAP
}

func isPtraceEvent(ws syscall.WaitStatus) bool {
	return ws.StopSignal() == syscall.SIGTRAP && ws.TrapCause() != 0
}

func (t *Tracer) handleSyscallStop(pid int, h Handlers) {
	t.setState(h, pid, StateSyscallEntry)

	var regs syscalls.Regs
	if err := syscall.PtraceGetRegs(pid, &regs); err != nil {
		log.WithError(err).WithField("pid", pid).Warn("getregs failed at syscall-stop")
		return
	}

	const ePerm = -1

	res, ok := t.decoder.OnStop(pid, time.Now().UnixNano(), regs)
	if !ok {
		return
	}
	t.setState(h, pid, StateSyscallExit)

	if syscalls.CallNumber(regs) == syscalls.SysPtrace && syscalls.ReturnValue(regs) == ePerm {
		// The tracee tried to PTRACE_TRACEME/ATTACH while we already trace
		// it; the kernel refuses with EPERM. Surface this as a setup-class
		// error rather than silently losing visibility into the subtree.
		t.mu.Lock()
		t.conflict = &ErrTracerConflict{PID: pid}
		t.mu.Unlock()
	}

	switch {
	case res.File != nil:
		if h.OnFile != nil {
			h.OnFile(*res.File)
		}
	case res.Net != nil:
		if h.OnNet != nil {
			h.OnNet(*res.Net)
		}
	case res.Generic != nil:
		if h.OnGeneric != nil {
			h.OnGeneric(*res.Generic)
		}
	}
	// DNS rides alongside a Net record (a sendto/recvfrom to/from port 53
	// is both a network event and, if it parses, a DNS message), so it is
	// dispatched independently of the mutually-exclusive switch above.
	if res.DNS != nil && h.OnDNS != nil {
		h.OnDNS(*res.DNS)
	}
}

func (t *Tracer) handlePtraceEvent(pid int, ws syscall.WaitStatus, h Handlers) {
	t.setState(h, pid, StatePtraceEvent)

	switch ws.TrapCause() {
	case unix.PTRACE_EVENT_FORK, unix.PTRACE_EVENT_VFORK, unix.PTRACE_EVENT_CLONE:
		newPID, err := syscall.PtraceGetEventMsg(pid)
		if err != nil {
			log.WithError(err).WithField("pid", pid).Warn("getEventMsg failed on fork/clone event")
			return
		}
		child := int(newPID)
		t.addTask(child, &pid)
		t.emitProcessStart(h, child, pid)
		// The new task is already stopped (PTRACE_O_TRACE{FORK,VFORK,CLONE}
		// implies it inherits tracing); let it proceed like any other task.
		_ = syscall.PtraceSyscall(child, 0)

	case unix.PTRACE_EVENT_EXEC:
		t.decoder.Reset(pid)
		if cwd, err := procfs.Cwd(pid); err == nil {
			t.setCwd(pid, cwd)
		}

	case unix.PTRACE_EVENT_EXIT:
		// The task is about to exit; the terminal wait4(Exited/Signaled)
		// stop still follows and is where we record the lifecycle event.
	}
}

func dumpsCore(sig syscall.Signal) bool {
	switch sig {
	case syscall.SIGQUIT, syscall.SIGILL, syscall.SIGABRT, syscall.SIGFPE,
		syscall.SIGSEGV, syscall.SIGBUS, syscall.SIGTRAP, syscall.SIGSYS:
		return true
	}
	return false
}

func (t *Tracer) addTask(pid int, parent *int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks[pid] = &taskState{pid: pid, state: StateRunning}
}

func (t *Tracer) removeTask(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tasks, pid)
}

func (t *Tracer) setCwd(pid int, cwd string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ts, ok := t.tasks[pid]; ok {
		ts.cwd = cwd
	}
}

func (t *Tracer) liveTaskCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}

func (t *Tracer) setState(h Handlers, pid int, s State) {
	t.mu.Lock()
	if ts, ok := t.tasks[pid]; ok {
		ts.state = s
	}
	t.mu.Unlock()
	if h.OnStateChange != nil {
		h.OnStateChange(pid, s)
	}
}

func (t *Tracer) emitProcessStart(h Handlers, pid, parent int) {
	if h.OnProcessStart == nil {
		return
	}
	argv, _ := procfs.Cmdline(pid)
	cwd, _ := procfs.Cwd(pid)
	h.OnProcessStart(events.Process{
		TaskID:    pid,
		TID:       pid,
		ParentID:  parent,
		Argv:      argv,
		Cwd:       cwd,
		StartedAt: time.Now(),
	})
}

func (t *Tracer) emitProcessExit(h Handlers, pid, exitCode int, sig string) {
	if h.OnProcessExit == nil {
		return
	}
	h.OnProcessExit(events.Process{
		TaskID:   pid,
		TID:      pid,
		ExitCode: exitCode,
		Signal:   sig,
		EndedAt:  time.Now(),
	})
}

// RootPID returns the root command's pid once Run has started it.
func (t *Tracer) RootPID() int {
	if t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}
