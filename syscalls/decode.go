// Package syscalls decodes a stopped task's syscall-stop into a typed
// File, Net, DNS or generic event (spec.md §4.F). Entry/exit discrimination uses
// the return-register sentinel: at entry the kernel has already set the
// return register to -ENOSYS; at exit it holds the real return value.
// This is robust across exec (which resets any per-task phase toggle) at
// the cost of misclassifying a syscall that genuinely returns -ENOSYS,
// which spec.md §9 accepts as an acceptable rare edge case.
package syscalls

import (
	"sync"

	"github.com/poecap/poe/events"
)

const enosys = -38

// pendingCall is the snapshot taken at syscall-entry, held until the
// matching exit stop completes the pair.
type pendingCall struct {
	num  uint64
	args [6]uint64
}

// Decoder is the single owner of per-task entry/exit pairing state; only
// the tracer thread may call into it (spec.md §9, "single owner of the
// pid→task-state map").
type Decoder struct {
	mu      sync.Mutex
	pending map[int]*pendingCall
	mode    Mode
}

// Mode controls whether unknown syscalls are recorded at all.
type Mode int

const (
	ModeNormal Mode = iota // unknown syscalls are silently ignored
	ModeFull                // unknown syscalls are recorded as generic events
)

// New returns a Decoder. mode controls how unknown syscall numbers are
// handled (spec.md §4.F: "Unknown numbers are recorded as generic events
// only in full mode").
func New(mode Mode) *Decoder {
	return &Decoder{pending: make(map[int]*pendingCall), mode: mode}
}

// Result is what OnStop produces for one completed (entry, exit) pair.
type Result struct {
	File    *events.File
	Net     *events.Net
	Generic *events.Event
	DNS     *events.DNS // set alongside Net when a sendto/recvfrom carries a decoded DNS message
}

// OnStop processes one syscall-stop for pid. tsNS is the stop's timestamp.
// It returns (Result{}, false) while still waiting for the matching half of
// a pair (i.e. this stop was the entry half).
func (d *Decoder) OnStop(pid int, tsNS int64, regs Regs) (Result, bool) {
	ret := ReturnValue(regs)

	d.mu.Lock()
	pc, entering := d.pending[pid]
	d.mu.Unlock()

	if !entering || pc == nil {
		if int64(int32(ret)) == enosys {
			// Entry half: snapshot the call number and raw arguments.
			var args [6]uint64
			for i := range args {
				args[i] = Arg(regs, i)
			}
			d.mu.Lock()
			d.pending[pid] = &pendingCall{num: CallNumber(regs), args: args}
			d.mu.Unlock()
			return Result{}, false
		}
		// Exit stop with no recorded entry (e.g. we attached mid-syscall);
		// nothing to pair against.
		return Result{}, false
	}

	// Exit half: pc holds the entry snapshot, ret is the real return value.
	d.mu.Lock()
	delete(d.pending, pid)
	d.mu.Unlock()

	return d.classify(pid, tsNS, pc, ret), true
}

// Reset drops any pending entry for pid, called on exec (which invalidates
// in-flight argument addresses) and on task exit.
func (d *Decoder) Reset(pid int) {
	d.mu.Lock()
	delete(d.pending, pid)
	d.mu.Unlock()
}
