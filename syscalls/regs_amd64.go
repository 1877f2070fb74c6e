//go:build amd64

package syscalls

import "syscall"

// Regs is the architecture's ptrace register snapshot. Field names follow
// syscall.PtraceRegs; wrapping it in a local alias keeps the rest of this
// package portable across the amd64/arm64 build-tagged files.
type Regs = syscall.PtraceRegs
