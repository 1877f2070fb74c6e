//go:build arm64

package syscalls

import "syscall"

// Regs is the architecture's ptrace register snapshot (see table_arm64.go).
type Regs = syscall.PtraceRegs
