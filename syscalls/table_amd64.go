//go:build amd64

package syscalls

// x86_64 syscall numbers the decoder classifies, per arch/x86/entry/syscalls/syscall_64.tbl.
const (
	sysRead          = 0
	sysWrite         = 1
	sysOpen          = 2
	sysClose         = 3
	sysStat          = 4
	sysFstat         = 5
	sysLstat         = 6
	sysAccess        = 21
	sysSocket        = 41
	sysConnect       = 42
	sysAccept        = 43
	sysSendto        = 44
	sysRecvfrom      = 45
	sysSendmsg       = 46
	sysRecvmsg       = 47
	sysShutdown      = 48
	sysBind          = 49
	sysListen        = 50
	sysGetsockname   = 51
	sysGetpeername   = 52
	sysTruncate      = 76
	sysFtruncate     = 77
	sysRename        = 82
	sysMkdir         = 83
	sysUnlink        = 87
	sysSymlink       = 88
	sysReadlink      = 89
	sysChmod         = 90
	sysFchmod        = 91
	sysChown         = 92
	sysFchown        = 93
	sysLink          = 86
	sysAccept4       = 288
	sysOpenat        = 257
	sysMkdirat       = 258
	sysFchownat      = 260
	sysFutimesat     = 261
	sysNewfstatat    = 262
	sysUnlinkat      = 263
	sysRenameat      = 264
	sysLinkat        = 265
	sysSymlinkat     = 266
	sysReadlinkat    = 267
	sysFchmodat      = 268
	sysFaccessat     = 269
	sysRenameat2     = 316
	sysFaccessat2    = 439

	// SysPtrace is exported for the tracer's self-trace conflict check.
	SysPtrace = 101
)

// CallNumber and ReturnValue extract the syscall number and return value
// from the PTRACE_GETREGS register snapshot at entry/exit respectively.
func CallNumber(regs Regs) uint64   { return regs.Orig_rax }
func ReturnValue(regs Regs) int64   { return int64(regs.Rax) }
func Arg(regs Regs, n int) uint64 {
	switch n {
	case 0:
		return regs.Rdi
	case 1:
		return regs.Rsi
	case 2:
		return regs.Rdx
	case 3:
		return regs.R10
	case 4:
		return regs.R8
	case 5:
		return regs.R9
	}
	return 0
}
