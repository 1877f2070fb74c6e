//go:build arm64

package syscalls

// ARM64 syscall numbers, per include/uapi/asm-generic/unistd.h (arm64 uses
// the generic table). Per spec.md §1, ARM64 is "a parallel port of the
// decoder tables, not a design change" — this file currently ports only
// the subset exercised by the end-to-end scenarios in spec.md §8;
// extending it to the full amd64 table (table_amd64.go) is the concrete
// remaining follow-up.
const (
	sysOpenat      = 56
	sysClose       = 57
	sysRead        = 63
	sysWrite       = 64
	sysReadlinkat  = 78
	sysNewfstatat  = 79
	sysFstat       = 80
	sysTruncate    = 45
	sysFtruncate   = 46
	sysFchmod      = 52
	sysFchmodat    = 53
	sysFaccessat   = 48
	sysFchownat    = 54
	sysFchown      = 55
	sysUnlinkat    = 35
	sysSymlinkat   = 36
	sysLinkat      = 37
	sysRenameat2   = 276
	sysMkdirat     = 34
	sysSocket      = 198
	sysConnect     = 203
	sysAccept      = 202
	sysAccept4     = 242
	sysSendto      = 206
	sysRecvfrom    = 207
	sysSendmsg     = 211
	sysRecvmsg     = 212
	sysShutdown    = 210
	sysBind        = 200
	sysListen      = 201
	sysGetsockname = 204
	sysGetpeername = 205

	// Retired on arm64's generic table (always via *at syscalls); kept at
	// -1 so the classification switch never matches them.
	sysOpen       = -1
	sysStat       = -1
	sysLstat      = -1
	sysAccess     = -1
	sysRename     = -1
	sysMkdir      = -1
	sysUnlink     = -1
	sysSymlink    = -1
	sysReadlink   = -1
	sysChmod      = -1
	sysChown      = -1
	sysLink       = -1
	sysFaccessat2 = -1
	sysRenameat   = -1
	sysFutimesat  = -1

	// SysPtrace is exported for the tracer's self-trace conflict check.
	SysPtrace = 117
)

// CallNumber and ReturnValue mirror table_amd64.go for arm64's register
// layout: x8 holds the syscall number, x0 the return value.
func CallNumber(regs Regs) uint64 { return regs.Regs[8] }
func ReturnValue(regs Regs) int64 { return int64(regs.Regs[0]) }
func Arg(regs Regs, n int) uint64 {
	if n < 0 || n > 5 {
		return 0
	}
	return regs.Regs[n]
}
