//go:build amd64

package syscalls

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryRegs(num uint64, args ...uint64) Regs {
	var r syscall.PtraceRegs
	r.Orig_rax = num
	errno := int64(enosys)
	r.Rax = uint64(errno)
	if len(args) > 0 {
		r.Rdi = args[0]
	}
	if len(args) > 1 {
		r.Rsi = args[1]
	}
	if len(args) > 2 {
		r.Rdx = args[2]
	}
	return r
}

func exitRegs(ret int64) Regs {
	var r syscall.PtraceRegs
	r.Rax = uint64(ret)
	return r
}

func TestDecoderPairsEntryAndExit(t *testing.T) {
	d := New(ModeNormal)

	_, ok := d.OnStop(100, 1, entryRegs(sysClose, 5))
	require.False(t, ok, "entry stop must not yet produce a result")

	res, ok := d.OnStop(100, 2, exitRegs(0))
	require.True(t, ok)
	require.NotNil(t, res.File)
	assert.Equal(t, int64(0), res.File.Result)
	assert.Equal(t, 5, res.File.FD)
}

func TestDecoderResetDropsPending(t *testing.T) {
	d := New(ModeNormal)
	_, ok := d.OnStop(200, 1, entryRegs(sysRead, 3))
	require.False(t, ok)

	d.Reset(200)

	// A fresh entry for the same pid after Reset must behave as an entry
	// again, not be misread as the completion of the dropped call.
	_, ok = d.OnStop(200, 2, entryRegs(sysWrite, 4))
	require.False(t, ok)
}

func TestDecoderUnknownSyscallIgnoredInNormalMode(t *testing.T) {
	d := New(ModeNormal)
	_, ok := d.OnStop(300, 1, entryRegs(999999, 0))
	require.False(t, ok)
	res, ok := d.OnStop(300, 2, exitRegs(0))
	require.True(t, ok)
	assert.Nil(t, res.File)
	assert.Nil(t, res.Net)
	assert.Nil(t, res.Generic)
}

func TestDecoderUnknownSyscallRecordedInFullMode(t *testing.T) {
	d := New(ModeFull)
	_, ok := d.OnStop(300, 1, entryRegs(999999, 0))
	require.False(t, ok)
	res, ok := d.OnStop(300, 2, exitRegs(0))
	require.True(t, ok)
	require.NotNil(t, res.Generic)
}
