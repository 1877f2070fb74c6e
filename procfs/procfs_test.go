package procfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMapLine(t *testing.T) {
	line := "55a1b2c3d000-55a1b2c3e000 r-xp 00001000 08:01 131082 /usr/bin/cat"
	e, err := parseMapLine(line)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x55a1b2c3d000), e.Start)
	assert.Equal(t, uint64(0x55a1b2c3e000), e.End)
	assert.Equal(t, "r-xp", e.Perms)
	assert.Equal(t, uint64(0x1000), e.Offset)
	assert.Equal(t, "/usr/bin/cat", e.Path)
}

func TestParseMapLineAnonymous(t *testing.T) {
	line := "7f0000000000-7f0000021000 rw-p 00000000 00:00 0"
	e, err := parseMapLine(line)
	require.NoError(t, err)
	assert.Empty(t, e.Path)
}

func TestModuleFor(t *testing.T) {
	entries := []MapEntry{
		{Start: 0x1000, End: 0x2000, Offset: 0x100, Path: "/lib/libc.so"},
		{Start: 0x2000, End: 0x3000, Path: ""},
	}
	e, off, ok := ModuleFor(entries, 0x1010)
	require.True(t, ok)
	assert.Equal(t, "/lib/libc.so", e.Path)
	assert.Equal(t, uint64(0x110), off)

	_, _, ok = ModuleFor(entries, 0x2500)
	assert.False(t, ok, "anonymous mapping must not resolve a module")
}
