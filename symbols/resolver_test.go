package symbols

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymTableLookup(t *testing.T) {
	tbl := &symTable{syms: []elfSym{
		{addr: 0x1000, size: 0x50, name: "foo"},
		{addr: 0x2000, size: 0x20, name: "bar"},
	}}

	name, off := tbl.lookup(0x1010)
	assert.Equal(t, "foo", name)
	assert.Equal(t, uint64(0x10), off)

	name, off = tbl.lookup(0x2005)
	assert.Equal(t, "bar", name)
	assert.Equal(t, uint64(5), off)

	name, _ = tbl.lookup(0x10)
	assert.Empty(t, name, "address before the first symbol resolves to nothing")
}

func TestResolveUnmappedAddressIsSafe(t *testing.T) {
	r, err := New(8)
	require.NoError(t, err)

	// pid 1<<30 is above any real pid limit, so its maps cannot be read;
	// Resolve must degrade to an unresolved frame rather than erroring.
	f := r.Resolve(1<<30, 0xdeadbeef)
	assert.Equal(t, uint64(0xdeadbeef), f.Addr)
	assert.Empty(t, f.Module)
}
