//go:build linux

package nativering

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestRing builds a synthetic ring file with capacity entries, all
// zeroed, then fills entries [0, len(fills)) with fills and sets write_pos.
func writeTestRing(t *testing.T, capacity uint32, writePos uint64, fills []entry) string {
	t.Helper()
	buf := make([]byte, headerSize+int(capacity)*entrySize)
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], version)
	binary.LittleEndian.PutUint32(buf[8:12], capacity)
	binary.LittleEndian.PutUint64(buf[16:24], writePos)
	binary.LittleEndian.PutUint64(buf[24:32], 1000)

	for i, e := range fills {
		off := headerSize + (i%int(capacity))*entrySize
		binary.LittleEndian.PutUint64(buf[off:off+8], e.tsNS)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], e.funcAddr)
		binary.LittleEndian.PutUint64(buf[off+16:off+24], e.callSite)
		binary.LittleEndian.PutUint32(buf[off+24:off+28], e.tid)
		buf[off+28] = e.evType
		buf[off+29] = e.depth
	}

	path := filepath.Join(t.TempDir(), "ring.bin")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestRingOpenAndDrainSince(t *testing.T) {
	fills := []entry{
		{tsNS: 10, funcAddr: 0x1000, tid: 5, evType: 0, depth: 0},
		{tsNS: 20, funcAddr: 0x1000, tid: 5, evType: 1, depth: 0},
		{tsNS: 30, funcAddr: 0x2000, tid: 6, evType: 0, depth: 1},
	}
	path := writeTestRing(t, 8, 3, fills)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, uint64(1000), r.StartNS())
	assert.Equal(t, uint64(3), r.WritePos())

	recs := r.Drain()
	require.Len(t, recs, 3)
	assert.Equal(t, int64(10), recs[0].TimestampNS)
	assert.Equal(t, uint64(0x2000), recs[2].FuncAddr)
	assert.Equal(t, uint8(1), recs[2].Depth)
}

func TestRingDrainSinceHonorsLiveWindow(t *testing.T) {
	// capacity 4, write_pos 10: only entries [6,10) are live.
	fills := make([]entry, 10)
	for i := range fills {
		fills[i] = entry{tsNS: uint64(i), funcAddr: uint64(i), tid: 1}
	}
	path := writeTestRing(t, 4, 10, fills)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	recs := r.DrainSince(0, r.WritePos())
	require.Len(t, recs, 4)
	assert.Equal(t, int64(6), recs[0].TimestampNS)
	assert.Equal(t, int64(9), recs[3].TimestampNS)
}

func TestRingOpenRejectsBadMagic(t *testing.T) {
	path := writeTestRing(t, 4, 0, nil)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[0] = 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Open(path)
	assert.Error(t, err)
}
