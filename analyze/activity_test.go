package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/poecap/poe/events"
	"github.com/poecap/poe/store"
)

func TestBuildFileActivityTotalsAndErrors(t *testing.T) {
	files := []events.File{
		{Path: "/tmp/a", Op: events.FileRead, Bytes: 100, Result: 0},
		{Path: "/tmp/a", Op: events.FileWrite, Bytes: 50, Result: 0},
		{Path: "/tmp/b", Op: events.FileOpen, Result: -int64(unix.ENOENT)},
		{Path: "/proc/self/maps", Op: events.FileOpen, Result: 0},
	}
	fa := buildFileActivity(files)
	assert.Equal(t, 3, fa.Ops) // noise path excluded
	assert.Equal(t, 2, fa.UniquePaths)
	assert.EqualValues(t, 100, fa.BytesRead)
	assert.EqualValues(t, 50, fa.BytesWrite)
	require.Len(t, fa.Errors, 1)
	assert.Equal(t, "open", fa.Errors[0].Op)
	assert.EqualValues(t, -int64(unix.ENOENT), fa.Errors[0].Errno)
}

func TestBuildFileActivityTopPathsRankedByOps(t *testing.T) {
	files := []events.File{
		{Path: "/tmp/hot", Op: events.FileRead},
		{Path: "/tmp/hot", Op: events.FileRead},
		{Path: "/tmp/cold", Op: events.FileRead},
	}
	fa := buildFileActivity(files)
	require.NotEmpty(t, fa.TopPaths)
	assert.Equal(t, "/tmp/hot", fa.TopPaths[0].Path)
	assert.Equal(t, 2, fa.TopPaths[0].Ops)
}

func TestBuildNetActivityFailedConnections(t *testing.T) {
	nets := []events.Net{
		{Op: events.NetConnect, DstAddr: "10.0.0.1:443", Result: 0},
		{Op: events.NetConnect, DstAddr: "10.0.0.2:443", Result: -1},
	}
	na := buildNetActivity(nets)
	assert.Equal(t, 2, na.Ops)
	require.Len(t, na.FailedConnections, 1)
	assert.Contains(t, na.FailedConnections[0], "10.0.0.2:443")
}

func TestBuildDNSActivityMarksUnansweredQueries(t *testing.T) {
	all := []events.DNS{
		{TransactionID: 1, QueryName: "example.com"},
		{TransactionID: 1, QueryName: "example.com", IsResponse: true},
		{TransactionID: 2, QueryName: "dead.test"},
	}
	pairs := []store.DNSPair{
		{Query: all[0], Response: all[1]},
	}
	da := buildDNSActivity(pairs, all)
	assert.Equal(t, 2, da.Queries)
	assert.Equal(t, 1, da.Unanswered)
}
