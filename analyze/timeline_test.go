package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poecap/poe/events"
)

func TestBuildTimelineMergesAndSortsByTimestamp(t *testing.T) {
	files := []events.File{
		{TimestampNS: 200, TaskID: 1, Op: events.FileOpen, Path: "/tmp/a"},
	}
	nets := []events.Net{
		{TimestampNS: 100, TaskID: 1, Op: events.NetConnect, DstAddr: "10.0.0.1:80"},
	}
	tl := buildTimeline(files, nets, nil)
	require.Len(t, tl, 2)
	assert.Equal(t, TimelineNet, tl[0].Kind)
	assert.Equal(t, TimelineFile, tl[1].Kind)
}

func TestBuildTimelineCollapsesRepeatsWithinWindow(t *testing.T) {
	files := []events.File{
		{TimestampNS: 1_000_000, TaskID: 1, Op: events.FileRead, Path: "/tmp/a"},
		{TimestampNS: 1_500_000, TaskID: 1, Op: events.FileRead, Path: "/tmp/a"},
		{TimestampNS: 5_000_000, TaskID: 1, Op: events.FileRead, Path: "/tmp/a"},
	}
	tl := buildTimeline(files, nil, nil)
	require.Len(t, tl, 2)
	assert.Equal(t, 2, tl[0].Repeats)
	assert.Equal(t, 1, tl[1].Repeats)
}

func TestBuildTimelineFiltersNoisePaths(t *testing.T) {
	files := []events.File{
		{TimestampNS: 1, TaskID: 1, Op: events.FileOpen, Path: "/proc/self/maps"},
		{TimestampNS: 2, TaskID: 1, Op: events.FileOpen, Path: "/tmp/real"},
	}
	tl := buildTimeline(files, nil, nil)
	require.Len(t, tl, 1)
	assert.Equal(t, "/tmp/real", tl[0].Detail)
}
