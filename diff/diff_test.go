package diff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poecap/poe/analyze"
	"github.com/poecap/poe/events"
)

func TestCompareNewPathDoesNotFlagExitChange(t *testing.T) {
	now := time.Now()
	baseline := &analyze.Explanation{
		Run: events.Run{ExitCode: 0, StartedAt: now, EndedAt: now.Add(10 * time.Millisecond)},
		Files: analyze.FileActivity{TopPaths: []analyze.PathCount{
			{Path: "/etc/hosts", Ops: 1},
		}},
	}
	candidate := &analyze.Explanation{
		Run: events.Run{ExitCode: 0, StartedAt: now, EndedAt: now.Add(10 * time.Millisecond)},
		Files: analyze.FileActivity{TopPaths: []analyze.PathCount{
			{Path: "/etc/hosts", Ops: 1},
			{Path: "/tmp/new", Ops: 1},
		}},
	}

	d := Compare(baseline, candidate)
	assert.False(t, d.ExitCodeChanged)
	require.Equal(t, []string{"/tmp/new"}, d.NewPaths)
	assert.Empty(t, d.MissingPaths)
}

func TestCompareExitCodeAndSignalChange(t *testing.T) {
	baseline := &analyze.Explanation{Run: events.Run{ExitCode: 0}}
	candidate := &analyze.Explanation{Run: events.Run{ExitCode: 7, Signal: "aborted"}}

	d := Compare(baseline, candidate)
	assert.True(t, d.ExitCodeChanged)
	assert.True(t, d.SignalChanged)
	assert.Equal(t, 7, d.CandidateExit)
}

func TestCompareByteDeltaForSurvivingPath(t *testing.T) {
	baseline := &analyze.Explanation{
		Files: analyze.FileActivity{TopPaths: []analyze.PathCount{{Path: "/tmp/log", Bytes: 100}}},
	}
	candidate := &analyze.Explanation{
		Files: analyze.FileActivity{TopPaths: []analyze.PathCount{{Path: "/tmp/log", Bytes: 150}}},
	}

	d := Compare(baseline, candidate)
	require.Len(t, d.PathByteDeltas, 1)
	assert.Equal(t, "/tmp/log", d.PathByteDeltas[0].Key)
	assert.EqualValues(t, 50, d.PathByteDeltas[0].DeltaBytes)
}

func TestCompareStderrLineDiff(t *testing.T) {
	baseline := &analyze.Explanation{StderrTail: "starting\nready\n"}
	candidate := &analyze.Explanation{StderrTail: "starting\nready\nwarning: low disk\n"}

	d := Compare(baseline, candidate)
	assert.Equal(t, []string{"warning: low disk"}, d.NewStderrLines)
	assert.Empty(t, d.MissingStderrLines)
}
