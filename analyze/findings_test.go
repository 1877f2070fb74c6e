package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/poecap/poe/events"
)

func TestDiagnoseCrashSignal(t *testing.T) {
	run := events.Run{Signal: "segmentation fault", Trigger: events.TriggerCrash}
	findings := diagnose(run, nil, nil, nil, nil)
	require.Len(t, findings, 1)
	assert.Equal(t, "crash_signal", findings[0].Rule)
	assert.Equal(t, SeverityCritical, findings[0].Severity)
}

func TestDiagnosePermissionDeniedAggregatesByPath(t *testing.T) {
	files := []events.File{
		{Op: events.FileOpen, Path: "/etc/shadow", Result: -int64(unix.EACCES)},
		{Op: events.FileOpen, Path: "/etc/shadow", Result: -int64(unix.EACCES)},
		{Op: events.FileOpen, Path: "/etc/passwd", Result: 0},
	}
	findings := diagnose(events.Run{}, files, nil, nil, nil)
	require.Len(t, findings, 1)
	assert.Equal(t, "permission_denied", findings[0].Rule)
	assert.Equal(t, "/etc/shadow", findings[0].Message)
	assert.Equal(t, 2, findings[0].Count)
}

func TestDiagnoseMissingFileSkipsPathSearchProbes(t *testing.T) {
	files := []events.File{
		{Op: events.FileOpen, Path: "/usr/bin/foo", Result: -int64(unix.ENOENT)},
		{Op: events.FileOpen, Path: "/usr/local/bin/foo", Result: -int64(unix.ENOENT)},
		{Op: events.FileOpen, Path: "/home/user/myconfig.json", Result: -int64(unix.ENOENT)},
	}
	findings := diagnose(events.Run{}, files, nil, nil, nil)
	require.Len(t, findings, 1)
	assert.Equal(t, "missing_file", findings[0].Rule)
	assert.Equal(t, "/home/user/myconfig.json", findings[0].Message)
}

func TestDiagnoseFailedConnection(t *testing.T) {
	nets := []events.Net{{Op: events.NetConnect, DstAddr: "10.0.0.1:443", Result: -1}}
	findings := diagnose(events.Run{}, nil, nets, nil, nil)
	require.Len(t, findings, 1)
	assert.Equal(t, "failed_connection", findings[0].Rule)
}

func TestDiagnoseMultiSignalDeath(t *testing.T) {
	procs := []events.Process{
		{TaskID: 1, Signal: "killed"},
		{TaskID: 2, Signal: "killed"},
		{TaskID: 3},
	}
	findings := diagnose(events.Run{}, nil, nil, procs, nil)
	require.Len(t, findings, 1)
	assert.Equal(t, "multi_signal_death", findings[0].Rule)
	assert.Equal(t, 2, findings[0].Count)
}

func TestDiagnoseStderrPatternScan(t *testing.T) {
	findings := diagnose(events.Run{}, nil, nil, nil, []byte("starting up\nFatal: out of memory\n"))
	require.Len(t, findings, 1)
	assert.Equal(t, "stderr_pattern", findings[0].Rule)
	assert.Contains(t, findings[0].Message, "out of memory")
}
