//go:build linux

package coordinator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poecap/poe/events"
	"github.com/poecap/poe/redact"
	"github.com/poecap/poe/tracer"
)

func TestClassifyTrigger(t *testing.T) {
	assert.Equal(t, events.TriggerCrash, classifyTrigger(exitInfoCrash(), false))
	assert.Equal(t, events.TriggerSignal, classifyTrigger(exitInfoSignaled(), false))
	assert.Equal(t, events.TriggerNonZero, classifyTrigger(exitInfoCode(3), false))
	assert.Equal(t, events.TriggerAlways, classifyTrigger(exitInfoCode(0), true))
	assert.Equal(t, events.TriggerCleanSkip, classifyTrigger(exitInfoCode(0), false))
}

func TestExitCodeMirrorsShellConvention(t *testing.T) {
	assert.Equal(t, 3, exitCode(exitInfoCode(3)))
	assert.Equal(t, 128+9, exitCode(exitInfoSignalNum(9)))
}

func TestFingerprintEnvIsStableAndOrderIndependent(t *testing.T) {
	a := fingerprintEnv(map[string]string{"A": "1", "B": "2"})
	b := fingerprintEnv(map[string]string{"B": "2", "A": "1"})
	assert.Equal(t, a, b)

	c := fingerprintEnv(map[string]string{"A": "1", "B": "3"})
	assert.NotEqual(t, a, c)
}

func TestRunProducesPackOnNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "trace.sqlite")

	var packCalled bool
	res, err := Run(Options{
		Command:        []string{"/bin/sh", "-c", "exit 5"},
		Env:            os.Environ(),
		StorePath:      storePath,
		SamplerEnabled: false,
		RedactRules:    redact.NewRules(nil, nil),
		PackWriter: func(run events.Run, storePath string, stdoutTail, stderrTail []byte, meta map[string]string) (string, error) {
			packCalled = true
			return filepath.Join(dir, "out.poepack"), nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, res.ExitCode)
	assert.Equal(t, events.TriggerNonZero, res.Run.Trigger)
	assert.True(t, packCalled)
	assert.NotEmpty(t, res.PackPath)
}

func TestRunSkipsPackOnCleanExit(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "trace.sqlite")

	var packCalled bool
	res, err := Run(Options{
		Command:        []string{"/bin/sh", "-c", "true"},
		Env:            os.Environ(),
		StorePath:      storePath,
		SamplerEnabled: false,
		PackWriter: func(events.Run, string, []byte, []byte, map[string]string) (string, error) {
			packCalled = true
			return "", nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, events.TriggerCleanSkip, res.Run.Trigger)
	assert.False(t, packCalled)
	assert.Empty(t, res.PackPath)
}

func exitInfoCrash() tracer.ExitInfo    { return tracer.ExitInfo{Crashed: true} }
func exitInfoSignaled() tracer.ExitInfo { return tracer.ExitInfo{Signal: "segmentation fault"} }
func exitInfoCode(c int) tracer.ExitInfo { return tracer.ExitInfo{ExitCode: c} }
func exitInfoSignalNum(n int) tracer.ExitInfo {
	return tracer.ExitInfo{Signal: "killed", SignalNum: n}
}
