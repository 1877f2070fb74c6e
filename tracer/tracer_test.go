//go:build linux

package tracer

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poecap/poe/events"
	"github.com/poecap/poe/syscalls"
)

func TestTracerCapturesExitCode(t *testing.T) {
	tr := New("/bin/sh", []string{"-c", "exit 7"}, "", os.Environ(), syscalls.ModeNormal)

	info, err := tr.Run(Handlers{})
	require.NoError(t, err)
	assert.Equal(t, 7, info.ExitCode)
}

func TestTracerCapturesOpenSyscall(t *testing.T) {
	f, err := os.CreateTemp("", "poe-tracer-test-*")
	require.NoError(t, err)
	defer os.Remove(f.Name())
	f.Close()

	tr := New("/bin/cat", []string{f.Name()}, "", os.Environ(), syscalls.ModeNormal)

	var opens []events.File
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, runErr := tr.Run(Handlers{
			OnFile: func(fe events.File) {
				if fe.Op == events.FileOpen {
					opens = append(opens, fe)
				}
			},
		})
		require.NoError(t, runErr)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("tracer did not finish within timeout")
	}

	require.NotEmpty(t, opens)
	// The dynamic loader's own opens (ld.so.cache, libc) precede cat's.
	var paths []string
	for _, o := range opens {
		paths = append(paths, o.Path)
	}
	assert.Contains(t, paths, f.Name())
}

func TestTracerTracksProcessLifecycle(t *testing.T) {
	tr := New("/bin/sh", []string{"-c", "true"}, "", os.Environ(), syscalls.ModeNormal)

	var starts, exits int
	_, err := tr.Run(Handlers{
		OnProcessStart: func(events.Process) { starts++ },
		OnProcessExit:  func(events.Process) { exits++ },
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, starts, 1)
	assert.GreaterOrEqual(t, exits, 1)
}
