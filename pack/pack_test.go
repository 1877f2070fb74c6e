package pack

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poecap/poe/events"
	"github.com/poecap/poe/store"
)

func TestWriteThenOpenRoundTrips(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "trace.sqlite")

	st, err := store.Open(storePath, store.Options{})
	require.NoError(t, err)

	run := events.Run{
		ID:        "test-run-1",
		Command:   []string{"/bin/false"},
		WorkDir:   "/tmp",
		StartedAt: time.Now().Add(-time.Second),
		EndedAt:   time.Now(),
		Hostname:  "test-host",
		Kernel:    "6.1.0",
		Arch:      "amd64",
		ExitCode:  1,
		Trigger:   events.TriggerNonZero,
	}
	st.InsertFile(events.File{Op: events.FileOpen, Path: "/etc/passwd"})
	require.NoError(t, st.FinalizeRun(run))
	require.NoError(t, st.Checkpoint())
	require.NoError(t, st.Close())

	w := NewWriter(filepath.Join(dir, "out"))
	packPath, err := w.Write(run, storePath, []byte("out\n"), []byte("err\n"), map[string]string{"PATH": "/bin"})
	require.NoError(t, err)
	assert.FileExists(t, packPath)

	r, err := Open(packPath)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, run.ID, r.Summary.RunID)
	assert.Equal(t, run.Command, r.Summary.Command)
	assert.Equal(t, "nonzero_exit", r.Summary.Failure.Kind)
	assert.Equal(t, "/bin", r.Meta.Environment["PATH"])
	assert.Equal(t, []byte("out\n"), r.StdoutTail())
	assert.Equal(t, []byte("err\n"), r.StderrTail())

	rst, err := r.Store()
	require.NoError(t, err)
	defer rst.Close()

	files, err := rst.AllFiles()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "/etc/passwd", files[0].Path)
}

func TestWriteSkipsFailureForCleanExit(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "trace.sqlite")

	st, err := store.Open(storePath, store.Options{})
	require.NoError(t, err)
	run := events.Run{ID: "clean-run", Command: []string{"/bin/true"}, StartedAt: time.Now(), EndedAt: time.Now(), Trigger: events.TriggerAlways}
	require.NoError(t, st.FinalizeRun(run))
	require.NoError(t, st.Checkpoint())
	require.NoError(t, st.Close())

	w := NewWriter(dir)
	packPath, err := w.Write(run, storePath, nil, nil, nil)
	require.NoError(t, err)

	r, err := Open(packPath)
	require.NoError(t, err)
	defer r.Close()
	assert.Nil(t, r.Summary.Failure)
}
