package stdio

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poecap/poe/events"
)

func TestStreamDrainTeesToTerminalRingAndSink(t *testing.T) {
	var term bytes.Buffer
	var mu sync.Mutex
	var got []events.Stdio

	s, err := NewStream(events.StreamStdout, 42, &term, 64, func(e events.Stdio) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() { defer close(done); s.Drain() }()

	_, err = s.WriteEnd().WriteString("hello world")
	require.NoError(t, err)
	require.NoError(t, s.WriteEnd().Close())
	<-done

	assert.Equal(t, "hello world", term.String())
	assert.Equal(t, "hello world", string(s.Tail()))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	assert.Equal(t, events.StreamStdout, got[0].Stream)
	assert.Equal(t, 42, got[0].TaskID)
}

func TestRelayStartAndWait(t *testing.T) {
	r, err := New(7, 128, nil)
	require.NoError(t, err)

	r.Start()
	_, _ = r.Stdout.WriteEnd().WriteString("out")
	_, _ = r.Stderr.WriteEnd().WriteString("err")
	r.CloseWriteEnds()
	r.Wait()

	assert.Equal(t, "out", string(r.Stdout.Tail()))
	assert.Equal(t, "err", string(r.Stderr.Tail()))
}
