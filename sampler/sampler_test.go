//go:build linux

package sampler

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/poecap/poe/events"
)

func TestSamplerOpenDrainClose(t *testing.T) {
	if !Available() {
		t.Skip("perf_event_open unavailable in this environment (sandboxed CI, paranoid sysctl, etc)")
	}

	s, err := Open(os.Getpid(), 200, 8)
	require.NoError(t, err)
	defer s.Close()

	// Burn CPU briefly so the kernel actually has samples to deliver.
	deadline := time.Now().Add(200 * time.Millisecond)
	x := 0
	for time.Now().Before(deadline) {
		x++
	}
	_ = x

	var got []events.Stack
	s.Drain(func(st events.Stack) { got = append(got, st) })

	// Not asserting non-empty: sample delivery is timing-sensitive and the
	// ring may simply not have overflowed yet on a fast/quiet machine. The
	// point of this test is that Open/Drain/Close never panic or error.
}
