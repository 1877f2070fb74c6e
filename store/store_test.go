package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/poecap/poe/events"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "trace.sqlite"), Options{BatchInterval: time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreInsertAndQueryFiles(t *testing.T) {
	s := openTestStore(t)

	s.InsertProcess(events.Process{TaskID: 1, TID: 1, ParentID: 0, Argv: []string{"/bin/true"}, StartedAt: time.Unix(0, 1)})
	s.InsertFile(events.File{TimestampNS: 10, TaskID: 1, Op: events.FileOpen, Path: "/tmp/x", Result: 3})
	s.InsertFile(events.File{TimestampNS: 20, TaskID: 1, Op: events.FileWrite, Path: "/tmp/x", Bytes: 32, Result: 32})

	require.NoError(t, s.Close())

	s2, err := Open(s.Path(), Options{})
	require.NoError(t, err)
	defer s2.Close()

	files, err := s2.FilesMatching("/tmp/*")
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, events.FileOpen, files[0].Op)
	require.Equal(t, int64(32), files[1].Bytes)
}

func TestStoreSpillCounterZeroWhenNotFull(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 50; i++ {
		s.InsertFile(events.File{TimestampNS: int64(i), TaskID: 1, Op: events.FileStat})
	}
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int64(0), s.Spilled())
}

func TestStoreFinalizeRunAndCheckpoint(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Checkpoint())

	run := events.Run{
		ID:        "run-1",
		Command:   []string{"/bin/sh", "-c", "exit 7"},
		StartedAt: time.Unix(0, 0),
		EndedAt:   time.Unix(1, 0),
		ExitCode:  7,
		Trigger:   events.TriggerNonZero,
	}
	require.NoError(t, s.FinalizeRun(run))

	got, err := s.Run()
	require.NoError(t, err)
	require.Equal(t, "run-1", got.ID)
	require.Equal(t, events.TriggerNonZero, got.Trigger)
	require.Equal(t, []string{"/bin/sh", "-c", "exit 7"}, got.Command)
}

func TestStoreDNSPairsCorrelatesByTransactionAndName(t *testing.T) {
	s := openTestStore(t)
	s.InsertDNS(events.DNS{TimestampNS: 10, TaskID: 1, TransactionID: 7, QueryName: "example.com", QueryType: 1, PeerAddr: "8.8.8.8:53"})
	s.InsertDNS(events.DNS{TimestampNS: 25, TaskID: 1, TransactionID: 7, IsResponse: true, QueryName: "example.com", QueryType: 1, AnswerCount: 1, PeerAddr: "8.8.8.8:53"})
	s.InsertDNS(events.DNS{TimestampNS: 30, TaskID: 1, TransactionID: 9, QueryName: "unanswered.test", PeerAddr: "8.8.8.8:53"})
	require.NoError(t, s.Close())

	s2, err := Open(s.Path(), Options{})
	require.NoError(t, err)
	defer s2.Close()

	pairs, err := s2.DNSPairs()
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	require.Equal(t, "example.com", pairs[0].Query.QueryName)
	require.Equal(t, time.Duration(15), pairs[0].Latency)

	all, err := s2.AllDNS()
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestStoreReassembleStdio(t *testing.T) {
	s := openTestStore(t)
	s.InsertStdio(events.Stdio{TimestampNS: 1, TaskID: 1, Stream: events.StreamStdout, Bytes: []byte("hel")})
	s.InsertStdio(events.Stdio{TimestampNS: 2, TaskID: 1, Stream: events.StreamStdout, Bytes: []byte("lo\n")})
	require.NoError(t, s.Close())

	s2, err := Open(s.Path(), Options{})
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Reassemble(events.StreamStdout)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(got))
}
