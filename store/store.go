// Package store implements the durable indexed event database embedded in
// every pack: a single sqlite (WAL-mode) file with a single background
// writer draining a bounded multi-producer channel in batched
// transactions, and a read-side query API for offline analysis.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/poecap/poe/events"
)

var log = logrus.WithField("component", "store")

// Options tunes the background writer's batching policy and channel size.
type Options struct {
	ChannelSize   int
	BatchRecords  int
	BatchInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.ChannelSize <= 0 {
		o.ChannelSize = 4096
	}
	if o.BatchRecords <= 0 {
		o.BatchRecords = 200
	}
	if o.BatchInterval <= 0 {
		o.BatchInterval = 50 * time.Millisecond
	}
	return o
}

// record is the sum type pushed through the writer channel.
type record struct {
	kind   events.Kind
	file   *events.File
	net    *events.Net
	stack  *events.Stack
	stdio  *events.Stdio
	proc   *events.Process
	native *events.NativeRecord
	span   *events.Span
	dns    *events.DNS
	generic *events.Event
}

// Store owns the sqlite file exclusively; only its background writer ever
// issues write statements.
type Store struct {
	db     *sql.DB
	path   string
	opts   Options
	ch     chan record
	done   chan struct{}
	wg     sync.WaitGroup
	spilled atomic.Int64
	closeOnce sync.Once
}

// Open creates (or reuses) the sqlite file at path, applies the schema, and
// starts the single background writer goroutine.
func Open(path string, opts Options) (*Store, error) {
	opts = opts.withDefaults()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline; queries share this one connection

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set synchronous: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	s := &Store{
		db:   db,
		path: path,
		opts: opts,
		ch:   make(chan record, opts.ChannelSize),
		done: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

// push is the single non-blocking entry point every Insert* method funnels
// through. On a full channel it increments the spill counter and drops the
// record — the tracer must never block on the store.
func (s *Store) push(r record) {
	select {
	case s.ch <- r:
	default:
		s.spilled.Add(1)
		log.WithField("kind", r.kind).Warn("store channel full, spilling record")
	}
}

func (s *Store) InsertFile(f events.File) { s.push(record{kind: events.KindFile, file: &f}) }
func (s *Store) InsertNet(n events.Net)   { s.push(record{kind: events.KindNet, net: &n}) }
func (s *Store) InsertStack(st events.Stack) { s.push(record{kind: events.KindStack, stack: &st}) }
func (s *Store) InsertStdio(c events.Stdio)  { s.push(record{kind: events.KindStdio, stdio: &c}) }
func (s *Store) InsertProcess(p events.Process) {
	s.push(record{kind: events.KindProcess, proc: &p})
}
func (s *Store) InsertNative(n events.NativeRecord) {
	s.push(record{kind: events.KindNativeRT, native: &n})
}
func (s *Store) InsertSpan(sp events.Span) { s.push(record{kind: events.KindSpan, span: &sp}) }
func (s *Store) InsertDNS(d events.DNS)    { s.push(record{kind: events.KindDNS, dns: &d}) }
func (s *Store) InsertEvent(e events.Event) {
	s.push(record{kind: events.KindGeneric, generic: &e})
}

// Spilled returns the number of records dropped because the channel was full.
func (s *Store) Spilled() int64 { return s.spilled.Load() }

// writeLoop is the store's single background writer: it batches up to
// BatchRecords records or BatchInterval of elapsed time into one
// transaction, and on channel close drains and commits the remainder.
func (s *Store) writeLoop() {
	defer s.wg.Done()

	batch := make([]record, 0, s.opts.BatchRecords)
	ticker := time.NewTicker(s.opts.BatchInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.commitBatch(batch); err != nil {
			log.WithError(err).Error("commit batch failed")
		}
		batch = batch[:0]
	}

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, r)
			if len(batch) >= s.opts.BatchRecords {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *Store) commitBatch(batch []record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	for _, r := range batch {
		if err := writeRecord(tx, r); err != nil {
			tx.Rollback()
			return fmt.Errorf("write %s: %w", r.kind, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func writeRecord(tx *sql.Tx, r record) error {
	switch r.kind {
	case events.KindFile:
		f := r.file
		_, err := tx.Exec(`INSERT INTO files(ts,task_id,op,path,fd,bytes,flags,result,path_truncated,path_unreadable)
			VALUES(?,?,?,?,?,?,?,?,?,?)`,
			f.TimestampNS, f.TaskID, string(f.Op), f.Path, f.FD, f.Bytes, f.Flags, f.Result, f.PathTruncated, f.PathUnreadable)
		return err

	case events.KindNet:
		n := r.net
		_, err := tx.Exec(`INSERT INTO net(ts,task_id,op,proto,src_addr,dst_addr,bytes,fd,result)
			VALUES(?,?,?,?,?,?,?,?,?)`,
			n.TimestampNS, n.TaskID, string(n.Op), n.Proto, n.SrcAddr, n.DstAddr, n.Bytes, n.FD, n.Result)
		return err

	case events.KindStack:
		st := r.stack
		frames, err := json.Marshal(st.Frames)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`INSERT INTO stacks(ts,task_id,frames,weight) VALUES(?,?,?,?)`,
			st.TimestampNS, st.TaskID, string(frames), st.Weight)
		return err

	case events.KindStdio:
		c := r.stdio
		_, err := tx.Exec(`INSERT INTO stdio(ts,task_id,stream,bytes) VALUES(?,?,?,?)`,
			c.TimestampNS, c.TaskID, string(c.Stream), c.Bytes)
		return err

	case events.KindProcess:
		p := r.proc
		argv, err := json.Marshal(p.Argv)
		if err != nil {
			return err
		}
		var ended any
		if !p.EndedAt.IsZero() {
			ended = p.EndedAt.UnixNano()
		}
		_, err = tx.Exec(`INSERT INTO processes(task_id,tid,parent_id,argv,cwd,started_at,ended_at,exit_code,signal)
			VALUES(?,?,?,?,?,?,?,?,?)
			ON CONFLICT(task_id) DO UPDATE SET
				ended_at=excluded.ended_at, exit_code=excluded.exit_code, signal=excluded.signal`,
			p.TaskID, p.TID, p.ParentID, string(argv), p.Cwd, p.StartedAt.UnixNano(), ended, p.ExitCode, p.Signal)
		return err

	case events.KindNativeRT:
		n := r.native
		detail, err := json.Marshal(n)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`INSERT INTO events(ts,task_id,kind,detail) VALUES(?,?,?,?)`,
			n.TimestampNS, n.TaskID, string(events.KindNativeRT), string(detail))
		return err

	case events.KindSpan:
		sp := r.span
		var ended any
		if !sp.EndedAt.IsZero() {
			ended = sp.EndedAt.UnixNano()
		}
		_, err := tx.Exec(`INSERT INTO spans(trace_id,span_id,parent_span_id,task_id,started_at,ended_at)
			VALUES(?,?,?,?,?,?)
			ON CONFLICT(span_id) DO UPDATE SET ended_at=excluded.ended_at`,
			sp.TraceID, sp.SpanID, sp.ParentSpanID, sp.TaskID, sp.StartedAt.UnixNano(), ended)
		return err

	case events.KindDNS:
		d := r.dns
		_, err := tx.Exec(`INSERT INTO dns(ts,task_id,transaction_id,is_response,flags,question_count,answer_count,query_name,query_type,peer_addr)
			VALUES(?,?,?,?,?,?,?,?,?,?)`,
			d.TimestampNS, d.TaskID, d.TransactionID, d.IsResponse, d.Flags, d.QuestionCount, d.AnswerCount, d.QueryName, d.QueryType, d.PeerAddr)
		return err

	case events.KindGeneric:
		e := r.generic
		detail, err := json.Marshal(e.Detail)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`INSERT INTO events(ts,task_id,kind,detail) VALUES(?,?,?,?)`,
			e.TimestampNS, e.TaskID, string(e.Kind), string(detail))
		return err
	}
	return fmt.Errorf("unknown record kind %q", r.kind)
}

// FinalizeRun writes the run row. Per spec.md §3's invariant, this happens
// last: a partial database with no run row implies a still-ongoing or
// crashed coordinator. It writes synchronously on the caller's goroutine,
// outside the writer's batches, and must be called before Close, which
// closes the database handle.
func (s *Store) FinalizeRun(r events.Run) error {
	cmd, err := json.Marshal(r.Command)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO run(id,command,work_dir,env_fp_sha256,started_at,ended_at,kernel,arch,hostname,source_commit,exit_code,signal,trigger)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, string(cmd), r.WorkDir, r.EnvFPSHA256, r.StartedAt.UnixNano(), r.EndedAt.UnixNano(),
		r.Kernel, r.Arch, r.Hostname, r.SourceCommit, r.ExitCode, r.Signal, string(r.Trigger))
	return err
}

// Checkpoint forces the write-ahead log into the main file, so a copy of
// the sqlite file alone (as embedded in a pack) is self-contained.
func (s *Store) Checkpoint() error {
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return err
}

// Close signals the writer to drain and commit its remaining batch, waits
// for it to finish, then closes the underlying sqlite handle. Close is
// idempotent.
func (s *Store) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.ch)
		s.wg.Wait()
		closeErr = s.db.Close()
	})
	return closeErr
}

// Path returns the on-disk location of the sqlite file.
func (s *Store) Path() string { return s.path }

// DB exposes the underlying handle for read-side queries (see query.go).
// Callers must not issue writes through it while the writer is running.
func (s *Store) DB() *sql.DB { return s.db }
