// Package stdio relays a traced child's stdout/stderr: each stream is
// teed to the parent's own terminal, a bounded ring.Ring (for pack
// artifacts), and the event store, without ever blocking the child on a
// slow consumer (spec.md §4.H).
package stdio

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/poecap/poe/events"
	"github.com/poecap/poe/ring"
)

var log = logrus.WithField("component", "stdio")

const chunkSize = 32 * 1024

// Sink receives raw bytes observed on one stream, timestamped at read time.
// Implementations must not block; the store's own Insert* methods already
// satisfy this by spilling instead of blocking (see store.Store.push).
type Sink func(events.Stdio)

// Stream is one relayed pipe: a pair created with os.Pipe, the write end
// handed to exec.Cmd.Stdout/Stderr before Start, the read end drained here.
type Stream struct {
	name   events.StdioStream
	taskID int
	r, w   *os.File
	tail   *ring.Ring
	term   io.Writer
	sink   Sink
}

// NewStream allocates one pipe for the given logical stream. term is the
// parent's own terminal (or any writer to mirror output to, e.g. os.Stdout);
// tailCap bounds the ring kept for the pack's artifacts/*.log.
func NewStream(name events.StdioStream, taskID int, term io.Writer, tailCap int, sink Sink) (*Stream, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &Stream{name: name, taskID: taskID, r: r, w: w, tail: ring.New(tailCap), term: term, sink: sink}, nil
}

// SetTaskID retags this stream's sink records with the root task's real
// pid, known only once the tracer has forked the child.
func (s *Stream) SetTaskID(taskID int) { s.taskID = taskID }

// WriteEnd is what the caller assigns to exec.Cmd.Stdout or Cmd.Stderr
// before Start; exec.Cmd dup2's it onto fd 1 or 2 in the child. The
// parent's copy stays open until CloseWriteEnds closes it.
func (s *Stream) WriteEnd() *os.File { return s.w }

// Tail returns the bounded trailing bytes retained for this stream.
func (s *Stream) Tail() []byte { return s.tail.Bytes() }

// Drain reads from the pipe until EOF (the child closing its copy of the
// write end, normally at exit) and tees every chunk to the terminal, the
// ring, and the sink. It is meant to run in its own goroutine; Relay.Start
// launches one per stream.
func (s *Stream) Drain() {
	defer s.r.Close()

	buf := make([]byte, chunkSize)
	for {
		n, err := s.r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			if s.term != nil {
				if _, werr := s.term.Write(chunk); werr != nil {
					log.WithError(werr).WithField("stream", s.name).Warn("terminal write failed")
				}
			}
			s.tail.Write(chunk)
			if s.sink != nil {
				s.sink(events.Stdio{TimestampNS: time.Now().UnixNano(), TaskID: s.taskID, Stream: s.name, Bytes: chunk})
			}
		}
		if err != nil {
			if err != io.EOF {
				log.WithError(err).WithField("stream", s.name).Debug("stdio pipe read ended")
			}
			return
		}
	}
}

// Relay owns the stdout and stderr streams for one traced command.
type Relay struct {
	Stdout *Stream
	Stderr *Stream
	wg     sync.WaitGroup
}

// New builds the stdout/stderr pipe pair. tailCap bounds each stream's
// retained tail (spec.md §6: artifacts/stdout.log, artifacts/stderr.log).
func New(taskID int, tailCap int, sink Sink) (*Relay, error) {
	stdout, err := NewStream(events.StreamStdout, taskID, os.Stdout, tailCap, sink)
	if err != nil {
		return nil, err
	}
	stderr, err := NewStream(events.StreamStderr, taskID, os.Stderr, tailCap, sink)
	if err != nil {
		stdout.w.Close()
		stdout.r.Close()
		return nil, err
	}
	return &Relay{Stdout: stdout, Stderr: stderr}, nil
}

// SetTaskID retags both streams with the root task's real pid.
func (r *Relay) SetTaskID(taskID int) {
	r.Stdout.SetTaskID(taskID)
	r.Stderr.SetTaskID(taskID)
}

// Start launches the two drainer goroutines. Callers must close each
// Stream's write end (via CloseWriteEnds) after the child has inherited it,
// or the drainers will block forever waiting for EOF.
func (r *Relay) Start() {
	r.wg.Add(2)
	go func() { defer r.wg.Done(); r.Stdout.Drain() }()
	go func() { defer r.wg.Done(); r.Stderr.Drain() }()
}

// CloseWriteEnds closes the parent's copy of both write ends. exec.Cmd does
// this itself for pipes it owns, but Relay creates its own os.Pipe pairs so
// it must close them explicitly once the child process has started.
func (r *Relay) CloseWriteEnds() {
	r.Stdout.w.Close()
	r.Stderr.w.Close()
}

// Wait blocks until both drainers have observed EOF.
func (r *Relay) Wait() {
	r.wg.Wait()
}
