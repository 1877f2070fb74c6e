// Package coordinator sequences one supervised run end to end: open the
// event store, wire the tracer's observations into it, relay stdio, sample
// stacks, decide the exit trigger, seal the store, and hand off to a pack
// writer (spec.md §4.J).
package coordinator

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/poecap/poe/events"
	"github.com/poecap/poe/redact"
	"github.com/poecap/poe/sampler"
	"github.com/poecap/poe/stdio"
	"github.com/poecap/poe/store"
	"github.com/poecap/poe/syscalls"
	"github.com/poecap/poe/trace"
	"github.com/poecap/poe/tracer"
)

var log = logrus.WithField("component", "coordinator")

const samplerRingPages = 64 // power of two, 64*4KiB = 256KiB of sample data for the root task's sampler

// PackWriter produces the final archive from a sealed, checkpointed store.
// Implementations live in the pack package; the coordinator only depends on
// this function shape to keep it free of any archive-format knowledge.
type PackWriter func(run events.Run, storePath string, stdoutTail, stderrTail []byte, meta map[string]string) (string, error)

// Options configures one coordinated run.
type Options struct {
	Command []string
	Dir     string
	Env     []string // nil means inherit os.Environ()

	StorePath string

	Always         bool
	DecodeMode     syscalls.Mode
	SamplerEnabled bool
	SamplerHz      int
	StdioTailBytes int

	StoreChannelSize   int
	StoreBatchRecords  int
	StoreBatchInterval time.Duration

	RedactRules redact.Rules

	PackWriter PackWriter
}

func (o Options) withDefaults() Options {
	if o.SamplerHz <= 0 {
		o.SamplerHz = 99
	}
	if o.StdioTailBytes <= 0 {
		o.StdioTailBytes = 1 << 20
	}
	if o.Env == nil {
		o.Env = os.Environ()
	}
	return o
}

// Result is everything the caller needs after a run completes.
type Result struct {
	Run        events.Run
	ExitCode   int
	PackPath   string // empty when Trigger is CleanSkip or no PackWriter was given
	SpillCount int64
}

// Run supervises opts.Command end to end and returns once the child (and
// every task it spawned) has exited and the run has been finalized.
func Run(opts Options) (Result, error) {
	opts = opts.withDefaults()
	if len(opts.Command) == 0 {
		return Result{}, newError(KindSetup, errors.New("coordinator: empty command"))
	}

	runID := uuid.New().String()
	startedAt := time.Now()

	st, err := store.Open(opts.StorePath, store.Options{
		ChannelSize:   opts.StoreChannelSize,
		BatchRecords:  opts.StoreBatchRecords,
		BatchInterval: opts.StoreBatchInterval,
	})
	if err != nil {
		return Result{}, newError(KindSetup, fmt.Errorf("open store: %w", err))
	}

	relay, err := stdio.New(0, opts.StdioTailBytes, func(c events.Stdio) { st.InsertStdio(c) })
	if err != nil {
		st.Close()
		return Result{}, newError(KindSetup, fmt.Errorf("create stdio pipes: %w", err))
	}

	tctx := trace.FromEnvOrNew()
	env := tctx.InjectEnv(opts.Env)

	path := opts.Command[0]
	args := opts.Command[1:]
	trc := tracer.New(path, args, opts.Dir, env, opts.DecodeMode)
	trc.SetIO(relay.Stdout.WriteEnd(), relay.Stderr.WriteEnd())

	smp := &samplerHandle{enabled: opts.SamplerEnabled, hz: opts.SamplerHz, store: st}
	defer smp.stop()

	native := attachNativeRing(opts.Env, st)
	defer native.stop()

	handlers := tracer.Handlers{
		OnStarted: func(rootPID int) {
			relay.SetTaskID(rootPID)
			relay.CloseWriteEnds()
			relay.Start()
			smp.attach(rootPID)
		},
		OnFile:         st.InsertFile,
		OnNet:          st.InsertNet,
		OnDNS:          st.InsertDNS,
		OnGeneric:      st.InsertEvent,
		OnProcessStart: st.InsertProcess,
		OnProcessExit:  st.InsertProcess,
	}

	info, runErr := trc.Run(handlers)

	smp.stop()
	native.stop()
	relay.Wait()

	if runErr != nil {
		st.Close()
		var conflict *tracer.ErrTracerConflict
		if errors.As(runErr, &conflict) {
			return Result{}, newError(KindSetup, runErr)
		}
		return Result{}, newError(KindSetup, fmt.Errorf("tracer run: %w", runErr))
	}

	trigger := classifyTrigger(info, opts.Always)

	redacted := redact.EnvironmentMap(toEnvMap(opts.Env), opts.RedactRules)
	envFP := fingerprintEnv(redacted)

	run := events.Run{
		ID:          runID,
		Command:     opts.Command,
		WorkDir:     opts.Dir,
		EnvFPSHA256: envFP,
		StartedAt:   startedAt,
		EndedAt:     time.Now(),
		Kernel:      kernelVersion(),
		Arch:        runtime.GOARCH,
		Hostname:    tctx.OriginHost,
		ExitCode:    info.ExitCode,
		Signal:      info.Signal,
		Trigger:     trigger,
	}

	st.InsertSpan(events.Span{
		TraceID:      tctx.TraceID,
		SpanID:       tctx.SpanID,
		ParentSpanID: tctx.ParentSpanID,
		TaskID:       trc.RootPID(),
		StartedAt:    startedAt,
		EndedAt:      run.EndedAt,
	})

	if err := st.FinalizeRun(run); err != nil {
		st.Close()
		return Result{}, newError(KindSetup, fmt.Errorf("finalize run: %w", err))
	}
	if err := st.Checkpoint(); err != nil {
		st.Close()
		return Result{}, newError(KindPackWrite, fmt.Errorf("checkpoint store: %w", err))
	}
	spilled := st.Spilled()
	if spilled > 0 {
		log.WithField("spilled", spilled).Warn("some events were dropped under backpressure")
	}
	if err := st.Close(); err != nil {
		return Result{}, newError(KindPackWrite, fmt.Errorf("close store: %w", err))
	}

	res := Result{Run: run, ExitCode: exitCode(info), SpillCount: spilled}

	if trigger == events.TriggerCleanSkip || opts.PackWriter == nil {
		return res, nil
	}

	// Trace propagation ids are never secrets and spec.md §6 requires them
	// unredacted in meta/environment.json regardless of the redaction rules
	// applied to the rest of the captured environment.
	redacted[trace.EnvTraceID] = tctx.TraceID
	redacted[trace.EnvParentID] = tctx.ParentSpanID
	redacted[trace.EnvOrigin] = tctx.OriginHost

	packPath, err := opts.PackWriter(run, opts.StorePath, relay.Stdout.Tail(), relay.Stderr.Tail(), redacted)
	if err != nil {
		return res, newError(KindPackWrite, fmt.Errorf("write pack: %w", err))
	}
	res.PackPath = packPath
	return res, nil
}

// classifyTrigger implements the exit-trigger decision table (spec.md §4.J).
func classifyTrigger(info tracer.ExitInfo, always bool) events.Trigger {
	switch {
	case info.Crashed:
		return events.TriggerCrash
	case info.Signal != "":
		return events.TriggerSignal
	case info.ExitCode != 0:
		return events.TriggerNonZero
	case always:
		return events.TriggerAlways
	default:
		return events.TriggerCleanSkip
	}
}

// exitCode mirrors the child's status the way a shell would: its exit code,
// or 128+signal if it died from a signal.
func exitCode(info tracer.ExitInfo) int {
	if info.Signal != "" {
		return 128 + info.SignalNum
	}
	return info.ExitCode
}

func toEnvMap(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}

// fingerprintEnv hashes a canonical (sorted key) rendering of the redacted
// environment, so two runs with the same env (modulo redaction) share a
// fingerprint without the raw values ever being stored in the run row.
func fingerprintEnv(redacted map[string]string) string {
	keys := make([]string, 0, len(redacted))
	for k := range redacted {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(redacted[k]))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func kernelVersion() string {
	if b, err := os.ReadFile("/proc/sys/kernel/osrelease"); err == nil {
		return strings.TrimSpace(string(b))
	}
	return "unknown"
}

// samplerHandle owns the stack sampler's lifecycle: attached once the root
// pid is known, drained on a ticker until the tracer loop ends.
type samplerHandle struct {
	enabled bool
	hz      int
	store   *store.Store

	mu     sync.Mutex
	smp    *sampler.Sampler
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func (s *samplerHandle) attach(pid int) {
	if !s.enabled {
		return
	}
	if !sampler.Available() {
		log.Warn("perf_event_open unavailable, running without stack sampling")
		return
	}
	smp, err := sampler.Open(pid, s.hz, samplerRingPages)
	if err != nil {
		log.WithError(err).Warn("sampler open failed, running without stack sampling")
		return
	}

	s.mu.Lock()
	s.smp = smp
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				smp.Drain(func(st events.Stack) { s.store.InsertStack(st) })
			case <-stopCh:
				smp.Drain(func(st events.Stack) { s.store.InsertStack(st) })
				return
			}
		}
	}()
}

func (s *samplerHandle) stop() {
	s.mu.Lock()
	stopCh := s.stopCh
	smp := s.smp
	s.stopCh = nil
	s.smp = nil
	s.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	s.wg.Wait()
	if smp != nil {
		if err := smp.Close(); err != nil {
			log.WithError(err).Warn("sampler close failed")
		}
	}
}
