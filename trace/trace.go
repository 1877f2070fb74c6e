// Package trace implements distributed trace propagation across nested
// poe invocations: a traced program that itself shells out to another
// poe-supervised command inherits a trace id and gets a fresh span
// parented to its caller's span (spec.md §6, SPEC_FULL.md §4).
package trace

import (
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/poecap/poe/procfs"
)

const (
	EnvTraceID  = "POE_TRACE_ID"
	EnvParentID = "POE_PARENT_SPAN_ID"
	EnvOrigin   = "POE_TRACE_ORIGIN"
)

// Context is one run's position in a distributed trace.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string // empty for a root context
	OriginHost   string
}

func newSpanID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}

// NewRoot starts a fresh trace with no parent.
func NewRoot() Context {
	host, _ := os.Hostname()
	return Context{TraceID: uuid.New().String(), SpanID: newSpanID(), OriginHost: host}
}

// FromEnv reconstructs a Context from POE_TRACE_ID/POE_PARENT_SPAN_ID in the
// current process's environment, returning ok=false if POE_TRACE_ID is
// absent (i.e. this run was not launched by another poe invocation).
func FromEnv() (Context, bool) {
	traceID, ok := os.LookupEnv(EnvTraceID)
	if !ok || traceID == "" {
		return Context{}, false
	}
	host, _ := os.Hostname()
	return Context{
		TraceID:      traceID,
		SpanID:       newSpanID(),
		ParentSpanID: os.Getenv(EnvParentID),
		OriginHost:   host,
	}, true
}

// FromEnvOrNew reconstructs a Context from the environment, falling back to
// a fresh root trace when no POE_TRACE_ID is present.
func FromEnvOrNew() Context {
	if ctx, ok := FromEnv(); ok {
		return ctx
	}
	return NewRoot()
}

// FromPID reconstructs a Context from another process's environment,
// falling back to a fresh root. Nothing in this module calls it; the
// coordinator uses FromEnvOrNew.
func FromPID(pid int) Context {
	env, err := procfs.Environ(pid)
	if err != nil {
		return NewRoot()
	}
	vars := map[string]string{}
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	traceID, ok := vars[EnvTraceID]
	if !ok || traceID == "" {
		return NewRoot()
	}
	host, _ := os.Hostname()
	return Context{TraceID: traceID, SpanID: newSpanID(), ParentSpanID: vars[EnvParentID], OriginHost: host}
}

// Child derives a new span within the same trace, parented to this context.
func (c Context) Child() Context {
	return Context{TraceID: c.TraceID, SpanID: newSpanID(), ParentSpanID: c.SpanID, OriginHost: c.OriginHost}
}

// IsDistributed reports whether this context has a parent span, i.e. it was
// inherited from another poe invocation rather than started fresh.
func (c Context) IsDistributed() bool { return c.ParentSpanID != "" }

// InjectEnv appends this context's propagation variables onto env (in the
// os/exec "KEY=VALUE" slice form), overriding any prior values for the
// same keys.
func (c Context) InjectEnv(env []string) []string {
	out := make([]string, 0, len(env)+3)
	for _, kv := range env {
		if strings.HasPrefix(kv, EnvTraceID+"=") || strings.HasPrefix(kv, EnvParentID+"=") || strings.HasPrefix(kv, EnvOrigin+"=") {
			continue
		}
		out = append(out, kv)
	}
	out = append(out, EnvTraceID+"="+c.TraceID, EnvParentID+"="+c.SpanID, EnvOrigin+"="+c.OriginHost)
	return out
}
