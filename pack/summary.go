package pack

import "github.com/poecap/poe/events"

// Summary is the pack's preview object, written to summary.json and kept in
// sync with trace.sqlite by always being regenerated from the checkpointed
// store rather than carried forward from in-memory state (spec.md §6).
type Summary struct {
	RunID      string         `json:"run_id"`
	Command    []string       `json:"command"`
	ExitCode   int            `json:"exit_code"`
	Signal     string         `json:"signal,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Trigger    string         `json:"trigger"`
	Failure    *Failure       `json:"failure,omitempty"`
	Stats      SummaryStats   `json:"stats"`
}

// Failure classifies why a run produced a pack at all, for a quick glance
// without opening trace.sqlite.
type Failure struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

// SummaryStats mirrors store.Stats, duplicated here (rather than imported)
// so summary.json's field names are the pack's own public contract and
// don't drift if the store package's internal Stats shape changes.
type SummaryStats struct {
	Events      int64 `json:"events"`
	Files       int64 `json:"files"`
	Net         int64 `json:"net"`
	DNS         int64 `json:"dns"`
	Stacks      int64 `json:"stacks"`
	StdoutBytes int64 `json:"stdout_bytes"`
	StderrBytes int64 `json:"stderr_bytes"`
}

func failureFor(run events.Run) *Failure {
	switch run.Trigger {
	case events.TriggerCrash:
		return &Failure{Kind: "crash", Description: "terminated by a core-dumping signal: " + run.Signal}
	case events.TriggerSignal:
		return &Failure{Kind: "signal", Description: "terminated by signal: " + run.Signal}
	case events.TriggerNonZero:
		return &Failure{Kind: "nonzero_exit", Description: "exited nonzero"}
	default:
		return nil
	}
}

// Meta is meta/environment.json's shape: the redacted environment plus
// host/tool identifying fields spec.md §6 lists alongside it.
type Meta struct {
	Environment map[string]string `json:"environment"`
	Hostname    string            `json:"hostname"`
	Kernel      string            `json:"kernel"`
	Arch        string            `json:"arch"`
	ToolVersion string            `json:"tool_version"`
}
