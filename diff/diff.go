// Package diff implements the two-pack differ (spec.md §4.N): set algebra
// over a baseline and a candidate Explanation, producing exit/signal/
// duration deltas, symmetric differences of argv/path/connection sets, and
// byte-count deltas for surviving paths and connections.
package diff

import (
	"fmt"
	"sort"

	"github.com/poecap/poe/analyze"
)

// Diff is the full two-pack comparison result.
type Diff struct {
	ExitCodeChanged bool  `json:"exit_code_changed"`
	BaselineExit    int   `json:"baseline_exit_code"`
	CandidateExit   int   `json:"candidate_exit_code"`
	SignalChanged   bool  `json:"signal_changed"`
	BaselineSignal  string `json:"baseline_signal"`
	CandidateSignal string `json:"candidate_signal"`
	DurationDeltaMS int64 `json:"duration_delta_ms"`

	NewArgv     []string `json:"new_argv"`
	MissingArgv []string `json:"missing_argv"`

	NewPaths     []string `json:"new_paths"`
	MissingPaths []string `json:"missing_paths"`
	PathByteDeltas []PathDelta `json:"path_byte_deltas"`

	NewConnections     []string `json:"new_connections"`
	MissingConnections []string `json:"missing_connections"`
	ConnectionByteDeltas []PathDelta `json:"connection_byte_deltas"`

	NewStderrLines     []string `json:"new_stderr_lines"`
	MissingStderrLines []string `json:"missing_stderr_lines"`
}

// PathDelta is the byte-count delta for a path or connection present in
// both the baseline and the candidate.
type PathDelta struct {
	Key            string `json:"key"`
	BaselineBytes  int64  `json:"baseline_bytes"`
	CandidateBytes int64  `json:"candidate_bytes"`
	DeltaBytes     int64  `json:"delta_bytes"`
}

// Compare produces the set-algebra diff between two explanations. Argument
// order matters for the *_bytes/*_exit_code/*_signal fields but not for
// which set an entry lands in (new vs. missing is always candidate-minus-
// baseline vs. baseline-minus-candidate).
func Compare(baseline, candidate *analyze.Explanation) Diff {
	d := Diff{
		ExitCodeChanged: baseline.Run.ExitCode != candidate.Run.ExitCode,
		BaselineExit:    baseline.Run.ExitCode,
		CandidateExit:   candidate.Run.ExitCode,
		SignalChanged:   baseline.Run.Signal != candidate.Run.Signal,
		BaselineSignal:  baseline.Run.Signal,
		CandidateSignal: candidate.Run.Signal,
		DurationDeltaMS: durationMS(candidate) - durationMS(baseline),
	}

	baseArgv := argvSet(baseline)
	candArgv := argvSet(candidate)
	d.NewArgv = sortedDiff(candArgv, baseArgv)
	d.MissingArgv = sortedDiff(baseArgv, candArgv)

	basePaths, baseBytes := pathSet(baseline)
	candPaths, candBytes := pathSet(candidate)
	d.NewPaths = sortedDiff(candPaths, basePaths)
	d.MissingPaths = sortedDiff(basePaths, candPaths)
	d.PathByteDeltas = byteDeltas(basePaths, candPaths, baseBytes, candBytes)

	baseConns, baseConnBytes := connectionSet(baseline)
	candConns, candConnBytes := connectionSet(candidate)
	d.NewConnections = sortedDiff(candConns, baseConns)
	d.MissingConnections = sortedDiff(baseConns, candConns)
	d.ConnectionByteDeltas = byteDeltas(baseConns, candConns, baseConnBytes, candConnBytes)

	baseLines := lineSet(baseline.StderrTail)
	candLines := lineSet(candidate.StderrTail)
	d.NewStderrLines = sortedDiff(candLines, baseLines)
	d.MissingStderrLines = sortedDiff(baseLines, candLines)

	return d
}

func durationMS(e *analyze.Explanation) int64 {
	return e.Run.EndedAt.Sub(e.Run.StartedAt).Milliseconds()
}

// argvSet renders each process's (task, argv) pair as "taskID:argv..." so
// that the same command run by two different tasks is tracked separately,
// matching spec.md §4.N's "(task→argv) pairs" framing.
func argvSet(e *analyze.Explanation) map[string]bool {
	out := map[string]bool{}
	for _, p := range e.ProcessTree {
		out[fmt.Sprintf("%d:%s", p.TaskID, joinArgs(p.Argv))] = true
	}
	return out
}

func joinArgs(argv []string) string {
	out := ""
	for i, a := range argv {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

func pathSet(e *analyze.Explanation) (map[string]bool, map[string]int64) {
	set := map[string]bool{}
	bytes := map[string]int64{}
	for _, pc := range e.Files.TopPaths {
		set[pc.Path] = true
		bytes[pc.Path] += pc.Bytes
	}
	return set, bytes
}

func connectionSet(e *analyze.Explanation) (map[string]bool, map[string]int64) {
	set := map[string]bool{}
	bytes := map[string]int64{}
	for _, pc := range e.Net.TopConnections {
		set[pc.Path] = true // PathCount.Path holds the destination address here
		bytes[pc.Path] += pc.Bytes
	}
	return set, bytes
}

func lineSet(text string) map[string]bool {
	out := map[string]bool{}
	start := 0
	for i := 0; i <= len(text); i++ {
		if i == len(text) || text[i] == '\n' {
			if i > start {
				out[text[start:i]] = true
			}
			start = i + 1
		}
	}
	return out
}

// sortedDiff returns the sorted keys present in a but not in b.
func sortedDiff(a, b map[string]bool) []string {
	var out []string
	for k := range a {
		if !b[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func byteDeltas(baseSet, candSet map[string]bool, baseBytes, candBytes map[string]int64) []PathDelta {
	var out []PathDelta
	for k := range baseSet {
		if !candSet[k] {
			continue
		}
		out = append(out, PathDelta{
			Key:            k,
			BaselineBytes:  baseBytes[k],
			CandidateBytes: candBytes[k],
			DeltaBytes:     candBytes[k] - baseBytes[k],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
