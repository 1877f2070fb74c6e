// Package analyze builds an offline Explanation from a captured pack:
// the six closed diagnosis rules, a noise-filtered timeline and activity
// summary, and an extensible layer of Sigma rules loaded from a rules
// directory (spec.md §4.M).
package analyze

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/poecap/poe/events"
)

// Severity is a finding's urgency, matching spec.md §4.M's three-level scale.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
)

// Finding is one diagnosis rule's output.
type Finding struct {
	Severity Severity `json:"severity"`
	Rule     string   `json:"rule"`
	Message  string   `json:"message"`
	Count    int      `json:"count,omitempty"`
}

var crashSignals = map[string]bool{
	"segmentation fault": true, "SIGSEGV": true,
	"bus error": true, "SIGBUS": true,
	"illegal instruction": true, "SIGILL": true,
	"floating point exception": true, "SIGFPE": true,
	"aborted": true, "SIGABRT": true,
}

// stderrPatterns implements diagnosis rule 6: case-insensitive scan of
// stderr for common failure vocabulary.
var stderrPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)out of memory`),
	regexp.MustCompile(`(?i)\bOOM\b`),
	regexp.MustCompile(`(?i)\bkilled\b`),
	regexp.MustCompile(`(?i)\btimeout\b`),
	regexp.MustCompile(`(?i)\bpanic\b`),
	regexp.MustCompile(`(?i)^Traceback`),
	regexp.MustCompile(`(?i)\bException\b`),
}

// diagnose runs the six built-in, closed diagnosis rules (spec.md §4.M).
// These are implemented natively rather than as Sigma rules: several need
// cross-event aggregation (permission-denied counts per path, ≥2 signaled
// processes) that a single-event Sigma match can't express without the
// evaluator's count() aggregation machinery, which the teacher's own
// evaluator.CountImplementation wiring stubs out to zero. The Sigma
// evaluator is instead reserved for the open-ended, user-supplied rule
// layer in sigma.go, which is exactly what the teacher uses it for.
func diagnose(run events.Run, files []events.File, nets []events.Net, procs []events.Process, stderrTail []byte) []Finding {
	var out []Finding

	// Rule 1: crash signal.
	if run.Signal != "" && crashSignals[run.Signal] {
		out = append(out, Finding{Severity: SeverityCritical, Rule: "crash_signal", Message: fmt.Sprintf("terminated by %s", run.Signal)})
	}

	// Rule 2: permission-denied, aggregated per path.
	deniedByPath := map[string]int{}
	for _, f := range files {
		if f.Result == -int64(unix.EACCES) {
			deniedByPath[f.Path]++
		}
	}
	for _, path := range sortedKeys(deniedByPath) {
		out = append(out, Finding{Severity: SeverityWarning, Rule: "permission_denied", Message: path, Count: deniedByPath[path]})
	}

	// Rule 3: missing file, excluding noise and PATH-search probes.
	enoentAttemptsByBase := map[string]map[string]bool{} // basename -> set of dirs probed
	for _, f := range files {
		if f.Result != -int64(unix.ENOENT) || f.Op != events.FileOpen && f.Op != events.FileStat {
			continue
		}
		base := filepath.Base(f.Path)
		dir := filepath.Dir(f.Path)
		if enoentAttemptsByBase[base] == nil {
			enoentAttemptsByBase[base] = map[string]bool{}
		}
		enoentAttemptsByBase[base][dir] = true
	}
	seen := map[string]bool{}
	for _, f := range files {
		if f.Result != -int64(unix.ENOENT) || f.Op != events.FileOpen && f.Op != events.FileStat {
			continue
		}
		if isNoisePath(f.Path) || seen[f.Path] {
			continue
		}
		base := filepath.Base(f.Path)
		if isPathSearchProbe(base, countOf(enoentAttemptsByBase[base])) {
			continue
		}
		seen[f.Path] = true
		out = append(out, Finding{Severity: SeverityWarning, Rule: "missing_file", Message: f.Path})
	}

	// Rule 4: failed connection.
	for _, n := range nets {
		if n.Op == events.NetConnect && n.Result != 0 {
			out = append(out, Finding{Severity: SeverityError, Rule: "failed_connection", Message: n.DstAddr})
		}
	}

	// Rule 5: multiple signaled processes.
	signaled := 0
	for _, p := range procs {
		if p.Signal != "" {
			signaled++
		}
	}
	if signaled >= 2 {
		out = append(out, Finding{Severity: SeverityError, Rule: "multi_signal_death", Message: fmt.Sprintf("%d tasks ended by signal", signaled), Count: signaled})
	}

	// Rule 6: stderr pattern scan, first matching line per pattern.
	reported := map[int]bool{}
	for _, line := range splitLines(stderrTail) {
		for i, re := range stderrPatterns {
			if re.MatchString(line) {
				if !reported[i] {
					reported[i] = true
					out = append(out, Finding{Severity: SeverityError, Rule: "stderr_pattern", Message: strings.TrimSpace(line)})
				}
				break
			}
		}
	}

	return out
}

func countOf(dirs map[string]bool) int { return len(dirs) }

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func splitLines(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	return strings.Split(strings.TrimRight(string(b), "\n"), "\n")
}
