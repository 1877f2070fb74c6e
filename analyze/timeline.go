package analyze

import (
	"sort"

	"github.com/poecap/poe/events"
)

// TimelineOp distinguishes what kind of row a TimelineEntry summarizes.
type TimelineOp string

const (
	TimelineFile    TimelineOp = "file"
	TimelineNet     TimelineOp = "net"
	TimelineProcess TimelineOp = "process"
)

// TimelineEntry is one (possibly collapsed) row in the merged timeline.
type TimelineEntry struct {
	TimestampNS int64      `json:"timestamp_ns"`
	TaskID      int        `json:"task_id"`
	Kind        TimelineOp `json:"kind"`
	Op          string     `json:"op"`
	Detail      string     `json:"detail"` // path or dst address
	Repeats     int        `json:"repeats"`
}

const collapseWindowNS = int64(1_000_000) // 1ms

// buildTimeline merges file, net, and process events by timestamp (spec.md
// §4.M), drops noise paths, and collapses consecutive repeats of the same
// (task, op, detail) within a 1ms window into one row with Repeats set.
func buildTimeline(files []events.File, nets []events.Net, procs []events.Process) []TimelineEntry {
	var raw []TimelineEntry

	for _, f := range files {
		if isNoisePath(f.Path) {
			continue
		}
		raw = append(raw, TimelineEntry{TimestampNS: f.TimestampNS, TaskID: f.TaskID, Kind: TimelineFile, Op: string(f.Op), Detail: f.Path})
	}
	for _, n := range nets {
		if isNoiseConnect(n.Proto, n.DstAddr) {
			continue
		}
		raw = append(raw, TimelineEntry{TimestampNS: n.TimestampNS, TaskID: n.TaskID, Kind: TimelineNet, Op: string(n.Op), Detail: n.DstAddr})
	}
	for _, p := range procs {
		raw = append(raw, TimelineEntry{TimestampNS: p.StartedAt.UnixNano(), TaskID: p.TaskID, Kind: TimelineProcess, Op: "start", Detail: joinArgv(p.Argv)})
		if !p.EndedAt.IsZero() {
			raw = append(raw, TimelineEntry{TimestampNS: p.EndedAt.UnixNano(), TaskID: p.TaskID, Kind: TimelineProcess, Op: "exit", Detail: p.Signal})
		}
	}

	sort.SliceStable(raw, func(i, j int) bool { return raw[i].TimestampNS < raw[j].TimestampNS })

	var out []TimelineEntry
	for _, e := range raw {
		e.Repeats = 1
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.TaskID == e.TaskID && last.Kind == e.Kind && last.Op == e.Op && last.Detail == e.Detail &&
				e.TimestampNS-last.TimestampNS <= collapseWindowNS {
				last.Repeats++
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

func joinArgv(argv []string) string {
	out := ""
	for i, a := range argv {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}
