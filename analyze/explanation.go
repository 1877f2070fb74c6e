package analyze

import (
	"sort"

	"github.com/poecap/poe/events"
	"github.com/poecap/poe/pack"
)

// StackHotspot is one leaf instruction address ranked by sampled weight.
// Symbolization needs the traced process's memory map, which no longer
// exists once the run has ended, so offline hotspots are reported by raw
// leaf address rather than resolved symbol. The symbols package resolves
// addresses only against a live pid's memory map.
type StackHotspot struct {
	LeafAddr uint64 `json:"leaf_addr"`
	Samples  int    `json:"samples"`
	Weight   uint64 `json:"weight"`
}

// Explanation is the full offline report the `poe explain` command renders
// (spec.md §4.M): diagnosis findings, the process tree, stack hotspots,
// file/network activity, the merged timeline, and the stdio tails.
type Explanation struct {
	Run         events.Run         `json:"run"`
	Findings    []Finding          `json:"findings"`
	ProcessTree []events.Process   `json:"process_tree"`
	Hotspots    []StackHotspot     `json:"hotspots"`
	Files       FileActivity       `json:"files"`
	Net         NetActivity        `json:"net"`
	DNS         DNSActivity        `json:"dns"`
	Timeline    []TimelineEntry    `json:"timeline"`
	StderrTail  string             `json:"stderr_tail"`
	StdoutTail  string             `json:"stdout_tail"`
}

// Analyze opens a sealed pack and builds its Explanation. rulesDir, when
// non-empty, additionally loads and evaluates operator-supplied Sigma
// rules from that directory; findings from both layers are merged.
func Analyze(packPath, rulesDir string) (*Explanation, error) {
	r, err := pack.Open(packPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	st, err := r.Store()
	if err != nil {
		return nil, err
	}
	defer st.Close()

	run, err := st.Run()
	if err != nil {
		return nil, err
	}
	files, err := st.AllFiles()
	if err != nil {
		return nil, err
	}
	nets, err := st.AllNet()
	if err != nil {
		return nil, err
	}
	procs, err := st.ProcessTree()
	if err != nil {
		return nil, err
	}
	stacks, err := st.AllStacks()
	if err != nil {
		return nil, err
	}
	dnsPairs, err := st.DNSPairs()
	if err != nil {
		return nil, err
	}
	allDNS, err := st.AllDNS()
	if err != nil {
		return nil, err
	}

	stderrTail := r.StderrTail()
	findings := diagnose(run, files, nets, procs, stderrTail)

	if ur, err := LoadUserRules(rulesDir); err != nil {
		log.WithError(err).Warn("user rules disabled")
	} else if ur != nil {
		defer ur.Close()
		for _, f := range files {
			findings = append(findings, ur.Check(fileEventMap(f))...)
		}
		for _, n := range nets {
			findings = append(findings, ur.Check(netEventMap(n))...)
		}
	}

	return &Explanation{
		Run:         run,
		Findings:    findings,
		ProcessTree: procs,
		Hotspots:    buildHotspots(stacks),
		Files:       buildFileActivity(files),
		Net:         buildNetActivity(nets),
		DNS:         buildDNSActivity(dnsPairs, allDNS),
		Timeline:    buildTimeline(files, nets, procs),
		StderrTail:  string(stderrTail),
		StdoutTail:  string(r.StdoutTail()),
	}, nil
}

func buildHotspots(stacks []events.Stack) []StackHotspot {
	byLeaf := map[uint64]*StackHotspot{}
	for _, s := range stacks {
		if len(s.Frames) == 0 {
			continue
		}
		leaf := s.Frames[0]
		hs := byLeaf[leaf]
		if hs == nil {
			hs = &StackHotspot{LeafAddr: leaf}
			byLeaf[leaf] = hs
		}
		hs.Samples++
		hs.Weight += s.Weight
	}

	out := make([]StackHotspot, 0, len(byLeaf))
	for _, hs := range byLeaf {
		out = append(out, *hs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	if len(out) > 20 {
		out = out[:20]
	}
	return out
}

func fileEventMap(f events.File) map[string]any {
	return map[string]any{
		"Path":   f.Path,
		"Op":     string(f.Op),
		"Result": f.Result,
	}
}

func netEventMap(n events.Net) map[string]any {
	return map[string]any{
		"DstAddr": n.DstAddr,
		"Proto":   n.Proto,
		"Op":      string(n.Op),
		"Result":  n.Result,
	}
}
