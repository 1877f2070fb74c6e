package analyze

import (
	"fmt"
	"sort"

	"github.com/poecap/poe/events"
	"github.com/poecap/poe/store"
)

// PathCount is one entry in a top-N path/connection ranking.
type PathCount struct {
	Path  string `json:"path"`
	Ops   int    `json:"ops"`
	Bytes int64  `json:"bytes"`
}

// ErrorCount groups failures by (op, errno).
type ErrorCount struct {
	Op    string `json:"op"`
	Errno int64  `json:"errno"`
	Count int    `json:"count"`
}

// FileActivity summarizes the file-family syscalls captured for a run.
type FileActivity struct {
	Ops         int          `json:"ops"`
	UniquePaths int          `json:"unique_paths"`
	BytesRead   int64        `json:"bytes_read"`
	BytesWrite  int64        `json:"bytes_written"`
	TopPaths    []PathCount  `json:"top_paths"`
	Errors      []ErrorCount `json:"errors"`
}

// NetActivity summarizes the network-family syscalls captured for a run.
type NetActivity struct {
	Ops              int         `json:"ops"`
	TopConnections   []PathCount `json:"top_connections"`
	FailedConnections []string   `json:"failed_connections"`
}

func buildFileActivity(files []events.File) FileActivity {
	fa := FileActivity{}
	byPath := map[string]*PathCount{}
	byErr := map[[2]any]int{}
	paths := map[string]bool{}

	for _, f := range files {
		if isNoisePath(f.Path) {
			continue
		}
		fa.Ops++
		paths[f.Path] = true
		if f.Op == events.FileRead {
			fa.BytesRead += f.Bytes
		}
		if f.Op == events.FileWrite {
			fa.BytesWrite += f.Bytes
		}

		pc := byPath[f.Path]
		if pc == nil {
			pc = &PathCount{Path: f.Path}
			byPath[f.Path] = pc
		}
		pc.Ops++
		pc.Bytes += f.Bytes

		if f.Result < 0 {
			byErr[[2]any{string(f.Op), f.Result}]++
		}
	}
	fa.UniquePaths = len(paths)
	fa.TopPaths = topN(byPath, 10)
	for k, c := range byErr {
		fa.Errors = append(fa.Errors, ErrorCount{Op: k[0].(string), Errno: k[1].(int64), Count: c})
	}
	sort.Slice(fa.Errors, func(i, j int) bool { return fa.Errors[i].Count > fa.Errors[j].Count })
	return fa
}

func buildNetActivity(nets []events.Net) NetActivity {
	na := NetActivity{}
	byDst := map[string]*PathCount{}

	for _, n := range nets {
		if isNoiseConnect(n.Proto, n.DstAddr) {
			continue
		}
		na.Ops++

		pc := byDst[n.DstAddr]
		if pc == nil {
			pc = &PathCount{Path: n.DstAddr}
			byDst[n.DstAddr] = pc
		}
		pc.Ops++
		pc.Bytes += n.Bytes

		if n.Op == events.NetConnect && n.Result != 0 {
			na.FailedConnections = append(na.FailedConnections, fmt.Sprintf("%s (errno %d)", n.DstAddr, n.Result))
		}
	}
	na.TopConnections = topN(byDst, 10)
	return na
}

// DNSLookup is one query, correlated with its response if one arrived.
type DNSLookup struct {
	QueryName string `json:"query_name"`
	QueryType uint16 `json:"query_type"`
	PeerAddr  string `json:"peer_addr"`
	Answered  bool   `json:"answered"`
	LatencyMS int64  `json:"latency_ms"`
}

// DNSActivity summarizes the DNS query/response traffic correlated from the
// dns table (SPEC_FULL.md §4's dropped-feature restoration).
type DNSActivity struct {
	Queries    int         `json:"queries"`
	Unanswered int         `json:"unanswered"`
	Lookups    []DNSLookup `json:"lookups"`
}

func buildDNSActivity(pairs []store.DNSPair, all []events.DNS) DNSActivity {
	da := DNSActivity{}
	answered := map[string]bool{}

	for _, p := range pairs {
		key := dnsKey(p.Query.TransactionID, p.Query.QueryName)
		answered[key] = true
		da.Lookups = append(da.Lookups, DNSLookup{
			QueryName: p.Query.QueryName,
			QueryType: p.Query.QueryType,
			PeerAddr:  p.Query.PeerAddr,
			Answered:  true,
			LatencyMS: p.Latency.Milliseconds(),
		})
	}

	for _, d := range all {
		if d.IsResponse {
			continue
		}
		if answered[dnsKey(d.TransactionID, d.QueryName)] {
			continue
		}
		da.Unanswered++
		da.Lookups = append(da.Lookups, DNSLookup{
			QueryName: d.QueryName,
			QueryType: d.QueryType,
			PeerAddr:  d.PeerAddr,
		})
	}

	da.Queries = len(da.Lookups)
	sort.Slice(da.Lookups, func(i, j int) bool { return da.Lookups[i].QueryName < da.Lookups[j].QueryName })
	return da
}

func dnsKey(txid uint16, name string) string {
	return fmt.Sprintf("%d:%s", txid, name)
}

func topN(m map[string]*PathCount, n int) []PathCount {
	out := make([]PathCount, 0, len(m))
	for _, pc := range m {
		out = append(out, *pc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ops > out[j].Ops })
	if len(out) > n {
		out = out[:n]
	}
	return out
}
