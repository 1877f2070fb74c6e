package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/poecap/poe/events"
)

// ProcessTree returns every Process row, ordered so that parents precede
// children (stable on started_at within a parent).
func (s *Store) ProcessTree() ([]events.Process, error) {
	rows, err := s.db.Query(`SELECT task_id,tid,parent_id,argv,cwd,started_at,ended_at,exit_code,signal
		FROM processes ORDER BY started_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Process
	for rows.Next() {
		var p events.Process
		var argv string
		var startedNS int64
		var endedNS sql.NullInt64
		if err := rows.Scan(&p.TaskID, &p.TID, &p.ParentID, &argv, &p.Cwd, &startedNS, &endedNS, &p.ExitCode, &p.Signal); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(argv), &p.Argv)
		p.StartedAt = time.Unix(0, startedNS)
		if endedNS.Valid {
			p.EndedAt = time.Unix(0, endedNS.Int64)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// EventsInRange returns generic events with ts in [fromNS, toNS).
func (s *Store) EventsInRange(fromNS, toNS int64) ([]events.Event, error) {
	rows, err := s.db.Query(`SELECT ts,task_id,kind,detail FROM events WHERE ts >= ? AND ts < ? ORDER BY ts ASC`, fromNS, toNS)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var e events.Event
		var kind, detail string
		if err := rows.Scan(&e.TimestampNS, &e.TaskID, &kind, &detail); err != nil {
			return nil, err
		}
		e.Kind = events.Kind(kind)
		var v any
		_ = json.Unmarshal([]byte(detail), &v)
		e.Detail = v
		out = append(out, e)
	}
	return out, rows.Err()
}

// globToLike converts a shell-style glob (*, ?) into a SQL LIKE pattern.
func globToLike(glob string) string {
	var b strings.Builder
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FilesMatching returns file events whose path matches glob (SQL LIKE via
// globToLike), using the path-prefix index.
func (s *Store) FilesMatching(glob string) ([]events.File, error) {
	rows, err := s.db.Query(`SELECT ts,task_id,op,path,fd,bytes,flags,result,path_truncated,path_unreadable
		FROM files WHERE path LIKE ? ESCAPE '\' ORDER BY ts ASC`, globToLike(glob))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.File
	for rows.Next() {
		var f events.File
		var op string
		var path sql.NullString
		if err := rows.Scan(&f.TimestampNS, &f.TaskID, &op, &path, &f.FD, &f.Bytes, &f.Flags, &f.Result, &f.PathTruncated, &f.PathUnreadable); err != nil {
			return nil, err
		}
		f.Op = events.FileOp(op)
		f.Path = path.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// NetMatching returns net events whose destination address matches glob.
func (s *Store) NetMatching(glob string) ([]events.Net, error) {
	rows, err := s.db.Query(`SELECT ts,task_id,op,proto,src_addr,dst_addr,bytes,fd,result
		FROM net WHERE dst_addr LIKE ? ESCAPE '\' ORDER BY ts ASC`, globToLike(glob))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Net
	for rows.Next() {
		var n events.Net
		var op string
		if err := rows.Scan(&n.TimestampNS, &n.TaskID, &op, &n.Proto, &n.SrcAddr, &n.DstAddr, &n.Bytes, &n.FD, &n.Result); err != nil {
			return nil, err
		}
		n.Op = events.NetOp(op)
		out = append(out, n)
	}
	return out, rows.Err()
}

// AllFiles and AllNet return the full materialized tables, used by the
// analyzer when no glob filter is needed.
func (s *Store) AllFiles() ([]events.File, error) { return s.FilesMatching("*") }
func (s *Store) AllNet() ([]events.Net, error)    { return s.NetMatching("*") }

// AllStacks returns every sampled stack.
func (s *Store) AllStacks() ([]events.Stack, error) {
	rows, err := s.db.Query(`SELECT ts,task_id,frames,weight FROM stacks ORDER BY ts ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Stack
	for rows.Next() {
		var st events.Stack
		var frames string
		if err := rows.Scan(&st.TimestampNS, &st.TaskID, &frames, &st.Weight); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(frames), &st.Frames)
		out = append(out, st)
	}
	return out, rows.Err()
}

// AllDNS returns every decoded DNS query/response row.
func (s *Store) AllDNS() ([]events.DNS, error) {
	rows, err := s.db.Query(`SELECT ts,task_id,transaction_id,is_response,flags,question_count,answer_count,query_name,query_type,peer_addr
		FROM dns ORDER BY ts ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.DNS
	for rows.Next() {
		var d events.DNS
		var isResponse int
		var queryName, peerAddr sql.NullString
		if err := rows.Scan(&d.TimestampNS, &d.TaskID, &d.TransactionID, &isResponse, &d.Flags,
			&d.QuestionCount, &d.AnswerCount, &queryName, &d.QueryType, &peerAddr); err != nil {
			return nil, err
		}
		d.IsResponse = isResponse != 0
		d.QueryName = queryName.String
		d.PeerAddr = peerAddr.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// DNSPair is one correlated query/response, paired by transaction id and
// query name.
type DNSPair struct {
	Query    events.DNS
	Response events.DNS
	Latency  time.Duration
}

// DNSPairs correlates query/response rows by transaction id and query name
// — the same key the teacher's network/tracking.go DNSRequestCache used
// ("txid:query") — computed as a one-shot pass over the persisted dns table
// rather than an in-process LRU with goroutine-based expiry, since analysis
// happens offline against a sealed pack long after any such cache would
// have expired its entries.
func (s *Store) DNSPairs() ([]DNSPair, error) {
	all, err := s.AllDNS()
	if err != nil {
		return nil, err
	}

	var queries, responses []events.DNS
	for _, d := range all {
		if d.IsResponse {
			responses = append(responses, d)
		} else {
			queries = append(queries, d)
		}
	}

	used := make([]bool, len(responses))
	var pairs []DNSPair
	for _, q := range queries {
		for i, r := range responses {
			if used[i] || r.TransactionID != q.TransactionID || r.QueryName != q.QueryName || r.TimestampNS < q.TimestampNS {
				continue
			}
			used[i] = true
			pairs = append(pairs, DNSPair{
				Query:    q,
				Response: r,
				Latency:  time.Duration(r.TimestampNS - q.TimestampNS),
			})
			break
		}
	}
	return pairs, nil
}

// Stats summarizes row counts and stdio totals for summary.json.
type Stats struct {
	Events      int64
	Files       int64
	Net         int64
	DNS         int64
	Stacks      int64
	StdoutBytes int64
	StderrBytes int64
}

func (s *Store) Stats() (Stats, error) {
	var st Stats
	queries := []struct {
		dst   *int64
		query string
	}{
		{&st.Events, "SELECT COUNT(*) FROM events"},
		{&st.Files, "SELECT COUNT(*) FROM files"},
		{&st.Net, "SELECT COUNT(*) FROM net"},
		{&st.DNS, "SELECT COUNT(*) FROM dns"},
		{&st.Stacks, "SELECT COUNT(*) FROM stacks"},
	}
	for _, q := range queries {
		if err := s.db.QueryRow(q.query).Scan(q.dst); err != nil {
			return st, fmt.Errorf("stats: %s: %w", q.query, err)
		}
	}
	if err := s.db.QueryRow(`SELECT COALESCE(SUM(LENGTH(bytes)),0) FROM stdio WHERE stream='stdout'`).Scan(&st.StdoutBytes); err != nil {
		return st, err
	}
	if err := s.db.QueryRow(`SELECT COALESCE(SUM(LENGTH(bytes)),0) FROM stdio WHERE stream='stderr'`).Scan(&st.StderrBytes); err != nil {
		return st, err
	}
	return st, nil
}

// Reassemble concatenates every stdio chunk for stream in timestamp order.
func (s *Store) Reassemble(stream events.StdioStream) ([]byte, error) {
	rows, err := s.db.Query(`SELECT bytes FROM stdio WHERE stream=? ORDER BY ts ASC`, string(stream))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []byte
	for rows.Next() {
		var chunk []byte
		if err := rows.Scan(&chunk); err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, rows.Err()
}

// Run returns the run row, or sql.ErrNoRows if the coordinator never
// reached finalization (a crashed-coordinator signal per spec.md §3).
func (s *Store) Run() (events.Run, error) {
	var r events.Run
	var cmd, trigger string
	var startedNS, endedNS int64
	row := s.db.QueryRow(`SELECT id,command,work_dir,env_fp_sha256,started_at,ended_at,kernel,arch,hostname,source_commit,exit_code,signal,trigger FROM run LIMIT 1`)
	if err := row.Scan(&r.ID, &cmd, &r.WorkDir, &r.EnvFPSHA256, &startedNS, &endedNS, &r.Kernel, &r.Arch, &r.Hostname, &r.SourceCommit, &r.ExitCode, &r.Signal, &trigger); err != nil {
		return r, err
	}
	_ = json.Unmarshal([]byte(cmd), &r.Command)
	r.StartedAt = time.Unix(0, startedNS)
	r.EndedAt = time.Unix(0, endedNS)
	r.Trigger = events.Trigger(trigger)
	return r, nil
}
