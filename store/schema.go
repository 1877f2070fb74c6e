package store

const schema = `
CREATE TABLE IF NOT EXISTS run (
	id            TEXT PRIMARY KEY,
	command       TEXT NOT NULL,
	work_dir      TEXT,
	env_fp_sha256 TEXT,
	started_at    INTEGER NOT NULL,
	ended_at      INTEGER NOT NULL,
	kernel        TEXT,
	arch          TEXT,
	hostname      TEXT,
	source_commit TEXT,
	exit_code     INTEGER,
	signal        TEXT,
	trigger       TEXT
);

CREATE TABLE IF NOT EXISTS processes (
	task_id    INTEGER PRIMARY KEY,
	tid        INTEGER NOT NULL,
	parent_id  INTEGER NOT NULL,
	argv       TEXT,
	cwd        TEXT,
	started_at INTEGER NOT NULL,
	ended_at   INTEGER,
	exit_code  INTEGER,
	signal     TEXT
);
CREATE INDEX IF NOT EXISTS idx_processes_parent ON processes(parent_id);

CREATE TABLE IF NOT EXISTS events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	ts        INTEGER NOT NULL,
	task_id   INTEGER NOT NULL,
	kind      TEXT NOT NULL,
	detail    TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_ts   ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_task ON events(task_id);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);

CREATE TABLE IF NOT EXISTS files (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	ts              INTEGER NOT NULL,
	task_id         INTEGER NOT NULL,
	op              TEXT NOT NULL,
	path            TEXT,
	fd              INTEGER,
	bytes           INTEGER,
	flags           INTEGER,
	result          INTEGER,
	path_truncated  INTEGER DEFAULT 0,
	path_unreadable INTEGER DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_files_ts   ON files(ts);
CREATE INDEX IF NOT EXISTS idx_files_task ON files(task_id);
CREATE INDEX IF NOT EXISTS idx_files_path ON files(path);

CREATE TABLE IF NOT EXISTS net (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	ts       INTEGER NOT NULL,
	task_id  INTEGER NOT NULL,
	op       TEXT NOT NULL,
	proto    TEXT,
	src_addr TEXT,
	dst_addr TEXT,
	bytes    INTEGER,
	fd       INTEGER,
	result   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_net_ts   ON net(ts);
CREATE INDEX IF NOT EXISTS idx_net_task ON net(task_id);

CREATE TABLE IF NOT EXISTS stacks (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	ts      INTEGER NOT NULL,
	task_id INTEGER NOT NULL,
	frames  TEXT NOT NULL,
	weight  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stacks_ts ON stacks(ts);

CREATE TABLE IF NOT EXISTS stdio (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	ts      INTEGER NOT NULL,
	task_id INTEGER NOT NULL,
	stream  TEXT NOT NULL,
	bytes   BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stdio_ts ON stdio(ts);

CREATE TABLE IF NOT EXISTS artifacts (
	name      TEXT PRIMARY KEY,
	size      INTEGER NOT NULL,
	sha256    TEXT
);

CREATE TABLE IF NOT EXISTS spans (
	trace_id       TEXT NOT NULL,
	span_id        TEXT PRIMARY KEY,
	parent_span_id TEXT,
	task_id        INTEGER,
	started_at     INTEGER,
	ended_at       INTEGER
);

CREATE TABLE IF NOT EXISTS dns (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	ts             INTEGER NOT NULL,
	task_id        INTEGER NOT NULL,
	transaction_id INTEGER NOT NULL,
	is_response    INTEGER NOT NULL,
	flags          INTEGER,
	question_count INTEGER,
	answer_count   INTEGER,
	query_name     TEXT,
	query_type     INTEGER,
	peer_addr      TEXT
);
CREATE INDEX IF NOT EXISTS idx_dns_ts    ON dns(ts);
CREATE INDEX IF NOT EXISTS idx_dns_match ON dns(transaction_id, query_name);

CREATE TABLE IF NOT EXISTS effects (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	ts      INTEGER NOT NULL,
	task_id INTEGER NOT NULL,
	kind    TEXT NOT NULL,
	detail  TEXT
);
`
