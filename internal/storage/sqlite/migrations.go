package sqlite

// Schema creates the history tables. Executed on every open; statements are
// idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS bursts (
	id TEXT PRIMARY KEY,
	requested INTEGER NOT NULL,
	prompt TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	total INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	throttled_count INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	tokens INTEGER NOT NULL DEFAULT 0,
	aborted INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS probe_results (
	burst_id TEXT NOT NULL REFERENCES bursts(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	ts TIMESTAMP NOT NULL,
	http_status INTEGER NOT NULL,
	latency_ms INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	tokens INTEGER NOT NULL DEFAULT 0,
	retry_after_seconds INTEGER,
	remaining_tokens INTEGER,
	detail TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (burst_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_probe_results_burst ON probe_results(burst_id);
`
