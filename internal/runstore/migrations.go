package runstore

const schema = `
CREATE TABLE IF NOT EXISTS build_runs (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL DEFAULT 'queued',
    paused BOOLEAN DEFAULT FALSE,
    current_ticket_id TEXT DEFAULT '',
    error TEXT DEFAULT '',
    input TEXT NOT NULL,
    tickets TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_build_runs_status ON build_runs(status);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES build_runs(id),
    type TEXT NOT NULL,
    payload TEXT,
    at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id, id);
`
