package store

// schemaSQL is the DDL for the base tables.
const schemaSQL = `
-- One row per pipeline run; id is a ULID so ids sort by creation time
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    source_hash TEXT NOT NULL,
    strategy TEXT NOT NULL,
    status TEXT NOT NULL,
    summary TEXT,
    facts_raw TEXT,
    unstructured BOOLEAN DEFAULT 0,
    warnings JSON,
    failures JSON,
    duration_ms INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Diagrams produced by a run, in output order
CREATE TABLE IF NOT EXISTS artifacts (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    kind TEXT NOT NULL,
    markup TEXT NOT NULL DEFAULT '',
    markup_path TEXT NOT NULL DEFAULT '',
    image_path TEXT NOT NULL DEFAULT '',
    document_path TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    write_error TEXT NOT NULL DEFAULT '',
    render_error TEXT NOT NULL DEFAULT '',
    convert_error TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (run_id, kind)
);

CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_runs_source_hash ON runs(source_hash);
`
