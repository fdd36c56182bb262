package eventlog

// SchemaDDL defines the history index. Rows mirror the JSON-Lines event
// log one to one, keyed by seq so re-ingesting is harmless.
const SchemaDDL = `
CREATE TABLE IF NOT EXISTS events (
    seq INTEGER PRIMARY KEY,
    ts TEXT NOT NULL,
    publisher TEXT NOT NULL,
    target TEXT NOT NULL,
    event TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    data TEXT,
    indexed_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_events_publisher ON events(publisher);
CREATE INDEX IF NOT EXISTS idx_events_target ON events(target);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
`
