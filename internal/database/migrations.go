package database

// created_at holds unix nanoseconds so ordering is exact on both backends.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS history (
    owner_id TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    id TEXT NOT NULL,
    extension TEXT NOT NULL DEFAULT '',
    blob_key TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    PRIMARY KEY (owner_id, category, id)
);

CREATE TABLE IF NOT EXISTS selfies (
    owner_id TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    id TEXT NOT NULL,
    extension TEXT NOT NULL DEFAULT '',
    blob_key TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    PRIMARY KEY (owner_id, category, id)
);

CREATE INDEX IF NOT EXISTS idx_history_created ON history (owner_id, category, created_at);
CREATE INDEX IF NOT EXISTS idx_selfies_created ON selfies (owner_id, category, created_at);
`

// seq breaks created_at ties in insertion order, like rowid does in SQLite.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS history (
    seq BIGSERIAL,
    owner_id TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    id TEXT NOT NULL,
    extension TEXT NOT NULL DEFAULT '',
    blob_key TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL,
    PRIMARY KEY (owner_id, category, id)
);

CREATE TABLE IF NOT EXISTS selfies (
    seq BIGSERIAL,
    owner_id TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    id TEXT NOT NULL,
    extension TEXT NOT NULL DEFAULT '',
    blob_key TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL,
    PRIMARY KEY (owner_id, category, id)
);

CREATE INDEX IF NOT EXISTS idx_history_created ON history (owner_id, category, created_at);
CREATE INDEX IF NOT EXISTS idx_selfies_created ON selfies (owner_id, category, created_at);
`
