package db

const schema = `
CREATE TABLE IF NOT EXISTS notebooks (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    title       TEXT NOT NULL,
    content     TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
    updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_notebooks_updated ON notebooks(updated_at);

CREATE TABLE IF NOT EXISTS active_mcp_servers (
    id                     INTEGER PRIMARY KEY AUTOINCREMENT,
    mcp_server_uuid        TEXT NOT NULL UNIQUE,
    name                   TEXT NOT NULL UNIQUE,
    command                TEXT NOT NULL DEFAULT '',
    args                   TEXT NOT NULL DEFAULT '[]',
    config                 TEXT NOT NULL DEFAULT '{}',
    environment_variables  TEXT NOT NULL DEFAULT '{}',
    created_at             DATETIME NOT NULL DEFAULT (datetime('now')),
    updated_at             DATETIME NOT NULL DEFAULT (datetime('now'))
);
`
