// SPDX-License-Identifier: MPL-2.0

package store

// SchemaVersion is recorded in the meta table on open.
const SchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- Device configuration; wiped by clearConfig.
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- Channel runtime values and their persisted startup values.
-- A NULL start_value means no startup value was configured.
CREATE TABLE IF NOT EXISTS channels (
    idx INTEGER PRIMARY KEY,
    value INTEGER NOT NULL DEFAULT 0,
    start_value INTEGER
);

-- Counters that survive clearConfig (boot count).
CREATE TABLE IF NOT EXISTS counters (
    name TEXT PRIMARY KEY,
    value INTEGER NOT NULL DEFAULT 0
) WITHOUT ROWID;
`
