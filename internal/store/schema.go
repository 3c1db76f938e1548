package store

import (
	"database/sql"
	"fmt"

	nellieerrors "github.com/nellielabs/nellie/internal/errors"
)

// EmbeddingDimensions must match internal/embed's fixed output width; the
// vector virtual tables are declared against this constant.
const EmbeddingDimensions = 384

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{1, migrationV1},
	{2, migrationV2},
}

const migrationV1 = `
CREATE TABLE IF NOT EXISTS chunks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_path TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	start_line INTEGER NOT NULL,
	end_line INTEGER NOT NULL,
	content TEXT NOT NULL,
	language TEXT,
	file_hash TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE(file_path, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(file_path);
CREATE INDEX IF NOT EXISTS idx_chunks_file_hash ON chunks(file_hash);
CREATE INDEX IF NOT EXISTS idx_chunks_language ON chunks(language);

CREATE TABLE IF NOT EXISTS lessons (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	tags TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL,
	agent TEXT,
	repo TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lessons_severity ON lessons(severity);
CREATE INDEX IF NOT EXISTS idx_lessons_agent ON lessons(agent);
CREATE INDEX IF NOT EXISTS idx_lessons_created_at ON lessons(created_at);

CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	agent TEXT NOT NULL,
	repo TEXT,
	session_id TEXT,
	working_on TEXT,
	state TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_agent ON checkpoints(agent);
CREATE INDEX IF NOT EXISTS idx_checkpoints_repo ON checkpoints(repo);
CREATE INDEX IF NOT EXISTS idx_checkpoints_created_at ON checkpoints(created_at);

CREATE TABLE IF NOT EXISTS file_state (
	path TEXT PRIMARY KEY,
	mod_time INTEGER NOT NULL,
	size INTEGER NOT NULL,
	digest TEXT NOT NULL,
	indexed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_status (
	agent TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	current_task TEXT,
	transition_at INTEGER NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS chunk_embeddings USING vec0(
	chunk_id INTEGER PRIMARY KEY,
	embedding float[384]
);

CREATE VIRTUAL TABLE IF NOT EXISTS lesson_embeddings USING vec0(
	lesson_id TEXT PRIMARY KEY,
	embedding float[384]
);

CREATE VIRTUAL TABLE IF NOT EXISTS checkpoint_embeddings USING vec0(
	checkpoint_id TEXT PRIMARY KEY,
	embedding float[384]
);
`

// migrationV2 adds a generic key/value state table, used for the index
// checkpoint, the embedder/query symmetry marker, and the index dimension
// guard. None of these are relational enough to warrant their own tables.
const migrationV2 = `
CREATE TABLE IF NOT EXISTS state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// runMigrations applies every pending entry of migrations in order inside
// its own transaction, recording the applied version. Running it twice is
// a no-op: already-applied versions are skipped.
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`); err != nil {
		return nellieerrors.New(nellieerrors.KindStorageMigration, "creating schema_migrations table", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return nellieerrors.New(nellieerrors.KindStorageMigration, "reading schema version", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return nellieerrors.New(nellieerrors.KindStorageMigration, fmt.Sprintf("starting migration v%d", m.version), err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return nellieerrors.New(nellieerrors.KindStorageMigration, fmt.Sprintf("applying migration v%d", m.version), err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, strftime('%s','now'))`, m.version); err != nil {
			tx.Rollback()
			return nellieerrors.New(nellieerrors.KindStorageMigration, fmt.Sprintf("recording migration v%d", m.version), err)
		}
		if err := tx.Commit(); err != nil {
			return nellieerrors.New(nellieerrors.KindStorageMigration, fmt.Sprintf("committing migration v%d", m.version), err)
		}
	}
	return nil
}
