package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sqlitevec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	nellieerrors "github.com/nellielabs/nellie/internal/errors"
)

func init() {
	sqlitevec.Auto()
}

const (
	minPageCacheKB = 64 * 1024  // 64 MiB, expressed as negative KB for PRAGMA cache_size
	minMmapBytes   = 256 << 20  // 256 MiB
)

// SQLiteStore is the Store implementation: one SQLite database file
// coupling relational rows with sqlite-vec virtual tables for chunk,
// lesson, and checkpoint embeddings. Writers serialise on mu; readers
// proceed concurrently against the shared *sql.DB connection pool.
type SQLiteStore struct {
	mu        sync.Mutex
	db        *sql.DB
	path      string
	closed    bool
	textIndex *lessonTextIndex // nil when unavailable; callers degrade to LIKE
}

var _ Store = (*SQLiteStore)(nil)

// Open creates or opens the database at path, verifies the vector
// extension is live, configures the connection, and runs pending schema
// migrations. An empty path opens an in-memory database, useful for tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nellieerrors.New(nellieerrors.KindStorageDatabase, "creating database directory", err)
			}
		}
	} else {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, nellieerrors.New(nellieerrors.KindStorageDatabase, "opening database", err)
	}
	if path == "" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", minPageCacheKB),
		fmt.Sprintf("PRAGMA mmap_size = %d", minMmapBytes),
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	// Until "PRAGMA busy_timeout" itself takes effect, a concurrently
	// opening process (another nellie-core instance pointed at the same
	// data dir) can make this first Exec fail with SQLITE_BUSY. Retry the
	// whole pragma sequence a few times rather than fail Open outright.
	configureCfg := nellieerrors.RetryConfig{
		MaxRetries:   3,
		InitialDelay: 25 * time.Millisecond,
		MaxDelay:     400 * time.Millisecond,
		Multiplier:   2,
		Jitter:       true,
	}
	if err := nellieerrors.Retry(context.Background(), configureCfg, func() error {
		for _, p := range pragmas {
			if _, err := db.Exec(p); err != nil {
				return nellieerrors.New(nellieerrors.KindStorageDatabase, "configuring connection: "+p, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	if err := verifyVectorExtension(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db, path: path}

	textIndexPath := ""
	if path != "" {
		textIndexPath = path + "-lessons.bleve"
	}
	textIndex, err := openLessonTextIndex(textIndexPath)
	if err != nil {
		slog.Warn("lesson_text_index_unavailable", slog.String("error", err.Error()))
	} else {
		store.textIndex = textIndex
	}

	return store, nil
}

// verifyVectorExtension confirms the sqlite-vec extension actually loaded
// by querying its version. A silently-absent extension would otherwise
// accept vector inserts and return zero distances on every search.
func verifyVectorExtension(db *sql.DB) error {
	var version string
	if err := db.QueryRow("SELECT vec_version()").Scan(&version); err != nil {
		return nellieerrors.New(nellieerrors.KindStorageVector, "sqlite-vec extension not live", err)
	}
	return nil
}

// DB returns the underlying connection pool, for companion stores (such
// as internal/telemetry's metrics tables) that share this database file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.textIndex != nil {
		if err := s.textIndex.close(); err != nil {
			slog.Warn("lesson_text_index_close_failed", slog.String("error", err.Error()))
		}
	}
	return s.db.Close()
}

func serializeEmbedding(v []float32) ([]byte, error) {
	b, err := sqlitevec.SerializeFloat32(v)
	if err != nil {
		return nil, nellieerrors.New(nellieerrors.KindStorageVector, "serializing embedding", err)
	}
	return b, nil
}

// --- Chunk operations ---

func (s *SQLiteStore) InsertChunk(ctx context.Context, chunk *Chunk) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, nellieerrors.New(nellieerrors.KindStorageDatabase, "beginning chunk insert", err)
	}
	defer tx.Rollback()

	id, err := insertChunkTx(tx, chunk)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, nellieerrors.New(nellieerrors.KindStorageDatabase, "committing chunk insert", err)
	}
	return id, nil
}

func insertChunkTx(tx *sql.Tx, chunk *Chunk) (int64, error) {
	res, err := tx.Exec(`
		INSERT INTO chunks (file_path, chunk_index, start_line, end_line, content, language, file_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		chunk.FilePath, chunk.ChunkIndex, chunk.StartLine, chunk.EndLine,
		chunk.Content, chunk.Language, chunk.FileHash, nowUnix())
	if err != nil {
		return 0, nellieerrors.New(nellieerrors.KindStorageDatabase, "inserting chunk row", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, nellieerrors.New(nellieerrors.KindStorageDatabase, "reading inserted chunk id", err)
	}

	if chunk.Embedding != nil {
		blob, err := serializeEmbedding(chunk.Embedding)
		if err != nil {
			return 0, err
		}
		if _, err := tx.Exec(`INSERT INTO chunk_embeddings (chunk_id, embedding) VALUES (?, ?)`, id, blob); err != nil {
			return 0, nellieerrors.New(nellieerrors.KindStorageVector, "inserting chunk embedding", err)
		}
	}
	return id, nil
}

func (s *SQLiteStore) InsertChunks(ctx context.Context, chunks []*Chunk) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, nellieerrors.New(nellieerrors.KindStorageDatabase, "beginning batch chunk insert", err)
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(chunks))
	for _, c := range chunks {
		id, err := insertChunkTx(tx, c)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, nellieerrors.New(nellieerrors.KindStorageDatabase, "committing batch chunk insert", err)
	}
	return ids, nil
}

func (s *SQLiteStore) GetChunk(ctx context.Context, id int64) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, file_path, chunk_index, start_line, end_line, content, language, file_hash, created_at
		FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func scanChunk(row *sql.Row) (*Chunk, error) {
	var c Chunk
	var language sql.NullString
	var createdAt int64
	if err := row.Scan(&c.ID, &c.FilePath, &c.ChunkIndex, &c.StartLine, &c.EndLine, &c.Content, &language, &c.FileHash, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nellieerrors.NotFound("chunk", fmt.Sprintf("%d", c.ID))
		}
		return nil, nellieerrors.New(nellieerrors.KindStorageDatabase, "scanning chunk row", err)
	}
	c.Language = language.String
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &c, nil
}

func (s *SQLiteStore) GetChunksByPath(ctx context.Context, path string) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_path, chunk_index, start_line, end_line, content, language, file_hash, created_at
		FROM chunks WHERE file_path = ? ORDER BY chunk_index`, path)
	if err != nil {
		return nil, nellieerrors.New(nellieerrors.KindStorageDatabase, "querying chunks by path", err)
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		var c Chunk
		var language sql.NullString
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.FilePath, &c.ChunkIndex, &c.StartLine, &c.EndLine, &c.Content, &language, &c.FileHash, &createdAt); err != nil {
			return nil, nellieerrors.New(nellieerrors.KindStorageDatabase, "scanning chunk row", err)
		}
		c.Language = language.String
		c.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteChunk(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nellieerrors.New(nellieerrors.KindStorageDatabase, "beginning chunk delete", err)
	}
	defer tx.Rollback()

	// Best-effort: the vector row may not exist if the chunk was never embedded.
	_, _ = tx.Exec(`DELETE FROM chunk_embeddings WHERE chunk_id = ?`, id)
	if _, err := tx.Exec(`DELETE FROM chunks WHERE id = ?`, id); err != nil {
		return nellieerrors.New(nellieerrors.KindStorageDatabase, "deleting chunk row", err)
	}
	if err := tx.Commit(); err != nil {
		return nellieerrors.New(nellieerrors.KindStorageDatabase, "committing chunk delete", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteChunksByPath(ctx context.Context, path string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nellieerrors.New(nellieerrors.KindStorageDatabase, "beginning chunk delete by path", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT id FROM chunks WHERE file_path = ?`, path)
	if err != nil {
		return 0, nellieerrors.New(nellieerrors.KindStorageDatabase, "collecting chunk ids for path", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, nellieerrors.New(nellieerrors.KindStorageDatabase, "scanning chunk id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		_, _ = tx.Exec(`DELETE FROM chunk_embeddings WHERE chunk_id = ?`, id)
	}
	if _, err := tx.Exec(`DELETE FROM chunks WHERE file_path = ?`, path); err != nil {
		return 0, nellieerrors.New(nellieerrors.KindStorageDatabase, "deleting chunk rows for path", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, nellieerrors.New(nellieerrors.KindStorageDatabase, "committing chunk delete by path", err)
	}
	return len(ids), nil
}

func (s *SQLiteStore) UpdateChunkEmbedding(ctx context.Context, id int64, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := serializeEmbedding(embedding)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nellieerrors.New(nellieerrors.KindStorageDatabase, "beginning embedding update", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chunk_embeddings WHERE chunk_id = ?`, id); err != nil {
		return nellieerrors.New(nellieerrors.KindStorageVector, "clearing prior chunk embedding", err)
	}
	if _, err := tx.Exec(`INSERT INTO chunk_embeddings (chunk_id, embedding) VALUES (?, ?)`, id, blob); err != nil {
		return nellieerrors.New(nellieerrors.KindStorageVector, "inserting chunk embedding", err)
	}
	if err := tx.Commit(); err != nil {
		return nellieerrors.New(nellieerrors.KindStorageDatabase, "committing embedding update", err)
	}
	return nil
}

func (s *SQLiteStore) SearchChunks(ctx context.Context, queryEmbedding []float32, filter ChunkFilter) ([]*SearchResult, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	candidateLimit := limit * 3

	blob, err := serializeEmbedding(queryEmbedding)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, distance FROM chunk_embeddings
		WHERE embedding MATCH ? ORDER BY distance LIMIT ?`, blob, candidateLimit)
	if err != nil {
		return nil, nellieerrors.New(nellieerrors.KindStorageVector, "searching chunk embeddings", err)
	}
	defer rows.Close()

	var results []*SearchResult
	for rows.Next() {
		var chunkID int64
		var distance float64
		if err := rows.Scan(&chunkID, &distance); err != nil {
			return nil, nellieerrors.New(nellieerrors.KindStorageVector, "scanning chunk search row", err)
		}
		score := clampScore(float32(distance))
		if float64(score) < filter.MinScore {
			continue
		}
		chunk, err := s.GetChunk(ctx, chunkID)
		if err != nil {
			if nellieerrors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if filter.Language != "" && chunk.Language != filter.Language {
			continue
		}
		if filter.PathPattern != "" {
			matched, err := filepath.Match(filter.PathPattern, chunk.FilePath)
			if err != nil || !matched {
				continue
			}
		}
		results = append(results, &SearchResult{Chunk: chunk, Distance: float32(distance), Score: score})
		if len(results) >= limit {
			break
		}
	}
	return results, rows.Err()
}

// --- Lesson operations ---

func (s *SQLiteStore) InsertLesson(ctx context.Context, lesson *Lesson) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nellieerrors.New(nellieerrors.KindStorageDatabase, "beginning lesson insert", err)
	}
	defer tx.Rollback()

	now := nowUnix()
	if _, err := tx.Exec(`
		INSERT INTO lessons (id, title, content, tags, severity, agent, repo, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lesson.ID, lesson.Title, lesson.Content, strings.Join(lesson.Tags, ","),
		string(lesson.Severity), lesson.Agent, lesson.Repo, now, now); err != nil {
		return nellieerrors.New(nellieerrors.KindStorageDatabase, "inserting lesson row", err)
	}
	if lesson.Embedding != nil {
		blob, err := serializeEmbedding(lesson.Embedding)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO lesson_embeddings (lesson_id, embedding) VALUES (?, ?)`, lesson.ID, blob); err != nil {
			return nellieerrors.New(nellieerrors.KindStorageVector, "inserting lesson embedding", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nellieerrors.New(nellieerrors.KindStorageDatabase, "committing lesson insert", err)
	}
	if s.textIndex != nil {
		if err := s.textIndex.upsert(lesson); err != nil {
			slog.Warn("lesson_text_index_update_failed", slog.String("lesson_id", lesson.ID), slog.String("error", err.Error()))
		}
	}
	return nil
}

func (s *SQLiteStore) GetLesson(ctx context.Context, id string) (*Lesson, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, tags, severity, agent, repo, created_at, updated_at
		FROM lessons WHERE id = ?`, id)
	return scanLesson(row)
}

func scanLesson(row *sql.Row) (*Lesson, error) {
	var l Lesson
	var tags string
	var agent, repo sql.NullString
	var createdAt, updatedAt int64
	if err := row.Scan(&l.ID, &l.Title, &l.Content, &tags, &l.Severity, &agent, &repo, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nellieerrors.NotFound("lesson", l.ID)
		}
		return nil, nellieerrors.New(nellieerrors.KindStorageDatabase, "scanning lesson row", err)
	}
	if tags != "" {
		l.Tags = strings.Split(tags, ",")
	}
	l.Agent = agent.String
	l.Repo = repo.String
	l.CreatedAt = time.Unix(createdAt, 0).UTC()
	l.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &l, nil
}

func (s *SQLiteStore) ListLessons(ctx context.Context, filter LessonFilter) ([]*Lesson, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT id, title, content, tags, severity, agent, repo, created_at, updated_at FROM lessons`
	args := []interface{}{}
	if filter.Severity != "" {
		query += ` WHERE severity = ?`
		args = append(args, string(filter.Severity))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nellieerrors.New(nellieerrors.KindStorageDatabase, "listing lessons", err)
	}
	defer rows.Close()

	var out []*Lesson
	for rows.Next() {
		var l Lesson
		var tags string
		var agent, repo sql.NullString
		var createdAt, updatedAt int64
		if err := rows.Scan(&l.ID, &l.Title, &l.Content, &tags, &l.Severity, &agent, &repo, &createdAt, &updatedAt); err != nil {
			return nil, nellieerrors.New(nellieerrors.KindStorageDatabase, "scanning lesson row", err)
		}
		if tags != "" {
			l.Tags = strings.Split(tags, ",")
		}
		l.Agent = agent.String
		l.Repo = repo.String
		l.CreatedAt = time.Unix(createdAt, 0).UTC()
		l.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteLesson(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nellieerrors.New(nellieerrors.KindStorageDatabase, "beginning lesson delete", err)
	}
	defer tx.Rollback()

	_, _ = tx.Exec(`DELETE FROM lesson_embeddings WHERE lesson_id = ?`, id)
	if _, err := tx.Exec(`DELETE FROM lessons WHERE id = ?`, id); err != nil {
		return nellieerrors.New(nellieerrors.KindStorageDatabase, "deleting lesson row", err)
	}
	if err := tx.Commit(); err != nil {
		return nellieerrors.New(nellieerrors.KindStorageDatabase, "committing lesson delete", err)
	}
	if s.textIndex != nil {
		if err := s.textIndex.delete(id); err != nil {
			slog.Warn("lesson_text_index_delete_failed", slog.String("lesson_id", id), slog.String("error", err.Error()))
		}
	}
	return nil
}

func (s *SQLiteStore) SearchLessons(ctx context.Context, queryEmbedding []float32, filter LessonFilter) ([]*SearchResult, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	candidateLimit := limit * 3

	blob, err := serializeEmbedding(queryEmbedding)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT lesson_id, distance FROM lesson_embeddings
		WHERE embedding MATCH ? ORDER BY distance LIMIT ?`, blob, candidateLimit)
	if err != nil {
		return nil, nellieerrors.New(nellieerrors.KindStorageVector, "searching lesson embeddings", err)
	}
	defer rows.Close()

	var results []*SearchResult
	for rows.Next() {
		var lessonID string
		var distance float64
		if err := rows.Scan(&lessonID, &distance); err != nil {
			return nil, nellieerrors.New(nellieerrors.KindStorageVector, "scanning lesson search row", err)
		}
		score := clampScore(float32(distance))
		if float64(score) < filter.MinScore {
			continue
		}
		lesson, err := s.GetLesson(ctx, lessonID)
		if err != nil {
			if nellieerrors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if filter.Severity != "" && lesson.Severity != filter.Severity {
			continue
		}
		results = append(results, &SearchResult{Lesson: lesson, Distance: float32(distance), Score: score})
		if len(results) >= limit {
			break
		}
	}
	return results, rows.Err()
}

func (s *SQLiteStore) SearchLessonsByText(ctx context.Context, query string, filter LessonFilter) ([]*SearchResult, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}

	if s.textIndex != nil {
		ids, err := s.textIndex.searchText(ctx, query, limit)
		if err == nil {
			return s.lessonResultsByID(ctx, ids)
		}
		slog.Warn("lesson_text_index_search_failed_falling_back", slog.String("error", err.Error()))
	}

	like := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, tags, severity, agent, repo, created_at, updated_at
		FROM lessons WHERE title LIKE ? OR content LIKE ? ORDER BY created_at DESC LIMIT ?`, like, like, limit)
	if err != nil {
		return nil, nellieerrors.New(nellieerrors.KindStorageDatabase, "searching lessons by text", err)
	}
	defer rows.Close()
	return scanLessonResults(rows)
}

func (s *SQLiteStore) SearchLessonsByTag(ctx context.Context, tag string, filter LessonFilter) ([]*SearchResult, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}

	if s.textIndex != nil {
		ids, err := s.textIndex.searchTag(ctx, tag, limit)
		if err == nil {
			return s.lessonResultsByID(ctx, ids)
		}
		slog.Warn("lesson_text_index_tag_search_failed_falling_back", slog.String("error", err.Error()))
	}

	// tags is stored comma-joined with no leading/trailing delimiter
	// ("go,backend"), so a plain "%tag%" LIKE would match "django" against
	// tag "go". Wrap both sides in commas at query time so the match can
	// only land on a whole tag.
	like := "%," + tag + ",%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, tags, severity, agent, repo, created_at, updated_at
		FROM lessons WHERE (',' || tags || ',') LIKE ? ORDER BY created_at DESC LIMIT ?`, like, limit)
	if err != nil {
		return nil, nellieerrors.New(nellieerrors.KindStorageDatabase, "searching lessons by tag", err)
	}
	defer rows.Close()
	return scanLessonResults(rows)
}

// lessonResultsByID resolves lesson ids from the text index against the
// relational table, preserving the index's relevance ordering and
// silently dropping ids whose row has since been deleted.
func (s *SQLiteStore) lessonResultsByID(ctx context.Context, ids []string) ([]*SearchResult, error) {
	out := make([]*SearchResult, 0, len(ids))
	for _, id := range ids {
		lesson, err := s.GetLesson(ctx, id)
		if err != nil {
			if nellieerrors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, &SearchResult{Lesson: lesson, Score: 1})
	}
	return out, nil
}

func scanLessonResults(rows *sql.Rows) ([]*SearchResult, error) {
	var out []*SearchResult
	for rows.Next() {
		var l Lesson
		var tags string
		var agent, repo sql.NullString
		var createdAt, updatedAt int64
		if err := rows.Scan(&l.ID, &l.Title, &l.Content, &tags, &l.Severity, &agent, &repo, &createdAt, &updatedAt); err != nil {
			return nil, nellieerrors.New(nellieerrors.KindStorageDatabase, "scanning lesson row", err)
		}
		if tags != "" {
			l.Tags = strings.Split(tags, ",")
		}
		l.Agent = agent.String
		l.Repo = repo.String
		l.CreatedAt = time.Unix(createdAt, 0).UTC()
		l.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, &SearchResult{Lesson: &l, Score: 1})
	}
	return out, rows.Err()
}

// --- Checkpoint operations ---

func (s *SQLiteStore) InsertCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nellieerrors.New(nellieerrors.KindStorageDatabase, "beginning checkpoint insert", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO checkpoints (id, agent, repo, session_id, working_on, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		checkpoint.ID, checkpoint.Agent, checkpoint.Repo, checkpoint.SessionID,
		checkpoint.WorkingOn, checkpoint.State, nowUnix()); err != nil {
		return nellieerrors.New(nellieerrors.KindStorageDatabase, "inserting checkpoint row", err)
	}
	if checkpoint.Embedding != nil {
		blob, err := serializeEmbedding(checkpoint.Embedding)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO checkpoint_embeddings (checkpoint_id, embedding) VALUES (?, ?)`, checkpoint.ID, blob); err != nil {
			return nellieerrors.New(nellieerrors.KindStorageVector, "inserting checkpoint embedding", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nellieerrors.New(nellieerrors.KindStorageDatabase, "committing checkpoint insert", err)
	}
	return nil
}

func (s *SQLiteStore) GetRecentCheckpoints(ctx context.Context, agent string, limit int) ([]*Checkpoint, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent, repo, session_id, working_on, state, created_at
		FROM checkpoints WHERE agent = ? ORDER BY created_at DESC LIMIT ?`, agent, limit)
	if err != nil {
		return nil, nellieerrors.New(nellieerrors.KindStorageDatabase, "querying recent checkpoints", err)
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		c, err := scanCheckpointRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCheckpointRow(rows *sql.Rows) (*Checkpoint, error) {
	var c Checkpoint
	var repo, sessionID, workingOn, state sql.NullString
	var createdAt int64
	if err := rows.Scan(&c.ID, &c.Agent, &repo, &sessionID, &workingOn, &state, &createdAt); err != nil {
		return nil, nellieerrors.New(nellieerrors.KindStorageDatabase, "scanning checkpoint row", err)
	}
	c.Repo = repo.String
	c.SessionID = sessionID.String
	c.WorkingOn = workingOn.String
	c.State = state.String
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &c, nil
}

func (s *SQLiteStore) SearchCheckpoints(ctx context.Context, queryEmbedding []float32, filter CheckpointFilter) ([]*SearchResult, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	candidateLimit := limit * 3

	blob, err := serializeEmbedding(queryEmbedding)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT checkpoint_id, distance FROM checkpoint_embeddings
		WHERE embedding MATCH ? ORDER BY distance LIMIT ?`, blob, candidateLimit)
	if err != nil {
		return nil, nellieerrors.New(nellieerrors.KindStorageVector, "searching checkpoint embeddings", err)
	}
	defer rows.Close()

	var results []*SearchResult
	for rows.Next() {
		var checkpointID string
		var distance float64
		if err := rows.Scan(&checkpointID, &distance); err != nil {
			return nil, nellieerrors.New(nellieerrors.KindStorageVector, "scanning checkpoint search row", err)
		}
		score := clampScore(float32(distance))
		if float64(score) < filter.MinScore {
			continue
		}
		row := s.db.QueryRowContext(ctx, `
			SELECT id, agent, repo, session_id, working_on, state, created_at
			FROM checkpoints WHERE id = ?`, checkpointID)
		var c Checkpoint
		var repo, sessionID, workingOn, state sql.NullString
		var createdAt int64
		if err := row.Scan(&c.ID, &c.Agent, &repo, &sessionID, &workingOn, &state, &createdAt); err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, nellieerrors.New(nellieerrors.KindStorageDatabase, "scanning checkpoint row", err)
		}
		c.Repo = repo.String
		c.SessionID = sessionID.String
		c.WorkingOn = workingOn.String
		c.State = state.String
		c.CreatedAt = time.Unix(createdAt, 0).UTC()
		results = append(results, &SearchResult{Checkpoint: &c, Distance: float32(distance), Score: score})
		if len(results) >= limit {
			break
		}
	}
	return results, rows.Err()
}

// --- Agent status operations ---

func (s *SQLiteStore) GetAgentStatus(ctx context.Context, agent string) (*AgentStatus, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT agent, state, current_task, transition_at FROM agent_status WHERE agent = ?`, agent)
	var st AgentStatus
	var task sql.NullString
	var transitionAt int64
	err := row.Scan(&st.Agent, &st.State, &task, &transitionAt)
	if err == sql.ErrNoRows {
		// Lazily create an idle status row for an unknown agent on first read.
		now := time.Now().UTC()
		created := &AgentStatus{Agent: agent, State: AgentStateIdle, TransitionAt: now}
		if err := s.SetAgentStatus(ctx, created); err != nil {
			return nil, err
		}
		return created, nil
	}
	if err != nil {
		return nil, nellieerrors.New(nellieerrors.KindStorageDatabase, "scanning agent status row", err)
	}
	st.CurrentTask = task.String
	st.TransitionAt = time.Unix(transitionAt, 0).UTC()
	return &st, nil
}

func (s *SQLiteStore) SetAgentStatus(ctx context.Context, status *AgentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_status (agent, state, current_task, transition_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(agent) DO UPDATE SET state = excluded.state, current_task = excluded.current_task, transition_at = excluded.transition_at`,
		status.Agent, string(status.State), status.CurrentTask, status.TransitionAt.Unix())
	if err != nil {
		return nellieerrors.New(nellieerrors.KindStorageDatabase, "upserting agent status", err)
	}
	return nil
}

// --- File state operations ---

func (s *SQLiteStore) GetFileState(ctx context.Context, path string) (*FileState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT path, mod_time, size, digest, indexed_at FROM file_state WHERE path = ?`, path)
	var fs FileState
	var modTime, indexedAt int64
	if err := row.Scan(&fs.Path, &modTime, &fs.Size, &fs.Digest, &indexedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nellieerrors.NotFound("file_state", path)
		}
		return nil, nellieerrors.New(nellieerrors.KindStorageDatabase, "scanning file_state row", err)
	}
	fs.ModTime = time.Unix(modTime, 0).UTC()
	fs.IndexedAt = time.Unix(indexedAt, 0).UTC()
	return &fs, nil
}

func (s *SQLiteStore) UpsertFileState(ctx context.Context, state *FileState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_state (path, mod_time, size, digest, indexed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET mod_time = excluded.mod_time, size = excluded.size, digest = excluded.digest, indexed_at = excluded.indexed_at`,
		state.Path, state.ModTime.Unix(), state.Size, state.Digest, state.IndexedAt.Unix())
	if err != nil {
		return nellieerrors.New(nellieerrors.KindStorageDatabase, "upserting file_state", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteFileState(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM file_state WHERE path = ?`, path); err != nil {
		return nellieerrors.New(nellieerrors.KindStorageDatabase, "deleting file_state", err)
	}
	return nil
}

// --- Aggregate status ---

func (s *SQLiteStore) CountChunks(ctx context.Context) (int, error) {
	return s.count(ctx, "chunks")
}

func (s *SQLiteStore) CountLessons(ctx context.Context) (int, error) {
	return s.count(ctx, "lessons")
}

func (s *SQLiteStore) CountTrackedFiles(ctx context.Context) (int, error) {
	return s.count(ctx, "file_state")
}

func (s *SQLiteStore) count(ctx context.Context, table string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
		return 0, nellieerrors.New(nellieerrors.KindStorageDatabase, "counting "+table, err)
	}
	return n, nil
}

func nowUnix() int64 {
	return time.Now().UTC().Unix()
}
