// Package store provides transactional storage for chunks, lessons,
// checkpoints, agent status, and file state, coupling relational rows
// with their vector-search companions in one SQLite database.
package store

import (
	"context"
	"time"
)

// Severity classifies a Lesson's importance.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// AgentState is the lifecycle state of one agent.
type AgentState string

const (
	AgentStateIdle       AgentState = "idle"
	AgentStateInProgress AgentState = "in_progress"
)

// Chunk is a contiguous line range from one file, with its normalised
// embedding stored alongside it as a vector-table companion.
type Chunk struct {
	ID         int64
	FilePath   string
	ChunkIndex int
	StartLine  int
	EndLine    int
	Content    string
	Language   string
	FileHash   string
	CreatedAt  time.Time
	Embedding  []float32 // nil when the chunk has no vector companion yet
}

// Lesson is a user-authored note with an optional semantic embedding of
// its title+content.
type Lesson struct {
	ID        string
	Title     string
	Content   string
	Tags      []string
	Severity  Severity
	Agent     string
	Repo      string
	CreatedAt time.Time
	UpdatedAt time.Time
	Embedding []float32
}

// Checkpoint is one agent's persisted working-state entry.
type Checkpoint struct {
	ID         string
	Agent      string
	Repo       string
	SessionID  string
	WorkingOn  string
	State      string // arbitrary JSON-shaped object, stored as text
	CreatedAt  time.Time
	Embedding  []float32 // optional, gated by enable_embeddings
}

// AgentStatus is the single current-state row for one agent identifier.
type AgentStatus struct {
	Agent        string
	State        AgentState
	CurrentTask  string
	TransitionAt time.Time
}

// FileState is the per-path digest oracle the Indexer consults to decide
// whether a file needs re-chunking.
type FileState struct {
	Path       string
	ModTime    time.Time
	Size       int64
	Digest     string
	IndexedAt  time.Time
}

// SearchResult is a transient value returned by the query path: the
// underlying record plus its raw vector distance and derived score.
type SearchResult struct {
	Chunk      *Chunk
	Lesson     *Lesson
	Checkpoint *Checkpoint
	Distance   float32
	Score      float32
}

// ChunkFilter narrows search_chunks results.
type ChunkFilter struct {
	Limit       int
	MinScore    float64
	Language    string
	PathPattern string
}

// LessonFilter narrows search_lessons/list_lessons results.
type LessonFilter struct {
	Limit    int
	MinScore float64
	Severity Severity
}

// CheckpointFilter narrows search_checkpoints results.
type CheckpointFilter struct {
	Limit    int
	MinScore float64
}

// Store is the persistence layer: one SQLite database coupling row data
// with vector-search virtual tables for chunks and lessons. All methods
// are safe for concurrent use; writers serialise on an internal mutex,
// readers proceed concurrently.
type Store interface {
	// Chunk operations
	InsertChunk(ctx context.Context, chunk *Chunk) (int64, error)
	InsertChunks(ctx context.Context, chunks []*Chunk) ([]int64, error)
	GetChunk(ctx context.Context, id int64) (*Chunk, error)
	GetChunksByPath(ctx context.Context, path string) ([]*Chunk, error)
	DeleteChunk(ctx context.Context, id int64) error
	DeleteChunksByPath(ctx context.Context, path string) (int, error)
	UpdateChunkEmbedding(ctx context.Context, id int64, embedding []float32) error
	SearchChunks(ctx context.Context, queryEmbedding []float32, filter ChunkFilter) ([]*SearchResult, error)

	// Lesson operations
	InsertLesson(ctx context.Context, lesson *Lesson) error
	GetLesson(ctx context.Context, id string) (*Lesson, error)
	ListLessons(ctx context.Context, filter LessonFilter) ([]*Lesson, error)
	DeleteLesson(ctx context.Context, id string) error
	SearchLessons(ctx context.Context, queryEmbedding []float32, filter LessonFilter) ([]*SearchResult, error)
	SearchLessonsByText(ctx context.Context, query string, filter LessonFilter) ([]*SearchResult, error)
	SearchLessonsByTag(ctx context.Context, tag string, filter LessonFilter) ([]*SearchResult, error)

	// Checkpoint operations
	InsertCheckpoint(ctx context.Context, checkpoint *Checkpoint) error
	GetRecentCheckpoints(ctx context.Context, agent string, limit int) ([]*Checkpoint, error)
	SearchCheckpoints(ctx context.Context, queryEmbedding []float32, filter CheckpointFilter) ([]*SearchResult, error)

	// Agent status operations
	GetAgentStatus(ctx context.Context, agent string) (*AgentStatus, error)
	SetAgentStatus(ctx context.Context, status *AgentStatus) error

	// File state operations
	GetFileState(ctx context.Context, path string) (*FileState, error)
	UpsertFileState(ctx context.Context, state *FileState) error
	DeleteFileState(ctx context.Context, path string) error

	// Aggregate status
	CountChunks(ctx context.Context) (int, error)
	CountLessons(ctx context.Context) (int, error)
	CountTrackedFiles(ctx context.Context) (int, error)

	// Resumable indexing and embedder/dimension guards
	SaveIndexCheckpoint(ctx context.Context, stage string, total, embeddedCount int, embedderModel string) error
	LoadIndexCheckpoint(ctx context.Context) (*IndexCheckpoint, error)
	ClearIndexCheckpoint(ctx context.Context) error
	EmbedderMarker(ctx context.Context) (model string, dimension int, ok bool, err error)
	SetEmbedderMarker(ctx context.Context, model string, dimension int) error

	Close() error
}

// clampScore maps a raw vector distance to the spec's [0,1] similarity
// score: clamp(1 - distance/2, 0, 1).
func clampScore(distance float32) float32 {
	score := 1 - distance/2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
