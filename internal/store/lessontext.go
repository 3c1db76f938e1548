package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
)

// lessonTextDoc is the document shape indexed for full-text lesson search.
type lessonTextDoc struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Tags    string `json:"tags"`
}

// lessonTextIndex is a bleve-backed inverted index over lesson title,
// content, and tags, used as the richer implementation behind
// SearchLessonsByText/SearchLessonsByTag. When it cannot be opened (e.g.
// corrupted on disk) the store degrades to a plain SQL LIKE scan instead
// of failing the query outright.
type lessonTextIndex struct {
	mu    sync.RWMutex
	index bleve.Index
	path  string
}

// openLessonTextIndex creates or opens the lesson text index at path. An
// empty path opens an in-memory index. A corrupted on-disk index is
// detected and rebuilt from scratch rather than failing startup, since the
// relational lesson rows remain the source of truth and the index can
// always be repopulated from them.
func openLessonTextIndex(path string) (*lessonTextIndex, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("creating in-memory lesson text index: %w", err)
		}
		return &lessonTextIndex{index: idx}, nil
	}

	if err := validateLessonIndexIntegrity(path); err != nil {
		slog.Warn("lesson_text_index_corrupted", slog.String("path", path), slog.String("error", err.Error()))
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return nil, fmt.Errorf("lesson text index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, err)
		}
		slog.Info("lesson_text_index_cleared", slog.String("path", path), slog.String("reason", "corruption detected, repopulate from lessons table"))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lesson text index directory: %w", err)
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("opening lesson text index: %w", err)
	}

	return &lessonTextIndex{index: idx, path: path}, nil
}

func validateLessonIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	metaPath := filepath.Join(path, "index_meta.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("index_meta.json unreadable: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json corrupt: %w", err)
	}
	return nil
}

func (l *lessonTextIndex) upsert(lesson *Lesson) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc := lessonTextDoc{Title: lesson.Title, Content: lesson.Content, Tags: strings.Join(lesson.Tags, " ")}
	return l.index.Index(lesson.ID, doc)
}

func (l *lessonTextIndex) delete(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.index.Delete(id)
}

// searchText ranks lesson ids by bleve's relevance score against a free-text query.
func (l *lessonTextIndex) searchText(ctx context.Context, query string, limit int) ([]string, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	q := bleve.NewDisjunctionQuery(
		bleve.NewMatchQuery(query),
	)
	req := bleve.NewSearchRequest(q)
	req.Size = limit

	l.mu.RLock()
	defer l.mu.RUnlock()
	result, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lesson text search: %w", err)
	}
	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// searchTag ranks lesson ids whose tags field matches the given tag term.
func (l *lessonTextIndex) searchTag(ctx context.Context, tag string, limit int) ([]string, error) {
	q := bleve.NewMatchQuery(tag)
	q.SetField("tags")
	req := bleve.NewSearchRequest(q)
	req.Size = limit

	l.mu.RLock()
	defer l.mu.RUnlock()
	result, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lesson tag search: %w", err)
	}
	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

func (l *lessonTextIndex) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.index == nil {
		return nil
	}
	return l.index.Close()
}
