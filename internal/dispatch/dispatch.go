// Package dispatch is the tool surface's routing layer: a name-indexed
// map from tool identifiers to handler functions, each a thin adapter
// over Store, Indexer, or Query primitives.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	nerrors "github.com/nellielabs/nellie/internal/errors"
	"github.com/nellielabs/nellie/internal/index"
	"github.com/nellielabs/nellie/internal/query"
	"github.com/nellielabs/nellie/internal/store"
	"github.com/nellielabs/nellie/internal/telemetry"
)

// textEmbedder is the subset of embed.Embedder the dispatcher needs to
// embed lesson and checkpoint content directly (the one piece of write
// traffic that does not flow through the Query engine).
type textEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Available(ctx context.Context) bool
}

// Handler validates its argument map against the documented shape and
// performs one tool call.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Response is the two-field shape every tool call resolves to: exactly
// one of Content/Error is non-nil.
type Response struct {
	Content any     `json:"content"`
	Error   *string `json:"error"`
}

// StatusResult is get_status's return shape.
type StatusResult struct {
	Version      string `json:"version"`
	Chunks       int    `json:"chunks"`
	Lessons      int    `json:"lessons"`
	TrackedFiles int    `json:"tracked_files"`
}

// Dispatcher owns the writer side of lessons, checkpoints, and agent
// status, and routes every other tool call to Indexer/Query.
type Dispatcher struct {
	store    store.Store
	indexer  *index.Indexer
	query    *query.Engine
	embedder textEmbedder
	fallback textEmbedder
	version  string

	embedCheckpoints bool

	queryMetrics *telemetry.QueryMetrics
	promMetrics  *telemetry.PrometheusMetrics

	handlers map[string]Handler
}

// New creates a Dispatcher and builds its name->handler map.
// embedCheckpoints mirrors the enable_embeddings configuration flag —
// spec.md gates checkpoint embeddings on it, unlike chunks and lessons.
// queryMetrics and promMetrics are both optional (nil disables recording).
func New(st store.Store, ix *index.Indexer, qe *query.Engine, embedder, fallback textEmbedder, version string, embedCheckpoints bool, queryMetrics *telemetry.QueryMetrics, promMetrics *telemetry.PrometheusMetrics) *Dispatcher {
	d := &Dispatcher{
		store:            st,
		indexer:          ix,
		query:            qe,
		embedder:         embedder,
		fallback:         fallback,
		version:          version,
		embedCheckpoints: embedCheckpoints,
		queryMetrics:     queryMetrics,
		promMetrics:      promMetrics,
	}
	d.handlers = map[string]Handler{
		"search_code":            d.searchCode,
		"search_lessons":         d.searchLessons,
		"list_lessons":           d.listLessons,
		"add_lesson":             d.addLesson,
		"delete_lesson":          d.deleteLesson,
		"add_checkpoint":         d.addCheckpoint,
		"get_recent_checkpoints": d.getRecentCheckpoints,
		"search_checkpoints":     d.searchCheckpoints,
		"get_agent_status":       d.getAgentStatus,
		"trigger_reindex":        d.triggerReindex,
		"get_status":             d.getStatus,
	}
	return d
}

// Dispatch routes one tool call by name, converting any error into the
// {content, error} response shape and recording telemetry for it.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any) Response {
	h, ok := d.handlers[name]
	if !ok {
		msg := fmt.Sprintf("unknown tool %q", name)
		return Response{Error: &msg}
	}
	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()
	result, err := h(ctx, args)
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if d.promMetrics != nil {
		d.promMetrics.ObserveToolCall(name, outcome, elapsed)
	}
	if err == nil {
		d.recordSearchTelemetry(name, args, result, elapsed)
	}

	if err != nil {
		msg := err.Error()
		return Response{Error: &msg}
	}
	return Response{Content: result}
}

// recordSearchTelemetry logs a QueryEvent for the three search_* tools.
// Every other tool is a write or a status read and has nothing to record.
func (d *Dispatcher) recordSearchTelemetry(name string, args map[string]any, result any, elapsed time.Duration) {
	if d.queryMetrics == nil {
		return
	}

	var kind telemetry.QueryKind
	switch name {
	case "search_code":
		kind = telemetry.QueryKindVector
	case "search_lessons":
		kind = telemetry.QueryKindMixed
	case "search_checkpoints":
		kind = telemetry.QueryKindVector
	default:
		return
	}

	query, _ := args["query"].(string)
	resultCount := 0
	if results, ok := result.([]*store.SearchResult); ok {
		resultCount = len(results)
	}

	d.queryMetrics.Record(telemetry.QueryEvent{
		Tool:        name,
		Query:       query,
		Kind:        kind,
		ResultCount: resultCount,
		Latency:     elapsed,
		Timestamp:   time.Now(),
	})
	if d.promMetrics != nil {
		d.promMetrics.ObserveSearch(kind, elapsed)
	}
}

func (d *Dispatcher) embed(ctx context.Context, text string) ([]float32, error) {
	emb := d.embedder
	if emb == nil || !emb.Available(ctx) {
		emb = d.fallback
	}
	return emb.Embed(ctx, text)
}

// --- argument parsing helpers ---

func requireString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", nerrors.New(nerrors.KindServerRequest, fmt.Sprintf("missing required argument %q", key), nil)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", nerrors.New(nerrors.KindServerRequest, fmt.Sprintf("argument %q must be a non-empty string", key), nil)
	}
	return s, nil
}

func optionalString(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func optionalInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func optionalFloat(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func requireStringSlice(args map[string]any, key string) ([]string, error) {
	v, ok := args[key]
	if !ok {
		return nil, nerrors.New(nerrors.KindServerRequest, fmt.Sprintf("missing required argument %q", key), nil)
	}
	switch vv := v.(type) {
	case []string:
		return vv, nil
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, nerrors.New(nerrors.KindServerRequest, fmt.Sprintf("argument %q must be an array of strings", key), nil)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, nerrors.New(nerrors.KindServerRequest, fmt.Sprintf("argument %q must be an array of strings", key), nil)
	}
}

func newID() string {
	return uuid.NewString()
}
