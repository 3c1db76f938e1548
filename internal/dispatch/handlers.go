package dispatch

import (
	"context"
	"time"

	nerrors "github.com/nellielabs/nellie/internal/errors"
	"github.com/nellielabs/nellie/internal/query"
	"github.com/nellielabs/nellie/internal/store"
)

func (d *Dispatcher) searchCode(ctx context.Context, args map[string]any) (any, error) {
	q, err := requireString(args, "query")
	if err != nil {
		return nil, err
	}
	opts := query.ChunkOptions{
		Limit:       optionalInt(args, "limit"),
		Language:    optionalString(args, "language"),
		PathPattern: optionalString(args, "path_pattern"),
	}
	if ms, ok := optionalFloat(args, "min_score"); ok {
		opts.MinScore = ms
	}
	return d.query.SearchChunks(ctx, q, opts)
}

func (d *Dispatcher) searchLessons(ctx context.Context, args map[string]any) (any, error) {
	q, err := requireString(args, "query")
	if err != nil {
		return nil, err
	}
	opts := query.LessonOptions{
		Limit:    optionalInt(args, "limit"),
		Severity: store.Severity(optionalString(args, "severity")),
	}
	if ms, ok := optionalFloat(args, "min_score"); ok {
		opts.MinScore = ms
	}
	return d.query.SearchLessons(ctx, q, opts)
}

func (d *Dispatcher) listLessons(ctx context.Context, args map[string]any) (any, error) {
	filter := store.LessonFilter{
		Limit:    optionalInt(args, "limit"),
		Severity: store.Severity(optionalString(args, "severity")),
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	return d.store.ListLessons(ctx, filter)
}

func (d *Dispatcher) addLesson(ctx context.Context, args map[string]any) (any, error) {
	title, err := requireString(args, "title")
	if err != nil {
		return nil, err
	}
	content, err := requireString(args, "content")
	if err != nil {
		return nil, err
	}
	tags, err := requireStringSlice(args, "tags")
	if err != nil {
		return nil, err
	}

	severity := store.Severity(optionalString(args, "severity"))
	if severity == "" {
		severity = store.SeverityInfo
	}

	vec, err := d.embed(ctx, title+"\n"+content)
	if err != nil {
		return nil, err
	}

	lesson := &store.Lesson{
		ID:        newID(),
		Title:     title,
		Content:   content,
		Tags:      tags,
		Severity:  severity,
		Agent:     optionalString(args, "agent"),
		Repo:      optionalString(args, "repo"),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Embedding: vec,
	}
	if err := d.store.InsertLesson(ctx, lesson); err != nil {
		return nil, err
	}
	return lesson, nil
}

func (d *Dispatcher) deleteLesson(ctx context.Context, args map[string]any) (any, error) {
	id, err := requireString(args, "id")
	if err != nil {
		return nil, err
	}
	if err := d.store.DeleteLesson(ctx, id); err != nil {
		return nil, err
	}
	return map[string]bool{"deleted": true}, nil
}

func (d *Dispatcher) addCheckpoint(ctx context.Context, args map[string]any) (any, error) {
	agent, err := requireString(args, "agent")
	if err != nil {
		return nil, err
	}
	workingOn, err := requireString(args, "working_on")
	if err != nil {
		return nil, err
	}
	state, err := requireString(args, "state")
	if err != nil {
		return nil, err
	}

	var vec []float32
	if d.embedCheckpoints {
		vec, err = d.embed(ctx, workingOn+"\n"+state)
		if err != nil {
			return nil, err
		}
	}

	checkpoint := &store.Checkpoint{
		ID:        newID(),
		Agent:     agent,
		Repo:      optionalString(args, "repo"),
		SessionID: optionalString(args, "session_id"),
		WorkingOn: workingOn,
		State:     state,
		CreatedAt: time.Now(),
		Embedding: vec,
	}
	if err := d.store.InsertCheckpoint(ctx, checkpoint); err != nil {
		return nil, err
	}
	return checkpoint, nil
}

func (d *Dispatcher) getRecentCheckpoints(ctx context.Context, args map[string]any) (any, error) {
	agent, err := requireString(args, "agent")
	if err != nil {
		return nil, err
	}
	limit := optionalInt(args, "limit")
	if limit <= 0 {
		limit = 10
	}
	return d.store.GetRecentCheckpoints(ctx, agent, limit)
}

func (d *Dispatcher) searchCheckpoints(ctx context.Context, args map[string]any) (any, error) {
	q, err := requireString(args, "query")
	if err != nil {
		return nil, err
	}
	opts := query.CheckpointOptions{Limit: optionalInt(args, "limit")}
	if ms, ok := optionalFloat(args, "min_score"); ok {
		opts.MinScore = ms
	}
	return d.query.SearchCheckpoints(ctx, q, opts)
}

func (d *Dispatcher) getAgentStatus(ctx context.Context, args map[string]any) (any, error) {
	agent, err := requireString(args, "agent")
	if err != nil {
		return nil, err
	}
	status, err := d.store.GetAgentStatus(ctx, agent)
	if err == nil {
		return status, nil
	}
	if nerrors.GetKind(err) != nerrors.KindStorageNotFound {
		return nil, err
	}
	status = &store.AgentStatus{
		Agent:        agent,
		State:        store.AgentStateIdle,
		TransitionAt: time.Now(),
	}
	if err := d.store.SetAgentStatus(ctx, status); err != nil {
		return nil, err
	}
	return status, nil
}

func (d *Dispatcher) triggerReindex(ctx context.Context, args map[string]any) (any, error) {
	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}
	if err := d.indexer.Reindex(ctx, path); err != nil {
		return nil, err
	}
	return map[string]any{"triggered": true, "path": path}, nil
}

func (d *Dispatcher) getStatus(ctx context.Context, _ map[string]any) (any, error) {
	chunks, err := d.store.CountChunks(ctx)
	if err != nil {
		return nil, err
	}
	lessons, err := d.store.CountLessons(ctx)
	if err != nil {
		return nil, err
	}
	tracked, err := d.store.CountTrackedFiles(ctx)
	if err != nil {
		return nil, err
	}
	return StatusResult{
		Version:      d.version,
		Chunks:       chunks,
		Lessons:      lessons,
		TrackedFiles: tracked,
	}, nil
}
