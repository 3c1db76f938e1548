// Package chunk splits file content into overlapping line-range chunks.
package chunk

import (
	"context"
	"strings"
	"time"

	"github.com/nellielabs/nellie/internal/config"
)

// structuralPrefixes are trimmed-line prefixes that mark a plausible
// declaration boundary when no tree-sitter grammar is registered for the
// file's language, or as a second vote alongside the tree-sitter signal.
var structuralPrefixes = []string{
	"fn ", "def ", "class ", "impl ", "struct ", "pub ",
	"function ", "const ", "let ", "export ",
	"//", "#",
}

// LineChunker implements the line-range chunking algorithm: scan backward
// from a hard maximum toward a target size for a good break point, falling
// back to the target size when none is found.
type LineChunker struct {
	cfg      config.ChunkerConfig
	parser   *Parser
	registry *LanguageRegistry
}

// New creates a LineChunker tuned by cfg, using the default tree-sitter
// language registry for structural break-point detection.
func New(cfg config.ChunkerConfig) *LineChunker {
	registry := DefaultRegistry()
	return &LineChunker{
		cfg:      cfg,
		parser:   NewParserWithRegistry(registry),
		registry: registry,
	}
}

// Close releases the chunker's parser resources.
func (c *LineChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// Chunk splits file into line-range chunks per the configured target/max/
// overlap. Returns no chunks (and no error) for empty input.
func (c *LineChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	lines := splitLines(file.Content)
	total := len(lines)
	if total == 0 {
		return nil, nil
	}

	breakLines := c.declarationBreakLines(ctx, file)

	target, max, overlap := c.cfg.TargetLines, c.cfg.MaxLines, c.cfg.OverlapLines

	if total <= max {
		return []*Chunk{c.build(file, lines, 0, total, 0, time.Now())}, nil
	}

	var chunks []*Chunk
	now := time.Now()
	start := 0
	idx := 0
	for start < total {
		targetEnd := clamp(start+target, start+1, total)
		maxEnd := clamp(start+max, start+1, total)

		end := targetEnd
		for i := maxEnd; i >= targetEnd; i-- {
			if i >= total {
				continue
			}
			if isGoodBreak(lines, i, breakLines) {
				end = i
				break
			}
		}
		if end <= start {
			end = targetEnd
		}

		chunk := c.build(file, lines, start, end, idx, now)
		chunks = append(chunks, chunk)
		idx++

		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks, nil
}

func (c *LineChunker) build(file *FileInput, lines []string, start, end, idx int, now time.Time) *Chunk {
	return &Chunk{
		FilePath:   file.Path,
		Language:   file.Language,
		ChunkIndex: idx,
		StartLine:  start + 1,
		EndLine:    end,
		Content:    strings.Join(lines[start:end], "\n"),
		CreatedAt:  now,
	}
}

// declarationBreakLines returns the set of zero-based line indices where a
// tree-sitter declaration node begins, for languages with a registered
// grammar. Parse failures degrade to the keyword-prefix heuristic alone.
func (c *LineChunker) declarationBreakLines(ctx context.Context, file *FileInput) map[int]bool {
	langConfig, ok := c.registry.GetByName(file.Language)
	if !ok {
		return nil
	}

	tree, err := c.parser.Parse(ctx, file.Content, file.Language)
	if err != nil {
		return nil
	}

	declTypes := make(map[string]bool, len(langConfig.DeclarationTypes))
	for _, t := range langConfig.DeclarationTypes {
		declTypes[t] = true
	}

	breaks := make(map[int]bool)
	tree.Root.Walk(func(n *Node) bool {
		if declTypes[n.Type] {
			breaks[int(n.StartPoint.Row)] = true
		}
		return true
	})
	return breaks
}

// isGoodBreak reports whether lines[i] is a valid chunk boundary: the
// start of a tree-sitter declaration, an empty line, or a line whose
// trimmed text matches a known structural marker.
func isGoodBreak(lines []string, i int, breakLines map[int]bool) bool {
	if breakLines[i] {
		return true
	}

	trimmed := strings.TrimSpace(lines[i])
	if trimmed == "" {
		return true
	}
	for _, prefix := range structuralPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// splitLines splits content on "\n", dropping a single trailing empty
// element produced by a final newline so total line count matches what a
// reader would count.
func splitLines(content []byte) []string {
	lines := strings.Split(string(content), "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
