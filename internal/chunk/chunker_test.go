package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nellielabs/nellie/internal/config"
)

func testConfig() config.ChunkerConfig {
	return config.ChunkerConfig{
		TargetLines:  50,
		MaxLines:     100,
		MinLines:     10,
		OverlapLines: 5,
	}
}

func repeatLines(n int, text string) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = text
	}
	return strings.Join(lines, "\n")
}

func TestChunkEmptyInputYieldsNoChunks(t *testing.T) {
	c := New(testConfig())
	defer c.Close()

	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "empty.go", Content: nil, Language: "go"})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkUnderMaxYieldsOneChunk(t *testing.T) {
	c := New(testConfig())
	defer c.Close()

	content := repeatLines(40, "x = 1")
	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "small.py", Content: []byte(content), Language: "python"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 40, chunks[0].EndLine)
	assert.Equal(t, content, chunks[0].Content)
}

func TestChunkOverMaxSplitsIntoMultipleChunks(t *testing.T) {
	c := New(testConfig())
	defer c.Close()

	content := repeatLines(250, "x = 1")
	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "big.py", Content: []byte(content), Language: "python"})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.ChunkIndex)
		assert.LessOrEqual(t, chunk.EndLine-chunk.StartLine+1, testConfig().MaxLines)
	}
	assert.Equal(t, 250, chunks[len(chunks)-1].EndLine)
}

func TestChunkIndicesAreDenseAndZeroBased(t *testing.T) {
	c := New(testConfig())
	defer c.Close()

	content := repeatLines(300, "a")
	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "dense.txt", Content: []byte(content), Language: "text"})
	require.NoError(t, err)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.ChunkIndex)
	}
}

func TestChunkOverlapsBetweenConsecutiveChunks(t *testing.T) {
	c := New(testConfig())
	defer c.Close()

	content := repeatLines(300, "a")
	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "overlap.txt", Content: []byte(content), Language: "text"})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		// a non-final chunk's successor starts at or before its end line,
		// unless the gap was forced forward by start+1 floor logic.
		assert.LessOrEqual(t, chunks[i].StartLine, chunks[i-1].EndLine+1)
	}
}

func TestChunkPrefersBreakNearEmptyLine(t *testing.T) {
	c := New(testConfig())
	defer c.Close()

	var b strings.Builder
	for i := 0; i < 60; i++ {
		b.WriteString("x = 1\n")
	}
	b.WriteString("\n") // empty line near target
	for i := 0; i < 100; i++ {
		b.WriteString("y = 2\n")
	}

	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "break.py", Content: []byte(b.String()), Language: "python"})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.LessOrEqual(t, chunks[0].EndLine, 100)
}

func TestChunkGoCodeUsesDeclarationBreaks(t *testing.T) {
	c := New(testConfig())
	defer c.Close()

	var b strings.Builder
	b.WriteString("package demo\n\n")
	for i := 0; i < 80; i++ {
		b.WriteString("var filler = 0\n")
	}
	b.WriteString("\nfunc Later() {\n\treturn\n}\n")
	for i := 0; i < 50; i++ {
		b.WriteString("var more = 1\n")
	}

	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "main.go", Content: []byte(b.String()), Language: "go"})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	// The first chunk ends right before "func Later() {" (zero-based line
	// 83), the highest good break in the 50..100 window; "func " is not a
	// keyword prefix, so only the tree-sitter declaration makes it a break.
	assert.Equal(t, 83, chunks[0].EndLine)
}
