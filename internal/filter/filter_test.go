package filter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nellielabs/nellie/internal/config"
)

func newTestFilter(t *testing.T, base string) *Filter {
	t.Helper()
	f, err := New(base, config.NewConfig().Filter)
	require.NoError(t, err)
	return f
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCandidateAcceptsWhitelistedExtension(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "main.go")
	writeFile(t, path, "package main\n")

	f := newTestFilter(t, base)
	ok, lang := f.Candidate(path, true)
	assert.True(t, ok)
	assert.Equal(t, "go", lang)
}

func TestCandidateRejectsUnknownExtension(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "binary.exe")
	writeFile(t, path, "nope")

	f := newTestFilter(t, base)
	ok, _ := f.Candidate(path, true)
	assert.False(t, ok)
}

func TestCandidateRejectsExcludedSegment(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "node_modules", "lib", "index.js")
	writeFile(t, path, "// js\n")

	f := newTestFilter(t, base)
	ok, _ := f.Candidate(path, true)
	assert.False(t, ok)
}

func TestCandidateRejectsDotfileExceptGitignore(t *testing.T) {
	base := t.TempDir()

	dotfile := filepath.Join(base, ".env")
	writeFile(t, dotfile, "SECRET=1")
	f := newTestFilter(t, base)
	ok, _ := f.Candidate(dotfile, true)
	assert.False(t, ok)
}

func TestCandidateRejectsLockFiles(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "Cargo.lock")
	writeFile(t, path, "# lock")

	f := newTestFilter(t, base)
	ok, _ := f.Candidate(path, true)
	assert.False(t, ok)
}

func TestCandidateRespectsGitignore(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, ".gitignore"), "ignored/\n")
	path := filepath.Join(base, "ignored", "skip.go")
	writeFile(t, path, "package ignored\n")

	f := newTestFilter(t, base)
	ok, _ := f.Candidate(path, true)
	assert.False(t, ok)
}

func TestCandidateSkipsExistsCheckForDeletions(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "gone.py")

	f := newTestFilter(t, base)
	ok, lang := f.Candidate(path, false)
	assert.True(t, ok)
	assert.Equal(t, "python", lang)
}

func TestInvalidateCacheForcesReparse(t *testing.T) {
	base := t.TempDir()
	gi := filepath.Join(base, ".gitignore")
	writeFile(t, gi, "skip.go\n")
	path := filepath.Join(base, "skip.go")
	writeFile(t, path, "package base\n")

	f := newTestFilter(t, base)
	ok, _ := f.Candidate(path, true)
	assert.False(t, ok)

	writeFile(t, gi, "# nothing ignored now\n")
	f.InvalidateCache()

	ok, _ = f.Candidate(path, true)
	assert.True(t, ok)
}
