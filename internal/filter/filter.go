// Package filter decides whether a path is a candidate for indexing and,
// if so, what stable language tag it carries.
package filter

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nellielabs/nellie/internal/config"
	"github.com/nellielabs/nellie/internal/gitignore"
)

// gitignoreCacheSize bounds the number of per-directory gitignore matchers
// kept alive at once.
const gitignoreCacheSize = 1000

// Filter evaluates the candidacy policy from spec.md §4.4 against absolute
// paths rooted at Base.
type Filter struct {
	base   string
	cfg    config.FilterConfig
	extSet map[string]bool

	mu    sync.RWMutex
	cache *lru.Cache[string, *gitignore.Matcher]
}

// New creates a Filter rooted at base, using cfg's extension/exclude lists.
func New(base string, cfg config.FilterConfig) (*Filter, error) {
	cache, err := lru.New[string, *gitignore.Matcher](gitignoreCacheSize)
	if err != nil {
		return nil, err
	}

	extSet := make(map[string]bool, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		extSet[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}

	return &Filter{
		base:   base,
		cfg:    cfg,
		extSet: extSet,
		cache:  cache,
	}, nil
}

// Candidate decides whether absPath is a candidate for indexing. When it
// is, lang is the stable language tag derived from its extension.
//
// existsCheck controls whether Candidate requires the path to currently
// exist as a regular file; callers processing a deletion pass false since
// spec.md's rule 1 explicitly exempts deletions from the existence check.
func (f *Filter) Candidate(absPath string, existsCheck bool) (ok bool, lang string) {
	if existsCheck {
		info, err := os.Stat(absPath)
		if err != nil || !info.Mode().IsRegular() {
			return false, ""
		}
	}

	base := filepath.Base(absPath)
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(base), "."))

	lang, known := LanguageForExtension(ext)
	if !known || !f.extSet[ext] {
		return false, ""
	}

	if f.matchesBuiltinExclude(absPath, base) {
		return false, ""
	}

	if f.cfg.RespectGitignore && f.isGitignored(absPath) {
		return false, ""
	}

	return true, lang
}

// matchesBuiltinExclude implements spec.md §4.4 rule 3: excluded path
// segments, excluded filenames, dotfiles (except .gitignore), and lock
// files.
func (f *Filter) matchesBuiltinExclude(absPath, base string) bool {
	rel, err := filepath.Rel(f.base, absPath)
	if err != nil {
		rel = absPath
	}
	segments := strings.Split(rel, string(filepath.Separator))
	for _, seg := range segments {
		for _, excluded := range f.cfg.ExcludeSegments {
			if seg == excluded {
				return true
			}
		}
	}

	for _, excluded := range f.cfg.ExcludeFilenames {
		if base == excluded {
			return true
		}
	}

	if strings.HasPrefix(base, ".") && base != ".gitignore" {
		return true
	}

	if strings.HasSuffix(base, ".lock") || strings.HasSuffix(base, "-lock.json") {
		return true
	}

	return false
}

// isGitignored walks from absPath's directory up to the base, consulting a
// cached matcher for each directory's .gitignore file.
func (f *Filter) isGitignored(absPath string) bool {
	rel, err := filepath.Rel(f.base, absPath)
	if err != nil {
		return false
	}

	dir := f.base
	parts := strings.Split(filepath.Dir(rel), string(filepath.Separator))
	if parts[0] == "." {
		parts = parts[1:]
	}

	if m := f.matcherFor(dir); m != nil && m.Match(rel, false) {
		return true
	}

	relSoFar := ""
	for _, part := range parts {
		dir = filepath.Join(dir, part)
		if relSoFar == "" {
			relSoFar = part
		} else {
			relSoFar = filepath.Join(relSoFar, part)
		}
		if m := f.matcherFor(dir); m != nil && m.Match(rel, false) {
			return true
		}
	}

	return false
}

// matcherFor returns the cached gitignore matcher for dir, parsing
// dir/.gitignore on a cache miss. Returns nil if no .gitignore exists
// there.
func (f *Filter) matcherFor(dir string) *gitignore.Matcher {
	f.mu.RLock()
	m, ok := f.cache.Get(dir)
	f.mu.RUnlock()
	if ok {
		return m
	}

	path := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	base, _ := filepath.Rel(f.base, dir)
	if base == "." {
		base = ""
	}

	m = gitignore.New()
	if err := m.AddFromFile(path, base); err != nil {
		return nil
	}

	f.mu.Lock()
	f.cache.Add(dir, m)
	f.mu.Unlock()

	return m
}

// InvalidateCache clears the gitignore matcher cache, forcing re-parse of
// .gitignore files on next lookup. Call this after a .gitignore changes.
func (f *Filter) InvalidateCache() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache.Purge()
}
