// Package config loads and validates Nellie's runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	nerrors "github.com/nellielabs/nellie/internal/errors"
)

// Config is the complete runtime configuration for a Nellie instance.
// Fields on the top level mirror the plain record described for the
// external interface; the nested structs are ambient tuning knobs not
// part of that record but required by the components they configure.
type Config struct {
	DataDir          string   `yaml:"data_dir" json:"data_dir"`
	Host             string   `yaml:"host" json:"host"`
	Port             int      `yaml:"port" json:"port"`
	LogLevel         string   `yaml:"log_level" json:"log_level"`
	WatchDirs        []string `yaml:"watch_dirs" json:"watch_dirs"`
	EmbeddingThreads int      `yaml:"embedding_threads" json:"embedding_threads"`
	APIKey           string   `yaml:"api_key" json:"api_key"`
	EnableEmbeddings bool     `yaml:"enable_embeddings" json:"enable_embeddings"`

	Chunker ChunkerConfig `yaml:"chunker" json:"chunker"`
	Watcher WatcherConfig `yaml:"watcher" json:"watcher"`
	Search  SearchConfig  `yaml:"search" json:"search"`
	Filter  FilterConfig  `yaml:"filter" json:"filter"`
}

// ChunkerConfig tunes the line-range chunker.
type ChunkerConfig struct {
	TargetLines  int `yaml:"target_lines" json:"target_lines"`
	MaxLines     int `yaml:"max_lines" json:"max_lines"`
	MinLines     int `yaml:"min_lines" json:"min_lines"`
	OverlapLines int `yaml:"overlap_lines" json:"overlap_lines"`
}

// WatcherConfig tunes the filesystem watcher's debounce and backpressure.
type WatcherConfig struct {
	DebounceMillis  int `yaml:"debounce_millis" json:"debounce_millis"`
	ChannelCapacity int `yaml:"channel_capacity" json:"channel_capacity"`
}

// SearchConfig holds query-path defaults.
type SearchConfig struct {
	DefaultLimit        int     `yaml:"default_limit" json:"default_limit"`
	DefaultMinScore     float64 `yaml:"default_min_score" json:"default_min_score"`
	CandidateMultiplier int     `yaml:"candidate_multiplier" json:"candidate_multiplier"`
}

// FilterConfig holds the file-candidacy policy.
type FilterConfig struct {
	Extensions       []string `yaml:"extensions" json:"extensions"`
	ExcludeSegments  []string `yaml:"exclude_segments" json:"exclude_segments"`
	ExcludeFilenames []string `yaml:"exclude_filenames" json:"exclude_filenames"`
	RespectGitignore bool     `yaml:"respect_gitignore" json:"respect_gitignore"`
}

var defaultExtensions = []string{
	"rs", "py", "js", "ts", "jsx", "tsx", "go", "java", "c", "cc", "cpp", "h",
	"hpp", "cs", "rb", "php", "swift", "kt", "scala", "sh", "bash", "zsh",
	"sql", "md", "yaml", "yml", "json", "toml", "xml", "html", "css", "scss",
	"vue", "svelte",
}

var defaultExcludeSegments = []string{
	"node_modules", ".git", "target", "build", "dist", "__pycache__",
	".venv", "venv", ".idea", ".vscode", "vendor",
}

var defaultExcludeFilenames = []string{
	".DS_Store", "Thumbs.db", ".env", ".env.local",
}

// NewConfig returns a Config populated with sensible defaults.
func NewConfig() *Config {
	return &Config{
		DataDir:          defaultDataDir(),
		Host:             "127.0.0.1",
		Port:             8765,
		LogLevel:         "info",
		WatchDirs:        nil,
		EmbeddingThreads: defaultEmbeddingThreads(),
		APIKey:           "",
		EnableEmbeddings: true,

		Chunker: ChunkerConfig{
			TargetLines:  50,
			MaxLines:     100,
			MinLines:     10,
			OverlapLines: 5,
		},
		Watcher: WatcherConfig{
			DebounceMillis:  500,
			ChannelCapacity: 100,
		},
		Search: SearchConfig{
			DefaultLimit:        10,
			DefaultMinScore:     0.0,
			CandidateMultiplier: 3,
		},
		Filter: FilterConfig{
			Extensions:       append([]string(nil), defaultExtensions...),
			ExcludeSegments:  append([]string(nil), defaultExcludeSegments...),
			ExcludeFilenames: append([]string(nil), defaultExcludeFilenames...),
			RespectGitignore: true,
		},
	}
}

// defaultEmbeddingThreads is min(available_parallelism, 4).
func defaultEmbeddingThreads() int {
	n := runtime.NumCPU()
	if n > 4 {
		return 4
	}
	if n < 1 {
		return 1
	}
	return n
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".nellie")
	}
	return filepath.Join(home, ".nellie")
}

// GetUserConfigPath returns the path to the user/global configuration file,
// following the XDG Base Directory specification.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "nellie", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "nellie", "config.yaml")
	}
	return filepath.Join(home, ".config", "nellie", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if present.
// Returns (nil, nil) if no such file exists.
func loadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", path, err)
	}
	return cfg, nil
}

// LoadUserConfig loads the user configuration file, or (nil, nil) if absent.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// Load builds a Config by applying, in order of increasing precedence:
//  1. hardcoded defaults
//  2. the user/global config file
//  3. the project config file (.nellie.yaml / .nellie.yml in dir)
//  4. NELLIE_* environment variables
//
// The result is validated before being returned.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, nerrors.ConfigError(err.Error(), err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".nellie.yaml", ".nellie.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero fields from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}
	if other.Host != "" {
		c.Host = other.Host
	}
	if other.Port != 0 {
		c.Port = other.Port
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if len(other.WatchDirs) > 0 {
		c.WatchDirs = other.WatchDirs
	}
	if other.EmbeddingThreads != 0 {
		c.EmbeddingThreads = other.EmbeddingThreads
	}
	if other.APIKey != "" {
		c.APIKey = other.APIKey
	}
	if other.EnableEmbeddings {
		c.EnableEmbeddings = other.EnableEmbeddings
	}

	if other.Chunker.TargetLines != 0 {
		c.Chunker.TargetLines = other.Chunker.TargetLines
	}
	if other.Chunker.MaxLines != 0 {
		c.Chunker.MaxLines = other.Chunker.MaxLines
	}
	if other.Chunker.MinLines != 0 {
		c.Chunker.MinLines = other.Chunker.MinLines
	}
	if other.Chunker.OverlapLines != 0 {
		c.Chunker.OverlapLines = other.Chunker.OverlapLines
	}

	if other.Watcher.DebounceMillis != 0 {
		c.Watcher.DebounceMillis = other.Watcher.DebounceMillis
	}
	if other.Watcher.ChannelCapacity != 0 {
		c.Watcher.ChannelCapacity = other.Watcher.ChannelCapacity
	}

	if other.Search.DefaultLimit != 0 {
		c.Search.DefaultLimit = other.Search.DefaultLimit
	}
	if other.Search.DefaultMinScore != 0 {
		c.Search.DefaultMinScore = other.Search.DefaultMinScore
	}
	if other.Search.CandidateMultiplier != 0 {
		c.Search.CandidateMultiplier = other.Search.CandidateMultiplier
	}

	if len(other.Filter.Extensions) > 0 {
		c.Filter.Extensions = other.Filter.Extensions
	}
	if len(other.Filter.ExcludeSegments) > 0 {
		c.Filter.ExcludeSegments = other.Filter.ExcludeSegments
	}
	if len(other.Filter.ExcludeFilenames) > 0 {
		c.Filter.ExcludeFilenames = other.Filter.ExcludeFilenames
	}
}

// applyEnvOverrides applies NELLIE_* environment variable overrides, the
// highest-precedence layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NELLIE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("NELLIE_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("NELLIE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("NELLIE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("NELLIE_WATCH_DIRS"); v != "" {
		c.WatchDirs = strings.Split(v, ",")
	}
	if v := os.Getenv("NELLIE_EMBEDDING_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.EmbeddingThreads = n
		}
	}
	if v := os.Getenv("NELLIE_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("NELLIE_ENABLE_EMBEDDINGS"); v != "" {
		c.EnableEmbeddings = strings.ToLower(v) == "true" || v == "1"
	}
}

// Validate checks the configuration for the error conditions spec.md's
// Config error kind names: port 0, unknown log level, empty host, threads
// out of 1..32.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log_level must be 'debug', 'info', 'warn', or 'error', got %q", c.LogLevel)
	}
	if c.EmbeddingThreads < 1 || c.EmbeddingThreads > 32 {
		return fmt.Errorf("embedding_threads must be between 1 and 32, got %d", c.EmbeddingThreads)
	}
	if c.Chunker.MinLines <= 0 || c.Chunker.TargetLines < c.Chunker.MinLines || c.Chunker.MaxLines < c.Chunker.TargetLines {
		return fmt.Errorf("chunker lines must satisfy 0 < min <= target <= max, got min=%d target=%d max=%d",
			c.Chunker.MinLines, c.Chunker.TargetLines, c.Chunker.MaxLines)
	}
	if c.Chunker.OverlapLines < 0 || c.Chunker.OverlapLines >= c.Chunker.MaxLines {
		return fmt.Errorf("chunker overlap_lines must be in [0, max_lines), got %d", c.Chunker.OverlapLines)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
