package testsupport

import (
	"path/filepath"
	"testing"

	"podforge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.AudioDir = filepath.Join(base, "audio")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Synthesis.APIKey = "test"
	cfg.ScriptGen.APIKey = "test"

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithChunking overrides the chunking limits on the test config.
func WithChunking(hardLimit, target int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Chunking.HardLimitChars = hardLimit
		cfg.Chunking.TargetChars = target
	}
}

// WithRetryLimit overrides the per-chunk retry ceiling on the test config.
func WithRetryLimit(limit int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Engine.ChunkRetryLimit = limit
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
