package main

import (
	"strings"
	"sync"

	"podforge/internal/blob"
	"podforge/internal/config"
	"podforge/internal/engine"
	"podforge/internal/jobstore"
	"podforge/internal/logging"
	"podforge/internal/ratelimit"
	"podforge/internal/synth"
	"podforge/internal/synth/openai"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withStore opens the job store for one command invocation.
func (c *commandContext) withStore(fn func(cfg *config.Config, store *jobstore.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := jobstore.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

// withEngine builds the engine without a synthesis provider, enough for
// commands that only touch the store and blob layout (start, reconcile,
// retry). Chunk processing stays with the daemon.
func (c *commandContext) withEngine(fn func(cfg *config.Config, store *jobstore.Store, eng *engine.Engine) error) error {
	return c.withStore(func(cfg *config.Config, store *jobstore.Store) error {
		blobs, err := blob.NewFSStore(cfg.Paths.AudioDir)
		if err != nil {
			return err
		}
		var synthesizer *synth.Synthesizer
		if strings.TrimSpace(cfg.Synthesis.APIKey) != "" {
			provider, err := openai.New(cfg.Synthesis)
			if err != nil {
				return err
			}
			synthesizer = synth.New(provider, ratelimit.New(cfg.Synthesis.RequestsPerMinute), logging.NewNop())
		}
		eng := engine.New(cfg, store, blobs, synthesizer, logging.NewNop())
		return fn(cfg, store, eng)
	})
}
