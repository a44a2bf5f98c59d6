package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateSynthesis(); err != nil {
		return err
	}
	if err := c.validateChunking(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.AudioDir == "" {
		return errors.New("paths.audio_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateSynthesis() error {
	if c.Synthesis.VoiceA == "" || c.Synthesis.VoiceB == "" {
		return errors.New("synthesis.voice_a and synthesis.voice_b must be set")
	}
	if c.Synthesis.Speed < 0.25 || c.Synthesis.Speed > 4.0 {
		return errors.New("synthesis.speed must be between 0.25 and 4.0")
	}
	if c.Synthesis.TimeoutSeconds <= 0 {
		return errors.New("synthesis.timeout_seconds must be positive")
	}
	if c.Synthesis.RequestsPerMinute <= 0 {
		return errors.New("synthesis.requests_per_minute must be positive")
	}
	return nil
}

func (c *Config) validateChunking() error {
	if c.Chunking.HardLimitChars <= 0 {
		return errors.New("chunking.hard_limit_chars must be positive")
	}
	if c.Chunking.TargetChars <= 0 {
		return errors.New("chunking.target_chars must be positive")
	}
	if c.Chunking.TargetChars > c.Chunking.HardLimitChars {
		return fmt.Errorf("chunking.target_chars (%d) must not exceed chunking.hard_limit_chars (%d)",
			c.Chunking.TargetChars, c.Chunking.HardLimitChars)
	}
	return nil
}

func (c *Config) validateEngine() error {
	if c.Engine.PollInterval <= 0 {
		return errors.New("engine.poll_interval must be positive")
	}
	if c.Engine.ErrorRetryInterval <= 0 {
		return errors.New("engine.error_retry_interval must be positive")
	}
	if c.Engine.ChunkRetryLimit < 1 {
		return errors.New("engine.chunk_retry_limit must be at least 1")
	}
	if c.Engine.StaleChunkMinutes <= 0 {
		return errors.New("engine.stale_chunk_minutes must be positive")
	}
	if c.Engine.DispatchDelayMinMS < 0 || c.Engine.DispatchDelayMaxMS < c.Engine.DispatchDelayMinMS {
		return errors.New("engine.dispatch_delay_max_ms must be >= engine.dispatch_delay_min_ms >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
