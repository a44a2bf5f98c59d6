package config

import (
	"os"
	"strings"
)

// normalize expands path fields, applies environment fallbacks, and trims
// string values so validation sees canonical input.
func (c *Config) normalize() error {
	paths := []*string{
		&c.Paths.DataDir,
		&c.Paths.AudioDir,
		&c.Paths.LogDir,
	}
	for _, field := range paths {
		expanded, err := expandPath(strings.TrimSpace(*field))
		if err != nil {
			return err
		}
		*field = expanded
	}

	c.Synthesis.APIKey = strings.TrimSpace(c.Synthesis.APIKey)
	c.Synthesis.BaseURL = strings.TrimSpace(c.Synthesis.BaseURL)
	c.Synthesis.Model = strings.TrimSpace(c.Synthesis.Model)
	c.Synthesis.VoiceA = strings.TrimSpace(c.Synthesis.VoiceA)
	c.Synthesis.VoiceB = strings.TrimSpace(c.Synthesis.VoiceB)

	c.ScriptGen.APIKey = strings.TrimSpace(c.ScriptGen.APIKey)
	c.ScriptGen.BaseURL = strings.TrimSpace(c.ScriptGen.BaseURL)
	c.ScriptGen.Model = strings.TrimSpace(c.ScriptGen.Model)

	if c.Synthesis.APIKey == "" {
		c.Synthesis.APIKey = strings.TrimSpace(envOr("PODFORGE_SYNTHESIS_API_KEY", "OPENAI_API_KEY"))
	}
	if c.ScriptGen.APIKey == "" {
		c.ScriptGen.APIKey = strings.TrimSpace(envOr("PODFORGE_SCRIPTGEN_API_KEY", "OPENROUTER_API_KEY"))
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

func envOr(keys ...string) string {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
