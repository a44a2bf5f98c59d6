package config

const (
	defaultDataDir  = "~/.local/share/podforge/data"
	defaultAudioDir = "~/.local/share/podforge/audio"
	defaultLogDir   = "~/.local/share/podforge/logs"

	defaultSynthesisBaseURL  = "https://api.openai.com/v1"
	defaultSynthesisModel    = "gpt-4o-mini-tts"
	defaultSynthesisVoiceA   = "alloy"
	defaultSynthesisVoiceB   = "onyx"
	defaultSynthesisTimeout  = 60
	defaultRequestsPerMinute = 60

	defaultScriptGenBaseURL = "https://openrouter.ai/api/v1/chat/completions"
	defaultScriptGenModel   = "google/gemini-3-flash-preview"
	defaultScriptGenTimeout = 120

	defaultHardLimitChars = 4000
	defaultTargetChars    = 3500

	defaultPollInterval       = 5
	defaultErrorRetryInterval = 10
	defaultChunkRetryLimit    = 3
	defaultStaleChunkMinutes  = 10
	defaultDispatchDelayMinMS = 1000
	defaultDispatchDelayMaxMS = 3000

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			AudioDir: defaultAudioDir,
			LogDir:   defaultLogDir,
		},
		Synthesis: Synthesis{
			BaseURL:           defaultSynthesisBaseURL,
			Model:             defaultSynthesisModel,
			VoiceA:            defaultSynthesisVoiceA,
			VoiceB:            defaultSynthesisVoiceB,
			Speed:             1.0,
			TimeoutSeconds:    defaultSynthesisTimeout,
			RequestsPerMinute: defaultRequestsPerMinute,
		},
		ScriptGen: ScriptGen{
			BaseURL:        defaultScriptGenBaseURL,
			Model:          defaultScriptGenModel,
			TimeoutSeconds: defaultScriptGenTimeout,
		},
		Chunking: Chunking{
			HardLimitChars: defaultHardLimitChars,
			TargetChars:    defaultTargetChars,
		},
		Engine: Engine{
			PollInterval:       defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			ChunkRetryLimit:    defaultChunkRetryLimit,
			StaleChunkMinutes:  defaultStaleChunkMinutes,
			DispatchDelayMinMS: defaultDispatchDelayMinMS,
			DispatchDelayMaxMS: defaultDispatchDelayMaxMS,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
