// Package openai implements the synthesis provider on the OpenAI
// speech API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"podforge/internal/config"
	"podforge/internal/services"
)

const (
	defaultModel = "gpt-4o-mini-tts"
	defaultSpeed = 1.0
)

// Provider calls the OpenAI speech endpoint for one text/voice pair.
type Provider struct {
	model  string
	speed  float64
	client openai.Client
}

// New constructs a provider from synthesis configuration.
func New(cfg config.Synthesis) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "synth", "openai", "synthesis.api_key is required", nil)
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	speed := cfg.Speed
	if speed <= 0 {
		speed = defaultSpeed
	}

	timeout := 300 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		// Transport-level retries stay off; the synthesizer owns retry
		// and backoff policy.
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}

	return &Provider{
		model:  model,
		speed:  speed,
		client: openai.NewClient(opts...),
	}, nil
}

// Synthesize converts text to MP3 audio bytes using the given voice.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, services.Wrap(services.ErrValidation, "synth", "openai", "text is required", nil)
	}
	if strings.TrimSpace(voice) == "" {
		return nil, services.Wrap(services.ErrValidation, "synth", "openai", "voice is required", nil)
	}

	resp, err := p.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(p.model),
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
		Speed:          openai.Float(p.speed),
	})
	if err != nil {
		return nil, mapError(err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "synth", "openai", "read audio response", err)
	}
	if len(audio) == 0 {
		return nil, services.Wrap(services.ErrTransient, "synth", "openai", "empty audio response", nil)
	}
	return audio, nil
}

// mapError classifies provider failures onto the shared taxonomy so the
// synthesizer can pick retry and cooldown behavior.
func mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return services.Wrap(services.ErrRateLimited, "synth", "openai",
				fmt.Sprintf("http %d", apiErr.StatusCode), err)
		case apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode == http.StatusGatewayTimeout:
			return services.Wrap(services.ErrTimeout, "synth", "openai",
				fmt.Sprintf("http %d", apiErr.StatusCode), err)
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			return services.Wrap(services.ErrValidation, "synth", "openai",
				fmt.Sprintf("http %d", apiErr.StatusCode), err)
		default:
			return services.Wrap(services.ErrTransient, "synth", "openai",
				fmt.Sprintf("http %d", apiErr.StatusCode), err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "synth", "openai", "call timed out", err)
	}
	return services.Wrap(services.ErrTransient, "synth", "openai", "call failed", err)
}
