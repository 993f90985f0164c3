package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gostudio/orchestra/internal/hub"
	"github.com/gostudio/orchestra/internal/models"
	"github.com/gostudio/orchestra/internal/services"
)

type config struct {
	Port             string `yaml:"port"`
	LogLevel         string `yaml:"logLevel"`
	SystemPrompt     string `yaml:"systemPrompt"`
	CodeSystemPrompt string `yaml:"codeSystemPrompt"`

	// AutoRespondMode is sequential or concurrent.
	AutoRespondMode    string        `yaml:"autoRespondMode"`
	SessionIdleTimeout time.Duration `yaml:"sessionIdleTimeout"`

	Providers providersConfig     `yaml:"providers"`
	Models    []models.Descriptor `yaml:"models"`
}

type providersConfig struct {
	Gemini    geminiConfig    `yaml:"gemini"`
	Publisher publisherConfig `yaml:"publisher"`
	Local     localConfig     `yaml:"local"`
}

type geminiConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseUrl"`
}

type publisherConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseUrl"`
}

type localConfig struct {
	Host string `yaml:"host"`
}

// applyDefaults fills unset fields, letting environment variables stand in
// for the provider credentials so the config file never has to hold keys.
func (c *config) applyDefaults() {
	if c.Port == "" {
		c.Port = "8008"
	}
	if c.AutoRespondMode == "" {
		c.AutoRespondMode = hub.AutoRespondSequential
	}
	if c.Providers.Gemini.APIKey == "" {
		c.Providers.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.Providers.Publisher.APIKey == "" {
		c.Providers.Publisher.APIKey = os.Getenv("PUBLISHER_API_KEY")
	}
	if c.Providers.Local.Host == "" {
		c.Providers.Local.Host = os.Getenv("OLLAMA_HOST")
	}
}

func (c config) validate() error {
	switch c.AutoRespondMode {
	case hub.AutoRespondSequential, hub.AutoRespondConcurrent:
	default:
		return fmt.Errorf("invalid autoRespondMode %q", c.AutoRespondMode)
	}
	if len(c.Models) == 0 {
		return errors.New("at least one model must be configured")
	}

	seen := make(map[string]struct{}, len(c.Models))
	for _, d := range c.Models {
		if d.ID == "" {
			return errors.New("model with empty id")
		}
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("duplicate model id %q", d.ID)
		}
		seen[d.ID] = struct{}{}

		switch d.Provider {
		case models.ProviderGemini:
			if c.Providers.Gemini.APIKey == "" {
				return fmt.Errorf("model %s needs a gemini API key", d.ID)
			}
		case models.ProviderPublisher:
			if c.Providers.Publisher.APIKey == "" {
				return fmt.Errorf("model %s needs a publisher API key", d.ID)
			}
		case models.ProviderLocal:
		default:
			return fmt.Errorf("model %s has unknown provider %q", d.ID, d.Provider)
		}
	}
	return nil
}

// providers builds one adapter per provider that has configuration,
// regardless of whether a model currently uses it.
func (c config) providers(logger *slog.Logger) (map[models.Provider]hub.Streamer, error) {
	out := make(map[models.Provider]hub.Streamer)

	if c.Providers.Gemini.APIKey != "" {
		out[models.ProviderGemini] = services.NewGemini(c.Providers.Gemini.APIKey, c.Providers.Gemini.BaseURL, logger)
	}
	if c.Providers.Publisher.APIKey != "" {
		out[models.ProviderPublisher] = services.NewPublisher(c.Providers.Publisher.APIKey, c.Providers.Publisher.BaseURL, logger)
	}
	if c.Providers.Local.Host != "" {
		local, err := services.NewOllama(c.Providers.Local.Host, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build local provider: %w", err)
		}
		out[models.ProviderLocal] = local
	}

	return out, nil
}

func (c config) logLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// maskKey keeps the first and last four characters of a key, hiding the
// rest. Short keys are fully hidden.
func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
