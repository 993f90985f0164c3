package main

import (
	"strings"
	"testing"

	"github.com/gostudio/orchestra/internal/models"
	"gopkg.in/yaml.v3"
)

func validConfig() config {
	return config{
		Port: "8008",
		Providers: providersConfig{
			Gemini: geminiConfig{APIKey: "key"},
		},
		Models: []models.Descriptor{
			{ID: "alpha", Name: "alpha", Provider: models.ProviderGemini, Enabled: true},
		},
		AutoRespondMode: "sequential",
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*config) {},
		},
		{
			name:    "no models",
			mutate:  func(c *config) { c.Models = nil },
			wantErr: "at least one model",
		},
		{
			name: "duplicate model id",
			mutate: func(c *config) {
				c.Models = append(c.Models, c.Models[0])
			},
			wantErr: "duplicate model id",
		},
		{
			name: "gemini model without key",
			mutate: func(c *config) {
				c.Providers.Gemini.APIKey = ""
			},
			wantErr: "needs a gemini API key",
		},
		{
			name: "unknown provider",
			mutate: func(c *config) {
				c.Models[0].Provider = "mystery"
			},
			wantErr: "unknown provider",
		},
		{
			name: "bad auto respond mode",
			mutate: func(c *config) {
				c.AutoRespondMode = "eventually"
			},
			wantErr: "invalid autoRespondMode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfigDecodesModels(t *testing.T) {
	raw := `
port: "9000"
autoRespondMode: concurrent
sessionIdleTimeout: 90s
providers:
  gemini:
    apiKey: secret
models:
  - id: alpha
    name: alpha-large
    provider: gemini
    enabled: true
    autoRespond: true
    parameters:
      temperature: 0.7
      stream: true
`
	var cfg config
	if err := yaml.Unmarshal([]byte(raw), &cfg); err != nil {
		t.Fatalf("unmarshal error = %v", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate() error = %v", err)
	}

	if cfg.Port != "9000" {
		t.Errorf("port = %q, want 9000", cfg.Port)
	}
	if cfg.SessionIdleTimeout.Seconds() != 90 {
		t.Errorf("sessionIdleTimeout = %v, want 90s", cfg.SessionIdleTimeout)
	}
	d := cfg.Models[0]
	if d.Name != "alpha-large" || !d.AutoRespond || !d.Parameters.Stream {
		t.Errorf("model = %+v, want decoded fields", d)
	}
	if d.Parameters.Temperature != 0.7 {
		t.Errorf("temperature = %v, want 0.7", d.Parameters.Temperature)
	}
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{key: "", want: ""},
		{key: "short", want: "*****"},
		{key: "AIzaSyExample1234mnop", want: "AIza" + strings.Repeat("*", 13) + "mnop"},
	}

	for _, tt := range tests {
		if got := maskKey(tt.key); got != tt.want {
			t.Errorf("maskKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
	if strings.Contains(maskKey("AIzaSyExample1234mnop"), "SyExample") {
		t.Error("masked key must hide the middle of the credential")
	}
}
