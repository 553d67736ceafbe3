package config

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

const defaultGuidelines = `Make sure your feedback is consented. Be positive with that feedback.
Only give feedback in the way that is being requested, if at all. Phrase
suggestions positively, include a few positive takeaways alongside suggested
improvements, and focus on the how and why instead of just the what.`

// Default returns a Config with sensible defaults. Secrets are only ever
// read from the environment, never from the config file.
func Default() *Config {
	return &Config{
		Discord: DiscordConfig{
			WaiverRole:      "Waiver",
			ReactionEmoji:   "👁️",
			ReactWhenSilent: true,
			LogOnly:         true,
			PingResponse:    "Hello! I'm a moderation bot helping find unconstructive criticism.",
			BackfillLimit:   50,
		},
		Classifier: ClassifierConfig{
			BaseURL:       "https://api.cerebras.ai/v1",
			Model:         "llama3.3-70b",
			FeedbackModel: "llama3.1-8b",
			Temperature:   0.2,
			TimeoutSecs:   60,
			MaxRetries:    3,
			RateRPM:       20,
		},
		Moderation: ModerationConfig{
			CountThreshold:      10,
			TimeThresholdSecs:   60,
			SweepIntervalSecs:   10,
			ContextLimit:        25,
			ConfidenceThreshold: 0.7,
			Guidelines:          defaultGuidelines,
		},
		Store: StoreConfig{
			Path: "critward.db",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "critward",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env are enough to run.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("CRITWARD_DISCORD_TOKEN", &c.Discord.Token)
	envStr("CRITWARD_CLASSIFIER_API_KEY", &c.Classifier.APIKey)
	envStr("CRITWARD_CLASSIFIER_BASE_URL", &c.Classifier.BaseURL)
	envStr("CRITWARD_CLASSIFIER_MODEL", &c.Classifier.Model)
	envStr("CRITWARD_LOG_CHANNEL_ID", &c.Discord.LogChannelID)
	envStr("CRITWARD_STORE_PATH", &c.Store.Path)
	envStr("CRITWARD_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	if c.Telemetry.Endpoint != "" {
		c.Telemetry.Enabled = true
	}
}
