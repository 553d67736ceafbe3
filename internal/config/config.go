package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the critward bot.
type Config struct {
	Discord    DiscordConfig    `json:"discord"`
	Classifier ClassifierConfig `json:"classifier"`
	Moderation ModerationConfig `json:"moderation"`
	Store      StoreConfig      `json:"store"`
	Telemetry  TelemetryConfig  `json:"telemetry,omitempty"`
}

// DiscordConfig configures the Discord gateway collaborator.
type DiscordConfig struct {
	Token          string   `json:"-"` // from env CRITWARD_DISCORD_TOKEN only
	AllowChannels  []string `json:"allow_channels"`            // text/forum channel IDs to monitor
	LogChannelID   string   `json:"log_channel_id"`            // moderator log channel
	WaiverRole     string   `json:"waiver_role,omitempty"`     // role name opting authors out (default "Waiver")
	ModeratorRoles []string `json:"moderator_roles,omitempty"` // roles allowed to run feedback commands
	// LogOnly suppresses public replies; flags only go to the log channel.
	LogOnly bool `json:"log_only,omitempty"`
	// ReactWhenSilent adds ReactionEmoji to the newest flagged message when LogOnly is set.
	ReactWhenSilent bool   `json:"react_when_silent,omitempty"`
	ReactionEmoji   string `json:"reaction_emoji,omitempty"` // default "👁️"
	PingResponse    string `json:"ping_response,omitempty"`  // reply when the bot is @mentioned
	BackfillLimit   int    `json:"backfill_limit,omitempty"` // messages fetched per channel on startup (default 50)
}

// ClassifierConfig configures the completion API used for flagging.
type ClassifierConfig struct {
	APIKey        string  `json:"-"` // from env CRITWARD_CLASSIFIER_API_KEY only
	BaseURL       string  `json:"base_url,omitempty"`       // OpenAI-compatible endpoint (default Cerebras)
	Model         string  `json:"model,omitempty"`          // flagging model
	FeedbackModel string  `json:"feedback_model,omitempty"` // cheaper model for user-facing warnings
	Temperature   float64 `json:"temperature,omitempty"`
	TimeoutSecs   int     `json:"timeout_secs,omitempty"` // per-call deadline (default 60)
	MaxRetries    int     `json:"max_retries,omitempty"`  // transient-failure retries (default 3)
	RateRPM       int     `json:"rate_rpm,omitempty"`     // completion calls per minute across all channels
}

// ModerationConfig holds the core pipeline knobs.
type ModerationConfig struct {
	// CountThreshold fires an evaluation once this many pending messages accumulate.
	CountThreshold int `json:"count_threshold,omitempty"` // default 10
	// TimeThresholdSecs fires an evaluation for any non-empty buffer idle this long.
	TimeThresholdSecs int `json:"time_threshold_secs,omitempty"` // default 60
	// SweepIntervalSecs is how often idle buffers are checked for the time trigger.
	SweepIntervalSecs int `json:"sweep_interval_secs,omitempty"` // default 10
	// ContextLimit bounds the history window attached to each evaluation request.
	ContextLimit int `json:"context_limit,omitempty"` // default 25
	// ConfidenceThreshold gates proposed clusters into accepted decisions.
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"` // default 0.7
	// Guidelines is the community feedback policy included in generated warnings.
	Guidelines string `json:"guidelines,omitempty"`
}

// StoreConfig configures the on-disk store.
type StoreConfig struct {
	Path string `json:"path,omitempty"` // sqlite file (default "critward.db")
}

// TelemetryConfig configures OpenTelemetry trace export. With no endpoint,
// spans go to stdout (dev mode) when Enabled is set.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`     // OTLP/HTTP endpoint
	Insecure    bool   `json:"insecure,omitempty"`     // plain HTTP for local collectors
	ServiceName string `json:"service_name,omitempty"` // default "critward"
}

// Timeout returns the classifier per-call deadline.
func (c ClassifierConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// TimeThreshold returns the idle-buffer trigger duration.
func (m ModerationConfig) TimeThreshold() time.Duration {
	return time.Duration(m.TimeThresholdSecs) * time.Second
}

// SweepInterval returns the scheduler sweep period.
func (m ModerationConfig) SweepInterval() time.Duration {
	return time.Duration(m.SweepIntervalSecs) * time.Second
}

// Validate checks startup-fatal configuration errors: missing credentials,
// an empty channel allowlist, or an out-of-range confidence threshold.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord token not set (CRITWARD_DISCORD_TOKEN)")
	}
	if c.Classifier.APIKey == "" {
		return fmt.Errorf("classifier API key not set (CRITWARD_CLASSIFIER_API_KEY)")
	}
	if len(c.Discord.AllowChannels) == 0 {
		return fmt.Errorf("discord.allow_channels is empty: nothing to monitor")
	}
	if c.Discord.LogChannelID == "" {
		return fmt.Errorf("discord.log_channel_id not set")
	}
	if t := c.Moderation.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("moderation.confidence_threshold %v out of range [0,1]", t)
	}
	if c.Moderation.CountThreshold <= 0 {
		return fmt.Errorf("moderation.count_threshold must be positive")
	}
	if c.Moderation.TimeThresholdSecs <= 0 {
		return fmt.Errorf("moderation.time_threshold_secs must be positive")
	}
	return nil
}
