// Package config provides YAML-based configuration loading for the review studio.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level studio configuration, loaded from studio.yaml.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Documents    DocumentsConfig    `yaml:"documents"`
	Inference    InferenceConfig    `yaml:"inference"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Live         LiveConfig         `yaml:"live"`
	Notify       NotifyConfig       `yaml:"notify"`
	Log          LogConfig          `yaml:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Listen         string          `yaml:"listen"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	Version        string          `yaml:"version"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds per-client request rates on the write endpoints.
type RateLimitConfig struct {
	Disabled          bool `yaml:"disabled"`
	UploadPerMinute   int  `yaml:"upload_per_minute"`
	SessionsPerMinute int  `yaml:"sessions_per_minute"`
	PromptPerMinute   int  `yaml:"prompt_per_minute"`
}

// DatabaseConfig selects the relational store used for the usage ledger.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "mysql"
	DSN    string `yaml:"dsn"`
}

// DocumentsConfig controls uploads and the document store location.
type DocumentsConfig struct {
	Dir               string    `yaml:"dir"`
	MaxUploadSize     SizeBytes `yaml:"max_upload_size"`
	AllowedExtensions []string  `yaml:"allowed_extensions"`
}

// InferenceConfig selects the model backend and maps persona tiers to model ids.
type InferenceConfig struct {
	Provider          string            `yaml:"provider"` // "gemini", "vertex" or "offline"
	APIKey            string            `yaml:"api_key"`
	Project           string            `yaml:"project"`
	Location          string            `yaml:"location"`
	DefaultTier       string            `yaml:"default_tier"`
	SummaryTier       string            `yaml:"summary_tier"`
	Tiers             map[string]string `yaml:"tiers"`
	RequestsPerSecond float64           `yaml:"requests_per_second"`
	Burst             int               `yaml:"burst"`
	Temperature       float32           `yaml:"temperature"`
	MaxOutputTokens   int32             `yaml:"max_output_tokens"`
}

// OrchestratorConfig bounds each generation call and the peer fan-out.
type OrchestratorConfig struct {
	GenerationTimeout Duration `yaml:"generation_timeout"`
	MaxAttempts       int      `yaml:"max_attempts"`
	RetryBaseBackoff  Duration `yaml:"retry_base_backoff"`
	RetryMaxBackoff   Duration `yaml:"retry_max_backoff"`
	MaxParallel       int      `yaml:"max_parallel"`
	ModeratorName     string   `yaml:"moderator_name"`
	TemplatesFile     string   `yaml:"templates_file"` // empty uses the built-in catalog
}

// LiveConfig controls the push-update channel.
type LiveConfig struct {
	Heartbeat        string `yaml:"heartbeat"` // cron spec, e.g. "@every 15s"
	SubscriberBuffer int    `yaml:"subscriber_buffer"`
}

// NotifyConfig enables relaying moderator syntheses to chat platforms.
type NotifyConfig struct {
	Slack   ChannelConfig `yaml:"slack"`
	Discord ChannelConfig `yaml:"discord"`
}

// ChannelConfig names a bot token and the channel it posts to.
type ChannelConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether both token and channel are set.
func (c ChannelConfig) Enabled() bool {
	return c.BotToken != "" && c.ChannelID != ""
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// DefaultTiers maps the persona model tiers to backend model ids.
var DefaultTiers = map[string]string{
	"nova-micro":   "gemini-2.0-flash-lite",
	"nova-lite":    "gemini-2.0-flash",
	"nova-pro":     "gemini-2.5-flash",
	"nova-premier": "gemini-2.5-pro",
}

// Load reads a YAML config file from path, applies environment overrides
// (including a .env file in the working directory when present) and returns
// a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return parseWithEnv(data)
}

// Default returns the built-in configuration with environment overrides.
func Default() (*Config, error) {
	return parseWithEnv(nil)
}

func parseWithEnv(data []byte) (*Config, error) {
	_ = godotenv.Load(".env")

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse unmarshals YAML bytes into a validated Config. Environment variables
// are not consulted.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides selected fields from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("STUDIO_LISTEN", &c.Server.Listen)
	set("STUDIO_DB_DRIVER", &c.Database.Driver)
	set("STUDIO_DB_DSN", &c.Database.DSN)
	set("STUDIO_INFERENCE_PROVIDER", &c.Inference.Provider)
	set("STUDIO_GEMINI_API_KEY", &c.Inference.APIKey)
	set("STUDIO_SLACK_BOT_TOKEN", &c.Notify.Slack.BotToken)
	set("STUDIO_DISCORD_BOT_TOKEN", &c.Notify.Discord.BotToken)
	set("STUDIO_LOG_LEVEL", &c.Log.Level)
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8000"
	}
	if c.Server.Version == "" {
		c.Server.Version = "1.0.0"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	if c.Server.RateLimit.UploadPerMinute <= 0 {
		c.Server.RateLimit.UploadPerMinute = 10
	}
	if c.Server.RateLimit.SessionsPerMinute <= 0 {
		c.Server.RateLimit.SessionsPerMinute = 5
	}
	if c.Server.RateLimit.PromptPerMinute <= 0 {
		c.Server.RateLimit.PromptPerMinute = 20
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "studio.db"
	}
	if c.Documents.Dir == "" {
		c.Documents.Dir = "data/documents"
	}
	if c.Documents.MaxUploadSize == 0 {
		c.Documents.MaxUploadSize = 10 << 20
	}
	if len(c.Documents.AllowedExtensions) == 0 {
		c.Documents.AllowedExtensions = []string{".txt", ".md", ".docx", ".pdf"}
	}
	for i, ext := range c.Documents.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Documents.AllowedExtensions[i] = ext
	}
	if c.Inference.Provider == "" {
		c.Inference.Provider = "offline"
	}
	if c.Inference.Tiers == nil {
		c.Inference.Tiers = make(map[string]string, len(DefaultTiers))
	}
	for tier, model := range DefaultTiers {
		if _, ok := c.Inference.Tiers[tier]; !ok {
			c.Inference.Tiers[tier] = model
		}
	}
	if c.Inference.DefaultTier == "" {
		c.Inference.DefaultTier = "nova-lite"
	}
	if c.Inference.SummaryTier == "" {
		c.Inference.SummaryTier = "nova-pro"
	}
	if c.Inference.RequestsPerSecond <= 0 {
		c.Inference.RequestsPerSecond = 2
	}
	if c.Inference.Burst <= 0 {
		c.Inference.Burst = 4
	}
	if c.Inference.Temperature == 0 {
		c.Inference.Temperature = 0.7
	}
	if c.Inference.MaxOutputTokens == 0 {
		c.Inference.MaxOutputTokens = 8192
	}
	if c.Orchestrator.GenerationTimeout == 0 {
		c.Orchestrator.GenerationTimeout = Duration(defaultGenerationTimeout)
	}
	if c.Orchestrator.MaxAttempts <= 0 {
		c.Orchestrator.MaxAttempts = 3
	}
	if c.Orchestrator.RetryBaseBackoff == 0 {
		c.Orchestrator.RetryBaseBackoff = Duration(defaultRetryBase)
	}
	if c.Orchestrator.RetryMaxBackoff == 0 {
		c.Orchestrator.RetryMaxBackoff = Duration(defaultRetryMax)
	}
	if c.Orchestrator.MaxParallel <= 0 {
		c.Orchestrator.MaxParallel = 10
	}
	if c.Orchestrator.ModeratorName == "" {
		c.Orchestrator.ModeratorName = "Team Moderator"
	}
	if c.Live.Heartbeat == "" {
		c.Live.Heartbeat = "@every 15s"
	}
	if c.Live.SubscriberBuffer <= 0 {
		c.Live.SubscriberBuffer = 64
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (sqlite, mysql)", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required")
	}
	switch c.Inference.Provider {
	case "offline":
	case "gemini":
		if c.Inference.APIKey == "" {
			errs = append(errs, "inference.api_key is required for provider gemini")
		}
	case "vertex":
		if c.Inference.Project == "" || c.Inference.Location == "" {
			errs = append(errs, "inference.project and inference.location are required for provider vertex")
		}
	default:
		errs = append(errs, fmt.Sprintf("inference.provider %q is not supported (gemini, vertex, offline)", c.Inference.Provider))
	}
	if _, ok := c.Inference.Tiers[c.Inference.DefaultTier]; !ok {
		errs = append(errs, fmt.Sprintf("inference.default_tier %q is not a configured tier", c.Inference.DefaultTier))
	}
	if _, ok := c.Inference.Tiers[c.Inference.SummaryTier]; !ok {
		errs = append(errs, fmt.Sprintf("inference.summary_tier %q is not a configured tier", c.Inference.SummaryTier))
	}
	for _, tier := range c.TierNames() {
		if strings.TrimSpace(c.Inference.Tiers[tier]) == "" {
			errs = append(errs, fmt.Sprintf("inference.tiers[%s] model id is required", tier))
		}
	}
	if c.Documents.MaxUploadSize < 0 {
		errs = append(errs, "documents.max_upload_size must be positive")
	}
	if c.Orchestrator.RetryMaxBackoff < c.Orchestrator.RetryBaseBackoff {
		errs = append(errs, "orchestrator.retry_max_backoff must not be below retry_base_backoff")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not supported (json, console)", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// TierNames returns the configured tier names in sorted order.
func (c *Config) TierNames() []string {
	names := make([]string, 0, len(c.Inference.Tiers))
	for name := range c.Inference.Tiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
