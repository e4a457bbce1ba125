// Package config provides YAML-based configuration loading for Lar CRM.
//
// Non-secret settings live in lar.yaml. Credentials are overlaid from the
// environment (LAR_* variables, optionally loaded from a .env file next to
// the config file) so the YAML can be committed.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Lar CRM configuration, loaded from lar.yaml.
type Config struct {
	AppName  string         `yaml:"app_name"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Twilio   TwilioConfig   `yaml:"twilio"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Listing  ListingConfig  `yaml:"listing"`
	Geocode  GeocodeConfig  `yaml:"geocode"`
	Sync     SyncConfig     `yaml:"sync"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// DatabaseConfig holds connection settings for the relational store.
// Driver is one of mysql, postgres or sqlite. DSN, when set, wins over the
// individual host fields.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port  int  `yaml:"port"`
	Debug bool `yaml:"debug"`
}

// TwilioConfig holds WhatsApp gateway credentials.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"`
	BaseURL    string `yaml:"base_url"`
}

// OpenAIConfig holds chat and transcription settings.
type OpenAIConfig struct {
	APIKey              string  `yaml:"api_key"`
	BaseURL             string  `yaml:"base_url"`
	Model               string  `yaml:"model"`
	TranscribeModel     string  `yaml:"transcribe_model"`
	Temperature         float64 `yaml:"temperature"`
	MaxTokens           int     `yaml:"max_tokens"`
	RewriteDescriptions bool    `yaml:"rewrite_descriptions"`
}

// ListingConfig points at the third-party property listing API.
type ListingConfig struct {
	BaseURL  string `yaml:"base_url"`
	Token    string `yaml:"token"`
	PageSize int    `yaml:"page_size"`
	MaxPages int    `yaml:"max_pages"`
}

// GeocodeConfig holds postal-code and geocoding service endpoints.
type GeocodeConfig struct {
	ViaCEPURL    string        `yaml:"viacep_url"`
	NominatimURL string        `yaml:"nominatim_url"`
	UserAgent    string        `yaml:"user_agent"`
	MinInterval  time.Duration `yaml:"min_interval"`
}

// SyncConfig controls the property sync worker.
type SyncConfig struct {
	Schedule     string        `yaml:"schedule"`
	StaleAfter   time.Duration `yaml:"stale_after"`
	LockDir      string        `yaml:"lock_dir"`
	LeaseTimeout time.Duration `yaml:"lease_timeout"`
	Workers      int           `yaml:"workers"`
}

// NotifyConfig holds the agent hand-off notification channels. Each channel
// is enabled when its bot token and channel ID are both set.
type NotifyConfig struct {
	// AdminURL is the admin panel base; events link to the conversation.
	AdminURL string        `yaml:"admin_url"`
	Slack    ChannelConfig `yaml:"slack"`
	Discord  ChannelConfig `yaml:"discord"`
}

// ChannelConfig is a bot token plus a target channel. Mention is pinged on
// hand-offs: a Slack user or group ID ("here" works too), or a Discord role ID.
type ChannelConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
	Mention   string `yaml:"mention"`
}

// Enabled reports whether the channel is fully configured.
func (c ChannelConfig) Enabled() bool {
	return c.BotToken != "" && c.ChannelID != ""
}

// secrets are read from LAR_* environment variables and override YAML.
type secrets struct {
	DatabaseDSN      string `envconfig:"DATABASE_DSN"`
	DatabasePassword string `envconfig:"DATABASE_PASSWORD"`
	TwilioAccountSID string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN"`
	OpenAIAPIKey     string `envconfig:"OPENAI_API_KEY"`
	ListingToken     string `envconfig:"LISTING_TOKEN"`
	SlackBotToken    string `envconfig:"SLACK_BOT_TOKEN"`
	DiscordBotToken  string `envconfig:"DISCORD_BOT_TOKEN"`
}

// envPrefix is the prefix of every secret environment variable.
const envPrefix = "lar"

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Load reads a YAML config file from path and returns a validated Config.
// A .env file in the same directory is loaded first when present.
func Load(path string) (*Config, error) {
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load %s: %w", envFile, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config, applying environment
// secrets on top.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays non-empty LAR_* secrets.
func (c *Config) applyEnv() error {
	var s secrets
	if err := envconfig.Process(envPrefix, &s); err != nil {
		return fmt.Errorf("config: env: %w", err)
	}
	overlay := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	overlay(&c.Database.DSN, s.DatabaseDSN)
	overlay(&c.Database.Password, s.DatabasePassword)
	overlay(&c.Twilio.AccountSID, s.TwilioAccountSID)
	overlay(&c.Twilio.AuthToken, s.TwilioAuthToken)
	overlay(&c.OpenAI.APIKey, s.OpenAIAPIKey)
	overlay(&c.Listing.Token, s.ListingToken)
	overlay(&c.Notify.Slack.BotToken, s.SlackBotToken)
	overlay(&c.Notify.Discord.BotToken, s.DiscordBotToken)
	return nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.AppName == "" {
		c.AppName = "Exclusiva Lar Imóveis"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		switch c.Database.Driver {
		case "postgres":
			c.Database.Port = 5432
		default:
			c.Database.Port = 3306
		}
	}
	if c.Database.Name == "" {
		c.Database.Name = "larcrm"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Twilio.BaseURL == "" {
		c.Twilio.BaseURL = "https://api.twilio.com/2010-04-01"
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}
	if c.OpenAI.TranscribeModel == "" {
		c.OpenAI.TranscribeModel = "whisper-1"
	}
	if c.OpenAI.Temperature == 0 {
		c.OpenAI.Temperature = 0.7
	}
	if c.OpenAI.MaxTokens == 0 {
		c.OpenAI.MaxTokens = 500
	}
	if c.Listing.PageSize == 0 {
		c.Listing.PageSize = 100
	}
	if c.Listing.MaxPages == 0 {
		c.Listing.MaxPages = 999
	}
	if c.Geocode.ViaCEPURL == "" {
		c.Geocode.ViaCEPURL = "https://viacep.com.br/ws"
	}
	if c.Geocode.NominatimURL == "" {
		c.Geocode.NominatimURL = "https://nominatim.openstreetmap.org/search"
	}
	if c.Geocode.UserAgent == "" {
		c.Geocode.UserAgent = "ExclusivaLarCRM/1.0"
	}
	if c.Geocode.MinInterval == 0 {
		c.Geocode.MinInterval = 1100 * time.Millisecond
	}
	if c.Sync.StaleAfter == 0 {
		c.Sync.StaleAfter = 4 * time.Hour
	}
	if c.Sync.LockDir == "" {
		c.Sync.LockDir = os.TempDir()
	}
	if c.Sync.LeaseTimeout == 0 {
		c.Sync.LeaseTimeout = 10 * time.Minute
	}
	if c.Sync.Workers == 0 {
		c.Sync.Workers = 4
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "mysql", "postgres":
	case "sqlite":
		if c.Database.DSN == "" && c.Database.Name == "" {
			errs = append(errs, "database.dsn or database.name is required for sqlite")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be mysql, postgres or sqlite", c.Database.Driver))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Twilio.AccountSID != "" && c.Twilio.AuthToken == "" {
		errs = append(errs, "twilio.auth_token is required when twilio.account_sid is set")
	}
	if c.Twilio.AccountSID != "" && c.Twilio.From == "" {
		errs = append(errs, "twilio.from is required when twilio.account_sid is set")
	}
	if c.OpenAI.Temperature < 0 || c.OpenAI.Temperature > 2 {
		errs = append(errs, "openai.temperature must be between 0 and 2")
	}
	if c.Sync.Schedule != "" {
		if _, err := cronParser.Parse(c.Sync.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("sync.schedule: %v", err))
		}
		if c.Listing.BaseURL == "" {
			errs = append(errs, "listing.base_url is required when sync.schedule is set")
		}
	}
	if c.Sync.Workers < 0 {
		errs = append(errs, "sync.workers must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
