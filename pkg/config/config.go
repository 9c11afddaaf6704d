// Copyright 2024-2026 Aiku AI

// Package config loads and validates the bridge configuration.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/adhocore/gronx"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/spacebar-bridge/pkg/format"
	"github.com/aiku/spacebar-bridge/pkg/metrics"
	"github.com/aiku/spacebar-bridge/pkg/pairstore"
)

//go:embed example-config.yaml
var ExampleConfig string

// Environment variables overriding the tokens in the file.
const (
	EnvDiscordToken  = "SPACEBAR_BRIDGE_DISCORD_TOKEN"
	EnvSpacebarToken = "SPACEBAR_BRIDGE_SPACEBAR_TOKEN"
)

// Platform locates one side of the bridge.
type Platform struct {
	Host    string `yaml:"host"`
	CDNHost string `yaml:"cdn_host"`
	Token   string `yaml:"token"`
}

// Bridge pairs a Discord channel with a Spacebar channel.
type Bridge struct {
	SourceChannelID string `yaml:"source_channel_id"`
	TargetChannelID string `yaml:"target_channel_id"`
}

type Database struct {
	Type             string `yaml:"type"`
	DirPath          string `yaml:"dir_path"`
	PostgresURI      string `yaml:"postgres_uri"`
	CleanupDays      int    `yaml:"cleanup_days"`
	PairLifetimeDays int    `yaml:"pair_lifetime_days"`
	CleanupCron      string `yaml:"cleanup_cron"`
}

// Config is the whole configuration file.
type Config struct {
	Discord  Platform `yaml:"discord"`
	Spacebar Platform `yaml:"spacebar"`
	Bridges  []Bridge `yaml:"bridges"`
	Database Database `yaml:"database"`

	Format            format.Config `yaml:"format"`
	CustomStatus      string        `yaml:"custom_status"`
	CustomStatusEmoji string        `yaml:"custom_status_emoji"`
	DiscordGuildID    string        `yaml:"discord_guild_id"`
	SpacebarGuildID   string        `yaml:"spacebar_guild_id"`

	SendTimeoutRaw    string  `yaml:"send_timeout"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	Metrics metrics.Config    `yaml:"metrics"`
	Logging zeroconfig.Config `yaml:"logging"`

	SendTimeout time.Duration `yaml:"-"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// ApplyEnv replaces the tokens with the environment overrides, if set.
func (c *Config) ApplyEnv() {
	if token := os.Getenv(EnvDiscordToken); token != "" {
		c.Discord.Token = token
	}
	if token := os.Getenv(EnvSpacebarToken); token != "" {
		c.Spacebar.Token = token
	}
}

// PostProcess parses the fields that need more than YAML decoding.
func (c *Config) PostProcess() error {
	c.SendTimeout = 0
	if c.SendTimeoutRaw != "" {
		timeout, err := time.ParseDuration(c.SendTimeoutRaw)
		if err != nil {
			return fmt.Errorf("invalid send_timeout: %w", err)
		}
		c.SendTimeout = timeout
	}
	return nil
}

// Validate reports every problem that prevents the bridge from starting.
func (c *Config) Validate() error {
	var errs []error
	for name, p := range map[string]Platform{"discord": c.Discord, "spacebar": c.Spacebar} {
		if p.Host == "" {
			errs = append(errs, fmt.Errorf("%s.host is required", name))
		}
		if p.Token == "" {
			errs = append(errs, fmt.Errorf("%s.token is required", name))
		}
	}
	if len(c.Bridges) == 0 {
		errs = append(errs, errors.New("at least one bridge is required"))
	}
	sources := make(map[string]bool, len(c.Bridges))
	targets := make(map[string]bool, len(c.Bridges))
	for i, b := range c.Bridges {
		if b.SourceChannelID == "" || b.TargetChannelID == "" {
			errs = append(errs, fmt.Errorf("bridges[%d]: both channel IDs are required", i))
			continue
		}
		if sources[b.SourceChannelID] {
			errs = append(errs, fmt.Errorf("bridges[%d]: duplicate source channel %s", i, b.SourceChannelID))
		}
		if targets[b.TargetChannelID] {
			errs = append(errs, fmt.Errorf("bridges[%d]: duplicate target channel %s", i, b.TargetChannelID))
		}
		sources[b.SourceChannelID] = true
		targets[b.TargetChannelID] = true
	}
	switch c.Database.Type {
	case pairstore.BackendSQLite, "sqlite3", "", pairstore.BackendBolt:
	case pairstore.BackendPostgres:
		if _, err := pairstore.PostgresDatabaseURI(c.Database.PostgresURI, "check"); err != nil {
			errs = append(errs, fmt.Errorf("database.postgres_uri: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.type %q", c.Database.Type))
	}
	if c.Database.CleanupDays < 0 || c.Database.PairLifetimeDays < 0 {
		errs = append(errs, errors.New("database day counts must not be negative"))
	}
	if c.Database.CleanupCron != "" && !gronx.IsValid(c.Database.CleanupCron) {
		errs = append(errs, fmt.Errorf("invalid database.cleanup_cron %q", c.Database.CleanupCron))
	}
	if c.SendTimeout < 0 {
		errs = append(errs, errors.New("send_timeout must not be negative"))
	}
	if c.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("requests_per_second must not be negative"))
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, errors.New("metrics.listen is required when metrics are enabled"))
	}
	return errors.Join(errs...)
}

// Pairs returns the configured bridges as Discord to Spacebar channel pairs.
func (c *Config) Pairs() []pairstore.ChannelPair {
	pairs := make([]pairstore.ChannelPair, len(c.Bridges))
	for i, b := range c.Bridges {
		pairs[i] = pairstore.NewChannelPair(b.SourceChannelID, b.TargetChannelID)
	}
	return pairs
}

func upgradeConfig(helper up.Helper) {
	for _, side := range []string{"discord", "spacebar"} {
		helper.Copy(up.Str, side, "host")
		helper.Copy(up.Str, side, "cdn_host")
		helper.Copy(up.Str, side, "token")
	}
	helper.Copy(up.List, "bridges")

	helper.Copy(up.Str, "database", "type")
	helper.Copy(up.Str, "database", "dir_path")
	helper.Copy(up.Str, "database", "postgres_uri")
	helper.Copy(up.Int, "database", "cleanup_days")
	helper.Copy(up.Int, "database", "pair_lifetime_days")
	helper.Copy(up.Str, "database", "cleanup_cron")

	helper.Copy(up.Str, "format", "format_interaction")
	helper.Copy(up.Str, "format", "format_one_reaction")
	helper.Copy(up.Str, "format", "reactions_separator")

	helper.Copy(up.Str, "custom_status")
	helper.Copy(up.Str, "custom_status_emoji")
	helper.Copy(up.Str|up.Int, "discord_guild_id")
	helper.Copy(up.Str|up.Int, "spacebar_guild_id")
	helper.Copy(up.Str, "send_timeout")
	helper.Copy(up.Int|up.Float, "requests_per_second")

	helper.Copy(up.Bool, "metrics", "enabled")
	helper.Copy(up.Str, "metrics", "listen")
	helper.Copy(up.Str, "metrics", "path")

	helper.Copy(up.Map, "logging")
}

// Upgrader carries a config file forward to the layout of ExampleConfig.
var Upgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Blocks: [][]string{
		{"spacebar"},
		{"database"},
		{"format"},
		{"custom_status"},
		{"discord_guild_id"},
		{"send_timeout"},
		{"metrics"},
		{"logging"},
	},
	Base: ExampleConfig,
}
