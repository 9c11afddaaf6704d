// Copyright 2024-2026 Aiku AI

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"
)

const validConfig = `
discord:
    host: https://discord.com
    cdn_host: cdn.discordapp.com
    token: dc-token
spacebar:
    host: spacebar.local
    cdn_host: cdn.spacebar.local
    token: sb-token
bridges:
    - source_channel_id: "100"
      target_channel_id: "200"
database:
    type: bolt
    dir_path: /tmp/bridge
    cleanup_days: 1
    pair_lifetime_days: 7
format:
    format_one_reaction: "%reaction×%count"
send_timeout: 15s
requests_per_second: 2.5
`

func TestParseValid(t *testing.T) {
	t.Parallel()
	cfg, err := Parse([]byte(validConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.SendTimeout != 15*time.Second {
		t.Errorf("SendTimeout: got %v, want 15s", cfg.SendTimeout)
	}
	if cfg.RequestsPerSecond != 2.5 {
		t.Errorf("RequestsPerSecond: got %v, want 2.5", cfg.RequestsPerSecond)
	}
	if cfg.Format.FormatOneReaction != "%reaction×%count" {
		t.Errorf("FormatOneReaction: got %q", cfg.Format.FormatOneReaction)
	}
	pairs := cfg.Pairs()
	if len(pairs) != 1 || pairs[0].Partition() != "pair_100_200" {
		t.Errorf("Pairs: got %+v", pairs)
	}
}

func TestPostProcessInvalidTimeout(t *testing.T) {
	t.Parallel()
	cfg := &Config{SendTimeoutRaw: "soon"}
	if err := cfg.PostProcess(); err == nil {
		t.Error("PostProcess should reject an invalid send_timeout")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing token", func(c *Config) { c.Spacebar.Token = "" }, "spacebar.token is required"},
		{"missing host", func(c *Config) { c.Discord.Host = "" }, "discord.host is required"},
		{"no bridges", func(c *Config) { c.Bridges = nil }, "at least one bridge"},
		{"duplicate source", func(c *Config) {
			c.Bridges = append(c.Bridges, Bridge{SourceChannelID: "100", TargetChannelID: "300"})
		}, "duplicate source channel 100"},
		{"duplicate target", func(c *Config) {
			c.Bridges = append(c.Bridges, Bridge{SourceChannelID: "101", TargetChannelID: "200"})
		}, "duplicate target channel 200"},
		{"unknown database", func(c *Config) { c.Database.Type = "mongo" }, `unknown database.type "mongo"`},
		{"sqlite3 alias", func(c *Config) { c.Database.Type = "sqlite3" }, ""},
		{"default database", func(c *Config) { c.Database.Type = "" }, ""},
		{"bad postgres uri", func(c *Config) {
			c.Database.Type = "postgres"
			c.Database.PostgresURI = "mysql://localhost"
		}, "database.postgres_uri"},
		{"negative days", func(c *Config) { c.Database.CleanupDays = -1 }, "must not be negative"},
		{"bad cron", func(c *Config) { c.Database.CleanupCron = "every day" }, "invalid database.cleanup_cron"},
		{"good cron", func(c *Config) { c.Database.CleanupCron = "0 3 * * *" }, ""},
		{"metrics without listen", func(c *Config) { c.Metrics.Enabled = true }, "metrics.listen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var cfg Config
			if err := yaml.Unmarshal([]byte(validConfig), &cfg); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			tt.mutate(&cfg)
			err := cfg.Validate()
			switch {
			case tt.wantErr == "" && err != nil:
				t.Errorf("Validate: unexpected error %v", err)
			case tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)):
				t.Errorf("Validate: got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvDiscordToken, "from-env")
	cfg, err := Parse([]byte(validConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Discord.Token != "from-env" {
		t.Errorf("Discord.Token: got %q, want from-env", cfg.Discord.Token)
	}
	if cfg.Spacebar.Token != "sb-token" {
		t.Errorf("Spacebar.Token: got %q, want sb-token", cfg.Spacebar.Token)
	}
}

func TestExampleConfigDecodes(t *testing.T) {
	t.Parallel()
	var cfg Config
	if err := yaml.Unmarshal([]byte(ExampleConfig), &cfg); err != nil {
		t.Fatalf("example config: %v", err)
	}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}
	if cfg.Database.Type != "sqlite" || cfg.SendTimeout != 30*time.Second {
		t.Errorf("example defaults: got type %q timeout %v", cfg.Database.Type, cfg.SendTimeout)
	}
	if len(cfg.Logging.Writers) == 0 {
		t.Error("example config should configure a log writer")
	}
}

func TestUpgradeConfig(t *testing.T) {
	t.Parallel()
	var baseNode yaml.Node
	if err := yaml.Unmarshal([]byte(ExampleConfig), &baseNode); err != nil {
		t.Fatalf("failed to parse base config: %v", err)
	}
	var cfgNode yaml.Node
	if err := yaml.Unmarshal([]byte(validConfig), &cfgNode); err != nil {
		t.Fatalf("failed to parse user config: %v", err)
	}

	helper := up.NewHelper(&baseNode, &cfgNode)
	upgradeConfig(helper)

	if val, ok := helper.Get(up.Str, "spacebar", "token"); !ok || val != "sb-token" {
		t.Errorf("spacebar.token after upgrade: got %q, ok=%v", val, ok)
	}
	if val := helper.GetBase("database", "type"); val != "bolt" {
		t.Errorf("database.type after upgrade: got %q, want bolt", val)
	}
	if val := helper.GetBase("custom_status"); val != "" {
		t.Errorf("custom_status should keep the example default: got %q", val)
	}
}

func TestLoadUpgradesInPlace(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validConfig), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(path, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Type != "bolt" {
		t.Errorf("Database.Type: got %q, want bolt", cfg.Database.Type)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path should be filled from the example: got %q", cfg.Metrics.Path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "pair_lifetime_days: 7") || !strings.Contains(string(data), "custom_status:") {
		t.Errorf("upgraded file should keep values and gain new keys:\n%s", data)
	}
}

func TestLoadExampleConfig(t *testing.T) {
	t.Parallel()
	data := strings.Replace(ExampleConfig, `token: ""`, `token: dc-token`, 1)
	data = strings.Replace(data, `token: ""`, `token: sb-token`, 1)
	for _, save := range []bool{false, true} {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		cfg, err := Load(path, save)
		if err != nil {
			t.Fatalf("Load(save=%v): %v", save, err)
		}
		if cfg.Discord.Token != "dc-token" || cfg.Spacebar.Token != "sb-token" {
			t.Errorf("Load(save=%v) tokens: got %q and %q", save, cfg.Discord.Token, cfg.Spacebar.Token)
		}
		if len(cfg.Bridges) != 1 {
			t.Errorf("Load(save=%v) bridges: got %d, want 1", save, len(cfg.Bridges))
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), false); err == nil {
		t.Error("Load should fail for a missing file")
	}
}
