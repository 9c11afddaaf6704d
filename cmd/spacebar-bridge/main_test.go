// Copyright 2024-2026 Aiku AI

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aiku/spacebar-bridge/pkg/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "spacebar-bridge "+Tag) {
		t.Errorf("version output: got %q", out)
	}
}

func TestExampleConfigCommand(t *testing.T) {
	t.Parallel()
	out, err := execute(t, "example-config")
	if err != nil {
		t.Fatalf("example-config: %v", err)
	}
	if out != config.ExampleConfig {
		t.Error("example-config should print the embedded example verbatim")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("bridges: []\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := execute(t, "run", "--config", path, "--no-update")
	if err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Errorf("run: got %v, want invalid config error", err)
	}
}

func TestSweepWithBoltStores(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
discord: {host: discord.com, token: a}
spacebar: {host: spacebar.local, token: b}
bridges:
    - source_channel_id: "1"
      target_channel_id: "2"
database:
    type: bolt
    dir_path: ` + filepath.Join(dir, "db") + `
    cleanup_days: 1
    pair_lifetime_days: 1
logging:
    min_level: warn
    writers:
        - type: stdout
          format: json
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := execute(t, "sweep", "--config", path, "--no-update"); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	for _, name := range []string{"discord.bolt", "spacebar.bolt"} {
		if _, err := os.Stat(filepath.Join(dir, "db", name)); err != nil {
			t.Errorf("store file %s: %v", name, err)
		}
	}
}
