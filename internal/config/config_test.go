// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"grimm.is/glasswall/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "glasswall.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "rule_file: rules.yaml\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RuleFile != "rules.yaml" {
		t.Errorf("expected rules.yaml, got %s", cfg.RuleFile)
	}
	if cfg.IO.QueueNum != 100 {
		t.Errorf("expected default queue_num 100, got %d", cfg.IO.QueueNum)
	}
	if cfg.Workers.TCPTimeout.Std() != 10*time.Minute {
		t.Errorf("expected default tcp_timeout 10m, got %s", cfg.Workers.TCPTimeout)
	}
	if cfg.Workers.Count <= 0 {
		t.Errorf("expected positive default worker count, got %d", cfg.Workers.Count)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
rule_file: rules.yaml
io:
  queue_num: 7
workers:
  count: 2
  queue_size: 64
  tcp_timeout: 30s
  udp_max_streams: 16
logging:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IO.QueueNum != 7 || cfg.Workers.Count != 2 || cfg.Workers.QueueSize != 64 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Workers.TCPTimeout.Std() != 30*time.Second {
		t.Errorf("expected 30s timeout, got %s", cfg.Workers.TCPTimeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/glasswall.yaml")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.GetKind(err) != errors.KindNotFound {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []string{
		"",                                     // missing rule_file
		"rule_file: r\nworkers:\n  queue_size: 0\n",
		"rule_file: r\nworkers:\n  udp_max_streams: -1\n",
		"rule_file: r\nworkers:\n  tcp_timeout: 0s\n",
	}
	for _, content := range cases {
		path := writeConfig(t, content)
		if _, err := Load(path); err == nil {
			t.Errorf("expected validation error for %q", content)
		} else if errors.GetKind(err) != errors.KindValidation {
			t.Errorf("expected validation kind for %q, got %v", content, err)
		}
	}
}
