// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != "info" {
		t.Errorf("expected level info, got %s", cfg.Level)
	}
	if cfg.Format != "text" {
		t.Errorf("expected format text, got %s", cfg.Format)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput(Config{Level: "warn"}, &buf)

	l.Info("should be filtered")
	l.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "filtered") {
		t.Error("info line must be filtered at warn level")
	}
	if !strings.Contains(out, "should appear") {
		t.Errorf("warn line missing from output: %q", out)
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput(Config{Level: "info"}, &buf)

	l.WithComponent("worker").Info("started", "id", 3)

	out := buf.String()
	if !strings.Contains(out, "worker") {
		t.Errorf("component tag missing: %q", out)
	}
	if !strings.Contains(out, "id") {
		t.Errorf("key/value pair missing: %q", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput(Config{Level: "info", Format: "json"}, &buf)

	l.Info("hello", "k", "v")
	if !strings.Contains(buf.String(), `"k":"v"`) {
		t.Errorf("expected json output, got %q", buf.String())
	}
}

func TestSetDefault(t *testing.T) {
	old := Default()
	defer SetDefault(old)

	var buf bytes.Buffer
	SetDefault(NewWithOutput(Config{Level: "debug"}, &buf))
	WithComponent("test").Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("default logger not replaced: %q", buf.String())
	}
}
