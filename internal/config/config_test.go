package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"firestige.xyz/otus-dissect/internal/core"
	"firestige.xyz/otus-dissect/internal/log"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dissect.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
dissect:
  log:
    level: "DEBUG"
    pattern: "%msg\n"
    appenders:
      - type: file
        filename: /tmp/dissect.log
        max_size: 10
  channel:
    in_fd: 5
    out_fd: 6
    buffer_size: 1024
  classifiers:
    enabled: [sip]
  decode:
    render_html: true
  sip:
    dialog_ttl: 10s
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Log.Level)
	}
	if len(cfg.Log.Appenders) != 1 || cfg.Log.Appenders[0].Type != log.AppenderFile {
		t.Fatalf("Expected one file appender, got %+v", cfg.Log.Appenders)
	}
	if cfg.Log.Appenders[0].Filename != "/tmp/dissect.log" || cfg.Log.Appenders[0].MaxSize != 10 {
		t.Errorf("File appender options not decoded: %+v", cfg.Log.Appenders[0].FileAppenderOpt)
	}
	if cfg.Channel.InFD != 5 || cfg.Channel.OutFD != 6 {
		t.Errorf("Expected fds 5/6, got %d/%d", cfg.Channel.InFD, cfg.Channel.OutFD)
	}
	if cfg.Channel.BufferSize != 4096 {
		t.Errorf("Expected buffer size raised to 4096, got %d", cfg.Channel.BufferSize)
	}
	if len(cfg.Classifiers.Enabled) != 1 || cfg.Classifiers.Enabled[0] != "sip" {
		t.Errorf("Expected enabled [sip], got %v", cfg.Classifiers.Enabled)
	}
	if !cfg.Decode.RenderHTML {
		t.Error("Expected render_html true")
	}
	if cfg.SIP.DialogTTL != 10*time.Second {
		t.Errorf("Expected dialog ttl 10s, got %v", cfg.SIP.DialogTTL)
	}
	// untouched keys keep their defaults
	if cfg.Channel.MaxBlobBytes != 16<<20 {
		t.Errorf("Expected default max blob, got %d", cfg.Channel.MaxBlobBytes)
	}
	if cfg.Capture.Env != "OTUS_DISSECT_CAPTURE" {
		t.Errorf("Expected default capture env, got %q", cfg.Capture.Env)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Expected default log level info, got %s", cfg.Log.Level)
	}
	if len(cfg.Log.Appenders) != 1 || cfg.Log.Appenders[0].Type != log.AppenderConsole {
		t.Errorf("Expected console appender, got %+v", cfg.Log.Appenders)
	}
	if cfg.Channel.InFD != 3 || cfg.Channel.OutFD != 4 {
		t.Errorf("Expected fds 3/4, got %d/%d", cfg.Channel.InFD, cfg.Channel.OutFD)
	}
	if len(cfg.Classifiers.Enabled) != 1 || cfg.Classifiers.Enabled[0] != "*" {
		t.Errorf("Expected all classifiers enabled, got %v", cfg.Classifiers.Enabled)
	}
	if cfg.SIP.DialogTTL != 32*time.Second || cfg.SIP.CleanupInterval != time.Minute {
		t.Errorf("Unexpected sip defaults: %+v", cfg.SIP)
	}
	if cfg.Replay.Decoder != "default" || cfg.Replay.FlushTimeout != 2*time.Minute {
		t.Errorf("Unexpected replay defaults: %+v", cfg.Replay)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DISSECT_LOG_LEVEL", "warn")
	t.Setenv("DISSECT_SIP_DIALOG_TTL", "5s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Expected env level warn, got %s", cfg.Log.Level)
	}
	if cfg.SIP.DialogTTL != 5*time.Second {
		t.Errorf("Expected env dialog ttl 5s, got %v", cfg.SIP.DialogTTL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"file appender without name", func(c *Config) {
			c.Log.Appenders = []log.AppenderConfig{{Type: log.AppenderFile}}
		}},
		{"unknown appender", func(c *Config) {
			c.Log.Appenders = []log.AppenderConfig{{Type: "syslog"}}
		}},
		{"same fd", func(c *Config) { c.Channel.OutFD = c.Channel.InFD }},
		{"negative fd", func(c *Config) { c.Channel.InFD = -1 }},
		{"zero blob limit", func(c *Config) { c.Channel.MaxBlobBytes = 0 }},
		{"zero buffered limit", func(c *Config) { c.Decode.MaxBufferedBytes = 0 }},
		{"zero dialog ttl", func(c *Config) { c.SIP.DialogTTL = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.ValidateAndApplyDefaults()
			if !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("Expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Default()
	cfg.Classifiers.Enabled = nil
	cfg.SIP.CleanupInterval = 0
	cfg.Replay.Decoder = ""

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(cfg.Classifiers.Enabled) != 1 || cfg.Classifiers.Enabled[0] != "*" {
		t.Errorf("Expected enabled reset to *, got %v", cfg.Classifiers.Enabled)
	}
	if cfg.SIP.CleanupInterval != cfg.SIP.DialogTTL {
		t.Errorf("Expected cleanup interval to follow ttl, got %v", cfg.SIP.CleanupInterval)
	}
	if cfg.Replay.Decoder != "default" {
		t.Errorf("Expected default decoder name, got %q", cfg.Replay.Decoder)
	}
}

func TestClassifierOptions(t *testing.T) {
	cfg := Default()
	opts := cfg.ClassifierOptions()
	if got := opts["sip"]["dialog_ttl"]; got != cfg.SIP.DialogTTL {
		t.Errorf("Expected sip dialog_ttl %v, got %v", cfg.SIP.DialogTTL, got)
	}
	if got := opts["sample"]["max_buffered_bytes"]; got != cfg.Decode.MaxBufferedBytes {
		t.Errorf("Expected sample max_buffered_bytes %v, got %v", cfg.Decode.MaxBufferedBytes, got)
	}
}

func TestDump(t *testing.T) {
	cfg := Default()
	out, err := Dump(cfg)
	if err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	if !strings.HasPrefix(string(out), "dissect:") {
		t.Errorf("Expected dissect root key, got:\n%s", out)
	}

	var back map[string]map[string]any
	if err := yaml.Unmarshal(out, &back); err != nil {
		t.Fatalf("Dump output is not YAML: %v", err)
	}
	sip, ok := back["dissect"]["sip"].(map[string]any)
	if !ok || sip["dialog_ttl"] != "32s" {
		t.Errorf("Expected dialog_ttl rendered as 32s, got %v", back["dissect"]["sip"])
	}
}
