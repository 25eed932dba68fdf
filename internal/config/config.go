// Package config handles dissector configuration loading using viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"firestige.xyz/otus-dissect/internal/core"
	"firestige.xyz/otus-dissect/internal/log"
)

// Config is the top-level configuration under the `dissect:` root key.
type Config struct {
	Log         log.LoggerConfig  `mapstructure:"log" yaml:"log"`
	Channel     ChannelConfig     `mapstructure:"channel" yaml:"channel"`
	Capture     CaptureConfig     `mapstructure:"capture" yaml:"capture"`
	Classifiers ClassifiersConfig `mapstructure:"classifiers" yaml:"classifiers"`
	Decode      DecodeConfig      `mapstructure:"decode" yaml:"decode"`
	SIP         SIPConfig         `mapstructure:"sip" yaml:"sip"`
	Replay      ReplayConfig      `mapstructure:"replay" yaml:"replay"`
}

// ChannelConfig describes the two descriptors shared with the host.
type ChannelConfig struct {
	InFD         int `mapstructure:"in_fd" yaml:"in_fd"`
	OutFD        int `mapstructure:"out_fd" yaml:"out_fd"`
	MaxBlobBytes int `mapstructure:"max_blob_bytes" yaml:"max_blob_bytes"`
	BufferSize   int `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// CaptureConfig controls the diagnostic capture of channel traffic. Capture is
// on when Dir is set or the environment variable named by Env holds a directory.
type CaptureConfig struct {
	Env string `mapstructure:"env" yaml:"env"`
	Dir string `mapstructure:"dir" yaml:"dir,omitempty"`
}

type ClassifiersConfig struct {
	// Enabled lists classifier names; "*" enables every registered classifier.
	Enabled []string `mapstructure:"enabled" yaml:"enabled"`
}

type DecodeConfig struct {
	RenderHTML       bool `mapstructure:"render_html" yaml:"render_html"`
	MaxBufferedBytes int  `mapstructure:"max_buffered_bytes" yaml:"max_buffered_bytes"`
}

type SIPConfig struct {
	DialogTTL       time.Duration `mapstructure:"dialog_ttl" yaml:"dialog_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// ReplayConfig tunes the emulated host used by `replay`.
type ReplayConfig struct {
	Decoder      string        `mapstructure:"decoder" yaml:"decoder"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout" yaml:"flush_timeout"`
	Report       string        `mapstructure:"report" yaml:"report,omitempty"`
}

// configRoot is the top-level wrapper matching the YAML structure `dissect: ...`.
type configRoot struct {
	Dissect Config `mapstructure:"dissect" yaml:"dissect"`
}

// Load loads configuration from path, or defaults only when path is empty.
// Env vars override file values through the key replacer, e.g.
// "dissect.log.level" is DISSECT_LOG_LEVEL.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Dissect

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration Load("") would produce.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("dissect.log.level", "info")
	v.SetDefault("dissect.log.pattern", log.DefaultPattern)
	v.SetDefault("dissect.log.time", log.DefaultTimeLayout)
	v.SetDefault("dissect.log.caller", false)
	v.SetDefault("dissect.log.appenders", []map[string]any{{"type": log.AppenderConsole}})

	// Channel defaults
	v.SetDefault("dissect.channel.in_fd", 3)
	v.SetDefault("dissect.channel.out_fd", 4)
	v.SetDefault("dissect.channel.max_blob_bytes", 16<<20)
	v.SetDefault("dissect.channel.buffer_size", 64<<10)

	// Diagnostic capture
	v.SetDefault("dissect.capture.env", "OTUS_DISSECT_CAPTURE")
	v.SetDefault("dissect.capture.dir", "")

	v.SetDefault("dissect.classifiers.enabled", []string{"*"})

	v.SetDefault("dissect.decode.render_html", false)
	v.SetDefault("dissect.decode.max_buffered_bytes", 4<<20)

	v.SetDefault("dissect.sip.dialog_ttl", "32s")
	v.SetDefault("dissect.sip.cleanup_interval", "1m")

	v.SetDefault("dissect.replay.decoder", "default")
	v.SetDefault("dissect.replay.flush_timeout", "2m")
	v.SetDefault("dissect.replay.report", "")
}

var validLevels = []string{"trace", "debug", "info", "warn", "warning", "error", "fatal", "panic"}

// ValidateAndApplyDefaults validates configuration and fills runtime defaults.
func (cfg *Config) ValidateAndApplyDefaults() error {
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if !slices.Contains(validLevels, cfg.Log.Level) {
		return fmt.Errorf("%w: log level %q", core.ErrConfigInvalid, cfg.Log.Level)
	}
	for i, a := range cfg.Log.Appenders {
		switch a.Type {
		case log.AppenderConsole:
		case log.AppenderFile:
			if a.Filename == "" {
				return fmt.Errorf("%w: log.appenders[%d] file appender needs filename", core.ErrConfigInvalid, i)
			}
		default:
			return fmt.Errorf("%w: log.appenders[%d] type %q", core.ErrConfigInvalid, i, a.Type)
		}
	}

	ch := &cfg.Channel
	if ch.InFD < 0 || ch.OutFD < 0 {
		return fmt.Errorf("%w: channel descriptors must be non-negative", core.ErrConfigInvalid)
	}
	if ch.InFD == ch.OutFD {
		return fmt.Errorf("%w: channel.in_fd and channel.out_fd are both %d", core.ErrConfigInvalid, ch.InFD)
	}
	if ch.MaxBlobBytes <= 0 {
		return fmt.Errorf("%w: channel.max_blob_bytes must be positive", core.ErrConfigInvalid)
	}
	if ch.BufferSize < 4096 {
		ch.BufferSize = 4096
	}

	if len(cfg.Classifiers.Enabled) == 0 {
		cfg.Classifiers.Enabled = []string{"*"}
	}
	if cfg.Decode.MaxBufferedBytes <= 0 {
		return fmt.Errorf("%w: decode.max_buffered_bytes must be positive", core.ErrConfigInvalid)
	}

	if cfg.SIP.DialogTTL <= 0 {
		return fmt.Errorf("%w: sip.dialog_ttl must be positive", core.ErrConfigInvalid)
	}
	if cfg.SIP.CleanupInterval <= 0 {
		cfg.SIP.CleanupInterval = cfg.SIP.DialogTTL
	}
	if cfg.Replay.Decoder == "" {
		cfg.Replay.Decoder = "default"
	}
	return nil
}

// ClassifierOptions returns the per-classifier option maps handed to
// classifiers that accept configuration.
func (cfg *Config) ClassifierOptions() map[string]map[string]any {
	return map[string]map[string]any{
		"sip": {
			"dialog_ttl":       cfg.SIP.DialogTTL,
			"cleanup_interval": cfg.SIP.CleanupInterval,
		},
		"sample": {
			"max_buffered_bytes": cfg.Decode.MaxBufferedBytes,
		},
	}
}

// Dump renders the effective configuration as YAML.
func Dump(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(configRoot{Dissect: *cfg})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}
