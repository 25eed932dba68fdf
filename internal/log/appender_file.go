package log

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileAppenderOpt configures a rotating log file. Sizes are in megabytes,
// ages in days; zero keeps lumberjack's defaults.
type FileAppenderOpt struct {
	Filename   string `mapstructure:"filename" yaml:"filename,omitempty"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size,omitempty"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups,omitempty"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age,omitempty"`
	Compress   bool   `mapstructure:"compress" yaml:"compress,omitempty"`
	LocalTime  bool   `mapstructure:"local_time" yaml:"local_time,omitempty"`
}

// AddFileAppender adds a rotating file, creating its directory if missing.
func (m *MultiWriter) AddFileAppender(opt FileAppenderOpt) (*MultiWriter, error) {
	if opt.Filename == "" {
		return m, fmt.Errorf("file appender requires a filename")
	}
	if err := os.MkdirAll(filepath.Dir(opt.Filename), 0o755); err != nil {
		return m, fmt.Errorf("file appender %s: %w", opt.Filename, err)
	}
	return m.Add(&lumberjack.Logger{
		Filename:   opt.Filename,
		MaxSize:    opt.MaxSize,
		MaxBackups: opt.MaxBackups,
		MaxAge:     opt.MaxAge,
		Compress:   opt.Compress,
		LocalTime:  opt.LocalTime,
	}), nil
}
