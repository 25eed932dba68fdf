package log

const (
	DefaultPattern    = "%time [%level] %msg %field\n"
	DefaultTimeLayout = "2006-01-02 15:04:05.000"

	AppenderConsole = "console"
	AppenderFile    = "file"
)

type LoggerConfig struct {
	Level     string           `mapstructure:"level" yaml:"level"`
	Pattern   string           `mapstructure:"pattern" yaml:"pattern"`
	Time      string           `mapstructure:"time" yaml:"time"`
	Caller    bool             `mapstructure:"caller" yaml:"caller"`
	Appenders []AppenderConfig `mapstructure:"appenders" yaml:"appenders"`
}

// AppenderConfig selects one output. File options apply to "file" only.
type AppenderConfig struct {
	Type            string `mapstructure:"type" yaml:"type"`
	FileAppenderOpt `mapstructure:",squash" yaml:",inline"`
}

// DefaultConfig logs at info to stderr. Stdout is left alone since a host may
// own it.
func DefaultConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:     "info",
		Pattern:   DefaultPattern,
		Time:      DefaultTimeLayout,
		Appenders: []AppenderConfig{{Type: AppenderConsole}},
	}
}
