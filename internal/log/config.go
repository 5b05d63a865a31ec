package log

import "time"

const (
	DefaultPattern    = "%time [%level] %msg %field\n"
	DefaultTimeLayout = "2006-01-02 15:04:05.000"
)

type Config struct {
	Level     string           `mapstructure:"level" yaml:"level"`
	Pattern   string           `mapstructure:"pattern" yaml:"pattern"`
	Time      string           `mapstructure:"time" yaml:"time"`
	Async     AsyncConfig      `mapstructure:"async" yaml:"async"`
	Appenders []AppenderConfig `mapstructure:"appenders" yaml:"appenders,omitempty"`
}

// AsyncConfig sizes the diode buffer between loggers and outputs. When the
// buffer is full the oldest lines are overwritten and counted as dropped.
type AsyncConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	BufferSize   int           `mapstructure:"buffer_size" yaml:"buffer_size"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// AppenderConfig selects an extra output. Type is "file" or "loki"; Options
// are decoded into FileAppenderOpt or LokiAppenderOpt.
type AppenderConfig struct {
	Type    string                 `mapstructure:"type" yaml:"type"`
	Options map[string]interface{} `mapstructure:"options" yaml:"options,omitempty"`
}

func (c *Config) applyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Pattern == "" {
		c.Pattern = DefaultPattern
	}
	if c.Time == "" {
		c.Time = DefaultTimeLayout
	}
	if c.Async.BufferSize <= 0 {
		c.Async.BufferSize = 4096
	}
	if c.Async.PollInterval <= 0 {
		c.Async.PollInterval = 10 * time.Millisecond
	}
}
