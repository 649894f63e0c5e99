package backend

import "time"

// Config describes the transcription backend endpoints.
type Config struct {
	BaseURL        string `mapstructure:"base_url" validate:"required,url"`
	AsyncPath      string `mapstructure:"async_path"`
	SyncPath       string `mapstructure:"sync_path"`
	HealthPath     string `mapstructure:"health_path"`
	TimeoutMS      int    `mapstructure:"timeout_ms" validate:"gte=0"`
	FinalTimeoutMS int    `mapstructure:"final_timeout_ms" validate:"gte=0"`
}

const (
	DefaultAsyncPath  = "/transcribe_async"
	DefaultSyncPath   = "/transcribe"
	DefaultHealthPath = "/heartbeat"
)

func (c Config) withDefaults() Config {
	if c.AsyncPath == "" {
		c.AsyncPath = DefaultAsyncPath
	}
	if c.SyncPath == "" {
		c.SyncPath = DefaultSyncPath
	}
	if c.HealthPath == "" {
		c.HealthPath = DefaultHealthPath
	}
	if c.TimeoutMS <= 0 {
		c.TimeoutMS = 30000
	}
	if c.FinalTimeoutMS <= 0 {
		c.FinalTimeoutMS = 120000
	}
	return c
}

// Timeout bounds a single windowed request.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.withDefaults().TimeoutMS) * time.Millisecond
}

// FinalTimeout bounds the awaited close-time request.
func (c Config) FinalTimeout() time.Duration {
	return time.Duration(c.withDefaults().FinalTimeoutMS) * time.Millisecond
}
