package ingest

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harunnryd/wavdispatch/pkg/artifacts"
	"github.com/harunnryd/wavdispatch/pkg/backend"
	"github.com/harunnryd/wavdispatch/pkg/configutil"
	"github.com/harunnryd/wavdispatch/pkg/errorsx"
	"github.com/harunnryd/wavdispatch/pkg/logging"
	"github.com/harunnryd/wavdispatch/pkg/transports/ws"
)

// EnvPrefix namespaces environment overrides, e.g. WAVDISPATCH_BACKEND_BASE_URL.
const EnvPrefix = "WAVDISPATCH"

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format" validate:"omitempty,oneof=text json"`
	Server        ws.Config           `mapstructure:"server"`
	Window        WindowConfig        `mapstructure:"window"`
	Backend       backend.Config      `mapstructure:"backend"`
	Heartbeat     HeartbeatConfig     `mapstructure:"heartbeat"`
	Artifacts     artifacts.Config    `mapstructure:"artifacts"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
}

type WindowConfig struct {
	IntervalMS int `mapstructure:"interval_ms" validate:"gt=0"`
}

func (w WindowConfig) Interval() time.Duration {
	return time.Duration(w.IntervalMS) * time.Millisecond
}

type HeartbeatConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	IntervalMS int  `mapstructure:"interval_ms" validate:"gte=0"`
}

func (h HeartbeatConfig) Interval() time.Duration {
	return time.Duration(h.IntervalMS) * time.Millisecond
}

type ObservabilityConfig struct {
	MetricsPath   string  `mapstructure:"metrics_path"`
	TimelineDir   string  `mapstructure:"timeline_dir"`
	LogSampleRate float64 `mapstructure:"log_sample_rate" validate:"gte=0,lte=1"`
	EventBuffer   int     `mapstructure:"event_buffer" validate:"gte=0"`
}

type PrivacyConfig struct {
	RedactPII           bool `mapstructure:"redact_pii"`
	MaxLoggedTranscript int  `mapstructure:"max_logged_transcript" validate:"gte=0"`
}

type ShutdownConfig struct {
	DrainTimeoutMS int `mapstructure:"drain_timeout_ms" validate:"gte=0"`
}

func (s ShutdownConfig) DrainTimeout() time.Duration {
	return time.Duration(s.DrainTimeoutMS) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("server.addr", ":8765")
	v.SetDefault("server.ws_path", "/")
	v.SetDefault("server.allow_any_origin", true)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.read_buffer_size", 4096)
	v.SetDefault("server.write_buffer_size", 4096)
	v.SetDefault("server.max_message_bytes", 0)
	v.SetDefault("server.frame_buffer", 64)
	v.SetDefault("window.interval_ms", 5000)
	v.SetDefault("backend.base_url", "")
	v.SetDefault("backend.async_path", backend.DefaultAsyncPath)
	v.SetDefault("backend.sync_path", backend.DefaultSyncPath)
	v.SetDefault("backend.health_path", backend.DefaultHealthPath)
	v.SetDefault("backend.timeout_ms", 30000)
	v.SetDefault("backend.final_timeout_ms", 120000)
	v.SetDefault("heartbeat.enabled", false)
	v.SetDefault("heartbeat.interval_ms", 10000)
	v.SetDefault("artifacts.provider", "")
	v.SetDefault("observability.metrics_path", "/metrics")
	v.SetDefault("observability.timeline_dir", "")
	v.SetDefault("observability.log_sample_rate", 0.0)
	v.SetDefault("observability.event_buffer", 1024)
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("privacy.max_logged_transcript", 512)
	v.SetDefault("shutdown.drain_timeout_ms", 125000)
}

// LoadConfig reads the YAML file at path (skipped when path is empty),
// applies WAVDISPATCH_* environment overrides, expands ${VAR} references in
// every string and validates the result.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errorsx.Wrap(fmt.Errorf("read config: %w", err), errorsx.ReasonConfig)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("unmarshal: %w", err), errorsx.ReasonConfig)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("validate config: %w", err), errorsx.ReasonConfig)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := configutil.Validator().Struct(c); err != nil {
		return fmt.Errorf("%s", configutil.DescribeErrors(err))
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok && c.LogLevel != "" {
		return fmt.Errorf("log_level: unknown level %q", c.LogLevel)
	}
	// A shorter drain would exit while close-time dispatches are still waiting
	// on the backend and lose those transcripts.
	if c.Shutdown.DrainTimeoutMS > 0 && c.Shutdown.DrainTimeout() < c.Backend.FinalTimeout() {
		return fmt.Errorf("shutdown.drain_timeout_ms (%d) must be at least backend.final_timeout_ms (%d)",
			c.Shutdown.DrainTimeoutMS, c.Backend.FinalTimeout().Milliseconds())
	}
	if c.Heartbeat.Enabled && c.Heartbeat.IntervalMS <= 0 {
		return fmt.Errorf("heartbeat.interval_ms must be positive when heartbeat is enabled")
	}
	if c.Observability.MetricsPath != "" && !strings.HasPrefix(c.Observability.MetricsPath, "/") {
		return fmt.Errorf("observability.metrics_path must start with /")
	}
	if c.Observability.MetricsPath != "" && c.Observability.MetricsPath == c.Server.WebsocketPath {
		return fmt.Errorf("observability.metrics_path collides with server.ws_path")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Artifacts.Settings = expandSettings(cfg.Artifacts.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
