// Package artifacts keeps diagnostic copies of the WAV containers sent to
// the transcription backend.
package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harunnryd/wavdispatch/pkg/backend"
	"github.com/harunnryd/wavdispatch/pkg/configutil"
	"github.com/harunnryd/wavdispatch/pkg/errorsx"
	"github.com/harunnryd/wavdispatch/pkg/observers"
)

const (
	ProviderNone = ""
	ProviderDisk = "disk"

	Suffix = ".wav"

	tempPrefix = ".artifact-"
)

type Config struct {
	Provider string         `mapstructure:"provider" validate:"omitempty,oneof=disk none"`
	Settings map[string]any `mapstructure:"settings"`
}

type DiskSettings struct {
	Dir           string `mapstructure:"dir" validate:"required"`
	RetentionDays int    `mapstructure:"retention_days" validate:"gte=0"`
}

// New builds the configured sink. It returns nil when artifacts are disabled.
func New(cfg Config) (*Disk, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderNone, "none":
		return nil, nil
	case ProviderDisk:
		var settings DiskSettings
		if err := configutil.DecodeStrict(cfg.Settings, &settings); err != nil {
			return nil, errorsx.Wrap(fmt.Errorf("artifacts.settings: %w", err), errorsx.ReasonConfig)
		}
		return NewDisk(settings)
	default:
		return nil, errorsx.Errorf(errorsx.ReasonConfig, "artifacts.provider: unknown provider %q", cfg.Provider)
	}
}

// Disk writes one file per dispatch into a directory.
type Disk struct {
	dir       string
	retention time.Duration
}

func NewDisk(settings DiskSettings) (*Disk, error) {
	if err := configutil.RequireString(settings.Dir, "artifacts.settings.dir"); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	if err := os.MkdirAll(settings.Dir, 0o755); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonArtifactWrite)
	}
	d := &Disk{dir: settings.Dir}
	if settings.RetentionDays > 0 {
		d.retention = time.Duration(settings.RetentionDays) * 24 * time.Hour
	}
	return d, nil
}

func (d *Disk) Dir() string { return d.dir }

// Name is the file name used for req: <session>_window_<seq>.wav for windowed
// dispatches and <session>_final.wav for the close-time one.
func Name(req backend.Request) string {
	id := observers.SanitizeID(req.SessionID)
	if id == "" {
		id = "unknown"
	}
	if req.Mode == backend.ModeFinal {
		return id + "_final" + Suffix
	}
	return fmt.Sprintf("%s_window_%d%s", id, req.Seq, Suffix)
}

// Save writes req.Body under Name(req). The file appears atomically.
func (d *Disk) Save(ctx context.Context, req backend.Request) error {
	if err := ctx.Err(); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonArtifactWrite)
	}
	path := filepath.Join(d.dir, Name(req))
	tmp, err := os.CreateTemp(d.dir, tempPrefix+"*")
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonArtifactWrite)
	}
	if _, err := tmp.Write(req.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errorsx.Wrap(err, errorsx.ReasonArtifactWrite)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errorsx.Wrap(err, errorsx.ReasonArtifactWrite)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return errorsx.Wrap(err, errorsx.ReasonArtifactWrite)
	}
	return nil
}

// Purge removes artifacts older than the retention period, plus temp files
// left behind by interrupted saves. Without a retention period it does
// nothing.
func (d *Disk) Purge() (observers.SweepResult, error) {
	if d.retention <= 0 {
		return observers.SweepResult{}, nil
	}
	return observers.Sweep(d.dir, time.Now().Add(-d.retention), func(name string) bool {
		return strings.HasSuffix(name, Suffix) || strings.HasPrefix(name, tempPrefix)
	})
}

var _ backend.Archiver = (*Disk)(nil)
