package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/glasssync/gallery/internal/config"
	"github.com/glasssync/gallery/internal/models"
	"github.com/glasssync/gallery/internal/observability"
)

// Exporter mirrors freshly downloaded media to a secondary destination after a
// sync round. Export failures never fail the sync; the local gallery copy is
// authoritative.
type Exporter interface {
	Name() string
	Export(ctx context.Context, rec models.PhotoRecord, fullPath string) error
}

// New builds the exporter selected by the auto-save settings, or nil when
// auto-save is disabled.
func New(ctx context.Context, cfg config.AutoSave) (Exporter, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Target {
	case "", "cameraroll":
		return NewCameraRollExporter(cfg.Directory), nil
	case "s3":
		return NewS3Exporter(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown auto-save target %q", cfg.Target)
	}
}

// CameraRollExporter copies media into the host's photo import directory, flat,
// the way camera roll importers expect.
type CameraRollExporter struct {
	dir    string
	logger *observability.Logger
}

// NewCameraRollExporter creates an exporter writing into dir. When dir is
// empty, the platform default Pictures folder is used.
func NewCameraRollExporter(dir string) *CameraRollExporter {
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, "Pictures", "Glasses")
		}
	}
	return &CameraRollExporter{
		dir:    dir,
		logger: observability.GetLogger().WithField("component", "export"),
	}
}

func (e *CameraRollExporter) Name() string { return "cameraroll" }

// Export copies the file into the import directory. An existing file with the
// same name is assumed to be a previous export and left alone.
func (e *CameraRollExporter) Export(_ context.Context, rec models.PhotoRecord, fullPath string) error {
	if e.dir == "" {
		return fmt.Errorf("no export directory available")
	}
	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return err
	}

	dest := filepath.Join(e.dir, filepath.Base(rec.LocalPath))
	if _, err := os.Stat(dest); err == nil {
		e.logger.Debugf("Export target %s already exists, skipping", dest)
		return nil
	}

	src, err := os.Open(fullPath)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := dest + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, dest)
}
