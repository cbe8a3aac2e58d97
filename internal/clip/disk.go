package clip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DiskSpool saves clips under a base directory.
type DiskSpool struct {
	dir      string
	maxBytes int64
}

// NewDiskSpool creates the directory if missing.
func NewDiskSpool(dir string, maxBytes int64) (*DiskSpool, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("clip directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create clip dir: %w", err)
	}
	return &DiskSpool{dir: dir, maxBytes: maxBytes}, nil
}

// Put writes r to a uniquely named file. On any error the partial file is removed.
func (d *DiskSpool) Put(_ context.Context, name string, r io.Reader) (*Clip, error) {
	path := filepath.Join(d.dir, objectName(name))
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create clip file: %w", err)
	}
	n, copyErr := limitedCopy(out, r, d.maxBytes)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(path)
		if copyErr != nil {
			if errors.Is(copyErr, ErrTooLarge) {
				return nil, copyErr
			}
			return nil, fmt.Errorf("write clip file: %w", copyErr)
		}
		return nil, fmt.Errorf("close clip file: %w", closeErr)
	}
	slog.Debug("spooled clip", "path", path, "bytes", n)

	return &Clip{
		Name: safeFilename(name),
		Size: n,
		open: func(context.Context) (io.ReadCloser, error) {
			return os.Open(path)
		},
		remove: func(context.Context) error {
			err := os.Remove(path)
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		},
	}, nil
}
