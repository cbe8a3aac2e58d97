// Package clip holds uploaded answer recordings for the duration of one
// scoring call.
package clip

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrTooLarge is returned when an upload exceeds the spool's size limit.
var ErrTooLarge = errors.New("clip exceeds size limit")

// Spool stores a clip temporarily. Every Put must be paired with Remove.
type Spool interface {
	Put(ctx context.Context, name string, r io.Reader) (*Clip, error)
}

// Clip is a spooled recording.
type Clip struct {
	Name   string // original filename, sanitized
	Size   int64
	open   func(ctx context.Context) (io.ReadCloser, error)
	remove func(ctx context.Context) error
}

// Open returns a reader over the spooled bytes.
func (c *Clip) Open(ctx context.Context) (io.ReadCloser, error) {
	return c.open(ctx)
}

// Remove deletes the spooled resource. Removing twice is not an error.
func (c *Clip) Remove(ctx context.Context) error {
	return c.remove(ctx)
}

func objectName(name string) string {
	ext := strings.ToLower(filepath.Ext(safeFilename(name)))
	if ext == "" {
		ext = ".webm"
	}
	return "clip_" + uuid.NewString() + ext
}

func safeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" {
		return "answer.webm"
	}
	return name
}

// limitedCopy copies at most limit bytes, failing with ErrTooLarge beyond it.
// A non-positive limit disables the check.
func limitedCopy(dst io.Writer, src io.Reader, limit int64) (int64, error) {
	if limit <= 0 {
		return io.Copy(dst, src)
	}
	n, err := io.Copy(dst, io.LimitReader(src, limit+1))
	if err != nil {
		return n, err
	}
	if n > limit {
		return n, ErrTooLarge
	}
	return n, nil
}
