// Package storage inspects downloaded video files.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/bryan-buckman/tubevore/internal/model"
)

// Local checks video files under a download directory. Relative
// DownloadedPath values are resolved against the root.
type Local struct {
	fs   afero.Fs
	root string
}

// NewLocal creates a storage rooted at root on fsys.
func NewLocal(fsys afero.Fs, root string) *Local {
	return &Local{fs: fsys, root: root}
}

// NewOS creates a storage on the real filesystem.
func NewOS(root string) *Local {
	return NewLocal(afero.NewOsFs(), root)
}

func (l *Local) path(v *model.Video) string {
	if filepath.IsAbs(v.DownloadedPath) || l.root == "" {
		return v.DownloadedPath
	}
	return filepath.Join(l.root, v.DownloadedPath)
}

// VerifyIsDownloaded reports whether the video's file is present.
func (l *Local) VerifyIsDownloaded(ctx context.Context, v *model.Video) (bool, error) {
	if v.DownloadedPath == "" {
		return false, nil
	}
	ok, err := afero.Exists(l.fs, l.path(v))
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", v.DownloadedPath, err)
	}
	return ok, nil
}

// CalculateSize returns the size of the video's file, or the total size of
// its directory when the download is a directory.
func (l *Local) CalculateSize(ctx context.Context, v *model.Video) (int64, error) {
	p := l.path(v)
	info, err := l.fs.Stat(p)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", v.DownloadedPath, err)
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = afero.Walk(l.fs, p, func(_ string, fi fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			total += fi.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", v.DownloadedPath, err)
	}
	return total, nil
}

// Delete removes the video's file and any leftovers sharing its base name,
// such as partial downloads and metadata sidecars. Missing files are not an error.
func (l *Local) Delete(ctx context.Context, v *model.Video) error {
	if v.DownloadedPath == "" {
		return nil
	}
	p := l.path(v)
	var errs []error
	if err := l.fs.RemoveAll(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}

	stem := strings.TrimSuffix(p, filepath.Ext(p))
	matches, err := afero.Glob(l.fs, escapeGlob(stem)+".*")
	if err != nil {
		errs = append(errs, err)
	}
	for _, m := range matches {
		if err := l.fs.RemoveAll(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("delete %s: %w", v.DownloadedPath, err)
	}
	return nil
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`)
	return r.Replace(s)
}
