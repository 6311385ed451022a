package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"restorebench/internal/fileutil"
	"restorebench/internal/services"
)

// FS stores objects as files under a root directory.
type FS struct {
	root string
}

// NewFS returns a filesystem backend rooted at root.
func NewFS(root string) *FS {
	return &FS{root: root}
}

func (f *FS) Driver() string { return DriverFS }

func (f *FS) path(key string) string {
	return filepath.Join(f.root, filepath.FromSlash(key))
}

func (f *FS) Stat(ctx context.Context, key string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	info, err := localStat(f.path(key))
	info.Key = key
	return info, err
}

// Put copies src into the store. A src that already is the stored object is
// left alone.
func (f *FS) Put(ctx context.Context, key, src string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := f.path(key)
	if same, _ := samePath(src, dst); same {
		return nil
	}
	if err := fileutil.CopyFile(src, dst); err != nil {
		return services.Wrap(services.ErrStorage, "storage", "put", "Failed to copy artifact", err)
	}
	return nil
}

func localStat(p string) (Info, error) {
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Info{}, services.Wrap(services.ErrNotFound, "storage", "stat", p, err)
		}
		return Info{}, services.Wrap(services.ErrStorage, "storage", "stat", p, err)
	}
	if !info.Mode().IsRegular() {
		return Info{}, services.Wrap(services.ErrNotFound, "storage", "stat", p+" is not a regular file", nil)
	}
	return Info{Key: p, Size: info.Size()}, nil
}

func samePath(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return absA == absB, nil
}
