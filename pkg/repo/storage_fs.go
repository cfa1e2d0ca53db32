package repo

import (
	"context"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/foomo/sysfshelper/pkg/fstools"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// FilesystemStorage keeps the history as files in a single directory
type FilesystemStorage struct {
	fs afero.Fs
	mu sync.RWMutex
}

// NewFilesystemStorage creates baseDir if needed and stores below it
func NewFilesystemStorage(baseDir string) (*FilesystemStorage, error) {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(baseDir, 0o700); err != nil {
		return nil, errors.Wrap(err, "failed to create history directory")
	}
	return NewFilesystemStorageFromFs(afero.NewBasePathFs(osFs, baseDir)), nil
}

// NewFilesystemStorageFromFs stores in the root of fs
func NewFilesystemStorageFromFs(fs afero.Fs) *FilesystemStorage {
	return &FilesystemStorage{fs: fs}
}

func (f *FilesystemStorage) Write(_ context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := f.name(key)
	if dir := path.Dir(name); !fstools.IsDir(f.fs, dir) {
		if err := f.fs.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return afero.WriteFile(f.fs, name, data, 0o600)
}

func (f *FilesystemStorage) Read(_ context.Context, key string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return fstools.ReadFile(f.fs, f.name(key))
}

// List only looks at the root, keys must not contain a path separator
func (f *FilesystemStorage) List(_ context.Context, prefix string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := afero.ReadDir(f.fs, "/")
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, entry := range entries {
		if entry.Mode().IsRegular() && strings.HasPrefix(entry.Name(), prefix) {
			keys = append(keys, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	return keys, nil
}

func (f *FilesystemStorage) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fs.Remove(f.name(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (f *FilesystemStorage) Close() error {
	return nil
}

func (f *FilesystemStorage) name(key string) string {
	return path.Join("/", key)
}
