// Package fstools provides small lstat-oriented filesystem helpers on top of
// afero. The helpers inspect links instead of following them and keep errors
// out of the way where a missing path is an expected answer.
//
// Results are inherently racy against concurrent filesystem changes.
package fstools

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// MaxSymlinkHops bounds symlink resolution in CanonicalPath.
const MaxSymlinkHops = 255

// ErrTooManyLinks is returned when CanonicalPath exceeds MaxSymlinkHops.
var ErrTooManyLinks = errors.New("too many levels of symbolic links")

// ------------------------------------------------------------------------------------------------
// ~ Inspection
// ------------------------------------------------------------------------------------------------

// Lstat returns the file info of p without following a trailing symlink, if
// the filesystem supports it.
func Lstat(fs afero.Fs, p string) (os.FileInfo, error) {
	if l, ok := fs.(afero.Lstater); ok {
		fi, _, err := l.LstatIfPossible(p)
		return fi, err
	}
	return fs.Stat(p)
}

// PathExists reports whether any object exists at p. Dangling symlinks exist.
func PathExists(fs afero.Fs, p string) bool {
	_, err := Lstat(fs, p)
	return err == nil
}

// IsDir reports whether p is a directory. Symlinks to directories are not.
func IsDir(fs afero.Fs, p string) bool {
	fi, err := Lstat(fs, p)
	return err == nil && fi.IsDir()
}

// IsDirTarget reports whether p is a directory or resolves to one.
func IsDirTarget(fs afero.Fs, p string) bool {
	fi, err := fs.Stat(p)
	return err == nil && fi.IsDir()
}

// IsSymlink reports whether p is a symbolic link.
func IsSymlink(fs afero.Fs, p string) bool {
	fi, err := Lstat(fs, p)
	return err == nil && fi.Mode()&os.ModeSymlink != 0
}

// IsRegular reports whether p is a regular file. Symlinks to files are not.
func IsRegular(fs afero.Fs, p string) bool {
	fi, err := Lstat(fs, p)
	return err == nil && fi.Mode().IsRegular()
}

// ------------------------------------------------------------------------------------------------
// ~ Paths
// ------------------------------------------------------------------------------------------------

// JoinPath joins head and tail with a single '/' if head does not already end
// with one. No further cleanup is done.
func JoinPath(head, tail string) string {
	if head == "" || strings.HasSuffix(head, "/") {
		return head + tail
	}
	return head + "/" + tail
}

// DirName returns the directory component of p. Relative results are made
// absolute against the working directory when it is available.
func DirName(p string) string {
	if p == "" {
		if cwd, err := os.Getwd(); err == nil {
			return cwd
		}
		return "."
	}
	var dir string
	switch pos := strings.LastIndexByte(p, '/'); pos {
	case -1:
		dir = "."
	case 0:
		dir = "/"
	default:
		dir = p[:pos]
	}
	if !strings.HasPrefix(dir, "/") {
		if cwd, err := os.Getwd(); err == nil {
			dir = cwd + "/" + dir
		}
	}
	return dir
}

// CanonicalPath resolves every symlink in p and returns the absolute, clean
// result. The path must exist.
func CanonicalPath(fs afero.Fs, p string) (string, error) {
	if p == "" {
		return "", &os.PathError{Op: "realpath", Path: p, Err: os.ErrNotExist}
	}
	if !filepath.IsAbs(p) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", errors.Wrap(err, "failed to get working directory")
		}
		p = filepath.Join(cwd, p)
	}

	var (
		pending  = splitPath(p)
		resolved = "/"
		hops     = 0
	)
	for len(pending) > 0 {
		name := pending[0]
		pending = pending[1:]
		switch name {
		case "", ".":
			continue
		case "..":
			resolved = filepath.Dir(resolved)
			continue
		}

		next := filepath.Join(resolved, name)
		fi, err := Lstat(fs, next)
		if err != nil {
			return "", err
		}
		if fi.Mode()&os.ModeSymlink == 0 {
			resolved = next
			continue
		}

		hops++
		if hops > MaxSymlinkHops {
			return "", &os.PathError{Op: "realpath", Path: p, Err: ErrTooManyLinks}
		}
		target, err := readlink(fs, next)
		if err != nil {
			return "", err
		}
		if filepath.IsAbs(target) {
			resolved = "/"
		}
		pending = append(splitPath(target), pending...)
	}
	return resolved, nil
}

// ------------------------------------------------------------------------------------------------
// ~ Directories & links
// ------------------------------------------------------------------------------------------------

// ListDir returns all entries of dir joined with dir, in directory order.
// An unreadable directory yields an empty result.
func ListDir(fs afero.Fs, dir string) []string {
	return ListDirPattern(fs, dir, "*")
}

// ListDirPattern returns the entries of dir whose name matches the glob
// pattern. An empty pattern matches nothing; pass "*" to match everything.
func ListDirPattern(fs afero.Fs, dir, pattern string) []string {
	var out []string
	if pattern == "" {
		return out
	}
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return out
	}
	for _, entry := range entries {
		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}
		if ok, err := filepath.Match(pattern, name); err != nil || !ok {
			continue
		}
		out = append(out, JoinPath(dir, name))
	}
	return out
}

// ReadlinkOnce returns the target of the symlink at p. Relative targets are
// made absolute against the parent of p. Errors yield "".
func ReadlinkOnce(fs afero.Fs, p string) string {
	target, err := readlink(fs, p)
	if err != nil || target == "" {
		return ""
	}
	if !strings.HasPrefix(target, "/") {
		base := "."
		if pos := strings.LastIndexByte(p, '/'); pos >= 0 {
			base = p[:pos]
		}
		return JoinPath(base, target)
	}
	return target
}

// MakeDirOnce creates p unless it already is a directory. It reports whether
// a directory exists at p afterwards.
func MakeDirOnce(fs afero.Fs, p string, mode os.FileMode) bool {
	if IsDir(fs, p) {
		return true
	}
	if err := fs.Mkdir(p, mode); err == nil {
		return true
	} else if os.IsExist(err) {
		return IsDir(fs, p)
	}
	return false
}

// ReadFile reads the whole file at p.
func ReadFile(fs afero.Fs, p string) ([]byte, error) {
	return afero.ReadFile(fs, p)
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func readlink(fs afero.Fs, p string) (string, error) {
	if r, ok := fs.(afero.LinkReader); ok {
		return r.ReadlinkIfPossible(p)
	}
	return "", &os.PathError{Op: "readlink", Path: p, Err: afero.ErrNoReadlink}
}

func splitPath(p string) []string {
	return strings.Split(p, "/")
}
