// Package workspace stores step artifacts under a root directory. Writes are
// atomic: content goes to a temp file in the target directory and is renamed
// into place, so readers see either the old or the new file.
package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	ErrNotFound    = errors.New("file not found")
	ErrOutsideRoot = errors.New("path outside workspace root")
	ErrExists      = errors.New("path already exists")
)

// FileIOError wraps a filesystem failure with the operation and path.
type FileIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileIOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileIOError) Unwrap() error { return e.Err }

type FileEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	IsDirectory bool   `json:"is_directory"`
	Size        *int64 `json:"size,omitempty"`
	Modified    string `json:"modified" format:"date-time"`
}

type FileInfo struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Size     int64  `json:"size"`
	Modified string `json:"modified" format:"date-time"`
}

// Store reads and writes files confined to Root.
type Store struct {
	Root string
}

func New(root string) (Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Store{}, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return Store{}, &FileIOError{Op: "mkdir", Path: abs, Err: err}
	}
	return Store{Root: abs}, nil
}

// Resolve maps path to an absolute path inside Root. Relative paths are taken
// relative to Root.
func (s Store) Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path required")
	}
	root := filepath.Clean(s.Root)
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, full)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return full, nil
}

// Write sanitizes content and atomically replaces the file at path.
func (s Store) Write(path, content string) error {
	full, err := s.Resolve(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &FileIOError{Op: "mkdir", Path: dir, Err: err}
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(full)+".tmp-*")
	if err != nil {
		return &FileIOError{Op: "create temp", Path: full, Err: err}
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}
	if _, err := io.WriteString(tmp, Sanitize(content)); err != nil {
		cleanup()
		return &FileIOError{Op: "write", Path: full, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return &FileIOError{Op: "sync", Path: full, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &FileIOError{Op: "close", Path: full, Err: err}
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return &FileIOError{Op: "chmod", Path: full, Err: err}
	}
	if err := os.Rename(tmpPath, full); err != nil {
		os.Remove(tmpPath)
		return &FileIOError{Op: "rename", Path: full, Err: err}
	}
	return nil
}

// Read returns the file content at path.
func (s Store) Read(path string) (string, error) {
	info, err := s.ReadInfo(path)
	if err != nil {
		return "", err
	}
	return info.Content, nil
}

// ReadInfo returns content with size and modification time.
func (s Store) ReadInfo(path string) (FileInfo, error) {
	full, err := s.Resolve(path)
	if err != nil {
		return FileInfo{}, err
	}
	st, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileInfo{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return FileInfo{}, &FileIOError{Op: "stat", Path: full, Err: err}
	}
	if st.IsDir() {
		return FileInfo{}, &FileIOError{Op: "read", Path: full, Err: errors.New("is a directory")}
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return FileInfo{}, &FileIOError{Op: "read", Path: full, Err: err}
	}
	return FileInfo{
		Path:     full,
		Content:  string(data),
		Size:     st.Size(),
		Modified: st.ModTime().UTC().Format(time.RFC3339),
	}, nil
}

// List returns the entries of dir sorted by name, skipping in-flight temp files.
func (s Store) List(dir string) ([]FileEntry, error) {
	full, err := s.Resolve(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return nil, &FileIOError{Op: "list", Path: full, Err: err}
	}
	res := make([]FileEntry, 0, len(entries))
	for _, e := range entries {
		if isTempName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		entry := FileEntry{
			Name:        e.Name(),
			Path:        filepath.Join(full, e.Name()),
			IsDirectory: e.IsDir(),
			Modified:    info.ModTime().UTC().Format(time.RFC3339),
		}
		if !e.IsDir() {
			size := info.Size()
			entry.Size = &size
		}
		res = append(res, entry)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

// CreateDir creates a new directory under Root; it fails with ErrExists
// rather than reusing an existing one.
func (s Store) CreateDir(name string) (string, error) {
	full, err := s.Resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.Mkdir(full, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrExists, full)
		}
		return "", &FileIOError{Op: "mkdir", Path: full, Err: err}
	}
	return full, nil
}

// CopyTree copies the regular files and directories under src into dst, which
// must already exist. Copied files are made read-only.
func CopyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return &FileIOError{Op: "walk", Path: path, Err: err}
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return &FileIOError{Op: "mkdir", Path: target, Err: err}
			}
			return nil
		}
		if !d.Type().IsRegular() || isTempName(d.Name()) {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return &FileIOError{Op: "open", Path: src, Err: err}
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return &FileIOError{Op: "create", Path: dst, Err: err}
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return &FileIOError{Op: "copy", Path: dst, Err: err}
	}
	if err := out.Close(); err != nil {
		return &FileIOError{Op: "close", Path: dst, Err: err}
	}
	if err := os.Chmod(dst, 0o444); err != nil {
		return &FileIOError{Op: "chmod", Path: dst, Err: err}
	}
	return nil
}

func isTempName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, ".tmp-")
}
