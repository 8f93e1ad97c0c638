package utils

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var ErrPathOutsideRoot = errors.New("path is outside root")

// ResolvePath expands `~` and returns a clean absolute path.
func ResolvePath(p string) (string, error) {
	if p == "" {
		return "", errors.New("path cannot be empty")
	}

	if strings.HasPrefix(p, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", errors.New("failed to retrieve home directory")
		}
		p = strings.Replace(p, "~", homeDir, 1)
	}

	absPath, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}

	return filepath.Clean(absPath), nil
}

func EnsureParent(p string) error {
	return EnsureDir(filepath.Dir(p))
}

func EnsureDir(p string) error {
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	return os.MkdirAll(p, 0o755)
}

func DirExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func FileExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// ToLogicalPath converts an absolute path under root into a forward-slash path relative to root.
func ToLogicalPath(root, abs string) (string, error) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, abs)
	}
	return rel, nil
}

// FromLogicalPath maps a forward-slash logical path back to an absolute path under root.
// Paths that would escape root are rejected.
func FromLogicalPath(root, logical string) (string, error) {
	clean := path.Clean("/" + logical)
	if clean == "/" {
		return "", fmt.Errorf("%w: %q", ErrPathOutsideRoot, logical)
	}
	return filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}
