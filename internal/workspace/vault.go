package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/gofrs/flock"
	"github.com/openmined/bucketsync/internal/utils"
)

const (
	metadataDir = ".bucketsync"
	trashDir    = ".trash"
	lockFile    = "bucketsync.lock"
	tmpSuffix   = ".bucketsync-tmp"
)

var (
	ErrWorkspaceLocked = errors.New("vault locked by another process")
	ErrNotRegularFile  = errors.New("not a regular file")
)

// FileInfo describes one file of the vault.
type FileInfo struct {
	Path    string // logical path
	AbsPath string
	Size    int64
	ModTime time.Time
}

// Vault is the local file tree being synchronized.
type Vault struct {
	Root        string
	MetadataDir string
	TrashDir    string

	ignore *IgnoreList
	flock  *flock.Flock
}

func NewVault(rootDir string) (*Vault, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", rootDir, err)
	}

	return &Vault{
		Root:        root,
		MetadataDir: filepath.Join(root, metadataDir),
		TrashDir:    filepath.Join(root, trashDir),
		ignore:      NewIgnoreList(root),
		flock:       flock.New(filepath.Join(root, metadataDir, lockFile)),
	}, nil
}

// Name is the vault directory name, used for the %VAULT_NAME% key prefix.
func (v *Vault) Name() string {
	return filepath.Base(v.Root)
}

// Setup creates the vault directories, takes the vault lock and loads the ignore rules.
func (v *Vault) Setup() error {
	if err := utils.EnsureDir(v.Root); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", v.Root, err)
	}

	if err := v.Lock(); err != nil {
		return err
	}

	v.ignore.Load()
	slog.Info("vault", "root", v.Root)
	return nil
}

func (v *Vault) Lock() error {
	if err := utils.EnsureDir(v.MetadataDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", v.MetadataDir, err)
	}

	locked, err := v.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock vault: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}
	return nil
}

func (v *Vault) Unlock() error {
	// only the process holding the lock removes the lock file
	if !v.flock.Locked() {
		return nil
	}

	if err := v.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock vault: %w", err)
	}
	return os.Remove(v.flock.Path())
}

// ShouldIgnore reports whether a logical path is excluded from sync.
func (v *Vault) ShouldIgnore(logicalPath string) bool {
	return v.ignore.ShouldIgnore(logicalPath)
}

// ===================================================================================================

// ListFiles enumerates all regular, non-ignored files of the vault.
// The order of the result is unspecified.
func (v *Vault) ListFiles(ctx context.Context) ([]*FileInfo, error) {
	var (
		mu    sync.Mutex
		files []*FileInfo
	)

	conf := fastwalk.Config{
		Follow: false,
	}

	err := fastwalk.Walk(&conf, v.Root, func(absPath string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if walkErr != nil {
			slog.Warn("vault walk", "path", absPath, "error", walkErr)
			return nil
		}

		if absPath == v.Root {
			return nil
		}

		logical, err := utils.ToLogicalPath(v.Root, absPath)
		if err != nil {
			return nil
		}

		if d.IsDir() {
			if v.ShouldIgnore(logical + "/") {
				return fastwalk.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || v.ShouldIgnore(logical) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// removed while walking
			return nil
		}

		mu.Lock()
		files = append(files, &FileInfo{
			Path:    logical,
			AbsPath: absPath,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list vault %s: %w", v.Root, err)
	}

	return files, nil
}

// Stat returns the current state of a single vault file.
func (v *Vault) Stat(logicalPath string) (*FileInfo, error) {
	absPath, err := utils.FromLogicalPath(v.Root, logicalPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegularFile, logicalPath)
	}

	return &FileInfo{
		Path:    path.Clean(logicalPath),
		AbsPath: absPath,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Open opens a vault file for reading.
func (v *Vault) Open(logicalPath string) (io.ReadSeekCloser, error) {
	absPath, err := utils.FromLogicalPath(v.Root, logicalPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// CreateDir creates a directory and its parents. An existing directory is not an error.
func (v *Vault) CreateDir(logicalPath string) error {
	absPath, err := utils.FromLogicalPath(v.Root, logicalPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}
	return nil
}

// WriteFile streams r into a temp file next to the target and renames it into
// place, so readers never observe a partially written file. A non-nil verify
// runs once the temp file is complete; its error discards the temp file and
// leaves the target as it was.
func (v *Vault) WriteFile(logicalPath string, r io.Reader, verify func() error) (*FileInfo, error) {
	absPath, err := utils.FromLogicalPath(v.Root, logicalPath)
	if err != nil {
		return nil, err
	}

	if dir := path.Dir(path.Clean(logicalPath)); dir != "." {
		if err := v.CreateDir(dir); err != nil {
			return nil, fmt.Errorf("create parent of %s: %w", logicalPath, err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(absPath), "."+filepath.Base(absPath)+".*"+tmpSuffix)
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	if verify != nil {
		if err := verify(); err != nil {
			os.Remove(tmpPath)
			return nil, err
		}
	}
	if err := os.Rename(tmpPath, absPath); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}

	return v.Stat(logicalPath)
}

// Trash moves a vault file into the vault's .trash directory, keeping its
// relative layout. An existing trashed copy is never overwritten.
func (v *Vault) Trash(logicalPath string) (string, error) {
	absPath, err := utils.FromLogicalPath(v.Root, logicalPath)
	if err != nil {
		return "", err
	}

	rel, _ := utils.ToLogicalPath(v.Root, absPath)
	dest := filepath.Join(v.TrashDir, filepath.FromSlash(rel))
	if err := utils.EnsureParent(dest); err != nil {
		return "", err
	}
	dest = uniquePath(dest)

	if err := os.Rename(absPath, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// uniquePath appends " (n)" before the extension until p does not exist.
func uniquePath(p string) string {
	if _, err := os.Lstat(p); errors.Is(err, fs.ErrNotExist) {
		return p
	}

	ext := filepath.Ext(p)
	base := strings.TrimSuffix(p, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
		if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
	}
}
