package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"git.home.luguber.info/inful/pkgbuild/internal/descriptor"
	"git.home.luguber.info/inful/pkgbuild/internal/logfields"
)

// StoreEnvVar overrides the default store location.
const StoreEnvVar = "PKGBUILD_STORE"

const (
	stateDBName  = "state.db"
	eventsDBName = "events.db"
	buildDir     = "build"
	stageDir     = "stage"
	installDir   = "install"
	logsDir      = "logs"
	locksDir     = "locks"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// DefaultStoreDir returns $PKGBUILD_STORE or the user cache directory.
func DefaultStoreDir() string {
	if dir := os.Getenv(StoreEnvVar); dir != "" {
		return dir
	}
	if cache, err := os.UserCacheDir(); err == nil {
		return filepath.Join(cache, "pkgbuild")
	}
	return filepath.Join(os.TempDir(), "pkgbuild")
}

// ProjectKey derives the store directory name for a project. The readable
// prefix is the project directory name; the suffix identifies the absolute
// path.
func ProjectKey(projectPath string) (string, error) {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return "", fmt.Errorf("resolve project path: %w", err)
	}
	abs = filepath.Clean(abs)
	sum := sha256.Sum256([]byte(abs))
	base := unsafeChars.ReplaceAllString(filepath.Base(abs), "_")
	return base + "-" + hex.EncodeToString(sum[:])[:12], nil
}

// Layout resolves store paths for one project.
type Layout struct {
	root string
}

// NewLayout returns the layout for projectPath under storeDir. An empty
// storeDir selects DefaultStoreDir.
func NewLayout(storeDir, projectPath string) (*Layout, error) {
	if storeDir == "" {
		storeDir = DefaultStoreDir()
	}
	key, err := ProjectKey(projectPath)
	if err != nil {
		return nil, err
	}
	absStore, err := filepath.Abs(storeDir)
	if err != nil {
		return nil, fmt.Errorf("resolve store dir: %w", err)
	}
	return &Layout{root: filepath.Join(absStore, key)}, nil
}

// NewLayoutAt uses dir as the project root directly.
func NewLayoutAt(dir string) *Layout {
	return &Layout{root: dir}
}

// Create ensures the project root and its fixed subdirectories exist.
func (l *Layout) Create() error {
	for _, d := range []string{l.root, l.join(buildDir), l.join(stageDir), l.join(installDir), l.join(logsDir), l.join(locksDir)} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	slog.Debug("Using package store", logfields.Path(l.root))
	return nil
}

// Root returns the project store directory.
func (l *Layout) Root() string { return l.root }

// StateDB returns the path of the BuildRecord database.
func (l *Layout) StateDB() string { return l.join(stateDBName) }

// EventsDB returns the path of the build event history.
func (l *Layout) EventsDB() string { return l.join(eventsDBName) }

// BuildDir returns the scratch build directory for id.
func (l *Layout) BuildDir(id descriptor.PackageID) string { return l.join(buildDir, id.Key()) }

// StageDir returns the staging directory that install commands populate.
func (l *Layout) StageDir(id descriptor.PackageID) string { return l.join(stageDir, id.Key()) }

// InstallDir returns the persistent install directory for id.
func (l *Layout) InstallDir(id descriptor.PackageID) string { return l.join(installDir, id.Key()) }

// LogDir returns the directory holding the build logs for id.
func (l *Layout) LogDir(id descriptor.PackageID) string { return l.join(logsDir, id.Key()) }

// LockDir returns the directory holding per-package build lock files.
func (l *Layout) LockDir() string { return l.join(locksDir) }

func (l *Layout) join(parts ...string) string {
	return filepath.Join(append([]string{l.root}, parts...)...)
}

// Reset empties dir, creating it if needed.
func Reset(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}

// Promote atomically replaces dst with src. The previous dst is moved aside
// first and removed once src is in place.
func Promote(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("failed to create install parent: %w", err)
	}

	old := dst + ".old"
	if err := os.RemoveAll(old); err != nil {
		return fmt.Errorf("failed to clear %s: %w", old, err)
	}
	hadPrevious := false
	if _, err := os.Stat(dst); err == nil {
		if err := os.Rename(dst, old); err != nil {
			return fmt.Errorf("failed to move previous install aside: %w", err)
		}
		hadPrevious = true
	}
	if err := os.Rename(src, dst); err != nil {
		if hadPrevious {
			_ = os.Rename(old, dst)
		}
		return fmt.Errorf("failed to promote %s: %w", src, err)
	}
	if hadPrevious {
		if err := os.RemoveAll(old); err != nil {
			slog.Warn("Failed to remove previous install", logfields.Path(old), logfields.Error(err))
		}
	}
	return nil
}

// Cleanup removes a scratch directory.
func Cleanup(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to cleanup %s: %w", dir, err)
	}
	slog.Debug("Cleaned up build directory", logfields.Path(dir))
	return nil
}
