package avdcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/skytestlabs/runner/internal/fileutil"
)

const (
	lockRetryInterval = 100 * time.Millisecond
	doneMarker        = ".golden-complete"
)

// Builder produces the contents of a golden snapshot directory for avdName.
// It must write a fully bootable AVD image tree under dir; avdcache handles
// marking it complete and guarding concurrent builders.
type Builder func(ctx context.Context, avdName, dir string) error

// Cache locates and builds golden AVD snapshots under a base directory.
type Cache struct {
	baseDir string
	timeout time.Duration
	log     *slog.Logger
}

// NewCache returns a Cache rooted at baseDir. If logger is nil,
// slog.Default() is used.
func NewCache(baseDir string, timeout time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{baseDir: baseDir, timeout: timeout, log: logger}
}

// keyDir returns the deterministic directory for a profile name, hashed so
// arbitrary profile names never collide with filesystem-unsafe characters.
func (c *Cache) keyDir(avdName string) string {
	sum := sha256.Sum256([]byte(avdName))
	return filepath.Join(c.baseDir, hex.EncodeToString(sum[:])[:24])
}

// Path returns the directory a golden snapshot for avdName lives in,
// regardless of whether it has been built yet.
func (c *Cache) Path(avdName string) string {
	return c.keyDir(avdName)
}

// IsReady reports whether a complete golden snapshot already exists for
// avdName, without acquiring any lock.
func (c *Cache) IsReady(avdName string) bool {
	_, err := os.Stat(filepath.Join(c.keyDir(avdName), doneMarker))
	return err == nil
}

// EnsureGolden guarantees a complete golden snapshot exists for avdName,
// building it via build if necessary. Concurrent callers for the same
// avdName serialize on a file lock; a caller that loses the race observes
// the winner's completed snapshot instead of building a duplicate.
func (c *Cache) EnsureGolden(ctx context.Context, avdName string, build Builder) (string, error) {
	dir := c.keyDir(avdName)
	if c.IsReady(avdName) {
		return dir, nil
	}

	if err := fileutil.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("ensure cache directory: %w", err)
	}

	lockPath := dir + ".lock"
	fl := flock.New(lockPath)
	lctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	locked, err := fl.TryLockContext(lctx, lockRetryInterval)
	if err != nil {
		return "", fmt.Errorf("acquire avd cache lock for %q: %w", avdName, err)
	}
	if !locked {
		return "", errors.New("avdcache: failed to acquire lock")
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			c.log.Warn("release avd cache lock", "avd", avdName, "error", err)
		}
	}()

	// Re-check under the lock: another process may have finished the build
	// while we were waiting.
	if c.IsReady(avdName) {
		return dir, nil
	}

	if err := build(ctx, avdName, dir); err != nil {
		return "", fmt.Errorf("build golden snapshot for %q: %w", avdName, err)
	}
	marker := filepath.Join(dir, doneMarker)
	if err := os.WriteFile(marker, []byte(time.Now().UTC().Format(time.RFC3339)), 0o644); err != nil {
		return "", fmt.Errorf("write completion marker: %w", err)
	}
	return dir, nil
}

// Clone copies the golden snapshot for avdName into destDir, giving the
// caller an independent working copy an emulator instance can mutate
// freely. destDir must not already exist.
func (c *Cache) Clone(avdName, destDir string) error {
	if !c.IsReady(avdName) {
		return fmt.Errorf("avdcache: no golden snapshot for %q", avdName)
	}
	return fileutil.CopyDir(c.keyDir(avdName), destDir, doneMarker)
}
