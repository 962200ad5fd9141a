package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// localStorage implements FileStorage on a local directory tree.
type localStorage struct {
	root   string
	logger *zap.Logger
}

// NewLocalStorage roots a disk backed store at root, creating it if needed.
func NewLocalStorage(root string, logger *zap.Logger) (FileStorage, error) {
	if root == "" {
		return nil, fmt.Errorf("local storage: root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("local storage: resolve root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("local storage: create root %q: %w", abs, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("local storage initialized", zap.String("root", abs))
	return &localStorage{root: abs, logger: logger}, nil
}

func (s *localStorage) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// EnsureDirectory creates the partition directory. os.MkdirAll succeeds when another
// goroutine created the directory first, so concurrent callbacks do not race here.
func (s *localStorage) EnsureDirectory(_ context.Context, dir string) error {
	if dir == "" {
		return nil
	}
	cleaned, err := CleanKey(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.path(cleaned), 0o755); err != nil {
		return fmt.Errorf("local storage: create directory %q: %w", cleaned, err)
	}
	return nil
}

// Put writes to a temp file in the target directory and renames it into place.
func (s *localStorage) Put(ctx context.Context, dir, name string, data []byte, _ string) (string, error) {
	key, err := joinKey(dir, name)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	finalPath := s.path(key)
	targetDir := filepath.Dir(finalPath)
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return "", fmt.Errorf("local storage: create directory for %q: %w", key, err)
	}

	tmp, err := os.CreateTemp(targetDir, ".incoming-*")
	if err != nil {
		return "", fmt.Errorf("local storage: create temp file for %q: %w", key, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("local storage: write %q: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("local storage: sync %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("local storage: close %q: %w", key, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("local storage: chmod %q: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("local storage: rename %q: %w", key, err)
	}

	s.logger.Debug("file saved", zap.String("path", finalPath), zap.Int("bytes", len(data)))
	return finalPath, nil
}

func (s *localStorage) Exists(_ context.Context, key string) (bool, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(s.path(cleaned))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("local storage: stat %q: %w", cleaned, err)
	}
	return info.Mode().IsRegular(), nil
}

func (s *localStorage) Locate(key string) string {
	return s.path(key)
}
