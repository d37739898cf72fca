package convstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// FileBackend stores each key as a JSON file in a directory.
// Writes go to a temp file first and are renamed into place.
type FileBackend struct {
	dir       string
	ephemeral bool
}

// NewFileBackend stores values under dir
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("error creating directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// NewSessionFileBackend stores values in a fresh temp directory that Close removes
func NewSessionFileBackend() (*FileBackend, error) {
	dir, err := os.MkdirTemp("", "liffchat-session-*")
	if err != nil {
		return nil, fmt.Errorf("error creating session directory: %w", err)
	}
	return &FileBackend{dir: dir, ephemeral: true}, nil
}

func (f *FileBackend) Name() string {
	if f.ephemeral {
		return "session"
	}
	return "file"
}

func (f *FileBackend) path(key string) string {
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' {
			return '_'
		}
		return r
	}, key)
	return filepath.Join(f.dir, safe+".json")
}

func (f *FileBackend) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (f *FileBackend) Set(_ context.Context, key string, value []byte) error {
	target := f.path(key)
	tempPath := target + ".tmp"

	if err := os.WriteFile(tempPath, value, 0o600); err != nil {
		os.Remove(tempPath)
		return writeError(fmt.Errorf("error writing temp file: %w", err))
	}

	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return writeError(err)
	}
	return nil
}

// writeError reports a full disk or exhausted disk quota as ErrQuotaExceeded
func writeError(err error) error {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return err
}

func (f *FileBackend) Remove(_ context.Context, key string) error {
	err := os.Remove(f.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Close removes the directory of a session backend
func (f *FileBackend) Close() error {
	if !f.ephemeral {
		return nil
	}
	return os.RemoveAll(f.dir)
}
