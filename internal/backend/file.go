// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// file.go: one file per key under a directory. Writes go to a temporary
// file in the same directory which is synced and then renamed over the
// target, so a crash leaves either the old value or the new one.

package backend

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	fileExt    = ".ksv"
	tempPrefix = ".tmp-"
	// maxNameLen keeps encoded names under common filesystem limits.
	maxNameLen = 250
)

// File is a directory-backed store.
type File struct {
	dir string
}

// NewFile creates dir if needed and returns a File backend rooted there.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, errors.New("backend file: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("backend file: %w", err)
	}
	return &File{dir: dir}, nil
}

// Dir returns the backing directory.
func (f *File) Dir() string { return f.dir }

// path maps a key to its file. Keys are base64url encoded so any string is a
// safe, reversible file name.
func (f *File) path(key string) (string, error) {
	name := base64.RawURLEncoding.EncodeToString([]byte(key)) + fileExt
	if len(name) > maxNameLen {
		return "", fmt.Errorf("backend file: key too long (%d bytes)", len(key))
	}
	return filepath.Join(f.dir, name), nil
}

func (f *File) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("backend file read %s: %w", key, err)
	}
	return b, nil
}

func (f *File) Write(ctx context.Context, key string, data []byte) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := f.path(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("backend file write %s: %w", key, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("backend file write %s: %w", key, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("backend file sync %s: %w", key, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("backend file close %s: %w", key, err)
	}
	if err = os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("backend file rename %s: %w", key, err)
	}
	return nil
}

func (f *File) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("backend file delete %s: %w", key, err)
	}
	return nil
}

func (f *File) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := f.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("backend file stat %s: %w", key, err)
	}
	return true, nil
}

// Keys lists stored keys in sorted order, skipping temporaries and foreign
// files.
func (f *File) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("backend file list: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, tempPrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		k, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(name, fileExt))
		if err != nil {
			continue
		}
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *File) Close() error { return nil }
