// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package cursor persists the index of the next row to publish.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.astrophena.name/formbot/internal/atomicio"
	"go.astrophena.name/formbot/internal/store"
)

// Store loads and saves the cursor.
//
// A Save that returned nil must be visible to the following Load, even after
// a crash.
type Store interface {
	// Load returns the saved cursor. ok is false if nothing was saved yet.
	Load(ctx context.Context) (pos int, ok bool, err error)
	// Save persists pos.
	Save(ctx context.Context, pos int) error
}

// ErrNegative is returned when saving a negative cursor.
var ErrNegative = errors.New("cursor must not be negative")

// LoadOr returns the saved cursor, or def if none was saved.
func LoadOr(ctx context.Context, s Store, def int) (int, error) {
	pos, ok, err := s.Load(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return def, nil
	}
	return pos, nil
}

func parse(b []byte) (int, error) {
	pos, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("invalid cursor %q: %w", b, err)
	}
	if pos < 0 {
		return 0, fmt.Errorf("invalid cursor %d: %w", pos, ErrNegative)
	}
	return pos, nil
}

// File stores the cursor as a decimal number in a file.
type File struct {
	Path string
}

// Load implements [Store].
func (f *File) Load(ctx context.Context) (int, bool, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	pos, err := parse(b)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", f.Path, err)
	}
	return pos, true, nil
}

// Save implements [Store].
func (f *File) Save(ctx context.Context, pos int) error {
	if pos < 0 {
		return ErrNegative
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	return atomicio.WriteFile(f.Path, []byte(strconv.Itoa(pos)+"\n"), 0o600)
}

func (f *File) String() string { return "file:" + f.Path }

// KV stores the cursor under Key in a key-value store.
type KV struct {
	Store store.Store
	Key   string
	name  string
}

// Key returns the key the cursor for a source is stored under.
func Key(source string) string { return "cursor/" + source }

// Load implements [Store].
func (kv *KV) Load(ctx context.Context) (int, bool, error) {
	b, err := kv.Store.Get(ctx, kv.Key)
	if err != nil {
		return 0, false, err
	}
	if b == nil {
		return 0, false, nil
	}
	pos, err := parse(b)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", kv.Key, err)
	}
	return pos, true, nil
}

// Save implements [Store].
func (kv *KV) Save(ctx context.Context, pos int) error {
	if pos < 0 {
		return ErrNegative
	}
	return kv.Store.Set(ctx, kv.Key, []byte(strconv.Itoa(pos)))
}

// Close closes the underlying key-value store.
func (kv *KV) Close() error { return kv.Store.Close() }

func (kv *KV) String() string {
	if kv.name != "" {
		return kv.name + " " + kv.Key
	}
	return kv.Key
}
