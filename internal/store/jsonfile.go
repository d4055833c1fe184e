// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"go.astrophena.name/formbot/internal/atomicio"
)

// JSONFile is a file-backed implementation of the [Store] interface.
//
// The whole file is rewritten atomically on every Set.
type JSONFile struct {
	path string

	mu   sync.Mutex
	data map[string][]byte
}

type jsonStore struct {
	Data map[string][]byte `json:"data"`
}

// NewJSONFile opens the store at path, creating an empty one if the file
// doesn't exist yet.
func NewJSONFile(path string) (*JSONFile, error) {
	s := &JSONFile{path: path, data: make(map[string][]byte)}

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	var js jsonStore
	if err := json.Unmarshal(b, &js); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if js.Data != nil {
		s.data = js.Data
	}
	return s, nil
}

// Get retrieves a value for a given key.
func (s *JSONFile) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

// Set stores a value for a given key and flushes the file.
func (s *JSONFile) Set(_ context.Context, key string, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.data[key]
	s.data[key] = append([]byte(nil), val...)

	b, err := json.MarshalIndent(jsonStore{Data: s.data}, "", "  ")
	if err == nil {
		err = atomicio.WriteFile(s.path, b, 0o600)
	}
	if err != nil {
		// Keep memory consistent with disk.
		if had {
			s.data[key] = prev
		} else {
			delete(s.data, key)
		}
		return err
	}
	return nil
}

// Close is a no-op for JSONFile.
func (s *JSONFile) Close() error { return nil }
