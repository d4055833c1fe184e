// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"maps"

	"go.astrophena.name/formbot/internal/syncx"
)

// Mem is an in-memory implementation of the [Store] interface. Its contents
// are lost when the process exits.
type Mem struct {
	data *syncx.Protected[map[string][]byte]
}

// NewMem returns an empty [Mem].
func NewMem() *Mem {
	return &Mem{data: syncx.Protect(make(map[string][]byte))}
}

// Get retrieves a value for a given key.
func (s *Mem) Get(_ context.Context, key string) ([]byte, error) {
	var val []byte
	s.data.ReadAccess(func(m map[string][]byte) {
		if v, ok := m[key]; ok {
			// Copy so the caller can't mutate stored data.
			val = append([]byte(nil), v...)
		}
	})
	return val, nil
}

// Set stores a value for a given key.
func (s *Mem) Set(_ context.Context, key string, value []byte) error {
	s.data.WriteAccess(func(m *map[string][]byte) {
		(*m)[key] = append([]byte(nil), value...)
	})
	return nil
}

// Snapshot returns a copy of everything stored.
func (s *Mem) Snapshot() map[string][]byte {
	var out map[string][]byte
	s.data.ReadAccess(func(m map[string][]byte) { out = maps.Clone(m) })
	return out
}

// Close is a no-op for Mem.
func (s *Mem) Close() error { return nil }
