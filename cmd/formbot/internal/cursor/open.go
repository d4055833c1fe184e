// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package cursor

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"go.astrophena.name/formbot/internal/store"
)

// DefaultFile is the name of the cursor file in the state directory.
const DefaultFile = "cursor"

// Open returns the store described by dsn:
//
//	""  or "file:[path]"        cursor file (default: <stateDir>/cursor)
//	"json:[path]"               JSON key-value file (default: <stateDir>/state.json)
//	"sqlite:[path]"             SQLite database (default: <stateDir>/state.db)
//	"postgres://..."            PostgreSQL database
//	"mem:"                      memory, lost on exit
//
// Relative paths are resolved against stateDir. key names the cursor in
// key-value stores, see [Key].
//
// The returned closer releases the underlying store.
func Open(ctx context.Context, dsn, stateDir, key string) (Store, io.Closer, error) {
	scheme, rest, _ := strings.Cut(dsn, ":")
	path := func(def string) string {
		if rest == "" {
			rest = def
		}
		if filepath.IsAbs(rest) {
			return rest
		}
		return filepath.Join(stateDir, rest)
	}

	switch scheme {
	case "", "file":
		return &File{Path: path(DefaultFile)}, nopCloser{}, nil
	case "mem":
		return kvStore(store.NewMem(), key, "mem")
	case "json":
		s, err := store.NewJSONFile(path("state.json"))
		if err != nil {
			return nil, nil, err
		}
		return kvStore(s, key, "json")
	case "sqlite":
		s, err := store.NewSQLite(ctx, path("state.db"))
		if err != nil {
			return nil, nil, err
		}
		return kvStore(s, key, "sqlite")
	case "postgres", "postgresql":
		s, err := store.NewPostgres(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return kvStore(s, key, "postgres")
	}
	return nil, nil, fmt.Errorf("unknown cursor store %q", scheme)
}

func kvStore(s store.Store, key, name string) (Store, io.Closer, error) {
	kv := &KV{Store: s, Key: key, name: name}
	return kv, kv, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
