// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package syncx

import (
	"errors"
	"sync"
	"testing"

	"go.astrophena.name/formbot/internal/testutil"
)

func TestProtected(t *testing.T) {
	t.Parallel()

	t.Run("read access", func(t *testing.T) {
		p := Protect(42)
		var result int
		p.ReadAccess(func(val int) { result = val })
		testutil.AssertEqual(t, result, 42)
	})

	t.Run("write access", func(t *testing.T) {
		p := Protect(42)
		p.WriteAccess(func(val *int) { *val = 43 })
		testutil.AssertEqual(t, p.Load(), 43)
	})

	t.Run("concurrent access", func(t *testing.T) {
		p := Protect(0)
		var wg sync.WaitGroup
		for range 100 {
			wg.Go(func() {
				p.WriteAccess(func(val *int) { *val++ })
			})
		}
		wg.Wait()
		testutil.AssertEqual(t, p.Load(), 100)
	})
}

func TestLazy(t *testing.T) {
	t.Parallel()

	var (
		l     Lazy[int]
		count int
	)
	f := func() int {
		count++
		return count
	}

	testutil.AssertEqual(t, l.Get(f), 1)
	testutil.AssertEqual(t, l.Get(f), 1)
	testutil.AssertEqual(t, count, 1)
}

func TestLazyErr(t *testing.T) {
	t.Parallel()

	var l Lazy[string]
	wantErr := errors.New("boom")

	_, err := l.GetErr(func() (string, error) { return "", wantErr })
	testutil.AssertErrorIs(t, err, wantErr)

	// Computed once, even if it failed.
	_, err = l.GetErr(func() (string, error) { return "ok", nil })
	testutil.AssertErrorIs(t, err, wantErr)
}
