// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package format

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.astrophena.name/formbot/internal/logger"

	starlarkjson "go.starlark.net/lib/json"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// maxSteps bounds the work done by a single formatting call.
const maxSteps = 1_000_000

// Starlark is a [Formatter] backed by a user script.
//
// The script must define
//
//	def format_row(row, seq): ...
//
// and may define
//
//	def format_random(row): ...
//	min_cells = 2
//
// row is a list of strings and seq is the 1-based row number. Both functions
// must return a string. A call that fails or returns None skips the row.
type Starlark struct {
	filename string
	formatFn starlark.Callable
	randomFn starlark.Callable
	minCells int
	limit    int
	log      *slog.Logger
}

var _ Formatter = (*Starlark)(nil)

// LoadStarlark executes src and returns a formatter using the functions it
// defines. limit is the maximum message length; zero means DefaultLimit.
//
// print() calls in the script go to the debug log of the logger in ctx.
func LoadStarlark(ctx context.Context, filename string, src []byte, limit int) (*Starlark, error) {
	s := &Starlark{
		filename: filename,
		limit:    limit,
		log:      logger.Get(ctx).With("script", filename),
	}

	globals, err := starlark.ExecFileOptions(
		&syntax.FileOptions{},
		s.thread("load"),
		filename,
		src,
		predeclared(),
	)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", filename, err)
	}

	fn, ok := globals["format_row"].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%s: format_row function is not defined", filename)
	}
	s.formatFn = fn

	if v, ok := globals["format_random"]; ok {
		fn, ok := v.(starlark.Callable)
		if !ok {
			return nil, fmt.Errorf("%s: format_random must be a function, got %s", filename, v.Type())
		}
		s.randomFn = fn
	}

	if v, ok := globals["min_cells"]; ok {
		n, err := starlark.AsInt32(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%s: min_cells must be a non-negative int, got %s", filename, v)
		}
		s.minCells = n
	}

	return s, nil
}

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"json":   starlarkjson.Module,
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"time":   starlarktime.Module,
	}
}

func (s *Starlark) thread(name string) *starlark.Thread {
	t := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			s.log.Debug("print", "msg", msg)
		},
	}
	t.SetMaxExecutionSteps(maxSteps)
	return t
}

// Format implements [Formatter].
func (s *Starlark) Format(row Row, seq int) (string, error) {
	if err := row.Require(s.minCells); err != nil {
		return "", err
	}
	return s.call(s.formatFn, rowValue(row), starlark.MakeInt(seq))
}

// Random implements [Formatter]. Without format_random, the row is formatted
// with format_row and a sequence number of zero.
func (s *Starlark) Random(row Row) (string, error) {
	if err := row.Require(s.minCells); err != nil {
		return "", err
	}
	if s.randomFn == nil {
		return s.call(s.formatFn, rowValue(row), starlark.MakeInt(0))
	}
	return s.call(s.randomFn, rowValue(row))
}

func (s *Starlark) call(fn starlark.Callable, args ...starlark.Value) (string, error) {
	v, err := starlark.Call(s.thread(fn.Name()), fn, args, nil)
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			return "", Skip(errors.New(evalErr.Backtrace()))
		}
		return "", Skip(err)
	}
	switch v := v.(type) {
	case starlark.String:
		return Fit(string(v), s.limit), nil
	case starlark.NoneType:
		return "", Skip(fmt.Errorf("%s returned None", fn.Name()))
	default:
		return "", Skip(fmt.Errorf("%s returned %s, want string", fn.Name(), v.Type()))
	}
}

func rowValue(row Row) *starlark.List {
	elems := make([]starlark.Value, len(row))
	for i, cell := range row {
		elems[i] = starlark.String(cell)
	}
	return starlark.NewList(elems)
}
