// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package format turns spreadsheet rows into chat messages.
package format

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// DefaultLimit is the maximum message length in characters, matching the
// Discord limit for a single message.
const DefaultLimit = 2000

// TooLongPlaceholder is posted instead of an entry whose rendered text
// doesn't fit into the message limit.
const TooLongPlaceholder = ">>> ```diff\n- This entry is longer than the message limit and was skipped\n```"

// ErrSkip is wrapped by errors returned for rows that can't be formatted.
// Callers log them and move on to the next row.
var ErrSkip = errors.New("row skipped")

var errEmptyRow = errors.New("row has no non-empty cells")

// Row is an ordered list of cells from one spreadsheet line.
type Row []string

// Cell returns the i-th cell, or an empty string if the row is shorter.
func (r Row) Cell(i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return r[i]
}

// Require returns an [*ArityError] if the row has fewer than n cells.
func (r Row) Require(n int) error {
	if len(r) < n {
		return &ArityError{Have: len(r), Want: n}
	}
	return nil
}

// ArityError is returned when a row has too few cells for a formatter.
type ArityError struct {
	Have, Want int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("row has %d cells, want at least %d", e.Have, e.Want)
}

// Unwrap makes ArityError match [ErrSkip].
func (e *ArityError) Unwrap() error { return ErrSkip }

// Skip wraps reason so that it matches [ErrSkip].
func Skip(reason error) error {
	return fmt.Errorf("%w: %w", ErrSkip, reason)
}

// Formatter renders rows as chat messages.
//
// Implementations are pure: the same row always produces the same text.
// Returned text never exceeds the configured limit; oversized entries are
// replaced with [TooLongPlaceholder].
type Formatter interface {
	// Format renders a newly appended row. seq is the 1-based position of
	// the row in the sheet.
	Format(row Row, seq int) (string, error)
	// Random renders a row picked by the random command.
	Random(row Row) (string, error)
}

// Len returns the length of s in characters.
func Len(s string) int { return utf8.RuneCountInString(s) }

// Fit returns text if it is no longer than limit characters and
// [TooLongPlaceholder] otherwise. A non-positive limit means [DefaultLimit].
func Fit(text string, limit int) string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if Len(text) > limit {
		return TooLongPlaceholder
	}
	return text
}
