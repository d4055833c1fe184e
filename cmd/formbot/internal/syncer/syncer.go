// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package syncer computes which rows of a sheet are new since the last run
// and turns them into posts.
package syncer

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"go.astrophena.name/formbot/cmd/formbot/internal/format"
)

// Mode selects how new rows are grouped into posts.
type Mode int

const (
	// ModePost emits one post per row.
	ModePost Mode = iota
	// ModeDigest joins rows into a single post that fits the limit. Rows
	// that don't fit wait for the next run.
	ModeDigest
)

func (m Mode) String() string {
	switch m {
	case ModePost:
		return "post"
	case ModeDigest:
		return "digest"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses the name of a mode as returned by [Mode.String].
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "post":
		return ModePost, nil
	case "digest":
		return ModeDigest, nil
	}
	return 0, fmt.Errorf("unknown mode %q (want post or digest)", s)
}

// Options configure [Sync].
type Options struct {
	Formatter format.Formatter
	Mode      Mode
	// Limit is the maximum length of a digest post. Zero means
	// format.DefaultLimit.
	Limit int
}

// Post is a message ready to be sent.
type Post struct {
	Text string
	// Cursor is the cursor value to persist once this post is delivered.
	Cursor int
}

// Skip records a row that couldn't be formatted.
type Skip struct {
	Index int
	Err   error
}

// Result is the outcome of [Sync].
type Result struct {
	Posts []Post
	// Cursor is the cursor after all posts are delivered.
	Cursor  int
	Skipped []Skip
}

// Sync formats rows[cursor:] according to opts.
//
// Rows are numbered from 1 for display. A row the formatter skips is consumed
// and reported in Result.Skipped, so a malformed row never blocks the rows
// after it. Sync has no side effects: calling it again with the same input
// gives the same result.
func Sync(cursor int, rows []format.Row, opts Options) Result {
	cursor = max(cursor, 0)
	res := Result{Cursor: cursor}
	if cursor >= len(rows) {
		return res
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = format.DefaultLimit
	}

	var (
		digest    strings.Builder
		digestLen int
	)
	flush := func(next int) {
		if digestLen > 0 {
			res.Posts = append(res.Posts, Post{Text: digest.String(), Cursor: next})
		}
	}

	for i := cursor; i < len(rows); i++ {
		text, err := opts.Formatter.Format(rows[i], i+1)
		if err != nil {
			res.Skipped = append(res.Skipped, Skip{Index: i, Err: err})
			res.Cursor = i + 1
			continue
		}

		if opts.Mode != ModeDigest {
			res.Cursor = i + 1
			res.Posts = append(res.Posts, Post{Text: text, Cursor: res.Cursor})
			continue
		}

		text = format.Fit(text, limit)
		n := format.Len(text)
		sep := 0
		if digestLen > 0 {
			sep = 1
		}
		if digestLen > 0 && digestLen+sep+n > limit {
			// Leave the rest for the next run.
			flush(res.Cursor)
			return res
		}
		if sep > 0 {
			digest.WriteByte('\n')
		}
		digest.WriteString(text)
		digestLen += sep + n
		res.Cursor = i + 1
	}

	flush(res.Cursor)
	return res
}

// ErrNothingToSample is returned by [Sample] when there are no rows to pick
// from.
var ErrNothingToSample = errors.New("nothing to sample")

// Sample picks a row uniformly from rows[start:] and formats it with the
// random variant of f. rnd may be nil.
func Sample(rows []format.Row, start int, f format.Formatter, rnd *rand.Rand) (string, error) {
	start = max(start, 0)
	if start >= len(rows) {
		return "", fmt.Errorf("%w: no rows after row %d", ErrNothingToSample, start)
	}
	var i int
	if rnd != nil {
		i = start + rnd.IntN(len(rows)-start)
	} else {
		i = start + rand.IntN(len(rows)-start)
	}
	return f.Random(rows[i])
}
