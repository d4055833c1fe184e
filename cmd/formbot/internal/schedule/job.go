// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package schedule

import (
	"context"
	"fmt"
	"time"

	"go.astrophena.name/formbot/cmd/formbot/internal/cursor"
	"go.astrophena.name/formbot/cmd/formbot/internal/source"
	"go.astrophena.name/formbot/cmd/formbot/internal/syncer"
	"go.astrophena.name/formbot/internal/logger"
)

// Poster delivers a post somewhere.
type Poster interface {
	Post(ctx context.Context, text string) error
}

// Job is one sync pass: fetch rows, compute posts since the cursor, deliver
// them and persist the cursor.
type Job struct {
	Source source.Source
	Cursor cursor.Store
	// Start is the cursor used when none is persisted.
	Start   int
	Options syncer.Options
	Poster  Poster
	// DryRun never saves the cursor.
	DryRun bool

	// now acts as time.Now, but can be mocked for testing.
	now func() time.Time
}

// Report describes the outcome of a [Job] run.
type Report struct {
	Time    time.Time `json:"time"`
	Rows    int       `json:"rows"`
	Posted  int       `json:"posted"`
	Skipped int       `json:"skipped"`
	Cursor  int       `json:"cursor"`
	Err     error     `json:"-"`
}

// OK reports whether the run finished without errors.
func (r Report) OK() bool { return r.Err == nil }

// Run performs a single pass. Errors are logged and returned in the report;
// the cursor is left at the last delivered post.
func (j *Job) Run(ctx context.Context) Report {
	log := logger.Get(ctx)
	now := j.now
	if now == nil {
		now = time.Now
	}
	r := Report{Time: now()}

	fail := func(err error) Report {
		r.Err = err
		log.Error("sync failed", "source", j.Source.String(), "err", err)
		return r
	}

	rows, err := j.Source.Fetch(ctx)
	if err != nil {
		return fail(fmt.Errorf("fetching rows: %w", err))
	}
	r.Rows = len(rows)

	cur, err := cursor.LoadOr(ctx, j.Cursor, j.Start)
	if err != nil {
		return fail(fmt.Errorf("loading cursor: %w", err))
	}
	r.Cursor = cur

	res := syncer.Sync(cur, rows, j.Options)
	r.Skipped = len(res.Skipped)
	for _, s := range res.Skipped {
		log.Warn("skipping row", "row", s.Index+1, "reason", s.Err)
	}

	// Saves happen even when ctx is canceled after a delivered post.
	saveCtx := context.WithoutCancel(ctx)
	save := func(pos int) error {
		if j.DryRun || pos == r.Cursor {
			return nil
		}
		if err := j.Cursor.Save(saveCtx, pos); err != nil {
			return fmt.Errorf("saving cursor: %w", err)
		}
		r.Cursor = pos
		return nil
	}

	for _, p := range res.Posts {
		if ctx.Err() != nil {
			log.Info("sync canceled", "posted", r.Posted)
			return r
		}
		if err := j.Poster.Post(ctx, p.Text); err != nil {
			return fail(fmt.Errorf("sending post: %w", err))
		}
		r.Posted++
		if err := save(p.Cursor); err != nil {
			return fail(err)
		}
	}

	// Trailing skipped rows are consumed too.
	if err := save(res.Cursor); err != nil {
		return fail(err)
	}
	if r.Posted > 0 || r.Skipped > 0 {
		log.Info("synced", "source", j.Source.String(), "posted", r.Posted, "skipped", r.Skipped, "cursor", r.Cursor)
	}
	return r
}
