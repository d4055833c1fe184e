// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"go.astrophena.name/formbot/cmd/formbot/internal/schedule"
	"go.astrophena.name/formbot/cmd/formbot/internal/source"
	"go.astrophena.name/formbot/internal/cli"
	"go.astrophena.name/formbot/internal/filelock"
)

func (a *app) once(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	lock, err := a.acquireRunLock()
	if err != nil {
		return err
	}
	defer lock.Release()

	p, err := a.newPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	job := &schedule.Job{
		Source:  p.src,
		Cursor:  p.cur,
		Start:   *a.startingRow,
		Options: p.opts,
		Poster:  writerPoster{env.Stdout},
		DryRun:  *a.dry,
	}
	r := job.Run(ctx)
	if r.Err != nil {
		return r.Err
	}
	env.Logf("%d rows, %d posted, %d skipped, cursor at %d.", r.Rows, r.Posted, r.Skipped, r.Cursor)
	return nil
}

// writerPoster prints posts separated by blank lines.
type writerPoster struct {
	w io.Writer
}

func (p writerPoster) Post(ctx context.Context, text string) error {
	_, err := fmt.Fprintf(p.w, "%s\n\n", text)
	return err
}

func (a *app) cursor(ctx context.Context, args []string) error {
	env := cli.GetEnv(ctx)

	var (
		pos int
		set = len(args) == 1
	)
	if set {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return fmt.Errorf("%w: row must be a non-negative integer, got %q", cli.ErrInvalidArgs, args[0])
		}
		pos = n
		if filelock.IsLocked(a.lockPath()) {
			return fmt.Errorf("%w (%s), use the start command in the chat instead", errBotIsRunning, filelock.Holder(a.lockPath()))
		}
	}

	cur, closer, err := a.openCursor(ctx)
	if err != nil {
		return err
	}
	defer closer.Close()

	if set {
		if err := cur.Save(ctx, pos); err != nil {
			return err
		}
		env.Logf("Cursor set to %d.", pos)
		return nil
	}

	pos, ok, err := cur.Load(ctx)
	if err != nil {
		return err
	}
	if !ok {
		env.Logf("No cursor saved, posting will start from row %d.", *a.startingRow)
		return nil
	}
	fmt.Fprintln(env.Stdout, pos)
	return nil
}

func (a *app) login(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	if *a.clientSecrets == "" {
		return errNoSecrets
	}
	creds := a.sourceConfig().Credentials
	cfg, err := creds.OAuthConfig()
	if err != nil {
		return err
	}
	if err := source.Login(ctx, cfg, creds.TokenFile, env.Stdin, env.Stdout); err != nil {
		return err
	}
	env.Logf("Token saved to %s.", creds.TokenFile)
	return nil
}
