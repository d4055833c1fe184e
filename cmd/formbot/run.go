// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"go.astrophena.name/formbot/cmd/formbot/internal/bot"
	"go.astrophena.name/formbot/cmd/formbot/internal/chat"
	"go.astrophena.name/formbot/internal/cli"
	"go.astrophena.name/formbot/internal/filelock"
	"go.astrophena.name/formbot/internal/logger"
	"go.astrophena.name/formbot/internal/systemd"
	"go.astrophena.name/formbot/internal/web"
)

const logLines = 500

func (a *app) acquireRunLock() (filelock.Lock, error) {
	return filelock.Acquire(a.lockPath(), fmt.Sprintf("pid=%d\n", os.Getpid()))
}

func (a *app) run(ctx context.Context) error {
	lock, err := a.acquireRunLock()
	if err != nil {
		return err
	}
	defer lock.Release()

	// Keep recent log lines for the admin server.
	streamer := logger.NewStreamer(logLines)
	ctx = teeLogs(ctx, streamer)
	log := logger.Get(ctx)

	p, err := a.newPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	tr, err := a.chatTransport()
	if err != nil {
		return err
	}

	sess := bot.New(bot.Config{
		Transport:   tr,
		Source:      p.src,
		Cursor:      p.cur,
		Options:     p.opts,
		Interval:    *a.interval,
		StartingRow: *a.startingRow,
		Prefix:      *a.prefix,
		Policy: bot.Policy{
			Channels: *a.channels,
			Roles:    *a.roles,
		},
		RandomEnabled: *a.random,
		RandomPolicy: bot.Policy{
			Channels: *a.randomChannels,
			Roles:    *a.randomRoles,
		},
		DeleteStart: *a.deleteStart,
		Autostart:   *a.channel,
		DryRun:      *a.dry,
	})
	log.Info("starting", "transport", tr.String(), "source", p.src.String(), "mode", p.opts.Mode, "interval", *a.interval)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	workers := 1
	go func() { errc <- tr.Run(ctx, sess) }()
	if *a.adminAddr != "" {
		workers++
		go func() {
			errc <- web.ListenAndServe(ctx, &web.ListenAndServeConfig{
				Addr:  *a.adminAddr,
				Mux:   a.adminMux(sess, tr, streamer),
				Ready: a.adminReady,
			})
		}()
	}
	go systemd.WatchdogLoop(ctx)
	systemd.Notify(ctx, systemd.Ready)

	// Whatever stops first stops everything.
	err = <-errc
	systemd.Notify(ctx, systemd.Stopping)
	cancel()
	for range workers - 1 {
		if werr := <-errc; err == nil {
			err = werr
		}
	}
	sess.Stop()
	log.Info("stopped")
	return err
}

func teeLogs(ctx context.Context, w io.Writer) context.Context {
	l := logger.Get(ctx)
	out := io.MultiWriter(cli.GetEnv(ctx).Stderr, w)
	return logger.Put(ctx, &logger.Logger{
		Logger: slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: l.Level})),
		Level:  l.Level,
	})
}

func (a *app) adminMux(sess *bot.Session, tr chat.Transport, logs logger.Streamer) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			web.RespondJSONError(w, r, web.ErrNotFound)
			return
		}
		http.Redirect(w, r, "/api/status", http.StatusFound)
	})
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			web.RespondJSONError(w, r, fmt.Errorf("method not allowed: %w", web.ErrMethodNotAllowed))
			return
		}
		st, err := sess.Status(r.Context())
		if err != nil {
			web.RespondJSONError(w, r, err)
			return
		}
		web.RespondJSON(w, st)
	})
	mux.Handle("/debug/logs", logs)

	health := web.Health(mux)
	health.RegisterFunc("chat", func() (string, bool) {
		if tr.Connected() {
			return "connected to " + tr.String(), true
		}
		return "not connected to " + tr.String(), false
	})
	health.RegisterFunc("sync", sess.SyncHealth)

	return mux
}
