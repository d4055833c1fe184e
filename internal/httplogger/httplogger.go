// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package httplogger provides a http.RoundTripper middleware that logs HTTP
// requests and responses at debug level.
package httplogger

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.astrophena.name/formbot/internal/logger"
)

// New creates a new http.RoundTripper that logs every request made through t
// to the logger carried by the request context. Secrets are replaced in
// logged URLs and errors using scrubber, which may be nil.
func New(t http.RoundTripper, scrubber *strings.Replacer) http.RoundTripper {
	if t == nil {
		t = http.DefaultTransport
	}
	return &loggingTransport{transport: t, scrubber: scrubber}
}

type loggingTransport struct {
	transport http.RoundTripper
	scrubber  *strings.Replacer
}

func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	log := logger.Get(ctx)
	if !log.Enabled(ctx, slog.LevelDebug) {
		return t.transport.RoundTrip(r)
	}

	start := time.Now()
	resp, err := t.transport.RoundTrip(r)

	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("url", t.scrub(r.URL.String())),
		slog.Duration("took", time.Since(start)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", t.scrub(err.Error())))
		log.LogAttrs(ctx, slog.LevelDebug, "http request failed", attrs...)
		return resp, err
	}
	attrs = append(attrs, slog.Int("status", resp.StatusCode))
	log.LogAttrs(ctx, slog.LevelDebug, "http request", attrs...)
	return resp, nil
}

func (t *loggingTransport) scrub(s string) string {
	if t.scrubber == nil {
		return s
	}
	return t.scrubber.Replace(s)
}
