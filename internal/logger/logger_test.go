// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package logger

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.astrophena.name/formbot/internal/testutil"
)

func TestLogfWriter(t *testing.T) {
	t.Parallel()

	var message string
	logf := func(format string, args ...any) {
		message = fmt.Sprintf(format, args...)
	}
	Logf(logf).Write([]byte("hello"))
	testutil.AssertEqual(t, message, "hello")
}

func TestContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(&buf)
	ctx := Put(context.Background(), l)

	got := Get(ctx)
	if got != l {
		t.Fatal("Get returned a different logger")
	}

	got.Debug("hidden")
	got.Level.Set(slog.LevelDebug)
	got.Debug("visible")

	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("debug record logged at info level: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("debug record not logged at debug level: %q", buf.String())
	}

	if Get(context.Background()) == nil {
		t.Fatal("Get returned nil for empty context")
	}
}

func TestStreamer(t *testing.T) {
	t.Parallel()

	s := NewStreamer(5)
	for i := 1; i <= 6; i++ {
		fmt.Fprintf(s, "Line %d\n", i)
	}

	lines := s.Lines()
	testutil.AssertEqual(t, len(lines), 5)
	testutil.AssertEqual(t, lines[0], "Line 2\n")
	testutil.AssertEqual(t, lines[4], "Line 6\n")

	stream, closeStream := s.Stream()
	defer closeStream()

	go fmt.Fprint(s, "New ", "line\n")

	select {
	case line := <-stream:
		testutil.AssertEqual(t, line, "New line\n")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for streamed line")
	}
}

func TestStreamerHTTP(t *testing.T) {
	t.Parallel()

	s := NewStreamer(5)
	fmt.Fprintln(s, "buffered")

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/debug/logs", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.ServeHTTP(w, req)
	}()
	cancel()
	<-done

	if !strings.Contains(w.Body.String(), "buffered") {
		t.Fatalf("response doesn't contain buffered line: %q", w.Body.String())
	}
}
