// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package systemd

import (
	"context"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"go.astrophena.name/formbot/internal/cli"
	"go.astrophena.name/formbot/internal/testutil"
)

func envContext(t *testing.T, vars map[string]string) context.Context {
	return cli.WithEnv(t.Context(), &cli.Env{
		Getenv: func(k string) string { return vars[k] },
		Stdout: io.Discard,
		Stderr: io.Discard,
	})
}

func listen(t *testing.T) (*net.UnixConn, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notify.sock")
	l, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l, path
}

func read(t *testing.T, l *net.UnixConn) string {
	t.Helper()
	l.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 512)
	n, _, err := l.ReadFromUnix(buf)
	if err != nil {
		t.Fatal(err)
	}
	return string(buf[:n])
}

func TestNotify(t *testing.T) {
	t.Parallel()

	l, path := listen(t)
	Notify(envContext(t, map[string]string{"NOTIFY_SOCKET": path}), Ready)
	testutil.AssertEqual(t, read(t, l), "READY=1")
}

func TestNotifyNoSocket(t *testing.T) {
	t.Parallel()
	// Must not panic or block.
	Notify(envContext(t, nil), Ready)
}

func TestWatchdogLoop(t *testing.T) {
	t.Parallel()

	l, path := listen(t)
	ctx, cancel := context.WithCancel(envContext(t, map[string]string{
		"NOTIFY_SOCKET": path,
		"WATCHDOG_USEC": "100000",
	}))
	done := make(chan struct{})
	go func() {
		defer close(done)
		WatchdogLoop(ctx)
	}()

	testutil.AssertEqual(t, read(t, l), "WATCHDOG=1")
	cancel()
	<-done
}

func TestWatchdogInterval(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		"valid":    {in: "250000", want: 250 * time.Millisecond},
		"zero":     {in: "0", wantErr: true},
		"negative": {in: "-5", wantErr: true},
		"garbage":  {in: "abc", wantErr: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := watchdogInterval(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatal("want error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			testutil.AssertEqual(t, got, tc.want)
		})
	}
}
