// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.astrophena.name/formbot/cmd/formbot/internal/bot"
	"go.astrophena.name/formbot/cmd/formbot/internal/chat"
	"go.astrophena.name/formbot/cmd/formbot/internal/chat/chattest"
	"go.astrophena.name/formbot/internal/cli"
	"go.astrophena.name/formbot/internal/cli/clitest"
	"go.astrophena.name/formbot/internal/filelock"
	"go.astrophena.name/formbot/internal/testutil"
	"go.astrophena.name/formbot/internal/web"
)

const responses = "testdata/responses.csv"

func testApp(t *testing.T) *app {
	dir := t.TempDir()
	return &app{getenv: func(name string) string {
		if name == "STATE_DIRECTORY" {
			return dir
		}
		return ""
	}}
}

func readCursor(t *testing.T, a *app) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(*a.stateDir, "cursor"))
	if os.IsNotExist(err) {
		return ""
	}
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestCLI(t *testing.T) {
	t.Parallel()

	clitest.Run(t, testApp, map[string]clitest.Case[*app]{
		"invalid command": {
			Args:    []string{"frobnicate"},
			WantErr: cli.ErrInvalidArgs,
		},
		"run with arguments": {
			Args:    []string{"run", "now"},
			WantErr: cli.ErrInvalidArgs,
		},
		"cursor with two arguments": {
			Args:    []string{"cursor", "1", "2"},
			WantErr: cli.ErrInvalidArgs,
		},
		"negative interval": {
			Args:    []string{"-file", responses, "-interval", "-1m", "once"},
			WantErr: cli.ErrInvalidArgs,
		},
		"zero interval": {
			Args:    []string{"-file", responses, "-interval", "0s"},
			WantErr: cli.ErrInvalidArgs,
		},
		"negative cursor": {
			Args:    []string{"cursor", "-1"},
			WantErr: cli.ErrInvalidArgs,
		},
		"cursor not set": {
			Args:         []string{"-file", responses, "cursor"},
			WantInStderr: "No cursor saved, posting will start from row 1.",
		},
		"set cursor": {
			Args:         []string{"-file", responses, "cursor", "5"},
			WantInStderr: "Cursor set to 5.",
			CheckFunc: func(t *testing.T, a *app) {
				testutil.AssertEqual(t, readCursor(t, a), "5\n")
			},
		},
		"set cursor in a JSON store": {
			Args:         []string{"-file", responses, "-cursor", "json:", "cursor", "2"},
			WantInStderr: "Cursor set to 2.",
			CheckFunc: func(t *testing.T, a *app) {
				b, err := os.ReadFile(filepath.Join(*a.stateDir, "state.json"))
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Contains(b, []byte("cursor/"+responses)) {
					t.Fatalf("state.json doesn't mention the cursor key: %s", b)
				}
			},
		},
		"login without client secrets": {
			Args:    []string{"login"},
			WantErr: errNoSecrets,
		},
		"run without a token": {
			Args:    []string{"-file", responses},
			WantErr: errNoToken,
		},
		"unknown transport": {
			Args:    []string{"-file", responses, "-token", "123", "-transport", "irc"},
			WantErr: errNoTransport,
		},
		"once": {
			Args:         []string{"-file", responses, "once"},
			WantInStdout: ">>> __*#2*__\n*I never read the syllabus*\n__#Math__ #2\n\n",
			WantInStderr: "4 rows, 3 posted, 0 skipped, cursor at 4.",
			CheckFunc: func(t *testing.T, a *app) {
				testutil.AssertEqual(t, readCursor(t, a), "4\n")
			},
		},
		"once dry run": {
			Args:         []string{"-file", responses, "-dry", "once"},
			WantInStdout: ">>> __*#4*__\n*I miss the library cat*\n\n",
			CheckFunc: func(t *testing.T, a *app) {
				testutil.AssertEqual(t, readCursor(t, a), "")
			},
		},
		"config file": {
			Args:         []string{"-config", "testdata/formbot.yaml", "once"},
			WantInStdout: ">>> __*#Confession4*__\n*I miss the library cat*\nSend yours!\n\n",
		},
	})
}

// runApp runs a with args and returns what it printed.
func runApp(ctx context.Context, a *app, args ...string) (stdout, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	env := &cli.Env{
		Args:   args,
		Getenv: func(string) string { return "" },
		Stdin:  strings.NewReader(""),
		Stdout: &outBuf,
		Stderr: &errBuf,
	}
	err = cli.Run(cli.WithEnv(ctx, env), a)
	return outBuf.String(), errBuf.String(), err
}

func TestOnce(t *testing.T) {
	t.Parallel()

	a := testApp(t)
	stdout, _, err := runApp(t.Context(), a, "-file", responses, "once")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, stdout, ""+
		">>> __*#2*__\n*I never read the syllabus*\n__#Math__ #2\n\n"+
		">>> __*#3*__\n*Coffee is my major*\n__#Physics__\n\n"+
		">>> __*#4*__\n*I miss the library cat*\n\n")

	// Nothing new the second time.
	stdout, _, err = runApp(t.Context(), a, "-file", responses, "once")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, stdout, "")
}

func TestOnceStarlark(t *testing.T) {
	t.Parallel()

	a := testApp(t)
	stdout, _, err := runApp(t.Context(), a, "-file", responses, "-format", "testdata/format.star", "-mode", "digest", "once")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, stdout, "2. i never read the syllabus\n3. coffee is my major\n4. i miss the library cat\n\n")
}

func TestOnceLocked(t *testing.T) {
	t.Parallel()

	a := testApp(t)
	dir := a.getenv("STATE_DIRECTORY")
	lock, err := filelock.Acquire(filepath.Join(dir, ".run.lock"), "pid=1\n")
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	_, _, err = runApp(t.Context(), a, "-file", responses, "once")
	testutil.AssertErrorIs(t, err, filelock.ErrAlreadyLocked)

	_, _, err = runApp(t.Context(), testApp(t), "-state-dir", dir, "-file", responses, "cursor", "3")
	testutil.AssertErrorIs(t, err, errBotIsRunning)

	// Reading is fine.
	_, stderr, err := runApp(t.Context(), testApp(t), "-state-dir", dir, "-file", responses, "cursor")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stderr, "No cursor saved") {
		t.Fatalf("unexpected output: %q", stderr)
	}
}

func TestRun(t *testing.T) {
	t.Parallel()

	tr := chattest.New()
	a := testApp(t)
	a.newTransport = func() (chat.Transport, error) { return tr, nil }
	addrc := make(chan string, 1)
	a.adminReady = func(addr string) { addrc <- addr }

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		_, _, err := runApp(ctx, a,
			"-file", responses,
			"-admin-addr", "localhost:0",
			"-interval", "1h",
			"-roles", "mods",
		)
		done <- err
	}()

	addr := <-addrc
	for !tr.Connected() {
		time.Sleep(5 * time.Millisecond)
	}

	// Not allowed, ignored.
	tr.Inject(ctx, chat.Message{ID: "1", ChannelID: "c1", Text: "!start"})
	tr.Inject(ctx, chat.Message{ID: "2", ChannelID: "c1", Roles: []string{"Mods"}, Text: "!start 2"})

	deadline := time.Now().Add(10 * time.Second)
	for len(tr.Texts()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out, sent so far: %q", tr.Texts())
		}
		time.Sleep(5 * time.Millisecond)
	}
	texts := tr.Texts()
	if !strings.HasPrefix(texts[0], "Beep boop! Starting from row 2!") {
		t.Fatalf("unexpected confirmation: %q", texts[0])
	}
	testutil.AssertEqual(t, texts[1:], []string{
		">>> __*#3*__\n*Coffee is my major*\n__#Physics__",
		">>> __*#4*__\n*I miss the library cat*",
	})

	var st bot.Status
	for {
		st = getJSON[bot.Status](t, "http://"+addr+"/api/status")
		if st.LastSync != nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st.LastSync == nil {
		t.Fatal("timed out waiting for a sync")
	}
	testutil.AssertEqual(t, st.Running, true)
	testutil.AssertEqual(t, st.Channel, "c1")
	testutil.AssertEqual(t, st.Cursor, 4)
	testutil.AssertEqual(t, st.LastSync.Posted, 2)

	health := getJSON[web.HealthResponse](t, "http://"+addr+"/health")
	testutil.AssertEqual(t, health.OK, true)
	testutil.AssertEqual(t, health.Checks["chat"].Status, "connected to test")

	if !logsContain(t, "http://"+addr+"/debug/logs", "started syncing") {
		t.Fatal("/debug/logs doesn't have the start message")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if filelock.IsLocked(filepath.Join(*a.stateDir, ".run.lock")) {
		t.Fatal("run lock is still held")
	}
}

func getJSON[T any](t *testing.T, url string) T {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("%s: %v\n%s", url, err, b)
	}
	return v
}

// logsContain reads the log stream at url until a line contains substr.
func logsContain(t *testing.T, url, substr string) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	sc := bufio.NewScanner(res.Body)
	for sc.Scan() {
		if strings.Contains(sc.Text(), substr) {
			return true
		}
	}
	return false
}
