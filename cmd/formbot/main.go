// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.astrophena.name/formbot/cmd/formbot/internal/bot"
	"go.astrophena.name/formbot/cmd/formbot/internal/chat"
	"go.astrophena.name/formbot/cmd/formbot/internal/chat/discord"
	"go.astrophena.name/formbot/cmd/formbot/internal/chat/telegram"
	"go.astrophena.name/formbot/cmd/formbot/internal/config"
	"go.astrophena.name/formbot/cmd/formbot/internal/cursor"
	"go.astrophena.name/formbot/cmd/formbot/internal/format"
	"go.astrophena.name/formbot/cmd/formbot/internal/source"
	"go.astrophena.name/formbot/cmd/formbot/internal/syncer"
	"go.astrophena.name/formbot/internal/cli"
	"go.astrophena.name/formbot/internal/httplogger"
	"go.astrophena.name/formbot/internal/logger"

	"google.golang.org/api/option"
)

// Some types of errors that can happen during formbot execution.
var (
	errNoToken      = errors.New("chat token is required, set -token")
	errNoTransport  = errors.New("unknown transport")
	errNoSecrets    = errors.New("OAuth client secrets are required, set -client-secrets")
	errBotIsRunning = errors.New("the bot is running")
)

func main() { cli.Main(&app{getenv: os.Getenv}) }

type app struct {
	getenv   func(string) string
	settings *config.Set

	// chat
	transport   *string
	token       *string
	channel     *string
	prefix      *string
	deleteStart *bool

	// source
	spreadsheet    *string
	sheetRange     *string
	file           *string
	sheet          *string
	serviceAccount *string
	clientSecrets  *string
	sortSheetID    *int

	// syncing
	startingRow *int
	interval    *time.Duration
	mode        *string
	limit       *int
	formatFile  *string
	title       *string
	footer      *string
	cursorDSN   *string

	// access
	roles          *[]string
	channels       *[]string
	random         *bool
	randomRoles    *[]string
	randomChannels *[]string

	adminAddr *string
	stateDir  *string
	dry       *bool

	// for tests
	httpc        *http.Client
	sheetsOpts   []option.ClientOption
	newTransport func() (chat.Transport, error)
	adminReady   func(addr string)
}

func (a *app) Flags(fs *flag.FlagSet) {
	s := config.New(fs, a.getenv)
	a.settings = s

	a.transport = config.Value(s, "transport", "FORMBOT_TRANSPORT", "discord", "Chat platform: discord or telegram.")
	a.token = config.Value(s, "token", "FORMBOT_TOKEN", "", "Bot token.")
	a.channel = config.Value(s, "channel", "FORMBOT_CHANNEL", "", "Channel ID to post to as soon as the bot connects. Without it, posting starts with the start command.")
	a.prefix = config.Value(s, "prefix", "FORMBOT_PREFIX", bot.DefaultPrefix, "Command prefix.")
	a.deleteStart = config.Value(s, "delete-start", "FORMBOT_DELETE_START", false, "Delete the start command message once posting starts.")

	a.spreadsheet = config.Value(s, "spreadsheet", "FORMBOT_SPREADSHEET", "", "Google Sheets spreadsheet ID.")
	a.sheetRange = config.Value(s, "range", "FORMBOT_RANGE", source.DefaultRange, "Spreadsheet range to read, in A1 notation.")
	a.file = config.Value(s, "file", "FORMBOT_FILE", "", "Local .xlsx or .csv file to read instead of a Google Sheet.")
	a.sheet = config.Value(s, "sheet", "FORMBOT_SHEET", "", "Worksheet of the .xlsx file. Defaults to the first one.")
	a.serviceAccount = config.Value(s, "service-account", "FORMBOT_SERVICE_ACCOUNT", "", "Path to a Google service account JSON key.")
	a.clientSecrets = config.Value(s, "client-secrets", "FORMBOT_CLIENT_SECRETS", "", "Path to a Google OAuth client secrets file, used with the token from \"formbot login\".")
	a.sortSheetID = config.Value(s, "sort-sheet-id", "FORMBOT_SORT_SHEET_ID", -1, "Numeric ID of the sheet to sort by date around every read. Negative disables sorting.")

	a.startingRow = config.Value(s, "starting-row", "FORMBOT_STARTING_ROW", 1, "Index of the first row to post when no cursor is saved, usually 1 to skip the header. Random entries are picked from this row on.")
	a.interval = config.Value(s, "interval", "FORMBOT_INTERVAL", bot.DefaultInterval, "Time between checks for new rows.")
	a.mode = config.Value(s, "mode", "FORMBOT_MODE", syncer.ModePost.String(), "Posting mode: post (one message per row) or digest (new rows in a single message).")
	a.limit = config.Value(s, "limit", "FORMBOT_LIMIT", format.DefaultLimit, "Maximum message length in characters.")
	a.formatFile = config.Value(s, "format", "FORMBOT_FORMAT", "", "Starlark file that formats rows.")
	a.title = config.Value(s, "title", "FORMBOT_TITLE", "#", "Heading of posts made by the default formatter, followed by the row number.")
	a.footer = config.Value(s, "footer", "FORMBOT_FOOTER", "", "Last line of posts made by the default formatter.")
	a.cursorDSN = config.Value(s, "cursor", "FORMBOT_CURSOR", "", "Cursor store: file:[path], json:[path], sqlite:[path], postgres://... or mem:. Defaults to a file in the state directory.")

	a.roles = config.Value(s, "roles", "FORMBOT_ROLES", []string(nil), "Comma-separated roles allowed to start and stop posting. Empty allows anyone.")
	a.channels = config.Value(s, "channels", "FORMBOT_CHANNELS", []string(nil), "Comma-separated channel names or IDs where start and stop are allowed. Empty allows any.")
	a.random = config.Value(s, "random", "FORMBOT_RANDOM", false, "Enable the random command.")
	a.randomRoles = config.Value(s, "random-roles", "FORMBOT_RANDOM_ROLES", []string(nil), "Comma-separated roles allowed to use the random command. Empty allows anyone.")
	a.randomChannels = config.Value(s, "random-channels", "FORMBOT_RANDOM_CHANNELS", []string(nil), "Comma-separated channel names or IDs where the random command is allowed. Empty allows any.")

	a.adminAddr = config.Value(s, "admin-addr", "FORMBOT_ADMIN_ADDR", "", "Address of the admin HTTP server. Empty disables it.")
	a.stateDir = config.Value(s, "state-dir", "STATE_DIRECTORY", "", "State directory. Defaults to $XDG_STATE_HOME/formbot.")
	a.dry = config.Value(s, "dry", "FORMBOT_DRY", false, "Enable dry-run mode: log posts instead of sending them and don't save the cursor.")
}

func (a *app) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	if err := a.settings.Load(); err != nil {
		return err
	}

	if *a.interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %s", cli.ErrInvalidArgs, *a.interval)
	}

	// Enable debug logging in dry-run mode.
	if *a.dry {
		logger.Get(ctx).Level.Set(slog.LevelDebug)
	}

	if err := a.initStateDir(env); err != nil {
		return err
	}

	command, args := "run", env.Args
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	switch command {
	case "run":
		if len(args) != 0 {
			return fmt.Errorf("%w: run takes no arguments", cli.ErrInvalidArgs)
		}
		return a.run(ctx)
	case "once":
		if len(args) != 0 {
			return fmt.Errorf("%w: once takes no arguments", cli.ErrInvalidArgs)
		}
		return a.once(ctx)
	case "cursor":
		if len(args) > 1 {
			return fmt.Errorf("%w: cursor takes at most one argument", cli.ErrInvalidArgs)
		}
		return a.cursor(ctx, args)
	case "login":
		if len(args) != 0 {
			return fmt.Errorf("%w: login takes no arguments", cli.ErrInvalidArgs)
		}
		return a.login(ctx)
	default:
		return fmt.Errorf("%w: no such command %q", cli.ErrInvalidArgs, command)
	}
}

func (a *app) initStateDir(env *cli.Env) error {
	if *a.stateDir == "" {
		xdgStateHome := env.Getenv("XDG_STATE_HOME")
		if xdgStateHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			xdgStateHome = filepath.Join(home, ".local", "state")
		}
		*a.stateDir = filepath.Join(xdgStateHome, "formbot")
	}
	return os.MkdirAll(*a.stateDir, 0o700)
}

func (a *app) lockPath() string { return filepath.Join(*a.stateDir, ".run.lock") }

func (a *app) sourceConfig() source.Config {
	return source.Config{
		File:          *a.file,
		Sheet:         *a.sheet,
		SpreadsheetID: *a.spreadsheet,
		Range:         *a.sheetRange,
		SortSheetID:   *a.sortSheetID,
		Credentials: source.Credentials{
			ServiceAccountKey: *a.serviceAccount,
			ClientSecrets:     *a.clientSecrets,
			TokenFile:         filepath.Join(*a.stateDir, "token.json"),
		},
		HTTPClient:    a.httpClient(0),
		ClientOptions: a.sheetsOpts,
	}
}

// pipeline is everything a sync needs.
type pipeline struct {
	src     source.Source
	cur     cursor.Store
	opts    syncer.Options
	closeFn func() error
}

func (p *pipeline) Close() error { return p.closeFn() }

func (a *app) newPipeline(ctx context.Context) (*pipeline, error) {
	mode, err := syncer.ParseMode(*a.mode)
	if err != nil {
		return nil, err
	}

	f, err := a.newFormatter(ctx)
	if err != nil {
		return nil, err
	}

	src, err := source.New(ctx, a.sourceConfig())
	if err != nil {
		return nil, err
	}

	cur, closer, err := a.openCursor(ctx)
	if err != nil {
		return nil, err
	}

	return &pipeline{
		src:     src,
		cur:     cur,
		opts:    syncer.Options{Formatter: f, Mode: mode, Limit: *a.limit},
		closeFn: closer.Close,
	}, nil
}

func (a *app) newFormatter(ctx context.Context) (format.Formatter, error) {
	if *a.formatFile == "" {
		return &format.Default{Title: *a.title, Footer: *a.footer, Limit: *a.limit}, nil
	}
	b, err := os.ReadFile(*a.formatFile)
	if err != nil {
		return nil, err
	}
	return format.LoadStarlark(ctx, *a.formatFile, b, *a.limit)
}

func (a *app) openCursor(ctx context.Context) (cursor.Store, io.Closer, error) {
	name, err := a.sourceConfig().Name()
	if err != nil {
		return nil, nil, err
	}
	return cursor.Open(ctx, *a.cursorDSN, *a.stateDir, cursor.Key(name))
}

// httpClient returns the client for outgoing requests, which are logged at
// debug level.
func (a *app) httpClient(timeout time.Duration) *http.Client {
	if a.httpc != nil {
		return a.httpc
	}
	var scrubber *strings.Replacer
	if *a.token != "" {
		scrubber = strings.NewReplacer(*a.token, "[EXPUNGED]")
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: httplogger.New(http.DefaultTransport, scrubber),
	}
}

func (a *app) chatTransport() (chat.Transport, error) {
	if a.newTransport != nil {
		return a.newTransport()
	}
	if *a.token == "" {
		return nil, errNoToken
	}
	switch strings.ToLower(*a.transport) {
	case "discord":
		tr, err := discord.New(*a.token)
		if err != nil {
			return nil, err
		}
		return tr, nil
	case "telegram":
		return telegram.New(telegram.Config{
			Token:         *a.token,
			HTTPClient:    a.httpClient(telegram.DefaultPollTimeout + 10*time.Second),
			CommandPrefix: *a.prefix,
			ResolveRoles:  len(*a.roles) > 0 || len(*a.randomRoles) > 0,
		}), nil
	}
	return nil, fmt.Errorf("%w %q (want discord or telegram)", errNoTransport, *a.transport)
}
