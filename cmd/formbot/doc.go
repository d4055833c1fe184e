// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Formbot posts new rows of a spreadsheet, usually Google Form responses, to a
Discord or Telegram channel.

# Usage

	$ formbot [flags...] [run]
	$ formbot [flags...] once
	$ formbot [flags...] cursor [row]
	$ formbot [flags...] login

# Commands

run (the default) connects to the chat and waits for commands:

  - !start [row]: start posting new rows to the current channel. With a row,
    posting starts from it; otherwise it resumes where it stopped.
  - !stop: stop posting.
  - !random: post a random entry. Only available with -random.

Who may use the commands is restricted with -roles and -channels (-random-roles
and -random-channels for !random). An empty list allows everyone. Unauthorized
commands are ignored.

once fetches the spreadsheet a single time, prints new posts to standard output
and saves the cursor (unless -dry is set).

cursor prints the saved cursor: the index of the first row that wasn't posted
yet. With an argument, it sets the cursor instead. It refuses to run while the
bot is running; use !start in the chat.

login authorizes access to Google Sheets with an OAuth client secrets file
(-client-secrets) and caches the token in the state directory.

# Configuration

Every setting is a flag, can be set by the environment variable listed in
-help, and can be put into a YAML file passed with -config:

	transport: discord
	channel: "829011607513989170"
	spreadsheet: 1vq_HP94RIWGL5zWIIVyGMAv1U6nOmkPPpyg-7mds-I0
	range: A:D
	starting_row: 1
	interval: 5m
	roles: [admin, mods]
	channels: [anomologita]
	title: "#Confession"
	footer: "Send yours! <https://forms.gle/...>"

Flags win over environment variables, which win over the file.

# Data Sources

Rows come from a Google Sheet (-spreadsheet and -range) or a local .xlsx or
.csv file (-file). Google Sheets are read with a service account key
(-service-account), an OAuth token obtained by "formbot login", or Application
Default Credentials, in that order.

# Formatting

By default, rows are expected to look like this:

	timestamp, text[, department[, year]]

and are posted as a numbered entry with optional hashtags and a footer. To
format rows differently, pass a Starlark file with -format. It must define
format_row:

	min_cells = 2

	def format_row(row, seq):
	    return "**#%d** %s" % (seq, row[1])

	def format_random(row):
	    return row[1]

Rows are lists of strings. Returning None or failing skips the row. Posts longer
than -limit characters are replaced with a notice.

With -mode digest, new rows are joined into a single post that fits the limit.

# State

The cursor is stored in the state directory ($STATE_DIRECTORY or
$XDG_STATE_HOME/formbot) by default. -cursor selects another store:

  - file:[path]: a plain file (default).
  - json:[path]: a JSON file.
  - sqlite:[path]: an SQLite database.
  - postgres://...: a PostgreSQL database.
  - mem: memory, lost on exit.

Only one formbot may run on a state directory at a time.

# Admin Server

With -admin-addr, formbot serves:

  - /health: whether the chat is connected and the last sync succeeded.
  - /api/status: run state, cursor and the last sync.
  - /debug/logs: recent log lines.

formbot supports systemd readiness notification and watchdog.
*/
package main

import (
	_ "embed"

	"go.astrophena.name/formbot/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
