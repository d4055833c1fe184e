// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package source fetches rows from Google Sheets and local spreadsheet files.
package source

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"go.astrophena.name/formbot/cmd/formbot/internal/format"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

// Source returns every row currently in a spreadsheet.
type Source interface {
	Fetch(ctx context.Context) ([]format.Row, error)
	// String describes the source for logs and cursor keys.
	String() string
}

// DefaultRange is the range read from a Google Sheet when none is set.
const DefaultRange = "A:D"

// Config selects and configures a [Source].
type Config struct {
	// File is a local .xlsx or .csv file. If set, the Google Sheets settings
	// are ignored.
	File string
	// Sheet is the worksheet of an XLSX file. Empty means the first one.
	Sheet string

	SpreadsheetID string
	Range         string
	// SortSheetID enables the legacy reorder of the sheet with this numeric
	// ID around every read. Negative disables it.
	SortSheetID int
	Credentials Credentials

	// HTTPClient is used for token and API requests.
	HTTPClient *http.Client
	// ClientOptions are passed to the Sheets client, mostly for tests.
	ClientOptions []option.ClientOption
}

var errNoSource = errors.New("either a spreadsheet ID or a local file must be set")

// New returns the source described by c.
func New(ctx context.Context, c Config) (Source, error) {
	if c.File != "" {
		return fileSource(c)
	}
	if c.SpreadsheetID == "" {
		return nil, errNoSource
	}

	opts := c.ClientOptions
	if len(opts) == 0 {
		ts, err := c.Credentials.TokenSource(ctx, c.HTTPClient)
		if err != nil {
			return nil, err
		}
		if c.HTTPClient != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, c.HTTPClient)
		}
		opts = []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, ts))}
	}

	return NewSheets(ctx, SheetsConfig{
		SpreadsheetID: c.SpreadsheetID,
		Range:         c.Range,
		SortSheetID:   c.SortSheetID,
	}, opts...)
}

// Name returns the name of the source New would return, without connecting
// to anything.
func (c Config) Name() (string, error) {
	if c.File != "" {
		src, err := fileSource(c)
		if err != nil {
			return "", err
		}
		return src.String(), nil
	}
	if c.SpreadsheetID == "" {
		return "", errNoSource
	}
	return c.SpreadsheetID + "/" + cmp.Or(c.Range, DefaultRange), nil
}

func fileSource(c Config) (Source, error) {
	switch strings.ToLower(filepath.Ext(c.File)) {
	case ".xlsx", ".xlsm":
		return &XLSX{Path: c.File, Sheet: c.Sheet}, nil
	case ".csv":
		return &CSV{Path: c.File}, nil
	}
	return nil, fmt.Errorf("%s: unsupported file type (want .xlsx or .csv)", c.File)
}

// trimRows drops trailing empty cells of every row. Google Sheets omits them,
// local files don't.
func trimRows(rows [][]string) []format.Row {
	out := make([]format.Row, len(rows))
	for i, row := range rows {
		n := len(row)
		for n > 0 && row[n-1] == "" {
			n--
		}
		out[i] = format.Row(row[:n])
	}
	return out
}
