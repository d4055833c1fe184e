// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package source

import (
	"cmp"
	"context"
	"fmt"
	"sync"

	"go.astrophena.name/formbot/cmd/formbot/internal/format"
	"go.astrophena.name/formbot/internal/logger"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsConfig configures [NewSheets].
type SheetsConfig struct {
	SpreadsheetID string
	// Range in A1 notation. Defaults to DefaultRange.
	Range string
	// SortSheetID, if not negative, is the numeric ID of the sheet to sort
	// ascending by the first column before every read and descending after
	// it.
	SortSheetID int
	// SortColumns is the number of columns the reorder covers. Defaults to 4.
	SortColumns int
}

// Sheets reads rows from a Google Sheet.
type Sheets struct {
	c   SheetsConfig
	svc *sheets.Service

	// sortMu makes sort, read and restore one unit when sorting is enabled.
	sortMu sync.Mutex
}

// NewSheets returns a [Sheets] using a Sheets API client built with opts.
func NewSheets(ctx context.Context, c SheetsConfig, opts ...option.ClientOption) (*Sheets, error) {
	c.Range = cmp.Or(c.Range, DefaultRange)
	c.SortColumns = cmp.Or(c.SortColumns, 4)
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating Sheets client: %w", err)
	}
	return &Sheets{c: c, svc: svc}, nil
}

func (s *Sheets) String() string { return s.c.SpreadsheetID + "/" + s.c.Range }

// Fetch implements [Source].
func (s *Sheets) Fetch(ctx context.Context) ([]format.Row, error) {
	if s.c.SortSheetID >= 0 {
		s.sortMu.Lock()
		defer s.sortMu.Unlock()
		s.sort(ctx, "ASCENDING")
		// Restore the order even if the read is canceled.
		defer s.sort(context.WithoutCancel(ctx), "DESCENDING")
	}

	resp, err := s.svc.Spreadsheets.Values.Get(s.c.SpreadsheetID, s.c.Range).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s, err)
	}

	rows := make([][]string, len(resp.Values))
	for i, vals := range resp.Values {
		row := make([]string, len(vals))
		for j, v := range vals {
			if v != nil {
				row[j] = fmt.Sprint(v)
			}
		}
		rows[i] = row
	}
	return trimRows(rows), nil
}

// sort reorders the data rows of the sheet by the first column. Failures are
// logged and otherwise ignored: the read works either way.
func (s *Sheets) sort(ctx context.Context, order string) {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			SortRange: &sheets.SortRangeRequest{
				Range: &sheets.GridRange{
					SheetId:          int64(s.c.SortSheetID),
					StartRowIndex:    1,
					StartColumnIndex: 0,
					EndColumnIndex:   int64(s.c.SortColumns),
					ForceSendFields:  []string{"SheetId", "StartColumnIndex"},
				},
				SortSpecs: []*sheets.SortSpec{{
					SortOrder:       order,
					DimensionIndex:  0,
					ForceSendFields: []string{"DimensionIndex"},
				}},
			},
		}},
	}
	if _, err := s.svc.Spreadsheets.BatchUpdate(s.c.SpreadsheetID, req).Context(ctx).Do(); err != nil {
		logger.Get(ctx).Warn("sorting sheet failed", "order", order, "sheet_id", s.c.SortSheetID, "err", err)
	}
}
