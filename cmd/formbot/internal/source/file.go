// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"

	"go.astrophena.name/formbot/cmd/formbot/internal/format"

	"github.com/xuri/excelize/v2"
)

// XLSX reads rows from a local Excel workbook. The file is opened on every
// Fetch, so it may be replaced between runs.
type XLSX struct {
	Path string
	// Sheet is the worksheet name. Empty means the first sheet.
	Sheet string
}

func (x *XLSX) String() string {
	if x.Sheet == "" {
		return x.Path
	}
	return x.Path + "/" + x.Sheet
}

// Fetch implements [Source].
func (x *XLSX) Fetch(ctx context.Context) ([]format.Row, error) {
	f, err := excelize.OpenFile(x.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet := x.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%s: reading sheet %q: %w", x.Path, sheet, err)
	}
	return trimRows(rows), nil
}

// CSV reads rows from a local CSV file.
type CSV struct {
	Path string
}

func (c *CSV) String() string { return c.Path }

// Fetch implements [Source].
func (c *CSV) Fetch(ctx context.Context) ([]format.Row, error) {
	f, err := os.Open(c.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Path, err)
	}
	return trimRows(rows), nil
}
