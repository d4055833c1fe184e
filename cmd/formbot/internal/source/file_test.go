// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package source

import (
	"os"
	"path/filepath"
	"testing"

	"go.astrophena.name/formbot/cmd/formbot/internal/format"
	"go.astrophena.name/formbot/internal/testutil"

	"github.com/xuri/excelize/v2"
)

func TestXLSX(t *testing.T) {
	t.Parallel()

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Sheet1"
	f.SetCellValue(sheet, "A1", "Timestamp")
	f.SetCellValue(sheet, "B1", "Text")
	f.SetCellValue(sheet, "A2", "1/1/2021")
	f.SetCellValue(sheet, "B2", "hello")
	f.SetCellValue(sheet, "C2", "Physics")
	f.SetCellValue(sheet, "A3", "1/2/2021")
	f.SetCellValue(sheet, "B3", 42)

	path := filepath.Join(t.TempDir(), "responses.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}

	want := []format.Row{
		{"Timestamp", "Text"},
		{"1/1/2021", "hello", "Physics"},
		{"1/2/2021", "42"},
	}

	for name, x := range map[string]*XLSX{
		"first sheet": {Path: path},
		"named sheet": {Path: path, Sheet: sheet},
	} {
		t.Run(name, func(t *testing.T) {
			rows, err := x.Fetch(t.Context())
			if err != nil {
				t.Fatal(err)
			}
			testutil.AssertEqual(t, rows, want)
		})
	}

	if _, err := (&XLSX{Path: path, Sheet: "Missing"}).Fetch(t.Context()); err == nil {
		t.Fatal("want error for missing sheet")
	}
}

func TestCSV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "responses.csv")
	content := "Timestamp,Text,Dept\n1/1/2021,\"hello, world\",\n1/2/2021,second,Math\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	rows, err := (&CSV{Path: path}).Fetch(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, rows, []format.Row{
		{"Timestamp", "Text", "Dept"},
		{"1/1/2021", "hello, world"},
		{"1/2/2021", "second", "Math"},
	})
}

func TestCSVMissing(t *testing.T) {
	t.Parallel()
	if _, err := (&CSV{Path: filepath.Join(t.TempDir(), "nope.csv")}).Fetch(t.Context()); err == nil {
		t.Fatal("want error")
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		c       Config
		want    string
		wantErr bool
	}{
		"xlsx":        {c: Config{File: "r.xlsx", Sheet: "Form"}, want: "r.xlsx/Form"},
		"csv":         {c: Config{File: "r.CSV"}, want: "r.CSV"},
		"unsupported": {c: Config{File: "r.ods"}, wantErr: true},
		"nothing":     {c: Config{}, wantErr: true},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s, err := New(t.Context(), tc.c)
			if tc.wantErr {
				if err == nil {
					t.Fatal("want error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			testutil.AssertEqual(t, s.String(), tc.want)
		})
	}
}

func TestConfigName(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		c       Config
		want    string
		wantErr bool
	}{
		"xlsx":          {c: Config{File: "r.xlsx", Sheet: "Form"}, want: "r.xlsx/Form"},
		"sheets":        {c: Config{SpreadsheetID: "abc"}, want: "abc/A:D"},
		"sheets, range": {c: Config{SpreadsheetID: "abc", Range: "Form!A:E"}, want: "abc/Form!A:E"},
		"unsupported":   {c: Config{File: "r.ods"}, wantErr: true},
		"nothing":       {c: Config{}, wantErr: true},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := tc.c.Name()
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
