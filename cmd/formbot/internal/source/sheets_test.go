// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package source

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.astrophena.name/formbot/cmd/formbot/internal/format"
	"go.astrophena.name/formbot/internal/testutil"

	"google.golang.org/api/option"
)

type fakeSheets struct {
	mu       sync.Mutex
	calls    []string
	values   string
	failSort bool
	failGet  bool

	// order is the sort order of the sheet, reads records it for every read.
	order string
	reads []string
	// sortDelay slows down sorting.
	sortDelay time.Duration
	// onGet is called when values are read.
	onGet func()
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":batchUpdate"):
		var req struct {
			Requests []struct {
				SortRange struct {
					Range     map[string]any `json:"range"`
					SortSpecs []struct {
						SortOrder      string `json:"sortOrder"`
						DimensionIndex *int   `json:"dimensionIndex"`
					} `json:"sortSpecs"`
				} `json:"sortRange"`
			} `json:"requests"`
		}
		b, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(b, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sr := req.Requests[0].SortRange
		if _, ok := sr.Range["sheetId"]; !ok {
			http.Error(w, "sheetId not sent", http.StatusBadRequest)
			return
		}
		if sr.SortSpecs[0].DimensionIndex == nil {
			http.Error(w, "dimensionIndex not sent", http.StatusBadRequest)
			return
		}
		f.calls = append(f.calls, "sort "+sr.SortSpecs[0].SortOrder)
		time.Sleep(f.sortDelay)
		if f.failSort {
			http.Error(w, `{"error":{"code":503,"message":"timeout"}}`, http.StatusServiceUnavailable)
			return
		}
		f.order = sr.SortSpecs[0].SortOrder
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"spreadsheetId":"sheet1"}`)
	case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/values/"):
		f.calls = append(f.calls, "get "+r.URL.Path)
		f.reads = append(f.reads, f.order)
		if f.onGet != nil {
			f.onGet()
		}
		if f.failGet {
			http.Error(w, `{"error":{"code":403,"message":"forbidden"}}`, http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, f.values)
	default:
		http.NotFound(w, r)
	}
}

func newTestSheets(t *testing.T, fake *fakeSheets, c SheetsConfig) *Sheets {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	s, err := NewSheets(t.Context(), c,
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSheetsFetch(t *testing.T) {
	t.Parallel()

	fake := &fakeSheets{
		values: `{"range":"Sheet1!A1:D3","majorDimension":"ROWS","values":[["Timestamp","Text"],["1/1/2021","hello",12],["1/2/2021","world","","x"]]}`,
	}
	s := newTestSheets(t, fake, SheetsConfig{SpreadsheetID: "sheet1", SortSheetID: -1})

	rows, err := s.Fetch(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, rows, []format.Row{
		{"Timestamp", "Text"},
		{"1/1/2021", "hello", "12"},
		{"1/2/2021", "world", "", "x"},
	})
	testutil.AssertEqual(t, fake.calls, []string{"get /v4/spreadsheets/sheet1/values/A:D"})
	testutil.AssertEqual(t, s.String(), "sheet1/A:D")
}

func TestSheetsFetchEmpty(t *testing.T) {
	t.Parallel()

	fake := &fakeSheets{values: `{"range":"Sheet1!A1:D1","majorDimension":"ROWS"}`}
	s := newTestSheets(t, fake, SheetsConfig{SpreadsheetID: "sheet1", SortSheetID: -1})
	rows, err := s.Fetch(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(rows), 0)
}

func TestSheetsSort(t *testing.T) {
	t.Parallel()

	for name, failSort := range map[string]bool{
		"ok":              false,
		"failures logged": true,
	} {
		t.Run(name, func(t *testing.T) {
			fake := &fakeSheets{
				values:   `{"values":[["a","b"]]}`,
				failSort: failSort,
			}
			s := newTestSheets(t, fake, SheetsConfig{SpreadsheetID: "sheet1", SortSheetID: 0})
			rows, err := s.Fetch(t.Context())
			if err != nil {
				t.Fatal(err)
			}
			testutil.AssertEqual(t, rows, []format.Row{{"a", "b"}})
			testutil.AssertEqual(t, fake.calls, []string{
				"sort ASCENDING",
				"get /v4/spreadsheets/sheet1/values/A:D",
				"sort DESCENDING",
			})
		})
	}
}

func TestSheetsFetchError(t *testing.T) {
	t.Parallel()

	fake := &fakeSheets{failGet: true}
	s := newTestSheets(t, fake, SheetsConfig{SpreadsheetID: "sheet1", SortSheetID: -1})
	if _, err := s.Fetch(t.Context()); err == nil {
		t.Fatal("want error")
	}
}

func TestSheetsConcurrentFetch(t *testing.T) {
	t.Parallel()

	fake := &fakeSheets{
		values:    `{"values":[["a","b"]]}`,
		sortDelay: 5 * time.Millisecond,
	}
	s := newTestSheets(t, fake, SheetsConfig{SpreadsheetID: "sheet1", SortSheetID: 0})

	// A sync and random commands read the sheet at the same time.
	const fetches = 4
	var wg sync.WaitGroup
	for range fetches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Fetch(t.Context()); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	fake.mu.Lock()
	defer fake.mu.Unlock()
	want := make([]string, fetches)
	for i := range want {
		want[i] = "ASCENDING"
	}
	testutil.AssertEqual(t, fake.reads, want)
	for i := 0; i < len(fake.calls); i += 3 {
		testutil.AssertEqual(t, fake.calls[i:i+3], []string{
			"sort ASCENDING",
			"get /v4/spreadsheets/sheet1/values/A:D",
			"sort DESCENDING",
		})
	}
	testutil.AssertEqual(t, fake.order, "DESCENDING")
}

func TestSheetsRestoresOrderWhenCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	fake := &fakeSheets{
		values: `{"values":[["a","b"]]}`,
		onGet:  cancel,
	}
	s := newTestSheets(t, fake, SheetsConfig{SpreadsheetID: "sheet1", SortSheetID: 0})

	// The read may or may not fail depending on when the cancellation is
	// noticed.
	s.Fetch(ctx)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	testutil.AssertEqual(t, fake.calls[len(fake.calls)-1], "sort DESCENDING")
	testutil.AssertEqual(t, fake.order, "DESCENDING")
}
