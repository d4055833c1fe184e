// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package request_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"go.astrophena.name/formbot/internal/request"
	"go.astrophena.name/formbot/internal/testutil"
)

func TestMake(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /json", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			http.Error(w, "want JSON", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"message": "success"}`))
	})
	mux.HandleFunc("POST /form", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"message": "` + r.PostForm.Get("key") + `"}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	cases := map[string]struct {
		params  request.Params
		want    string
		wantErr bool
	}{
		"json body": {
			params: request.Params{
				Method: http.MethodPost,
				URL:    ts.URL + "/json",
				Body:   map[string]string{"key": "value"},
			},
			want: `{"message": "success"}`,
		},
		"form body": {
			params: request.Params{
				Method: http.MethodPost,
				URL:    ts.URL + "/form",
				Body:   url.Values{"key": {"form"}},
			},
			want: `{"message": "form"}`,
		},
		"custom HTTP client": {
			params: request.Params{
				Method:     http.MethodPost,
				URL:        ts.URL + "/json",
				HTTPClient: &http.Client{},
				Body:       map[string]string{"key": "value"},
			},
			want: `{"message": "success"}`,
		},
		"not found": {
			params: request.Params{
				Method: http.MethodPost,
				URL:    ts.URL + "/invalid",
			},
			wantErr: true,
		},
		"invalid value for JSON": {
			params: request.Params{
				Method: http.MethodPost,
				URL:    ts.URL + "/json",
				Body:   make(chan int),
			},
			wantErr: true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			resp, err := request.Make[json.RawMessage](context.Background(), tc.params)
			if tc.wantErr {
				if err == nil {
					t.Fatal("Make() expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Make() error = %v", err)
			}
			testutil.AssertEqual(t, string(resp), tc.want)
		})
	}
}

func TestMakeWantStatusCode(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	_, err := request.Make[request.IgnoreResponse](context.Background(), request.Params{
		Method:         http.MethodPut,
		URL:            ts.URL,
		Body:           []byte("raw"),
		WantStatusCode: http.StatusNoContent,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMakeBytes(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		w.Write(b)
	}))
	defer ts.Close()

	b, err := request.Make[request.Bytes](context.Background(), request.Params{
		Method: http.MethodPost,
		URL:    ts.URL,
		Body:   []byte("not json"),
	})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, string(b), "not json")
}

func TestStatusErrorScrubbed(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"parameters":{"retry_after":3}}`))
	}))
	defer ts.Close()

	const secret = "bot123:secret"
	_, err := request.Make[request.IgnoreResponse](context.Background(), request.Params{
		Method:   http.MethodPost,
		URL:      ts.URL + "/" + secret + "/sendMessage",
		Scrubber: strings.NewReplacer(secret, "[EXPUNGED]"),
	})

	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("want *request.StatusError, got %T", err)
	}
	testutil.AssertEqual(t, statusErr.StatusCode, http.StatusTooManyRequests)
	if strings.Contains(err.Error(), secret) {
		t.Fatalf("error message contains secret: %v", err)
	}
}
