// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package serviceaccount

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.astrophena.name/formbot/internal/testutil"

	"github.com/golang-jwt/jwt/v5"
)

func testKey(t *testing.T, tokenURI string) (*Key, *rsa.PrivateKey) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der := x509.MarshalPKCS1PrivateKey(pk)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})

	b, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"client_email":   "bot@example.iam.gserviceaccount.com",
		"private_key":    string(pemKey),
		"private_key_id": "kid1",
		"token_uri":      tokenURI,
	})
	if err != nil {
		t.Fatal(err)
	}
	k, err := LoadKey(b)
	if err != nil {
		t.Fatal(err)
	}
	return k, pk
}

func TestLoadKey(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		in      string
		wantErr bool
		wantURI string
	}{
		"valid": {
			in:      `{"type":"service_account","client_email":"a@b","private_key":"x"}`,
			wantURI: DefaultTokenURI,
		},
		"wrong type": {
			in:      `{"type":"authorized_user","client_email":"a@b","private_key":"x"}`,
			wantErr: true,
		},
		"missing key": {
			in:      `{"type":"service_account","client_email":"a@b"}`,
			wantErr: true,
		},
		"invalid json": {
			in:      `{`,
			wantErr: true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			k, err := LoadKey([]byte(tc.in))
			if tc.wantErr {
				if err == nil {
					t.Fatal("want error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			testutil.AssertEqual(t, k.TokenURI, tc.wantURI)
		})
	}
}

func TestTokenSource(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var pub *rsa.PublicKey
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.Form.Get("grant_type") != "urn:ietf:params:oauth:grant-type:jwt-bearer" {
			http.Error(w, "bad grant_type", http.StatusBadRequest)
			return
		}
		claims := jwt.MapClaims{}
		if _, err := jwt.ParseWithClaims(r.Form.Get("assertion"), claims, func(*jwt.Token) (any, error) {
			return pub, nil
		}); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if claims["scope"] != "scope1 scope2" {
			http.Error(w, "bad scope", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)

	k, pk := testKey(t, srv.URL)
	pub = &pk.PublicKey

	ts := k.TokenSource(t.Context(), srv.Client(), "scope1", "scope2")
	for range 3 {
		tok, err := ts.Token()
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, tok.AccessToken, "tok")
		if !tok.Valid() {
			t.Fatal("token is not valid")
		}
	}
	testutil.AssertEqual(t, calls.Load(), int32(1))
}

func TestTokenError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	k, _ := testKey(t, srv.URL)
	if _, err := k.Token(t.Context(), srv.Client()); err == nil {
		t.Fatal("want error, got nil")
	}
}
