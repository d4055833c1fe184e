// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package serviceaccount provides functions for working with Google service accounts.
//
// See https://developers.google.com/identity/protocols/oauth2/service-account.
package serviceaccount

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.astrophena.name/formbot/internal/request"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// LoadKey loads service account key from JSON byte slice.
func LoadKey(b []byte) (*Key, error) {
	var key Key
	if err := json.Unmarshal(b, &key); err != nil {
		return nil, err
	}
	if key.Type != "" && key.Type != "service_account" {
		return nil, errors.New("serviceaccount: key type is " + key.Type + ", not service_account")
	}
	if key.ClientEmail == "" || key.PrivateKey == "" {
		return nil, errors.New("serviceaccount: key is missing client_email or private_key")
	}
	if key.TokenURI == "" {
		key.TokenURI = DefaultTokenURI
	}
	return &key, nil
}

// DefaultTokenURI is used when the key doesn't specify token_uri.
const DefaultTokenURI = "https://oauth2.googleapis.com/token"

// Key represents a service account key.
type Key struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	ClientID     string `json:"client_id"`
	AuthURI      string `json:"auth_uri"`
	TokenURI     string `json:"token_uri"`
}

// Token obtains an access token for the service account identified by this
// key that is valid for one hour.
func (k *Key) Token(ctx context.Context, client *http.Client, scopes ...string) (*oauth2.Token, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(k.PrivateKey))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   k.ClientEmail,
		"sub":   k.ClientEmail,
		"aud":   k.TokenURI,
		"scope": strings.Join(scopes, " "),
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})
	if k.PrivateKeyID != "" {
		tok.Header["kid"] = k.PrivateKeyID
	}
	sig, err := tok.SignedString(key)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Add("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	params.Add("assertion", sig)

	type response struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}

	resp, err := request.Make[response](ctx, request.Params{
		Method:     http.MethodPost,
		URL:        k.TokenURI,
		Body:       params,
		HTTPClient: client,
	})
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, errors.New("serviceaccount: token endpoint returned no access_token")
	}

	t := &oauth2.Token{
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
	}
	if resp.ExpiresIn > 0 {
		t.Expiry = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return t, nil
}

// TokenSource returns an [oauth2.TokenSource] that mints tokens with this key
// and reuses them until they expire.
func (k *Key) TokenSource(ctx context.Context, client *http.Client, scopes ...string) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &tokenSource{ctx: ctx, key: k, client: client, scopes: scopes})
}

type tokenSource struct {
	ctx    context.Context
	key    *Key
	client *http.Client
	scopes []string
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	return ts.key.Token(ts.ctx, ts.client, ts.scopes...)
}
