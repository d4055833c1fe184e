// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package source

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"go.astrophena.name/formbot/internal/api/google/serviceaccount"
	"go.astrophena.name/formbot/internal/atomicio"
	"go.astrophena.name/formbot/internal/logger"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/sheets/v4"
)

// Scopes requested for the Sheets API. Write access is needed for the
// legacy reorder.
var Scopes = []string{sheets.SpreadsheetsScope}

// ErrNoToken is returned when OAuth client secrets are configured but no
// token was cached yet.
var ErrNoToken = errors.New("no cached OAuth token, run \"formbot login\" first")

// Credentials selects how to authenticate to Google. The first non-empty
// option wins; with none set, Application Default Credentials are used.
type Credentials struct {
	// ServiceAccountKey is a path to a service account JSON key.
	ServiceAccountKey string
	// ClientSecrets is a path to an OAuth client secrets file of a desktop
	// application. Tokens are cached in TokenFile.
	ClientSecrets string
	TokenFile     string
}

// TokenSource returns a token source for the configured credentials.
// httpc is used for token requests and may be nil.
func (c Credentials) TokenSource(ctx context.Context, httpc *http.Client) (oauth2.TokenSource, error) {
	if httpc != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpc)
	}

	switch {
	case c.ServiceAccountKey != "":
		b, err := os.ReadFile(c.ServiceAccountKey)
		if err != nil {
			return nil, err
		}
		key, err := serviceaccount.LoadKey(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.ServiceAccountKey, err)
		}
		return key.TokenSource(ctx, httpc, Scopes...), nil
	case c.ClientSecrets != "":
		cfg, err := c.OAuthConfig()
		if err != nil {
			return nil, err
		}
		return cachedTokenSource(ctx, cfg, c.TokenFile)
	default:
		ts, err := google.DefaultTokenSource(ctx, Scopes...)
		if err != nil {
			return nil, fmt.Errorf("no credentials configured and no default credentials found: %w", err)
		}
		return ts, nil
	}
}

// OAuthConfig reads the client secrets file.
func (c Credentials) OAuthConfig() (*oauth2.Config, error) {
	b, err := os.ReadFile(c.ClientSecrets)
	if err != nil {
		return nil, err
	}
	cfg, err := google.ConfigFromJSON(b, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.ClientSecrets, err)
	}
	return cfg, nil
}

func cachedTokenSource(ctx context.Context, cfg *oauth2.Config, tokenFile string) (oauth2.TokenSource, error) {
	tok, err := readToken(tokenFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, err
	}
	return &savingTokenSource{
		ctx:  ctx,
		src:  cfg.TokenSource(ctx, tok),
		path: tokenFile,
		last: tok.AccessToken,
	}, nil
}

// savingTokenSource writes refreshed tokens back to the cache file.
type savingTokenSource struct {
	ctx  context.Context
	src  oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := writeToken(s.path, tok); err != nil {
			// The token is still usable for this process.
			logger.Get(s.ctx).Warn("saving refreshed token failed", "path", s.path, "err", err)
		} else {
			s.last = tok.AccessToken
		}
	}
	return tok, nil
}

func readToken(path string) (*oauth2.Token, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tok := new(oauth2.Token)
	if err := json.Unmarshal(b, tok); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tok, nil
}

func writeToken(path string, tok *oauth2.Token) error {
	b, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return atomicio.WriteFile(path, b, 0o600)
}

// Login runs the OAuth console flow: it prints the consent URL to w, reads
// the authorization code (or the whole redirect URL) from r and caches the
// resulting token in tokenFile.
func Login(ctx context.Context, cfg *oauth2.Config, tokenFile string, r io.Reader, w io.Writer) error {
	verifier := oauth2.GenerateVerifier()
	state := oauth2.GenerateVerifier()
	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))

	fmt.Fprintf(w, "Open this URL in your browser and allow access:\n\n%s\n\n", authURL)
	fmt.Fprint(w, "Paste the authorization code or the URL you were redirected to: ")

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return fmt.Errorf("reading authorization code: %w", err)
	}
	code, err := parseCode(strings.TrimSpace(line), state)
	if err != nil {
		return err
	}

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return fmt.Errorf("exchanging authorization code: %w", err)
	}
	if err := writeToken(tokenFile, tok); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nToken saved to %s.\n", tokenFile)
	return nil
}

func parseCode(s, state string) (string, error) {
	if s == "" {
		return "", errors.New("empty authorization code")
	}
	if !strings.Contains(s, "://") {
		return s, nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		return "", fmt.Errorf("authorization failed: %s", e)
	}
	if got := q.Get("state"); got != "" && got != state {
		return "", errors.New("state mismatch in redirect URL")
	}
	code := q.Get("code")
	if code == "" {
		return "", errors.New("no code in redirect URL")
	}
	return code, nil
}
