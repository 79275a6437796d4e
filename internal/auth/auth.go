// Copyright 2026 Zerobus Wrapper Authors. All Rights Reserved.
//
// Created: August 2026
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth implements the OAuth2 client-credentials token source used
// to authenticate stream creation. Tokens are cached until shortly before
// expiry; an Authentication-classified upstream failure entitles the
// caller to exactly one forced refresh via Invalidate.
package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"zerobus/internal/config"
	"zerobus/zerr"
)

// expirySlack is subtracted from the reported token lifetime so we refresh
// before the server-side deadline.
const expirySlack = 30 * time.Second

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   uint64 `json:"expires_in"`
	Scope       string `json:"scope"`
}

// TokenSource fetches and caches OAuth2 client-credentials tokens from the
// Unity Catalog token endpoint.
type TokenSource struct {
	client       *http.Client
	tokenURL     string
	clientID     config.Secret
	clientSecret config.Secret

	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

// NewTokenSource builds a token source for the given issuer and credentials.
func NewTokenSource(unityCatalogURL string, clientID, clientSecret config.Secret) *TokenSource {
	base := strings.TrimSuffix(unityCatalogURL, "/")
	return &TokenSource{
		client:       &http.Client{Timeout: 30 * time.Second},
		tokenURL:     base + "/oidc/v1/token",
		clientID:     clientID,
		clientSecret: clientSecret,
		now:          time.Now,
	}
}

// Token returns a cached token while it remains valid, otherwise performs
// the client-credentials exchange. Failures carry the TokenRefresh kind
// and never include the credentials.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token != "" && ts.now().Before(ts.expires) {
		return ts.token, nil
	}
	return ts.refreshLocked(ctx)
}

// Invalidate drops the cached token so the next Token call hits the
// endpoint. Called after the upstream rejects a credential.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.mu.Unlock()
}

// Refresh forces a new token, bypassing the cache.
func (ts *TokenSource) Refresh(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = ""
	return ts.refreshLocked(ctx)
}

func (ts *TokenSource) refreshLocked(ctx context.Context) (string, error) {
	const op = "refresh token"

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {ts.clientID.Reveal()},
		"client_secret": {ts.clientSecret.Reveal()},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", zerr.Wrap(zerr.TokenRefresh, op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", zerr.Wrapf(zerr.TokenRefresh, op, err, "token endpoint %s", ts.tokenURL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", zerr.Wrap(zerr.TokenRefresh, op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", zerr.New(zerr.TokenRefresh, op,
			"token endpoint %s returned status %d: %s", ts.tokenURL, resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", zerr.Wrapf(zerr.TokenRefresh, op, err, "parse token response")
	}
	if tr.AccessToken == "" {
		return "", zerr.New(zerr.TokenRefresh, op, "token endpoint %s returned an empty access_token", ts.tokenURL)
	}

	ts.token = tr.AccessToken
	if tr.ExpiresIn > 0 {
		lifetime := time.Duration(tr.ExpiresIn) * time.Second
		if lifetime > expirySlack {
			lifetime -= expirySlack
		}
		ts.expires = ts.now().Add(lifetime)
	} else {
		// No lifetime reported: treat as single-use.
		ts.expires = ts.now()
	}
	return ts.token, nil
}
