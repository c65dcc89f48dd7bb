// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package credentials defines the OAuth2 credential capability the
// control-plane client depends on, decoupling it from any particular
// credential-discovery mechanism.
package credentials

import (
	"context"
	"sync"

	"golang.org/x/oauth2"
)

// TokenState describes how trustworthy a credential's current token is.
type TokenState int

const (
	// Fresh indicates the token is valid and does not need a refresh
	// before use.
	Fresh TokenState = iota
	// Stale indicates the token is at or near expiry and a synchronous
	// refresh should occur before use.
	Stale
)

// Credentials is the capability the control-plane client depends on. It is
// satisfied by a thin wrapper around an oauth2.TokenSource; OS credential
// discovery itself is assumed available as an external collaborator.
type Credentials interface {
	// Token returns the current access token without forcing a refresh.
	Token(ctx context.Context) (*oauth2.Token, error)
	// TokenState reports whether the current token is Fresh or Stale.
	TokenState() TokenState
	// Refresh synchronously obtains a new token.
	Refresh(ctx context.Context) error
}

// FromTokenSource adapts an oauth2.TokenSource into Credentials.
func FromTokenSource(ts oauth2.TokenSource) Credentials {
	return &tokenSourceCredentials{ts: ts}
}

type tokenSourceCredentials struct {
	mu  sync.Mutex
	ts  oauth2.TokenSource
	cur *oauth2.Token
}

func (c *tokenSourceCredentials) Token(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil && c.cur.Valid() {
		return c.cur, nil
	}
	tok, err := c.ts.Token()
	if err != nil {
		return nil, err
	}
	c.cur = tok
	return tok, nil
}

func (c *tokenSourceCredentials) TokenState() TokenState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil && c.cur.Valid() {
		return Fresh
	}
	return Stale
}

func (c *tokenSourceCredentials) Refresh(ctx context.Context) error {
	tok, err := c.ts.Token()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.cur = tok
	c.mu.Unlock()
	return nil
}

// EnsureFresh checks the credential's token state and performs a
// synchronous refresh whenever it is not Fresh. Any state other than Fresh
// -- including Stale -- is treated as requiring a refresh, which is
// stricter than refreshing only on outright invalidity.
func EnsureFresh(ctx context.Context, c Credentials) error {
	if c.TokenState() == Fresh {
		return nil
	}
	return c.Refresh(ctx)
}
