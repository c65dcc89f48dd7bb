// Copyright 2024 Google LLC
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

package nimbusdb

import (
	"context"
	"crypto/rsa"
	"sync"
	"time"

	"github.com/nimbusdb/nimbusdb-go-connector/debug"
	"github.com/nimbusdb/nimbusdb-go-connector/instance"
)

// LazyRefreshCache refreshes connection info only when a caller asks for it
// and the cached certificate is at or past its refresh buffer, or a caller
// has separately called ForceRefresh. Unlike RefreshAheadCache, it does no
// work in the background: idle instances cost nothing until dialed.
type LazyRefreshCache struct {
	uri    instance.URI
	logger debug.Logger
	client *Client
	key    *rsa.PrivateKey

	mu           sync.Mutex
	needsRefresh bool
	cached       ConnectionInfo
}

// NewLazyRefreshCache initializes a new LazyRefreshCache. Unlike
// RefreshAheadCache, construction does no network I/O; the first refresh
// happens on the first call to ConnectionInfo.
func NewLazyRefreshCache(
	uri instance.URI, logger debug.Logger, client *Client, key *rsa.PrivateKey,
) *LazyRefreshCache {
	return &LazyRefreshCache{
		uri:    uri,
		logger: logger,
		client: client,
		key:    key,
	}
}

// ConnectionInfo returns connection info for the associated instance. New
// connection info is retrieved under two conditions:
//   - the current connection info's certificate is within refreshBuffer of
//     expiring (or the cache has never been populated), or
//   - a caller has separately called ForceRefresh.
func (c *LazyRefreshCache) ConnectionInfo(ctx context.Context) (ConnectionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	exp := c.cached.Expiration.UTC().Add(-refreshBuffer)
	if !c.needsRefresh && now.Before(exp) {
		c.logger.Debugf("[%v] connection info is still valid, using cached info", c.uri.String())
		return c.cached, nil
	}

	c.logger.Debugf("[%v] connection info refresh operation started", c.uri.String())
	ci, err := c.client.GetConnectionInfo(ctx, c.uri, c.key)
	if err != nil {
		c.logger.Debugf("[%v] connection info refresh operation failed, err = %v", c.uri.String(), err)
		return ConnectionInfo{}, err
	}
	c.logger.Debugf("[%v] current certificate expiration = %v", c.uri.String(), ci.Expiration.Format(time.RFC3339))

	c.cached = ci
	c.needsRefresh = false
	return ci, nil
}

// ForceRefresh invalidates the cache and configures the next call to
// ConnectionInfo to retrieve fresh connection info.
func (c *LazyRefreshCache) ForceRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.needsRefresh = true
}

// Close is a no-op, provided purely for a consistent interface with
// RefreshAheadCache and StaticConnectionInfoCache.
func (c *LazyRefreshCache) Close() error {
	return nil
}
