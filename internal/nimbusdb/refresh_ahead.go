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

package nimbusdb

import (
	"context"
	"crypto/rsa"
	"sync"
	"time"

	"github.com/nimbusdb/nimbusdb-go-connector/debug"
	"github.com/nimbusdb/nimbusdb-go-connector/errtype"
	"github.com/nimbusdb/nimbusdb-go-connector/instance"
)

// refreshOperation is a pending or completed result of a single refresh. It
// is a one-shot future: many callers may await the same refreshOperation
// concurrently, and it is never mutated after its ready channel closes.
type refreshOperation struct {
	result ConnectionInfo
	err    error

	timer *time.Timer
	ready chan struct{}
}

// Cancel prevents the refreshOperation from starting, if it hasn't started
// yet. It returns true if the timer was stopped before it fired.
func (r *refreshOperation) Cancel() bool {
	return r.timer.Stop()
}

// Wait blocks until the refreshOperation completes or ctx is done.
func (r *refreshOperation) Wait(ctx context.Context) (ConnectionInfo, error) {
	select {
	case <-r.ready:
		return r.result, r.err
	case <-ctx.Done():
		return ConnectionInfo{}, ctx.Err()
	}
}

// IsValid reports whether this result has completed, succeeded, and its
// certificate has not yet expired.
func (r *refreshOperation) IsValid() bool {
	select {
	default:
		return false
	case <-r.ready:
		if r.err != nil {
			return false
		}
		return r.result.Valid(time.Now())
	}
}

// refreshDuration computes how long to wait before starting the next
// refresh, given the current certificate's expiration:
//
//   - if ample time remains (>= 1 hour), refresh at the half-life
//   - otherwise, refresh refreshBuffer before expiry
//   - if that point has already passed, refresh immediately
func refreshDuration(now, expiration time.Time) time.Duration {
	d := expiration.Sub(now)
	if d < time.Hour {
		if d < refreshBuffer {
			return 0
		}
		return d - refreshBuffer
	}
	return d / 2
}

// RefreshAheadCache keeps a valid ConnectionInfo available at all times by
// scheduling the next refresh well before the current certificate expires,
// so that ConnectionInfo is non-blocking in steady state.
type RefreshAheadCache struct {
	uri     instance.URI
	logger  debug.Logger
	client  *Client
	key     *rsa.PrivateKey
	limiter *RateLimiter

	mu sync.Mutex
	// cur always references the newest successful refresh (or the initial
	// pending refresh). next always references the scheduled upcoming
	// refresh.
	cur  *refreshOperation
	next *refreshOperation
	// refreshInProgress is set for the duration of the inner
	// GetConnectionInfo call and cleared on every exit path, including
	// cancellation.
	refreshInProgress bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRefreshAheadCache initializes a RefreshAheadCache and immediately
// schedules the initial refresh. The first call to ConnectionInfo blocks
// until that refresh completes; subsequent calls in steady state do not.
func NewRefreshAheadCache(
	uri instance.URI, logger debug.Logger, client *Client, key *rsa.PrivateKey,
) *RefreshAheadCache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &RefreshAheadCache{
		uri:     uri,
		logger:  logger,
		client:  client,
		key:     key,
		limiter: NewRateLimiter(2, 30*time.Second),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.mu.Lock()
	c.cur = c.schedule(0)
	c.next = c.cur
	c.mu.Unlock()
	return c
}

// schedule creates a background task that sleeps for delay, acquires a
// rate-limiter token, performs a refresh, validates the result, and
// reschedules the next refresh.
func (c *RefreshAheadCache) schedule(delay time.Duration) *refreshOperation {
	op := &refreshOperation{ready: make(chan struct{})}
	op.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.refreshInProgress = true
		c.mu.Unlock()

		res, err := c.performRefresh()

		c.mu.Lock()
		c.refreshInProgress = false
		op.result, op.err = res, err
		close(op.ready)

		select {
		case <-c.ctx.Done():
			c.mu.Unlock()
			return
		default:
		}

		if err != nil {
			c.logger.Debugf("[%v] refresh failed, rescheduling immediately: %v", c.uri.String(), err)
			c.next = c.schedule(0)
			if !c.cur.IsValid() {
				c.cur = op
			}
			c.mu.Unlock()
			return
		}

		c.cur = op
		d := refreshDuration(time.Now().UTC(), res.Expiration)
		c.logger.Debugf("[%v] refresh succeeded, next refresh in %v", c.uri.String(), d)
		c.next = c.schedule(d)
		c.mu.Unlock()
	})
	return op
}

// performRefresh acquires a rate-limiter token and calls the control-plane
// client. A result whose certificate is already expired is treated as a
// RefreshError.
func (c *RefreshAheadCache) performRefresh() (ConnectionInfo, error) {
	if err := c.limiter.Acquire(c.ctx); err != nil {
		return ConnectionInfo{}, err
	}
	ci, err := c.client.GetConnectionInfo(c.ctx, c.uri, c.key)
	if err != nil {
		return ConnectionInfo{}, err
	}
	if !ci.Valid(time.Now()) {
		return ConnectionInfo{}, errtype.NewRefreshError(
			"Invalid refresh operation. Certificate appears to be expired.",
			c.uri.String(), nil,
		)
	}
	return ci, nil
}

// ConnectionInfo returns the most recently refreshed ConnectionInfo,
// blocking if the first refresh has not yet completed.
func (c *RefreshAheadCache) ConnectionInfo(ctx context.Context) (ConnectionInfo, error) {
	c.mu.Lock()
	cur := c.cur
	c.mu.Unlock()
	return cur.Wait(ctx)
}

// ForceRefresh cancels the scheduled next refresh (if it hasn't started)
// and schedules an immediate one. If the current result is no longer
// valid, future ConnectionInfo calls block on the new refresh rather than
// returning stale data.
func (c *RefreshAheadCache) ForceRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.refreshInProgress && c.next.Cancel() {
		c.next = c.schedule(0)
	}
	if !c.cur.IsValid() {
		c.cur = c.next
	}
}

// Close stops the refresh cycle: it cancels both outstanding futures and
// the cache's context, preventing any further control-plane calls.
func (c *RefreshAheadCache) Close() error {
	c.mu.Lock()
	c.cur.Cancel()
	c.next.Cancel()
	c.mu.Unlock()
	c.cancel()
	return nil
}
