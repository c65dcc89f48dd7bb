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
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles refresh attempts so that a failure storm on one
// instance cannot hammer the control plane. It wraps a token-bucket
// limiter: tokens accrue lazily (no background timer), Acquire blocks only
// as long as necessary, and concurrent waiters are served in the order
// they arrive.
type RateLimiter struct {
	l *rate.Limiter
}

// NewRateLimiter creates a RateLimiter that allows maxCapacity immediate
// acquisitions and refills one token every interval thereafter.
func NewRateLimiter(maxCapacity int, interval time.Duration) *RateLimiter {
	return &RateLimiter{l: rate.NewLimiter(rate.Every(interval), maxCapacity)}
}

// Acquire blocks until a token is available, or until ctx is done.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	return r.l.Wait(ctx)
}
