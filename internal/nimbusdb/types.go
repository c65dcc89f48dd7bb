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

// Package nimbusdb implements the connection-info cache: the state machine
// that owns certificate/metadata lifecycle and the control-plane client
// used to refresh it.
package nimbusdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nimbusdb/nimbusdb-go-connector/errtype"
)

// Cache is the common interface implemented by RefreshAheadCache,
// LazyRefreshCache, and StaticConnectionInfoCache. The dialer depends only
// on this interface so that RefreshStrategy selection is a matter of
// picking a constructor, not branching on behavior.
type Cache interface {
	ConnectionInfo(ctx context.Context) (ConnectionInfo, error)
	ForceRefresh()
	Close() error
}

var (
	_ Cache = (*RefreshAheadCache)(nil)
	_ Cache = (*LazyRefreshCache)(nil)
	_ Cache = (*StaticConnectionInfoCache)(nil)
)

// refreshBuffer is the safety margin subtracted from certificate expiration
// when deciding whether cached connection info is still usable, and the
// floor below which a refresh-ahead cache refreshes immediately instead of
// scheduling ahead of time.
const refreshBuffer = 4 * time.Minute

// IPType enumerates the network paths an instance may expose.
type IPType string

const (
	// PrivateIP selects the instance's private IP address.
	PrivateIP IPType = "PRIVATE"
	// PublicIP selects the instance's public IP address.
	PublicIP IPType = "PUBLIC"
	// PSC selects the instance's Private Service Connect DNS name.
	PSC IPType = "PSC"
)

// ParseIPType converts a case-insensitive string into an IPType.
func ParseIPType(s string) (IPType, error) {
	switch strings.ToUpper(s) {
	case string(PrivateIP):
		return PrivateIP, nil
	case string(PublicIP):
		return PublicIP, nil
	case string(PSC):
		return PSC, nil
	default:
		return "", errtype.NewConfigError(
			fmt.Sprintf(
				"Incorrect value for ip_type, got '%s'. Want one of: 'PUBLIC', 'PRIVATE', 'PSC'.",
				s,
			),
			"",
		)
	}
}

// RefreshStrategy selects which caching strategy a connector uses to keep
// connection info current.
type RefreshStrategy string

const (
	// RefreshBackground uses the refresh-ahead cache.
	RefreshBackground RefreshStrategy = "BACKGROUND"
	// RefreshLazy uses the on-demand, lazy cache.
	RefreshLazy RefreshStrategy = "LAZY"
)

// ParseRefreshStrategy converts a case-insensitive string into a
// RefreshStrategy.
func ParseRefreshStrategy(s string) (RefreshStrategy, error) {
	switch strings.ToUpper(s) {
	case string(RefreshBackground):
		return RefreshBackground, nil
	case string(RefreshLazy):
		return RefreshLazy, nil
	default:
		return "", errtype.NewConfigError(
			fmt.Sprintf(
				"Incorrect value for refresh_strategy, got '%s'. Want one of: 'BACKGROUND', 'LAZY'.",
				s,
			),
			"",
		)
	}
}
