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
	"testing"
	"time"

	"github.com/nimbusdb/nimbusdb-go-connector/debug"
	"github.com/nimbusdb/nimbusdb-go-connector/instance"
	"github.com/nimbusdb/nimbusdb-go-connector/internal/adminapi"
	"github.com/nimbusdb/nimbusdb-go-connector/internal/credentials"
	"github.com/nimbusdb/nimbusdb-go-connector/internal/mock"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

func TestRefreshDuration(t *testing.T) {
	now := time.Now()
	tcs := []struct {
		desc   string
		expiry time.Time
		want   time.Duration
	}{
		{
			desc:   "when expiration is greater than 1 hour",
			expiry: now.Add(4 * time.Hour),
			want:   2 * time.Hour,
		},
		{
			desc:   "when expiration is equal to 1 hour",
			expiry: now.Add(time.Hour),
			want:   30 * time.Minute,
		},
		{
			desc:   "when expiration is less than 1 hour, but greater than 4 minutes",
			expiry: now.Add(5 * time.Minute),
			want:   time.Minute,
		},
		{
			desc:   "when expiration is less than 4 minutes",
			expiry: now.Add(3 * time.Minute),
			want:   0,
		},
		{
			desc:   "when expiration is now",
			expiry: now,
			want:   0,
		},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			got := refreshDuration(now, tc.expiry)
			if got.Round(time.Second) != tc.want {
				t.Fatalf("time until refresh: want = %v, got = %v", tc.want, got)
			}
		})
	}
}

type stubTokenSource struct{}

func (stubTokenSource) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "stub-token"}, nil
}

func testURI() instance.URI {
	return instance.URI{Project: "my-project", Region: "my-region", Cluster: "my-cluster", Name: "my-instance"}
}

func TestRefreshAheadCacheConnectionInfo(t *testing.T) {
	ctx := context.Background()
	wantAddr := "10.0.0.5"
	inst := mock.NewFakeInstance(
		"my-project", "my-region", "my-cluster", "my-instance",
		mock.WithPrivateIP(wantAddr),
	)
	hc, url, cleanup := mock.HTTPClient(
		mock.InstanceGetSuccess(inst, 1),
		mock.GenerateClientCertificateSuccess(inst, 1),
	)
	defer func() {
		if err := cleanup(); err != nil {
			t.Fatalf("%v", err)
		}
	}()

	rest, err := adminapi.NewClient(ctx,
		option.WithHTTPClient(hc),
		option.WithEndpoint(url),
		option.WithTokenSource(stubTokenSource{}),
	)
	if err != nil {
		t.Fatalf("adminapi.NewClient: %v", err)
	}
	client := NewClient(rest, credentials.FromTokenSource(stubTokenSource{}), true)
	key, _, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	cache := NewRefreshAheadCache(testURI(), debug.NullLogger{}, client, key)
	defer cache.Close()

	ci, err := cache.ConnectionInfo(ctx)
	if err != nil {
		t.Fatalf("ConnectionInfo: %v", err)
	}
	gotAddr, err := ci.PreferredIP(PrivateIP)
	if err != nil {
		t.Fatalf("PreferredIP: %v", err)
	}
	if gotAddr != wantAddr {
		t.Fatalf("PreferredIP = %v, want %v", gotAddr, wantAddr)
	}
}

func TestRefreshAheadCacheClose(t *testing.T) {
	ctx := context.Background()
	inst := mock.NewFakeInstance("my-project", "my-region", "my-cluster", "my-instance")
	hc, url, cleanup := mock.HTTPClient(
		mock.InstanceGetSuccess(inst, 1),
		mock.GenerateClientCertificateSuccess(inst, 1),
	)
	defer cleanup()

	rest, err := adminapi.NewClient(ctx,
		option.WithHTTPClient(hc),
		option.WithEndpoint(url),
		option.WithTokenSource(stubTokenSource{}),
	)
	if err != nil {
		t.Fatalf("adminapi.NewClient: %v", err)
	}
	client := NewClient(rest, credentials.FromTokenSource(stubTokenSource{}), true)
	key, _, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	cache := NewRefreshAheadCache(testURI(), debug.NullLogger{}, client, key)
	if _, err := cache.ConnectionInfo(ctx); err != nil {
		t.Fatalf("ConnectionInfo: %v", err)
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
