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
	"testing"

	"github.com/nimbusdb/nimbusdb-go-connector/debug"
	"github.com/nimbusdb/nimbusdb-go-connector/internal/adminapi"
	"github.com/nimbusdb/nimbusdb-go-connector/internal/credentials"
	"github.com/nimbusdb/nimbusdb-go-connector/internal/mock"
	"google.golang.org/api/option"
)

func TestLazyRefreshCacheConnectionInfo(t *testing.T) {
	ctx := context.Background()
	wantAddr := "10.0.0.9"
	inst := mock.NewFakeInstance(
		"my-project", "my-region", "my-cluster", "my-instance",
		mock.WithPrivateIP(wantAddr),
	)
	hc, url, cleanup := mock.HTTPClient(
		mock.InstanceGetSuccess(inst, 2),
		mock.GenerateClientCertificateSuccess(inst, 2),
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

	cache := NewLazyRefreshCache(testURI(), debug.NullLogger{}, client, key)
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

	// A second call without ForceRefresh should reuse the cached result,
	// not consume the second mocked response.
	if _, err := cache.ConnectionInfo(ctx); err != nil {
		t.Fatalf("second ConnectionInfo: %v", err)
	}

	cache.ForceRefresh()
	if _, err := cache.ConnectionInfo(ctx); err != nil {
		t.Fatalf("ConnectionInfo after ForceRefresh: %v", err)
	}
}
