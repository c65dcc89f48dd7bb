// Copyright 2023 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package direct_test

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"strings"
	"testing"

	nimbusdbconn "github.com/nimbusdb/nimbusdb-go-connector"
	"github.com/nimbusdb/nimbusdb-go-connector/driver/direct"
	"github.com/nimbusdb/nimbusdb-go-connector/internal/mock"
	"golang.org/x/oauth2"
)

type stubTokenSource struct{}

func (stubTokenSource) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "stub-token"}, nil
}

func TestRegisterDriverRoutesThroughDialer(t *testing.T) {
	sentinel := errors.New("dial func was called")
	inst := mock.NewFakeInstance("p", "r", "c", "i")
	mc, url, cleanupAdmin := mock.HTTPClient(
		mock.InstanceGetSuccess(inst, 1),
		mock.GenerateClientCertificateSuccess(inst, 1),
	)
	defer func() {
		if err := cleanupAdmin(); err != nil {
			t.Fatalf("%v", err)
		}
	}()
	cleanup, err := direct.RegisterDriver("nimbusdb-direct-test",
		nimbusdbconn.WithTokenSource(stubTokenSource{}),
		nimbusdbconn.WithHTTPClient(mc),
		nimbusdbconn.WithAdminAPIEndpoint(url),
		nimbusdbconn.WithDialFunc(func(context.Context, string, string) (net.Conn, error) {
			return nil, sentinel
		}),
	)
	if err != nil {
		t.Fatalf("RegisterDriver: %v", err)
	}
	defer func() {
		if err := cleanup(); err != nil {
			t.Fatalf("cleanup: %v", err)
		}
	}()

	db, err := sql.Open("nimbusdb-direct-test",
		"host=projects/p/locations/r/clusters/c/instances/i user=postgres dbname=mydb sslmode=disable")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	err = db.PingContext(context.Background())
	if err == nil {
		t.Fatal("expected Ping to fail via the stub dial func")
	}
	if !strings.Contains(err.Error(), sentinel.Error()) {
		t.Fatalf("expected error to mention %q, got %v", sentinel.Error(), err)
	}
}
