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

// Package direct provides a database/sql driver that dials NimbusDB
// instances through a nimbusdbconn.Dialer, so callers can use the standard
// library's database/sql package (or any package layered on top of it)
// without managing the mTLS handshake themselves.
package direct

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"net"

	nimbusdbconn "github.com/nimbusdb/nimbusdb-go-connector"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
)

// RegisterDriver registers a database/sql driver under name, backed by a
// freshly created nimbusdbconn.Dialer configured with opts. The returned
// cleanup function closes that Dialer, stopping its background refresh
// goroutines; call it when the driver is no longer needed to avoid a
// goroutine leak.
//
// DSNs passed to sql.Open must carry the target instance URI as the host,
// e.g. "host=projects/p/locations/r/clusters/c/instances/i user=... dbname=...".
func RegisterDriver(name string, opts ...nimbusdbconn.Option) (func() error, error) {
	opts = append([]nimbusdbconn.Option{nimbusdbconn.WithDriverName("pgx")}, opts...)
	d, err := nimbusdbconn.NewDialer(context.Background(), opts...)
	if err != nil {
		return func() error { return nil }, err
	}
	sql.Register(name, &sqlDriver{dialer: d})
	return d.Close, nil
}

// sqlDriver implements database/sql/driver.Driver, routing every
// connection's network dial through a shared nimbusdbconn.Dialer.
type sqlDriver struct {
	dialer *nimbusdbconn.Dialer
}

// Open parses name as a libpq-style DSN and returns a driver.Conn whose
// underlying TCP connection was established via the dialer, rather than by
// pgx's own resolver.
func (s *sqlDriver) Open(name string) (driver.Conn, error) {
	cfg, err := pgconn.ParseConfig(name)
	if err != nil {
		return nil, fmt.Errorf("direct: invalid DSN: %w", err)
	}
	instURI := cfg.Host
	// The host is an instance URI, not a resolvable name: pass it through
	// unchanged so that DialFunc is reached.
	cfg.LookupFunc = func(_ context.Context, host string) ([]string, error) {
		return []string{host}, nil
	}
	cfg.DialFunc = func(ctx context.Context, _, _ string) (net.Conn, error) {
		return s.dialer.Dial(ctx, instURI)
	}

	connStr := stdlib.RegisterConnConfig(cfg)
	return stdlib.GetDefaultDriver().Open(connStr)
}
