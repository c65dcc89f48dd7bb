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

package nimbusdbconn

import (
	"context"
	"crypto/rsa"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/nimbusdb/nimbusdb-go-connector/debug"
	"github.com/nimbusdb/nimbusdb-go-connector/errtype"
	"github.com/nimbusdb/nimbusdb-go-connector/internal/nimbusdb"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	apiopt "google.golang.org/api/option"
)

// CloudPlatformScope is the default OAuth2 scope set on the control-plane
// API client.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// An Option configures a Dialer.
type Option func(d *dialerConfig)

type dialerConfig struct {
	rsaKey          *rsa.PrivateKey
	adminOpts       []apiopt.ClientOption
	dialOpts        []DialOption
	dialFunc        func(ctx context.Context, network, addr string) (net.Conn, error)
	tokenSource     oauth2.TokenSource
	userAgents      []string
	useIAMAuthN     bool
	refreshStrategy nimbusdb.RefreshStrategy
	staticInfo      io.Reader
	logger          debug.Logger
	err             error
}

// WithOptions turns a list of Options into a single Option.
func WithOptions(opts ...Option) Option {
	return func(d *dialerConfig) {
		for _, opt := range opts {
			opt(d)
		}
	}
}

// WithCredentialsFile returns an Option that specifies a service account or
// refresh token JSON credentials file to use for authentication.
func WithCredentialsFile(filename string) Option {
	return func(d *dialerConfig) {
		b, err := os.ReadFile(filename)
		if err != nil {
			d.err = errtype.NewConfigError(err.Error(), "n/a")
			return
		}
		opt := WithCredentialsJSON(b)
		opt(d)
	}
}

// WithCredentialsJSON returns an Option that specifies service account or
// refresh token JSON credentials to use for authentication.
func WithCredentialsJSON(b []byte) Option {
	return func(d *dialerConfig) {
		c, err := google.CredentialsFromJSON(context.Background(), b, CloudPlatformScope)
		if err != nil {
			d.err = errtype.NewConfigError(err.Error(), "n/a")
			return
		}
		d.tokenSource = c.TokenSource
		d.adminOpts = append(d.adminOpts, apiopt.WithCredentials(c))
	}
}

// WithTokenSource returns an Option that specifies an OAuth2 token source to
// use for authentication.
func WithTokenSource(s oauth2.TokenSource) Option {
	return func(d *dialerConfig) {
		d.tokenSource = s
		d.adminOpts = append(d.adminOpts, apiopt.WithTokenSource(s))
	}
}

// WithUserAgent returns an Option that appends to the User-Agent header
// sent with every control-plane request and metadata exchange.
func WithUserAgent(ua string) Option {
	return func(d *dialerConfig) {
		d.userAgents = append(d.userAgents, ua)
	}
}

// supportedDriverNames enumerates the database driver integrations this
// connector ships. Only the synchronous pgx/database-sql integration
// (driver/direct) exists today, so it is the only name accepted.
var supportedDriverNames = map[string]bool{
	"pgx": true,
}

// WithDriverName returns an Option that identifies which database driver
// integration is connecting, so it can be recorded in the User-Agent
// header. NewDialer fails with a ConfigError if name does not name a
// supported driver.
func WithDriverName(name string) Option {
	return func(d *dialerConfig) {
		if !supportedDriverNames[name] {
			d.err = errtype.NewConfigError(
				fmt.Sprintf("Driver '%s' is not a supported database driver.", name),
				"",
			)
			return
		}
		d.userAgents = append(d.userAgents, "+"+name)
	}
}

// WithRSAKey returns an Option that specifies the rsa.PrivateKey used to
// represent the client across every instance this Dialer manages.
func WithRSAKey(k *rsa.PrivateKey) Option {
	return func(d *dialerConfig) {
		d.rsaKey = k
	}
}

// WithDefaultDialOptions returns an Option that specifies DialOptions to be
// applied by default to every call to Dial.
func WithDefaultDialOptions(opts ...DialOption) Option {
	return func(d *dialerConfig) {
		d.dialOpts = append(d.dialOpts, opts...)
	}
}

// WithHTTPClient configures the underlying control-plane API client with
// the provided HTTP client. Generally unnecessary except for advanced
// use-cases (custom transports, request signing, test doubles).
func WithHTTPClient(client *http.Client) Option {
	return func(d *dialerConfig) {
		d.adminOpts = append(d.adminOpts, apiopt.WithHTTPClient(client))
	}
}

// WithAdminAPIEndpoint configures the underlying control-plane API client to
// use the provided URL instead of the production endpoint.
func WithAdminAPIEndpoint(url string) Option {
	return func(d *dialerConfig) {
		d.adminOpts = append(d.adminOpts, apiopt.WithEndpoint(url))
	}
}

// WithDialFunc configures the function used to connect to the address on
// the named network for every call to Dial. To configure a dial function
// for a single call, use WithOneOffDialFunc.
func WithDialFunc(dial func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return func(d *dialerConfig) {
		d.dialFunc = dial
	}
}

// WithIAMAuthN enables automatic IAM authentication. If no token source has
// been configured (WithTokenSource, WithCredentialsFile, etc.), the dialer
// falls back to Application Default Credentials.
func WithIAMAuthN() Option {
	return func(d *dialerConfig) {
		d.useIAMAuthN = true
	}
}

// WithLazyRefresh configures the Dialer to refresh connection info only
// when a caller dials and the cached certificate is within its refresh
// buffer of expiring, instead of maintaining a continuous background
// refresh cycle. Prefer this in environments where background goroutines
// may not run reliably, such as serverless compute.
func WithLazyRefresh() Option {
	return func(d *dialerConfig) {
		d.refreshStrategy = nimbusdb.RefreshLazy
	}
}

// WithStaticConnectionInfo configures the Dialer to serve connection info
// parsed once from r instead of contacting the control plane. This is a
// *dev-only* option: the embedded client certificate is never refreshed
// and will eventually expire.
func WithStaticConnectionInfo(r io.Reader) Option {
	return func(d *dialerConfig) {
		d.staticInfo = r
	}
}

// WithLogger configures a logger that receives debug output describing
// cache and dial activity.
func WithLogger(l debug.Logger) Option {
	return func(d *dialerConfig) {
		d.logger = l
	}
}

// A DialOption configures an individual call to Dial.
type DialOption func(cfg *dialCfg)

type dialCfg struct {
	ipType       nimbusdb.IPType
	tcpKeepAlive time.Duration
	dialFunc     func(ctx context.Context, network, addr string) (net.Conn, error)
}

// DialOptions turns a list of DialOptions into a single DialOption.
func DialOptions(opts ...DialOption) DialOption {
	return func(cfg *dialCfg) {
		for _, opt := range opts {
			opt(cfg)
		}
	}
}

// WithIPType returns a DialOption that selects which of the instance's
// registered addresses Dial connects to.
func WithIPType(t nimbusdb.IPType) DialOption {
	return func(cfg *dialCfg) {
		cfg.ipType = t
	}
}

// WithPrivateIP is shorthand for WithIPType(nimbusdb.PrivateIP), the
// default.
func WithPrivateIP() DialOption {
	return WithIPType(nimbusdb.PrivateIP)
}

// WithPublicIP is shorthand for WithIPType(nimbusdb.PublicIP).
func WithPublicIP() DialOption {
	return WithIPType(nimbusdb.PublicIP)
}

// WithPSC is shorthand for WithIPType(nimbusdb.PSC).
func WithPSC() DialOption {
	return WithIPType(nimbusdb.PSC)
}

// WithOneOffDialFunc configures the dial function for a single call to
// Dial. To configure a dial function across every call, use WithDialFunc.
func WithOneOffDialFunc(dial func(ctx context.Context, network, addr string) (net.Conn, error)) DialOption {
	return func(cfg *dialCfg) {
		cfg.dialFunc = dial
	}
}

// WithTCPKeepAlive returns a DialOption that sets the TCP keep-alive period
// on the connection returned by Dial.
func WithTCPKeepAlive(d time.Duration) DialOption {
	return func(cfg *dialCfg) {
		cfg.tcpKeepAlive = d
	}
}
