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
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync"
	"time"

	"github.com/nimbusdb/nimbusdb-go-connector/errtype"
	"github.com/nimbusdb/nimbusdb-go-connector/instance"
)

// ConnectionInfo is an immutable snapshot produced by a single refresh. It
// holds everything a driver needs to open a secure connection to a
// NimbusDB instance, except the final TCP dial itself.
type ConnectionInfo struct {
	Instance instance.URI

	// CertChain holds [client, intermediate, root], in that order.
	CertChain []*x509.Certificate
	// CACert is the certificate authority used to verify the server.
	CACert *x509.Certificate
	// PrivateKey is a reference to the connector's shared private key, not
	// a copy.
	PrivateKey *rsa.PrivateKey
	// IPAddrs maps IPType to the instance's address for that type. An
	// absent entry or an empty string both mean "not available".
	IPAddrs map[IPType]string
	// Expiration is the client certificate's NotAfter, in UTC.
	Expiration time.Time

	tlsOnce sync.Once
	tlsConf *tls.Config
}

// ClientCert returns the leaf client certificate, i.e. CertChain[0].
func (c *ConnectionInfo) ClientCert() *x509.Certificate {
	if len(c.CertChain) == 0 {
		return nil
	}
	return c.CertChain[0]
}

// PreferredIP returns the address registered for ipType, or an
// IPTypeNotFoundError if none is available.
func (c *ConnectionInfo) PreferredIP(ipType IPType) (string, error) {
	addr, ok := c.IPAddrs[ipType]
	if !ok || addr == "" {
		return "", errtype.NewIPTypeNotFoundError(c.Instance.String(), string(ipType))
	}
	return addr, nil
}

// BuildTLSConfig lazily constructs the *tls.Config used to dial the
// instance. It is idempotent: the first call builds and caches the config;
// subsequent calls return the cached value.
func (c *ConnectionInfo) BuildTLSConfig() *tls.Config {
	c.tlsOnce.Do(func() {
		pool := x509.NewCertPool()
		pool.AddCert(c.CACert)

		var rawChain [][]byte
		if n := len(c.CertChain); n > 0 {
			for _, cert := range c.CertChain[:n-1] {
				rawChain = append(rawChain, cert.Raw)
			}
		}
		var leaf *x509.Certificate
		if len(c.CertChain) > 0 {
			leaf = c.CertChain[0]
		}

		c.tlsConf = &tls.Config{
			// Hostname verification is intentionally disabled pending DNS
			// name rollout across every IP path (private, public, PSC); the
			// peer certificate is still validated against CACert below. A
			// future revision will enable full hostname verification.
			InsecureSkipVerify: true,
			VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
				if len(rawCerts) == 0 {
					return errtype.NewHandshakeError(
						"server presented no certificate", c.Instance.String(), nil,
					)
				}
				server, err := x509.ParseCertificate(rawCerts[0])
				if err != nil {
					return errtype.NewHandshakeError(
						"failed to parse server certificate", c.Instance.String(), err,
					)
				}
				if _, err := server.Verify(x509.VerifyOptions{Roots: pool}); err != nil {
					return errtype.NewHandshakeError(
						"failed to verify server certificate", c.Instance.String(), err,
					)
				}
				return nil
			},
			Certificates: []tls.Certificate{
				{
					Certificate: rawChain,
					PrivateKey:  c.PrivateKey,
					Leaf:        leaf,
				},
			},
			RootCAs:    pool,
			MinVersion: tls.VersionTLS13,
		}
	})
	return c.tlsConf
}

// Valid reports whether now is strictly before the certificate's
// expiration.
func (c *ConnectionInfo) Valid(now time.Time) bool {
	return now.UTC().Before(c.Expiration.UTC())
}

func (c *ConnectionInfo) String() string {
	return fmt.Sprintf("ConnectionInfo{instance: %v, expires: %v}", c.Instance, c.Expiration)
}
