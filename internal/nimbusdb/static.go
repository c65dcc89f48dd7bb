// Copyright 2025 Google LLC
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
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nimbusdb/nimbusdb-go-connector/instance"
)

// staticInstanceInfo is one instance's entry in the static connection info
// JSON document.
type staticInstanceInfo struct {
	IPAddress       string `json:"ipAddress"`
	PublicIPAddress string `json:"publicIpAddress"`
	PSCInstanceConfig struct {
		PSCDNSName string `json:"pscDnsName"`
	} `json:"pscInstanceConfig"`
	PemCertificateChain []string `json:"pemCertificateChain"`
	CACert              string   `json:"caCert"`
}

// staticDoc is the top-level shape of the static connection info JSON
// document. It supports multiple instances in a single document, keyed by
// canonical instance URI, alongside one shared key pair.
type staticDoc struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// StaticConnectionInfoCache always returns a pre-defined ConnectionInfo
// parsed once from a JSON document, never refreshing it. This is a
// *dev-only* cache: it will produce failed connections once the embedded
// client certificate expires, and its document format is subject to
// breaking changes. The JSON format supports multiple instances in a
// single document, regardless of cluster.
//
// The document holds:
//
//	{
//	  "publicKey": "<PEM encoded public RSA key>",
//	  "privateKey": "<PEM encoded private RSA key>",
//	  "projects/<PROJECT>/locations/<REGION>/clusters/<CLUSTER>/instances/<INSTANCE>": {
//	    "ipAddress": "<private IP address>",
//	    "publicIpAddress": "<public IP address>",
//	    "pscInstanceConfig": {"pscDnsName": "<PSC DNS name>"},
//	    "pemCertificateChain": ["<client cert>", "<intermediate cert>", "<CA cert>"],
//	    "caCert": "<CA cert>"
//	  }
//	}
type StaticConnectionInfoCache struct {
	info ConnectionInfo
}

// NewStaticConnectionInfoCache parses a static connection info document for
// uri from r. The returned ConnectionInfo carries a fixed one-hour
// expiration from the moment of parsing, since the document itself does not
// describe the certificate's actual expiration.
func NewStaticConnectionInfoCache(uri instance.URI, r io.Reader) (*StaticConnectionInfoCache, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read static connection info: %w", err)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("failed to parse static connection info: %w", err)
	}

	var doc staticDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse static connection info: %w", err)
	}

	key := uri.CanonicalURI()
	entryRaw, ok := top[key]
	if !ok {
		return nil, fmt.Errorf("static connection info has no entry for %q", key)
	}
	var entry staticInstanceInfo
	if err := json.Unmarshal(entryRaw, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse static connection info entry for %q: %w", key, err)
	}

	privKey, err := parsePrivateKeyPEM(doc.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse static private key: %w", err)
	}

	ca, err := parseCert(entry.CACert)
	if err != nil {
		return nil, fmt.Errorf("failed to parse static CA certificate: %w", err)
	}
	if len(entry.PemCertificateChain) == 0 {
		return nil, fmt.Errorf("static connection info entry for %q has an empty certificate chain", key)
	}
	chain := make([]*x509.Certificate, 0, len(entry.PemCertificateChain))
	for _, pemCert := range entry.PemCertificateChain {
		cert, err := parseCert(pemCert)
		if err != nil {
			return nil, fmt.Errorf("failed to parse static certificate chain: %w", err)
		}
		chain = append(chain, cert)
	}

	ips := map[IPType]string{
		PrivateIP: entry.IPAddress,
		PublicIP:  entry.PublicIPAddress,
		PSC:       strings.TrimSuffix(entry.PSCInstanceConfig.PSCDNSName, "."),
	}

	return &StaticConnectionInfoCache{
		info: ConnectionInfo{
			Instance:   uri,
			CertChain:  chain,
			CACert:     ca,
			PrivateKey: privKey,
			IPAddrs:    ips,
			Expiration: time.Now().UTC().Add(time.Hour),
		},
	}, nil
}

// ConnectionInfo returns the pre-parsed ConnectionInfo, ignoring ctx.
func (c *StaticConnectionInfoCache) ConnectionInfo(_ context.Context) (ConnectionInfo, error) {
	return c.info, nil
}

// ForceRefresh is a no-op: the cache holds only static connection
// information and never refreshes.
func (c *StaticConnectionInfoCache) ForceRefresh() {}

// Close is a no-op.
func (c *StaticConnectionInfoCache) Close() error { return nil }

func parsePrivateKeyPEM(s string) (*rsa.PrivateKey, error) {
	b, _ := pem.Decode([]byte(s))
	if b == nil {
		return nil, errInvalidPEM
	}
	if key, err := x509.ParsePKCS1PrivateKey(b.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(b.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("static private key is not an RSA key")
	}
	return key, nil
}
