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
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nimbusdb/nimbusdb-go-connector/errtype"
	"github.com/nimbusdb/nimbusdb-go-connector/instance"
	"github.com/nimbusdb/nimbusdb-go-connector/internal/adminapi"
	"github.com/nimbusdb/nimbusdb-go-connector/internal/credentials"
)

var errInvalidPEM = errors.New("certificate is not a valid PEM")

func parseCert(cert string) (*x509.Certificate, error) {
	b, _ := pem.Decode([]byte(cert))
	if b == nil {
		return nil, errInvalidPEM
	}
	return x509.ParseCertificate(b.Bytes)
}

// Client is the control-plane client. It issues the two logical RPCs
// (GetMetadata, GenerateClientCertificate), enforces OAuth2 credential
// freshness before each request, and assembles a ConnectionInfo from the
// results.
type Client struct {
	rest                *adminapi.Client
	creds               credentials.Credentials
	useMetadataExchange bool
}

// NewClient wraps a low-level adminapi.Client with credential-freshness
// enforcement.
func NewClient(rest *adminapi.Client, creds credentials.Credentials, useMetadataExchange bool) *Client {
	return &Client{rest: rest, creds: creds, useMetadataExchange: useMetadataExchange}
}

// GetMetadata fetches the instance's registered IP addresses. A PSC DNS
// name with a trailing dot has that dot stripped.
func (c *Client) GetMetadata(ctx context.Context, uri instance.URI) (map[IPType]string, error) {
	if err := credentials.EnsureFresh(ctx, c.creds); err != nil {
		return nil, errtype.NewUpstreamError("failed to refresh credentials", uri.String(), err)
	}
	resp, err := c.rest.ConnectionInfo(ctx, uri.Project, uri.Region, uri.Cluster, uri.Name)
	if err != nil {
		return nil, errtype.NewUpstreamError("failed to get instance metadata", uri.String(), err)
	}
	ips := map[IPType]string{}
	if resp.IPAddress != "" {
		ips[PrivateIP] = resp.IPAddress
	}
	if resp.PublicIPAddress != "" {
		ips[PublicIP] = resp.PublicIPAddress
	}
	if dns := resp.PSCInstanceConfig.PSCDNSName; dns != "" {
		ips[PSC] = strings.TrimSuffix(dns, ".")
	}
	return ips, nil
}

// GenerateClientCertificate submits the connector's public key and returns
// the issued CA certificate plus the three-element chain
// [client, intermediate, root].
func (c *Client) GenerateClientCertificate(
	ctx context.Context, uri instance.URI, key *rsa.PrivateKey,
) (caCert *x509.Certificate, chain []*x509.Certificate, err error) {
	if err := credentials.EnsureFresh(ctx, c.creds); err != nil {
		return nil, nil, errtype.NewUpstreamError("failed to refresh credentials", uri.String(), err)
	}

	pub, err := PublicKeyPEM(key)
	if err != nil {
		return nil, nil, err
	}

	resp, err := c.rest.GenerateClientCertificate(
		ctx, uri.Project, uri.Region, uri.Cluster, pub, c.useMetadataExchange,
	)
	if err != nil {
		return nil, nil, errtype.NewUpstreamError("create ephemeral cert failed", uri.String(), err)
	}
	if len(resp.PemCertificateChain) != 3 {
		return nil, nil, errtype.NewUpstreamError(
			fmt.Sprintf("expected a 3-element certificate chain, got %d", len(resp.PemCertificateChain)),
			uri.String(), nil,
		)
	}

	ca, err := parseCert(resp.CACert)
	if err != nil {
		return nil, nil, errtype.NewUpstreamError("failed to parse CA cert", uri.String(), err)
	}

	parsed := make([]*x509.Certificate, 0, 3)
	for _, pemCert := range resp.PemCertificateChain {
		cert, err := parseCert(pemCert)
		if err != nil {
			return nil, nil, errtype.NewUpstreamError("failed to parse certificate chain", uri.String(), err)
		}
		parsed = append(parsed, cert)
	}

	return ca, parsed, nil
}

// GetConnectionInfo ensures credentials are fresh, concurrently fetches
// instance metadata and a client certificate, and assembles the result into
// a ConnectionInfo.
func (c *Client) GetConnectionInfo(
	ctx context.Context, uri instance.URI, key *rsa.PrivateKey,
) (ConnectionInfo, error) {
	if err := credentials.EnsureFresh(ctx, c.creds); err != nil {
		return ConnectionInfo{}, errtype.NewUpstreamError("failed to refresh credentials", uri.String(), err)
	}

	type mdResult struct {
		ips map[IPType]string
		err error
	}
	mdCh := make(chan mdResult, 1)
	go func() {
		ips, err := c.GetMetadata(ctx, uri)
		mdCh <- mdResult{ips: ips, err: err}
	}()

	type certResult struct {
		ca    *x509.Certificate
		chain []*x509.Certificate
		err   error
	}
	certCh := make(chan certResult, 1)
	go func() {
		ca, chain, err := c.GenerateClientCertificate(ctx, uri, key)
		certCh <- certResult{ca: ca, chain: chain, err: err}
	}()

	var ips map[IPType]string
	select {
	case r := <-mdCh:
		if r.err != nil {
			return ConnectionInfo{}, r.err
		}
		ips = r.ips
	case <-ctx.Done():
		return ConnectionInfo{}, ctx.Err()
	}

	var ca *x509.Certificate
	var chain []*x509.Certificate
	select {
	case r := <-certCh:
		if r.err != nil {
			return ConnectionInfo{}, r.err
		}
		ca, chain = r.ca, r.chain
	case <-ctx.Done():
		return ConnectionInfo{}, ctx.Err()
	}

	var expiration time.Time
	if len(chain) > 0 {
		expiration = chain[0].NotAfter
	}

	return ConnectionInfo{
		Instance:   uri,
		CertChain:  chain,
		CACert:     ca,
		PrivateKey: key,
		IPAddrs:    ips,
		Expiration: expiration.UTC(),
	}, nil
}
