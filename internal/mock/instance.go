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

// Package mock provides test doubles for the NimbusDB control plane and
// server-side proxy, so that package tests can exercise the connector
// end-to-end without a real NimbusDB instance.
package mock

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/nimbusdb/nimbusdb-go-connector/internal/wire"
)

// Option configures a FakeInstance.
type Option func(*FakeInstance)

// WithPublicIP sets the public IP address.
func WithPublicIP(addr string) Option {
	return func(f *FakeInstance) { f.ipAddrs["PUBLIC"] = addr }
}

// WithPrivateIP sets the private IP address.
func WithPrivateIP(addr string) Option {
	return func(f *FakeInstance) { f.ipAddrs["PRIVATE"] = addr }
}

// WithPSC sets the PSC DNS name.
func WithPSC(addr string) Option {
	return func(f *FakeInstance) { f.ipAddrs["PSC"] = addr }
}

// WithServerName sets the name the fake server proxy presents in its TLS
// certificate.
func WithServerName(name string) Option {
	return func(f *FakeInstance) { f.serverName = name }
}

// WithCertExpiry sets the expiration time of certificates the fake
// instance issues.
func WithCertExpiry(expiry time.Time) Option {
	return func(f *FakeInstance) { f.certExpiry = expiry }
}

// FakeInstance represents both the control plane's view of an instance and
// the server-side proxy it backs.
type FakeInstance struct {
	Project string
	Region  string
	Cluster string
	Name    string

	ipAddrs    map[string]string
	uid        string
	serverName string
	certExpiry time.Time

	rootCACert *x509.Certificate
	rootKey    *rsa.PrivateKey

	intermedCert *x509.Certificate
	intermedKey  *rsa.PrivateKey

	serverCert *x509.Certificate
	serverKey  *rsa.PrivateKey
}

func mustGenerateKey() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return key
}

var (
	rootCAKey     = mustGenerateKey()
	intermedCAKey = mustGenerateKey()
	serverKey     = mustGenerateKey()
)

// NewFakeInstance creates a fake NimbusDB instance, generating a
// self-signed root CA, an intermediate CA (used to sign client certs), and
// a server certificate (used by StartServerProxy) all in one chain.
func NewFakeInstance(project, region, cluster, name string, opts ...Option) FakeInstance {
	f := FakeInstance{
		Project:    project,
		Region:     region,
		Cluster:    cluster,
		Name:       name,
		ipAddrs:    map[string]string{"PRIVATE": "127.0.0.1"},
		uid:        "00000000-0000-0000-0000-000000000000",
		serverName: "00000000-0000-0000-0000-000000000000.server.nimbusdb",
		certExpiry: time.Now().Add(24 * time.Hour),
	}
	for _, o := range opts {
		o(&f)
	}

	rootTemplate := &x509.Certificate{
		SerialNumber:          &big.Int{},
		Subject:               pkix.Name{CommonName: "root.nimbusdb"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(0, 0, 1),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}
	signedRoot, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootCAKey.PublicKey, rootCAKey)
	if err != nil {
		panic(err)
	}
	rootCert, err := x509.ParseCertificate(signedRoot)
	if err != nil {
		panic(err)
	}

	intermedTemplate := &x509.Certificate{
		SerialNumber:          &big.Int{},
		Subject:               pkix.Name{CommonName: "client.nimbusdb"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(0, 0, 1),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}
	signedIntermed, err := x509.CreateCertificate(rand.Reader, intermedTemplate, rootCert, &intermedCAKey.PublicKey, rootCAKey)
	if err != nil {
		panic(err)
	}
	intermedCert, err := x509.ParseCertificate(signedIntermed)
	if err != nil {
		panic(err)
	}

	serverTemplate := &x509.Certificate{
		SerialNumber:          &big.Int{},
		Subject:               pkix.Name{CommonName: f.serverName},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(0, 0, 1),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	signedServer, err := x509.CreateCertificate(rand.Reader, serverTemplate, rootCert, &serverKey.PublicKey, rootCAKey)
	if err != nil {
		panic(err)
	}
	serverCert, err := x509.ParseCertificate(signedServer)
	if err != nil {
		panic(err)
	}

	f.rootCACert = rootCert
	f.rootKey = rootCAKey
	f.intermedCert = intermedCert
	f.intermedKey = intermedCAKey
	f.serverCert = serverCert
	f.serverKey = serverKey
	return f
}

// GeneratePEMCertificateChain signs pub with the fake instance's
// intermediate CA and returns the PEM-encoded [client, intermediate, root]
// chain, for tests that build a static connection info document directly
// rather than going through GenerateClientCertificateSuccess.
func (f FakeInstance) GeneratePEMCertificateChain(pub *rsa.PublicKey) ([]string, error) {
	template := &x509.Certificate{
		SerialNumber: &big.Int{},
		Subject:      pkix.Name{CommonName: "nimbusdb-client"},
		NotBefore:    time.Now(),
		NotAfter:     f.certExpiry,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, f.intermedCert, pub, f.intermedKey)
	if err != nil {
		return nil, err
	}
	encode := func(der []byte) string {
		buf := &bytes.Buffer{}
		_ = pem.Encode(buf, &pem.Block{Type: "CERTIFICATE", Bytes: der})
		return buf.String()
	}
	return []string{
		encode(der),
		encode(f.intermedCert.Raw),
		encode(f.rootCACert.Raw),
	}, nil
}

// StartServerProxy starts a fake server-side proxy listening on :5433,
// configured with TLS as specified by inst. It performs the same wire-level
// metadata exchange the real server performs, then hands the connection
// over to a stand-in for the database protocol. The returned function
// tears down the listener and its accept loop.
func StartServerProxy(t *testing.T, inst FakeInstance) func() {
	pool := x509.NewCertPool()
	pool.AddCert(inst.rootCACert)

	var ln net.Listener
	var err error
	for i := 0; i < 10; i++ {
		ln, err = tls.Listen("tcp", ":5433", &tls.Config{
			Certificates: []tls.Certificate{
				{
					Certificate: [][]byte{inst.serverCert.Raw, inst.rootCACert.Raw},
					PrivateKey:  inst.serverKey,
					Leaf:        inst.serverCert,
				},
			},
			ServerName: "127.0.0.1",
			ClientAuth: tls.RequireAndVerifyClientCert,
			ClientCAs:  pool,
		})
		if err == nil {
			break
		}
		t.Log("listener failed to start, waiting 100ms")
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("failed to start listener: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				if err := serverMetadataExchange(conn); err != nil {
					conn.Close()
					return
				}
				conn.Write([]byte(inst.Name))
				conn.Close()
			}()
		}
	}()
	return func() {
		cancel()
		ln.Close()
	}
}

// serverMetadataExchange plays the server side of the wire metadata
// exchange: read the request, ignore its contents (a real server would
// validate the token here), and respond OK.
func serverMetadataExchange(conn net.Conn) error {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(lenBuf)
	buf := make([]byte, size)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return err
	}
	if _, err := wire.UnmarshalRequest(buf); err != nil {
		return err
	}

	resp := &wire.Response{ResponseCode: wire.OK}
	body := resp.Marshal()
	out := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	out = append(out, body...)
	_, err := conn.Write(out)
	return err
}
