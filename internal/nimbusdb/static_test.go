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
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"testing"
	"time"
)

func genTestCert(t *testing.T, cn string) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	buf := &bytes.Buffer{}
	_ = pem.Encode(buf, &pem.Block{Type: "CERTIFICATE", Bytes: der})
	return buf.String()
}

func TestStaticConnectionInfoCache(t *testing.T) {
	uri := testURI()
	key, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	keyPEM := &bytes.Buffer{}
	_ = pem.Encode(keyPEM, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	clientCert := genTestCert(t, "client")
	intermedCert := genTestCert(t, "intermediate")
	caCert := genTestCert(t, "ca")

	doc := map[string]interface{}{
		"publicKey":  pub,
		"privateKey": keyPEM.String(),
		uri.CanonicalURI(): map[string]interface{}{
			"ipAddress":           "10.1.2.3",
			"publicIpAddress":     "34.1.2.3",
			"pscInstanceConfig":   map[string]string{"pscDnsName": "abc.psc.nimbusdb.example.com."},
			"pemCertificateChain": []string{clientCert, intermedCert, caCert},
			"caCert":              caCert,
		},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}

	cache, err := NewStaticConnectionInfoCache(uri, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("NewStaticConnectionInfoCache: %v", err)
	}

	ci, err := cache.ConnectionInfo(context.Background())
	if err != nil {
		t.Fatalf("ConnectionInfo: %v", err)
	}
	if addr, _ := ci.PreferredIP(PrivateIP); addr != "10.1.2.3" {
		t.Errorf("private IP = %v, want 10.1.2.3", addr)
	}
	if addr, _ := ci.PreferredIP(PSC); addr != "abc.psc.nimbusdb.example.com" {
		t.Errorf("PSC DNS name = %v, want trailing dot stripped", addr)
	}
	if len(ci.CertChain) != 3 {
		t.Errorf("len(CertChain) = %d, want 3", len(ci.CertChain))
	}

	cache.ForceRefresh() // no-op
	if err := cache.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
