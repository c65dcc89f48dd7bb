// Copyright 2022 Google LLC
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

package mock

import (
	"bytes"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/nimbusdb/nimbusdb-go-connector/internal/adminapi"
)

// Request represents an HTTP request that the test server started by
// HTTPClient mocks a response for. Use
// InstanceGetSuccess or GenerateClientCertificateSuccess to build one.
type Request struct {
	sync.Mutex

	reqMethod string
	reqPath   string
	reqCt     int

	handle func(resp http.ResponseWriter, req *http.Request)
}

func (r *Request) matches(hReq *http.Request) bool {
	r.Lock()
	defer r.Unlock()
	if r.reqMethod != "" && r.reqMethod != hReq.Method {
		return false
	}
	if r.reqPath != "" && r.reqPath != hReq.URL.Path {
		return false
	}
	if r.reqCt <= 0 {
		return false
	}
	r.reqCt--
	return true
}

// InstanceGetSuccess returns a Request that responds to the connection-info
// endpoint for inst, usable ct times.
func InstanceGetSuccess(inst FakeInstance, ct int) *Request {
	path := fmt.Sprintf(
		"/projects/%s/locations/%s/clusters/%s/instances/%s/connectionInfo",
		inst.Project, inst.Region, inst.Cluster, inst.Name,
	)
	return &Request{
		reqMethod: http.MethodGet,
		reqPath:   path,
		reqCt:     ct,
		handle: func(resp http.ResponseWriter, _ *http.Request) {
			resp.WriteHeader(http.StatusOK)
			_, _ = resp.Write([]byte(fmt.Sprintf(
				`{"ipAddress":%q,"instanceUid":%q}`, inst.ipAddrs["PRIVATE"], inst.uid,
			)))
		},
	}
}

// GenerateClientCertificateSuccess returns a Request that responds to the
// generateClientCertificate endpoint for inst, signing the caller's public
// key with inst's intermediate CA, usable ct times.
func GenerateClientCertificateSuccess(inst FakeInstance, ct int) *Request {
	return &Request{
		reqMethod: http.MethodPost,
		reqPath: fmt.Sprintf(
			"/projects/%s/locations/%s/clusters/%s:generateClientCertificate",
			inst.Project, inst.Region, inst.Cluster,
		),
		reqCt: ct,
		handle: func(resp http.ResponseWriter, req *http.Request) {
			b, err := io.ReadAll(req.Body)
			defer req.Body.Close()
			if err != nil {
				http.Error(resp, fmt.Errorf("unable to read body: %w", err).Error(), http.StatusBadRequest)
				return
			}
			var creq adminapi.GenerateClientCertificateRequest
			if err := json.Unmarshal(b, &creq); err != nil {
				http.Error(resp, fmt.Errorf("invalid json: %w", err).Error(), http.StatusBadRequest)
				return
			}
			bl, _ := pem.Decode([]byte(creq.PublicKey))
			if bl == nil {
				http.Error(resp, "unable to decode public key", http.StatusBadRequest)
				return
			}
			pub, err := x509.ParsePKIXPublicKey(bl.Bytes)
			if err != nil {
				http.Error(resp, fmt.Errorf("unable to parse public key: %w", err).Error(), http.StatusBadRequest)
				return
			}

			template := &x509.Certificate{
				SerialNumber: &big.Int{},
				Subject:      pkix.Name{CommonName: "nimbusdb-client"},
				NotBefore:    time.Now(),
				NotAfter:     inst.certExpiry,
				KeyUsage:     x509.KeyUsageDigitalSignature,
				ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
			}
			cert, err := x509.CreateCertificate(rand.Reader, template, inst.intermedCert, pub, inst.intermedKey)
			if err != nil {
				http.Error(resp, fmt.Errorf("unable to sign certificate: %w", err).Error(), http.StatusInternalServerError)
				return
			}

			certPEM := &bytes.Buffer{}
			_ = pem.Encode(certPEM, &pem.Block{Type: "CERTIFICATE", Bytes: cert})
			intermedPEM := &bytes.Buffer{}
			_ = pem.Encode(intermedPEM, &pem.Block{Type: "CERTIFICATE", Bytes: inst.intermedCert.Raw})
			rootPEM := &bytes.Buffer{}
			_ = pem.Encode(rootPEM, &pem.Block{Type: "CERTIFICATE", Bytes: inst.rootCACert.Raw})

			cresp := adminapi.GenerateClientCertificateResponse{
				CACert:              rootPEM.String(),
				PemCertificateChain: []string{certPEM.String(), intermedPEM.String(), rootPEM.String()},
			}
			if err := json.NewEncoder(resp).Encode(&cresp); err != nil {
				http.Error(resp, fmt.Errorf("unable to encode response: %w", err).Error(), http.StatusInternalServerError)
				return
			}
		},
	}
}

// HTTPClient starts an httptest.NewTLSServer that answers each of requests
// in turn, returning the configured *http.Client, the server's URL, and a
// cleanup function. The cleanup function stops the server and reports an
// error if any request's call count was not exhausted.
func HTTPClient(requests ...*Request) (*http.Client, string, func() error) {
	s := httptest.NewTLSServer(http.HandlerFunc(func(resp http.ResponseWriter, req *http.Request) {
		for _, r := range requests {
			if r.matches(req) {
				r.handle(resp, req)
				return
			}
		}
		resp.WriteHeader(http.StatusNotImplemented)
		_, _ = resp.Write([]byte(fmt.Sprintf("unexpected request sent to mock admin server: %v", req)))
	}))
	cleanup := func() error {
		s.Close()
		for i, r := range requests {
			if r.reqCt > 0 {
				return fmt.Errorf("%d calls left unfulfilled for request %d: %+v", r.reqCt, i, r)
			}
		}
		return nil
	}
	return s.Client(), s.URL, cleanup
}
