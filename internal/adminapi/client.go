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

// Package adminapi is a minimal REST client for the NimbusDB control
// plane's two logical RPCs: fetching instance connection metadata and
// issuing a signed client certificate.
package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"
)

// ConnectionInfoResponse is the response from the connection-info endpoint.
type ConnectionInfoResponse struct {
	ServerResponse    googleapi.ServerResponse
	IPAddress         string `json:"ipAddress"`
	PublicIPAddress   string `json:"publicIpAddress"`
	PSCInstanceConfig struct {
		PSCDNSName string `json:"pscDnsName"`
	} `json:"pscInstanceConfig"`
	InstanceUID string `json:"instanceUid"`
}

// GenerateClientCertificateRequest is the request to generate a client
// certificate.
type GenerateClientCertificateRequest struct {
	PublicKey           string `json:"publicKey"`
	CertificateDuration string `json:"certDuration"`
	UseMetadataExchange bool   `json:"useMetadataExchange"`
}

// GenerateClientCertificateResponse is the response from the certificate
// endpoint.
type GenerateClientCertificateResponse struct {
	ServerResponse      googleapi.ServerResponse
	CACert              string   `json:"caCert"`
	PemCertificateChain []string `json:"pemCertificateChain"`
}

// baseURL is the default NimbusDB control-plane endpoint.
const baseURL = "https://api.nimbusdb.example.com/v1"

// Client is a REST client for the NimbusDB control plane.
type Client struct {
	client *http.Client
	// endpoint is the base URL for the control plane (e.g.
	// https://api.nimbusdb.example.com/v1).
	endpoint string
}

// NewClient initializes a Client.
func NewClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	os := append([]option.ClientOption{
		option.WithEndpoint(baseURL),
	}, opts...) // allow for overriding the endpoint
	client, endpoint, err := htransport.NewClient(ctx, os...)
	if err != nil {
		return nil, err
	}
	return &Client{client: client, endpoint: endpoint}, nil
}

// ConnectionInfo retrieves connection info for the provided instance.
func (c *Client) ConnectionInfo(ctx context.Context, project, region, cluster, instance string) (ConnectionInfoResponse, error) {
	u := fmt.Sprintf(
		"%s/projects/%s/locations/%s/clusters/%s/instances/%s/connectionInfo",
		c.endpoint, project, region, cluster, instance,
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return ConnectionInfoResponse{}, err
	}
	res, err := c.client.Do(req)
	if err != nil {
		return ConnectionInfoResponse{}, err
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusMultipleChoices {
		body, err := io.ReadAll(res.Body)
		if err != nil {
			return ConnectionInfoResponse{}, err
		}
		return ConnectionInfoResponse{}, &googleapi.Error{
			Code:   res.StatusCode,
			Header: res.Header,
			Body:   string(body),
		}
	}
	ret := ConnectionInfoResponse{
		ServerResponse: googleapi.ServerResponse{
			Header:         res.Header,
			HTTPStatusCode: res.StatusCode,
		},
	}
	if err := json.NewDecoder(res.Body).Decode(&ret); err != nil {
		return ConnectionInfoResponse{}, err
	}
	return ret, nil
}

// GenerateClientCertificate creates a client certificate using the
// provided public key (PEM-encoded SubjectPublicKeyInfo).
func (c *Client) GenerateClientCertificate(
	ctx context.Context, project, region, cluster string, publicKeyPEM string, useMetadataExchange bool,
) (GenerateClientCertificateResponse, error) {
	u := fmt.Sprintf(
		"%s/projects/%s/locations/%s/clusters/%s:generateClientCertificate",
		c.endpoint, project, region, cluster,
	)
	body, err := json.Marshal(GenerateClientCertificateRequest{
		PublicKey:           publicKeyPEM,
		CertificateDuration: "3600s",
		UseMetadataExchange: useMetadataExchange,
	})
	if err != nil {
		return GenerateClientCertificateResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return GenerateClientCertificateResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.client.Do(req)
	if err != nil {
		return GenerateClientCertificateResponse{}, err
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusMultipleChoices {
		b, err := io.ReadAll(res.Body)
		if err != nil {
			return GenerateClientCertificateResponse{}, err
		}
		return GenerateClientCertificateResponse{}, &googleapi.Error{
			Code:   res.StatusCode,
			Header: res.Header,
			Body:   string(b),
		}
	}
	ret := GenerateClientCertificateResponse{
		ServerResponse: googleapi.ServerResponse{
			Header:         res.Header,
			HTTPStatusCode: res.StatusCode,
		},
	}
	if err := json.NewDecoder(res.Body).Decode(&ret); err != nil {
		return GenerateClientCertificateResponse{}, err
	}
	return ret, nil
}
