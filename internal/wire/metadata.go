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

// Package wire implements the small wire-level protocol exchanged once, in
// both directions, immediately after the TLS handshake and before the
// database wire protocol takes over. Rather than depending on generated
// code for a single two-message protocol, the messages are encoded and
// decoded directly with the protobuf wire-format primitives.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// AuthType identifies how the server should authenticate the connecting
// principal once the metadata exchange completes.
type AuthType int32

const (
	// DBNative indicates the connection will authenticate with native
	// database credentials (a password).
	DBNative AuthType = 0
	// AutoIAM indicates the connection will authenticate using the
	// caller's IAM identity, exchanged as an OAuth2 access token.
	AutoIAM AuthType = 1
)

// ResponseCode reports whether the server accepted the metadata exchange
// request.
type ResponseCode int32

const (
	// OK indicates the server accepted the request and the connection may
	// proceed to the database wire protocol.
	OK ResponseCode = 0
	// Error indicates the server rejected the request; Error on the
	// Response carries the human-readable reason.
	Error ResponseCode = 1
)

// Request is sent by the connector immediately after the TLS handshake.
type Request struct {
	UserAgent   string
	AuthType    AuthType
	Oauth2Token string
}

const (
	fieldRequestUserAgent   protowire.Number = 1
	fieldRequestAuthType    protowire.Number = 2
	fieldRequestOauth2Token protowire.Number = 3
)

// Marshal encodes req using the protobuf wire format.
func (req *Request) Marshal() []byte {
	var b []byte
	if req.UserAgent != "" {
		b = protowire.AppendTag(b, fieldRequestUserAgent, protowire.BytesType)
		b = protowire.AppendString(b, req.UserAgent)
	}
	b = protowire.AppendTag(b, fieldRequestAuthType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(req.AuthType))
	if req.Oauth2Token != "" {
		b = protowire.AppendTag(b, fieldRequestOauth2Token, protowire.BytesType)
		b = protowire.AppendString(b, req.Oauth2Token)
	}
	return b
}

// UnmarshalRequest decodes a Request from the protobuf wire format.
func UnmarshalRequest(b []byte) (*Request, error) {
	req := &Request{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldRequestUserAgent:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			req.UserAgent = s
			b = b[n:]
		case fieldRequestAuthType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			req.AuthType = AuthType(v)
			b = b[n:]
		case fieldRequestOauth2Token:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			req.Oauth2Token = s
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return req, nil
}

// Response is returned by the server in answer to a Request.
type Response struct {
	ResponseCode ResponseCode
	Error        string
}

const (
	fieldResponseCode  protowire.Number = 1
	fieldResponseError protowire.Number = 2
)

// Marshal encodes resp using the protobuf wire format.
func (resp *Response) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldResponseCode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(resp.ResponseCode))
	if resp.Error != "" {
		b = protowire.AppendTag(b, fieldResponseError, protowire.BytesType)
		b = protowire.AppendString(b, resp.Error)
	}
	return b
}

// UnmarshalResponse decodes a Response from the protobuf wire format.
func UnmarshalResponse(b []byte) (*Response, error) {
	resp := &Response{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldResponseCode:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			resp.ResponseCode = ResponseCode(v)
			b = b[n:]
		case fieldResponseError:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			resp.Error = s
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return resp, nil
}

func (a AuthType) String() string {
	switch a {
	case DBNative:
		return "DB_NATIVE"
	case AutoIAM:
		return "AUTO_IAM"
	default:
		return fmt.Sprintf("AuthType(%d)", int32(a))
	}
}

func (r ResponseCode) String() string {
	switch r {
	case OK:
		return "OK"
	case Error:
		return "ERROR"
	default:
		return fmt.Sprintf("ResponseCode(%d)", int32(r))
	}
}
