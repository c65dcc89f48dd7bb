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

// Package errtype defines the error taxonomy raised by the nimbusdb
// connector core.
package errtype

import "fmt"

// ConfigError is used to indicate there was a problem with the provided
// configuration, e.g. a malformed instance URI or an unsupported driver.
type ConfigError struct {
	message  string
	instance string
}

// NewConfigError initializes a ConfigError.
func NewConfigError(message, instance string) *ConfigError {
	return &ConfigError{message: message, instance: instance}
}

func (e *ConfigError) Error() string {
	if e.instance == "" {
		return e.message
	}
	return fmt.Sprintf("[%v] %v", e.instance, e.message)
}

// UpstreamError is used to indicate that a control-plane call (metadata
// fetch or certificate generation) failed, either due to a transport error
// or a non-2xx response.
type UpstreamError struct {
	message  string
	instance string
	err      error
}

// NewUpstreamError initializes an UpstreamError.
func NewUpstreamError(message, instance string, err error) *UpstreamError {
	return &UpstreamError{message: message, instance: instance, err: err}
}

func (e *UpstreamError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("[%v] %v", e.instance, e.message)
	}
	return fmt.Sprintf("[%v] %v: %v", e.instance, e.message, e.err)
}

// Unwrap returns the underlying error, if any.
func (e *UpstreamError) Unwrap() error { return e.err }

// RefreshError is used to indicate a refresh operation completed but
// produced connection info that is not usable, e.g. an already-expired
// client certificate.
type RefreshError struct {
	message  string
	instance string
	err      error
}

// NewRefreshError initializes a RefreshError.
func NewRefreshError(message, instance string, err error) *RefreshError {
	return &RefreshError{message: message, instance: instance, err: err}
}

func (e *RefreshError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("[%v] %v", e.instance, e.message)
	}
	return fmt.Sprintf("[%v] %v: %v", e.instance, e.message, e.err)
}

// Unwrap returns the underlying error, if any.
func (e *RefreshError) Unwrap() error { return e.err }

// IPTypeNotFoundError is used when the instance's connection info has no
// usable IP address for the requested IP type.
type IPTypeNotFoundError struct {
	instance string
	ipType   string
}

// NewIPTypeNotFoundError initializes an IPTypeNotFoundError.
func NewIPTypeNotFoundError(instance, ipType string) *IPTypeNotFoundError {
	return &IPTypeNotFoundError{instance: instance, ipType: ipType}
}

func (e *IPTypeNotFoundError) Error() string {
	return fmt.Sprintf(
		"[%v] instance does not have an IP address of type %q",
		e.instance, e.ipType,
	)
}

// ClosedConnectorError is used when a caller invokes Dial on a connector
// after it has been closed.
type ClosedConnectorError struct{}

// NewClosedConnectorError initializes a ClosedConnectorError.
func NewClosedConnectorError() *ClosedConnectorError {
	return &ClosedConnectorError{}
}

func (*ClosedConnectorError) Error() string {
	return "Connection attempt failed because the connector has already been closed."
}

// HandshakeError is used to indicate a failure during the TLS handshake or
// the post-TLS metadata exchange, including a premature socket close or a
// non-OK response code from the server-side proxy.
type HandshakeError struct {
	message  string
	instance string
	err      error
}

// NewHandshakeError initializes a HandshakeError.
func NewHandshakeError(message, instance string, err error) *HandshakeError {
	return &HandshakeError{message: message, instance: instance, err: err}
}

func (e *HandshakeError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("[%v] %v", e.instance, e.message)
	}
	return fmt.Sprintf("[%v] %v: %v", e.instance, e.message, e.err)
}

// Unwrap returns the underlying error, if any.
func (e *HandshakeError) Unwrap() error { return e.err }

// DialError is used to indicate a failure to dial the resolved IP address or
// to configure the resulting TCP connection.
type DialError struct {
	message  string
	instance string
	err      error
}

// NewDialError initializes a DialError.
func NewDialError(message, instance string, err error) *DialError {
	return &DialError{message: message, instance: instance, err: err}
}

func (e *DialError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("[%v] %v", e.instance, e.message)
	}
	return fmt.Sprintf("[%v] %v: %v", e.instance, e.message, e.err)
}

// Unwrap returns the underlying error, if any.
func (e *DialError) Unwrap() error { return e.err }
