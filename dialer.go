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

// Package nimbusdbconn provides a Dialer for establishing mTLS connections
// to NimbusDB instances without managing certificates or looking up IP
// addresses manually.
package nimbusdbconn

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	_ "embed"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nimbusdb/nimbusdb-go-connector/debug"
	"github.com/nimbusdb/nimbusdb-go-connector/errtype"
	"github.com/nimbusdb/nimbusdb-go-connector/instance"
	"github.com/nimbusdb/nimbusdb-go-connector/internal/adminapi"
	"github.com/nimbusdb/nimbusdb-go-connector/internal/credentials"
	"github.com/nimbusdb/nimbusdb-go-connector/internal/nimbusdb"
	"github.com/nimbusdb/nimbusdb-go-connector/internal/wire"
	"golang.org/x/net/proxy"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

const (
	// defaultTCPKeepAlive is used on every connection returned by Dial
	// unless overridden with WithTCPKeepAlive.
	defaultTCPKeepAlive = 30 * time.Second
	// serverProxyPort is the port the server-side proxy listens on.
	serverProxyPort = "5433"
	// ioTimeout bounds how long the metadata exchange may take.
	ioTimeout = 30 * time.Second
	// maxMessageSize bounds the size of a single metadata exchange message.
	maxMessageSize = 16 * 1024
)

//go:embed version.txt
var versionString string

var userAgent = "nimbusdb-go-connector/" + strings.TrimSpace(versionString)

var (
	defaultKey    *rsa.PrivateKey
	defaultKeyErr error
	keyOnce       sync.Once
)

func getDefaultKey() (*rsa.PrivateKey, error) {
	keyOnce.Do(func() {
		defaultKey, defaultKeyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	return defaultKey, defaultKeyErr
}

// monitoredCache wraps a nimbusdb.Cache and tracks the number of open
// connections that currently depend on it.
type monitoredCache struct {
	openConns uint64
	nimbusdb.Cache
}

// A Dialer dials NimbusDB instances. Use NewDialer to create one; a Dialer
// should be reused across many calls to Dial and closed exactly once when
// no longer needed.
type Dialer struct {
	lock  sync.RWMutex
	cache map[instance.URI]*monitoredCache
	key   *rsa.PrivateKey
	// closed is closed exactly once, by Close.
	closed chan struct{}

	refreshStrategy nimbusdb.RefreshStrategy
	staticInfoBytes []byte

	client *nimbusdb.Client
	logger debug.Logger

	defaultDialCfg dialCfg

	dialerID string
	dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

	useIAMAuthN    bool
	iamTokenSource oauth2.TokenSource
	userAgent      string

	buffer *bufferPool
}

// NewDialer creates a new Dialer. The first call may be slower than
// subsequent ones because it generates an RSA key pair, unless a key is
// supplied with WithRSAKey.
func NewDialer(ctx context.Context, opts ...Option) (*Dialer, error) {
	cfg := &dialerConfig{
		dialFunc:        proxy.Dial,
		logger:          debug.NullLogger{},
		userAgents:      []string{userAgent},
		refreshStrategy: nimbusdb.RefreshBackground,
	}
	for _, opt := range opts {
		opt(cfg)
		if cfg.err != nil {
			return nil, cfg.err
		}
	}
	ua := strings.Join(cfg.userAgents, " ")
	cfg.adminOpts = append(cfg.adminOpts, option.WithUserAgent(ua))

	if cfg.rsaKey == nil {
		key, err := getDefaultKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate RSA key: %w", err)
		}
		cfg.rsaKey = key
	}

	ts := cfg.tokenSource
	if ts == nil {
		var err error
		ts, err = google.DefaultTokenSource(ctx, CloudPlatformScope)
		if err != nil {
			return nil, err
		}
	}

	restClient, err := adminapi.NewClient(ctx, cfg.adminOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create control-plane client: %w", err)
	}
	client := nimbusdb.NewClient(restClient, credentials.FromTokenSource(ts), true)

	var staticInfo []byte
	if cfg.staticInfo != nil {
		staticInfo, err = io.ReadAll(cfg.staticInfo)
		if err != nil {
			return nil, fmt.Errorf("failed to read static connection info: %w", err)
		}
	}

	dCfg := dialCfg{
		ipType:       nimbusdb.PrivateIP,
		tcpKeepAlive: defaultTCPKeepAlive,
	}
	for _, opt := range cfg.dialOpts {
		opt(&dCfg)
	}

	return &Dialer{
		closed:          make(chan struct{}),
		cache:           make(map[instance.URI]*monitoredCache),
		key:             cfg.rsaKey,
		refreshStrategy: cfg.refreshStrategy,
		staticInfoBytes: staticInfo,
		client:          client,
		logger:          cfg.logger,
		defaultDialCfg:  dCfg,
		dialerID:        uuid.New().String(),
		dialFunc:        cfg.dialFunc,
		useIAMAuthN:     cfg.useIAMAuthN,
		iamTokenSource:  ts,
		userAgent:       ua,
		buffer:          newBufferPool(),
	}, nil
}

// Dial returns a net.Conn connected to the named instance. instURI must be
// in the form projects/<PROJECT>/locations/<REGION>/clusters/<CLUSTER>/instances/<INSTANCE>.
func (d *Dialer) Dial(ctx context.Context, instURI string, opts ...DialOption) (conn net.Conn, err error) {
	select {
	case <-d.closed:
		return nil, errtype.NewClosedConnectorError()
	default:
	}

	cfg := d.defaultDialCfg
	for _, opt := range opts {
		opt(&cfg)
	}

	inst, err := instance.ParseURI(instURI)
	if err != nil {
		return nil, err
	}

	cache, err := d.connectionInfoCache(inst)
	if err != nil {
		return nil, err
	}
	ci, err := cache.ConnectionInfo(ctx)
	if err != nil {
		d.removeCached(inst, cache, err)
		return nil, err
	}

	// If the cached certificate has expired (as when the process was
	// suspended and the refresh cycle never ran), force a refresh. The TLS
	// handshake does not fail on an expired client certificate; the server
	// only rejects it once the metadata exchange evaluates it.
	if !ci.Valid(time.Now()) {
		d.logger.Debugf("[%v] cached certificate has expired, refreshing now", inst.String())
		cache.ForceRefresh()
		ci, err = cache.ConnectionInfo(ctx)
		if err != nil {
			d.removeCached(inst, cache, err)
			return nil, err
		}
	}

	addr, err := ci.PreferredIP(cfg.ipType)
	if err != nil {
		d.removeCached(inst, cache, err)
		return nil, err
	}

	f := d.dialFunc
	if cfg.dialFunc != nil {
		f = cfg.dialFunc
	}
	hostPort := net.JoinHostPort(addr, serverProxyPort)
	d.logger.Debugf("[%v] dialing %v", inst.String(), hostPort)
	conn, err = f(ctx, "tcp", hostPort)
	if err != nil {
		d.logger.Debugf("[%v] dialing %v failed: %v", inst.String(), hostPort, err)
		cache.ForceRefresh()
		return nil, errtype.NewDialError("failed to dial", inst.String(), err)
	}
	if c, ok := conn.(*net.TCPConn); ok {
		if err := c.SetKeepAlive(true); err != nil {
			return nil, errtype.NewDialError("failed to set keep-alive", inst.String(), err)
		}
		if err := c.SetKeepAlivePeriod(cfg.tcpKeepAlive); err != nil {
			return nil, errtype.NewDialError("failed to set keep-alive period", inst.String(), err)
		}
	}

	tlsConn := tls.Client(conn, ci.BuildTLSConfig())
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		d.logger.Debugf("[%v] TLS handshake failed: %v", inst.String(), err)
		cache.ForceRefresh()
		_ = tlsConn.Close()
		return nil, errtype.NewHandshakeError("handshake failed", inst.String(), err)
	}

	// The metadata exchange happens only after TLS is established to avoid
	// leaking the IAM token or user agent in the clear.
	if err := d.metadataExchange(tlsConn, inst.String()); err != nil {
		_ = tlsConn.Close()
		return nil, err
	}

	open := atomic.AddUint64(&cache.openConns, 1)
	d.logger.Debugf("[%v] connection opened, %d open for this instance", inst.String(), open)
	return newInstrumentedConn(tlsConn, func() {
		open := atomic.AddUint64(&cache.openConns, ^uint64(0))
		d.logger.Debugf("[%v] connection closed, %d open for this instance", inst.String(), open)
	}), nil
}

func (d *Dialer) removeCached(i instance.URI, c *monitoredCache, err error) {
	d.logger.Debugf("[%v] removing connection info from cache: %v", i.String(), err)
	d.lock.Lock()
	defer d.lock.Unlock()
	_ = c.Close()
	delete(d.cache, i)
}

// metadataExchange sends a wire.Request immediately after the TLS
// handshake and blocks until the server's wire.Response arrives:
//
//  1. Build a Request carrying the user agent, auth type, and the caller's
//     OAuth2 access token (sent for both auth types).
//  2. Write a big-endian uint32 length prefix, then the marshaled message.
//  3. Read a big-endian uint32 length prefix, then the response message.
//  4. If the response code is not OK, surface the response's error text.
func (d *Dialer) metadataExchange(conn net.Conn, instanceName string) error {
	tok, err := d.iamTokenSource.Token()
	if err != nil {
		return err
	}
	authType := wire.DBNative
	if d.useIAMAuthN {
		authType = wire.AutoIAM
	}
	req := &wire.Request{
		UserAgent:   d.userAgent,
		AuthType:    authType,
		Oauth2Token: tok.AccessToken,
	}
	m := req.Marshal()

	buf := d.buffer.get()
	defer d.buffer.put(buf)

	if err := conn.SetDeadline(time.Now().Add(ioTimeout)); err != nil {
		return err
	}
	defer conn.SetDeadline(time.Time{})

	out := (*buf)[:4]
	binary.BigEndian.PutUint32(out, uint32(len(m)))
	out = append(out, m...)
	if _, err := conn.Write(out); err != nil {
		return err
	}

	if err := conn.SetDeadline(time.Now().Add(ioTimeout)); err != nil {
		return err
	}
	defer conn.SetDeadline(time.Time{})

	lenBuf := (*buf)[:4]
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		return errtype.NewHandshakeError("failed to read metadata exchange response length", instanceName, err)
	}
	respSize := binary.BigEndian.Uint32(lenBuf)
	if respSize > maxMessageSize {
		return errtype.NewHandshakeError("metadata exchange response too large", instanceName, nil)
	}
	respBuf := (*buf)[:respSize]
	if _, err := io.ReadFull(conn, respBuf); err != nil {
		return errtype.NewHandshakeError("failed to read metadata exchange response", instanceName, err)
	}

	resp, err := wire.UnmarshalResponse(respBuf)
	if err != nil {
		return err
	}
	if resp.ResponseCode != wire.OK {
		return errtype.NewHandshakeError(resp.Error, instanceName, nil)
	}
	return nil
}

type bufferPool struct {
	pool sync.Pool
}

func newBufferPool() *bufferPool {
	return &bufferPool{
		pool: sync.Pool{
			New: func() any {
				buf := make([]byte, maxMessageSize)
				return &buf
			},
		},
	}
}

func (b *bufferPool) get() *[]byte    { return b.pool.Get().(*[]byte) }
func (b *bufferPool) put(buf *[]byte) { b.pool.Put(buf) }

// instrumentedConn wraps a net.Conn to invoke closeFunc exactly once, when
// Close succeeds.
type instrumentedConn struct {
	net.Conn
	closeFunc func()
}

func newInstrumentedConn(conn net.Conn, closeFunc func()) *instrumentedConn {
	return &instrumentedConn{Conn: conn, closeFunc: closeFunc}
}

func (i *instrumentedConn) Close() error {
	if err := i.Conn.Close(); err != nil {
		return err
	}
	i.closeFunc()
	return nil
}

// Close closes the Dialer, stopping every instance's refresh cycle.
// Connections already returned by Dial are unaffected.
func (d *Dialer) Close() error {
	select {
	case <-d.closed:
		return nil
	default:
	}
	close(d.closed)

	d.lock.Lock()
	defer d.lock.Unlock()
	for _, c := range d.cache {
		_ = c.Close()
	}
	return nil
}

func (d *Dialer) connectionInfoCache(uri instance.URI) (*monitoredCache, error) {
	d.lock.RLock()
	c, ok := d.cache[uri]
	d.lock.RUnlock()
	if ok {
		return c, nil
	}

	d.lock.Lock()
	defer d.lock.Unlock()
	if c, ok = d.cache[uri]; ok {
		return c, nil
	}

	d.logger.Debugf("[%v] connection info added to cache", uri.String())
	var cache nimbusdb.Cache
	var err error
	switch {
	case d.staticInfoBytes != nil:
		cache, err = nimbusdb.NewStaticConnectionInfoCache(uri, strings.NewReader(string(d.staticInfoBytes)))
	case d.refreshStrategy == nimbusdb.RefreshLazy:
		cache = nimbusdb.NewLazyRefreshCache(uri, d.logger, d.client, d.key)
	default:
		cache = nimbusdb.NewRefreshAheadCache(uri, d.logger, d.client, d.key)
	}
	if err != nil {
		return nil, err
	}
	mc := &monitoredCache{Cache: cache}
	d.cache[uri] = mc
	return mc, nil
}
