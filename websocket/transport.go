package websocket

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

// transport is the minimal surface Client needs from the underlying
// socket: a buffered reader/writer pair plus the deadline and close
// controls that let a blocking read be cancelled. A plain net.Conn and
// a *tls.Conn both fit behind the one netTransport adapter, so
// dialTransport wraps whichever it dialed.
type transport interface {
	Reader() *bufio.Reader
	Writer() *bufio.Writer
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

const (
	defaultReadBufferSize  = 4096
	defaultWriteBufferSize = 4096
)

// netTransport adapts a net.Conn (plain TCP or TLS) to transport.
type netTransport struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
}

func newNetTransport(conn net.Conn) *netTransport {
	return &netTransport{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, defaultReadBufferSize),
		writer: bufio.NewWriterSize(conn, defaultWriteBufferSize),
	}
}

func (t *netTransport) Reader() *bufio.Reader          { return t.reader }
func (t *netTransport) Writer() *bufio.Writer          { return t.writer }
func (t *netTransport) SetReadDeadline(d time.Time) error  { return t.conn.SetReadDeadline(d) }
func (t *netTransport) SetWriteDeadline(d time.Time) error { return t.conn.SetWriteDeadline(d) }
func (t *netTransport) Close() error                   { return t.conn.Close() }

// dialTransport opens a TCP connection to tgt, upgrading to TLS when
// tgt.secure is set, and returns it wrapped as a transport.
//
// certPath/certDir, when non-empty, add a PEM certificate file and/or
// directory of PEM files to the TLS root pool instead of trusting only
// the system roots -- useful for dialing a server with a private CA in
// tests and internal deployments.
func dialTransport(ctx context.Context, dialer *net.Dialer, tgt *target, certPath, certDir string) (transport, error) {
	conn, err := dialer.DialContext(ctx, "tcp", tgt.addr())
	if err != nil {
		return nil, err
	}

	if !tgt.secure {
		return newNetTransport(conn), nil
	}

	tlsConfig, err := buildTLSConfig(tgt.host, certPath, certDir)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return newNetTransport(tlsConn), nil
}

// buildTLSConfig returns the TLS client config for a wss:// dial.
// serverName drives both SNI and certificate verification. When
// certPath/certDir are empty, the system root pool is used unmodified.
func buildTLSConfig(serverName, certPath, certDir string) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}

	if certPath == "" && certDir == "" {
		return cfg, nil
	}

	pool, err := loadCertPool(certPath, certDir)
	if err != nil {
		return nil, err
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// loadCertPool builds an x509.CertPool from a single PEM file
// (certPath), a directory of PEM files (certDir), or both. Starting
// from the system pool (when available) means a custom root augments
// rather than replaces the normal trust store.
func loadCertPool(certPath, certDir string) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	if certPath != "" {
		pem, err := os.ReadFile(certPath)
		if err != nil {
			return nil, fmt.Errorf("read cert file: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", certPath)
		}
	}

	if certDir != "" {
		entries, err := os.ReadDir(certDir)
		if err != nil {
			return nil, fmt.Errorf("read cert dir: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			pem, err := os.ReadFile(filepath.Join(certDir, entry.Name()))
			if err != nil {
				return nil, fmt.Errorf("read cert %s: %w", entry.Name(), err)
			}
			pool.AppendCertsFromPEM(pem)
		}
	}

	return pool, nil
}
