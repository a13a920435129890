// Package tlsconn implements C1 TLSConnection: a byte-oriented socket with
// optional in-place TLS upgrade and read/write/handshake timeouts. It is the
// lowest layer both IMAPSession and SMTPSession are built on.
package tlsconn

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/aerionmail/mailcore/internal/logging"
	"github.com/aerionmail/mailcore/internal/mailerrors"
)

// MinTLSVersion is the floor this package enforces post-handshake regardless
// of what the OS TLS stack would otherwise allow (spec §6 TLS).
const MinTLSVersion = tls.VersionTLS12

// Conn is a single-owner, serialized byte stream: at most one inflight read
// and one inflight write at a time, matching spec §5's "all I/O serialized
// per connection" rule. Callers (IMAPSession/SMTPSession) own the serialization;
// Conn itself just enforces deadlines and idempotent close.
type Conn struct {
	raw    net.Conn
	tls    *tls.Conn // non-nil once in TLS mode
	closed atomic.Bool
}

// ConnectTLS dials host:port and performs the TLS handshake in one step
// (implicit TLS, e.g. IMAPS on 993 / SMTPS on 465).
func ConnectTLS(ctx context.Context, host string, port int, timeout time.Duration) (*Conn, error) {
	log := logging.WithComponent("tlsconn")
	addr := fmt.Sprintf("%s:%d", host, port)

	dialer := &net.Dialer{Timeout: timeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, mailerrors.Wrap(mailerrors.ConnectionFailed, "tcp connect failed", err)
	}

	tlsConf := &tls.Config{ServerName: host, MinVersion: MinTLSVersion}
	tlsConn := tls.Client(rawConn, tlsConf)
	tlsConn.SetDeadline(time.Now().Add(timeout))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		if isCertError(err) {
			return nil, mailerrors.Wrap(mailerrors.CertificateValidationFail, "tls handshake failed", err)
		}
		return nil, mailerrors.Wrap(mailerrors.TLSUpgradeFailed, "tls handshake failed", err)
	}
	tlsConn.SetDeadline(time.Time{})

	if err := verifyNegotiated(tlsConn); err != nil {
		tlsConn.Close()
		return nil, err
	}

	log.Debug().Str("host", host).Int("port", port).Msg("implicit TLS connection established")
	return &Conn{raw: tlsConn, tls: tlsConn}, nil
}

// ConnectPlain dials host:port without TLS, returning a plaintext socket
// (used for the plaintext phase of STARTTLS, and debug-only ConnectionSecurity.Plain).
func ConnectPlain(ctx context.Context, host string, port int, timeout time.Duration) (*Conn, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	dialer := &net.Dialer{Timeout: timeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, mailerrors.Wrap(mailerrors.ConnectionFailed, "tcp connect failed", err)
	}
	return &Conn{raw: rawConn}, nil
}

// UpgradeTLS performs an in-place TLS handshake over an already-connected
// plaintext socket (STARTTLS). SNI is fixed to host. Post-handshake this
// enforces TLS >= 1.2 and a validated (non-expired, non-self-signed) chain.
func (c *Conn) UpgradeTLS(ctx context.Context, host string, timeout time.Duration) error {
	if c.tls != nil {
		return mailerrors.New(mailerrors.TLSUpgradeFailed, "connection is already in TLS mode")
	}

	tlsConf := &tls.Config{ServerName: host, MinVersion: MinTLSVersion}
	tlsConn := tls.Client(c.raw, tlsConf)
	tlsConn.SetDeadline(time.Now().Add(timeout))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		if isCertError(err) {
			return mailerrors.Wrap(mailerrors.CertificateValidationFail, "tls upgrade failed", err)
		}
		return mailerrors.Wrap(mailerrors.TLSUpgradeFailed, "tls upgrade failed", err)
	}
	tlsConn.SetDeadline(time.Time{})

	if err := verifyNegotiated(tlsConn); err != nil {
		return err
	}

	c.tls = tlsConn
	c.raw = tlsConn
	return nil
}

func verifyNegotiated(tlsConn *tls.Conn) error {
	state := tlsConn.ConnectionState()
	if state.Version < MinTLSVersion {
		return mailerrors.New(mailerrors.CertificateValidationFail, "negotiated TLS version below 1.2")
	}
	if len(state.PeerCertificates) == 0 {
		return mailerrors.New(mailerrors.CertificateValidationFail, "no peer certificates presented")
	}
	return nil
}

func isCertError(err error) bool {
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var invalidErr x509.CertificateInvalidError
	var authErr x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	return errors.As(err, &invalidErr) || errors.As(err, &authErr) || errors.As(err, &hostErr)
}

// Send writes bytes with a write deadline. Every byte is written or an error
// is returned; partial writes under deadline are retried internally by net.Conn.
func (c *Conn) Send(b []byte, timeout time.Duration) error {
	if c.closed.Load() {
		return mailerrors.New(mailerrors.Cancelled, "connection closed")
	}
	if err := c.raw.SetWriteDeadline(deadline(timeout)); err != nil {
		return mailerrors.Wrap(mailerrors.ConnectionFailed, "set write deadline", err)
	}
	_, err := c.raw.Write(b)
	if err != nil {
		if c.closed.Load() {
			return mailerrors.New(mailerrors.Cancelled, "connection closed during write")
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return mailerrors.Wrap(mailerrors.Timeout, "write timed out", err)
		}
		return mailerrors.Wrap(mailerrors.ConnectionFailed, "write failed", err)
	}
	return nil
}

// Receive reads up to maxBytes with a read deadline. A read that returns zero
// bytes without error is normalized to ConnectionClosed, matching spec §4.1.
func (c *Conn) Receive(maxBytes int, timeout time.Duration) ([]byte, error) {
	if c.closed.Load() {
		return nil, mailerrors.New(mailerrors.Cancelled, "connection closed")
	}
	if err := c.raw.SetReadDeadline(deadline(timeout)); err != nil {
		return nil, mailerrors.Wrap(mailerrors.ConnectionFailed, "set read deadline", err)
	}
	buf := make([]byte, maxBytes)
	n, err := c.raw.Read(buf)
	if err != nil {
		if c.closed.Load() {
			return nil, mailerrors.New(mailerrors.Cancelled, "connection closed during read")
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, mailerrors.Wrap(mailerrors.Timeout, "read timed out", err)
		}
		return nil, mailerrors.Wrap(mailerrors.ConnectionClosed, "read failed", err)
	}
	if n == 0 {
		return nil, mailerrors.New(mailerrors.ConnectionClosed, "peer closed connection")
	}
	return buf[:n], nil
}

// Close is idempotent and safe to call concurrently with pending I/O; any
// in-flight Send/Receive will observe Cancelled rather than a raw net error.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.raw.Close()
}

// IsTLS reports whether the connection is currently operating in TLS mode.
func (c *Conn) IsTLS() bool { return c.tls != nil }

// Underlying exposes the net.Conn for protocol layers that need direct
// bufio wrapping (IMAPSession/SMTPSession own their own receive buffer).
func (c *Conn) Underlying() net.Conn { return c.raw }

func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}
