// Package smtp implements C3/C4's SMTP side: a single outbound session
// (EHLO/STARTTLS/AUTH/MAIL/RCPT/DATA) plus the retrying send wrapper the sync
// engine's write-back path calls. Built on emersion/go-smtp's client, the
// same vendor family as the IMAP side's go-imap/go-sasl, for RFC 5321 framing
// and multi-line response parsing.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/emersion/go-sasl"
	"github.com/rs/zerolog"

	"github.com/aerionmail/mailcore/internal/config"
	"github.com/aerionmail/mailcore/internal/logging"
	"github.com/aerionmail/mailcore/internal/mailerrors"
)

// SecurityType mirrors imap.SecurityType for the SMTP side.
type SecurityType string

const (
	SecurityTLS      SecurityType = "tls"      // implicit TLS, port 465
	SecurityStartTLS SecurityType = "starttls" // plaintext then STARTTLS, port 587
	SecurityNone     SecurityType = "none"
)

// AuthType selects password vs OAuth2 credential shape.
type AuthType string

const (
	AuthTypePassword AuthType = "password"
	AuthTypeOAuth2   AuthType = "oauth2"
)

// ClientConfig is everything needed to dial, upgrade, and authenticate.
type ClientConfig struct {
	Host     string
	Port     int
	Security SecurityType
	Username string
	Password string

	AuthType    AuthType
	AccessToken string

	ConnectTimeout time.Duration
	TLSConfig      *tls.Config
}

func DefaultClientConfig(d config.Defaults) ClientConfig {
	return ClientConfig{Port: 587, Security: SecurityStartTLS, ConnectTimeout: d.ConnectTimeout}
}

// Client is one outbound SMTP session (C3 SMTPSession wrapped by C4's SMTP
// client operations).
type Client struct {
	config ClientConfig
	client *gosmtp.Client
	log    zerolog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	return &Client{config: cfg, log: logging.WithComponent("smtp")}
}

// Connect dials, negotiates TLS (implicit or STARTTLS), and sends EHLO.
func (c *Client) Connect(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	tlsConf := c.config.TLSConfig
	if tlsConf == nil {
		tlsConf = &tls.Config{ServerName: c.config.Host, MinVersion: tls.VersionTLS12}
	}

	var cl *gosmtp.Client
	var err error
	switch c.config.Security {
	case SecurityTLS:
		cl, err = gosmtp.DialTLS(addr, tlsConf)
	case SecurityStartTLS:
		cl, err = gosmtp.DialStartTLS(addr, tlsConf)
	case SecurityNone:
		cl, err = gosmtp.Dial(addr)
	default:
		return mailerrors.New(mailerrors.ConnectionFailed, "unknown smtp security type")
	}
	if err != nil {
		if c.config.Security == SecurityStartTLS {
			return mailerrors.Wrap(mailerrors.TLSUpgradeFailed, "smtp connect/starttls failed", err)
		}
		return mailerrors.Wrap(mailerrors.ConnectionFailed, "smtp connect failed", err)
	}

	if err := cl.Hello(c.config.Host); err != nil {
		cl.Close()
		return mailerrors.Wrap(mailerrors.CommandFailed, "EHLO failed", err)
	}

	c.client = cl
	return nil
}

// Authenticate runs AUTH with PLAIN or XOAUTH2 depending on AuthType.
func (c *Client) Authenticate() error {
	if c.client == nil {
		return mailerrors.New(mailerrors.ConnectionFailed, "not connected")
	}

	var auth sasl.Client
	switch c.config.AuthType {
	case AuthTypeOAuth2:
		if c.config.AccessToken == "" {
			return mailerrors.New(mailerrors.NoCredentials, "oauth2 login requires an access token")
		}
		auth = newXOAuth2Client(c.config.Username, c.config.AccessToken)
	default:
		auth = sasl.NewPlainClient("", c.config.Username, c.config.Password)
	}

	if err := c.client.Auth(auth); err != nil {
		return mailerrors.Wrap(mailerrors.AuthenticationFailed, "AUTH failed", err)
	}
	return nil
}

// Send runs MAIL FROM / RCPT TO (one per recipient) / DATA with the given
// RFC822 body, dot-stuffing handled internally by go-smtp's Data() writer.
func (c *Client) Send(from string, to []string, body []byte) error {
	if c.client == nil {
		return mailerrors.New(mailerrors.ConnectionFailed, "not connected")
	}

	if err := c.client.Mail(from, nil); err != nil {
		return mailerrors.Wrap(mailerrors.CommandFailed, "MAIL FROM failed", err)
	}
	for _, rcpt := range to {
		if err := c.client.Rcpt(rcpt, nil); err != nil {
			return mailerrors.Wrap(mailerrors.CommandFailed, "RCPT TO failed", err)
		}
	}

	w, err := c.client.Data()
	if err != nil {
		return mailerrors.Wrap(mailerrors.CommandFailed, "DATA failed", err)
	}
	if _, err := w.Write(body); err != nil {
		w.Close()
		return mailerrors.Wrap(mailerrors.CommandFailed, "DATA write failed", err)
	}
	if err := w.Close(); err != nil {
		return mailerrors.Wrap(mailerrors.CommandFailed, "DATA close failed", err)
	}
	return nil
}

// Close sends QUIT and releases the socket.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Quit()
	c.client = nil
	if err != nil {
		return mailerrors.Wrap(mailerrors.CommandFailed, "QUIT failed", err)
	}
	return nil
}

var _ io.Closer = (*Client)(nil)

// SendWithRetry connects, authenticates, and sends, making up to maxAttempts
// attempts in total with linear backoff between them on a retryable
// (connection-class) error; non-retryable errors (auth failure, rejected
// recipient) fail fast.
func SendWithRetry(ctx context.Context, cfg ClientConfig, from string, to []string, body []byte, maxAttempts int, backoff time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff * time.Duration(attempt)):
			case <-ctx.Done():
				return mailerrors.Wrap(mailerrors.OperationCancelled, "send cancelled", ctx.Err())
			}
		}

		client := NewClient(cfg)
		err := func() error {
			if err := client.Connect(ctx); err != nil {
				return err
			}
			defer client.Close()
			if err := client.Authenticate(); err != nil {
				return err
			}
			return client.Send(from, to, body)
		}()
		if err == nil {
			return nil
		}
		lastErr = err
		if !mailerrors.Retryable(err) {
			return err
		}
	}
	return mailerrors.Wrap(mailerrors.MaxRetriesExhausted, "send retries exhausted", lastErr)
}
