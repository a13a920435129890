package imap

import "github.com/emersion/go-sasl"

// xoauth2Client implements sasl.Client for the XOAUTH2 mechanism used by
// Gmail and Microsoft 365 (not in any RFC; documented by each provider).
// The initial response is the only message exchanged; a server-side failure
// comes back as a one-shot error JSON blob the protocol layer can ignore.
type xoauth2Client struct {
	username string
	token    string
}

// NewXOAuth2Client builds a SASL client for "AUTHENTICATE XOAUTH2".
func NewXOAuth2Client(username, accessToken string) sasl.Client {
	return &xoauth2Client{username: username, token: accessToken}
}

func (c *xoauth2Client) Start() (mech string, ir []byte, err error) {
	ir = []byte("user=" + c.username + "\x01auth=Bearer " + c.token + "\x01\x01")
	return "XOAUTH2", ir, nil
}

func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	// A non-empty challenge here is the server's error response; respond with
	// an empty message so the server can close out the failed exchange.
	return []byte{}, nil
}
