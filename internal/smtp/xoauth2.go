package smtp

import "github.com/emersion/go-sasl"

// xoauth2Client mirrors internal/imap's XOAUTH2 SASL client for the SMTP
// AUTH exchange (same wire format, different transport).
type xoauth2Client struct {
	username string
	token    string
}

func newXOAuth2Client(username, accessToken string) sasl.Client {
	return &xoauth2Client{username: username, token: accessToken}
}

func (c *xoauth2Client) Start() (mech string, ir []byte, err error) {
	ir = []byte("user=" + c.username + "\x01auth=Bearer " + c.token + "\x01\x01")
	return "XOAUTH2", ir, nil
}

func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	return []byte{}, nil
}
