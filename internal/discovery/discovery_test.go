package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainOf(t *testing.T) {
	tests := []struct {
		name  string
		email string
		want  string
	}{
		{name: "simple address", email: "alice@example.com", want: "example.com"},
		{name: "subdomain", email: "bob@mail.example.co.uk", want: "mail.example.co.uk"},
		{name: "no at sign", email: "not-an-email", want: ""},
		{name: "trailing at sign", email: "alice@", want: ""},
		{name: "empty string", email: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, domainOf(tt.email))
		})
	}
}

func TestDomainPattern(t *testing.T) {
	tests := []struct {
		name   string
		domain string
		valid  bool
	}{
		{name: "simple domain", domain: "example.com", valid: true},
		{name: "subdomain", domain: "mail.example.co.uk", valid: true},
		{name: "hyphenated label", domain: "my-mail.example.com", valid: true},
		{name: "single label rejected", domain: "localhost", valid: false},
		{name: "leading dot rejected", domain: ".example.com", valid: false},
		{name: "trailing dot rejected", domain: "example.com.", valid: false},
		{name: "empty rejected", domain: "", valid: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, domainPattern.MatchString(tt.domain))
		})
	}
}

func TestSocketTypeToSecurity(t *testing.T) {
	assert.Equal(t, SecurityTLS, socketTypeToSecurity("SSL"))
	assert.Equal(t, SecurityTLS, socketTypeToSecurity("TLS"))
	assert.Equal(t, SecurityStartTLS, socketTypeToSecurity("STARTTLS"))
	assert.Equal(t, SecurityStartTLS, socketTypeToSecurity("starttls"))
	assert.Equal(t, SecurityTLS, socketTypeToSecurity("plain"), "unrecognized socket types default to TLS")
}

func TestAuthenticationToMethod(t *testing.T) {
	assert.Equal(t, AuthXOAuth2, authenticationToMethod("OAuth2"))
	assert.Equal(t, AuthXOAuth2, authenticationToMethod("xoauth2"))
	assert.Equal(t, AuthPlain, authenticationToMethod("password-cleartext"))
	assert.Equal(t, AuthPlain, authenticationToMethod(""))
}
