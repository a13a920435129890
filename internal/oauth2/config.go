// Package oauth2 resolves per-provider OAuth2 app registrations and refreshes
// account tokens via golang.org/x/oauth2.
package oauth2

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
)

// Build-time client IDs/secrets, injected via:
//
//	go build -ldflags "-X 'github.com/aerionmail/mailcore/internal/oauth2.GoogleClientID=xxx'"
var (
	GoogleClientID     string
	GoogleClientSecret string
	MicrosoftClientID  string
	MicrosoftSecret    string
)

func IsGoogleConfigured() bool    { return GoogleClientID != "" }
func IsMicrosoftConfigured() bool { return MicrosoftClientID != "" }

func IsProviderConfigured(provider string) bool {
	switch provider {
	case "google":
		return IsGoogleConfigured()
	case "microsoft":
		return IsMicrosoftConfigured()
	default:
		return false
	}
}

// endpointConfig returns the oauth2.Config for the named provider's IMAP/SMTP
// scope, used only to drive a refresh-token exchange (no interactive flow
// lives in this core; the UI layer owns the initial authorization).
func endpointConfig(provider string) (*oauth2.Config, bool) {
	switch provider {
	case "google":
		if !IsGoogleConfigured() {
			return nil, false
		}
		return &oauth2.Config{
			ClientID:     GoogleClientID,
			ClientSecret: GoogleClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"https://mail.google.com/"},
		}, true
	case "microsoft":
		if !IsMicrosoftConfigured() {
			return nil, false
		}
		return &oauth2.Config{
			ClientID:     MicrosoftClientID,
			ClientSecret: MicrosoftSecret,
			Endpoint:     microsoft.AzureADEndpoint("common"),
			Scopes:       []string{"https://outlook.office.com/IMAP.AccessAsUser.All", "https://outlook.office.com/SMTP.Send"},
		}, true
	default:
		return nil, false
	}
}

// Refresh exchanges a refresh token for a fresh access token via the
// provider's token endpoint.
func Refresh(ctx context.Context, provider, refreshToken string) (*oauth2.Token, error) {
	cfg, ok := endpointConfig(provider)
	if !ok {
		return nil, errUnconfiguredProvider(provider)
	}
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	return src.Token()
}

type unconfiguredProviderError struct{ provider string }

func (e *unconfiguredProviderError) Error() string {
	return "oauth2: provider not configured: " + e.provider
}

func errUnconfiguredProvider(provider string) error {
	return &unconfiguredProviderError{provider: provider}
}
