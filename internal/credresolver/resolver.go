// Package credresolver implements C6 CredentialResolver: turns an account's
// stored auth (password or OAuth2) into the credential shape IMAPClient/SMTP
// Client need, refreshing OAuth tokens on the way when they are expired or
// close to it.
package credresolver

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aerionmail/mailcore/internal/credentials"
	"github.com/aerionmail/mailcore/internal/logging"
	"github.com/aerionmail/mailcore/internal/mailerrors"
	oauth2pkg "github.com/aerionmail/mailcore/internal/oauth2"
)

// nearExpiryWindow is how far ahead of actual expiry a token is treated as
// due for refresh, so a checkout doesn't race a token dying mid-session.
const nearExpiryWindow = 5 * time.Minute

// CredentialKind distinguishes the two credential shapes a resolved
// Credential can take.
type CredentialKind int

const (
	CredentialPlain CredentialKind = iota
	CredentialOAuth
)

// Credential is the sum type handed to IMAPClient/SMTP Client configs.
type Credential struct {
	Kind        CredentialKind
	Username    string
	Password    string // CredentialPlain
	AccessToken string // CredentialOAuth
}

// Account is the subset of account state the resolver needs; callers supply
// their own store's row type satisfying this.
type Account struct {
	ID       string
	Email    string
	Provider string
	AuthType string // "password" | "oauth2"
}

// TokenStore is the credential store's OAuth-relevant surface
// (satisfied by *credentials.Store).
type TokenStore interface {
	GetPassword(accountID string) (string, error)
	GetOAuthTokens(accountID string) (credentials.OAuthTokens, error)
	SetOAuthTokens(accountID string, tokens credentials.OAuthTokens) error
}

// Resolver is C6 CredentialResolver.
type Resolver struct {
	store TokenStore
	log   zerolog.Logger
}

func New(store TokenStore) *Resolver {
	return &Resolver{store: store, log: logging.WithComponent("credresolver")}
}

// Resolve produces one Credential for account, refreshing an OAuth token when
// it is expired or within nearExpiryWindow of expiring.
func (r *Resolver) Resolve(ctx context.Context, acct Account) (Credential, error) {
	if acct.AuthType != "oauth2" {
		password, err := r.store.GetPassword(acct.ID)
		if err != nil {
			return Credential{}, mailerrors.Wrap(mailerrors.NoCredentials, "password lookup failed", err)
		}
		return Credential{Kind: CredentialPlain, Username: acct.Email, Password: password}, nil
	}

	tokens, err := r.store.GetOAuthTokens(acct.ID)
	if err != nil {
		return Credential{}, mailerrors.Wrap(mailerrors.NoCredentials, "oauth token lookup failed", err)
	}

	now := time.Now()
	expiresAt := tokens.ExpiresAt
	expired := !expiresAt.IsZero() && now.After(expiresAt)
	nearExpiry := !expiresAt.IsZero() && now.Add(nearExpiryWindow).After(expiresAt)

	if !expired && !nearExpiry {
		return Credential{Kind: CredentialOAuth, Username: acct.Email, AccessToken: tokens.AccessToken}, nil
	}

	refreshed, refreshErr := r.refreshWithRetry(ctx, acct, tokens.RefreshToken)
	if refreshErr != nil {
		if !expired {
			// Not yet expired: ride out on the existing token rather than fail
			// the whole checkout over a transient refresh hiccup.
			r.log.Warn().Err(refreshErr).Str("account", acct.ID).Msg("oauth refresh failed, using existing token")
			return Credential{Kind: CredentialOAuth, Username: acct.Email, AccessToken: tokens.AccessToken}, nil
		}
		return Credential{}, mailerrors.Wrap(mailerrors.TokenRefreshFailed, "oauth refresh failed on expired token", refreshErr)
	}

	newTokens := credentials.OAuthTokens{
		AccessToken:  refreshed.AccessToken,
		RefreshToken: refreshed.RefreshToken,
		ExpiresAt:    refreshed.Expiry,
		Scope:        tokens.Scope,
	}
	if err := r.store.SetOAuthTokens(acct.ID, newTokens); err != nil {
		r.log.Warn().Err(err).Str("account", acct.ID).Msg("failed to persist refreshed oauth token")
	}
	return Credential{Kind: CredentialOAuth, Username: acct.Email, AccessToken: refreshed.AccessToken}, nil
}

// Both is IMAP + SMTP credential resolution in one pass, avoiding a double
// refresh when both protocols share the same OAuth token.
func (r *Resolver) Both(ctx context.Context, acct Account) (imapCred, smtpCred Credential, err error) {
	cred, err := r.Resolve(ctx, acct)
	if err != nil {
		return Credential{}, Credential{}, err
	}
	return cred, cred, nil
}

type refreshedToken struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// refreshWithRetry retries the token endpoint up to 3 times with exponential
// backoff (base 2s, factor 2), per spec §6's OAuth refresh policy.
func (r *Resolver) refreshWithRetry(ctx context.Context, acct Account, refreshToken string) (refreshedToken, error) {
	const maxAttempts = 3
	backoff := 2 * time.Second
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return refreshedToken{}, ctx.Err()
			}
		}

		tok, err := oauth2pkg.Refresh(ctx, acct.Provider, refreshToken)
		if err == nil {
			rt := tok.RefreshToken
			if rt == "" {
				rt = refreshToken // providers often omit an unchanged refresh token
			}
			return refreshedToken{AccessToken: tok.AccessToken, RefreshToken: rt, Expiry: tok.Expiry}, nil
		}
		lastErr = err
	}
	return refreshedToken{}, lastErr
}
