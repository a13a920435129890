package credresolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerionmail/mailcore/internal/credentials"
	"github.com/aerionmail/mailcore/internal/mailerrors"
)

// fakeTokenStore is an in-memory TokenStore double; no account, credentials,
// or discovery package in this tree ships one, so it lives alongside the
// test that needs it.
type fakeTokenStore struct {
	passwords   map[string]string
	oauthTokens map[string]credentials.OAuthTokens
	setCalls    []credentials.OAuthTokens
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{
		passwords:   make(map[string]string),
		oauthTokens: make(map[string]credentials.OAuthTokens),
	}
}

func (f *fakeTokenStore) GetPassword(accountID string) (string, error) {
	pw, ok := f.passwords[accountID]
	if !ok {
		return "", assert.AnError
	}
	return pw, nil
}

func (f *fakeTokenStore) GetOAuthTokens(accountID string) (credentials.OAuthTokens, error) {
	tok, ok := f.oauthTokens[accountID]
	if !ok {
		return credentials.OAuthTokens{}, assert.AnError
	}
	return tok, nil
}

func (f *fakeTokenStore) SetOAuthTokens(accountID string, tokens credentials.OAuthTokens) error {
	f.oauthTokens[accountID] = tokens
	f.setCalls = append(f.setCalls, tokens)
	return nil
}

func TestResolvePlainPassword(t *testing.T) {
	store := newFakeTokenStore()
	store.passwords["acct-1"] = "hunter2"
	r := New(store)

	cred, err := r.Resolve(context.Background(), Account{ID: "acct-1", Email: "alice@example.com", AuthType: "password"})
	require.NoError(t, err)
	assert.Equal(t, CredentialPlain, cred.Kind)
	assert.Equal(t, "alice@example.com", cred.Username)
	assert.Equal(t, "hunter2", cred.Password)
}

func TestResolvePlainPasswordMissingCredentialsWrapsNoCredentials(t *testing.T) {
	store := newFakeTokenStore()
	r := New(store)

	_, err := r.Resolve(context.Background(), Account{ID: "acct-missing", AuthType: "password"})
	require.Error(t, err)
	var merr *mailerrors.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, mailerrors.NoCredentials, merr.Kind)
}

func TestResolveOAuthTokenNotNearExpiryDoesNotRefresh(t *testing.T) {
	store := newFakeTokenStore()
	store.oauthTokens["acct-1"] = credentials.OAuthTokens{
		AccessToken: "access-tok",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	r := New(store)

	cred, err := r.Resolve(context.Background(), Account{ID: "acct-1", Email: "alice@example.com", AuthType: "oauth2"})
	require.NoError(t, err)
	assert.Equal(t, CredentialOAuth, cred.Kind)
	assert.Equal(t, "access-tok", cred.AccessToken)
	assert.Empty(t, store.setCalls, "a token far from expiry should never trigger a refresh/persist")
}

func TestBothReturnsSameCredentialForBothProtocols(t *testing.T) {
	store := newFakeTokenStore()
	store.passwords["acct-1"] = "hunter2"
	r := New(store)

	imapCred, smtpCred, err := r.Both(context.Background(), Account{ID: "acct-1", Email: "alice@example.com", AuthType: "password"})
	require.NoError(t, err)
	assert.Equal(t, imapCred, smtpCred)
}
