// Package credentials provides secure credential storage with OS-keyring
// primary storage and an encrypted-database fallback.
package credentials

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gokeyring "github.com/zalando/go-keyring"

	"github.com/aerionmail/mailcore/internal/crypto"
	"github.com/aerionmail/mailcore/internal/logging"
)

const serviceName = "mailcore"

// ErrCredentialNotFound is returned when no credential is stored for a key.
var ErrCredentialNotFound = errors.New("credential not found")

// Store provides credential storage with OS keyring and encrypted DB fallback.
type Store struct {
	db             *sql.DB
	encryptor      *crypto.Encryptor
	keyringEnabled bool
	log            zerolog.Logger
}

// NewStore tries the OS keyring first, falling back to encrypted database
// storage when it is unavailable (headless hosts, locked-down containers).
func NewStore(db *sql.DB, dataDir string) (*Store, error) {
	log := logging.WithComponent("credentials")

	encryptor, err := crypto.NewEncryptor(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	keyringEnabled := testKeyring()
	if keyringEnabled {
		log.Info().Msg("OS keyring available, using as primary credential storage")
	} else {
		log.Warn().Msg("OS keyring not available, using encrypted database storage")
	}

	return &Store{db: db, encryptor: encryptor, keyringEnabled: keyringEnabled, log: log}, nil
}

func testKeyring() bool {
	const testKey = "mailcore-test-keyring-check"
	if err := gokeyring.Set(serviceName, testKey, "test"); err != nil {
		return false
	}
	gokeyring.Delete(serviceName, testKey)
	return true
}

// SetPassword stores a password for an account.
func (s *Store) SetPassword(accountID, password string) error {
	if password == "" {
		return nil
	}

	if s.keyringEnabled {
		if err := gokeyring.Set(serviceName, accountID, password); err == nil {
			s.log.Debug().Str("account_id", accountID).Msg("password stored in OS keyring")
			s.clearDBPassword(accountID)
			return nil
		} else {
			s.log.Warn().Err(err).Msg("failed to store in OS keyring, using fallback")
		}
	}

	encrypted, err := s.encryptor.Encrypt(password)
	if err != nil {
		return fmt.Errorf("failed to encrypt password: %w", err)
	}
	if _, err := s.db.Exec("UPDATE accounts SET encrypted_password = ? WHERE id = ?", encrypted, accountID); err != nil {
		return fmt.Errorf("failed to store encrypted password: %w", err)
	}
	s.log.Debug().Str("account_id", accountID).Msg("password stored in encrypted database")
	return nil
}

// GetPassword retrieves a password for an account.
func (s *Store) GetPassword(accountID string) (string, error) {
	if s.keyringEnabled {
		password, err := gokeyring.Get(serviceName, accountID)
		if err == nil {
			return password, nil
		}
		if err != gokeyring.ErrNotFound {
			s.log.Warn().Err(err).Msg("error reading from OS keyring, trying fallback")
		}
	}

	var encrypted sql.NullString
	err := s.db.QueryRow("SELECT encrypted_password FROM accounts WHERE id = ?", accountID).Scan(&encrypted)
	if err == sql.ErrNoRows {
		return "", ErrCredentialNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query password: %w", err)
	}
	if !encrypted.Valid || encrypted.String == "" {
		return "", ErrCredentialNotFound
	}

	password, err := s.encryptor.Decrypt(encrypted.String)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt password: %w", err)
	}
	return password, nil
}

// DeletePassword removes a password for an account.
func (s *Store) DeletePassword(accountID string) error {
	if s.keyringEnabled {
		gokeyring.Delete(serviceName, accountID)
	}
	s.clearDBPassword(accountID)
	return nil
}

func (s *Store) clearDBPassword(accountID string) {
	s.db.Exec("UPDATE accounts SET encrypted_password = NULL WHERE id = ?", accountID)
}

// OAuthTokens is the resolvable pair stored per account (spec §3 Credential,
// OAuth2 variant).
type OAuthTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
}

// SetOAuthTokens persists both tokens, preferring the OS keyring (one entry
// per token, keyed by suffix) and falling back to the encrypted
// oauth_tokens table row otherwise.
func (s *Store) SetOAuthTokens(accountID string, tokens OAuthTokens) error {
	if s.keyringEnabled {
		accessErr := gokeyring.Set(serviceName, "oauth:"+accountID+":access", tokens.AccessToken)
		refreshErr := gokeyring.Set(serviceName, "oauth:"+accountID+":refresh", tokens.RefreshToken)
		if accessErr == nil && refreshErr == nil {
			if _, err := s.db.Exec(
				`INSERT INTO oauth_tokens (account_id, expires_at, scope) VALUES (?, ?, ?)
				 ON CONFLICT(account_id) DO UPDATE SET expires_at = excluded.expires_at, scope = excluded.scope,
				 encrypted_access_token = NULL, encrypted_refresh_token = NULL`,
				accountID, tokens.ExpiresAt, tokens.Scope,
			); err != nil {
				return fmt.Errorf("failed to record oauth token metadata: %w", err)
			}
			return nil
		}
		s.log.Warn().Msg("failed to store oauth tokens in OS keyring, using fallback")
	}

	encAccess, err := s.encryptor.Encrypt(tokens.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	encRefresh, err := s.encryptor.Encrypt(tokens.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO oauth_tokens (account_id, encrypted_access_token, encrypted_refresh_token, expires_at, scope)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET encrypted_access_token = excluded.encrypted_access_token,
		 encrypted_refresh_token = excluded.encrypted_refresh_token, expires_at = excluded.expires_at, scope = excluded.scope`,
		accountID, encAccess, encRefresh, tokens.ExpiresAt, tokens.Scope,
	)
	if err != nil {
		return fmt.Errorf("failed to store oauth tokens: %w", err)
	}
	return nil
}

// GetOAuthTokens retrieves both tokens for an account.
func (s *Store) GetOAuthTokens(accountID string) (OAuthTokens, error) {
	var expiresAt sql.NullTime
	var scope sql.NullString
	var encAccess, encRefresh sql.NullString

	err := s.db.QueryRow(
		"SELECT encrypted_access_token, encrypted_refresh_token, expires_at, scope FROM oauth_tokens WHERE account_id = ?",
		accountID,
	).Scan(&encAccess, &encRefresh, &expiresAt, &scope)
	if err == sql.ErrNoRows {
		return OAuthTokens{}, ErrCredentialNotFound
	}
	if err != nil {
		return OAuthTokens{}, fmt.Errorf("failed to query oauth tokens: %w", err)
	}

	tokens := OAuthTokens{Scope: scope.String}
	if expiresAt.Valid {
		tokens.ExpiresAt = expiresAt.Time
	}

	if s.keyringEnabled {
		access, accessErr := gokeyring.Get(serviceName, "oauth:"+accountID+":access")
		refresh, refreshErr := gokeyring.Get(serviceName, "oauth:"+accountID+":refresh")
		if accessErr == nil && refreshErr == nil {
			tokens.AccessToken = access
			tokens.RefreshToken = refresh
			return tokens, nil
		}
	}

	if !encAccess.Valid || !encRefresh.Valid {
		return OAuthTokens{}, ErrCredentialNotFound
	}
	access, err := s.encryptor.Decrypt(encAccess.String)
	if err != nil {
		return OAuthTokens{}, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refresh, err := s.encryptor.Decrypt(encRefresh.String)
	if err != nil {
		return OAuthTokens{}, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	tokens.AccessToken = access
	tokens.RefreshToken = refresh
	return tokens, nil
}

// DeleteOAuthTokens removes both tokens for an account.
func (s *Store) DeleteOAuthTokens(accountID string) error {
	if s.keyringEnabled {
		gokeyring.Delete(serviceName, "oauth:"+accountID+":access")
		gokeyring.Delete(serviceName, "oauth:"+accountID+":refresh")
	}
	s.db.Exec("DELETE FROM oauth_tokens WHERE account_id = ?", accountID)
	return nil
}

// DeleteAllCredentials removes every credential kind for an account.
func (s *Store) DeleteAllCredentials(accountID string) error {
	s.DeletePassword(accountID)
	s.DeleteOAuthTokens(accountID)
	return nil
}

// IsKeyringEnabled reports whether the OS keyring is the active backend.
func (s *Store) IsKeyringEnabled() bool {
	return s.keyringEnabled
}
