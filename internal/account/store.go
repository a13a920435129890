package account

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aerionmail/mailcore/internal/database"
	"github.com/aerionmail/mailcore/internal/logging"
)

// Store provides account persistence, grounded on the teacher's message
// store's query/scan shape (github.com/hkdb/aerion/internal/message.Store)
// but scoped to the accounts table.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db, log: logging.WithComponent("account-store")}
}

const selectColumns = `
	id, name, email, provider,
	imap_host, imap_port, imap_security,
	smtp_host, smtp_port, smtp_security,
	auth_type, username,
	active, order_index,
	sync_window_days, connection_limit, idle_refresh_seconds, archive_strategy,
	created_at, updated_at
`

func scanAccount(row *sql.Row) (*Account, error) {
	a := &Account{}
	err := row.Scan(
		&a.ID, &a.Name, &a.Email, &a.Provider,
		&a.IMAPHost, &a.IMAPPort, &a.IMAPSecurity,
		&a.SMTPHost, &a.SMTPPort, &a.SMTPSecurity,
		&a.AuthType, &a.Username,
		&a.Active, &a.OrderIndex,
		&a.SyncWindowDays, &a.ConnectionLimit, &a.IdleRefreshSeconds, &a.ArchiveStrategy,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Get retrieves one account by id.
func (s *Store) Get(id string) (*Account, error) {
	row := s.db.QueryRow("SELECT "+selectColumns+" FROM accounts WHERE id = ?", id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query account %s: %w", id, err)
	}
	return a, nil
}

// GetByEmail retrieves one account by its email address.
func (s *Store) GetByEmail(email string) (*Account, error) {
	row := s.db.QueryRow("SELECT "+selectColumns+" FROM accounts WHERE email = ?", email)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query account by email: %w", err)
	}
	return a, nil
}

// List returns every account ordered by order_index.
func (s *Store) List() ([]*Account, error) {
	rows, err := s.db.Query("SELECT " + selectColumns + " FROM accounts ORDER BY order_index, created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		a := &Account{}
		if err := rows.Scan(
			&a.ID, &a.Name, &a.Email, &a.Provider,
			&a.IMAPHost, &a.IMAPPort, &a.IMAPSecurity,
			&a.SMTPHost, &a.SMTPPort, &a.SMTPSecurity,
			&a.AuthType, &a.Username,
			&a.Active, &a.OrderIndex,
			&a.SyncWindowDays, &a.ConnectionLimit, &a.IdleRefreshSeconds, &a.ArchiveStrategy,
			&a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListActive returns only accounts with active = 1, the set SyncEngine and
// IDLEMonitor iterate at startup.
func (s *Store) ListActive() ([]*Account, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var out []*Account
	for _, a := range all {
		if a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

// Create inserts a new account, generating an id when a.ID is empty.
func (s *Store) Create(a *Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.SyncWindowDays == 0 {
		a.SyncWindowDays = 30
	}
	if a.ConnectionLimit == 0 {
		a.ConnectionLimit = 5
	}
	if a.IdleRefreshSeconds == 0 {
		a.IdleRefreshSeconds = 1500
	}
	if a.ArchiveStrategy == "" {
		a.ArchiveStrategy = ArchiveCopyToArchive
	}

	_, err := s.db.Exec(`
		INSERT INTO accounts (
			id, name, email, provider,
			imap_host, imap_port, imap_security,
			smtp_host, smtp_port, smtp_security,
			auth_type, username,
			active, order_index,
			sync_window_days, connection_limit, idle_refresh_seconds, archive_strategy
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.Name, a.Email, a.Provider,
		a.IMAPHost, a.IMAPPort, a.IMAPSecurity,
		a.SMTPHost, a.SMTPPort, a.SMTPSecurity,
		a.AuthType, a.Username,
		a.Active, a.OrderIndex,
		a.SyncWindowDays, a.ConnectionLimit, a.IdleRefreshSeconds, a.ArchiveStrategy,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	s.log.Info().Str("account_id", a.ID).Str("email", a.Email).Msg("account created")
	return nil
}

// UpdateConnectionConfig updates the fields ProviderDiscovery populates.
func (s *Store) UpdateConnectionConfig(id string, a *Account) error {
	_, err := s.db.Exec(`
		UPDATE accounts SET
			imap_host = ?, imap_port = ?, imap_security = ?,
			smtp_host = ?, smtp_port = ?, smtp_security = ?,
			auth_type = ?, archive_strategy = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, a.IMAPHost, a.IMAPPort, a.IMAPSecurity, a.SMTPHost, a.SMTPPort, a.SMTPSecurity,
		a.AuthType, a.ArchiveStrategy, id)
	if err != nil {
		return fmt.Errorf("failed to update account connection config: %w", err)
	}
	return nil
}

// SetActive toggles whether an account is synced.
func (s *Store) SetActive(id string, active bool) error {
	_, err := s.db.Exec("UPDATE accounts SET active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", active, id)
	if err != nil {
		return fmt.Errorf("failed to set account active: %w", err)
	}
	return nil
}

// Delete removes an account and, via ON DELETE CASCADE, every folder/email/
// thread/contact/oauth-token row that references it.
func (s *Store) Delete(id string) error {
	if _, err := s.db.Exec("DELETE FROM accounts WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}
