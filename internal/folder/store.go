package folder

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aerionmail/mailcore/internal/database"
	"github.com/aerionmail/mailcore/internal/logging"
)

// Store provides folder persistence, grounded on the teacher's
// internal/sync/folders.go upsert-by-path pattern.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db, log: logging.WithComponent("folder-store")}
}

const selectColumns = `
	id, account_id, name, imap_path, delimiter, folder_type,
	uid_validity, total_count, unread_count,
	last_sync_at, forward_cursor_uid, backfill_cursor_uid,
	initial_fast_completed, catch_up_status
`

func scanFolder(scanner interface {
	Scan(dest ...any) error
}) (*Folder, error) {
	f := &Folder{}
	var lastSyncAt sql.NullTime
	var forwardCursor, backfillCursor sql.NullInt64

	err := scanner.Scan(
		&f.ID, &f.AccountID, &f.Name, &f.IMAPPath, &f.Delimiter, &f.Type,
		&f.UIDValidity, &f.TotalCount, &f.UnreadCount,
		&lastSyncAt, &forwardCursor, &backfillCursor,
		&f.InitialFastCompleted, &f.CatchUpStatus,
	)
	if err != nil {
		return nil, err
	}
	if lastSyncAt.Valid {
		f.LastSyncAt = &lastSyncAt.Time
	}
	if forwardCursor.Valid {
		v := uint32(forwardCursor.Int64)
		f.ForwardCursorUID = &v
	}
	if backfillCursor.Valid {
		v := uint32(backfillCursor.Int64)
		f.BackfillCursorUID = &v
	}
	return f, nil
}

// Get retrieves one folder by id.
func (s *Store) Get(id string) (*Folder, error) {
	row := s.db.QueryRow("SELECT "+selectColumns+" FROM folders WHERE id = ?", id)
	f, err := scanFolder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query folder %s: %w", id, err)
	}
	return f, nil
}

// GetByPath retrieves one folder by (account, imap_path).
func (s *Store) GetByPath(accountID, imapPath string) (*Folder, error) {
	row := s.db.QueryRow("SELECT "+selectColumns+" FROM folders WHERE account_id = ? AND imap_path = ?", accountID, imapPath)
	f, err := scanFolder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query folder by path: %w", err)
	}
	return f, nil
}

// ListByAccount returns every folder for an account.
func (s *Store) ListByAccount(accountID string) ([]*Folder, error) {
	rows, err := s.db.Query("SELECT "+selectColumns+" FROM folders WHERE account_id = ? ORDER BY name", accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	var out []*Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan folder row: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpsertByPath creates or updates a folder row by (account_id, imap_path),
// per spec §4.9's folder-list-sync upsert rule: update display name/type/
// total count always; set uid_validity only when the folder is new.
func (s *Store) UpsertByPath(f *Folder) (*Folder, error) {
	existing, err := s.GetByPath(f.AccountID, f.IMAPPath)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		_, err := s.db.Exec(`
			INSERT INTO folders (id, account_id, name, imap_path, delimiter, folder_type, uid_validity, total_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, f.ID, f.AccountID, f.Name, f.IMAPPath, f.Delimiter, f.Type, f.UIDValidity, f.TotalCount)
		if err != nil {
			return nil, fmt.Errorf("failed to insert folder: %w", err)
		}
		return f, nil
	}

	_, err = s.db.Exec(`
		UPDATE folders SET name = ?, folder_type = ?, total_count = ? WHERE id = ?
	`, f.Name, f.Type, f.TotalCount, existing.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update folder: %w", err)
	}
	existing.Name = f.Name
	existing.Type = f.Type
	existing.TotalCount = f.TotalCount
	return existing, nil
}

// ResetUIDValidity clears both sync cursors and marks catch-up as needing a
// fresh pass, per spec's UIDVALIDITY-change handling.
func (s *Store) ResetUIDValidity(folderID string, newUIDValidity uint32) error {
	_, err := s.db.Exec(`
		UPDATE folders SET uid_validity = ?, forward_cursor_uid = NULL, backfill_cursor_uid = NULL,
		initial_fast_completed = 0, catch_up_status = 'idle' WHERE id = ?
	`, newUIDValidity, folderID)
	if err != nil {
		return fmt.Errorf("failed to reset uid validity: %w", err)
	}
	return nil
}

// AdvanceForwardCursor moves the forward (new-mail) cursor after a
// successful incremental pull.
func (s *Store) AdvanceForwardCursor(folderID string, uid uint32) error {
	_, err := s.db.Exec(`
		UPDATE folders SET forward_cursor_uid = ?, last_sync_at = CURRENT_TIMESTAMP WHERE id = ?
	`, uid, folderID)
	if err != nil {
		return fmt.Errorf("failed to advance forward cursor: %w", err)
	}
	return nil
}

// AdvanceBackfillCursor moves the backfill (catch-up) cursor backwards.
func (s *Store) AdvanceBackfillCursor(folderID string, uid uint32) error {
	_, err := s.db.Exec("UPDATE folders SET backfill_cursor_uid = ? WHERE id = ?", uid, folderID)
	if err != nil {
		return fmt.Errorf("failed to advance backfill cursor: %w", err)
	}
	return nil
}

// SetInitialFastCompleted marks the inbox's first fast pass done.
func (s *Store) SetInitialFastCompleted(folderID string, done bool) error {
	_, err := s.db.Exec("UPDATE folders SET initial_fast_completed = ? WHERE id = ?", done, folderID)
	if err != nil {
		return fmt.Errorf("failed to set initial fast completed: %w", err)
	}
	return nil
}

// SetCatchUpStatus updates a folder's backfill status (pause/resume).
func (s *Store) SetCatchUpStatus(folderID string, status CatchUpStatus) error {
	_, err := s.db.Exec("UPDATE folders SET catch_up_status = ? WHERE id = ?", status, folderID)
	if err != nil {
		return fmt.Errorf("failed to set catch up status: %w", err)
	}
	return nil
}

// UpdateCounts refreshes the total/unread counters reported from STATUS/SELECT.
func (s *Store) UpdateCounts(folderID string, total, unread int) error {
	_, err := s.db.Exec("UPDATE folders SET total_count = ?, unread_count = ? WHERE id = ?", total, unread, folderID)
	if err != nil {
		return fmt.Errorf("failed to update folder counts: %w", err)
	}
	return nil
}
