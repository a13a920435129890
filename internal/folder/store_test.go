package folder

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerionmail/mailcore/internal/database"
)

// newTestDB opens a fresh migrated sqlite db and seeds one account row,
// since folders carry a foreign key to accounts.
func newTestDB(t *testing.T) (*database.DB, string) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "folder_test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	const accountID = "acct-1"
	_, err = db.Exec(`INSERT INTO accounts (id, name, email, imap_host, smtp_host, username) VALUES (?, 'Alice', 'alice@example.com', 'imap.example.com', 'smtp.example.com', 'alice@example.com')`, accountID)
	require.NoError(t, err)
	return db, accountID
}

func TestUpsertByPathInsertsNewFolder(t *testing.T) {
	db, accountID := newTestDB(t)
	s := NewStore(db)

	f := &Folder{AccountID: accountID, Name: "Inbox", IMAPPath: "INBOX", Delimiter: "/", Type: TypeInbox, UIDValidity: 100, TotalCount: 5}
	saved, err := s.UpsertByPath(f)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	got, err := s.Get(saved.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Inbox", got.Name)
	assert.Equal(t, TypeInbox, got.Type)
	assert.Equal(t, uint32(100), got.UIDValidity)
}

func TestUpsertByPathUpdatesExistingFolder(t *testing.T) {
	db, accountID := newTestDB(t)
	s := NewStore(db)

	first, err := s.UpsertByPath(&Folder{AccountID: accountID, Name: "Inbox", IMAPPath: "INBOX", Type: TypeInbox, UIDValidity: 100, TotalCount: 5})
	require.NoError(t, err)

	second, err := s.UpsertByPath(&Folder{AccountID: accountID, Name: "Inbox Renamed", IMAPPath: "INBOX", Type: TypeInbox, UIDValidity: 999, TotalCount: 9})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same (account, path) must update in place, not duplicate")

	got, err := s.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Inbox Renamed", got.Name)
	assert.Equal(t, 9, got.TotalCount)
	assert.Equal(t, uint32(100), got.UIDValidity, "uid_validity is set only on insert, never overwritten on update")
}

func TestGetByPath(t *testing.T) {
	db, accountID := newTestDB(t)
	s := NewStore(db)
	saved, err := s.UpsertByPath(&Folder{AccountID: accountID, Name: "Inbox", IMAPPath: "INBOX", Type: TypeInbox})
	require.NoError(t, err)

	got, err := s.GetByPath(accountID, "INBOX")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, saved.ID, got.ID)

	missing, err := s.GetByPath(accountID, "Nonexistent")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListByAccountOrdersByName(t *testing.T) {
	db, accountID := newTestDB(t)
	s := NewStore(db)
	_, err := s.UpsertByPath(&Folder{AccountID: accountID, Name: "Sent", IMAPPath: "Sent", Type: TypeSent})
	require.NoError(t, err)
	_, err = s.UpsertByPath(&Folder{AccountID: accountID, Name: "Archive", IMAPPath: "Archive", Type: TypeArchive})
	require.NoError(t, err)

	list, err := s.ListByAccount(accountID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Archive", list[0].Name)
	assert.Equal(t, "Sent", list[1].Name)
}

func TestResetUIDValidityClearsCursorsAndStatus(t *testing.T) {
	db, accountID := newTestDB(t)
	s := NewStore(db)
	saved, err := s.UpsertByPath(&Folder{AccountID: accountID, Name: "Inbox", IMAPPath: "INBOX", Type: TypeInbox, UIDValidity: 1})
	require.NoError(t, err)
	require.NoError(t, s.AdvanceForwardCursor(saved.ID, 42))
	require.NoError(t, s.SetInitialFastCompleted(saved.ID, true))

	require.NoError(t, s.ResetUIDValidity(saved.ID, 2))

	got, err := s.Get(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), got.UIDValidity)
	assert.Nil(t, got.ForwardCursorUID)
	assert.Nil(t, got.BackfillCursorUID)
	assert.False(t, got.InitialFastCompleted)
	assert.Equal(t, CatchUpIdle, got.CatchUpStatus)
}

func TestAdvanceCursorsAndCounts(t *testing.T) {
	db, accountID := newTestDB(t)
	s := NewStore(db)
	saved, err := s.UpsertByPath(&Folder{AccountID: accountID, Name: "Inbox", IMAPPath: "INBOX", Type: TypeInbox})
	require.NoError(t, err)

	require.NoError(t, s.AdvanceForwardCursor(saved.ID, 10))
	require.NoError(t, s.AdvanceBackfillCursor(saved.ID, 3))
	require.NoError(t, s.UpdateCounts(saved.ID, 20, 4))
	require.NoError(t, s.SetCatchUpStatus(saved.ID, CatchUpRunning))

	got, err := s.Get(saved.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ForwardCursorUID)
	assert.Equal(t, uint32(10), *got.ForwardCursorUID)
	require.NotNil(t, got.BackfillCursorUID)
	assert.Equal(t, uint32(3), *got.BackfillCursorUID)
	assert.Equal(t, 20, got.TotalCount)
	assert.Equal(t, 4, got.UnreadCount)
	assert.Equal(t, CatchUpRunning, got.CatchUpStatus)
}
