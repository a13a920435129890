package email

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerionmail/mailcore/internal/database"
)

// newTestDB opens a fresh migrated sqlite db and seeds one account and two
// folder rows, since emails/email_folders carry foreign keys to both.
func newTestDB(t *testing.T) (*database.DB, string, string, string) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "email_test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	const accountID = "acct-1"
	_, err = db.Exec(`INSERT INTO accounts (id, name, email, imap_host, smtp_host, username) VALUES (?, 'Alice', 'alice@example.com', 'imap.example.com', 'smtp.example.com', 'alice@example.com')`, accountID)
	require.NoError(t, err)

	const folderA, folderB = "folder-a", "folder-b"
	_, err = db.Exec(`INSERT INTO folders (id, account_id, name, imap_path) VALUES (?, ?, 'Inbox', 'INBOX')`, folderA, accountID)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO folders (id, account_id, name, imap_path) VALUES (?, ?, 'Archive', 'Archive')`, folderB, accountID)
	require.NoError(t, err)

	return db, accountID, folderA, folderB
}

func testEmail(accountID, identityKey string) *Email {
	return &Email{
		ID:           identityKey + "-id",
		AccountID:    accountID,
		IdentityKey:  identityKey,
		Subject:      "Hello",
		FromEmail:    "bob@example.com",
		DateReceived: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestUpsertInsertsNewEmail(t *testing.T) {
	db, accountID, _, _ := newTestDB(t)
	s := NewStore(db)

	created, err := s.Upsert(testEmail(accountID, "key-1"))
	require.NoError(t, err)
	assert.True(t, created)

	got, err := s.GetByIdentityKey(accountID, "key-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, Uncategorized, got.Category)
	assert.Equal(t, SendNone, got.SendState)
}

func TestUpsertUpdatesExistingEmailInPlace(t *testing.T) {
	db, accountID, _, _ := newTestDB(t)
	s := NewStore(db)

	e := testEmail(accountID, "key-1")
	created, err := s.Upsert(e)
	require.NoError(t, err)
	require.True(t, created)
	firstID := e.ID

	again := testEmail(accountID, "key-1")
	again.ID = "ignored-because-dedup-finds-existing"
	again.Subject = "Hello (updated)"
	again.IsRead = true
	created, err = s.Upsert(again)
	require.NoError(t, err)
	assert.False(t, created, "same identity key must update, not insert a second row")
	assert.Equal(t, firstID, again.ID, "Upsert rewrites e.ID to the existing row's id")

	got, err := s.GetByIdentityKey(accountID, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "Hello (updated)", got.Subject)
	assert.True(t, got.IsRead)
}

func TestGetByIDMissingReturnsNilNotError(t *testing.T) {
	db, _, _, _ := newTestDB(t)
	s := NewStore(db)
	got, err := s.GetByID("nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetByMessageIDEmptyReturnsNilWithoutQuery(t *testing.T) {
	db, _, _, _ := newTestDB(t)
	s := NewStore(db)
	got, err := s.GetByMessageID("acct-1", "")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateFlagsAppliesOnlyProvidedFields(t *testing.T) {
	db, accountID, _, _ := newTestDB(t)
	s := NewStore(db)
	e := testEmail(accountID, "key-1")
	_, err := s.Upsert(e)
	require.NoError(t, err)

	isRead := true
	require.NoError(t, s.UpdateFlags(e.ID, &isRead, nil))

	got, err := s.GetByID(e.ID)
	require.NoError(t, err)
	assert.True(t, got.IsRead)
	assert.False(t, got.IsStarred, "isStarred untouched since nil was passed")
}

func TestSendStateAndListPendingSends(t *testing.T) {
	db, accountID, _, _ := newTestDB(t)
	s := NewStore(db)
	e := testEmail(accountID, "key-1")
	_, err := s.Upsert(e)
	require.NoError(t, err)
	require.NoError(t, s.SetSendState(e.ID, SendPending, 0))

	pending, err := s.ListPendingSends(accountID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, e.ID, pending[0].ID)

	require.NoError(t, s.SetSendState(e.ID, SendSent, 0))
	pending, err = s.ListPendingSends(accountID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestUpsertEmailFolderAndKnownUIDs(t *testing.T) {
	db, accountID, folderA, _ := newTestDB(t)
	s := NewStore(db)
	e := testEmail(accountID, "key-1")
	_, err := s.Upsert(e)
	require.NoError(t, err)

	require.NoError(t, s.UpsertEmailFolder(e.ID, folderA, 42))

	known, err := s.KnownUIDs(folderA)
	require.NoError(t, err)
	assert.True(t, known[42])
	assert.False(t, known[43])
}

func TestMoveEmailFolderRehomesAssociation(t *testing.T) {
	db, accountID, folderA, folderB := newTestDB(t)
	s := NewStore(db)
	e := testEmail(accountID, "key-1")
	_, err := s.Upsert(e)
	require.NoError(t, err)
	require.NoError(t, s.UpsertEmailFolder(e.ID, folderA, 42))

	require.NoError(t, s.MoveEmailFolder(e.ID, folderA, folderB, 7))

	knownA, err := s.KnownUIDs(folderA)
	require.NoError(t, err)
	assert.False(t, knownA[42])

	knownB, err := s.KnownUIDs(folderB)
	require.NoError(t, err)
	assert.True(t, knownB[7])
}

func TestRemoveEmailFolderDeletesWithoutReinserting(t *testing.T) {
	db, accountID, folderA, _ := newTestDB(t)
	s := NewStore(db)
	e := testEmail(accountID, "key-1")
	_, err := s.Upsert(e)
	require.NoError(t, err)
	require.NoError(t, s.UpsertEmailFolder(e.ID, folderA, 42))

	require.NoError(t, s.RemoveEmailFolder(e.ID, folderA))

	known, err := s.KnownUIDs(folderA)
	require.NoError(t, err)
	assert.False(t, known[42])
	assert.Empty(t, known)
}

func TestClearFolderAssociations(t *testing.T) {
	db, accountID, folderA, _ := newTestDB(t)
	s := NewStore(db)
	e1 := testEmail(accountID, "key-1")
	e2 := testEmail(accountID, "key-2")
	_, err := s.Upsert(e1)
	require.NoError(t, err)
	_, err = s.Upsert(e2)
	require.NoError(t, err)
	require.NoError(t, s.UpsertEmailFolder(e1.ID, folderA, 1))
	require.NoError(t, s.UpsertEmailFolder(e2.ID, folderA, 2))

	require.NoError(t, s.ClearFolderAssociations(folderA))

	known, err := s.KnownUIDs(folderA)
	require.NoError(t, err)
	assert.Empty(t, known)
}

func TestEnsureThreadIsIdempotent(t *testing.T) {
	db, accountID, _, _ := newTestDB(t)
	s := NewStore(db)
	require.NoError(t, s.EnsureThread(accountID, "thread-1"))
	require.NoError(t, s.EnsureThread(accountID, "thread-1"))

	th, err := s.GetThread("thread-1")
	require.NoError(t, err)
	require.NotNil(t, th)
	assert.Equal(t, Uncategorized, th.Category)
}

func TestRecomputeThreadAggregate(t *testing.T) {
	db, accountID, _, _ := newTestDB(t)
	s := NewStore(db)
	require.NoError(t, s.EnsureThread(accountID, "thread-1"))

	older := testEmail(accountID, "key-1")
	older.ThreadID = "thread-1"
	older.Subject = "Original subject"
	older.FromEmail = "bob@example.com"
	older.DateReceived = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	older.Snippet = "first message"
	_, err := s.Upsert(older)
	require.NoError(t, err)

	newer := testEmail(accountID, "key-2")
	newer.ThreadID = "thread-1"
	newer.Subject = "Re: Original subject"
	newer.FromEmail = "carol@example.com"
	newer.DateReceived = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	newer.Snippet = "second message"
	newer.IsStarred = true
	_, err = s.Upsert(newer)
	require.NoError(t, err)

	require.NoError(t, s.RecomputeThreadAggregate("thread-1"))

	th, err := s.GetThread("thread-1")
	require.NoError(t, err)
	require.NotNil(t, th)
	assert.Equal(t, "Original subject", th.Subject, "subject is taken from the oldest member")
	assert.Equal(t, "second message", th.Snippet, "snippet is taken from the newest member")
	assert.Equal(t, 2, th.MessageCount)
	assert.True(t, th.Starred)
}
