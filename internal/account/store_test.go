package account

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerionmail/mailcore/internal/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "account_test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func testAccount(email string) *Account {
	return &Account{
		Name:         "Alice",
		Email:        email,
		Provider:     "gmail",
		IMAPHost:     "imap.gmail.com",
		IMAPPort:     993,
		IMAPSecurity: SecurityTLS,
		SMTPHost:     "smtp.gmail.com",
		SMTPPort:     587,
		SMTPSecurity: SecurityStartTLS,
		AuthType:     AuthOAuth2,
		Username:     email,
		Active:       true,
	}
}

func TestCreateGeneratesIDAndDefaults(t *testing.T) {
	s := newTestStore(t)
	a := testAccount("alice@gmail.com")

	require.NoError(t, s.Create(a))
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, 30, a.SyncWindowDays)
	assert.Equal(t, 5, a.ConnectionLimit)
	assert.Equal(t, 1500, a.IdleRefreshSeconds)
	assert.Equal(t, ArchiveCopyToArchive, a.ArchiveStrategy)
}

func TestCreateRespectsExplicitID(t *testing.T) {
	s := newTestStore(t)
	a := testAccount("alice@gmail.com")
	a.ID = "fixed-id"

	require.NoError(t, s.Create(a))
	assert.Equal(t, "fixed-id", a.ID)
}

func TestGetRoundTrips(t *testing.T) {
	s := newTestStore(t)
	a := testAccount("alice@gmail.com")
	require.NoError(t, s.Create(a))

	got, err := s.Get(a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.Email, got.Email)
	assert.Equal(t, a.IMAPHost, got.IMAPHost)
	assert.Equal(t, SecurityTLS, got.IMAPSecurity)
	assert.Equal(t, AuthOAuth2, got.AuthType)
}

func TestGetMissingReturnsNilNotError(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Get("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetByEmail(t *testing.T) {
	s := newTestStore(t)
	a := testAccount("alice@gmail.com")
	require.NoError(t, s.Create(a))

	got, err := s.GetByEmail("alice@gmail.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.ID, got.ID)
}

func TestListOrdersByOrderIndex(t *testing.T) {
	s := newTestStore(t)
	a1 := testAccount("a1@gmail.com")
	a1.OrderIndex = 2
	a2 := testAccount("a2@gmail.com")
	a2.OrderIndex = 1
	require.NoError(t, s.Create(a1))
	require.NoError(t, s.Create(a2))

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a2@gmail.com", list[0].Email)
	assert.Equal(t, "a1@gmail.com", list[1].Email)
}

func TestListActiveFiltersInactive(t *testing.T) {
	s := newTestStore(t)
	active := testAccount("active@gmail.com")
	inactive := testAccount("inactive@gmail.com")
	inactive.Active = false
	require.NoError(t, s.Create(active))
	require.NoError(t, s.Create(inactive))

	list, err := s.ListActive()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "active@gmail.com", list[0].Email)
}

func TestSetActive(t *testing.T) {
	s := newTestStore(t)
	a := testAccount("alice@gmail.com")
	require.NoError(t, s.Create(a))

	require.NoError(t, s.SetActive(a.ID, false))
	got, err := s.Get(a.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestUpdateConnectionConfig(t *testing.T) {
	s := newTestStore(t)
	a := testAccount("alice@gmail.com")
	require.NoError(t, s.Create(a))

	update := &Account{
		IMAPHost: "imap.new-provider.com", IMAPPort: 143, IMAPSecurity: SecurityStartTLS,
		SMTPHost: "smtp.new-provider.com", SMTPPort: 25, SMTPSecurity: SecurityTLS,
		AuthType: AuthPassword, ArchiveStrategy: ArchiveRemoveInbox,
	}
	require.NoError(t, s.UpdateConnectionConfig(a.ID, update))

	got, err := s.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "imap.new-provider.com", got.IMAPHost)
	assert.Equal(t, AuthPassword, got.AuthType)
	assert.Equal(t, ArchiveRemoveInbox, got.ArchiveStrategy)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	a := testAccount("alice@gmail.com")
	require.NoError(t, s.Create(a))

	require.NoError(t, s.Delete(a.ID))
	got, err := s.Get(a.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
