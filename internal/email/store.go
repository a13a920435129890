package email

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aerionmail/mailcore/internal/database"
	"github.com/aerionmail/mailcore/internal/logging"
)

// Store provides email/attachment/thread/contact persistence, grounded on
// the teacher's internal/message/store.go query/scan shape but rescoped to
// the dedup/threading schema SyncEngine needs rather than the UI-facing
// conversation/search surface the teacher also carried.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db, log: logging.WithComponent("email-store")}
}

const emailColumns = `
	id, account_id, message_id, identity_key, in_reply_to, references_list,
	subject, from_name, from_email, to_list, cc_list, bcc_list,
	date_received, snippet, plain_body, html_body,
	is_read, is_starred, is_draft, is_deleted,
	category, thread_id,
	size_bytes, authentication_results,
	send_state, retry_count, created_at
`

func scanEmail(scanner interface {
	Scan(dest ...any) error
}) (*Email, error) {
	e := &Email{}
	var dateReceived sql.NullTime
	var inReplyTo, refs, snippet, plainBody, htmlBody sql.NullString
	var threadID, authResults sql.NullString

	err := scanner.Scan(
		&e.ID, &e.AccountID, &e.MessageID, &e.IdentityKey, &inReplyTo, &refs,
		&e.Subject, &e.FromName, &e.FromEmail, &e.ToList, &e.CcList, &e.BccList,
		&dateReceived, &snippet, &plainBody, &htmlBody,
		&e.IsRead, &e.IsStarred, &e.IsDraft, &e.IsDeleted,
		&e.Category, &threadID,
		&e.SizeBytes, &authResults,
		&e.SendState, &e.RetryCount, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.InReplyTo = inReplyTo.String
	e.ReferencesRaw = refs.String
	e.Snippet = snippet.String
	e.PlainBody = plainBody.String
	e.HTMLBody = htmlBody.String
	e.ThreadID = threadID.String
	e.AuthenticationResults = authResults.String
	if dateReceived.Valid {
		e.DateReceived = dateReceived.Time
	}
	return e, nil
}

// GetByID retrieves one email by its stable id.
func (s *Store) GetByID(id string) (*Email, error) {
	row := s.db.QueryRow("SELECT "+emailColumns+" FROM emails WHERE id = ?", id)
	e, err := scanEmail(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query email %s: %w", id, err)
	}
	return e, nil
}

// GetByIdentityKey looks up the dedup row for (account, identity_key).
func (s *Store) GetByIdentityKey(accountID, identityKey string) (*Email, error) {
	row := s.db.QueryRow("SELECT "+emailColumns+" FROM emails WHERE account_id = ? AND identity_key = ?", accountID, identityKey)
	e, err := scanEmail(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query email by identity key: %w", err)
	}
	return e, nil
}

// GetByMessageID finds a prior email with the same raw Message-ID in this
// account, used by identity resolution's conflict check.
func (s *Store) GetByMessageID(accountID, messageID string) (*Email, error) {
	if messageID == "" {
		return nil, nil
	}
	row := s.db.QueryRow("SELECT "+emailColumns+" FROM emails WHERE account_id = ? AND message_id = ? LIMIT 1", accountID, messageID)
	e, err := scanEmail(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query email by message id: %w", err)
	}
	return e, nil
}

// FindCanonicalCandidates returns existing emails sharing the same sender,
// size, and day-bucketed date window — the non-subject inputs to spec §4.9's
// canonical_key. Subject comparison (which needs Re:/Fwd: normalization) is
// left to the caller rather than duplicated as SQL string munging.
func (s *Store) FindCanonicalCandidates(accountID, fromEmail string, dayStart, dayEnd time.Time, sizeBytes int64) ([]*Email, error) {
	rows, err := s.db.Query(`
		SELECT `+emailColumns+` FROM emails
		WHERE account_id = ? AND lower(from_email) = ? AND size_bytes = ?
		  AND date_received >= ? AND date_received < ?
		ORDER BY created_at ASC
	`, accountID, strings.ToLower(fromEmail), sizeBytes, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to query canonical candidates: %w", err)
	}
	defer rows.Close()

	var out []*Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan canonical candidate: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindThreadBySubjectWindow implements the thread resolution subject-based
// fallback: the newest email in the account with date_received >= since
// whose stored subject, lowercased and stripped of leading whitespace,
// equals normalizedSubject. Re:/Fwd:/Fw: prefixes on the stored subject are
// not stripped, so a stored "Re: Foo" does not match "foo".
func (s *Store) FindThreadBySubjectWindow(accountID, normalizedSubject string, since time.Time) (string, error) {
	var threadID sql.NullString
	err := s.db.QueryRow(`
		SELECT thread_id FROM emails
		WHERE account_id = ? AND thread_id IS NOT NULL AND date_received >= ?
		  AND lower(ltrim(subject)) = ?
		ORDER BY date_received DESC LIMIT 1
	`, accountID, since, normalizedSubject).Scan(&threadID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query thread by subject window: %w", err)
	}
	return threadID.String, nil
}

// FindThreadByReference resolves a single In-Reply-To/References value to
// an existing email's thread_id (falling back to its own id if it has none
// yet, matching the teacher's COALESCE(thread_id, id) shape).
func (s *Store) FindThreadByReference(accountID, messageID string) (string, error) {
	if messageID == "" {
		return "", nil
	}
	var threadID sql.NullString
	err := s.db.QueryRow(
		"SELECT COALESCE(thread_id, id) FROM emails WHERE account_id = ? AND message_id = ? LIMIT 1",
		accountID, messageID,
	).Scan(&threadID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query thread by reference: %w", err)
	}
	return threadID.String, nil
}

// Upsert inserts a new email or updates the existing row for (account_id,
// identity_key), returning whether a row was created.
func (s *Store) Upsert(e *Email) (created bool, err error) {
	if e.Category == "" {
		e.Category = Uncategorized
	}
	if e.SendState == "" {
		e.SendState = SendNone
	}

	existing, err := s.GetByIdentityKey(e.AccountID, e.IdentityKey)
	if err != nil {
		return false, err
	}
	if existing == nil {
		_, err := s.db.Exec(`
			INSERT INTO emails (
				id, account_id, message_id, identity_key, in_reply_to, references_list,
				subject, from_name, from_email, to_list, cc_list, bcc_list,
				date_received, snippet, plain_body, html_body,
				is_read, is_starred, is_draft, is_deleted,
				category, thread_id, size_bytes, authentication_results,
				send_state, retry_count
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			e.ID, e.AccountID, nullableString(e.MessageID), e.IdentityKey, nullableString(e.InReplyTo), nullableString(e.ReferencesRaw),
			e.Subject, e.FromName, e.FromEmail, e.ToList, e.CcList, e.BccList,
			e.DateReceived, e.Snippet, e.PlainBody, e.HTMLBody,
			e.IsRead, e.IsStarred, e.IsDraft, e.IsDeleted,
			e.Category, nullableString(e.ThreadID), e.SizeBytes, nullableString(e.AuthenticationResults),
			e.SendState, e.RetryCount,
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert email: %w", err)
		}
		return true, nil
	}

	e.ID = existing.ID
	_, err = s.db.Exec(`
		UPDATE emails SET
			subject = ?, from_name = ?, from_email = ?, to_list = ?, cc_list = ?, bcc_list = ?,
			date_received = ?, snippet = ?, is_read = ?, is_starred = ?,
			thread_id = COALESCE(?, thread_id), size_bytes = ?, authentication_results = ?
		WHERE id = ?
	`, e.Subject, e.FromName, e.FromEmail, e.ToList, e.CcList, e.BccList,
		e.DateReceived, e.Snippet, e.IsRead, e.IsStarred,
		nullableString(e.ThreadID), e.SizeBytes, nullableString(e.AuthenticationResults),
		existing.ID)
	if err != nil {
		return false, fmt.Errorf("failed to update email: %w", err)
	}
	return false, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// UpdateThreadID reassigns thread_id for one email, used by thread
// reconciliation when a later-synced message turns out to be the root of an
// earlier one.
func (s *Store) UpdateThreadID(id, threadID string) error {
	_, err := s.db.Exec("UPDATE emails SET thread_id = ? WHERE id = ?", threadID, id)
	if err != nil {
		return fmt.Errorf("failed to update thread id: %w", err)
	}
	return nil
}

// UpdateBody fills in the plain/HTML body once fetched (stage-two fetch).
func (s *Store) UpdateBody(id, plainBody, htmlBody, snippet string) error {
	_, err := s.db.Exec("UPDATE emails SET plain_body = ?, html_body = ?, snippet = ? WHERE id = ?", plainBody, htmlBody, snippet, id)
	if err != nil {
		return fmt.Errorf("failed to update email body: %w", err)
	}
	return nil
}

// UpdateFlags applies a local flag mutation ahead of (or independent of) the
// write-back IMAP push.
func (s *Store) UpdateFlags(id string, isRead, isStarred *bool) error {
	if isRead != nil {
		if _, err := s.db.Exec("UPDATE emails SET is_read = ? WHERE id = ?", *isRead, id); err != nil {
			return fmt.Errorf("failed to update is_read: %w", err)
		}
	}
	if isStarred != nil {
		if _, err := s.db.Exec("UPDATE emails SET is_starred = ? WHERE id = ?", *isStarred, id); err != nil {
			return fmt.Errorf("failed to update is_starred: %w", err)
		}
	}
	return nil
}

// SetSendState transitions a drafted/queued email through the send pipeline.
func (s *Store) SetSendState(id string, state SendState, retryCount int) error {
	_, err := s.db.Exec("UPDATE emails SET send_state = ?, retry_count = ? WHERE id = ?", state, retryCount, id)
	if err != nil {
		return fmt.Errorf("failed to set send state: %w", err)
	}
	return nil
}

// ListPendingSends returns emails queued to send for an account, oldest first.
func (s *Store) ListPendingSends(accountID string) ([]*Email, error) {
	rows, err := s.db.Query("SELECT "+emailColumns+" FROM emails WHERE account_id = ? AND send_state = ? ORDER BY created_at", accountID, SendPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending sends: %w", err)
	}
	defer rows.Close()

	var out []*Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending send: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- EmailFolder join table ---

// UpsertEmailFolder records (or confirms) that email lives at uid within folder.
func (s *Store) UpsertEmailFolder(emailID, folderID string, uid uint32) error {
	_, err := s.db.Exec(`
		INSERT INTO email_folders (email_id, folder_id, imap_uid) VALUES (?, ?, ?)
		ON CONFLICT(folder_id, imap_uid) DO UPDATE SET email_id = excluded.email_id
	`, emailID, folderID, uid)
	if err != nil {
		return fmt.Errorf("failed to upsert email_folder: %w", err)
	}
	return nil
}

// KnownUIDs returns the set of UIDs already recorded for a folder, used to
// subtract already-known UIDs from a candidate fetch list.
func (s *Store) KnownUIDs(folderID string) (map[uint32]bool, error) {
	rows, err := s.db.Query("SELECT imap_uid FROM email_folders WHERE folder_id = ?", folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query known uids: %w", err)
	}
	defer rows.Close()

	known := make(map[uint32]bool)
	for rows.Next() {
		var uid uint32
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		known[uid] = true
	}
	return known, rows.Err()
}

// ClearFolderAssociations deletes every EmailFolder row for a folder, used
// on a UIDVALIDITY change per spec §4.9 step 2.
func (s *Store) ClearFolderAssociations(folderID string) error {
	if _, err := s.db.Exec("DELETE FROM email_folders WHERE folder_id = ?", folderID); err != nil {
		return fmt.Errorf("failed to clear folder associations: %w", err)
	}
	return nil
}

// RemoveEmailFolder deletes one email's association with a folder, used by
// Gmail-style archive (label removal, no copy elsewhere).
func (s *Store) RemoveEmailFolder(emailID, folderID string) error {
	if _, err := s.db.Exec("DELETE FROM email_folders WHERE email_id = ? AND folder_id = ?", emailID, folderID); err != nil {
		return fmt.Errorf("failed to remove email folder association: %w", err)
	}
	return nil
}

// MoveEmailFolder re-homes an email from one folder/uid to another, used by
// write-back move reconciliation.
func (s *Store) MoveEmailFolder(emailID, fromFolderID string, toFolderID string, newUID uint32) error {
	if _, err := s.db.Exec("DELETE FROM email_folders WHERE email_id = ? AND folder_id = ?", emailID, fromFolderID); err != nil {
		return fmt.Errorf("failed to remove source folder association: %w", err)
	}
	return s.UpsertEmailFolder(emailID, toFolderID, newUID)
}

// --- Attachments ---

func (s *Store) UpsertAttachment(a *Attachment) error {
	_, err := s.db.Exec(`
		INSERT INTO attachments (id, email_id, filename, mime_type, size_bytes, body_section, transfer_encoding, content_id, is_inline)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.EmailID, a.Filename, a.MimeType, a.SizeBytes, a.BodySection, a.TransferEncoding, a.ContentID, a.IsInline)
	if err != nil {
		return fmt.Errorf("failed to insert attachment: %w", err)
	}
	return nil
}

// --- Threads ---

func (s *Store) GetThread(id string) (*Thread, error) {
	t := &Thread{}
	var latestDate sql.NullTime
	var participants, snippet, subject sql.NullString
	err := s.db.QueryRow(
		"SELECT id, account_id, subject, latest_date, message_count, unread_count, starred, participants, snippet, ai_category FROM threads WHERE id = ?", id,
	).Scan(&t.ID, &t.AccountID, &subject, &latestDate, &t.MessageCount, &t.UnreadCount, &t.Starred, &participants, &snippet, &t.Category)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query thread %s: %w", id, err)
	}
	t.Subject = subject.String
	t.Snippet = snippet.String
	t.Participants = participants.String
	if latestDate.Valid {
		t.LatestDate = latestDate.Time
	}
	return t, nil
}

// EnsureThread inserts a bare thread row (Uncategorized) if id doesn't exist
// yet, so aggregate recompute always has a row to update.
func (s *Store) EnsureThread(accountID, id string) error {
	_, err := s.db.Exec(`
		INSERT INTO threads (id, account_id, ai_category) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, accountID, Uncategorized)
	if err != nil {
		return fmt.Errorf("failed to ensure thread: %w", err)
	}
	return nil
}

// RecomputeThreadAggregate recalculates subject/latest_date/message_count/
// unread_count/starred/snippet/participants from member emails, per spec
// §4.9 step 8. New threads' category stays whatever EnsureThread set
// (Uncategorized); existing threads keep their category untouched.
func (s *Store) RecomputeThreadAggregate(threadID string) error {
	rows, err := s.db.Query(`
		SELECT subject, from_name, from_email, to_list, date_received, is_read, is_starred, snippet
		FROM emails WHERE thread_id = ? ORDER BY date_received ASC
	`, threadID)
	if err != nil {
		return fmt.Errorf("failed to query thread members: %w", err)
	}
	defer rows.Close()

	var (
		subject, latestSnippet string
		latestDate             time.Time
		count, unread          int
		starred                bool
		participants           = make(map[string]Address)
	)

	for rows.Next() {
		var fromName, fromEmail, toList, snippet sql.NullString
		var dateReceived sql.NullTime
		var isRead, isStarred bool
		var rowSubject sql.NullString
		if err := rows.Scan(&rowSubject, &fromName, &fromEmail, &toList, &dateReceived, &isRead, &isStarred, &snippet); err != nil {
			return fmt.Errorf("failed to scan thread member: %w", err)
		}
		if count == 0 {
			subject = rowSubject.String // subject from oldest
		}
		count++
		if !isRead {
			unread++
		}
		if isStarred {
			starred = true
		}
		if dateReceived.Valid && dateReceived.Time.After(latestDate) {
			latestDate = dateReceived.Time
			latestSnippet = snippet.String // snippet from newest
		}
		if fromEmail.String != "" {
			participants[fromEmail.String] = Address{Name: fromName.String, Email: fromEmail.String}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	participantList := make([]Address, 0, len(participants))
	for _, p := range participants {
		participantList = append(participantList, p)
	}
	participantsJSON := marshalAddresses(participantList)

	_, err = s.db.Exec(`
		UPDATE threads SET subject = ?, latest_date = ?, message_count = ?, unread_count = ?,
		starred = ?, snippet = ?, participants = ? WHERE id = ?
	`, subject, latestDate, count, unread, starred, latestSnippet, participantsJSON, threadID)
	if err != nil {
		return fmt.Errorf("failed to update thread aggregate: %w", err)
	}
	return nil
}

func marshalAddresses(addrs []Address) string {
	if len(addrs) == 0 {
		return "[]"
	}
	data, err := json.Marshal(addrs)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// --- Contacts ---

// UpsertContact records an address seen on a synced header, for the contact
// cache From/To/CC populate.
func (s *Store) UpsertContact(accountID, email, name string, seenAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO contacts (account_id, email, name, last_seen_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id, email) DO UPDATE SET name = excluded.name, last_seen_at = excluded.last_seen_at
	`, accountID, email, name, seenAt)
	if err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}
	return nil
}
