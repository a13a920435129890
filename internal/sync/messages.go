package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goimap "github.com/emersion/go-imap/v2"

	"github.com/aerionmail/mailcore/internal/email"
	"github.com/aerionmail/mailcore/internal/folder"
	"github.com/aerionmail/mailcore/internal/imap"
	"github.com/aerionmail/mailcore/internal/mailerrors"
)

// SyncFolder runs the per-folder message sync algorithm against one mailbox:
// detect a UIDVALIDITY change, determine the candidate UID set for mode,
// fetch headers then bodies for anything not already known, resolve
// identity/thread for each message, and advance cursors.
func (e *Engine) SyncFolder(ctx context.Context, accountID, folderID string, mode FolderMode) error {
	lease, err := e.coordinator.Acquire(ctx, accountID, folderID)
	if err != nil {
		return err
	}
	defer lease.Release()

	f, err := e.folders.Get(folderID)
	if err != nil {
		return err
	}
	if f == nil {
		return mailerrors.New(mailerrors.FolderNotFound, "unknown folder "+folderID)
	}

	conn, err := e.checkout(ctx, accountID)
	if err != nil {
		return err
	}
	client := conn.Client()

	selected, err := client.SelectFolder(ctx, f.IMAPPath)
	if err != nil {
		e.pool.Discard(conn)
		return err
	}

	if f.UIDValidity != 0 && selected.UIDValidity != f.UIDValidity {
		e.log.Warn().Str("folder", f.IMAPPath).Uint32("old", f.UIDValidity).Uint32("new", selected.UIDValidity).
			Msg("uidvalidity changed, resetting cursors")
		if err := e.folders.ResetUIDValidity(f.ID, selected.UIDValidity); err != nil {
			e.pool.Checkin(conn)
			return err
		}
		if err := e.emails.ClearFolderAssociations(f.ID); err != nil {
			e.pool.Checkin(conn)
			return err
		}
		f.ForwardCursorUID = nil
		f.BackfillCursorUID = nil
	} else if f.UIDValidity == 0 {
		if err := e.folders.ResetUIDValidity(f.ID, selected.UIDValidity); err != nil {
			e.pool.Checkin(conn)
			return err
		}
	}

	allUIDs, err := client.SearchAllUIDs(ctx)
	if err != nil {
		e.pool.Discard(conn)
		return err
	}

	known, err := e.emails.KnownUIDs(f.ID)
	if err != nil {
		e.pool.Checkin(conn)
		return err
	}

	candidates := candidateUIDs(allUIDs, known, f, mode)
	if len(candidates) == 0 {
		e.pool.Checkin(conn)
		return e.finishFolderPass(f.ID, int(selected.Messages), mode)
	}

	batchSize := e.cfg.FetchBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	var highestUID, lowestUID imap.UID
	for start := 0; start < len(candidates); start += batchSize {
		end := start + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		if err := e.syncMessageBatch(ctx, client, f, batch); err != nil {
			e.pool.Discard(conn)
			return err
		}

		for _, u := range batch {
			if highestUID == 0 || u > highestUID {
				highestUID = u
			}
			if lowestUID == 0 || u < lowestUID {
				lowestUID = u
			}
		}
	}
	e.pool.Checkin(conn)

	if mode == FolderIncremental && highestUID > 0 {
		if err := e.folders.AdvanceForwardCursor(f.ID, uint32(highestUID)); err != nil {
			return err
		}
	}
	if mode == FolderCatchUp && lowestUID > 0 {
		if err := e.folders.AdvanceBackfillCursor(f.ID, uint32(lowestUID)); err != nil {
			return err
		}
	}

	return e.finishFolderPass(f.ID, int(selected.Messages), mode)
}

// finishFolderPass records a completed pass's message count. initial_fast_completed
// is set separately, right after Stage B's own capped inbox pass succeeds, rather
// than here: tying it to a catch-up pass finishing would leave the UI's "first
// content loaded" signal dark until Stage D fully drains the folder.
func (e *Engine) finishFolderPass(folderID string, total int, mode FolderMode) error {
	return e.folders.UpdateCounts(folderID, total, 0)
}

// candidateUIDs determines which UIDs to pull this pass: incremental mode
// only wants UIDs above the forward cursor (new mail); catch-up mode wants
// everything not yet known, oldest first, so the backfill cursor always
// walks backwards through the mailbox's history.
func candidateUIDs(all []goimap.UID, known map[uint32]bool, f *folder.Folder, mode FolderMode) []goimap.UID {
	var out []goimap.UID
	for _, u := range all {
		if known[uint32(u)] {
			continue
		}
		if mode == FolderIncremental && f.ForwardCursorUID != nil && uint32(u) <= *f.ForwardCursorUID {
			continue
		}
		out = append(out, u)
	}
	return out
}

// syncMessageBatch fetches headers, then bodies for the discovered sections,
// and upserts one Email row (plus EmailFolder/Attachment/Contact rows and
// thread assignment) per message.
func (e *Engine) syncMessageBatch(ctx context.Context, client *imap.Client, f *folder.Folder, uids []goimap.UID) error {
	headers, err := client.FetchHeaders(ctx, uids)
	if err != nil {
		return err
	}
	if len(headers) == 0 {
		return nil
	}

	sectionsByUID := make(map[goimap.UID][]string, len(headers))
	var allSections []string
	seenSection := make(map[string]bool)
	for _, h := range headers {
		secs := textSections(h.BodyStructure)
		sectionsByUID[h.UID] = secs
		for _, s := range secs {
			if !seenSection[s] {
				seenSection[s] = true
				allSections = append(allSections, s)
			}
		}
	}

	var bodies map[goimap.UID][]imap.BodyPart
	if len(allSections) > 0 {
		bodies, err = client.FetchBodies(ctx, uids, allSections)
		if err != nil {
			return err
		}
	}

	for _, h := range headers {
		if err := e.ingestMessage(f, h, bodies[h.UID]); err != nil {
			e.log.Warn().Err(err).Str("folder", f.IMAPPath).Uint32("uid", uint32(h.UID)).Msg("failed to ingest message, skipping")
		}
	}
	return nil
}

// ingestMessage resolves identity and thread for one fetched message and
// persists it, per spec §4.9 steps 5-9.
func (e *Engine) ingestMessage(f *folder.Folder, h imap.MessageHeader, parts []imap.BodyPart) error {
	env := h.Envelope
	fromName, fromEmail := firstAddress(env)
	subject := ""
	if env != nil {
		subject = env.Subject
	}
	date := h.InternalDate
	if env != nil && !env.Date.IsZero() {
		date = env.Date
	}

	messageID := ""
	if env != nil {
		messageID = normalizeMessageID(env.MessageID)
	}
	canonical := canonicalKey(fromEmail, subject, date, h.RFC822Size)

	plainBody, htmlBody, attachments := extractBodies(h.BodyStructure, parts)
	snippet := buildSnippet(plainBody)

	threadID := e.resolveThreadID(f.AccountID, env, h.References, subject, date)

	identity, err := e.resolveIdentity(f.AccountID, messageID, canonical, subject, fromEmail, date, h.RFC822Size)
	if err != nil {
		return fmt.Errorf("resolve identity: %w", err)
	}
	id := stableEmailID(f.AccountID, identity)

	em := &email.Email{
		ID:                    id,
		AccountID:             f.AccountID,
		MessageID:             messageID,
		IdentityKey:           identity,
		InReplyTo:             normalizeMessageID(firstReference(env)),
		ReferencesRaw:         marshalReferences(h.References),
		Subject:               subject,
		FromName:              fromName,
		FromEmail:             fromEmail,
		ToList:                addressesJSON(addressList(env, 1)),
		CcList:                addressesJSON(addressList(env, 2)),
		BccList:               addressesJSON(addressList(env, 3)),
		DateReceived:          date,
		Snippet:               snippet,
		PlainBody:             plainBody,
		HTMLBody:              htmlBody,
		IsRead:                hasFlag(h.Flags, goimap.FlagSeen),
		IsStarred:             hasFlag(h.Flags, goimap.FlagFlagged),
		IsDraft:               hasFlag(h.Flags, goimap.FlagDraft),
		IsDeleted:             hasFlag(h.Flags, goimap.FlagDeleted),
		ThreadID:              threadID,
		SizeBytes:             int(h.RFC822Size),
		AuthenticationResults: h.AuthenticationResults,
	}

	created, err := e.emails.Upsert(em)
	if err != nil {
		return fmt.Errorf("upsert email: %w", err)
	}
	if !created && em.ThreadID == "" {
		em.ThreadID = threadID
	}

	if err := e.emails.UpsertEmailFolder(em.ID, f.ID, uint32(h.UID)); err != nil {
		return fmt.Errorf("upsert email_folder: %w", err)
	}

	finalThreadID := em.ThreadID
	if finalThreadID == "" {
		finalThreadID = id
	}
	if err := e.emails.EnsureThread(f.AccountID, finalThreadID); err != nil {
		return fmt.Errorf("ensure thread: %w", err)
	}
	if created || em.ThreadID != threadID {
		if err := e.emails.UpdateThreadID(em.ID, finalThreadID); err != nil {
			return fmt.Errorf("update thread id: %w", err)
		}
	}

	for i, att := range attachments {
		att.ID = fmt.Sprintf("%s_att_%d", em.ID, i)
		att.EmailID = em.ID
		if err := e.emails.UpsertAttachment(att); err != nil {
			e.log.Warn().Err(err).Str("email", em.ID).Msg("failed to upsert attachment")
		}
	}

	if fromEmail != "" {
		_ = e.emails.UpsertContact(f.AccountID, fromEmail, fromName, date)
	}

	return e.emails.RecomputeThreadAggregate(finalThreadID)
}

// resolveThreadID implements spec §4.9 thread resolution: In-Reply-To, then
// References right-to-left (first hit wins), then a same-subject window
// fallback, else "" (a fresh thread rooted at this email's own id).
func (e *Engine) resolveThreadID(accountID string, env *goimap.Envelope, references []string, subject string, date time.Time) string {
	if id := normalizeMessageID(firstReference(env)); id != "" {
		if tid, err := e.emails.FindThreadByReference(accountID, id); err == nil && tid != "" {
			return tid
		}
	}
	for i := len(references) - 1; i >= 0; i-- {
		id := normalizeMessageID(references[i])
		if id == "" {
			continue
		}
		if tid, err := e.emails.FindThreadByReference(accountID, id); err == nil && tid != "" {
			return tid
		}
	}
	since := date.Add(-subjectFallbackWindow)
	if tid, err := e.emails.FindThreadBySubjectWindow(accountID, normalizeSubject(subject), since); err == nil && tid != "" {
		return tid
	}
	return ""
}

// resolveIdentity implements spec §4.9's identity resolution algorithm:
// reuse an existing Email's identity when this message is a known re-delivery
// of it (by Message-ID match or, failing that, by canonical fingerprint),
// fall back to a compound key on a Message-ID conflict, and otherwise mint an
// identity from whatever is available.
func (e *Engine) resolveIdentity(accountID, rawMessageID, canonical, subject, fromEmail string, date time.Time, sizeBytes int64) (string, error) {
	if rawMessageID != "" {
		existing, err := e.emails.GetByMessageID(accountID, rawMessageID)
		if err != nil {
			return "", err
		}
		if existing != nil {
			if identityMatches(existing, subject, fromEmail, date) {
				return existing.IdentityKey, nil
			}
			return rawMessageID + "|" + canonical, nil
		}
	}

	dayStart := time.Unix((date.Unix()/86400)*86400, 0).UTC()
	dayEnd := dayStart.Add(24 * time.Hour)
	candidates, err := e.emails.FindCanonicalCandidates(accountID, fromEmail, dayStart, dayEnd, sizeBytes)
	if err != nil {
		return "", err
	}
	normalized := normalizeSubject(subject)
	for _, c := range candidates {
		if normalizeSubject(c.Subject) == normalized {
			return c.IdentityKey, nil
		}
	}

	if rawMessageID != "" {
		return rawMessageID, nil
	}
	return fmt.Sprintf("<canon-%s@%s>", canonical, accountID), nil
}

// identityMatches is spec §4.9's match test for reusing an existing Email's
// identity via Message-ID: normalized subject, from address, and a date
// within 3 days all have to agree, since providers sometimes recycle a
// Message-ID across genuinely distinct messages.
func identityMatches(existing *email.Email, subject, fromEmail string, date time.Time) bool {
	return normalizeSubject(existing.Subject) == normalizeSubject(subject) &&
		strings.EqualFold(existing.FromEmail, fromEmail) &&
		withinDays(existing.DateReceived, date, 3)
}

func hasFlag(flags []goimap.Flag, want goimap.Flag) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

func firstAddress(env *goimap.Envelope) (name, addr string) {
	if env == nil || len(env.From) == 0 {
		return "", ""
	}
	a := env.From[0]
	return a.Name, a.Addr()
}

func firstReference(env *goimap.Envelope) string {
	if env == nil || len(env.InReplyTo) == 0 {
		return ""
	}
	return env.InReplyTo[0]
}

func addressList(env *goimap.Envelope, kind int) []email.Address {
	if env == nil {
		return nil
	}
	var src []goimap.Address
	switch kind {
	case 1:
		src = env.To
	case 2:
		src = env.Cc
	case 3:
		src = env.Bcc
	}
	out := make([]email.Address, 0, len(src))
	for _, a := range src {
		out = append(out, email.Address{Name: a.Name, Email: a.Addr()})
	}
	return out
}

func addressesJSON(addrs []email.Address) string {
	if len(addrs) == 0 {
		return "[]"
	}
	data, err := json.Marshal(addrs)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// marshalReferences encodes the message's References header (fetched
// separately from ENVELOPE via HEADER.FIELDS, since RFC 3501's envelope
// structure doesn't carry it) as a JSON array for storage.
func marshalReferences(references []string) string {
	if len(references) == 0 {
		return "[]"
	}
	refs := make([]string, len(references))
	for i, r := range references {
		refs[i] = normalizeMessageID(r)
	}
	data, _ := json.Marshal(refs)
	return string(data)
}

func buildSnippet(plain string) string {
	const maxLen = 200
	s := plain
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}
