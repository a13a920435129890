package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goimap "github.com/emersion/go-imap/v2"

	"github.com/aerionmail/mailcore/internal/account"
	"github.com/aerionmail/mailcore/internal/credresolver"
	"github.com/aerionmail/mailcore/internal/email"
	"github.com/aerionmail/mailcore/internal/folder"
	"github.com/aerionmail/mailcore/internal/mailerrors"
	"github.com/aerionmail/mailcore/internal/smtp"
)

// SetFlags pushes a local read/starred change to the server, per spec §4.9
// write-back: SELECT the email's folder, STORE the changed flags, then
// record the new state locally so a later incremental pass doesn't see its
// own write as a remote change.
func (e *Engine) SetFlags(ctx context.Context, accountID, folderID, emailID string, uid uint32, isRead, isStarred *bool) error {
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

	if _, err := client.SelectFolder(ctx, f.IMAPPath); err != nil {
		e.pool.Discard(conn)
		return err
	}

	if isRead != nil {
		if err := client.StoreFlags(ctx, []goimap.UID{goimap.UID(uid)}, *isRead, []goimap.Flag{goimap.FlagSeen}); err != nil {
			e.pool.Discard(conn)
			return err
		}
	}
	if isStarred != nil {
		if err := client.StoreFlags(ctx, []goimap.UID{goimap.UID(uid)}, *isStarred, []goimap.Flag{goimap.FlagFlagged}); err != nil {
			e.pool.Discard(conn)
			return err
		}
	}
	e.pool.Checkin(conn)

	return e.emails.UpdateFlags(emailID, isRead, isStarred)
}

// MoveMessage moves a message to another folder: COPY to the destination,
// EXPUNGE from the source, then re-home the local email_folders row under
// the destination with UID 0, since the copy's real UID is not known here.
func (e *Engine) MoveMessage(ctx context.Context, accountID, emailID, srcFolderID string, srcUID uint32, destFolderID string) error {
	// Acquire in a fixed order (lexicographic on folder id) regardless of
	// which is source/destination, so a concurrent move in the opposite
	// direction between the same two folders can't deadlock.
	first, second := srcFolderID, destFolderID
	if second < first {
		first, second = second, first
	}
	firstLease, err := e.coordinator.Acquire(ctx, accountID, first)
	if err != nil {
		return err
	}
	defer firstLease.Release()

	secondLease, err := e.coordinator.Acquire(ctx, accountID, second)
	if err != nil {
		return err
	}
	defer secondLease.Release()

	src, err := e.folders.Get(srcFolderID)
	if err != nil {
		return err
	}
	dest, err := e.folders.Get(destFolderID)
	if err != nil {
		return err
	}
	if src == nil || dest == nil {
		return mailerrors.New(mailerrors.FolderNotFound, "unknown source or destination folder")
	}

	conn, err := e.checkout(ctx, accountID)
	if err != nil {
		return err
	}
	client := conn.Client()

	if _, err := client.SelectFolder(ctx, src.IMAPPath); err != nil {
		e.pool.Discard(conn)
		return err
	}

	uid := goimap.UID(srcUID)
	if err := client.CopyMessages(ctx, []goimap.UID{uid}, dest.IMAPPath); err != nil {
		e.pool.Discard(conn)
		return err
	}
	if err := client.ExpungeMessages(ctx, []goimap.UID{uid}); err != nil {
		e.pool.Discard(conn)
		return err
	}
	e.pool.Checkin(conn)

	// The server doesn't hand back the copy's new UID without UIDPLUS's
	// COPYUID response, which the pooled client doesn't surface yet; a
	// later incremental sync of dest reconciles the real UID, so 0 here is
	// just a placeholder marking "known to exist, UID to be confirmed".
	return e.emails.MoveEmailFolder(emailID, srcFolderID, destFolderID, 0)
}

// Archive runs spec §3.7's provider-aware archive action: Gmail-style
// accounts only remove the \Inbox label (no copy, since All Mail already
// holds every message); everyone else moves the message into Archive.
func (e *Engine) Archive(ctx context.Context, accountID, emailID, inboxFolderID string, inboxUID uint32) error {
	acct, err := e.accounts.Get(accountID)
	if err != nil {
		return err
	}
	if acct == nil {
		return mailerrors.New(mailerrors.NoCredentials, "unknown account "+accountID)
	}

	folders, err := e.folders.ListByAccount(accountID)
	if err != nil {
		return err
	}

	if acct.ArchiveStrategy == account.ArchiveRemoveInbox {
		lease, err := e.coordinator.Acquire(ctx, accountID, inboxFolderID)
		if err != nil {
			return err
		}
		defer lease.Release()

		inbox, err := e.folders.Get(inboxFolderID)
		if err != nil {
			return err
		}
		if inbox == nil {
			return mailerrors.New(mailerrors.FolderNotFound, "unknown inbox folder")
		}

		conn, err := e.checkout(ctx, accountID)
		if err != nil {
			return err
		}
		client := conn.Client()

		if _, err := client.SelectFolder(ctx, inbox.IMAPPath); err != nil {
			e.pool.Discard(conn)
			return err
		}
		if err := client.ExpungeMessages(ctx, []goimap.UID{goimap.UID(inboxUID)}); err != nil {
			e.pool.Discard(conn)
			return err
		}
		e.pool.Checkin(conn)
		return e.emails.RemoveEmailFolder(emailID, inboxFolderID)
	}

	dest, ok := destinationArchiveFolder(acct, folders)
	if !ok {
		return mailerrors.New(mailerrors.FolderNotFound, "account has no archive folder")
	}
	return e.MoveMessage(ctx, accountID, emailID, inboxFolderID, inboxUID, dest.ID)
}

// SendPending drains an account's queued outbound mail: compose, resolve
// SMTP credentials, send with retry, APPEND to Sent (the providers that
// don't populate Sent themselves need this; harmless duplicate-safe for the
// ones that do, since dedup collapses it against the server's own copy on
// the next Sent sync), and record the outcome.
func (e *Engine) SendPending(ctx context.Context, accountID string) error {
	acct, err := e.accounts.Get(accountID)
	if err != nil {
		return err
	}
	if acct == nil {
		return mailerrors.New(mailerrors.NoCredentials, "unknown account "+accountID)
	}

	pending, err := e.emails.ListPendingSends(accountID)
	if err != nil {
		return err
	}

	for _, em := range pending {
		if err := e.sendOne(ctx, acct, em); err != nil {
			e.log.Warn().Err(err).Str("email", em.ID).Msg("send failed")
		}
	}
	return nil
}

func (e *Engine) sendOne(ctx context.Context, acct *account.Account, em *email.Email) error {
	_, smtpCred, err := e.credentials.Both(ctx, credresolver.Account{
		ID: acct.ID, Email: acct.Email, Provider: acct.Provider, AuthType: string(acct.AuthType),
	})
	if err != nil {
		_ = e.emails.SetSendState(em.ID, email.SendFailed, em.RetryCount+1)
		return err
	}

	msg := composeFromEmail(acct, em)
	raw, err := msg.ToRFC822()
	if err != nil {
		_ = e.emails.SetSendState(em.ID, email.SendFailed, em.RetryCount+1)
		return fmt.Errorf("compose message: %w", err)
	}

	cfg := smtp.ClientConfig{
		Host:     acct.SMTPHost,
		Port:     acct.SMTPPort,
		Security: smtp.SecurityType(acct.SMTPSecurity),
		Username: smtpCred.Username,
	}
	switch smtpCred.Kind {
	case credresolver.CredentialOAuth:
		cfg.AuthType = smtp.AuthTypeOAuth2
		cfg.AccessToken = smtpCred.AccessToken
	default:
		cfg.AuthType = smtp.AuthTypePassword
		cfg.Password = smtpCred.Password
	}

	maxAttempts := e.cfg.SendRetryMax
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	sendErr := smtp.SendWithRetry(ctx, cfg, acct.Email, msg.AllRecipients(), raw, maxAttempts, time.Second)
	if sendErr != nil {
		_ = e.emails.SetSendState(em.ID, email.SendFailed, em.RetryCount+1)
		return sendErr
	}

	if err := e.emails.SetSendState(em.ID, email.SendSent, 0); err != nil {
		return err
	}

	e.appendToSent(ctx, acct.ID, raw)
	return nil
}

// appendToSent best-effort uploads the raw sent message to the account's
// Sent folder; providers that populate Sent server-side on their own will
// simply end up with a duplicate that dedup collapses on the next sync.
func (e *Engine) appendToSent(ctx context.Context, accountID string, raw []byte) {
	folders, err := e.folders.ListByAccount(accountID)
	if err != nil {
		return
	}
	var sent *folder.Folder
	for _, f := range folders {
		if f.Type == folder.TypeSent {
			sent = f
			break
		}
	}
	if sent == nil {
		return
	}

	conn, err := e.checkout(ctx, accountID)
	if err != nil {
		return
	}
	client := conn.Client()
	if _, err := client.AppendMessage(ctx, sent.IMAPPath, []goimap.Flag{goimap.FlagSeen}, time.Now(), raw); err != nil {
		e.log.Warn().Err(err).Str("folder", sent.IMAPPath).Msg("failed to append sent copy")
		e.pool.Discard(conn)
		return
	}
	e.pool.Checkin(conn)
}

func composeFromEmail(acct *account.Account, em *email.Email) *smtp.ComposeMessage {
	to := splitAddresses(em.ToList)
	cc := splitAddresses(em.CcList)
	bcc := splitAddresses(em.BccList)

	var refs []string
	_ = json.Unmarshal([]byte(em.ReferencesRaw), &refs)
	if em.InReplyTo != "" && (len(refs) == 0 || refs[len(refs)-1] != em.InReplyTo) {
		refs = append(refs, em.InReplyTo)
	}

	return &smtp.ComposeMessage{
		From:       smtp.Address{Name: acct.Name, Address: acct.Email},
		To:         to,
		Cc:         cc,
		Bcc:        bcc,
		Subject:    em.Subject,
		TextBody:   em.PlainBody,
		HTMLBody:   em.HTMLBody,
		InReplyTo:  em.InReplyTo,
		References: refs,
	}
}

func splitAddresses(jsonList string) []smtp.Address {
	if jsonList == "" {
		return nil
	}
	var addrs []email.Address
	if err := json.Unmarshal([]byte(jsonList), &addrs); err != nil {
		return nil
	}
	out := make([]smtp.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, smtp.Address{Name: a.Name, Address: a.Email})
	}
	return out
}
