// Package imap implements C4 IMAPClient: a single authenticated session against
// one IMAP server, built on emersion/go-imap/v2's imapclient.Client for wire
// framing, tagging, and response parsing. The state machine this package
// enforces (Closed -> Connecting -> Greeted -> Authenticated -> Selected/Idle)
// mirrors spec §4.1; the tag/literal correctness itself is delegated to
// imapclient, which already implements it against the same RFCs.
package imap

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-sasl"
	"github.com/rs/zerolog"

	"github.com/aerionmail/mailcore/internal/config"
	"github.com/aerionmail/mailcore/internal/logging"
	"github.com/aerionmail/mailcore/internal/mailerrors"
)

// deadlineConn enforces read/write deadlines around a net.Conn, since
// imapclient itself performs no I/O timeout management.
type deadlineConn struct {
	net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.writeTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

// SecurityType is the transport security negotiated at connect time.
type SecurityType string

const (
	SecurityNone     SecurityType = "none"
	SecurityTLS      SecurityType = "tls"
	SecurityStartTLS SecurityType = "starttls"
)

// AuthType selects which credential the client authenticates with.
type AuthType string

const (
	AuthTypePassword AuthType = "password"
	AuthTypeOAuth2   AuthType = "oauth2"
)

// ClientConfig is everything needed to dial and authenticate one session.
type ClientConfig struct {
	Host     string
	Port     int
	Security SecurityType
	Username string
	Password string

	AuthType    AuthType
	AccessToken string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	TLSConfig *tls.Config
}

// DefaultClientConfig seeds timeouts from the compiled-in tunables.
func DefaultClientConfig(d config.Defaults) ClientConfig {
	return ClientConfig{
		Port:           993,
		Security:       SecurityTLS,
		ConnectTimeout: d.ConnectTimeout,
		ReadTimeout:    3 * time.Minute,
		WriteTimeout:   30 * time.Second,
	}
}

// State is the session's position in spec §4.1's IMAP state machine.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateGreeted
	StateAuthenticated
	StateSelected
	StateIdle
)

// Client is a single IMAP session (C4 IMAPClient).
type Client struct {
	config  ClientConfig
	client  *imapclient.Client
	caps    imap.CapSet
	log     zerolog.Logger
	state   State
	mailbox string // currently selected folder path, if StateSelected/StateIdle
}

// NewClient builds an unconnected client for the given target.
func NewClient(cfg ClientConfig) *Client {
	return &Client{config: cfg, log: logging.WithComponent("imap"), state: StateClosed}
}

func (c *Client) State() State { return c.state }

// Connect dials the server and waits for the greeting, upgrading to TLS
// in-place first if Security is STARTTLS (spec §4.1 sequence:
// CAPABILITY -> STARTTLS -> TLS handshake -> CAPABILITY -> LOGIN).
func (c *Client) Connect(ctx context.Context) error {
	c.state = StateConnecting
	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)

	c.log.Debug().Str("host", c.config.Host).Int("port", c.config.Port).
		Str("security", string(c.config.Security)).Msg("connecting to IMAP server")

	options := &imapclient.Options{}
	dialer := &net.Dialer{Timeout: c.config.ConnectTimeout}

	var err error
	switch c.config.Security {
	case SecurityTLS:
		tlsConf := c.config.TLSConfig
		if tlsConf == nil {
			tlsConf = &tls.Config{ServerName: c.config.Host, MinVersion: tls.VersionTLS12}
		}
		rawConn, dialErr := tls.DialWithDialer(dialer, "tcp", addr, tlsConf)
		if dialErr != nil {
			return mailerrors.Wrap(mailerrors.ConnectionFailed, "tls dial failed", dialErr)
		}
		c.client = imapclient.New(c.wrapDeadline(rawConn), options)

	case SecurityStartTLS:
		if c.config.TLSConfig != nil {
			options.TLSConfig = c.config.TLSConfig
		}
		c.client, err = imapclient.DialStartTLS(addr, options)
		if err != nil {
			return mailerrors.Wrap(mailerrors.TLSUpgradeFailed, "starttls dial failed", err)
		}

	case SecurityNone:
		rawConn, dialErr := dialer.DialContext(ctx, "tcp", addr)
		if dialErr != nil {
			return mailerrors.Wrap(mailerrors.ConnectionFailed, "tcp dial failed", dialErr)
		}
		c.client = imapclient.New(c.wrapDeadline(rawConn), options)

	default:
		return mailerrors.New(mailerrors.ConnectionFailed, "unknown security type")
	}

	if err := c.client.WaitGreeting(); err != nil {
		c.client.Close()
		c.state = StateClosed
		return mailerrors.Wrap(mailerrors.ConnectionFailed, "no greeting received", err)
	}
	c.state = StateGreeted
	c.caps = c.client.Caps()

	if c.config.Security == SecurityStartTLS && !c.caps.Has(imap.CapStartTLS) {
		// DialStartTLS already errors in this case, but guard explicitly since
		// the capability set is what spec §4.1 actually branches on.
		c.client.Close()
		c.state = StateClosed
		return mailerrors.New(mailerrors.StarttlsNotSupported, "server does not advertise STARTTLS")
	}

	c.log.Debug().Strs("caps", capsToStrings(c.caps)).Msg("server capabilities")
	return nil
}

func (c *Client) wrapDeadline(conn net.Conn) net.Conn {
	return &deadlineConn{Conn: conn, readTimeout: c.config.ReadTimeout, writeTimeout: c.config.WriteTimeout}
}

func capsToStrings(caps imap.CapSet) []string {
	var out []string
	for cp := range caps {
		out = append(out, string(cp))
	}
	return out
}

// Login authenticates with the session's configured credential (password via
// LOGIN/AUTHENTICATE PLAIN, or OAuth2 via AUTHENTICATE XOAUTH2).
func (c *Client) Login() error {
	if c.client == nil {
		return mailerrors.New(mailerrors.ConnectionFailed, "not connected")
	}

	authType := c.config.AuthType
	if authType == "" {
		authType = AuthTypePassword
	}

	var err error
	if authType == AuthTypeOAuth2 {
		err = c.loginOAuth2()
	} else {
		err = c.loginPassword()
	}
	if err != nil {
		return err
	}

	c.caps = c.client.Caps()
	c.state = StateAuthenticated
	c.log.Info().Str("username", c.config.Username).Msg("authenticated")
	return nil
}

func (c *Client) loginPassword() error {
	// LOGIN is tried first; only fall back to AUTHENTICATE PLAIN when the
	// server has disabled LOGIN, since a failed AUTHENTICATE can leave a
	// server's wire state unable to accept a subsequent LOGIN attempt.
	if c.caps.Has(imap.CapLoginDisabled) {
		saslClient := sasl.NewPlainClient("", c.config.Username, c.config.Password)
		if err := c.client.Authenticate(saslClient); err != nil {
			return mailerrors.Wrap(mailerrors.AuthenticationFailed, "AUTHENTICATE PLAIN failed", err)
		}
		return nil
	}
	if err := c.client.Login(c.config.Username, c.config.Password).Wait(); err != nil {
		return mailerrors.Wrap(mailerrors.AuthenticationFailed, "LOGIN failed", err)
	}
	return nil
}

func (c *Client) loginOAuth2() error {
	if c.config.AccessToken == "" {
		return mailerrors.New(mailerrors.NoCredentials, "oauth2 login requires an access token")
	}
	saslClient := NewXOAuth2Client(c.config.Username, c.config.AccessToken)
	if err := c.client.Authenticate(saslClient); err != nil {
		return mailerrors.Wrap(mailerrors.AuthenticationFailed, "XOAUTH2 failed", err)
	}
	return nil
}

// Close logs out (best-effort) and releases the underlying socket.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Logout().Wait(); err != nil {
		c.log.Debug().Err(err).Msg("logout failed, closing anyway")
	}
	c.state = StateClosed
	return c.client.Close()
}

func (c *Client) Caps() imap.CapSet          { return c.caps }
func (c *Client) HasCap(cp imap.Cap) bool    { return c.caps.Has(cp) }
func (c *Client) SupportsIdle() bool         { return c.caps.Has(imap.CapIdle) }
func (c *Client) SupportsQResync() bool      { return c.caps.Has(imap.CapQResync) }
func (c *Client) SupportsCondStore() bool    { return c.caps.Has(imap.CapCondStore) }
func (c *Client) SelectedMailbox() string    { return c.mailbox }
func (c *Client) RawClient() *imapclient.Client { return c.client }

// FolderType classifies a mailbox by RFC 6154 SPECIAL-USE attribute, falling
// back to name heuristics for servers that don't advertise it.
type FolderType string

const (
	FolderTypeInbox   FolderType = "inbox"
	FolderTypeSent    FolderType = "sent"
	FolderTypeDrafts  FolderType = "drafts"
	FolderTypeTrash   FolderType = "trash"
	FolderTypeSpam    FolderType = "spam"
	FolderTypeArchive FolderType = "archive"
	FolderTypeAll     FolderType = "all"
	FolderTypeFolder  FolderType = "folder"
)

// Folder is a listed mailbox (spec §3 Folder, pre-persistence).
type Folder struct {
	Name        string
	Delimiter   string
	Attributes  []string
	Type        FolderType
	UIDValidity uint32
	UIDNext     uint32
	Messages    uint32
	Unseen      uint32
}

// ListFolders runs LIST "" "*" and classifies every returned mailbox.
func (c *Client) ListFolders(ctx context.Context) ([]*Folder, error) {
	if c.client == nil {
		return nil, mailerrors.New(mailerrors.ConnectionFailed, "not connected")
	}

	listCmd := c.client.List("", "*", nil)
	var folders []*Folder
	for {
		mbox := listCmd.Next()
		if mbox == nil {
			break
		}
		f := &Folder{
			Name:       mbox.Mailbox,
			Delimiter:  string(mbox.Delim),
			Attributes: attrsToStrings(mbox.Attrs),
		}
		f.Type = determineFolderType(mbox.Mailbox, mbox.Attrs)
		folders = append(folders, f)
	}
	if err := listCmd.Close(); err != nil {
		return nil, mailerrors.Wrap(mailerrors.CommandFailed, "LIST failed", err)
	}

	demoteShadowedSpecialUse(folders)
	return folders, nil
}

// demoteShadowedSpecialUse downgrades name-matched folders to plain Folder
// type when a SPECIAL-USE-tagged folder already claims that type, preventing
// a stale client-created "Sent" folder from shadowing e.g. [Gmail]/Sent Mail.
func demoteShadowedSpecialUse(folders []*Folder) {
	claimed := make(map[FolderType]bool)
	for _, f := range folders {
		if f.Type != FolderTypeFolder && f.Type != FolderTypeInbox && hasSpecialUseAttr(f.Attributes) {
			claimed[f.Type] = true
		}
	}
	for _, f := range folders {
		if f.Type != FolderTypeFolder && f.Type != FolderTypeInbox && claimed[f.Type] && !hasSpecialUseAttr(f.Attributes) {
			f.Type = FolderTypeFolder
		}
	}
}

func attrsToStrings(attrs []imap.MailboxAttr) []string {
	out := make([]string, len(attrs))
	for i, a := range attrs {
		out[i] = string(a)
	}
	return out
}

func determineFolderType(name string, attrs []imap.MailboxAttr) FolderType {
	for _, attr := range attrs {
		switch attr {
		case imap.MailboxAttrAll:
			return FolderTypeAll
		case imap.MailboxAttrArchive:
			return FolderTypeArchive
		case imap.MailboxAttrDrafts:
			return FolderTypeDrafts
		case imap.MailboxAttrJunk:
			return FolderTypeSpam
		case imap.MailboxAttrSent:
			return FolderTypeSent
		case imap.MailboxAttrTrash:
			return FolderTypeTrash
		}
	}
	switch {
	case name == "INBOX":
		return FolderTypeInbox
	case containsFold(name, "sent"):
		return FolderTypeSent
	case containsFold(name, "draft"):
		return FolderTypeDrafts
	case containsFold(name, "trash") || containsFold(name, "deleted"):
		return FolderTypeTrash
	case containsFold(name, "spam") || containsFold(name, "junk"):
		return FolderTypeSpam
	case containsFold(name, "archive"):
		return FolderTypeArchive
	case containsFold(name, "all mail"):
		return FolderTypeAll
	}
	return FolderTypeFolder
}

func hasSpecialUseAttr(attrs []string) bool {
	for _, a := range attrs {
		switch imap.MailboxAttr(a) {
		case imap.MailboxAttrAll, imap.MailboxAttrArchive, imap.MailboxAttrDrafts,
			imap.MailboxAttrJunk, imap.MailboxAttrSent, imap.MailboxAttrTrash:
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		match := true
		for j := 0; j < len(substr); j++ {
			c1, c2 := s[i+j], substr[j]
			if c1 >= 'A' && c1 <= 'Z' {
				c1 += 32
			}
			if c2 >= 'A' && c2 <= 'Z' {
				c2 += 32
			}
			if c1 != c2 {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// SelectFolder SELECTs a mailbox, entering StateSelected, cancellable via ctx
// since Wait() otherwise blocks indefinitely on a stuck connection.
func (c *Client) SelectFolder(ctx context.Context, name string) (*Folder, error) {
	if c.client == nil {
		return nil, mailerrors.New(mailerrors.ConnectionFailed, "not connected")
	}

	type result struct {
		data *imap.SelectData
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := c.client.Select(name, nil).Wait()
		ch <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, mailerrors.Wrap(mailerrors.OperationCancelled, "select cancelled", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, mailerrors.Wrap(mailerrors.FolderNotFound, "SELECT failed", r.err)
		}
		c.state = StateSelected
		c.mailbox = name
		f := &Folder{
			Name:        name,
			UIDValidity: r.data.UIDValidity,
			UIDNext:     uint32(r.data.UIDNext),
			Messages:    r.data.NumMessages,
		}
		return f, nil
	}
}

// SearchAllUIDs returns every UID in the currently selected folder, used by
// staged sync to discover what's present without pulling envelopes.
func (c *Client) SearchAllUIDs(ctx context.Context) ([]imap.UID, error) {
	return c.searchUIDs(ctx, &imap.SearchCriteria{})
}

// SearchSince returns UIDs of messages received on/after t.
func (c *Client) SearchSince(ctx context.Context, t time.Time) ([]imap.UID, error) {
	return c.searchUIDs(ctx, &imap.SearchCriteria{
		Since: t,
	})
}

func (c *Client) searchUIDs(ctx context.Context, criteria *imap.SearchCriteria) ([]imap.UID, error) {
	if c.client == nil {
		return nil, mailerrors.New(mailerrors.ConnectionFailed, "not connected")
	}
	data, err := c.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, mailerrors.Wrap(mailerrors.CommandFailed, "UID SEARCH failed", err)
	}
	return data.AllUIDs(), nil
}

// MessageHeader is the envelope-level data fetched in the cheap first pass of
// a sync (spec §4.4 Stage A/B): enough to upsert Email rows without bodies.
//
// ENVELOPE carries In-Reply-To but not References (RFC 3501 §7.4.2 defines
// the envelope structure's 9 fields and References isn't one of them), so
// threading step 2 needs a side-channel header fetch for it; the same fetch
// picks up Authentication-Results since it's not an ENVELOPE field either.
type MessageHeader struct {
	UID                   imap.UID
	Envelope              *imap.Envelope
	Flags                 []imap.Flag
	InternalDate          time.Time
	RFC822Size            int64
	BodyStructure         imap.BodyStructure
	References            []string
	AuthenticationResults string
}

// headerFieldsSection requests just References and Authentication-Results
// via HEADER.FIELDS so FetchHeaders stays a single round trip per spec §6's
// FETCH item list, instead of pulling the full header block.
var headerFieldsSection = &imap.FetchItemBodySection{
	Specifier:    imap.PartSpecifierHeader,
	HeaderFields: []string{"REFERENCES", "AUTHENTICATION-RESULTS"},
	Peek:         true,
}

// FetchHeaders fetches ENVELOPE/FLAGS/INTERNALDATE/RFC822.SIZE/BODYSTRUCTURE
// plus BODY.PEEK[HEADER.FIELDS (REFERENCES AUTHENTICATION-RESULTS)] for the
// given UIDs without pulling any body octets (phase one of the two-phase
// body fetch described in spec §4.4).
func (c *Client) FetchHeaders(ctx context.Context, uids []imap.UID) ([]MessageHeader, error) {
	if c.client == nil {
		return nil, mailerrors.New(mailerrors.ConnectionFailed, "not connected")
	}
	if len(uids) == 0 {
		return nil, nil
	}

	uidSet := uidSetOf(uids)
	fetchCmd := c.client.Fetch(uidSet, &imap.FetchOptions{
		Envelope:      true,
		Flags:         true,
		InternalDate:  true,
		RFC822Size:    true,
		BodyStructure: &imap.FetchItemBodyStructure{},
		BodySection:   []*imap.FetchItemBodySection{headerFieldsSection},
	})
	defer fetchCmd.Close()

	var headers []MessageHeader
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			return nil, mailerrors.Wrap(mailerrors.ParsingFailed, "FETCH collect failed", err)
		}
		references, authResults := parseReferencesAndAuthResults(buf.BodySection)
		headers = append(headers, MessageHeader{
			UID:                   buf.UID,
			Envelope:              buf.Envelope,
			Flags:                 buf.Flags,
			InternalDate:          buf.InternalDate,
			RFC822Size:            buf.RFC822Size,
			BodyStructure:         buf.BodyStructure,
			References:            references,
			AuthenticationResults: authResults,
		})
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, mailerrors.Wrap(mailerrors.CommandFailed, "FETCH failed", err)
	}
	return headers, nil
}

// parseReferencesAndAuthResults pulls the References and Authentication-Results
// header values out of the HEADER.FIELDS literal fetched alongside the
// envelope, using go-message's header parser rather than hand-rolled
// line splitting.
func parseReferencesAndAuthResults(sections []imapclient.FetchItemDataBodySection) (references []string, authResults string) {
	for _, bs := range sections {
		if len(bs.Bytes) == 0 {
			continue
		}
		entity, err := gomessage.Read(bytes.NewReader(bs.Bytes))
		if err != nil {
			continue
		}
		if raw := entity.Header.Get("References"); raw != "" {
			for _, part := range strings.Fields(raw) {
				if strings.HasPrefix(part, "<") && strings.HasSuffix(part, ">") {
					references = append(references, part)
				}
			}
		}
		if raw := entity.Header.Get("Authentication-Results"); raw != "" {
			authResults = strings.TrimSpace(raw)
		}
	}
	return references, authResults
}

// BodyPart is one fetched MIME part, keyed by its BODYSTRUCTURE section path.
type BodyPart struct {
	Section string
	Data    []byte
}

// FetchBodies is phase two of the two-phase fetch: given the sections
// discovered from a prior FetchHeaders' BodyStructure, pulls BODY.PEEK[section]
// for every UID in one grouped FETCH, leaving the \Seen flag untouched.
func (c *Client) FetchBodies(ctx context.Context, uids []imap.UID, sections []string) (map[imap.UID][]BodyPart, error) {
	if c.client == nil {
		return nil, mailerrors.New(mailerrors.ConnectionFailed, "not connected")
	}
	if len(uids) == 0 {
		return nil, nil
	}

	items := make([]imap.FetchItem, 0, len(sections))
	for _, s := range sections {
		items = append(items, &imap.FetchItemBodySection{
			Part:   parseSectionPath(s),
			Peek:   true,
		})
	}

	fetchCmd := c.client.Fetch(uidSetOf(uids), &imap.FetchOptions{BodySection: bodySectionItems(items)})
	defer fetchCmd.Close()

	out := make(map[imap.UID][]BodyPart, len(uids))
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			return nil, mailerrors.Wrap(mailerrors.ParsingFailed, "FETCH body collect failed", err)
		}
		var parts []BodyPart
		for _, bs := range buf.BodySection {
			parts = append(parts, BodyPart{Section: sectionPathString(bs.Section.Part), Data: bs.Bytes})
		}
		out[buf.UID] = parts
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, mailerrors.Wrap(mailerrors.CommandFailed, "FETCH failed", err)
	}
	return out, nil
}

func bodySectionItems(items []imap.FetchItem) []*imap.FetchItemBodySection {
	out := make([]*imap.FetchItemBodySection, 0, len(items))
	for _, it := range items {
		if bs, ok := it.(*imap.FetchItemBodySection); ok {
			out = append(out, bs)
		}
	}
	return out
}

// parseSectionPath turns a dotted BODYSTRUCTURE path ("1.2") into go-imap's
// []int part addressing; "" (the whole-message section) maps to nil.
func parseSectionPath(s string) []int {
	if s == "" {
		return nil
	}
	var parts []int
	cur := 0
	has := false
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '.' {
			if has {
				parts = append(parts, cur)
			}
			cur, has = 0, false
			continue
		}
		cur = cur*10 + int(s[i]-'0')
		has = true
	}
	return parts
}

func sectionPathString(parts []int) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "."
		}
		out += fmt.Sprintf("%d", p)
	}
	return out
}

// StoreFlags adds or removes flags on uids in the selected folder. add/remove
// are mutually exclusive per call; pass the flags to change in whichever set
// applies.
func (c *Client) StoreFlags(ctx context.Context, uids []imap.UID, add bool, flags []imap.Flag) error {
	if c.client == nil {
		return mailerrors.New(mailerrors.ConnectionFailed, "not connected")
	}
	if len(uids) == 0 {
		return nil
	}
	op := imap.StoreFlagsDel
	if add {
		op = imap.StoreFlagsAdd
	}
	storeCmd := c.client.Store(uidSetOf(uids), &imap.StoreFlags{Op: op, Flags: flags, Silent: true}, nil)
	if err := storeCmd.Close(); err != nil {
		return mailerrors.Wrap(mailerrors.CommandFailed, "STORE failed", err)
	}
	return nil
}

// CopyMessages copies uids from the selected folder to dest.
func (c *Client) CopyMessages(ctx context.Context, uids []imap.UID, dest string) error {
	if c.client == nil {
		return mailerrors.New(mailerrors.ConnectionFailed, "not connected")
	}
	if len(uids) == 0 {
		return nil
	}
	if _, err := c.client.Copy(uidSetOf(uids), dest).Wait(); err != nil {
		return mailerrors.Wrap(mailerrors.CommandFailed, "COPY failed", err)
	}
	return nil
}

// ExpungeMessages marks uids \Deleted and removes them, using UID EXPUNGE
// (RFC 4315) when the server supports UIDPLUS so only the given UIDs are
// affected, rather than every \Deleted message in the folder.
func (c *Client) ExpungeMessages(ctx context.Context, uids []imap.UID) error {
	if c.client == nil {
		return mailerrors.New(mailerrors.ConnectionFailed, "not connected")
	}
	if len(uids) == 0 {
		return nil
	}
	uidSet := uidSetOf(uids)
	storeCmd := c.client.Store(uidSet, &imap.StoreFlags{Op: imap.StoreFlagsAdd, Flags: []imap.Flag{imap.FlagDeleted}, Silent: true}, nil)
	if err := storeCmd.Close(); err != nil {
		return mailerrors.Wrap(mailerrors.CommandFailed, "STORE +FLAGS \\Deleted failed", err)
	}
	if c.caps.Has(imap.CapUIDPlus) {
		if err := c.client.UIDExpunge(uidSet).Close(); err != nil {
			return mailerrors.Wrap(mailerrors.CommandFailed, "UID EXPUNGE failed", err)
		}
		return nil
	}
	if err := c.client.Expunge().Close(); err != nil {
		return mailerrors.Wrap(mailerrors.CommandFailed, "EXPUNGE failed", err)
	}
	return nil
}

// AppendMessage uploads a full RFC822 message to mailbox (used for Sent
// write-back and Drafts), returning the assigned UID when UIDPLUS is
// available.
func (c *Client) AppendMessage(ctx context.Context, mailbox string, flags []imap.Flag, date time.Time, raw []byte) (imap.UID, error) {
	if c.client == nil {
		return 0, mailerrors.New(mailerrors.ConnectionFailed, "not connected")
	}
	options := &imap.AppendOptions{Flags: flags}
	if !date.IsZero() {
		options.Time = date
	}
	appendCmd := c.client.Append(mailbox, int64(len(raw)), options)
	if _, err := appendCmd.Write(raw); err != nil {
		return 0, mailerrors.Wrap(mailerrors.CommandFailed, "APPEND write failed", err)
	}
	if err := appendCmd.Close(); err != nil {
		return 0, mailerrors.Wrap(mailerrors.CommandFailed, "APPEND close failed", err)
	}
	data, err := appendCmd.Wait()
	if err != nil {
		return 0, mailerrors.Wrap(mailerrors.CommandFailed, "APPEND failed", err)
	}
	return data.UID, nil
}

func uidSetOf(uids []imap.UID) imap.UIDSet {
	s := imap.UIDSet{}
	for _, u := range uids {
		s.AddNum(u)
	}
	return s
}
