package sync

import (
	"strings"

	goimap "github.com/emersion/go-imap/v2"

	"github.com/aerionmail/mailcore/internal/account"
	"github.com/aerionmail/mailcore/internal/folder"
	"github.com/aerionmail/mailcore/internal/imap"
)

// shouldSync reports whether a listed mailbox should ever be the target of
// a mutating/pulling sync pass, per spec §4.9's should_sync rule: \Noselect,
// virtual folders, and provider-specific skip rules are excluded. Folders
// excluded here but with a recognized type are still upserted by
// folderTypeOf's caller so actions can reference them (e.g. Gmail's All
// Mail under label_remove_inbox).
func shouldSync(f *imap.Folder, acct *account.Account) bool {
	for _, attr := range f.Attributes {
		if strings.EqualFold(attr, string(goimap.MailboxAttrNoSelect)) {
			return false
		}
	}
	if f.Type == imap.FolderTypeAll && acct.ArchiveStrategy == account.ArchiveRemoveInbox {
		// Gmail's All Mail duplicates every labeled message; syncing it
		// would double-count against the per-label folders.
		return false
	}
	return true
}

// folderTypeOf maps an imap.Folder's SPECIAL-USE/name classification onto
// the persistence layer's FolderType tag.
func folderTypeOf(f *imap.Folder) folder.FolderType {
	switch f.Type {
	case imap.FolderTypeInbox:
		return folder.TypeInbox
	case imap.FolderTypeSent:
		return folder.TypeSent
	case imap.FolderTypeDrafts:
		return folder.TypeDrafts
	case imap.FolderTypeTrash:
		return folder.TypeTrash
	case imap.FolderTypeSpam:
		return folder.TypeJunk
	case imap.FolderTypeArchive:
		return folder.TypeArchive
	case imap.FolderTypeAll:
		return folder.TypeAllMail
	default:
		return folder.TypeCustom
	}
}

// destinationArchiveFolder resolves the provider-appropriate archive target
// (spec §3.7 Archive is provider-aware): Gmail-style accounts never copy
// anywhere (the inbox label is simply removed), everyone else copies to
// whichever folder carries the Archive type.
func destinationArchiveFolder(acct *account.Account, folders []*folder.Folder) (*folder.Folder, bool) {
	if acct.ArchiveStrategy == account.ArchiveRemoveInbox {
		return nil, false
	}
	for _, f := range folders {
		if f.Type == folder.TypeArchive {
			return f, true
		}
	}
	return nil, false
}
