package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aerionmail/mailcore/internal/account"
	"github.com/aerionmail/mailcore/internal/folder"
	"github.com/aerionmail/mailcore/internal/imap"
)

func TestShouldSync(t *testing.T) {
	gmail := &account.Account{ArchiveStrategy: account.ArchiveRemoveInbox}
	other := &account.Account{ArchiveStrategy: account.ArchiveCopyToArchive}

	tests := []struct {
		name string
		f    *imap.Folder
		acct *account.Account
		want bool
	}{
		{name: "plain selectable folder", f: &imap.Folder{Type: imap.FolderTypeInbox}, acct: other, want: true},
		{name: "noselect folder excluded", f: &imap.Folder{Attributes: []string{`\Noselect`}}, acct: other, want: false},
		{name: "gmail all mail excluded", f: &imap.Folder{Type: imap.FolderTypeAll}, acct: gmail, want: false},
		{name: "non-gmail all mail still syncs", f: &imap.Folder{Type: imap.FolderTypeAll}, acct: other, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldSync(tt.f, tt.acct))
		})
	}
}

func TestFolderTypeOf(t *testing.T) {
	tests := []struct {
		name string
		in   imap.FolderType
		want folder.FolderType
	}{
		{name: "inbox", in: imap.FolderTypeInbox, want: folder.TypeInbox},
		{name: "sent", in: imap.FolderTypeSent, want: folder.TypeSent},
		{name: "drafts", in: imap.FolderTypeDrafts, want: folder.TypeDrafts},
		{name: "trash", in: imap.FolderTypeTrash, want: folder.TypeTrash},
		{name: "spam maps to junk", in: imap.FolderTypeSpam, want: folder.TypeJunk},
		{name: "archive", in: imap.FolderTypeArchive, want: folder.TypeArchive},
		{name: "all maps to all mail", in: imap.FolderTypeAll, want: folder.TypeAllMail},
		{name: "unrecognized falls back to custom", in: imap.FolderType("weird"), want: folder.TypeCustom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, folderTypeOf(&imap.Folder{Type: tt.in}))
		})
	}
}

func TestDestinationArchiveFolder(t *testing.T) {
	folders := []*folder.Folder{
		{ID: "f1", Type: folder.TypeInbox},
		{ID: "f2", Type: folder.TypeArchive},
		{ID: "f3", Type: folder.TypeTrash},
	}

	gmail := &account.Account{ArchiveStrategy: account.ArchiveRemoveInbox}
	dest, ok := destinationArchiveFolder(gmail, folders)
	assert.False(t, ok, "gmail-style accounts never copy to an archive folder")
	assert.Nil(t, dest)

	other := &account.Account{ArchiveStrategy: account.ArchiveCopyToArchive}
	dest, ok = destinationArchiveFolder(other, folders)
	assert.True(t, ok)
	assert.Equal(t, "f2", dest.ID)

	noArchive := []*folder.Folder{{ID: "f1", Type: folder.TypeInbox}}
	dest, ok = destinationArchiveFolder(other, noArchive)
	assert.False(t, ok, "no archive folder present")
	assert.Nil(t, dest)
}
