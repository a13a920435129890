package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aerionmail/mailcore/internal/account"
	"github.com/aerionmail/mailcore/internal/email"
)

func TestSplitAddresses(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty string yields nil", in: "", want: nil},
		{name: "malformed json yields nil", in: "not json", want: nil},
		{name: "single address", in: `[{"name":"Alice","email":"alice@example.com"}]`, want: []string{"alice@example.com"}},
		{name: "multiple addresses", in: `[{"name":"Alice","email":"alice@example.com"},{"name":"","email":"bob@example.com"}]`, want: []string{"alice@example.com", "bob@example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitAddresses(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			var gotEmails []string
			for _, a := range got {
				gotEmails = append(gotEmails, a.Address)
			}
			assert.Equal(t, tt.want, gotEmails)
		})
	}
}

func TestComposeFromEmail(t *testing.T) {
	acct := &account.Account{Name: "Alice", Email: "alice@example.com"}
	em := &email.Email{
		Subject:   "Re: Hello",
		PlainBody: "hi there",
		HTMLBody:  "<p>hi there</p>",
		ToList:    `[{"name":"Bob","email":"bob@example.com"}]`,
		CcList:    `[{"name":"Carl","email":"carl@example.com"}]`,
		InReplyTo: "<abc@mail.example.com>",
	}

	msg := composeFromEmail(acct, em)

	assert.Equal(t, "alice@example.com", msg.From.Address)
	assert.Equal(t, "Alice", msg.From.Name)
	assert.Equal(t, "Re: Hello", msg.Subject)
	assert.Equal(t, "hi there", msg.TextBody)
	assert.Equal(t, "<p>hi there</p>", msg.HTMLBody)
	assert.Len(t, msg.To, 1)
	assert.Equal(t, "bob@example.com", msg.To[0].Address)
	assert.Len(t, msg.Cc, 1)
	assert.Equal(t, "carl@example.com", msg.Cc[0].Address)
	assert.Empty(t, msg.Bcc)
	assert.Equal(t, "<abc@mail.example.com>", msg.InReplyTo)
	assert.Equal(t, []string{"<abc@mail.example.com>"}, msg.References)
}

func TestComposeFromEmailNoReplyTo(t *testing.T) {
	acct := &account.Account{Name: "Alice", Email: "alice@example.com"}
	em := &email.Email{Subject: "New thread"}

	msg := composeFromEmail(acct, em)
	assert.Empty(t, msg.InReplyTo)
	assert.Nil(t, msg.References)
}
