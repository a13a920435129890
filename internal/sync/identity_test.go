package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		want    string
	}{
		{name: "plain", subject: "Quarterly report", want: "quarterly report"},
		{name: "single re prefix", subject: "Re: Quarterly report", want: "quarterly report"},
		{name: "stacked prefixes", subject: "Re: Fwd: Re: Quarterly report", want: "quarterly report"},
		{name: "case insensitive prefix", subject: "RE: FWD: Quarterly report", want: "quarterly report"},
		{name: "fw abbreviation", subject: "Fw: Quarterly report", want: "quarterly report"},
		{name: "surrounding whitespace", subject: "   Re:   Quarterly report  ", want: "quarterly report"},
		{name: "empty", subject: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeSubject(tt.subject))
		})
	}
}

func TestCanonicalKey(t *testing.T) {
	date := time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)

	key := canonicalKey("Alice@Example.com", "Re: Hello", date, 1024)
	assert.Equal(t, key, canonicalKey("alice@example.com", "Hello", date, 1024),
		"from-case and subject-prefix variants of the same message must collide")

	otherDay := date.Add(48 * time.Hour)
	assert.NotEqual(t, key, canonicalKey("alice@example.com", "Hello", otherDay, 1024),
		"a different day bucket must not collide")

	assert.NotEqual(t, key, canonicalKey("alice@example.com", "Hello", date, 2048),
		"a different size must not collide")
}

func TestStableEmailID(t *testing.T) {
	id1 := stableEmailID("acct-1", "alice@example.com|hello|19000|1024")
	id2 := stableEmailID("acct-1", "alice@example.com|hello|19000|1024")
	assert.Equal(t, id1, id2, "identical inputs must be deterministic")
	assert.Len(t, id1, 16)

	id3 := stableEmailID("acct-2", "alice@example.com|hello|19000|1024")
	assert.NotEqual(t, id1, id3, "different accounts must not collide on the same identity key")
}

func TestNormalizeMessageID(t *testing.T) {
	assert.Equal(t, "abc123@mail.example.com", normalizeMessageID("<abc123@mail.example.com>"))
	assert.Equal(t, "abc123@mail.example.com", normalizeMessageID("  <abc123@mail.example.com>  "))
	assert.Equal(t, "", normalizeMessageID(""))
}

func TestWithinDays(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, withinDays(base, base.Add(29*24*time.Hour), 30))
	assert.True(t, withinDays(base, base.Add(-29*24*time.Hour), 30), "direction shouldn't matter")
	assert.False(t, withinDays(base, base.Add(31*24*time.Hour), 30))
}
