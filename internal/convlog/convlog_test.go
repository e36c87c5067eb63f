package convlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendSkipsBlankText(t *testing.T) {
	l := New()
	l.Append(RoleUser, "   ")
	assert.Equal(t, 0, l.Len())
}

func TestAppendOrdersOldestFirst(t *testing.T) {
	l := New()
	l.Append(RoleUser, "hello")
	l.Append(RoleAssistant, "hi there")

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Role: RoleUser, Text: "hello"}, entries[0])
	assert.Equal(t, Entry{Role: RoleAssistant, Text: "hi there"}, entries[1])
}

func TestAppendEvictsOldestBeyondMaxEntries(t *testing.T) {
	l := New()
	for i := 0; i < MaxEntries+5; i++ {
		l.Append(RoleUser, "turn")
	}
	assert.Equal(t, MaxEntries, l.Len())
}

func TestRenderEmptyLog(t *testing.T) {
	l := New()
	assert.Equal(t, "", l.Render())
}

func TestRenderAlternatesRoles(t *testing.T) {
	l := New()
	l.Append(RoleUser, "what is foo?")
	l.Append(RoleAssistant, "foo is bar")

	assert.Equal(t, "User: what is foo?\nAssistant: foo is bar", l.Render())
}
