package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/ragd/internal/convlog"
	"github.com/hrygo/ragd/internal/errs"
)

func TestAssembleNilContextFails(t *testing.T) {
	a := New()
	_, err := a.Assemble(nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrBadRequest)
}

func TestAssembleWithoutConversationLog(t *testing.T) {
	a := NewWithDirective("DIRECTIVE")
	ctx := "some retrieved context"

	got, err := a.Assemble(&ctx, nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got, "DIRECTIVE"))
	assert.Contains(t, got, "=== CONTEXT (Use ONLY this information) ===\nsome retrieved context\n=== END OF CONTEXT ===\n")
	assert.NotContains(t, got, "RECENT CONVERSATION")
}

func TestAssembleWithEmptyConversationLogOmitsSection(t *testing.T) {
	a := New()
	ctx := "ctx"
	log := convlog.New()

	got, err := a.Assemble(&ctx, log)
	require.NoError(t, err)
	assert.NotContains(t, got, "RECENT CONVERSATION")
}

func TestAssembleWithConversationLog(t *testing.T) {
	a := New()
	ctx := "ctx"
	log := convlog.New()
	log.Append(convlog.RoleUser, "earlier question")
	log.Append(convlog.RoleAssistant, "earlier answer")

	got, err := a.Assemble(&ctx, log)
	require.NoError(t, err)

	assert.Contains(t, got, "=== RECENT CONVERSATION ===\nUser: earlier question\nAssistant: earlier answer\n=== END OF CONVERSATION ===\n")
}
