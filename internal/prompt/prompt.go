// Package prompt assembles the final system prompt handed to the LLM
// worker from a fixed directive, retrieved context, and optionally the
// recent conversation log. The template mirrors the
// Message{Role,Content} shape ai/core/llm/service.go builds its chat
// payloads from, narrowed here to a single rendered system string
// instead of a role-tagged message slice.
package prompt

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/ragd/internal/convlog"
	"github.com/hrygo/ragd/internal/errs"
)

// BaseDirective is the fixed system instruction prepended to every
// assembled prompt: answer only from the supplied context, never
// invent rules, and reply tersely.
const BaseDirective = "You are a helpful assistant. Answer the user's question using ONLY the information in the CONTEXT section below. Do not invent facts or rules that are not present in the context. Reply tersely and directly."

// Assembler builds the final prompt from a base directive, retrieved
// context, and an optional conversation log.
type Assembler struct {
	baseDirective string
}

// New returns an Assembler using BaseDirective.
func New() *Assembler {
	return &Assembler{baseDirective: BaseDirective}
}

// NewWithDirective returns an Assembler overriding the base directive,
// mainly for tests.
func NewWithDirective(directive string) *Assembler {
	return &Assembler{baseDirective: directive}
}

// Assemble renders the final system prompt. retrievedContext is a
// pointer so nil is distinguishable from "": a nil context means
// VectorMemory found nothing, and assembly fails since the caller
// must not invoke the LLM in that case. log may be nil or empty.
func (a *Assembler) Assemble(retrievedContext *string, log *convlog.Log) (string, error) {
	if retrievedContext == nil {
		return "", errors.Wrap(errs.ErrBadRequest, "cannot assemble prompt: retrieved_context is nil")
	}

	var b strings.Builder
	b.WriteString(a.baseDirective)
	b.WriteString("\n=== CONTEXT (Use ONLY this information) ===\n")
	b.WriteString(*retrievedContext)
	b.WriteString("\n=== END OF CONTEXT ===\n")

	if log != nil {
		if rendered := log.Render(); rendered != "" {
			b.WriteString("=== RECENT CONVERSATION ===\n")
			b.WriteString(rendered)
			b.WriteString("\n=== END OF CONVERSATION ===\n")
		}
	}

	return b.String(), nil
}
