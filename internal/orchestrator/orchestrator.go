// Package orchestrator implements the top-level request path: retrieve
// context, assemble a prompt, dispatch to a leased worker, and keep
// the session's conversation log current. Grounded on
// ai/agents/chat_router.go's RouteWithContext -> ExecuteExpert shape,
// generalized from expert routing to a single fixed retrieve-then-ask
// pipeline.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/ragd/internal/convlog"
	"github.com/hrygo/ragd/internal/errs"
	"github.com/hrygo/ragd/internal/pool"
	"github.com/hrygo/ragd/internal/prompt"
	"github.com/hrygo/ragd/internal/vectormemory"
)

// FallbackReply is returned verbatim when the knowledge base has
// nothing relevant; the LLM is not consulted in that case.
const FallbackReply = "I don't have any relevant information in my knowledge base to answer that question."

const (
	defaultTopK     = 5
	defaultMinScore = 0.6
)

// Orchestrator owns one session's conversation log and wires retrieval,
// prompt assembly, and worker dispatch together.
type Orchestrator struct {
	memory    *vectormemory.Memory
	pool      *pool.Pool
	assembler *prompt.Assembler
	log       *convlog.Log

	collection    string
	queryDeadline time.Duration
}

// New returns an Orchestrator bound to the given memory, pool, and
// collection, with its own fresh conversation log.
func New(memory *vectormemory.Memory, p *pool.Pool, collection string, queryDeadline time.Duration) *Orchestrator {
	return &Orchestrator{
		memory:        memory,
		pool:          p,
		assembler:     prompt.New(),
		log:           convlog.New(),
		collection:    collection,
		queryDeadline: queryDeadline,
	}
}

// Ask implements the ask(question, cancel) -> reply operation. It
// never returns an error for LLM-side failures; those are encoded into
// the returned reply string instead. It returns an error only for a
// malformed request (BadRequest), a retrieval failure (store or
// embedding), or a cancelled/failed acquisition.
func (o *Orchestrator) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", errors.Wrap(errs.ErrBadRequest, "question must not be empty")
	}

	o.log.Append(convlog.RoleUser, question)

	retrieved, err := o.memory.Search(ctx, question, vectormemory.SearchOptions{
		TopK:       defaultTopK,
		MinScore:   defaultMinScore,
		Collection: o.collection,
	})
	if err != nil {
		return "", err
	}
	if retrieved == nil {
		return FallbackReply, nil
	}

	finalPrompt, err := o.assembler.Assemble(retrieved, o.log)
	if err != nil {
		return "", err
	}

	lease, err := o.pool.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer lease.Release()

	reply, queryErr := lease.Worker.Query(ctx, finalPrompt, question, o.queryDeadline)
	if queryErr != nil {
		reply = fmt.Sprintf("[ERROR] Failed to get response: %s", queryErr.Error())
		return reply, nil
	}

	if strings.TrimSpace(reply) != "" {
		o.log.Append(convlog.RoleAssistant, reply)
	}

	return reply, nil
}

// ConversationLog exposes the session's log, mainly for inspection in
// tests and administrative tooling.
func (o *Orchestrator) ConversationLog() *convlog.Log { return o.log }
