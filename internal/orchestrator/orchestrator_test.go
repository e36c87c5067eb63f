package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/ragd/internal/embedding"
	"github.com/hrygo/ragd/internal/errs"
	"github.com/hrygo/ragd/internal/fragment"
	"github.com/hrygo/ragd/internal/fragmentstore"
	"github.com/hrygo/ragd/internal/pool"
	"github.com/hrygo/ragd/internal/vectormemory"
	"github.com/hrygo/ragd/internal/worker"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake CLI scripts require a POSIX shell")
	}
}

func fakeCLI(t *testing.T, body string) string {
	t.Helper()
	requireUnix(t)
	path := filepath.Join(t.TempDir(), "fake-llm")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

// memDriver is a minimal in-memory fragmentstore.Driver for orchestrator
// end-to-end tests.
type memDriver struct {
	byCollection map[string][]*fragment.Fragment
}

func newMemDriver() *memDriver { return &memDriver{byCollection: map[string][]*fragment.Fragment{}} }

func (d *memDriver) InitSchema(context.Context) error { return nil }
func (d *memDriver) BulkInsert(_ context.Context, fs []*fragment.Fragment) error {
	for _, f := range fs {
		d.byCollection[f.Collection] = append(d.byCollection[f.Collection], f)
	}
	return nil
}
func (d *memDriver) LoadByCollection(_ context.Context, c string) ([]*fragment.Fragment, error) {
	return d.byCollection[c], nil
}
func (d *memDriver) LoadPaged(_ context.Context, c string, _, _ int) ([]*fragment.Fragment, error) {
	return d.byCollection[c], nil
}
func (d *memDriver) Count(_ context.Context, c string) (int, error) {
	return len(d.byCollection[c]), nil
}
func (d *memDriver) HasAnyEmbeddings(_ context.Context, c string) (bool, error) {
	return len(d.byCollection[c]) > 0, nil
}
func (d *memDriver) CollectionExists(_ context.Context, c string) (bool, error) {
	return len(d.byCollection[c]) > 0, nil
}
func (d *memDriver) ListCollections(context.Context) ([]string, error) { return nil, nil }
func (d *memDriver) DeleteCollection(_ context.Context, c string) error {
	delete(d.byCollection, c)
	return nil
}
func (d *memDriver) Delete(context.Context, string) error                { return nil }
func (d *memDriver) UpdateContent(context.Context, string, string) error { return nil }
func (d *memDriver) Close() error                                        { return nil }

// newTestOrchestrator wires an in-memory store, a static embedder, and a
// single-worker pool backed by a fake CLI script (empty cliBody means
// "never spawn a real worker", for tests that must not touch the pool).
func newTestOrchestrator(t *testing.T, driver *memDriver, capacity int, cliBody string) *Orchestrator {
	t.Helper()
	store := fragmentstore.New(driver)
	memory := vectormemory.New(store, embedding.NewStaticProvider(32))

	var cli string
	if cliBody != "" {
		cli = fakeCLI(t, cliBody)
	}
	p := pool.New(capacity, func(id string) (*worker.Worker, error) {
		return worker.New(id, cli, "model.gguf", 0, nil), nil
	}, nil)
	require.NoError(t, p.WarmUp(context.Background(), nil))

	return New(memory, p, "docs", 5*time.Second)
}

func TestAskEmptyQuestionFails(t *testing.T) {
	o := newTestOrchestrator(t, newMemDriver(), 1, `echo "assistant: ok"`)
	_, err := o.Ask(context.Background(), "   ")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrBadRequest)
}

func TestAskEmptyKnowledgeBaseReturnsFallbackWithoutTouchingPool(t *testing.T) {
	// cliBody is empty: if Ask ever reached pool.Acquire here it would
	// spawn a worker with an empty executable path and fail loudly, or
	// (if pool.WarmUp's factory still succeeds) the reply would not be
	// FallbackReply — either way this test would catch a regression.
	o := newTestOrchestrator(t, newMemDriver(), 1, "")

	reply, err := o.Ask(context.Background(), "anything at all")
	require.NoError(t, err)
	assert.Equal(t, FallbackReply, reply)

	entries := o.ConversationLog().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "anything at all", entries[0].Text)
}

func TestAskSingleMatchRetrievesAndAnswers(t *testing.T) {
	driver := newMemDriver()
	store := fragmentstore.New(driver)
	memory := vectormemory.New(store, embedding.NewStaticProvider(32))
	require.NoError(t, memory.SaveFragments(context.Background(), []*fragment.Fragment{
		fragment.NewFragment("docs", "test query", "test query"),
	}, "docs", false))

	cli := fakeCLI(t, `echo "assistant: forty-two"`)
	p := pool.New(1, func(id string) (*worker.Worker, error) {
		return worker.New(id, cli, "model.gguf", 0, nil), nil
	}, nil)
	require.NoError(t, p.WarmUp(context.Background(), nil))
	o := New(memory, p, "docs", 5*time.Second)

	reply, err := o.Ask(context.Background(), "test query")
	require.NoError(t, err)
	assert.Equal(t, "forty-two", reply)

	entries := o.ConversationLog().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "test query", entries[0].Text)
	assert.Equal(t, "forty-two", entries[1].Text)
}

func TestAskBurstOfConcurrentRequestsAllComplete(t *testing.T) {
	driver := newMemDriver()
	store := fragmentstore.New(driver)
	memory := vectormemory.New(store, embedding.NewStaticProvider(32))
	require.NoError(t, memory.SaveFragments(context.Background(), []*fragment.Fragment{
		fragment.NewFragment("docs", "topic", "topic content here"),
	}, "docs", false))

	cli := fakeCLI(t, `echo "assistant: ok"`)
	p := pool.New(1, func(id string) (*worker.Worker, error) {
		return worker.New(id, cli, "model.gguf", 0, nil), nil
	}, nil)
	require.NoError(t, p.WarmUp(context.Background(), nil))
	o := New(memory, p, "docs", 5*time.Second)

	var wg sync.WaitGroup
	errCh := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Ask(context.Background(), "topic content here")
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		assert.NoError(t, err)
	}
}

func TestAskCancelledWhileWaitingForWorkerReturnsCancelled(t *testing.T) {
	driver := newMemDriver()
	store := fragmentstore.New(driver)
	memory := vectormemory.New(store, embedding.NewStaticProvider(32))
	require.NoError(t, memory.SaveFragments(context.Background(), []*fragment.Fragment{
		fragment.NewFragment("docs", "topic", "topic content here"),
	}, "docs", false))

	cli := fakeCLI(t, `sleep 2; echo "assistant: slow"`)
	p := pool.New(1, func(id string) (*worker.Worker, error) {
		return worker.New(id, cli, "model.gguf", 0, nil), nil
	}, nil)
	require.NoError(t, p.WarmUp(context.Background(), nil))
	o := New(memory, p, "docs", 5*time.Second)

	go func() { _, _ = o.Ask(context.Background(), "topic content here") }()
	time.Sleep(100 * time.Millisecond) // let the first Ask acquire the only worker

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err := o.Ask(ctx, "topic content here")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrCancelled)
}

func TestAskWorkerFailureYieldsErrorReplyNotGoError(t *testing.T) {
	driver := newMemDriver()
	store := fragmentstore.New(driver)
	memory := vectormemory.New(store, embedding.NewStaticProvider(32))
	require.NoError(t, memory.SaveFragments(context.Background(), []*fragment.Fragment{
		fragment.NewFragment("docs", "topic", "topic content here"),
	}, "docs", false))

	p := pool.New(1, func(id string) (*worker.Worker, error) {
		return worker.New(id, "/nonexistent-llm-cli", "model.gguf", 0, nil), nil
	}, nil)
	require.NoError(t, p.WarmUp(context.Background(), nil))
	o := New(memory, p, "docs", 5*time.Second)

	reply, err := o.Ask(context.Background(), "topic content here")
	require.NoError(t, err)
	assert.Contains(t, reply, "[ERROR]")

	// A failed ask appends exactly the user entry; no assistant entry
	// is recorded so the error string never pollutes later prompts.
	entries := o.ConversationLog().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "topic content here", entries[0].Text)
}

func TestAskFindsLegacyFragmentWithOnlyCombinedEmbedding(t *testing.T) {
	driver := newMemDriver()
	embedder := embedding.NewStaticProvider(32)
	emb, err := embedder.Embed(context.Background(), "legacy content")
	require.NoError(t, err)

	legacy := fragment.NewFragment("docs", "legacy", "legacy content")
	legacy.CombinedEmbedding = emb
	require.NoError(t, driver.BulkInsert(context.Background(), []*fragment.Fragment{legacy}))

	store := fragmentstore.New(driver)
	memory := vectormemory.New(store, embedder)
	cli := fakeCLI(t, `echo "assistant: found it"`)
	p := pool.New(1, func(id string) (*worker.Worker, error) {
		return worker.New(id, cli, "model.gguf", 0, nil), nil
	}, nil)
	require.NoError(t, p.WarmUp(context.Background(), nil))
	o := New(memory, p, "docs", 5*time.Second)

	reply, err := o.Ask(context.Background(), "legacy content")
	require.NoError(t, err)
	assert.Equal(t, "found it", reply)
}
