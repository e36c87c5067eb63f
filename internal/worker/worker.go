// Package worker implements one handle to the local LLM CLI, queried
// by spawning a fresh subprocess per query rather than keeping a
// persistent child session open. The output-parsing state machine and
// scanner plumbing are grounded on ai/agents/runner.streamOutput
// (bufio.Scanner with a sized buffer, a dedicated scan goroutine, and
// force-closing pipes on cancellation).
package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/ragd/internal/errs"
)

const (
	scannerInitialBufSize = 64 * 1024
	scannerMaxBufSize     = 1024 * 1024

	// assistantTag marks the end of the model's loading prologue.
	assistantTag = "assistant:"
	// userTag marks the start of a hallucinated follow-up turn; any
	// text from here on is stripped from the candidate answer.
	userTag = "user:"
	// controlTokenPrefix marks the start of a trailing control-token
	// span to strip from the candidate answer.
	controlTokenPrefix = "<|"

	// defaultGenerationIdleWindow: once the model has started answering,
	// this much silence means it is done, unless New is given an
	// explicit override.
	defaultGenerationIdleWindow = 3 * time.Second

	progressTickInterval = 2 * time.Second
)

// Generation parameters passed to the LLM CLI on every invocation.
const (
	maxTokens        = 200
	temperature      = 0.3
	topP             = 0.85
	topK             = 30
	repeatPenalty    = 1.15
	presencePenalty  = 0.2
	frequencyPenalty = 0.2
)

// Worker is one handle to the LLM CLI. It is safe for concurrent
// Query calls — they are serialized internally — but the WorkerPool
// above it is expected to lease it to one caller at a time anyway.
type Worker struct {
	id             string
	executablePath string
	modelPath      string
	idleWindow     time.Duration

	logger *slog.Logger

	mu       sync.Mutex // serializes queries against this worker
	healthy  atomic.Bool
	disposed atomic.Bool

	lastUsedMu sync.Mutex
	lastUsed   time.Time
}

// New creates a worker in a healthy, not-yet-used state. idleWindow is
// the silence-after-generation-starts duration that marks a reply as
// complete; a zero value falls back to defaultGenerationIdleWindow.
func New(id, executablePath, modelPath string, idleWindow time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if idleWindow <= 0 {
		idleWindow = defaultGenerationIdleWindow
	}
	w := &Worker{
		id:             id,
		executablePath: executablePath,
		modelPath:      modelPath,
		idleWindow:     idleWindow,
		logger:         logger,
	}
	w.healthy.Store(true)
	return w
}

// ID returns the worker's pool-assigned identifier.
func (w *Worker) ID() string { return w.id }

// IsHealthy reports whether the worker has ever failed a query.
func (w *Worker) IsHealthy() bool { return w.healthy.Load() }

// LastUsed returns the timestamp of the most recent query acquisition.
func (w *Worker) LastUsed() time.Time {
	w.lastUsedMu.Lock()
	defer w.lastUsedMu.Unlock()
	return w.lastUsed
}

// Dispose permanently retires the worker; subsequent queries fail with
// ErrWorkerDisposed. Called by the pool on teardown or replacement.
func (w *Worker) Dispose() {
	w.disposed.Store(true)
}

// Query synchronously invokes the LLM CLI with systemPrompt and
// userQuestion concatenated, and returns the extracted assistant span.
// deadline bounds the overall wall-clock time; ctx is additionally
// observed for caller cancellation.
func (w *Worker) Query(ctx context.Context, systemPrompt, userQuestion string, deadline time.Duration) (string, error) {
	if w.disposed.Load() {
		return "", errs.ErrWorkerDisposed
	}
	if !w.healthy.Load() {
		return "", errs.ErrWorkerUnhealthy
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastUsedMu.Lock()
	w.lastUsed = time.Now()
	w.lastUsedMu.Unlock()

	reply, err := w.runQuery(ctx, systemPrompt, userQuestion, deadline)
	if err != nil {
		w.healthy.Store(false)
	}
	return reply, err
}

func (w *Worker) runQuery(parent context.Context, systemPrompt, userQuestion string, deadline time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(parent, deadline)
	defer cancel()

	prompt := strings.TrimSpace(systemPrompt + "\n\n" + userQuestion)

	args := []string{
		"-m", w.modelPath,
		"-p", prompt,
		"--n-predict", strconv.Itoa(maxTokens),
		"--temp", formatFloat(temperature),
		"--top-p", formatFloat(topP),
		"--top-k", strconv.Itoa(topK),
		"--repeat-penalty", formatFloat(repeatPenalty),
		"--presence-penalty", formatFloat(presencePenalty),
		"--frequency-penalty", formatFloat(frequencyPenalty),
	}

	cmd := exec.CommandContext(ctx, w.executablePath, args...)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", errors.Wrap(errs.ErrWorkerSpawnFailed, err.Error())
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return "", errors.Wrap(errs.ErrWorkerSpawnFailed, err.Error())
	}

	reply, parseErr := w.parseOutput(ctx, stdout)

	// parseOutput also returns once the idle window has elapsed, while
	// the child may still be running; kill it so Wait does not block
	// until the overall deadline.
	killProcessGroup(cmd)
	waitErr := cmd.Wait()
	// Exit status is not consulted for correctness; only the parsed
	// output and ctx deadline determine the result.
	_ = waitErr

	if parseErr != nil {
		killProcessGroup(cmd)
		return "", parseErr
	}

	if ctx.Err() != nil {
		killProcessGroup(cmd)
		msg := "overall deadline elapsed"
		if reply != "" {
			msg += "; partial answer: " + reply
		}
		return "", errors.Wrap(errs.ErrWorkerTimeout, msg)
	}

	return reply, nil
}

// parseOutput implements the Prologue -> Generating -> Done|TimedOut
// state machine that extracts the assistant's reply from the CLI's
// stdout stream.
func (w *Worker) parseOutput(ctx context.Context, stdout io.ReadCloser) (string, error) {
	lineCh := make(chan string)
	scanDone := make(chan error, 1)

	go func() {
		defer close(lineCh)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, scannerInitialBufSize), scannerMaxBufSize)
		for scanner.Scan() {
			select {
			case lineCh <- scanner.Text():
			case <-ctx.Done():
				scanDone <- ctx.Err()
				return
			}
		}
		scanDone <- scanner.Err()
	}()

	var (
		inPrologue   = true
		answer       strings.Builder
		lastTickedAt = time.Now()
	)

	idleTimer := time.NewTimer(24 * time.Hour) // disarmed until generation starts
	defer idleTimer.Stop()

	for {
		select {
		case line, ok := <-lineCh:
			if !ok {
				return cleanAnswer(answer.String()), nil
			}
			if inPrologue {
				lower := strings.ToLower(line)
				idx := strings.Index(lower, assistantTag)
				if idx < 0 {
					if time.Since(lastTickedAt) >= progressTickInterval {
						w.logger.Info("llm worker loading model", "worker_id", w.id)
						lastTickedAt = time.Now()
					}
					continue
				}
				inPrologue = false
				rest := line[idx+len(assistantTag):]
				if rest != "" {
					answer.WriteString(rest)
					answer.WriteString("\n")
				}
				resetTimer(idleTimer, w.idleWindow)
				continue
			}

			answer.WriteString(line)
			answer.WriteString("\n")
			resetTimer(idleTimer, w.idleWindow)

		case <-idleTimer.C:
			if inPrologue {
				// Prologue never produces idle ticks on its own timer;
				// this only fires once generation has begun.
				continue
			}
			return cleanAnswer(answer.String()), nil

		case err := <-scanDone:
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				return "", errors.Wrap(err, "failed reading llm output")
			}
			return cleanAnswer(answer.String()), nil

		case <-ctx.Done():
			return cleanAnswer(answer.String()), nil
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// cleanAnswer strips a trailing control-token span and any
// hallucinated follow-up user turn from the raw generated text.
func cleanAnswer(raw string) string {
	s := raw
	if idx := strings.Index(s, controlTokenPrefix); idx >= 0 {
		s = s[:idx]
	}
	if idx := strings.Index(strings.ToLower(s), userTag); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}
