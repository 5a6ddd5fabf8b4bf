// Package worker runs queued background jobs: replies to inbound chat
// messages and outbound message delivery.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/personabot/pbot/internal/storage"
)

// Job types.
const (
	TypeChatMessage     = "chat_message"
	TypeOutboundMessage = "outbound_message"
)

// MsgInternalError is sent when handling a chat message panics.
const MsgInternalError = "Something went wrong, please try again."

// ChatPayload is an inbound message waiting for a reply.
type ChatPayload struct {
	ChatID   string `json:"chat_id"`
	Username string `json:"username"`
	Text     string `json:"text"`
}

// OutboundPayload is a message to deliver as is.
type OutboundPayload struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
}

// Enqueuer adds jobs to the queue.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// Sender delivers text to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// Handler produces the reply to an inbound message.
type Handler interface {
	Handle(ctx context.Context, text string) string
}

// Enqueue marshals payload into a new pending job of type typ and returns its id.
func Enqueue(ctx context.Context, q Enqueuer, typ string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling %s payload: %w", typ, err)
	}
	id := uuid.New().String()
	if err := q.EnqueueJob(ctx, storage.Job{ID: id, Type: typ, PayloadJSON: string(data)}); err != nil {
		return "", fmt.Errorf("enqueuing %s job: %w", typ, err)
	}
	return id, nil
}

// DefaultConcurrency is the number of jobs a Worker runs at once unless
// SetConcurrency says otherwise.
const DefaultConcurrency = 4

// Worker processes chat and outbound jobs from the SQLite job queue.
type Worker struct {
	store       JobStore
	handler     Handler
	sender      Sender
	poll        time.Duration
	concurrency int
	logger      *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, handler Handler, sender Sender, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:       store,
		handler:     handler,
		sender:      sender,
		poll:        pollInterval,
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}
}

// SetConcurrency sets how many jobs Run processes at once. Values below 1
// are treated as 1.
func (w *Worker) SetConcurrency(n int) {
	w.concurrency = max(n, 1)
}

// Run polls for jobs until ctx is cancelled. Each of the concurrent loops
// claims and finishes its own jobs, so a reply stuck on a slow backend holds
// up only that loop. Jobs for the same profile may run at the same time.
func (w *Worker) Run(ctx context.Context) {
	var g errgroup.Group
	for range w.concurrency {
		g.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}
	g.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{TypeChatMessage, TypeOutboundMessage})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	start := time.Now()
	err = w.processJob(ctx, job)

	// The job has been claimed; record its outcome even if ctx was cancelled
	// while it ran.
	bookkeeping := context.WithoutCancel(ctx)
	if err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "error", err)
		if failErr := w.store.FailJob(bookkeeping, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(bookkeeping, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	w.logger.Info("job completed", "job_id", job.ID, "type", job.Type, "duration", time.Since(start))
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	switch job.Type {
	case TypeChatMessage:
		var p ChatPayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
		return w.reply(ctx, p)
	case TypeOutboundMessage:
		var p OutboundPayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
		return w.send(ctx, p.ChatID, p.Text)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

func (w *Worker) reply(ctx context.Context, p ChatPayload) error {
	text, err := w.handle(ctx, p.Text)
	if err != nil {
		w.logger.Error("handling message", "username", p.Username, "error", err)
		text = MsgInternalError
	}
	if sendErr := w.send(ctx, p.ChatID, text); sendErr != nil {
		return sendErr
	}
	return err
}

// handle converts a panic in the handler into an error so one bad message
// cannot take down the worker.
func (w *Worker) handle(ctx context.Context, text string) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.handler.Handle(ctx, text), nil
}

func (w *Worker) send(ctx context.Context, chatID, text string) error {
	if err := w.sender.SendMessage(ctx, chatID, text); err != nil {
		return fmt.Errorf("sending to chat %s: %w", chatID, err)
	}
	return nil
}
