// Package pipeline turns a typed message plus staged files into one round trip to
// the assistant service, keeping at most one request in flight.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"filechat/internal/attachment"
	"filechat/internal/log"
	"filechat/internal/models"
	"filechat/internal/remote"
	"filechat/internal/transcript"
)

// FallbackText replaces the reply whenever a round trip fails.
const FallbackText = "Sorry, I encountered an error processing your request. Please try again."

// ChatClient is the part of the remote client the pipeline needs.
type ChatClient interface {
	Chat(ctx context.Context, token, text string, files []models.Attachment) (*remote.ChatReply, error)
}

type Pipeline struct {
	mu         sync.Mutex
	state      State
	client     ChatClient
	transcript *transcript.Transcript
	stage      *attachment.Stage
	pool       *ants.Pool
	listeners  []func(State)

	notifyMu sync.Mutex
	notified uint64
}

func New(client ChatClient, t *transcript.Transcript, stage *attachment.Stage) (*Pipeline, error) {
	if client == nil || t == nil || stage == nil {
		return nil, errors.New("pipeline: client, transcript and stage are required")
	}
	// One worker; a second task can only wait for the previous one to return.
	pool, err := ants.NewPool(1,
		ants.WithMaxBlockingTasks(1),
		ants.WithPanicHandler(func(p interface{}) {
			log.Errorf("pipeline: round trip panicked: %v", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("pipeline: create pool: %w", err)
	}
	return &Pipeline{
		state:      State{Phase: PhaseIdle},
		client:     client,
		transcript: t,
		stage:      stage,
		pool:       pool,
	}, nil
}

// OnChange registers fn to be called after state transitions, in sequence
// order. A state overtaken by a newer one before delivery is skipped. fn must
// not start a transition itself.
func (p *Pipeline) OnChange(fn func(State)) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) Input() string {
	return p.State().Input
}

// SetInput replaces the draft text. It fails with ErrInFlight while sending.
func (p *Pipeline) SetInput(text string) error {
	p.mu.Lock()
	next, err := reduce(p.state, inputEvent{text: text})
	if err != nil {
		p.mu.Unlock()
		return err
	}
	next = p.commit(next)
	p.mu.Unlock()
	p.notify(next)
	return nil
}

// Submit starts a cycle with the given text and files. The user message is in
// the transcript when Submit returns; the reply (or the fallback error message)
// follows once the request resolves. Cancelling ctx afterwards does not abort
// the request. The stage refuses new files until the cycle resolves.
func (p *Pipeline) Submit(ctx context.Context, token, text string, files []models.Attachment) (*Cycle, error) {
	return p.submit(ctx, token, func(State, []models.Attachment) (string, []models.Attachment) {
		return text, files
	})
}

// SubmitStaged submits text together with whatever is staged at that instant.
func (p *Pipeline) SubmitStaged(ctx context.Context, token, text string) (*Cycle, error) {
	return p.submit(ctx, token, func(_ State, staged []models.Attachment) (string, []models.Attachment) {
		return text, staged
	})
}

// SubmitDraft submits the current draft with the staged files.
func (p *Pipeline) SubmitDraft(ctx context.Context, token string) (*Cycle, error) {
	return p.submit(ctx, token, func(s State, staged []models.Attachment) (string, []models.Attachment) {
		return s.Input, staged
	})
}

type payloadFunc func(s State, staged []models.Attachment) (string, []models.Attachment)

func (p *Pipeline) submit(ctx context.Context, token string, payload payloadFunc) (*Cycle, error) {
	cycle := newCycle(context.WithoutCancel(ctx))

	p.mu.Lock()
	if p.state.Sending() {
		p.mu.Unlock()
		return nil, ErrInFlight
	}
	// Snapshot and gate the stage in one step.
	staged, _ := p.stage.Hold()
	text, files := payload(p.state, staged)
	next, err := reduce(p.state, submitEvent{cycleID: cycle.ID, text: text, files: len(files)})
	if err != nil {
		p.stage.Release(false)
		p.mu.Unlock()
		return nil, err
	}
	next = p.commit(next)
	cycle.UserMessage = p.transcript.Append(models.Message{
		Sender:      models.SenderUser,
		Text:        text,
		Attachments: models.Summaries(files),
	})
	p.mu.Unlock()
	p.notify(next)

	sent := make([]models.Attachment, len(files))
	copy(sent, files)
	if err := p.pool.Submit(func() { p.run(cycle, token, text, sent) }); err != nil {
		p.resolve(cycle, nil, fmt.Errorf("dispatch request: %w", err))
	}
	return cycle, nil
}

// commit stores next as the current state with the following sequence number.
// Callers hold p.mu.
func (p *Pipeline) commit(next State) State {
	next.Seq = p.state.Seq + 1
	p.state = next
	return next
}

func (p *Pipeline) run(c *Cycle, token, text string, files []models.Attachment) {
	var (
		reply *remote.ChatReply
		err   error
	)
	defer func() {
		if r := recover(); r != nil {
			reply, err = nil, fmt.Errorf("round trip panicked: %v", r)
		}
		p.resolve(c, reply, err)
	}()
	reply, err = p.client.Chat(c.ctx, token, text, files)
	if err == nil && reply == nil {
		err = errors.New("empty reply")
	}
}

func (p *Pipeline) resolve(c *Cycle, reply *remote.ChatReply, cause error) {
	msg := models.Message{Sender: models.SenderBot}
	if cause != nil {
		log.Warnf("pipeline: cycle %s failed: %v", c.ID, cause)
		msg.Kind = models.KindError
		msg.Text = FallbackText
	} else {
		msg.Text = reply.Reply
		msg.FilesProcessedCount = reply.FilesProcessed
	}

	p.mu.Lock()
	c.reply = p.transcript.Append(msg)
	c.err = cause
	p.stage.Release(true)
	next, err := reduce(p.state, resolveEvent{cycleID: c.ID})
	if err != nil {
		log.Errorf("pipeline: resolve %s: %v", c.ID, err)
		next = p.state
	} else {
		next = p.commit(next)
	}
	p.mu.Unlock()

	p.notify(next)
	close(c.done)
}

// notify delivers s to the listeners unless a newer state was already
// delivered, so listeners never step back to an older state.
func (p *Pipeline) notify(s State) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()
	if s.Seq <= p.notified {
		return
	}
	p.notified = s.Seq

	p.mu.Lock()
	listeners := make([]func(State), len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}

// Close releases the worker pool. A request already in flight still resolves.
func (p *Pipeline) Close() {
	p.pool.Release()
}

// Cycle is the handle for one submission.
type Cycle struct {
	ID          string
	UserMessage models.Message

	ctx   context.Context
	done  chan struct{}
	reply models.Message
	err   error
}

func newCycle(ctx context.Context) *Cycle {
	return &Cycle{ID: uuid.NewString(), ctx: ctx, done: make(chan struct{})}
}

// Done is closed once the reply or error message is in the transcript and the
// idle state has been delivered to listeners.
func (c *Cycle) Done() <-chan struct{} { return c.done }

// Wait blocks until the cycle resolves and returns the bot message it appended.
// The returned error is ctx's, never the request failure; see Err for that.
func (c *Cycle) Wait(ctx context.Context) (models.Message, error) {
	select {
	case <-c.done:
		return c.reply, nil
	case <-ctx.Done():
		return models.Message{}, ctx.Err()
	}
}

// Reply is the bot message appended for this cycle. Valid after Done.
func (c *Cycle) Reply() models.Message {
	select {
	case <-c.done:
		return c.reply
	default:
		return models.Message{}
	}
}

// Err is the cause of a failed round trip, nil on success or while pending.
func (c *Cycle) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}
