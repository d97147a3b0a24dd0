package pipeline

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filechat/internal/attachment"
	"filechat/internal/models"
	"filechat/internal/remote"
	"filechat/internal/remote/remotetest"
	"filechat/internal/transcript"
)

type fakeClient struct {
	mu      sync.Mutex
	calls   int
	texts   []string
	files   [][]models.Attachment
	ctxErrs []error
	gate    chan struct{}
	started chan struct{}
	reply   *remote.ChatReply
	err     error
}

func newFakeClient() *fakeClient {
	return &fakeClient{started: make(chan struct{}, 4)}
}

func (f *fakeClient) Chat(ctx context.Context, token, text string, files []models.Attachment) (*remote.ChatReply, error) {
	f.mu.Lock()
	f.calls++
	f.texts = append(f.texts, text)
	f.files = append(f.files, files)
	gate := f.gate
	f.mu.Unlock()
	f.started <- struct{}{}
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.err != nil {
		return nil, f.err
	}
	if f.reply != nil {
		return f.reply, nil
	}
	return &remote.ChatReply{Reply: "reply to " + text, FilesProcessed: len(files)}, nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestPipeline(t *testing.T, client ChatClient) (*Pipeline, *transcript.Transcript, *attachment.Stage) {
	t.Helper()
	tr := transcript.New()
	stage := attachment.NewStage(nil)
	p, err := New(client, tr, stage)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, tr, stage
}

func wait(t *testing.T, c *Cycle) models.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := c.Wait(ctx)
	require.NoError(t, err)
	return msg
}

func pdf(name string) models.Attachment {
	return models.Attachment{Name: name, MimeType: "application/pdf", SizeBytes: 4, Payload: []byte("%PDF")}
}

func TestSubmitSuccessAppendsUserThenBot(t *testing.T) {
	client := newFakeClient()
	client.reply = &remote.ChatReply{Reply: "Hello!", FilesProcessed: 0}
	p, tr, _ := newTestPipeline(t, client)
	require.NoError(t, p.SetInput("Hi"))

	cycle, err := p.Submit(context.Background(), "tok", "Hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi", cycle.UserMessage.Text)
	assert.Equal(t, models.SenderUser, cycle.UserMessage.Sender)

	bot := wait(t, cycle)
	assert.Equal(t, "Hello!", bot.Text)
	assert.Equal(t, models.KindNormal, bot.Kind)
	assert.NoError(t, cycle.Err())

	msgs := tr.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.SenderUser, msgs[0].Sender)
	assert.Equal(t, models.SenderBot, msgs[1].Sender)
	assert.Equal(t, State{Phase: PhaseIdle}, p.State())
	assert.Equal(t, 1, client.callCount())
}

func TestSubmitWhileSendingIsRejected(t *testing.T) {
	client := newFakeClient()
	client.gate = make(chan struct{})
	p, tr, _ := newTestPipeline(t, client)

	first, err := p.Submit(context.Background(), "tok", "first", nil)
	require.NoError(t, err)
	<-client.started
	assert.True(t, p.State().Sending())
	before := tr.Len()

	second, err := p.Submit(context.Background(), "tok", "second", nil)
	assert.ErrorIs(t, err, ErrInFlight)
	assert.Nil(t, second)
	assert.Equal(t, before, tr.Len())

	assert.ErrorIs(t, p.SetInput("typing"), ErrInFlight)

	close(client.gate)
	wait(t, first)
	assert.Equal(t, 1, client.callCount())
	assert.Equal(t, 2, tr.Len())
}

func TestSubmitFailureAppendsFallback(t *testing.T) {
	client := newFakeClient()
	client.err = errors.New("connection refused")
	p, tr, stage := newTestPipeline(t, client)
	require.Empty(t, stage.Add([]models.Attachment{pdf("a.pdf")}))
	require.NoError(t, p.SetInput("read this"))

	cycle, err := p.SubmitDraft(context.Background(), "tok")
	require.NoError(t, err)
	bot := wait(t, cycle)

	assert.Equal(t, FallbackText, bot.Text)
	assert.Equal(t, models.KindError, bot.Kind)
	assert.EqualError(t, cycle.Err(), "connection refused")
	assert.Equal(t, 0, stage.Len())
	assert.Equal(t, "", p.Input())
	assert.Equal(t, PhaseIdle, p.State().Phase)
	assert.Equal(t, 2, tr.Len())
}

func TestSubmitDraftSendsStagedFiles(t *testing.T) {
	client := newFakeClient()
	p, tr, stage := newTestPipeline(t, client)
	require.Empty(t, stage.Add([]models.Attachment{pdf("one.pdf"), pdf("two.pdf")}))
	require.NoError(t, p.SetInput(""))

	cycle, err := p.SubmitDraft(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, cycle.UserMessage.Attachments, 2)
	assert.Equal(t, "one.pdf", cycle.UserMessage.Attachments[0].Name)

	bot := wait(t, cycle)
	assert.Equal(t, 2, bot.FilesProcessedCount)
	assert.Equal(t, 0, stage.Len())
	assert.Equal(t, 2, tr.Len())

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.files, 1)
	assert.Len(t, client.files[0], 2)
}

func TestEmptySubmissionDoesNothing(t *testing.T) {
	client := newFakeClient()
	p, tr, _ := newTestPipeline(t, client)

	_, err := p.Submit(context.Background(), "tok", "   ", nil)
	assert.ErrorIs(t, err, ErrEmptySubmission)
	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, 0, client.callCount())
	assert.Equal(t, PhaseIdle, p.State().Phase)
}

func TestCallerCancellationDoesNotAbortRequest(t *testing.T) {
	client := newFakeClient()
	client.gate = make(chan struct{})
	p, _, _ := newTestPipeline(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	cycle, err := p.Submit(ctx, "tok", "Hi", nil)
	require.NoError(t, err)
	<-client.started
	cancel()
	close(client.gate)

	bot := wait(t, cycle)
	assert.Equal(t, models.KindNormal, bot.Kind)
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.NoError(t, client.ctxErrs[0])
}

func TestOnChangeSeesBothTransitions(t *testing.T) {
	client := newFakeClient()
	p, _, _ := newTestPipeline(t, client)

	var mu sync.Mutex
	var phases []Phase
	p.OnChange(func(s State) {
		mu.Lock()
		phases = append(phases, s.Phase)
		mu.Unlock()
	})

	cycle, err := p.Submit(context.Background(), "tok", "Hi", nil)
	require.NoError(t, err)
	wait(t, cycle)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Phase{PhaseSending, PhaseIdle}, phases)
}

func TestBackToBackCycles(t *testing.T) {
	client := newFakeClient()
	p, tr, _ := newTestPipeline(t, client)
	for _, text := range []string{"one", "two", "three"} {
		cycle, err := p.Submit(context.Background(), "tok", text, nil)
		require.NoError(t, err)
		wait(t, cycle)
	}
	assert.Equal(t, 6, tr.Len())
	assert.Equal(t, 3, client.callCount())
}

func TestSubmitAgainstRemoteServer(t *testing.T) {
	srv := remotetest.NewServer(t)
	client := remote.NewClient(srv.URL, 5*time.Second)
	p, tr, _ := newTestPipeline(t, client)

	cycle, err := p.Submit(context.Background(), srv.Token(), "Hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo: Hi", wait(t, cycle).Text)

	srv.FailChat(http.StatusInternalServerError)
	cycle, err = p.Submit(context.Background(), srv.Token(), "again", nil)
	require.NoError(t, err)
	bot := wait(t, cycle)
	assert.Equal(t, FallbackText, bot.Text)
	assert.True(t, remote.IsStatus(cycle.Err(), http.StatusInternalServerError))
	assert.Equal(t, 4, tr.Len())
}

func TestStagingWhileSendingIsRejected(t *testing.T) {
	client := newFakeClient()
	client.gate = make(chan struct{})
	p, _, stage := newTestPipeline(t, client)

	cycle, err := p.Submit(context.Background(), "tok", "Hi", nil)
	require.NoError(t, err)
	<-client.started

	rejected := stage.Add([]models.Attachment{pdf("late.pdf")})
	require.Len(t, rejected, 1)
	assert.Equal(t, attachment.Rejection{Name: "late.pdf", Reason: attachment.ReasonSending}, rejected[0])
	assert.Equal(t, 0, stage.Len())

	close(client.gate)
	wait(t, cycle)

	client.mu.Lock()
	assert.Empty(t, client.files[0])
	client.mu.Unlock()

	// Once idle again the stage takes files for the next message.
	require.Empty(t, stage.Add([]models.Attachment{pdf("late.pdf")}))
	assert.Equal(t, 1, stage.Len())
}

func TestSubmitStagedSendsStageSnapshot(t *testing.T) {
	client := newFakeClient()
	p, _, stage := newTestPipeline(t, client)
	require.Empty(t, stage.Add([]models.Attachment{pdf("a.pdf")}))

	cycle, err := p.SubmitStaged(context.Background(), "tok", "")
	require.NoError(t, err)
	bot := wait(t, cycle)
	assert.Equal(t, 1, bot.FilesProcessedCount)
	assert.Equal(t, 0, stage.Len())

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, []string{""}, client.texts)
	require.Len(t, client.files[0], 1)
	assert.Equal(t, "a.pdf", client.files[0][0].Name)
}

func TestRejectedSubmitLeavesStageOpen(t *testing.T) {
	client := newFakeClient()
	p, _, stage := newTestPipeline(t, client)

	_, err := p.SubmitStaged(context.Background(), "tok", "  ")
	require.ErrorIs(t, err, ErrEmptySubmission)
	assert.False(t, stage.Held())
	assert.Empty(t, stage.Add([]models.Attachment{pdf("a.pdf")}))
}

func TestStateSequenceIncreases(t *testing.T) {
	client := newFakeClient()
	p, _, _ := newTestPipeline(t, client)

	var mu sync.Mutex
	var seqs []uint64
	p.OnChange(func(s State) {
		mu.Lock()
		seqs = append(seqs, s.Seq)
		mu.Unlock()
	})

	require.NoError(t, p.SetInput("draft"))
	for i := 0; i < 2; i++ {
		cycle, err := p.SubmitDraft(context.Background(), "tok")
		require.NoError(t, err)
		wait(t, cycle)
		require.NoError(t, p.SetInput("again"))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7}, seqs)
	assert.Equal(t, uint64(7), p.State().Seq)
}

func TestNotifySkipsOvertakenStates(t *testing.T) {
	p, _, _ := newTestPipeline(t, newFakeClient())
	var got []State
	p.OnChange(func(s State) { got = append(got, s) })

	p.notify(State{Phase: PhaseSending, Seq: 4})
	p.notify(State{Phase: PhaseIdle, Seq: 3})
	p.notify(State{Phase: PhaseIdle, Seq: 5})

	require.Len(t, got, 2)
	assert.Equal(t, PhaseSending, got[0].Phase)
	assert.Equal(t, uint64(5), got[1].Seq)
}
