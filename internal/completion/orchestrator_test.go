package completion

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/chatapi"
	"github.com/chatsync/internal/retry"
	"github.com/chatsync/internal/transcript"
)

const prompt = "Health check: say pong."

func TestComplete_ContentOnlyInHistory(t *testing.T) {
	backend := newFakeBackend(t)
	backend.generateIntoHistory("a1", "pong", false)
	o := newTestOrchestrator(backend, 5)

	res, err := o.Complete(context.Background(), prompt)
	require.NoError(t, err)

	want := []State{
		StateCreated,
		StatePlaceholderInserted,
		StateGenerationRequested,
		StateAwaitingContent,
		StateReconciled,
		StateMarkedComplete,
	}
	if diff := cmp.Diff(want, res.States()); diff != "" {
		t.Fatalf("states mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "chat-1", res.ChatID)
	assert.Equal(t, "u1", res.UserMessageID)
	assert.Equal(t, "a1", res.AssistantMessageID)
	assert.Equal(t, "pong", res.Content)
	assert.Equal(t, 1, res.Attempts)
	assert.NoError(t, res.MarkCompleteErr)

	for _, tr := range []*transcript.Transcript{res.Transcript, backend.stored("chat-1")} {
		seq, inSeq, keyed, inKeyed := tr.Views("a1")
		require.True(t, inSeq)
		require.True(t, inKeyed)
		assert.Equal(t, "pong", seq.Content)
		assert.True(t, seq.Done)
		assert.Equal(t, "pong", keyed.Content)
		assert.True(t, keyed.Done)
		assert.Equal(t, "a1", tr.Current())
		require.NoError(t, tr.Check())
	}

	require.Len(t, backend.genReqs, 1)
	assert.Equal(t, []chatapi.Turn{{Role: "user", Content: prompt}}, backend.genReqs[0].Messages)
	assert.Equal(t, "a1", backend.genReqs[0].MessageID)
	require.Len(t, backend.marked, 1)
	assert.Equal(t, chatapi.CompletedRequest{ChatID: "chat-1", MessageID: "a1", Model: "gemma3:4b"}, backend.marked[0])
}

func TestComplete_PlaceholderShape(t *testing.T) {
	backend := newFakeBackend(t)
	o := newTestOrchestrator(backend, 1)
	res, err := o.Begin(context.Background(), prompt)
	require.NoError(t, err)

	backend.genErr = &chatapi.RemoteError{Method: "POST", Path: "/api/chat/completions", StatusCode: http.StatusBadRequest}
	_, err = o.Run(context.Background(), res)
	require.Error(t, err)

	stored := backend.stored("chat-1")
	a1, ok := stored.Message("a1")
	require.True(t, ok)
	assert.Equal(t, transcript.RoleAssistant, a1.Role)
	assert.Equal(t, "u1", a1.Parent())
	assert.False(t, a1.Done)
	assert.Empty(t, a1.Content)
	require.NotNil(t, a1.ModelIdx)
	assert.Equal(t, 0, *a1.ModelIdx)
	assert.Equal(t, "gemma3:4b", a1.Model)
}

func TestComplete_TimesOut(t *testing.T) {
	backend := newFakeBackend(t)
	o := newTestOrchestrator(backend, 3)

	res, err := o.Complete(context.Background(), prompt)

	var timeout *TimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, 3, timeout.Attempts)
	assert.True(t, errors.Is(err, retry.ErrNotReady))
	assert.Equal(t, StateFailed, res.State())
	assert.Equal(t, 3, res.Attempts)

	require.NotNil(t, timeout.Transcript)
	require.NoError(t, timeout.Transcript.Check())
	seq, _, keyed, _ := timeout.Transcript.Views("a1")
	assert.False(t, seq.Done)
	assert.False(t, keyed.Done)
	assert.Empty(t, backend.marked)
}

func TestComplete_FetchErrorsConsumeAttempts(t *testing.T) {
	backend := newFakeBackend(t)
	backend.generateIntoHistory("a1", "pong", true)
	// Fetch 1 belongs to Begin; fetch 2 is the first poll.
	backend.fetchErrs[2] = &chatapi.RemoteError{Method: "GET", Path: "/api/v1/chats/chat-1", StatusCode: http.StatusBadGateway}
	o := newTestOrchestrator(backend, 5)

	res, err := o.Complete(context.Background(), prompt)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, "pong", res.Content)
}

func TestComplete_MarkCompleteFailureIsNotFatal(t *testing.T) {
	backend := newFakeBackend(t)
	backend.generateIntoHistory("a1", "pong", true)
	backend.markErr = &chatapi.RemoteError{Method: "POST", Path: "/api/chat/completed", StatusCode: http.StatusInternalServerError}
	o := newTestOrchestrator(backend, 5)

	res, err := o.Complete(context.Background(), prompt)
	require.NoError(t, err)
	assert.Equal(t, StateMarkedComplete, res.State())
	require.Error(t, res.MarkCompleteErr)
	assert.Contains(t, res.Transitions[len(res.Transitions)-1].Note, "completion signal failed")
}

func TestComplete_GenerationRejected(t *testing.T) {
	backend := newFakeBackend(t)
	backend.genErr = &chatapi.RemoteError{Method: "POST", Path: "/api/chat/completions", StatusCode: http.StatusUnprocessableEntity}
	o := newTestOrchestrator(backend, 5)

	res, err := o.Complete(context.Background(), prompt)
	var remote *chatapi.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusUnprocessableEntity, remote.StatusCode)
	assert.Equal(t, []State{StateCreated, StatePlaceholderInserted, StateFailed}, res.States())
}

func TestComplete_InlineAckContentIsNotStoredContent(t *testing.T) {
	backend := newFakeBackend(t)
	backend.ack = &chatapi.GenerationAck{Content: "pong"}
	o := newTestOrchestrator(backend, 3)

	res, err := o.Complete(context.Background(), prompt)
	var timeout *TimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, 3, timeout.Attempts)
	assert.Equal(t, StateFailed, res.State())
	assert.Empty(t, res.Content)
	require.NotNil(t, res.Ack)
	assert.Equal(t, "pong", res.Ack.Content)
	assert.Empty(t, backend.marked)

	seq, _, _, _ := backend.stored("chat-1").Views("a1")
	assert.Empty(t, seq.Content)
	assert.False(t, seq.Done)
}

func TestComplete_PlaceholderPersistFails(t *testing.T) {
	backend := newFakeBackend(t)
	backend.replaceErr = &chatapi.RemoteError{Method: "POST", Path: "/api/v1/chats/chat-1", StatusCode: http.StatusForbidden}
	o := newTestOrchestrator(backend, 5)

	res, err := o.Complete(context.Background(), prompt)
	var remote *chatapi.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusForbidden, remote.StatusCode)
	assert.Equal(t, []State{StateCreated, StateFailed}, res.States())
	assert.Empty(t, backend.genReqs)
	assert.Empty(t, backend.marked)
}

func TestComplete_ReconciledPersistFails(t *testing.T) {
	backend := newFakeBackend(t)
	backend.generateIntoHistory("a1", "pong", true)
	backend.replaceErrAt = map[int]error{
		2: &chatapi.RemoteError{Method: "POST", Path: "/api/v1/chats/chat-1", StatusCode: http.StatusBadGateway},
	}
	o := newTestOrchestrator(backend, 5)

	res, err := o.Complete(context.Background(), prompt)
	var remote *chatapi.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusBadGateway, remote.StatusCode)
	assert.Contains(t, err.Error(), "failed to persist reconciled chat")
	assert.Equal(t, []State{
		StateCreated,
		StatePlaceholderInserted,
		StateGenerationRequested,
		StateAwaitingContent,
		StateFailed,
	}, res.States())
	assert.Empty(t, backend.marked)
}

func TestComplete_CreateFails(t *testing.T) {
	backend := newFakeBackend(t)
	backend.createErr = errors.New("connection refused")
	o := newTestOrchestrator(backend, 5)

	res, err := o.Complete(context.Background(), prompt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create chat")
	assert.Equal(t, []State{StateFailed}, res.States())
}

func TestRun_CancelledWhilePolling(t *testing.T) {
	backend := newFakeBackend(t)
	o := newTestOrchestrator(backend, 10000)
	o.cfg.Interval = 5 * time.Millisecond

	res, err := o.Begin(context.Background(), prompt)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	res, err = o.Run(ctx, res)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, StateFailed, res.State())
}

func TestRun_RequiresCreatedState(t *testing.T) {
	o := newTestOrchestrator(newFakeBackend(t), 1)
	_, err := o.Run(context.Background(), &Result{})
	require.Error(t, err)
}

func TestPrefillOnly_RestoresUserTurn(t *testing.T) {
	backend := newFakeBackend(t)
	o := newTestOrchestrator(backend, 5)

	res, err := o.Begin(context.Background(), prompt)
	require.NoError(t, err)
	res, err = o.PrefillOnly(context.Background(), res)
	require.NoError(t, err)

	assert.Equal(t, []State{StateCreated, StatePlaceholderInserted, StateCreated}, res.States())
	assert.Equal(t, 2, backend.replaced)
	assert.Empty(t, backend.genReqs)

	stored := backend.stored("chat-1")
	require.NoError(t, stored.Check())
	assert.Equal(t, 1, stored.Len())
	user, ok := stored.Message("u1")
	require.True(t, ok)
	assert.Empty(t, user.ChildrenIDs)
	assert.Equal(t, transcript.Aliases{HistorySnake: "u1", HistoryCamel: "u1", Chat: "u1"}, stored.Aliases())
	for _, m := range stored.Sequence() {
		assert.NotEqual(t, transcript.RoleAssistant, m.Role)
	}
}
