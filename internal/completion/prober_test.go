package completion

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completedTurn(t *testing.T) (*fakeBackend, *Result) {
	t.Helper()
	backend := newFakeBackend(t)
	backend.generateIntoHistory("a1", "pong", true)
	res, err := newTestOrchestrator(backend, 5).Complete(context.Background(), prompt)
	require.NoError(t, err)
	return backend, res
}

func TestProbe_AppendsFollowUp(t *testing.T) {
	backend, res := completedTurn(t)
	prober := NewProber(backend, "", "gemma3:4b")
	prober.newID = sequentialIDs("u2")
	prober.now = func() time.Time { return time.Unix(1700000100, 0) }

	before := res.Transcript.Len()
	probe := prober.Probe(context.Background(), res.ChatID, res.Transcript, res.AssistantMessageID)
	require.True(t, probe.OK)
	require.NoError(t, probe.Err)
	assert.Equal(t, "u2", probe.MessageID)
	assert.Equal(t, before, res.Transcript.Len(), "the completed transcript is left alone")

	stored := backend.stored(res.ChatID)
	require.NoError(t, stored.Check())
	msg, ok := stored.Message("u2")
	require.True(t, ok)
	assert.Equal(t, DefaultProbeMessage, msg.Content)
	assert.Equal(t, "a1", msg.Parent())
	assert.Equal(t, []string{"gemma3:4b"}, msg.Models)
	assert.Equal(t, "u2", stored.Current())

	assistant, _ := stored.Message("a1")
	assert.Equal(t, []string{"u2"}, assistant.ChildrenIDs)
}

func TestProbe_FailureIsReported(t *testing.T) {
	backend, res := completedTurn(t)
	backend.replaceErr = errors.New("status 403")

	probe := NewProber(backend, "still there?", "").Probe(context.Background(), res.ChatID, res.Transcript, res.AssistantMessageID)
	assert.False(t, probe.OK)
	require.Error(t, probe.Err)
	assert.Equal(t, StateMarkedComplete, res.State())
}

func TestProbe_UnknownParent(t *testing.T) {
	backend, res := completedTurn(t)
	probe := NewProber(backend, "", "").Probe(context.Background(), res.ChatID, res.Transcript, "missing")
	assert.False(t, probe.OK)
	require.Error(t, probe.Err)
}

func TestVerify_PassesAfterCompletedTurn(t *testing.T) {
	backend, res := completedTurn(t)

	v, err := Verify(context.Background(), backend, res.ChatID, res.AssistantMessageID)
	require.NoError(t, err)
	assert.True(t, v.Passed)
	assert.True(t, v.InSequence)
	assert.True(t, v.HasContent)
	assert.True(t, v.ContentMatches)
	assert.True(t, v.CurrentOK)
	assert.Equal(t, "pong", v.Content)
	assert.Empty(t, v.Warnings)
}

func TestVerify_Cases(t *testing.T) {
	tests := []struct {
		name     string
		chat     string
		passed   bool
		warnings int
	}{
		{
			name: "spinner still showing",
			chat: `{"messages": [
				{"id": "u1", "role": "user", "content": "hi", "parentId": null, "childrenIds": ["a1"]},
				{"id": "a1", "role": "assistant", "content": "", "parentId": "u1", "childrenIds": [], "done": false}],
				"history": {"currentId": "a1", "messages": {"a1": {"role": "assistant", "content": "pong", "done": true}}}}`,
			passed: false,
		},
		{
			name:   "missing from sequence view",
			chat:   `{"messages": [], "history": {"messages": {"a1": {"role": "assistant", "content": "pong"}}}}`,
			passed: false,
		},
		{
			name: "mismatch and foreign pointer are warnings",
			chat: `{"messages": [
				{"id": "u1", "role": "user", "content": "hi", "parentId": null, "childrenIds": ["a1"]},
				{"id": "a1", "role": "assistant", "content": "pong", "parentId": "u1", "childrenIds": [], "done": true}],
				"history": {"current_id": "a1", "currentId": "u1", "messages": {"a1": {"role": "assistant", "content": "po"}}},
				"currentId": "a1"}`,
			passed:   true,
			warnings: 2,
		},
		{
			name: "no current pointer at all",
			chat: `{"messages": [
				{"id": "a1", "role": "assistant", "content": "pong", "parentId": null, "childrenIds": [], "done": true}],
				"history": {"messages": {"a1": {"role": "assistant", "content": "pong", "done": true}}}}`,
			passed: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			backend := newFakeBackend(t)
			backend.chats["chat-1"] = json.RawMessage(tc.chat)

			v, err := Verify(context.Background(), backend, "chat-1", "a1")
			require.NoError(t, err)
			assert.Equal(t, tc.passed, v.Passed)
			assert.Len(t, v.Warnings, tc.warnings)
		})
	}
}

func TestVerify_FetchError(t *testing.T) {
	backend := newFakeBackend(t)
	_, err := Verify(context.Background(), backend, "nope", "a1")
	require.Error(t, err)
}
