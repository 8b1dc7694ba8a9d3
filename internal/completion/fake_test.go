package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/chatapi"
	"github.com/chatsync/internal/transcript"
)

// fakeBackend stores chats as JSON the way the real service does, so every
// Fetch decodes a fresh transcript.
type fakeBackend struct {
	t  *testing.T
	mu sync.Mutex

	chats   map[string][]byte
	fetches int

	// onFetch may rewrite the stored chat before a fetch returns it.
	onFetch   func(n int, chat map[string]interface{})
	fetchErrs map[int]error

	createErr  error
	replaceErr error
	genErr     error
	markErr    error
	ack        *chatapi.GenerationAck

	// replaceErrAt fails only the nth Replace call, counting from 1.
	replaceErrAt map[int]error
	replaceCalls int

	generated bool
	replaced  int
	genReqs   []chatapi.GenerationRequest
	marked    []chatapi.CompletedRequest
}

func newFakeBackend(t *testing.T) *fakeBackend {
	return &fakeBackend{t: t, chats: make(map[string][]byte), fetchErrs: make(map[int]error)}
}

func (f *fakeBackend) Create(ctx context.Context, seed *transcript.Transcript) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	id := fmt.Sprintf("chat-%d", len(f.chats)+1)
	raw, err := json.Marshal(seed)
	require.NoError(f.t, err)
	f.chats[id] = raw
	return id, nil
}

func (f *fakeBackend) Fetch(ctx context.Context, chatID string) (*transcript.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if err := f.fetchErrs[f.fetches]; err != nil {
		return nil, err
	}
	raw, ok := f.chats[chatID]
	if !ok {
		return nil, &chatapi.RemoteError{Method: "GET", Path: "/api/v1/chats/" + chatID, StatusCode: 404}
	}
	if f.onFetch != nil {
		var chat map[string]interface{}
		require.NoError(f.t, json.Unmarshal(raw, &chat))
		f.onFetch(f.fetches, chat)
		var err error
		raw, err = json.Marshal(chat)
		require.NoError(f.t, err)
		f.chats[chatID] = raw
	}
	var t transcript.Transcript
	require.NoError(f.t, json.Unmarshal(raw, &t))
	if t.ID == "" {
		t.ID = chatID
	}
	return &t, nil
}

func (f *fakeBackend) Replace(ctx context.Context, chatID string, t *transcript.Transcript) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaceCalls++
	if f.replaceErr != nil {
		return f.replaceErr
	}
	if err := f.replaceErrAt[f.replaceCalls]; err != nil {
		return err
	}
	raw, err := json.Marshal(t)
	require.NoError(f.t, err)
	f.chats[chatID] = raw
	f.replaced++
	return nil
}

func (f *fakeBackend) RequestGeneration(ctx context.Context, req chatapi.GenerationRequest) (*chatapi.GenerationAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.genReqs = append(f.genReqs, req)
	if f.genErr != nil {
		return nil, f.genErr
	}
	f.generated = true
	if f.ack != nil {
		return f.ack, nil
	}
	return &chatapi.GenerationAck{}, nil
}

func (f *fakeBackend) MarkComplete(ctx context.Context, req chatapi.CompletedRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, req)
	return f.markErr
}

// stored decodes the chat as last persisted.
func (f *fakeBackend) stored(chatID string) *transcript.Transcript {
	f.mu.Lock()
	defer f.mu.Unlock()
	var t transcript.Transcript
	require.NoError(f.t, json.Unmarshal(f.chats[chatID], &t))
	return &t
}

// generateIntoHistory simulates the backend writing the reply only into
// the keyed view once generation was requested.
func (f *fakeBackend) generateIntoHistory(id, content string, done bool) {
	f.onFetch = func(n int, chat map[string]interface{}) {
		if !f.generated {
			return
		}
		history := chat["history"].(map[string]interface{})
		msgs := history["messages"].(map[string]interface{})
		msg, ok := msgs[id].(map[string]interface{})
		if !ok {
			return
		}
		msg["content"] = content
		msg["done"] = done
	}
}

func sequentialIDs(ids ...string) func() string {
	i := 0
	return func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}
}

func newTestOrchestrator(backend ChatService, attempts int) *Orchestrator {
	o := NewOrchestrator(backend, Config{
		Model:    "gemma3:4b",
		Title:    "Test Chat",
		Attempts: attempts,
		Interval: time.Millisecond,
	}, nil)
	o.newID = sequentialIDs("u1", "a1")
	o.now = func() time.Time { return time.Unix(1700000000, 0) }
	return o
}
