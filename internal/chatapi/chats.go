package chatapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/chatsync/internal/transcript"
)

type chatEnvelope struct {
	Chat *transcript.Transcript `json:"chat"`
}

// Create stores seed as a new conversation and returns its id.
func (c *Client) Create(ctx context.Context, seed *transcript.Transcript) (string, error) {
	data, err := c.doJSON(ctx, http.MethodPost, "/api/v1/chats/new", chatEnvelope{Chat: seed})
	if err != nil {
		return "", err
	}

	var resp map[string]interface{}
	if err := decode(data, &resp); err != nil {
		return "", err
	}
	fields := []string{"chat.id", "id"}
	chatID := firstString(resp, fields...)
	if chatID == "" {
		return "", &ExtractionError{Op: "create chat", Fields: fields}
	}
	log.Debug().Str("chat_id", chatID).Msg("Created chat")
	return chatID, nil
}

// Fetch loads the current state of a conversation. The backend answers
// with a record wrapping the chat object; a bare chat object is accepted
// as well.
func (c *Client) Fetch(ctx context.Context, chatID string) (*transcript.Transcript, error) {
	data, err := c.doJSON(ctx, http.MethodGet, chatPath(chatID), nil)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		ID   string          `json:"id"`
		Chat json.RawMessage `json:"chat"`
	}
	if err := decode(data, &wrapper); err != nil {
		return nil, err
	}

	body := data
	if len(wrapper.Chat) > 0 && string(wrapper.Chat) != "null" {
		body = wrapper.Chat
	}
	var t transcript.Transcript
	if err := decode(body, &t); err != nil {
		return nil, fmt.Errorf("failed to decode chat %s: %w", chatID, err)
	}
	if t.ID == "" {
		t.ID = wrapper.ID
	}
	if t.ID == "" {
		t.ID = chatID
	}
	return &t, nil
}

// Replace overwrites the stored conversation with t.
func (c *Client) Replace(ctx context.Context, chatID string, t *transcript.Transcript) error {
	_, err := c.doJSON(ctx, http.MethodPost, chatPath(chatID), chatEnvelope{Chat: t})
	return err
}

func chatPath(chatID string) string {
	return "/api/v1/chats/" + url.PathEscape(chatID)
}
