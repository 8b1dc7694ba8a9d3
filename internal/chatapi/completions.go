package chatapi

import (
	"context"
	"net/http"
	"time"
)

// Turn is one role/content pair sent as generation context.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationRequest asks the backend to generate into an existing
// assistant message.
type GenerationRequest struct {
	ChatID          string
	MessageID       string
	Messages        []Turn
	Model           string          // defaults to the session model
	Features        map[string]bool // defaults to DefaultFeatures
	BackgroundTasks map[string]bool // defaults to DefaultBackgroundTasks
	Variables       map[string]string
}

// GenerationAck is what the backend returned when accepting a request. An
// accepted request may carry the generated text inline, a background task
// id, or neither.
type GenerationAck struct {
	Content string
	TaskID  string
}

// CompletedRequest identifies the message to flag as finished.
type CompletedRequest struct {
	ChatID    string
	MessageID string
	Model     string
}

// DefaultFeatures disables every optional generation feature.
func DefaultFeatures() map[string]bool {
	return map[string]bool{
		"code_interpreter": false,
		"web_search":       false,
		"image_generation": false,
		"memory":           false,
	}
}

// DefaultBackgroundTasks disables the follow-up tasks the UI would run
// after a reply.
func DefaultBackgroundTasks() map[string]bool {
	return map[string]bool{
		"title_generation":     false,
		"tags_generation":      false,
		"follow_up_generation": false,
	}
}

// DefaultVariables fills the prompt template variables.
func DefaultVariables(now time.Time) map[string]string {
	return map[string]string{
		"{{USER_NAME}}":        "",
		"{{USER_LANGUAGE}}":    "en-US",
		"{{CURRENT_DATETIME}}": now.UTC().Format(time.RFC3339),
		"{{CURRENT_TIMEZONE}}": "UTC",
	}
}

type completionPayload struct {
	ChatID          string            `json:"chat_id"`
	ID              string            `json:"id"`
	Messages        []Turn            `json:"messages"`
	Model           string            `json:"model"`
	Stream          bool              `json:"stream"`
	BackgroundTasks map[string]bool   `json:"background_tasks"`
	Features        map[string]bool   `json:"features"`
	Variables       map[string]string `json:"variables"`
	SessionID       string            `json:"session_id"`
}

// RequestGeneration submits a non-streaming generation request. A 2xx means
// the backend accepted it, not that content exists yet.
func (c *Client) RequestGeneration(ctx context.Context, req GenerationRequest) (*GenerationAck, error) {
	payload := completionPayload{
		ChatID:          req.ChatID,
		ID:              req.MessageID,
		Messages:        req.Messages,
		Model:           req.Model,
		Stream:          false,
		BackgroundTasks: req.BackgroundTasks,
		Features:        req.Features,
		Variables:       req.Variables,
		SessionID:       c.session.SessionID,
	}
	if payload.Model == "" {
		payload.Model = c.session.Model
	}
	if payload.Messages == nil {
		payload.Messages = []Turn{}
	}
	if payload.BackgroundTasks == nil {
		payload.BackgroundTasks = DefaultBackgroundTasks()
	}
	if payload.Features == nil {
		payload.Features = DefaultFeatures()
	}
	if payload.Variables == nil {
		payload.Variables = DefaultVariables(time.Now())
	}

	data, err := c.doJSON(ctx, http.MethodPost, "/api/chat/completions", payload)
	if err != nil {
		return nil, err
	}

	ack := &GenerationAck{}
	var resp map[string]interface{}
	// Some deployments answer with an empty or non-JSON body.
	if len(data) > 0 && decode(data, &resp) == nil {
		if choices, ok := resp["choices"].([]interface{}); ok && len(choices) > 0 {
			if first, ok := choices[0].(map[string]interface{}); ok {
				ack.Content = firstString(first, "message.content")
			}
		}
		ack.TaskID = firstString(resp, "task_id")
	}
	return ack, nil
}

// MarkComplete tells the backend the message is finished.
func (c *Client) MarkComplete(ctx context.Context, req CompletedRequest) error {
	model := req.Model
	if model == "" {
		model = c.session.Model
	}
	_, err := c.doJSON(ctx, http.MethodPost, "/api/chat/completed", map[string]string{
		"chat_id":    req.ChatID,
		"id":         req.MessageID,
		"session_id": c.session.SessionID,
		"model":      model,
	})
	return err
}
