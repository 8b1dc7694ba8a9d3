package completion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chatsync/internal/transcript"
)

// DefaultProbeMessage is the follow-up text sent by the continuity probe.
const DefaultProbeMessage = "Thanks! One more test."

// Replacer persists a whole conversation.
type Replacer interface {
	Replace(ctx context.Context, chatID string, t *transcript.Transcript) error
}

// Prober checks that a finished conversation still accepts a new user turn.
type Prober struct {
	client  Replacer
	message string
	model   string
	now     func() time.Time
	newID   func() string
}

// ProbeResult reports the probe outcome. A failed probe does not undo
// the turn it follows.
type ProbeResult struct {
	MessageID  string
	OK         bool
	Err        error
	Transcript *transcript.Transcript
}

// NewProber builds a prober; an empty message uses DefaultProbeMessage.
func NewProber(client Replacer, message, model string) *Prober {
	if message == "" {
		message = DefaultProbeMessage
	}
	return &Prober{
		client:  client,
		message: message,
		model:   model,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Probe appends a user message under parentID to a copy of t and persists
// it. t itself is not modified.
func (p *Prober) Probe(ctx context.Context, chatID string, t *transcript.Transcript, parentID string) ProbeResult {
	next := t.Clone()
	res := ProbeResult{MessageID: p.newID(), Transcript: next}

	msg := transcript.Message{
		ID:        res.MessageID,
		Role:      transcript.RoleUser,
		Content:   p.message,
		ParentID:  transcript.StringPtr(parentID),
		Timestamp: p.now().Unix(),
	}
	if p.model != "" {
		msg.Models = []string{p.model}
	}
	if err := next.AppendMessage(msg); err != nil {
		res.Err = fmt.Errorf("failed to append follow-up: %w", err)
		return res
	}
	if err := p.client.Replace(ctx, chatID, next); err != nil {
		res.Err = fmt.Errorf("failed to persist follow-up: %w", err)
		log.Warn().Err(err).Str("chat_id", chatID).Msg("Chat did not accept a follow-up message")
		return res
	}
	res.OK = true
	return res
}
