package completion

import (
	"context"
	"fmt"
	"strings"

	"github.com/chatsync/internal/transcript"
)

// Fetcher loads a conversation.
type Fetcher interface {
	Fetch(ctx context.Context, chatID string) (*transcript.Transcript, error)
}

// Verification is what the UI would see for an assistant message.
type Verification struct {
	Passed         bool                   `json:"passed"`
	InSequence     bool                   `json:"in_sequence"`
	HasContent     bool                   `json:"has_content"`
	ContentMatches bool                   `json:"content_matches"`
	CurrentOK      bool                   `json:"current_ok"`
	CurrentID      string                 `json:"current_id"`
	Content        string                 `json:"content"`
	Warnings       []string               `json:"warnings,omitempty"`
	Transcript     *transcript.Transcript `json:"-"`
}

// Verify fetches the conversation once more and checks the assistant
// message the way the UI renders it. Passing needs the message in the
// sequence view with non-empty content; a content mismatch with the keyed
// view or a current pointer on another message are warnings.
func Verify(ctx context.Context, f Fetcher, chatID, assistantID string) (*Verification, error) {
	t, err := f.Fetch(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chat for verification: %w", err)
	}
	v := &Verification{Transcript: t}

	seq, inSeq, keyed, _ := t.Views(assistantID)
	v.InSequence = inSeq && seq.Role == transcript.RoleAssistant
	if !v.InSequence {
		return v, nil
	}
	v.Content = seq.Content
	v.HasContent = strings.TrimSpace(seq.Content) != ""
	if !v.HasContent {
		return v, nil
	}

	v.ContentMatches = seq.Content == keyed.Content
	if !v.ContentMatches {
		v.Warnings = append(v.Warnings, "content differs between messages and history")
	}

	v.CurrentID = t.Current()
	v.CurrentOK = v.CurrentID == "" || v.CurrentID == assistantID
	if !v.CurrentOK {
		v.Warnings = append(v.Warnings, fmt.Sprintf("current pointer is %s, not the assistant message", v.CurrentID))
	}

	v.Passed = true
	return v, nil
}
