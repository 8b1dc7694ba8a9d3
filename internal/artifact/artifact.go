// Package artifact writes the JSON record of a finished turn.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/chatsync/internal/completion"
	"github.com/chatsync/internal/transcript"
)

// TurnRecord is the on-disk shape of a turn result.
type TurnRecord struct {
	Success           bool                     `json:"success"`
	ChatID            string                   `json:"chat_id"`
	ChatURL           string                   `json:"chat_url,omitempty"`
	UserMsgID         string                   `json:"user_msg_id"`
	AssistantMsgID    string                   `json:"assistant_msg_id"`
	UserMessage       string                   `json:"user_message"`
	AssistantResponse string                   `json:"assistant_response"`
	Attempts          int                      `json:"attempts"`
	States            []completion.Transition  `json:"states"`
	MarkCompleteError string                   `json:"mark_complete_error,omitempty"`
	Verification      *completion.Verification `json:"verification,omitempty"`
	Continuable       *bool                    `json:"continuable,omitempty"`
	Error             string                   `json:"error,omitempty"`
	FullChat          *transcript.Transcript   `json:"full_chat,omitempty"`
}

// FromResult assembles a record. verification and probe may be nil when
// those steps did not run. The full chat is the most recent transcript
// seen: the probe's, then the verification fetch, then the turn's own.
func FromResult(res *completion.Result, runErr error, verification *completion.Verification, probe *completion.ProbeResult, chatURL string) TurnRecord {
	rec := TurnRecord{
		Success:           runErr == nil && res.State() == completion.StateMarkedComplete,
		ChatID:            res.ChatID,
		ChatURL:           chatURL,
		UserMsgID:         res.UserMessageID,
		AssistantMsgID:    res.AssistantMessageID,
		UserMessage:       res.UserMessage,
		AssistantResponse: res.Content,
		Attempts:          res.Attempts,
		States:            res.Transitions,
		Verification:      verification,
		FullChat:          res.Transcript,
	}
	if res.MarkCompleteErr != nil {
		rec.MarkCompleteError = res.MarkCompleteErr.Error()
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if verification != nil {
		rec.Success = rec.Success && verification.Passed
		if verification.Transcript != nil {
			rec.FullChat = verification.Transcript
		}
	}
	if probe != nil {
		ok := probe.OK
		rec.Continuable = &ok
		if probe.OK && probe.Transcript != nil {
			rec.FullChat = probe.Transcript
		}
	}
	return rec
}

// Saved describes a written artifact.
type Saved struct {
	Path string
	Size int64
}

// HumanSize formats the size for display, e.g. "4.2 kB".
func (s Saved) HumanSize() string {
	return humanize.Bytes(uint64(s.Size))
}

// Writer stores records under a directory.
type Writer struct {
	dir string
	now func() time.Time
}

// NewWriter returns a writer for dir; empty means the working directory.
func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = "."
	}
	return &Writer{dir: dir, now: time.Now}
}

// Save writes rec as indented JSON to turn_result_<YYYYMMDD_HHMMSS>.json.
// A second record in the same second gets a numeric suffix.
func (w *Writer) Save(rec TurnRecord) (Saved, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return Saved{}, fmt.Errorf("failed to create output directory: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return Saved{}, fmt.Errorf("failed to marshal turn result: %w", err)
	}

	base := "turn_result_" + w.now().Format("20060102_150405")
	for n := 1; n < 100; n++ {
		name := base + ".json"
		if n > 1 {
			name = fmt.Sprintf("%s_%d.json", base, n)
		}
		path := filepath.Join(w.dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return Saved{}, fmt.Errorf("failed to create %s: %w", path, err)
		}
		_, writeErr := f.Write(data)
		closeErr := f.Close()
		if writeErr != nil {
			return Saved{}, fmt.Errorf("failed to write %s: %w", path, writeErr)
		}
		if closeErr != nil {
			return Saved{}, fmt.Errorf("failed to close %s: %w", path, closeErr)
		}
		saved := Saved{Path: path, Size: int64(len(data))}
		log.Debug().Str("path", path).Str("size", saved.HumanSize()).Msg("Wrote turn result")
		return saved, nil
	}
	return Saved{}, fmt.Errorf("too many turn results named %s in %s", base, w.dir)
}
