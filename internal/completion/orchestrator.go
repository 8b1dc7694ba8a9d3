// Package completion drives one assistant turn against the chat backend:
// placeholder, generation request, polling, reconciliation and the
// completion signal. It also holds the post-turn continuity probe and the
// verification pass.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chatsync/internal/chatapi"
	"github.com/chatsync/internal/logging"
	"github.com/chatsync/internal/reconcile"
	"github.com/chatsync/internal/retry"
	"github.com/chatsync/internal/transcript"
)

// State is a step of the turn state machine.
type State string

const (
	StateCreated             State = "created"
	StatePlaceholderInserted State = "placeholder_inserted"
	StateGenerationRequested State = "generation_requested"
	StateAwaitingContent     State = "awaiting_content"
	StateReconciled          State = "reconciled"
	StateMarkedComplete      State = "marked_complete"
	StateFailed              State = "failed"
)

// Transition records entering a state.
type Transition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
	Note  string    `json:"note,omitempty"`
}

// ChatService is the slice of the remote client a turn needs.
type ChatService interface {
	Create(ctx context.Context, seed *transcript.Transcript) (string, error)
	Fetch(ctx context.Context, chatID string) (*transcript.Transcript, error)
	Replace(ctx context.Context, chatID string, t *transcript.Transcript) error
	RequestGeneration(ctx context.Context, req chatapi.GenerationRequest) (*chatapi.GenerationAck, error)
	MarkComplete(ctx context.Context, req chatapi.CompletedRequest) error
}

// Config tunes a turn.
type Config struct {
	Model           string
	Title           string // default "Test Chat HH:MM:SS"
	Attempts        int    // default 30
	Interval        time.Duration
	Features        map[string]bool
	BackgroundTasks map[string]bool
}

// DefaultConfig returns the poll budget used when nothing is configured.
func DefaultConfig(model string) Config {
	return Config{
		Model:    model,
		Attempts: 30,
		Interval: 2 * time.Second,
	}
}

// Result is the outcome of a turn, filled in as the turn advances.
type Result struct {
	ChatID             string
	UserMessageID      string
	AssistantMessageID string
	UserMessage        string
	Content            string
	Attempts           int
	Ack                *chatapi.GenerationAck
	MarkCompleteErr    error
	Transitions        []Transition
	Transcript         *transcript.Transcript
}

// State returns the most recent state.
func (r *Result) State() State {
	if len(r.Transitions) == 0 {
		return ""
	}
	return r.Transitions[len(r.Transitions)-1].State
}

// States lists the visited states in order.
func (r *Result) States() []State {
	out := make([]State, len(r.Transitions))
	for i, tr := range r.Transitions {
		out[i] = tr.State
	}
	return out
}

// Orchestrator runs turns. It owns no transcript between turns.
type Orchestrator struct {
	client ChatService
	engine *reconcile.Engine
	cfg    Config
	logger *logging.RunLogger
	now    func() time.Time
	newID  func() string
}

// NewOrchestrator builds an orchestrator; logger may be nil.
func NewOrchestrator(client ChatService, cfg Config, logger *logging.RunLogger) *Orchestrator {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 30
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &Orchestrator{
		client: client,
		engine: reconcile.NewEngine(),
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (o *Orchestrator) record(res *Result, state State, note string) {
	res.Transitions = append(res.Transitions, Transition{State: state, At: o.now(), Note: note})
	ev := log.Debug().Str("chat_id", res.ChatID).Str("state", string(state))
	if note != "" {
		ev = ev.Str("note", note)
	}
	ev.Msg("Turn state changed")
}

func (o *Orchestrator) fail(res *Result, err error) (*Result, error) {
	step := res.State()
	o.record(res, StateFailed, err.Error())
	o.logger.LogError(string(step), err)
	return res, err
}

// Begin creates a conversation holding one user message and returns the
// turn in the Created state.
func (o *Orchestrator) Begin(ctx context.Context, prompt string) (*Result, error) {
	o.logger.LogSection("CREATE CHAT")
	now := o.now()
	title := o.cfg.Title
	if title == "" {
		title = "Test Chat " + now.Format("15:04:05")
	}

	seed := transcript.New(title, []string{o.cfg.Model})
	userID := o.newID()
	res := &Result{UserMessageID: userID, UserMessage: prompt}
	if err := seed.AppendMessage(transcript.Message{
		ID:        userID,
		Role:      transcript.RoleUser,
		Content:   prompt,
		Timestamp: now.Unix(),
		Models:    []string{o.cfg.Model},
	}); err != nil {
		return o.fail(res, err)
	}

	chatID, err := o.client.Create(ctx, seed)
	if err != nil {
		return o.fail(res, fmt.Errorf("failed to create chat: %w", err))
	}
	res.ChatID = chatID
	seed.ID = chatID

	fetched, err := o.client.Fetch(ctx, chatID)
	if err != nil {
		return o.fail(res, fmt.Errorf("failed to fetch new chat: %w", err))
	}
	if _, err := o.engine.Reconcile(fetched, userID); err != nil {
		var nf transcript.NotFoundError
		if !errors.As(err, &nf) {
			return o.fail(res, fmt.Errorf("failed to reconcile new chat: %w", err))
		}
		log.Warn().Str("chat_id", chatID).Msg("Stored chat lacks the seeded user message, continuing from the seed")
		fetched = seed
	}
	res.Transcript = fetched
	o.logger.Log("Chat created: %s", chatID)
	o.record(res, StateCreated, "")
	return res, nil
}

// Complete runs Begin followed by Run.
func (o *Orchestrator) Complete(ctx context.Context, prompt string) (*Result, error) {
	res, err := o.Begin(ctx, prompt)
	if err != nil {
		return res, err
	}
	return o.Run(ctx, res)
}

// Run drives a Created turn to MarkedComplete or Failed.
func (o *Orchestrator) Run(ctx context.Context, res *Result) (*Result, error) {
	if res.State() != StateCreated {
		return res, fmt.Errorf("turn is %s, want %s", res.State(), StateCreated)
	}

	if err := o.insertPlaceholder(ctx, res); err != nil {
		return o.fail(res, err)
	}
	if err := o.requestGeneration(ctx, res); err != nil {
		return o.fail(res, err)
	}

	fetched, content, err := o.awaitContent(ctx, res)
	if err != nil {
		return o.fail(res, err)
	}

	if err := o.finalize(ctx, res, fetched, content); err != nil {
		return o.fail(res, err)
	}

	o.logger.LogSection("MARK COMPLETE")
	err = o.client.MarkComplete(ctx, chatapi.CompletedRequest{
		ChatID:    res.ChatID,
		MessageID: res.AssistantMessageID,
		Model:     o.cfg.Model,
	})
	note := ""
	if err != nil {
		res.MarkCompleteErr = err
		note = "completion signal failed: " + err.Error()
		log.Warn().Err(err).Str("chat_id", res.ChatID).Msg("Failed to mark completion, continuing")
	}
	o.record(res, StateMarkedComplete, note)
	return res, nil
}

// PrefillOnly inserts the placeholder, persists it, then retracts it and
// persists again, leaving the conversation as Begin created it.
func (o *Orchestrator) PrefillOnly(ctx context.Context, res *Result) (*Result, error) {
	if res.State() != StateCreated {
		return res, fmt.Errorf("turn is %s, want %s", res.State(), StateCreated)
	}
	if err := o.insertPlaceholder(ctx, res); err != nil {
		return o.fail(res, err)
	}

	o.logger.LogSection("RETRACT PLACEHOLDER")
	if err := res.Transcript.Retract(res.AssistantMessageID); err != nil {
		return o.fail(res, fmt.Errorf("failed to retract placeholder: %w", err))
	}
	if err := o.client.Replace(ctx, res.ChatID, res.Transcript); err != nil {
		return o.fail(res, fmt.Errorf("failed to persist retraction: %w", err))
	}
	o.record(res, StateCreated, "placeholder "+res.AssistantMessageID+" retracted")
	return res, nil
}

func (o *Orchestrator) insertPlaceholder(ctx context.Context, res *Result) error {
	o.logger.LogSection("INSERT PLACEHOLDER")
	user, ok := res.Transcript.LatestUser()
	if !ok {
		return transcript.ValidationError{Reasons: []string{"no user message to answer"}}
	}
	res.UserMessageID = user.ID
	res.UserMessage = user.Content

	modelIdx := 0
	assistantID := o.newID()
	if err := res.Transcript.AppendMessage(transcript.Message{
		ID:        assistantID,
		Role:      transcript.RoleAssistant,
		ParentID:  transcript.StringPtr(user.ID),
		Timestamp: o.now().Unix(),
		Model:     o.cfg.Model,
		ModelIdx:  &modelIdx,
	}); err != nil {
		return fmt.Errorf("failed to insert placeholder: %w", err)
	}
	res.AssistantMessageID = assistantID

	if err := o.client.Replace(ctx, res.ChatID, res.Transcript); err != nil {
		return fmt.Errorf("failed to persist placeholder: %w", err)
	}
	o.record(res, StatePlaceholderInserted, assistantID)
	return nil
}

func (o *Orchestrator) requestGeneration(ctx context.Context, res *Result) error {
	o.logger.LogSection("REQUEST GENERATION")
	thread, err := res.Transcript.Thread(res.UserMessageID)
	if err != nil {
		return fmt.Errorf("failed to build generation context: %w", err)
	}
	turns := make([]chatapi.Turn, 0, len(thread))
	for _, m := range thread {
		if m.Content == "" || (m.Role != transcript.RoleUser && m.Role != transcript.RoleAssistant) {
			continue
		}
		turns = append(turns, chatapi.Turn{Role: string(m.Role), Content: m.Content})
	}

	ack, err := o.client.RequestGeneration(ctx, chatapi.GenerationRequest{
		ChatID:          res.ChatID,
		MessageID:       res.AssistantMessageID,
		Messages:        turns,
		Model:           o.cfg.Model,
		Features:        o.cfg.Features,
		BackgroundTasks: o.cfg.BackgroundTasks,
	})
	if err != nil {
		return fmt.Errorf("failed to request generation: %w", err)
	}
	res.Ack = ack

	note := ""
	if ack != nil && ack.TaskID != "" {
		note = "task " + ack.TaskID
	}
	if ack != nil && ack.Content != "" {
		log.Debug().Int("chars", len(ack.Content)).Msg("Generation ack carried inline content, waiting for the stored reply")
	}
	o.record(res, StateGenerationRequested, note)
	return nil
}

// awaitContent polls until the assistant message has content in either
// view. The stored chat is the only content source; inline ack text is
// kept on the result but never finalizes the turn.
func (o *Orchestrator) awaitContent(ctx context.Context, res *Result) (*transcript.Transcript, string, error) {
	o.logger.LogSection("AWAIT CONTENT")
	o.record(res, StateAwaitingContent, fmt.Sprintf("%d attempts every %v", o.cfg.Attempts, o.cfg.Interval))

	var (
		last    *transcript.Transcript
		found   *transcript.Transcript
		content string
	)
	id := res.AssistantMessageID
	result := retry.RetryWithBackoffAndReason(ctx, retry.PollConfig(o.cfg.Attempts, o.cfg.Interval), func() (error, string) {
		fetched, err := o.client.Fetch(ctx, res.ChatID)
		if err != nil {
			return err, "fetch_failed"
		}
		last = fetched

		seq, inSeq, keyed, inKeyed := fetched.Views(id)
		switch {
		case inSeq && strings.TrimSpace(seq.Content) != "":
			content = seq.Content
		case inKeyed && strings.TrimSpace(keyed.Content) != "":
			content = keyed.Content
		case !inSeq && !inKeyed:
			return retry.ErrNotReady, "assistant_missing"
		default:
			return retry.ErrNotReady, "awaiting_content"
		}
		found = fetched
		return nil, ""
	}, o.logger)
	res.Attempts = result.Attempts

	if result.Success {
		o.logger.Log("Content observed after %d attempts", result.Attempts)
		return found, content, nil
	}
	if ctx.Err() != nil {
		return nil, "", fmt.Errorf("polling cancelled after %d attempts: %w", result.Attempts, ctx.Err())
	}

	observed := res.Transcript
	if last != nil {
		if _, err := o.engine.Reconcile(last, id); err == nil {
			observed = last
		}
	}
	res.Transcript = observed
	return nil, "", &TimeoutError{Attempts: result.Attempts, LastErr: result.LastError, Transcript: observed}
}

func (o *Orchestrator) finalize(ctx context.Context, res *Result, fetched *transcript.Transcript, content string) error {
	o.logger.LogSection("RECONCILE")
	report, err := o.engine.Reconcile(fetched, res.AssistantMessageID)
	if err != nil {
		return fmt.Errorf("failed to reconcile: %w", err)
	}
	if err := fetched.SetContent(res.AssistantMessageID, content, true); err != nil {
		return fmt.Errorf("failed to finalize assistant message: %w", err)
	}
	if err := fetched.SetCurrent(res.AssistantMessageID); err != nil {
		return fmt.Errorf("failed to move current pointer: %w", err)
	}
	if err := fetched.Check(); err != nil {
		return fmt.Errorf("reconciled chat is inconsistent: %w", err)
	}
	if err := o.client.Replace(ctx, res.ChatID, fetched); err != nil {
		return fmt.Errorf("failed to persist reconciled chat: %w", err)
	}

	res.Transcript = fetched
	res.Content = content
	note := ""
	if len(report.Repaired) > 0 {
		note = "repaired " + strings.Join(report.Repaired, ",")
	}
	o.record(res, StateReconciled, note)
	return nil
}
