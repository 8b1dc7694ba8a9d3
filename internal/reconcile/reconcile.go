// Package reconcile repairs drift between the sequence view and the keyed
// view of a fetched transcript.
//
// The remote UI renders from one view and looks messages up in the other.
// When the backend finishes a generation it often updates only one of them,
// and the stale side keeps the loading indicator spinning. Reconcile merges
// both sides of every message into one value and writes it back to both.
package reconcile

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/chatsync/internal/transcript"
)

// Report describes what a reconciliation pass changed.
type Report struct {
	Target     transcript.Message
	Repaired   []string // ids whose merged value differs from one of its views
	LinksFixed int
	AliasFixed bool
}

// Clean reports whether the pass found nothing to repair.
func (r Report) Clean() bool {
	return len(r.Repaired) == 0 && r.LinksFixed == 0 && !r.AliasFixed
}

// Engine runs reconciliation passes. It holds no state between calls.
type Engine struct{}

// NewEngine returns an Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Reconcile merges every message of t, restores the transcript invariants
// and returns the merged target message. Running it again on its own
// output changes nothing.
func (e *Engine) Reconcile(t *transcript.Transcript, targetID string) (Report, error) {
	var report Report

	_, inSeq, _, inKeyed := t.Views(targetID)
	if !inSeq && !inKeyed {
		return report, transcript.NotFoundError{ID: targetID}
	}

	for _, id := range t.IDs() {
		seq, okSeq, keyed, okKeyed := t.Views(id)
		merged := mergePresent(seq, okSeq, keyed, okKeyed)
		if drifted(merged, seq, okSeq, keyed, okKeyed) {
			report.Repaired = append(report.Repaired, id)
		}
		if err := t.Put(merged); err != nil {
			return report, fmt.Errorf("failed to write merged message %s: %w", id, err)
		}
	}

	report.LinksFixed = t.Relink()
	report.AliasFixed = t.ResolveCurrent()

	if err := t.Check(); err != nil {
		return report, err
	}

	target, _ := t.Message(targetID)
	report.Target = target

	if !report.Clean() {
		log.Debug().
			Str("chat_id", t.ID).
			Str("target", targetID).
			Strs("repaired", report.Repaired).
			Int("links_fixed", report.LinksFixed).
			Bool("alias_fixed", report.AliasFixed).
			Msg("Reconciled transcript views")
	}
	return report, nil
}

func mergePresent(seq transcript.Message, okSeq bool, keyed transcript.Message, okKeyed bool) transcript.Message {
	switch {
	case okSeq && okKeyed:
		return Merge(seq, keyed)
	case okSeq:
		return Merge(seq, transcript.Message{ID: seq.ID})
	default:
		return Merge(transcript.Message{ID: keyed.ID}, keyed)
	}
}

// Merge folds the sequence-view and keyed-view entries of one message into
// a single value.
//
//   - content: first non-empty of sequence, keyed
//   - done: true once either side says so
//   - role: a side's role is kept when it is set and not assistant,
//     sequence first; otherwise assistant
//   - statusHistory: first non-empty of sequence, keyed; default empty
//   - everything else: sequence first, gaps filled from keyed
func Merge(seq, keyed transcript.Message) transcript.Message {
	out := seq.Clone()
	if out.ID == "" {
		out.ID = keyed.ID
	}

	if out.Content == "" {
		out.Content = keyed.Content
	}
	out.Done = seq.Done || keyed.Done
	out.Role = mergeRole(seq.Role, keyed.Role)

	switch {
	case len(seq.StatusHistory) > 0:
	case len(keyed.StatusHistory) > 0:
		out.StatusHistory = keyed.Clone().StatusHistory
	default:
		out.StatusHistory = []json.RawMessage{}
	}

	if out.ParentID == nil && keyed.ParentID != nil {
		p := *keyed.ParentID
		out.ParentID = &p
	}
	out.ChildrenIDs = union(seq.ChildrenIDs, keyed.ChildrenIDs)
	if out.Timestamp == 0 {
		out.Timestamp = keyed.Timestamp
	}
	if out.Model == "" {
		out.Model = keyed.Model
	}
	if out.ModelIdx == nil && keyed.ModelIdx != nil {
		i := *keyed.ModelIdx
		out.ModelIdx = &i
	}
	if len(out.Models) == 0 && len(keyed.Models) > 0 {
		out.Models = append([]string(nil), keyed.Models...)
	}
	for k, v := range keyed.Extra {
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage)
		}
		if _, ok := out.Extra[k]; !ok {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

func mergeRole(seq, keyed transcript.Role) transcript.Role {
	if seq != "" && seq != transcript.RoleAssistant {
		return seq
	}
	if keyed != "" && keyed != transcript.RoleAssistant {
		return keyed
	}
	return transcript.RoleAssistant
}

func union(a, b []string) []string {
	if a == nil && b == nil {
		return nil
	}
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// drifted reports whether writing merged would change either view in a
// way the UI can see: a missing entry or a different content, done or role.
func drifted(merged, seq transcript.Message, okSeq bool, keyed transcript.Message, okKeyed bool) bool {
	if !okSeq || !okKeyed {
		return true
	}
	for _, side := range []transcript.Message{seq, keyed} {
		if side.Content != merged.Content || side.Done != merged.Done || side.Role != merged.Role {
			return true
		}
	}
	return false
}
