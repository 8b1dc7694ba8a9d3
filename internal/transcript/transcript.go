package transcript

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Aliases are the three current-pointer fields the remote UI may read.
// Depending on its build the UI looks at history.current_id,
// history.currentId or the chat-level currentId, so all three must agree.
type Aliases struct {
	HistorySnake string // history.current_id
	HistoryCamel string // history.currentId
	Chat         string // currentId
}

// Agree reports whether all three aliases hold the same id.
func (a Aliases) Agree() bool {
	return a.HistorySnake == a.HistoryCamel && a.HistoryCamel == a.Chat
}

// Transcript is one conversation held as two views of the same messages: a
// sequence view in append order (what the UI renders) and a keyed view by id
// (what the UI looks messages up in). The views are only writable through
// the mutation methods, which keep them consistent.
type Transcript struct {
	ID     string
	Title  string
	Models []string

	seq     []Message
	keyed   map[string]Message
	aliases Aliases

	extra        map[string]json.RawMessage
	historyExtra map[string]json.RawMessage
}

// New returns an empty transcript.
func New(title string, models []string) *Transcript {
	return &Transcript{
		Title:  title,
		Models: cloneStrings(models),
		keyed:  make(map[string]Message),
	}
}

// Clone returns a deep copy.
func (t *Transcript) Clone() *Transcript {
	out := &Transcript{
		ID:           t.ID,
		Title:        t.Title,
		Models:       cloneStrings(t.Models),
		seq:          make([]Message, len(t.seq)),
		keyed:        make(map[string]Message, len(t.keyed)),
		aliases:      t.aliases,
		extra:        cloneRaw(t.extra),
		historyExtra: cloneRaw(t.historyExtra),
	}
	for i, m := range t.seq {
		out.seq[i] = m.Clone()
	}
	for id, m := range t.keyed {
		out.keyed[id] = m.Clone()
	}
	return out
}

// Len returns the number of distinct message ids across both views.
func (t *Transcript) Len() int {
	return len(t.IDs())
}

// Sequence returns a copy of the sequence view.
func (t *Transcript) Sequence() []Message {
	out := make([]Message, len(t.seq))
	for i, m := range t.seq {
		out[i] = m.Clone()
	}
	return out
}

// Message returns the keyed-view entry for id.
func (t *Transcript) Message(id string) (Message, bool) {
	m, ok := t.keyed[id]
	if !ok {
		return Message{}, false
	}
	return m.Clone(), true
}

// Views returns the entry for id from each view along with presence flags.
func (t *Transcript) Views(id string) (seq Message, inSeq bool, keyed Message, inKeyed bool) {
	if i := t.seqIndex(id); i >= 0 {
		seq, inSeq = t.seq[i].Clone(), true
	}
	if m, ok := t.keyed[id]; ok {
		keyed, inKeyed = m.Clone(), true
	}
	return seq, inSeq, keyed, inKeyed
}

// IDs lists every id present in either view: sequence order first, then
// keyed-only ids ordered by timestamp and id.
func (t *Transcript) IDs() []string {
	seen := make(map[string]bool, len(t.seq)+len(t.keyed))
	ids := make([]string, 0, len(t.seq)+len(t.keyed))
	for _, m := range t.seq {
		if !seen[m.ID] {
			seen[m.ID] = true
			ids = append(ids, m.ID)
		}
	}
	var rest []Message
	for id, m := range t.keyed {
		if !seen[id] {
			rest = append(rest, m)
		}
	}
	sort.Slice(rest, func(i, j int) bool {
		if rest[i].Timestamp != rest[j].Timestamp {
			return rest[i].Timestamp < rest[j].Timestamp
		}
		return rest[i].ID < rest[j].ID
	})
	for _, m := range rest {
		ids = append(ids, m.ID)
	}
	return ids
}

// Aliases returns the raw current-pointer values.
func (t *Transcript) Aliases() Aliases {
	return t.aliases
}

// Current returns the current message id. When the aliases disagree the
// first non-empty of history.currentId, currentId, history.current_id wins.
func (t *Transcript) Current() string {
	for _, id := range []string{t.aliases.HistoryCamel, t.aliases.Chat, t.aliases.HistorySnake} {
		if id != "" {
			return id
		}
	}
	return ""
}

// LatestUser returns the last user message in the sequence view.
func (t *Transcript) LatestUser() (Message, bool) {
	for i := len(t.seq) - 1; i >= 0; i-- {
		if t.seq[i].Role == RoleUser {
			return t.seq[i].Clone(), true
		}
	}
	return Message{}, false
}

// Thread walks parent links from leafID up to the root and returns the
// messages in root-to-leaf order.
func (t *Transcript) Thread(leafID string) ([]Message, error) {
	var path []Message
	seen := make(map[string]bool)
	id := leafID
	for id != "" {
		if seen[id] {
			return nil, invalid(fmt.Sprintf("parent cycle at %s", id))
		}
		seen[id] = true
		m, ok := t.keyed[id]
		if !ok {
			return nil, NotFoundError{ID: id, View: "keyed"}
		}
		path = append(path, m.Clone())
		id = m.Parent()
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

func (t *Transcript) seqIndex(id string) int {
	for i := range t.seq {
		if t.seq[i].ID == id {
			return i
		}
	}
	return -1
}

// MarshalJSON writes the chat object the remote service stores.
func (t *Transcript) MarshalJSON() ([]byte, error) {
	out := cloneRaw(t.extra)
	if out == nil {
		out = make(map[string]json.RawMessage)
	}
	history := cloneRaw(t.historyExtra)
	if history == nil {
		history = make(map[string]json.RawMessage)
	}

	models := t.Models
	if models == nil {
		models = []string{}
	}
	seq := t.seq
	if seq == nil {
		seq = []Message{}
	}
	keyed := t.keyed
	if keyed == nil {
		keyed = map[string]Message{}
	}

	entries := []struct {
		dst map[string]json.RawMessage
		key string
		val interface{}
	}{
		{out, "title", t.Title},
		{out, "models", models},
		{out, "messages", seq},
		{out, "currentId", nullable(t.aliases.Chat)},
		{history, "messages", keyed},
		{history, "current_id", nullable(t.aliases.HistorySnake)},
		{history, "currentId", nullable(t.aliases.HistoryCamel)},
	}
	if t.ID != "" {
		entries = append(entries, struct {
			dst map[string]json.RawMessage
			key string
			val interface{}
		}{out, "id", t.ID})
	}
	for _, e := range entries {
		raw, err := json.Marshal(e.val)
		if err != nil {
			return nil, fmt.Errorf("encode chat field %s: %w", e.key, err)
		}
		e.dst[e.key] = raw
	}

	rawHistory, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("encode chat history: %w", err)
	}
	out["history"] = rawHistory
	return json.Marshal(out)
}

// UnmarshalJSON reads a chat object. The views are taken as-is, so a
// decoded transcript may carry drift until it is reconciled.
func (t *Transcript) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := Transcript{keyed: make(map[string]Message)}
	if err := take(raw, "id", &out.ID); err != nil {
		return err
	}
	if err := take(raw, "title", &out.Title); err != nil {
		return err
	}
	if err := take(raw, "models", &out.Models); err != nil {
		return err
	}
	if err := take(raw, "messages", &out.seq); err != nil {
		return err
	}
	if err := take(raw, "currentId", &out.aliases.Chat); err != nil {
		return err
	}

	var history map[string]json.RawMessage
	if err := take(raw, "history", &history); err != nil {
		return err
	}
	if history != nil {
		var keyed map[string]Message
		if err := take(history, "messages", &keyed); err != nil {
			return err
		}
		for id, m := range keyed {
			// The map key is authoritative; some builds omit the inner id.
			m.ID = id
			out.keyed[id] = m
		}
		if err := take(history, "current_id", &out.aliases.HistorySnake); err != nil {
			return err
		}
		if err := take(history, "currentId", &out.aliases.HistoryCamel); err != nil {
			return err
		}
		if len(history) > 0 {
			out.historyExtra = history
		}
	}
	if len(raw) > 0 {
		out.extra = raw
	}
	*t = out
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
