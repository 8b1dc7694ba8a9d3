package transcript

import (
	"encoding/json"
	"fmt"
	"math"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one conversational turn as the remote UI stores it. The same
// shape is used in both the sequence view and the keyed view.
type Message struct {
	ID            string
	Role          Role
	Content       string
	ParentID      *string // nil for the root
	ChildrenIDs   []string
	Timestamp     int64 // seconds since epoch
	Model         string
	ModelIdx      *int
	Models        []string
	Done          bool
	StatusHistory []json.RawMessage

	// Extra holds fields this package does not interpret. They are written
	// back untouched so a replace never strips remote data.
	Extra map[string]json.RawMessage
}

// Parent returns the parent id or "" for the root.
func (m Message) Parent() string {
	if m.ParentID == nil {
		return ""
	}
	return *m.ParentID
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	out := m
	if m.ParentID != nil {
		p := *m.ParentID
		out.ParentID = &p
	}
	if m.ModelIdx != nil {
		i := *m.ModelIdx
		out.ModelIdx = &i
	}
	out.ChildrenIDs = cloneStrings(m.ChildrenIDs)
	out.Models = cloneStrings(m.Models)
	if m.StatusHistory != nil {
		out.StatusHistory = make([]json.RawMessage, len(m.StatusHistory))
		for i, ev := range m.StatusHistory {
			out.StatusHistory[i] = append(json.RawMessage(nil), ev...)
		}
	}
	out.Extra = cloneRaw(m.Extra)
	return out
}

// StringPtr is a helper for building ParentID values.
func StringPtr(s string) *string {
	return &s
}

// MarshalJSON writes {id, role, content, parentId, childrenIds, timestamp,
// model?, modelIdx?, models?, done?, statusHistory?} plus any preserved extras.
func (m Message) MarshalJSON() ([]byte, error) {
	out := cloneRaw(m.Extra)
	if out == nil {
		out = make(map[string]json.RawMessage)
	}

	set := func(key string, v interface{}) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode message field %s: %w", key, err)
		}
		out[key] = raw
		return nil
	}

	children := m.ChildrenIDs
	if children == nil {
		children = []string{}
	}
	fields := []struct {
		key string
		val interface{}
	}{
		{"id", m.ID},
		{"role", m.Role},
		{"content", m.Content},
		{"parentId", m.ParentID},
		{"childrenIds", children},
		{"timestamp", m.Timestamp},
	}
	for _, f := range fields {
		if err := set(f.key, f.val); err != nil {
			return nil, err
		}
	}
	if m.Model != "" {
		if err := set("model", m.Model); err != nil {
			return nil, err
		}
	}
	if m.ModelIdx != nil {
		if err := set("modelIdx", *m.ModelIdx); err != nil {
			return nil, err
		}
	}
	if len(m.Models) > 0 {
		if err := set("models", m.Models); err != nil {
			return nil, err
		}
	}
	// The UI keys its loading indicator off done, so assistant turns always carry it.
	if m.Role == RoleAssistant || m.Done {
		if err := set("done", m.Done); err != nil {
			return nil, err
		}
	}
	if m.StatusHistory != nil {
		if err := set("statusHistory", m.StatusHistory); err != nil {
			return nil, err
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the remote message shape. Missing optional fields
// keep their zero value; unknown fields land in Extra.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out Message
	if err := take(raw, "id", &out.ID); err != nil {
		return err
	}
	if err := take(raw, "role", &out.Role); err != nil {
		return err
	}
	if err := take(raw, "content", &out.Content); err != nil {
		return err
	}
	if err := take(raw, "parentId", &out.ParentID); err != nil {
		return err
	}
	if err := take(raw, "childrenIds", &out.ChildrenIDs); err != nil {
		return err
	}
	var ts float64
	if err := take(raw, "timestamp", &ts); err != nil {
		return err
	}
	out.Timestamp = int64(math.Round(ts))
	if err := take(raw, "model", &out.Model); err != nil {
		return err
	}
	if err := take(raw, "modelIdx", &out.ModelIdx); err != nil {
		return err
	}
	if err := take(raw, "models", &out.Models); err != nil {
		return err
	}
	if err := take(raw, "done", &out.Done); err != nil {
		return err
	}
	if err := take(raw, "statusHistory", &out.StatusHistory); err != nil {
		return err
	}
	if out.ParentID != nil && *out.ParentID == "" {
		out.ParentID = nil
	}
	if len(raw) > 0 {
		out.Extra = raw
	}
	*m = out
	return nil
}

// take decodes raw[key] into dst when present and non-null, then removes
// the key so whatever remains is preserved as extras.
func take(raw map[string]json.RawMessage, key string, dst interface{}) error {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	delete(raw, key)
	if string(v) == "null" {
		return nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("decode field %s: %w", key, err)
	}
	return nil
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in map[string]json.RawMessage) map[string]json.RawMessage {
	if in == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
