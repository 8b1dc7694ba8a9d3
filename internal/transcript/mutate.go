package transcript

import "fmt"

// AppendMessage adds msg to both views, registers it with its parent and
// points all three aliases at it.
func (t *Transcript) AppendMessage(msg Message) error {
	if msg.ID == "" {
		return invalid("message id is empty")
	}
	if _, ok := t.keyed[msg.ID]; ok || t.seqIndex(msg.ID) >= 0 {
		return invalid(fmt.Sprintf("message %s already exists", msg.ID))
	}
	if parent := msg.Parent(); parent != "" {
		if parent == msg.ID {
			return invalid(fmt.Sprintf("message %s is its own parent", msg.ID))
		}
		if _, ok := t.keyed[parent]; !ok {
			return invalid(fmt.Sprintf("parent %s of message %s is unknown", parent, msg.ID))
		}
	}
	if t.keyed == nil {
		t.keyed = make(map[string]Message)
	}

	msg = msg.Clone()
	msg.ChildrenIDs = dedupe(msg.ChildrenIDs)
	t.seq = append(t.seq, msg)
	t.keyed[msg.ID] = msg.Clone()
	if parent := msg.Parent(); parent != "" {
		t.addChild(parent, msg.ID)
	}
	t.setAliases(msg.ID)
	return nil
}

// SetContent updates content and done for id in both views. done only ever
// moves from false to true.
func (t *Transcript) SetContent(id, text string, done bool) error {
	i := t.seqIndex(id)
	if i < 0 {
		return NotFoundError{ID: id, View: "sequence"}
	}
	k, ok := t.keyed[id]
	if !ok {
		return NotFoundError{ID: id, View: "keyed"}
	}
	done = done || t.seq[i].Done || k.Done

	t.seq[i].Content = text
	t.seq[i].Done = done
	k.Content = text
	k.Done = done
	t.keyed[id] = k
	return nil
}

// SetCurrent points all three aliases at id.
func (t *Transcript) SetCurrent(id string) error {
	if _, ok := t.keyed[id]; !ok {
		return NotFoundError{ID: id, View: "keyed"}
	}
	t.setAliases(id)
	return nil
}

// Retract removes a leaf message from both views, detaches it from its
// parent and moves the aliases back to the parent. It exists to undo a
// placeholder that was never generated.
func (t *Transcript) Retract(id string) error {
	m, ok := t.keyed[id]
	if !ok {
		return NotFoundError{ID: id, View: "keyed"}
	}
	i := t.seqIndex(id)
	if i < 0 {
		return NotFoundError{ID: id, View: "sequence"}
	}
	if len(m.ChildrenIDs) > 0 || len(t.seq[i].ChildrenIDs) > 0 {
		return invalid(fmt.Sprintf("message %s has children and cannot be retracted", id))
	}

	t.seq = append(t.seq[:i], t.seq[i+1:]...)
	delete(t.keyed, id)

	parent := m.Parent()
	if parent != "" {
		t.removeChild(parent, id)
	}
	switch {
	case parent != "" && t.has(parent):
		t.setAliases(parent)
	case len(t.seq) > 0:
		t.setAliases(t.seq[len(t.seq)-1].ID)
	default:
		t.setAliases("")
	}
	return nil
}

// Put writes msg into both views, replacing any existing entry in place and
// appending it to the sequence view when missing. The parent is linked when
// it is already known; Relink settles links after a batch of puts.
func (t *Transcript) Put(msg Message) error {
	if msg.ID == "" {
		return invalid("message id is empty")
	}
	if msg.Parent() == msg.ID {
		return invalid(fmt.Sprintf("message %s is its own parent", msg.ID))
	}
	if t.keyed == nil {
		t.keyed = make(map[string]Message)
	}

	msg = msg.Clone()
	msg.ChildrenIDs = dedupe(msg.ChildrenIDs)
	if i := t.seqIndex(msg.ID); i >= 0 {
		msg.Done = msg.Done || t.seq[i].Done
	}
	if k, ok := t.keyed[msg.ID]; ok {
		msg.Done = msg.Done || k.Done
	}

	if i := t.seqIndex(msg.ID); i >= 0 {
		t.seq[i] = msg
	} else {
		t.seq = append(t.seq, msg)
	}
	t.keyed[msg.ID] = msg.Clone()

	if parent := msg.Parent(); parent != "" && t.has(parent) {
		t.addChild(parent, msg.ID)
	}
	return nil
}

// Relink repairs parent/child links using the keyed view as the source of
// truth and mirrors the result into the sequence view. Dangling and
// duplicate children are dropped, missing children are added and parents
// that point at unknown ids are cleared. It returns the number of messages
// whose links changed.
func (t *Transcript) Relink() int {
	changed := make(map[string]bool)
	ids := t.IDs()

	// Repeated sequence entries collapse onto the first occurrence.
	inSeq := make(map[string]bool, len(t.seq))
	uniq := t.seq[:0]
	for _, m := range t.seq {
		if inSeq[m.ID] {
			changed[m.ID] = true
			continue
		}
		inSeq[m.ID] = true
		uniq = append(uniq, m)
	}
	t.seq = uniq

	for _, id := range ids {
		m, ok := t.keyed[id]
		if !ok {
			continue
		}
		if p := m.Parent(); p != "" {
			if _, known := t.keyed[p]; !known || p == id {
				m.ParentID = nil
				changed[id] = true
			}
		}
		kept := make([]string, 0, len(m.ChildrenIDs))
		seen := make(map[string]bool)
		for _, c := range m.ChildrenIDs {
			if _, known := t.keyed[c]; !known || c == id || seen[c] {
				changed[id] = true
				continue
			}
			seen[c] = true
			kept = append(kept, c)
		}
		m.ChildrenIDs = kept
		t.keyed[id] = m
	}

	for _, id := range ids {
		m, ok := t.keyed[id]
		if !ok || m.ParentID == nil {
			continue
		}
		parent := t.keyed[*m.ParentID]
		if !contains(parent.ChildrenIDs, id) {
			parent.ChildrenIDs = append(parent.ChildrenIDs, id)
			t.keyed[parent.ID] = parent
			changed[parent.ID] = true
		}
	}

	for i := range t.seq {
		k, ok := t.keyed[t.seq[i].ID]
		if !ok {
			continue
		}
		if t.seq[i].Parent() != k.Parent() || !equalStrings(t.seq[i].ChildrenIDs, k.ChildrenIDs) {
			changed[k.ID] = true
		}
		t.seq[i].ParentID = k.Clone().ParentID
		t.seq[i].ChildrenIDs = cloneStrings(k.ChildrenIDs)
	}
	return len(changed)
}

// ResolveCurrent settles the three aliases on one id and reports whether
// anything changed. Candidates are tried in the order history.currentId,
// currentId, history.current_id; a known leaf is preferred, then any known
// id, then the last message of the sequence view.
func (t *Transcript) ResolveCurrent() bool {
	before := t.aliases
	candidates := []string{t.aliases.HistoryCamel, t.aliases.Chat, t.aliases.HistorySnake}

	chosen := ""
	for _, id := range candidates {
		if m, ok := t.keyed[id]; ok && len(m.ChildrenIDs) == 0 {
			chosen = id
			break
		}
	}
	if chosen == "" {
		for _, id := range candidates {
			if _, ok := t.keyed[id]; ok {
				chosen = id
				break
			}
		}
	}
	if chosen == "" && len(t.seq) > 0 {
		chosen = t.seq[len(t.seq)-1].ID
	}
	t.setAliases(chosen)
	return t.aliases != before
}

func (t *Transcript) setAliases(id string) {
	t.aliases = Aliases{HistorySnake: id, HistoryCamel: id, Chat: id}
}

func (t *Transcript) has(id string) bool {
	_, ok := t.keyed[id]
	return ok
}

func (t *Transcript) addChild(parentID, childID string) {
	if i := t.seqIndex(parentID); i >= 0 && !contains(t.seq[i].ChildrenIDs, childID) {
		t.seq[i].ChildrenIDs = append(t.seq[i].ChildrenIDs, childID)
	}
	if p, ok := t.keyed[parentID]; ok && !contains(p.ChildrenIDs, childID) {
		p.ChildrenIDs = append(cloneStrings(p.ChildrenIDs), childID)
		t.keyed[parentID] = p
	}
}

func (t *Transcript) removeChild(parentID, childID string) {
	if i := t.seqIndex(parentID); i >= 0 {
		t.seq[i].ChildrenIDs = without(t.seq[i].ChildrenIDs, childID)
	}
	if p, ok := t.keyed[parentID]; ok {
		p.ChildrenIDs = without(p.ChildrenIDs, childID)
		t.keyed[parentID] = p
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func without(list []string, s string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func dedupe(list []string) []string {
	if list == nil {
		return nil
	}
	out := make([]string, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, v := range list {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
