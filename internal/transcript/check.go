package transcript

import (
	"fmt"
	"sort"
)

// DiffAgainst returns the sorted ids whose content or done differ between t
// and other in either view, including ids present on only one side.
func (t *Transcript) DiffAgainst(other *Transcript) []string {
	ids := make(map[string]bool)
	for _, id := range t.IDs() {
		ids[id] = true
	}
	for _, id := range other.IDs() {
		ids[id] = true
	}

	var out []string
	for id := range ids {
		tSeq, tInSeq, tKeyed, tInKeyed := t.Views(id)
		oSeq, oInSeq, oKeyed, oInKeyed := other.Views(id)
		if !sameState(tSeq, tInSeq, oSeq, oInSeq) || !sameState(tKeyed, tInKeyed, oKeyed, oInKeyed) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func sameState(a Message, aOK bool, b Message, bOK bool) bool {
	if aOK != bOK {
		return false
	}
	return !aOK || (a.Content == b.Content && a.Done == b.Done)
}

// Check verifies the structural invariants: the views hold the same ids,
// agree on content and done, parents list each child exactly once and the
// aliases agree on a known id. It returns a ValidationError naming every
// violation found.
func (t *Transcript) Check() error {
	var reasons []string

	inSeq := make(map[string]int, len(t.seq))
	for _, m := range t.seq {
		inSeq[m.ID]++
	}
	for id, n := range inSeq {
		if n > 1 {
			reasons = append(reasons, fmt.Sprintf("%s appears %d times in sequence view", id, n))
		}
		if _, ok := t.keyed[id]; !ok {
			reasons = append(reasons, fmt.Sprintf("%s missing from keyed view", id))
		}
	}
	for id := range t.keyed {
		if inSeq[id] == 0 {
			reasons = append(reasons, fmt.Sprintf("%s missing from sequence view", id))
		}
	}

	for _, s := range t.seq {
		k, ok := t.keyed[s.ID]
		if !ok {
			continue
		}
		if s.Content != k.Content {
			reasons = append(reasons, fmt.Sprintf("%s content differs between views", s.ID))
		}
		if s.Done != k.Done {
			reasons = append(reasons, fmt.Sprintf("%s done differs between views", s.ID))
		}
	}

	reasons = append(reasons, linkProblems("keyed", t.keyedList(), t.keyed)...)
	reasons = append(reasons, linkProblems("sequence", t.seq, t.seqMap())...)

	if !t.aliases.Agree() {
		reasons = append(reasons, fmt.Sprintf("current pointers disagree: current_id=%q currentId=%q chat currentId=%q",
			t.aliases.HistorySnake, t.aliases.HistoryCamel, t.aliases.Chat))
	} else if id := t.aliases.Chat; id != "" && !t.has(id) {
		reasons = append(reasons, fmt.Sprintf("current pointer %s is unknown", id))
	}

	if len(reasons) == 0 {
		return nil
	}
	sort.Strings(reasons)
	return ValidationError{Reasons: reasons}
}

func linkProblems(view string, list []Message, byID map[string]Message) []string {
	var out []string
	for _, child := range list {
		p := child.Parent()
		if p == "" {
			continue
		}
		parent, ok := byID[p]
		if !ok {
			out = append(out, fmt.Sprintf("%s: parent %s of %s is unknown", view, p, child.ID))
			continue
		}
		n := 0
		for _, c := range parent.ChildrenIDs {
			if c == child.ID {
				n++
			}
		}
		if n != 1 {
			out = append(out, fmt.Sprintf("%s: %s lists child %s %d times", view, p, child.ID, n))
		}
	}
	return out
}

func (t *Transcript) keyedList() []Message {
	out := make([]Message, 0, len(t.keyed))
	for _, m := range t.keyed {
		out = append(out, m)
	}
	return out
}

func (t *Transcript) seqMap() map[string]Message {
	out := make(map[string]Message, len(t.seq))
	for _, m := range t.seq {
		out[m.ID] = m
	}
	return out
}
