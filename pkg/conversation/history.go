package conversation

import "strings"

// DefaultHistoryLimit bounds how many entries a History keeps.
const DefaultHistoryLimit = 40

// Entry is one role-tagged turn in a locally kept transcript.
type Entry struct {
	Role    string
	Content string
}

// History is an append-only transcript used as a session handle by backends
// whose provider has no server-side conversation object. Values are immutable:
// Append returns a new History so a failed turn never mutates stored state.
type History struct {
	entries []Entry
	limit   int
}

// NewHistory returns an empty transcript keeping at most limit entries.
func NewHistory(limit int) History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return History{limit: limit}
}

// HistoryFrom returns the History stored in session, or an empty one.
func HistoryFrom(session *Session, limit int) History {
	if session != nil {
		if handle, ok := session.Handle(); ok {
			if history, ok := handle.(History); ok {
				return history
			}
		}
	}
	return NewHistory(limit)
}

// Append returns a copy of h with the turn added, dropping the oldest entries
// beyond the limit. Blank roles or content are ignored.
func (h History) Append(role string, content string) History {
	role = strings.TrimSpace(role)
	content = strings.TrimSpace(content)
	if role == "" || content == "" {
		return h
	}

	limit := h.limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	entries := make([]Entry, 0, len(h.entries)+1)
	entries = append(entries, h.entries...)
	entries = append(entries, Entry{Role: role, Content: content})
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	return History{entries: entries, limit: limit}
}

// List returns a copy of the entries, oldest first.
func (h History) List() []Entry {
	if len(h.entries) == 0 {
		return nil
	}

	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len reports how many entries are kept.
func (h History) Len() int {
	return len(h.entries)
}
