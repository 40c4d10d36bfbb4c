package state

// DefaultHistoryLimit is how many entries the stroke and undo stacks keep.
const DefaultHistoryLimit = 10

// History is a bounded stack backed by a ring buffer. Pushing onto a full
// stack evicts the oldest entry; evicted entries are gone for good.
type History struct {
	buf   []Entry
	head  int // index of the oldest entry
	count int
}

// NewHistory creates an empty stack holding at most limit entries.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{buf: make([]Entry, limit)}
}

// Len returns the number of entries held.
func (h *History) Len() int { return h.count }

// Cap returns the maximum number of entries.
func (h *History) Cap() int { return len(h.buf) }

// Push adds e as the newest entry and reports whether the oldest entry had
// to be evicted to make room.
func (h *History) Push(e Entry) (evicted bool) {
	if h.count == len(h.buf) {
		h.buf[h.head] = e
		h.head = (h.head + 1) % len(h.buf)
		return true
	}
	h.buf[(h.head+h.count)%len(h.buf)] = e
	h.count++
	return false
}

// Pop removes and returns the newest entry.
func (h *History) Pop() (Entry, bool) {
	if h.count == 0 {
		return Entry{}, false
	}
	i := (h.head + h.count - 1) % len(h.buf)
	e := h.buf[i]
	h.buf[i] = Entry{}
	h.count--
	return e, true
}

// Entries returns a copy of the held entries, oldest first.
func (h *History) Entries() []Entry {
	out := make([]Entry, h.count)
	for i := range out {
		out[i] = h.buf[(h.head+i)%len(h.buf)]
	}
	return out
}

// Clear drops every entry.
func (h *History) Clear() {
	for i := range h.buf {
		h.buf[i] = Entry{}
	}
	h.head, h.count = 0, 0
}
