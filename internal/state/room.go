package state

import (
	"crypto/subtle"
	"time"
)

// Room is one isolated canvas with its own history. Its methods assume the
// owning Manager's lock is held.
type Room struct {
	name         string
	password     string
	hasPassword  bool
	strokes      *History
	undone       *History
	pending      map[string]*Stroke // keyed by connection id
	lastActivity time.Time
}

func newRoom(name, password string, limit int, now time.Time) *Room {
	return &Room{
		name:         name,
		password:     password,
		hasPassword:  password != "",
		strokes:      NewHistory(limit),
		undone:       NewHistory(limit),
		pending:      make(map[string]*Stroke),
		lastActivity: now,
	}
}

func (r *Room) info() RoomInfo {
	return RoomInfo{Name: r.name, HasPassword: r.hasPassword}
}

func (r *Room) touch(now time.Time) { r.lastActivity = now }

func (r *Room) checkPassword(given string) bool {
	if !r.hasPassword {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(r.password), []byte(given)) == 1
}

// startStroke opens a pending stroke for owner, replacing only that owner's
// previous pending stroke. It reports whether one was replaced.
func (r *Room) startStroke(owner string, brush Brush, size float64, color string, first Point) (Stroke, bool) {
	_, replaced := r.pending[owner]
	s := &Stroke{
		ID:        newStrokeID(),
		Brush:     brush,
		Size:      size,
		Color:     color,
		Points:    []Point{first},
		Owner:     owner,
		StartedAt: first.Time,
	}
	r.pending[owner] = s
	return *s, replaced
}

// appendPoint extends owner's pending stroke. ok is false when owner has
// no pending stroke.
func (r *Room) appendPoint(owner string, p Point) (dp DrawPoint, ok bool) {
	s := r.pending[owner]
	if s == nil {
		return DrawPoint{}, false
	}
	prev := s.Points[len(s.Points)-1]
	s.Points = append(s.Points, p)
	return DrawPoint{
		X:           p.X,
		Y:           p.Y,
		Brush:       s.Brush,
		Size:        s.Size,
		Color:       s.Color,
		LastPoint:   &Linked{X: prev.X, Y: prev.Y},
		IsConnected: true,
		Timestamp:   unixMillis(p.Time),
	}, true
}

// endStroke commits owner's pending stroke.
func (r *Room) endStroke(owner string, now time.Time) (Commit, bool) {
	s := r.pending[owner]
	if s == nil {
		return Commit{}, false
	}
	delete(r.pending, owner)
	s.EndedAt = now
	return r.commit(Entry{Kind: EntryStroke, Stroke: *s}), true
}

// commit appends e to the stroke history. New work invalidates redo.
func (r *Room) commit(e Entry) Commit {
	evicted := r.strokes.Push(e)
	r.undone.Clear()
	return Commit{Entry: e, Evicted: evicted, StrokeCount: r.strokes.Len()}
}

func (r *Room) undo() (HistoryResult, error) {
	e, ok := r.strokes.Pop()
	if !ok {
		return HistoryResult{}, ErrNothingToUndo
	}
	r.undone.Push(e)
	return r.result(), nil
}

// redo re-appends the most recently undone entry at the end of the
// history, after anything committed since the undo.
func (r *Room) redo() (HistoryResult, error) {
	e, ok := r.undone.Pop()
	if !ok {
		return HistoryResult{}, ErrNothingToRedo
	}
	r.strokes.Push(e)
	return r.result(), nil
}

func (r *Room) clear() {
	r.strokes.Clear()
	r.undone.Clear()
	clear(r.pending)
}

func (r *Room) canvas() []DrawPoint {
	return Reconstruct(r.strokes.Entries())
}

func (r *Room) result() HistoryResult {
	return HistoryResult{
		StrokeCount: r.strokes.Len(),
		UndoneCount: r.undone.Len(),
		Drawings:    r.canvas(),
	}
}

func (r *Room) snapshot() Snapshot {
	return Snapshot{
		Name:         r.name,
		HasPassword:  r.hasPassword,
		StrokeCount:  r.strokes.Len(),
		UndoneCount:  r.undone.Len(),
		PendingCount: len(r.pending),
		LastActivity: r.lastActivity,
	}
}

// Commit describes an entry that entered the stroke history.
type Commit struct {
	Entry       Entry
	Evicted     bool // the oldest entry was dropped to make room
	StrokeCount int
}

// Snapshot is a read-only summary of a room.
type Snapshot struct {
	Name         string
	HasPassword  bool
	StrokeCount  int
	UndoneCount  int
	PendingCount int
	LastActivity time.Time
}
