package state

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Manager owns every live room. All room state is reached through it.
type Manager struct {
	mu    sync.Mutex
	rooms map[string]*Room
	clock Clock
	limit int
	log   *slog.Logger
}

// NewManager creates an empty registry. historyLimit bounds both the
// stroke and the undo stack of every room.
func NewManager(clock Clock, historyLimit int, logger *slog.Logger) *Manager {
	if clock == nil {
		clock = SystemClock{}
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		rooms: make(map[string]*Room),
		clock: clock,
		limit: historyLimit,
		log:   logger,
	}
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidRoomName
	}
	return nil
}

// lookup returns the named room. Caller holds m.mu.
func (m *Manager) lookup(name string) (*Room, error) {
	r := m.rooms[name]
	if r == nil {
		return nil, fmt.Errorf("%w: %q", ErrRoomNotFound, name)
	}
	return r, nil
}

// create adds a room. Caller holds m.mu and has checked it is absent.
func (m *Manager) create(name, password string) *Room {
	r := newRoom(name, password, m.limit, m.clock.Now())
	m.rooms[name] = r
	m.log.Info("room.created", "room", name, "protected", r.hasPassword)
	return r
}

// CreateRoom registers a new room. An empty password leaves it open.
func (m *Manager) CreateRoom(name, password string) error {
	if err := validName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[name]; ok {
		return fmt.Errorf("%w: %q", ErrRoomExists, name)
	}
	m.create(name, password)
	return nil
}

// JoinRoom admits a client to name and returns the canvas to load. A room
// that does not exist yet is created open, and created reports that.
func (m *Manager) JoinRoom(name, password string) (canvas []DrawPoint, created bool, err error) {
	if err := validName(name); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.rooms[name]
	if r == nil {
		r = m.create(name, "")
		created = true
	} else if !r.checkPassword(password) {
		return nil, false, fmt.Errorf("%w: room %q", ErrWrongPassword, name)
	}
	r.touch(m.clock.Now())
	return r.canvas(), created, nil
}

// CheckPassword reports whether password admits a client to name without
// touching the room. Open rooms admit any password.
func (m *Manager) CheckPassword(name, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.lookup(name)
	if err != nil {
		return err
	}
	if !r.checkPassword(password) {
		return fmt.Errorf("%w: room %q", ErrWrongPassword, name)
	}
	return nil
}

// ListRooms returns every live room, sorted by name.
func (m *Manager) ListRooms() []RoomInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked()
}

func (m *Manager) listLocked() []RoomInfo {
	out := make([]RoomInfo, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SweepExpired removes rooms whose last activity is older than idle and
// returns the removed names along with the remaining room list.
func (m *Manager) SweepExpired(now time.Time, idle time.Duration) (removed []string, rooms []RoomInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, r := range m.rooms {
		if now.Sub(r.lastActivity) > idle {
			delete(m.rooms, name)
			removed = append(removed, name)
			m.log.Info("room.expired", "room", name, "idle", now.Sub(r.lastActivity).Round(time.Second))
		}
	}
	sort.Strings(removed)
	return removed, m.listLocked()
}

// StartStroke opens a pending stroke for owner in room.
func (m *Manager) StartStroke(room, owner, brush string, size float64, color string, x, y float64) (Stroke, error) {
	if size <= 0 {
		return Stroke{}, fmt.Errorf("%w: %v", ErrInvalidSize, size)
	}
	b, err := ParseBrush(brush)
	if err != nil {
		return Stroke{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.lookup(room)
	if err != nil {
		return Stroke{}, err
	}
	now := m.clock.Now()
	s, replaced := r.startStroke(owner, b, size, color, Point{X: x, Y: y, Time: now})
	if replaced {
		m.log.Warn("stroke.replaced", "room", room, "owner", owner)
	}
	r.touch(now)
	return s, nil
}

// DrawInput is a draw event as sent by a client. Style fields are only
// consulted for legacy draws that have no pending stroke.
type DrawInput struct {
	X     float64
	Y     float64
	Brush string
	Size  float64
	Color string
}

// Draw is the outcome of AppendPoint.
type Draw struct {
	Point       DrawPoint
	Legacy      bool // recorded as its own single-point entry
	RoomCreated bool
	Commit      Commit // set for legacy draws
}

// AppendPoint adds a point to owner's pending stroke in room. Without a
// pending stroke the point is committed as a legacy single-point entry;
// a missing room is created open so early draws are not lost.
func (m *Manager) AppendPoint(room, owner string, in DrawInput) (Draw, error) {
	if err := validName(room); err != nil {
		return Draw{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var d Draw
	r := m.rooms[room]
	if r == nil {
		r = m.create(room, "")
		d.RoomCreated = true
	}
	now := m.clock.Now()
	r.touch(now)
	p := Point{X: in.X, Y: in.Y, Time: now}

	if dp, ok := r.appendPoint(owner, p); ok {
		d.Point = dp
		return d, nil
	}

	brush, err := ParseBrush(in.Brush)
	if err != nil {
		brush = DefaultBrush
	}
	size := in.Size
	if size <= 0 {
		size = DefaultSize
	}
	color := in.Color
	if color == "" {
		color = DefaultColor
	}
	d.Legacy = true
	d.Commit = r.commit(Entry{Kind: EntryLegacyPoint, Stroke: Stroke{
		ID:        newStrokeID(),
		Brush:     brush,
		Size:      size,
		Color:     color,
		Points:    []Point{p},
		Owner:     owner,
		StartedAt: now,
		EndedAt:   now,
	}})
	d.Point = Reconstruct([]Entry{d.Commit.Entry})[0]
	return d, nil
}

// EndStroke commits owner's pending stroke in room. ok is false when there
// was nothing pending.
func (m *Manager) EndStroke(room, owner string) (c Commit, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.lookup(room)
	if err != nil {
		return Commit{}, false, err
	}
	now := m.clock.Now()
	c, ok = r.endStroke(owner, now)
	if ok {
		r.touch(now)
		m.log.Debug("stroke.committed", "room", room, "owner", owner,
			"points", len(c.Entry.Stroke.Points), "evicted", c.Evicted)
	}
	return c, ok, nil
}

// Abandon commits every stroke owner left pending, in any room, and
// returns the rooms that changed. It runs when a connection goes away.
func (m *Manager) Abandon(owner string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var changed []string
	now := m.clock.Now()
	for name, r := range m.rooms {
		if _, ok := r.endStroke(owner, now); ok {
			r.touch(now)
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}

// Undo moves the newest entry of room onto its undo stack.
func (m *Manager) Undo(room string) (HistoryResult, error) {
	return m.history(room, (*Room).undo)
}

// Redo moves the newest undone entry back onto the end of the history.
func (m *Manager) Redo(room string) (HistoryResult, error) {
	return m.history(room, (*Room).redo)
}

func (m *Manager) history(room string, op func(*Room) (HistoryResult, error)) (HistoryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.lookup(room)
	if err != nil {
		return HistoryResult{}, err
	}
	res, err := op(r)
	if err != nil {
		return HistoryResult{}, err
	}
	r.touch(m.clock.Now())
	return res, nil
}

// Clear wipes the history, undo stack and pending strokes of room.
func (m *Manager) Clear(room string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.lookup(room)
	if err != nil {
		return err
	}
	r.clear()
	r.touch(m.clock.Now())
	return nil
}

// Canvas returns the reconstructed canvas of room.
func (m *Manager) Canvas(room string) ([]DrawPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.lookup(room)
	if err != nil {
		return nil, err
	}
	return r.canvas(), nil
}

// Snapshot summarizes room.
func (m *Manager) Snapshot(room string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.lookup(room)
	if err != nil {
		return Snapshot{}, err
	}
	return r.snapshot(), nil
}

// Len returns the number of live rooms.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}
