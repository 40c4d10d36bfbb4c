package net

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"RoomBoard/internal/metrics"
	"RoomBoard/internal/state"
)

// errNotMember rejects room-scoped events from a connection that has not
// joined a protected room.
var errNotMember = errors.New("not joined to protected room")

type inbound struct {
	from Sink
	env  Envelope
}

// Hub is the single event loop of the server. Every inbound event,
// connection change and expiry sweep runs on the Run goroutine, one at a
// time, so the effects of one event are fully broadcast before the next
// begins.
type Hub struct {
	rooms   *state.Manager
	router  *Router
	metrics *metrics.Metrics
	clock   state.Clock
	log     *slog.Logger

	idle       time.Duration
	sweepEvery time.Duration

	joined map[string]string // connection id -> room it is subscribed to

	inbound    chan inbound
	register   chan Sink
	unregister chan string
	done       chan struct{}
}

// HubConfig carries the Hub's collaborators and sweep settings.
type HubConfig struct {
	Rooms         *state.Manager
	Metrics       *metrics.Metrics
	Clock         state.Clock
	Logger        *slog.Logger
	IdleThreshold time.Duration
	SweepInterval time.Duration
}

// NewHub creates a hub. Call Run to start processing.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Clock == nil {
		cfg.Clock = state.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = 72 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.IdleThreshold / 12
	}
	h := &Hub{
		rooms:      cfg.Rooms,
		metrics:    cfg.Metrics,
		clock:      cfg.Clock,
		log:        cfg.Logger,
		idle:       cfg.IdleThreshold,
		sweepEvery: cfg.SweepInterval,
		joined:     make(map[string]string),
		inbound:    make(chan inbound, 256),
		register:   make(chan Sink),
		unregister: make(chan string),
		done:       make(chan struct{}),
	}
	h.router = NewRouter(func(id string) {
		h.metrics.Dropped.Inc()
		h.log.Warn("send.dropped", "conn", id)
	})
	return h
}

// Run processes events until ctx is cancelled. It sweeps idle rooms once
// at start and then every sweep interval.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	h.sweep()
	ticker := time.NewTicker(h.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case s := <-h.register:
			h.connect(s)
		case id := <-h.unregister:
			h.disconnect(id)
		case in := <-h.inbound:
			h.dispatch(in.from, in.env)
		case <-ticker.C:
			h.sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Register hands a new connection to the hub. It returns false once the
// hub has stopped.
func (h *Hub) Register(s Sink) bool {
	select {
	case h.register <- s:
		return true
	case <-h.done:
		return false
	}
}

// Unregister tells the hub a connection is gone.
func (h *Hub) Unregister(id string) {
	select {
	case h.unregister <- id:
	case <-h.done:
	}
}

// Enqueue queues an inbound event. Events from one connection are
// processed in the order they are enqueued.
func (h *Hub) Enqueue(from Sink, env Envelope) bool {
	select {
	case h.inbound <- inbound{from: from, env: env}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) connect(s Sink) {
	h.router.Add(s)
	h.metrics.Connections.Set(float64(h.router.Len()))
	h.log.Info("conn.open", "conn", s.ID())
}

// disconnect drops the connection and commits any stroke it was drawing,
// since its points have already been relayed to the room.
func (h *Hub) disconnect(id string) {
	h.router.Remove(id)
	delete(h.joined, id)
	for _, room := range h.rooms.Abandon(id) {
		h.recordCommit(state.EntryStroke, false)
		h.publish(room, EventStrokeEnd, nil, id)
	}
	h.metrics.Connections.Set(float64(h.router.Len()))
	h.log.Info("conn.closed", "conn", id)
}

func (h *Hub) dispatch(from Sink, env Envelope) {
	h.metrics.Events.WithLabelValues(eventLabel(env.Event)).Inc()

	var err error
	switch env.Event {
	case EventCreateRoom:
		err = h.onCreateRoom(from, env)
	case EventJoinRoom:
		err = h.onJoinRoom(from, env)
	case EventRequestRooms:
		h.unicast(from, EventUpdateRooms, h.rooms.ListRooms())
	case EventStrokeStart:
		err = h.onStrokeStart(from, env)
	case EventDraw:
		err = h.onDraw(from, env)
	case EventStrokeEnd:
		err = h.onStrokeEnd(from, env)
	case EventUndo:
		err = h.onHistory(from, env, EventUndoComplete, h.rooms.Undo)
	case EventRedo:
		err = h.onHistory(from, env, EventRedoComplete, h.rooms.Redo)
	case EventClearCanvas:
		err = h.onClearCanvas(from, env)
	case EventRequestCanvasState:
		err = h.onRequestCanvas(from, env)
	default:
		h.log.Debug("event.unknown", "conn", from.ID(), "event", env.Event)
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, state.ErrNothingToUndo), errors.Is(err, state.ErrNothingToRedo):
		h.log.Debug("history.empty", "conn", from.ID(), "event", env.Event, "err", err)
	default:
		h.log.Warn("event.rejected", "conn", from.ID(), "event", env.Event, "err", err)
	}
}

func (h *Hub) onCreateRoom(from Sink, env Envelope) error {
	var req roomRequest
	if err := decode(env, &req); err != nil {
		h.unicast(from, EventCreateError, msgInvalid)
		return err
	}
	if err := h.rooms.CreateRoom(req.Room, req.Password); err != nil {
		switch {
		case errors.Is(err, state.ErrRoomExists):
			h.unicast(from, EventCreateError, msgRoomExists)
		case errors.Is(err, state.ErrInvalidRoomName):
			h.unicast(from, EventCreateError, msgNameRequired)
		}
		return err
	}
	h.moveTo(from.ID(), req.Room)
	h.unicast(from, EventCreateSuccess, req.Room)
	h.unicast(from, EventLoadCanvas, []state.DrawPoint{})
	h.roomsChanged()
	return nil
}

func (h *Hub) onJoinRoom(from Sink, env Envelope) error {
	var req roomRequest
	if err := decode(env, &req); err != nil {
		h.unicast(from, EventJoinError, msgInvalid)
		return err
	}
	canvas, created, err := h.rooms.JoinRoom(req.Room, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, state.ErrWrongPassword):
			h.unicast(from, EventJoinError, msgWrongPassword)
		case errors.Is(err, state.ErrInvalidRoomName):
			h.unicast(from, EventJoinError, msgNameRequired)
		}
		return err
	}
	h.moveTo(from.ID(), req.Room)
	h.unicast(from, EventJoinSuccess, req.Room)
	h.unicast(from, EventLoadCanvas, canvas)
	if created {
		h.roomsChanged()
	}
	h.log.Info("room.joined", "conn", from.ID(), "room", req.Room)
	return nil
}

func (h *Hub) onStrokeStart(from Sink, env Envelope) error {
	var req strokeStartRequest
	if err := decode(env, &req); err != nil {
		return err
	}
	if err := h.admit(from, req.Room); err != nil {
		return err
	}
	s, err := h.rooms.StartStroke(req.Room, from.ID(), req.Brush, req.Size, req.Color,
		req.StartPoint.X, req.StartPoint.Y)
	if err != nil {
		return err
	}
	h.publish(req.Room, EventStrokeStart, strokeStartRelay{
		Room:       req.Room,
		StrokeID:   s.ID,
		Brush:      s.Brush,
		Size:       s.Size,
		Color:      s.Color,
		StartPoint: req.StartPoint,
	}, from.ID())
	return nil
}

func (h *Hub) onDraw(from Sink, env Envelope) error {
	var req drawRequest
	if err := decode(env, &req); err != nil {
		return err
	}
	if err := h.admit(from, req.Room); err != nil {
		return err
	}
	d, err := h.rooms.AppendPoint(req.Room, from.ID(), state.DrawInput{
		X: req.X, Y: req.Y, Brush: req.Brush, Size: req.Size, Color: req.Color,
	})
	if err != nil {
		return err
	}
	if d.RoomCreated {
		h.roomsChanged()
	}
	if d.Legacy {
		h.recordCommit(state.EntryLegacyPoint, d.Commit.Evicted)
	}
	h.publish(req.Room, EventDraw, d.Point, from.ID())
	return nil
}

func (h *Hub) onStrokeEnd(from Sink, env Envelope) error {
	var req roomRequest
	if err := decode(env, &req); err != nil {
		return err
	}
	if err := h.admit(from, req.Room); err != nil {
		return err
	}
	c, ok, err := h.rooms.EndStroke(req.Room, from.ID())
	if err != nil || !ok {
		return err
	}
	h.recordCommit(state.EntryStroke, c.Evicted)
	h.publish(req.Room, EventStrokeEnd, nil, from.ID())
	return nil
}

func (h *Hub) onHistory(from Sink, env Envelope, reply string, op func(string) (state.HistoryResult, error)) error {
	var req roomRequest
	if err := decode(env, &req); err != nil {
		return err
	}
	if err := h.admit(from, req.Room); err != nil {
		return err
	}
	res, err := op(req.Room)
	if err != nil {
		return err
	}
	h.publishWithSender(req.Room, from, reply, res)
	return nil
}

func (h *Hub) onClearCanvas(from Sink, env Envelope) error {
	var req roomRequest
	if err := decode(env, &req); err != nil {
		return err
	}
	if err := h.admit(from, req.Room); err != nil {
		return err
	}
	if err := h.rooms.Clear(req.Room); err != nil {
		return err
	}
	h.publishWithSender(req.Room, from, EventClearCanvas, nil)
	h.log.Info("room.cleared", "conn", from.ID(), "room", req.Room)
	return nil
}

func (h *Hub) onRequestCanvas(from Sink, env Envelope) error {
	var req roomRequest
	if err := decode(env, &req); err != nil {
		return err
	}
	if err := h.admit(from, req.Room); err != nil {
		return err
	}
	canvas, err := h.rooms.Canvas(req.Room)
	if err != nil {
		h.unicast(from, EventLoadCanvas, []state.DrawPoint{})
		return err
	}
	h.unicast(from, EventLoadCanvas, canvas)
	return nil
}

// sweep removes idle rooms and tells everyone if the room set changed.
func (h *Hub) sweep() {
	removed, rooms := h.rooms.SweepExpired(h.clock.Now(), h.idle)
	if len(removed) == 0 {
		return
	}
	for _, name := range removed {
		for _, id := range h.router.DropTopic(name) {
			delete(h.joined, id)
		}
	}
	h.metrics.Expired.Add(float64(len(removed)))
	h.metrics.Rooms.Set(float64(len(rooms)))
	h.broadcast(EventUpdateRooms, rooms)
}

// admit lets from act on room unless the room exists, is protected and
// from has not joined it. Absent and open rooms admit everyone.
func (h *Hub) admit(from Sink, room string) error {
	snap, err := h.rooms.Snapshot(room)
	if err != nil || !snap.HasPassword || h.joined[from.ID()] == room {
		return nil
	}
	return fmt.Errorf("%w: %q", errNotMember, room)
}

// moveTo subscribes a connection to room, leaving the room it was in. A
// stroke still open in the old room is committed there.
func (h *Hub) moveTo(id, room string) {
	if prev, ok := h.joined[id]; ok && prev != room {
		h.router.Unsubscribe(prev, id)
		if c, ok, _ := h.rooms.EndStroke(prev, id); ok {
			h.recordCommit(state.EntryStroke, c.Evicted)
			h.publish(prev, EventStrokeEnd, nil, id)
		}
	}
	h.router.Subscribe(room, id)
	h.joined[id] = room
}

// eventLabel bounds the metrics label set to the known inbound events.
func eventLabel(event string) string {
	switch event {
	case EventCreateRoom, EventJoinRoom, EventRequestRooms, EventStrokeStart,
		EventDraw, EventStrokeEnd, EventUndo, EventRedo, EventClearCanvas,
		EventRequestCanvasState:
		return event
	}
	return "unknown"
}

func (h *Hub) roomsChanged() {
	rooms := h.rooms.ListRooms()
	h.metrics.Rooms.Set(float64(len(rooms)))
	h.broadcast(EventUpdateRooms, rooms)
}

func (h *Hub) recordCommit(kind state.EntryKind, evicted bool) {
	h.metrics.Commits.WithLabelValues(kind.String()).Inc()
	if evicted {
		h.metrics.Evictions.Inc()
	}
}

func (h *Hub) encode(event string, data any) []byte {
	b, err := frame(event, data)
	if err != nil {
		h.log.Error("frame.encode", "event", event, "err", err)
		return nil
	}
	return b
}

func (h *Hub) unicast(to Sink, event string, data any) {
	if b := h.encode(event, data); b != nil {
		h.router.Unicast(to.ID(), b)
	}
}

func (h *Hub) publish(room, event string, data any, except string) {
	if b := h.encode(event, data); b != nil {
		h.router.Publish(room, b, except)
	}
}

// publishWithSender delivers to the whole room and also to the sender when
// it is not subscribed, so a state-replacing reply always reaches it.
func (h *Hub) publishWithSender(room string, from Sink, event string, data any) {
	b := h.encode(event, data)
	if b == nil {
		return
	}
	h.router.Publish(room, b, "")
	if !h.router.IsMember(room, from.ID()) {
		h.router.Unicast(from.ID(), b)
	}
}

func (h *Hub) broadcast(event string, data any) {
	if b := h.encode(event, data); b != nil {
		h.router.PublishAll(b)
	}
}
