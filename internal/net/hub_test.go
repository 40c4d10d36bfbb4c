package net

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"RoomBoard/internal/metrics"
	"RoomBoard/internal/state"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHub(t *testing.T) (*Hub, *state.Manager, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	logger := discardLogger()
	rooms := state.NewManager(clock, state.DefaultHistoryLimit, logger)
	h := NewHub(HubConfig{
		Rooms:         rooms,
		Metrics:       metrics.New(),
		Clock:         clock,
		Logger:        logger,
		IdleThreshold: 72 * time.Hour,
		SweepInterval: time.Hour,
	})
	return h, rooms, clock
}

// connectSink registers a recording sink with the hub.
func connectSink(h *Hub, id string) *fakeSink {
	s := &fakeSink{id: id}
	h.connect(s)
	return s
}

func send(t *testing.T, h *Hub, from Sink, event string, data any) {
	t.Helper()
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			t.Fatal(err)
		}
		env.Data = raw
	}
	h.dispatch(from, env)
}

// drain decodes and forgets everything s has received.
func drain(t *testing.T, s *fakeSink) []Envelope {
	t.Helper()
	out := make([]Envelope, 0, len(s.frames))
	for _, f := range s.frames {
		var env Envelope
		if err := json.Unmarshal(f, &env); err != nil {
			t.Fatalf("bad frame %q: %v", f, err)
		}
		out = append(out, env)
	}
	s.frames = nil
	return out
}

func eventNames(envs []Envelope) []string {
	names := make([]string, len(envs))
	for i, e := range envs {
		names[i] = e.Event
	}
	return names
}

func expectEvents(t *testing.T, s *fakeSink, want ...string) []Envelope {
	t.Helper()
	got := drain(t, s)
	if names := eventNames(got); !reflect.DeepEqual(names, append([]string{}, want...)) {
		t.Fatalf("%s received %v, want %v", s.id, names, want)
	}
	return got
}

func unmarshal[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("%s payload %s: %v", env.Event, env.Data, err)
	}
	return v
}

func TestHubScenario(t *testing.T) {
	h, _, _ := newTestHub(t)
	a := connectSink(h, "a")
	b := connectSink(h, "b")

	send(t, h, a, EventCreateRoom, map[string]string{"room": "art", "password": "secret"})
	got := expectEvents(t, a, EventCreateSuccess, EventLoadCanvas, EventUpdateRooms)
	if room := unmarshal[string](t, got[0]); room != "art" {
		t.Errorf("createSuccess = %q", room)
	}
	if string(got[1].Data) != "[]" {
		t.Errorf("loadCanvas = %s, want []", got[1].Data)
	}
	rooms := unmarshal[[]state.RoomInfo](t, expectEvents(t, b, EventUpdateRooms)[0])
	if !reflect.DeepEqual(rooms, []state.RoomInfo{{Name: "art", HasPassword: true}}) {
		t.Errorf("updateRooms = %+v", rooms)
	}

	send(t, h, b, EventJoinRoom, map[string]string{"room": "art", "password": "wrong"})
	if msg := unmarshal[string](t, expectEvents(t, b, EventJoinError)[0]); msg != "Incorrect password" {
		t.Errorf("joinError = %q", msg)
	}

	send(t, h, b, EventJoinRoom, map[string]string{"room": "art", "password": "secret"})
	got = expectEvents(t, b, EventJoinSuccess, EventLoadCanvas)
	if string(got[1].Data) != "[]" {
		t.Errorf("loadCanvas = %s, want []", got[1].Data)
	}
	expectEvents(t, a)

	send(t, h, a, EventStrokeStart, map[string]any{
		"room": "art", "brush": "circle", "size": 3, "color": "#ffffff",
		"startPoint": map[string]float64{"x": 0, "y": 0},
	})
	relay := unmarshal[strokeStartRelay](t, expectEvents(t, b, EventStrokeStart)[0])
	if relay.StrokeID == "" || relay.Brush != state.BrushCircle || relay.Size != 3 {
		t.Errorf("strokeStart relay = %+v", relay)
	}
	for i := 1; i <= 4; i++ {
		send(t, h, a, EventDraw, map[string]any{"room": "art", "x": i, "y": i})
	}
	draws := expectEvents(t, b, EventDraw, EventDraw, EventDraw, EventDraw)
	first := unmarshal[state.DrawPoint](t, draws[0])
	if !first.IsConnected || first.LastPoint == nil || *first.LastPoint != (state.Linked{X: 0, Y: 0}) {
		t.Errorf("first relayed draw = %+v", first)
	}
	send(t, h, a, EventStrokeEnd, "art")
	expectEvents(t, b, EventStrokeEnd)
	expectEvents(t, a)

	send(t, h, a, EventUndo, "art")
	for _, s := range []*fakeSink{a, b} {
		res := unmarshal[state.HistoryResult](t, expectEvents(t, s, EventUndoComplete)[0])
		if res.StrokeCount != 0 || res.UndoneCount != 1 || res.Drawings == nil || len(res.Drawings) != 0 {
			t.Errorf("%s undoComplete = %+v", s.id, res)
		}
	}

	send(t, h, b, EventRedo, "art")
	for _, s := range []*fakeSink{a, b} {
		res := unmarshal[state.HistoryResult](t, expectEvents(t, s, EventRedoComplete)[0])
		if res.StrokeCount != 1 || res.UndoneCount != 0 || len(res.Drawings) != 5 {
			t.Errorf("%s redoComplete = %+v", s.id, res)
		}
	}
}

func TestHubCreateErrors(t *testing.T) {
	h, _, _ := newTestHub(t)
	a := connectSink(h, "a")
	send(t, h, a, EventCreateRoom, map[string]string{"room": "art"})
	drain(t, a)

	tests := []struct {
		name string
		data any
		want string
	}{
		{name: "duplicate", data: map[string]string{"room": "art"}, want: "Room already exists"},
		{name: "empty name", data: map[string]string{"room": "  "}, want: "Room name is required"},
		{name: "no payload", data: nil, want: "Invalid request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, h, a, EventCreateRoom, tt.data)
			if msg := unmarshal[string](t, expectEvents(t, a, EventCreateError)[0]); msg != tt.want {
				t.Errorf("createError = %q, want %q", msg, tt.want)
			}
		})
	}
}

func TestHubUpdateRoomsOnAutoCreate(t *testing.T) {
	h, rooms, _ := newTestHub(t)
	a := connectSink(h, "a")
	b := connectSink(h, "b")

	// A draw to an unknown room creates it open.
	send(t, h, a, EventDraw, map[string]any{"room": "scratch", "x": 5, "y": 6})
	expectEvents(t, a, EventUpdateRooms)
	expectEvents(t, b, EventUpdateRooms)
	if got := testutil.ToFloat64(h.metrics.Rooms); got != 1 {
		t.Errorf("rooms gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(h.metrics.Commits.WithLabelValues("legacy_point")); got != 1 {
		t.Errorf("legacy commits = %v, want 1", got)
	}

	// Joining it is not a creation, so no second updateRooms.
	send(t, h, b, EventJoinRoom, "scratch")
	got := expectEvents(t, b, EventJoinSuccess, EventLoadCanvas)
	canvas := unmarshal[[]state.DrawPoint](t, got[1])
	if len(canvas) != 1 || canvas[0].X != 5 || canvas[0].Brush != state.DefaultBrush {
		t.Errorf("canvas = %+v", canvas)
	}
	expectEvents(t, a)

	// Joining a missing room creates it and announces it.
	send(t, h, a, EventJoinRoom, map[string]string{"room": "fresh"})
	expectEvents(t, a, EventJoinSuccess, EventLoadCanvas, EventUpdateRooms)
	expectEvents(t, b, EventUpdateRooms)
	if rooms.Len() != 2 {
		t.Errorf("Len = %d, want 2", rooms.Len())
	}
}

func TestHubRelayScope(t *testing.T) {
	h, _, _ := newTestHub(t)
	a := connectSink(h, "a")
	b := connectSink(h, "b")
	outsider := connectSink(h, "c")

	send(t, h, a, EventJoinRoom, "art")
	send(t, h, b, EventJoinRoom, "art")
	send(t, h, outsider, EventJoinRoom, "music")
	drain(t, a)
	drain(t, b)
	drain(t, outsider)

	send(t, h, a, EventDraw, map[string]any{"room": "art", "x": 1, "y": 1})
	expectEvents(t, a)
	expectEvents(t, b, EventDraw)
	expectEvents(t, outsider)

	// Clear reaches the whole room including the sender.
	send(t, h, b, EventClearCanvas, "art")
	expectEvents(t, a, EventClearCanvas)
	expectEvents(t, b, EventClearCanvas)
	expectEvents(t, outsider)

	// Moving rooms drops the old subscription.
	send(t, h, b, EventJoinRoom, "music")
	drain(t, b)
	send(t, h, a, EventDraw, map[string]any{"room": "art", "x": 2, "y": 2})
	expectEvents(t, b)

	// In an open room a non-member asking for undo still gets the reply.
	send(t, h, outsider, EventUndo, "art")
	expectEvents(t, a, EventUndoComplete)
	expectEvents(t, outsider, EventUndoComplete)
}

func TestHubRejectsNonMemberOfProtectedRoom(t *testing.T) {
	h, rooms, _ := newTestHub(t)
	owner := connectSink(h, "owner")
	intruder := connectSink(h, "intruder")

	send(t, h, owner, EventCreateRoom, map[string]string{"room": "art", "password": "secret"})
	send(t, h, owner, EventStrokeStart, map[string]any{
		"room": "art", "brush": "circle", "size": 3, "color": "#ffffff",
		"startPoint": map[string]float64{"x": 0, "y": 0},
	})
	send(t, h, owner, EventDraw, map[string]any{"room": "art", "x": 1, "y": 1})
	send(t, h, owner, EventDraw, map[string]any{"room": "art", "x": 2, "y": 2})
	send(t, h, owner, EventStrokeEnd, "art")
	send(t, h, intruder, EventJoinRoom, map[string]string{"room": "art", "password": "wrong"})
	drain(t, owner)
	expectEvents(t, intruder, EventUpdateRooms, EventJoinError)

	send(t, h, intruder, EventStrokeStart, map[string]any{
		"room": "art", "brush": "neon", "size": 5, "color": "#ff0000",
		"startPoint": map[string]float64{"x": 9, "y": 9},
	})
	send(t, h, intruder, EventDraw, map[string]any{"room": "art", "x": 10, "y": 10})
	send(t, h, intruder, EventStrokeEnd, "art")
	send(t, h, intruder, EventUndo, "art")
	send(t, h, intruder, EventRedo, "art")
	send(t, h, intruder, EventClearCanvas, "art")
	send(t, h, intruder, EventRequestCanvasState, "art")
	expectEvents(t, owner)
	expectEvents(t, intruder)

	snap, err := rooms.Snapshot("art")
	if err != nil {
		t.Fatal(err)
	}
	if snap.StrokeCount != 1 || snap.UndoneCount != 0 || snap.PendingCount != 0 {
		t.Errorf("snapshot after rejected events = %+v", snap)
	}
	if canvas, _ := rooms.Canvas("art"); len(canvas) != 3 {
		t.Errorf("canvas has %d points, want 3", len(canvas))
	}

	// With the right password the same connection is admitted.
	send(t, h, intruder, EventJoinRoom, map[string]string{"room": "art", "password": "secret"})
	drain(t, intruder)
	send(t, h, intruder, EventUndo, "art")
	expectEvents(t, owner, EventUndoComplete)
	expectEvents(t, intruder, EventUndoComplete)
}

func TestHubEventMetricIsBounded(t *testing.T) {
	h, _, _ := newTestHub(t)
	a := connectSink(h, "a")

	for i := 0; i < 500; i++ {
		send(t, h, a, fmt.Sprintf("junk-%d", i), nil)
	}
	if n := testutil.CollectAndCount(h.metrics.Events); n != 1 {
		t.Errorf("events series after unknown events = %d, want 1", n)
	}
	if got := testutil.ToFloat64(h.metrics.Events.WithLabelValues("unknown")); got != 500 {
		t.Errorf("unknown events = %v, want 500", got)
	}

	send(t, h, a, EventRequestRooms, nil)
	if n := testutil.CollectAndCount(h.metrics.Events); n != 2 {
		t.Errorf("events series = %d, want 2", n)
	}
}

func TestHubMoveCommitsOpenStroke(t *testing.T) {
	h, rooms, _ := newTestHub(t)
	a := connectSink(h, "a")
	b := connectSink(h, "b")
	send(t, h, a, EventJoinRoom, "art")
	send(t, h, b, EventJoinRoom, "art")

	send(t, h, a, EventStrokeStart, map[string]any{
		"room": "art", "brush": "square", "size": 2, "color": "#00ff00",
		"startPoint": map[string]float64{"x": 1, "y": 1},
	})
	send(t, h, a, EventDraw, map[string]any{"room": "art", "x": 2, "y": 2})
	drain(t, a)
	drain(t, b)

	send(t, h, a, EventJoinRoom, "music")
	expectEvents(t, b, EventStrokeEnd, EventUpdateRooms)

	snap, err := rooms.Snapshot("art")
	if err != nil {
		t.Fatal(err)
	}
	if snap.PendingCount != 0 || snap.StrokeCount != 1 {
		t.Errorf("art after move = %+v", snap)
	}
	if got := testutil.ToFloat64(h.metrics.Commits.WithLabelValues("stroke")); got != 1 {
		t.Errorf("stroke commits = %v, want 1", got)
	}
}

func TestHubEmptyHistoryIsSilent(t *testing.T) {
	h, _, _ := newTestHub(t)
	a := connectSink(h, "a")
	send(t, h, a, EventJoinRoom, "art")
	drain(t, a)

	send(t, h, a, EventUndo, "art")
	send(t, h, a, EventRedo, "art")
	expectEvents(t, a)
}

func TestHubRequests(t *testing.T) {
	h, _, _ := newTestHub(t)
	a := connectSink(h, "a")

	send(t, h, a, EventRequestCanvasState, "nowhere")
	got := expectEvents(t, a, EventLoadCanvas)
	if string(got[0].Data) != "[]" {
		t.Errorf("loadCanvas for missing room = %s", got[0].Data)
	}

	send(t, h, a, EventRequestRooms, nil)
	got = expectEvents(t, a, EventUpdateRooms)
	if string(got[0].Data) != "[]" {
		t.Errorf("updateRooms = %s", got[0].Data)
	}

	send(t, h, a, "bogus", nil)
	expectEvents(t, a)
}

func TestHubDisconnectCommitsPendingStroke(t *testing.T) {
	h, rooms, _ := newTestHub(t)
	a := connectSink(h, "a")
	b := connectSink(h, "b")
	send(t, h, a, EventJoinRoom, "art")
	send(t, h, b, EventJoinRoom, "art")

	send(t, h, a, EventStrokeStart, map[string]any{
		"room": "art", "brush": "neon", "size": 4, "color": "#ff00ff",
		"startPoint": map[string]float64{"x": 1, "y": 1},
	})
	send(t, h, a, EventDraw, map[string]any{"room": "art", "x": 2, "y": 2})
	send(t, h, a, EventDraw, map[string]any{"room": "art", "x": 3, "y": 3})
	drain(t, b)

	h.disconnect("a")
	expectEvents(t, b, EventStrokeEnd)

	canvas, err := rooms.Canvas("art")
	if err != nil || len(canvas) != 3 {
		t.Fatalf("canvas = %d points, %v; want 3", len(canvas), err)
	}
	if got := testutil.ToFloat64(h.metrics.Connections); got != 1 {
		t.Errorf("connections gauge = %v, want 1", got)
	}
}

func TestHubSweep(t *testing.T) {
	h, rooms, clock := newTestHub(t)
	a := connectSink(h, "a")
	send(t, h, a, EventJoinRoom, "old")
	drain(t, a)

	clock.Advance(72 * time.Hour)
	h.sweep()
	expectEvents(t, a)

	clock.Advance(time.Second)
	h.sweep()
	got := expectEvents(t, a, EventUpdateRooms)
	if string(got[0].Data) != "[]" {
		t.Errorf("updateRooms after sweep = %s", got[0].Data)
	}
	if rooms.Len() != 0 {
		t.Errorf("Len = %d after sweep", rooms.Len())
	}
	if _, ok := h.joined["a"]; ok {
		t.Error("connection still marked as joined to the expired room")
	}
	if got := testutil.ToFloat64(h.metrics.Expired); got != 1 {
		t.Errorf("expired counter = %v, want 1", got)
	}

	h.sweep()
	expectEvents(t, a)
}

type chanSink struct {
	id string
	ch chan []byte
}

func (s *chanSink) ID() string { return s.id }

func (s *chanSink) Send(frame []byte) bool {
	select {
	case s.ch <- frame:
		return true
	default:
		return false
	}
}

func TestHubRun(t *testing.T) {
	h, _, _ := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	s := &chanSink{id: "a", ch: make(chan []byte, 8)}
	if !h.Register(s) {
		t.Fatal("Register failed on a running hub")
	}
	if !h.Enqueue(s, Envelope{Event: EventCreateRoom, Data: json.RawMessage(`"art"`)}) {
		t.Fatal("Enqueue failed on a running hub")
	}

	select {
	case f := <-s.ch:
		var env Envelope
		if err := json.Unmarshal(f, &env); err != nil || env.Event != EventCreateSuccess {
			t.Fatalf("first frame = %s, %v", f, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reply from the hub")
	}

	cancel()
	<-h.done
	if h.Register(&chanSink{id: "late", ch: make(chan []byte, 1)}) {
		t.Error("Register succeeded after the hub stopped")
	}
}

func TestRoomRequestAcceptsBareName(t *testing.T) {
	tests := []struct {
		in   string
		want roomRequest
	}{
		{in: `"art"`, want: roomRequest{Room: "art"}},
		{in: ` "art" `, want: roomRequest{Room: "art"}},
		{in: `{"room":"art","password":"pw"}`, want: roomRequest{Room: "art", Password: "pw"}},
	}
	for _, tt := range tests {
		var got roomRequest
		if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
			t.Fatalf("%s: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("%s = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
