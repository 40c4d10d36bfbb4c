package net

import (
	"bytes"
	"encoding/json"
	"fmt"

	"RoomBoard/internal/state"
)

// Every frame on the socket is an Envelope.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client to server events.
const (
	EventCreateRoom         = "createRoom"
	EventJoinRoom           = "joinRoom"
	EventRequestRooms       = "requestRooms"
	EventStrokeStart        = "strokeStart"
	EventDraw               = "draw"
	EventStrokeEnd          = "strokeEnd"
	EventUndo               = "undo"
	EventRedo               = "redo"
	EventClearCanvas        = "clearCanvas"
	EventRequestCanvasState = "requestCanvasState"
)

// Server to client events. draw, strokeStart, strokeEnd and clearCanvas
// reuse the inbound names.
const (
	EventLoadCanvas    = "loadCanvas"
	EventJoinSuccess   = "joinSuccess"
	EventJoinError     = "joinError"
	EventCreateSuccess = "createSuccess"
	EventCreateError   = "createError"
	EventUpdateRooms   = "updateRooms"
	EventUndoComplete  = "undoComplete"
	EventRedoComplete  = "redoComplete"
)

// User-facing error messages.
const (
	msgRoomExists    = "Room already exists"
	msgWrongPassword = "Incorrect password"
	msgNameRequired  = "Room name is required"
	msgInvalid       = "Invalid request"
)

// roomRequest carries a room name and an optional password. Clients may
// send either {"room": ..., "password": ...} or a bare room name string.
type roomRequest struct {
	Room     string `json:"room"`
	Password string `json:"password,omitempty"`
}

func (r *roomRequest) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &r.Room)
	}
	type plain roomRequest
	return json.Unmarshal(b, (*plain)(r))
}

type position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type strokeStartRequest struct {
	Room       string   `json:"room"`
	Brush      string   `json:"brush"`
	Size       float64  `json:"size"`
	Color      string   `json:"color"`
	StartPoint position `json:"startPoint"`
}

// strokeStartRelay is the strokeStart event sent on to the rest of the
// room, normalized by the server.
type strokeStartRelay struct {
	Room       string      `json:"room"`
	StrokeID   string      `json:"strokeId"`
	Brush      state.Brush `json:"brush"`
	Size       float64     `json:"size"`
	Color      string      `json:"color"`
	StartPoint position    `json:"startPoint"`
}

type drawRequest struct {
	X           float64       `json:"x"`
	Y           float64       `json:"y"`
	Room        string        `json:"room"`
	Brush       string        `json:"brush,omitempty"`
	Size        float64       `json:"size,omitempty"`
	Color       string        `json:"color,omitempty"`
	LastPoint   *state.Linked `json:"lastPoint,omitempty"`
	IsConnected bool          `json:"isConnected,omitempty"`
}

// decode unmarshals the envelope payload into v. A missing payload is an
// error for every event that takes one.
func decode(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s: missing payload", env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%s: %w", env.Event, err)
	}
	return nil
}

// frame encodes an outbound event. A nil data yields an event with no
// payload.
func frame(event string, data any) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", event, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}
