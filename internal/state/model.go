package state

import (
	"fmt"
	"strings"
	"time"
)

// Brush is the drawing tool a stroke was made with.
type Brush string

const (
	BrushSquare Brush = "square"
	BrushCircle Brush = "circle"
	BrushSpray  Brush = "spray"
	BrushNeon   Brush = "neon"
	BrushEraser Brush = "eraser"
)

// Defaults used by legacy draw events that carry no brush data.
const (
	DefaultBrush = BrushSquare
	DefaultSize  = 2.0
	DefaultColor = "#00ff00"
)

// ParseBrush validates a brush name sent by a client.
func ParseBrush(s string) (Brush, error) {
	switch b := Brush(strings.ToLower(strings.TrimSpace(s))); b {
	case BrushSquare, BrushCircle, BrushSpray, BrushNeon, BrushEraser:
		return b, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidBrush, s)
}

// Continuous reports whether consecutive points of this brush are joined
// by a segment when rendered. Square stamps every point on its own.
func (b Brush) Continuous() bool { return b != BrushSquare }

// Point is a single sample of a pointer in canvas space.
type Point struct {
	X    float64
	Y    float64
	Time time.Time
}

// Stroke is one pointer-down to pointer-up action with a uniform style.
type Stroke struct {
	ID        string
	Brush     Brush
	Size      float64
	Color     string
	Points    []Point
	Owner     string // connection that drew it
	StartedAt time.Time
	EndedAt   time.Time
}

// EntryKind tags what a history entry holds.
type EntryKind int

const (
	// EntryStroke is a stroke committed through strokeStart/strokeEnd.
	EntryStroke EntryKind = iota
	// EntryLegacyPoint is a draw received without a preceding strokeStart.
	// It is kept as its own single-point entry.
	EntryLegacyPoint
)

func (k EntryKind) String() string {
	if k == EntryLegacyPoint {
		return "legacy_point"
	}
	return "stroke"
}

// Entry is one undoable unit of room history.
type Entry struct {
	Kind   EntryKind
	Stroke Stroke
}

// Linked is the previous point a connected DrawPoint continues from.
type Linked struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DrawPoint is a replayable, render-ready point. It is both the output of
// Reconstruct and the payload of the relayed draw event.
type DrawPoint struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Brush       Brush   `json:"brush"`
	Size        float64 `json:"size"`
	Color       string  `json:"color"`
	LastPoint   *Linked `json:"lastPoint"`
	IsConnected bool    `json:"isConnected"`
	Timestamp   int64   `json:"timestamp"` // unix milliseconds
}

// RoomInfo is the public view of a room in the room list.
type RoomInfo struct {
	Name        string `json:"name"`
	HasPassword bool   `json:"hasPassword"`
}

// HistoryResult is what undo and redo report back to the room.
type HistoryResult struct {
	StrokeCount int         `json:"strokeCount"`
	UndoneCount int         `json:"undoneCount"`
	Drawings    []DrawPoint `json:"drawings"`
}
