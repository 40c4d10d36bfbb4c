package state

import "errors"

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomExists      = errors.New("room already exists")
	ErrWrongPassword   = errors.New("incorrect password")
	ErrInvalidRoomName = errors.New("room name is required")
	ErrNothingToUndo   = errors.New("nothing to undo")
	ErrNothingToRedo   = errors.New("nothing to redo")
	ErrInvalidBrush    = errors.New("unknown brush")
	ErrInvalidSize     = errors.New("brush size must be positive")
)
