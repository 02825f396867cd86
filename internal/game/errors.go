package game

import (
	"errors"

	"github.com/saludapp/salud/internal/room"
)

var (
	// ErrRoomNotFound covers bad and expired join codes alike.
	ErrRoomNotFound = room.ErrRoomNotFound
	// ErrDuplicateResponse is a no-op at the engine: the stored first
	// response wins. Transports may still surface the code.
	ErrDuplicateResponse = room.ErrDuplicateResponse
	// ErrStaleWrite marks a write referencing a phase or round that has
	// since moved on. Discarded and logged, never retried.
	ErrStaleWrite = room.ErrStaleWrite
	// ErrRoomFull is raised by the store under its write lock; the
	// engine-level check is only a fast path.
	ErrRoomFull = room.ErrRoomFull

	ErrNotHost      = errors.New("not host")
	ErrInvalidPhase = errors.New("invalid phase for action")
	ErrGameOver     = errors.New("game is over")
	ErrUnknownKind  = errors.New("unknown game kind")
)
