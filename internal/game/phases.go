package game

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/saludapp/salud/internal/room"
)

// Advance is the host's only lever: it moves the room along the edges
// a host is allowed to drive. Window resolution and the confession
// branch advance on their own.
func (e *Engine) Advance(roomID, hostToken string) error {
	rm, err := e.store.GetRoom(roomID)
	if err != nil {
		return err
	}
	if rm.HostToken != hostToken {
		return ErrNotHost
	}

	switch rm.Phase {
	case room.PhaseWaiting:
		return e.beginRound(rm, false)
	case room.PhasePrompt:
		return e.openWindow(rm)
	case room.PhaseSpotlight:
		// cutting the confession short is the host's call
		return e.beginJury(roomID)
	case room.PhaseRoundSummary:
		if rm.LastRound() {
			return e.finishGame(rm)
		}
		return e.beginRound(rm, true)
	case room.PhaseGameOver:
		return ErrGameOver
	default:
		return ErrInvalidPhase
	}
}

// beginRound moves into the next round's opening phase. Kinds with a
// separate "read it" beat stop at Prompt; the rest open the response
// window immediately.
func (e *Engine) beginRound(rm room.Room, nextRound bool) error {
	target := room.PhaseResponseWindow
	if rm.GameKind.HasPromptPhase() {
		target = room.PhasePrompt
	}
	updated, err := e.store.UpdateRoom(rm.ID, func(r *room.Room) error {
		if r.Phase != rm.Phase {
			return room.ErrStaleWrite
		}
		if nextRound {
			r.RoundIndex++
		}
		r.Phase = target
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().Str("roomId", rm.ID).Int("round", updated.RoundIndex).Str("phase", string(target)).Msg("round begins")
	if target == room.PhaseResponseWindow {
		return e.startWindow(updated)
	}
	return nil
}

// openWindow is the Prompt -> ResponseWindow edge.
func (e *Engine) openWindow(rm room.Room) error {
	updated, err := e.store.CompareAndSwapPhase(rm.ID, room.PhasePrompt, room.PhaseResponseWindow)
	if err != nil {
		return err
	}
	return e.startWindow(updated)
}

func (e *Engine) finishGame(rm room.Room) error {
	if _, err := e.store.CompareAndSwapPhase(rm.ID, room.PhaseRoundSummary, room.PhaseGameOver); err != nil {
		return err
	}
	// the code is free for reuse the moment the game ends
	e.store.ReleaseCode(rm.ID)
	log.Info().Str("roomId", rm.ID).Str("code", rm.JoinCode).Msg("game over")
	if e.opts.ExportFile != "" {
		if err := e.exportResults(rm.ID, e.opts.ExportFile); err != nil {
			log.Error().Err(err).Str("roomId", rm.ID).Msg("scoreboard export failed")
		}
	}
	return nil
}

// logStale downgrades the losing side of a phase race to a debug line.
func logStale(err error, roomID, op string) bool {
	if errors.Is(err, room.ErrStaleWrite) || errors.Is(err, room.ErrRoomNotFound) {
		log.Debug().Str("roomId", roomID).Str("op", op).Msg("stale write discarded")
		return true
	}
	return false
}
