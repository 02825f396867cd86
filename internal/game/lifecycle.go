package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/saludapp/salud/internal/room"
)

// CreateRoom allocates a fresh join code, persists the room in Waiting
// and registers the creating device as the host player. The round
// order is drawn once here so every player sees the same prompt each
// round.
func (e *Engine) CreateRoom(kind room.GameKind, rounds int, displayName, avatarToken, deviceID string) (room.Room, room.Player, error) {
	if !kind.Valid() {
		return room.Room{}, room.Player{}, ErrUnknownKind
	}
	if rounds <= 0 {
		rounds = e.opts.DefaultRounds
	}
	order := e.catalog.RoundOrder(kind, rounds)
	if len(order) == 0 {
		return room.Room{}, room.Player{}, fmt.Errorf("no prompts for kind %q: %w", kind, ErrUnknownKind)
	}

	now := time.Now().UTC()
	rm := room.Room{
		ID:             uuid.NewString(),
		JoinCode:       e.allocateCode(),
		GameKind:       kind,
		Phase:          room.PhaseWaiting,
		RoundIndex:     0,
		RoundOrder:     order,
		CreatedAt:      now,
		ExpiresAt:      now.Add(e.opts.RoomTTL),
		HostToken:      uuid.NewString(),
		HostLeaseUntil: now.Add(e.opts.HostLease),
	}
	e.store.InsertRoom(rm)

	host := room.Player{
		ID:          uuid.NewString(),
		RoomID:      rm.ID,
		DeviceID:    deviceID,
		DisplayName: displayName,
		AvatarToken: avatarToken,
		IsHost:      true,
		JoinedAt:    now,
	}
	host, err := e.store.InsertPlayer(host)
	if err != nil {
		return room.Room{}, room.Player{}, err
	}
	log.Info().Str("roomId", rm.ID).Str("code", rm.JoinCode).Str("kind", string(kind)).Int("rounds", len(order)).Msg("room created")
	return rm, host, nil
}

// allocateCode picks a short human-entry code, regenerated on collision
// against currently-active rooms only. Codes of finished or expired
// rooms are fair game.
func (e *Engine) allocateCode() string {
	for {
		code := fmt.Sprintf("%04d", rand.Intn(10000))
		if !e.store.CodeInUse(code) {
			return code
		}
	}
}

// JoinRoom admits a player by join code. A device already present in
// the room gets its existing player back (the reconnect case).
func (e *Engine) JoinRoom(joinCode, displayName, avatarToken, deviceID string) (room.Player, room.Room, error) {
	rm, err := e.store.GetRoomByCode(joinCode)
	if err != nil {
		return room.Player{}, room.Room{}, ErrRoomNotFound
	}

	roster := e.store.Players(rm.ID)
	for _, p := range roster {
		if p.DeviceID == deviceID {
			return p, rm, nil
		}
	}
	// fast path; the store re-checks under its write lock
	if len(roster) >= rm.GameKind.Capacity() {
		return room.Player{}, room.Room{}, ErrRoomFull
	}

	p := room.Player{
		ID:          uuid.NewString(),
		RoomID:      rm.ID,
		DeviceID:    deviceID,
		DisplayName: displayName,
		AvatarToken: avatarToken,
		JoinedAt:    time.Now().UTC(),
	}
	p, err = e.store.InsertPlayer(p)
	if err != nil {
		return room.Player{}, room.Room{}, err
	}
	log.Info().Str("roomId", rm.ID).Str("playerId", p.ID).Str("name", displayName).Msg("player joined")
	return p, rm, nil
}

// LeaveOrDisband removes a guest's own player record; the host leaving
// disbands the whole room.
func (e *Engine) LeaveOrDisband(roomID, playerID string) error {
	p, err := e.store.GetPlayer(roomID, playerID)
	if err != nil {
		return err
	}
	if p.IsHost {
		e.Disband(roomID)
		return nil
	}
	e.store.DeletePlayer(roomID, playerID)
	return nil
}

// Disband deletes the room and everything in it.
func (e *Engine) Disband(roomID string) {
	e.closeWindow(roomID)
	e.mu.Lock()
	delete(e.results, roomID)
	e.mu.Unlock()
	e.store.DeleteRoom(roomID)
	log.Info().Str("roomId", roomID).Msg("room disbanded")
}

// Heartbeat renews the host lease. Only the host token may do so.
func (e *Engine) Heartbeat(roomID, hostToken string) error {
	_, err := e.store.UpdateRoom(roomID, func(r *room.Room) error {
		if r.HostToken != hostToken {
			return ErrNotHost
		}
		r.HostLeaseUntil = time.Now().UTC().Add(e.opts.HostLease)
		return nil
	})
	return err
}

// StartReaper expires stale rooms and re-elects hosts whose lease has
// lapsed, on the given interval, until ctx is done.
func (e *Engine) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.reap(time.Now().UTC())
			}
		}
	}()
}

func (e *Engine) reap(now time.Time) {
	for _, id := range e.store.ExpiredRooms(now) {
		log.Info().Str("roomId", id).Msg("room expired")
		e.Disband(id)
	}
	for _, rm := range e.store.Rooms() {
		if rm.Phase.Terminal() || now.Before(rm.HostLeaseUntil) {
			continue
		}
		e.promoteHost(rm, now)
	}
}

// promoteHost hands the room to the earliest-joined remaining guest
// when the host device has gone silent past its lease, so the room
// cannot stall mid-round. With nobody left to promote, the room is
// disbanded.
func (e *Engine) promoteHost(rm room.Room, now time.Time) {
	var oldHost *room.Player
	var next *room.Player
	for _, p := range e.store.Players(rm.ID) {
		p := p
		if p.IsHost {
			oldHost = &p
		} else if next == nil {
			next = &p
		}
	}
	if next == nil {
		e.Disband(rm.ID)
		return
	}
	// the lapsed host stays on the scoreboard, just without the role
	if oldHost != nil {
		if _, err := e.store.UpdatePlayer(rm.ID, oldHost.ID, func(p *room.Player) { p.IsHost = false }); err != nil {
			log.Error().Err(err).Str("roomId", rm.ID).Msg("host demotion failed")
			return
		}
	}
	if _, err := e.store.UpdatePlayer(rm.ID, next.ID, func(p *room.Player) { p.IsHost = true }); err != nil {
		log.Error().Err(err).Str("roomId", rm.ID).Msg("host promotion failed")
		return
	}
	_, err := e.store.UpdateRoom(rm.ID, func(r *room.Room) error {
		r.HostToken = uuid.NewString()
		r.HostLeaseUntil = now.Add(e.opts.HostLease)
		return nil
	})
	if err != nil && !errors.Is(err, room.ErrRoomNotFound) {
		log.Error().Err(err).Str("roomId", rm.ID).Msg("host token rotation failed")
		return
	}
	log.Info().Str("roomId", rm.ID).Str("playerId", next.ID).Msg("host lease lapsed, promoted new host")
}
