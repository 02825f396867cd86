package room

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomFull          = errors.New("room is at capacity")
	ErrPlayerNotFound    = errors.New("player not found")
	ErrDuplicateResponse = errors.New("player already responded this round")
	ErrStaleWrite        = errors.New("write references state that has moved on")
)

// Delta is one score/penalty/streak adjustment for one player, computed
// at round resolution. Score and Penalty are increments and never
// negative; Streak is set to an absolute value when SetStreak is true
// (a streak resets to zero on a wrong answer).
type Delta struct {
	PlayerID  string `json:"playerId"`
	Points    int    `json:"points"`
	Penalty   int    `json:"penalty"`
	Streak    int    `json:"streak"`
	SetStreak bool   `json:"setStreak"`
	Reason    string `json:"reason"`
}

type responseKey struct {
	roundIndex int
	playerID   string
}

// Store is durable keyed storage for Room, Player and Response records.
// Every mutation is published to the change feed before the call
// returns, so observers can re-derive their view within one
// notification round-trip.
type Store struct {
	mu        sync.RWMutex
	rooms     map[string]*Room
	byCode    map[string]string // joinCode -> roomID, active rooms only
	players   map[string]map[string]*Player
	responses map[string]map[responseKey]*Response
	feed      *Feed
}

func NewStore() *Store {
	return &Store{
		rooms:     make(map[string]*Room),
		byCode:    make(map[string]string),
		players:   make(map[string]map[string]*Player),
		responses: make(map[string]map[responseKey]*Response),
		feed:      NewFeed(),
	}
}

func (s *Store) Feed() *Feed { return s.feed }

func (s *Store) InsertRoom(r Room) {
	s.mu.Lock()
	cp := r
	s.rooms[r.ID] = &cp
	s.byCode[r.JoinCode] = r.ID
	s.players[r.ID] = make(map[string]*Player)
	s.responses[r.ID] = make(map[responseKey]*Response)
	s.mu.Unlock()
	s.feed.Publish(Event{Entity: EntityRoom, Op: OpInsert, RoomID: r.ID, NewValue: r})
}

func (s *Store) GetRoom(id string) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	return *r, nil
}

// GetRoomByCode resolves a join code against active rooms only. An
// expired or finished room no longer binds its code.
func (s *Store) GetRoomByCode(code string) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[code]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	r := s.rooms[id]
	if r == nil || !r.Active(time.Now()) {
		return Room{}, ErrRoomNotFound
	}
	return *r, nil
}

// CodeInUse reports whether code is bound to an active room.
func (s *Store) CodeInUse(code string) bool {
	_, err := s.GetRoomByCode(code)
	return err == nil
}

// UpdateRoom applies mutate to the room under the write lock. The
// round index may never decrease and phase changes must follow a legal
// edge; violations return ErrStaleWrite and leave the record untouched.
func (s *Store) UpdateRoom(id string, mutate func(*Room) error) (Room, error) {
	s.mu.Lock()
	r, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return Room{}, ErrRoomNotFound
	}
	next := *r
	if err := mutate(&next); err != nil {
		s.mu.Unlock()
		return Room{}, err
	}
	if next.RoundIndex < r.RoundIndex {
		s.mu.Unlock()
		return Room{}, ErrStaleWrite
	}
	if next.Phase != r.Phase && !ValidTransition(r.Phase, next.Phase) {
		s.mu.Unlock()
		return Room{}, ErrStaleWrite
	}
	*r = next
	out := *r
	s.mu.Unlock()
	s.feed.Publish(Event{Entity: EntityRoom, Op: OpUpdate, RoomID: id, NewValue: out})
	return out, nil
}

// CompareAndSwapPhase moves the room from one phase to another only if
// it is still in the expected phase. The losing side of a
// timeout/fast-path race sees ErrStaleWrite here and backs off.
func (s *Store) CompareAndSwapPhase(id string, from, to Phase) (Room, error) {
	return s.UpdateRoom(id, func(r *Room) error {
		if r.Phase != from {
			return ErrStaleWrite
		}
		r.Phase = to
		return nil
	})
}

// DeleteRoom removes the room and cascades its players and responses.
func (s *Store) DeleteRoom(id string) {
	s.mu.Lock()
	r, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if s.byCode[r.JoinCode] == id {
		delete(s.byCode, r.JoinCode)
	}
	delete(s.rooms, id)
	delete(s.players, id)
	delete(s.responses, id)
	s.mu.Unlock()
	s.feed.Publish(Event{Entity: EntityRoom, Op: OpDelete, RoomID: id})
}

// ReleaseCode unbinds the join code of a finished room so a later room
// may reuse it, without deleting the record.
func (s *Store) ReleaseCode(id string) {
	s.mu.Lock()
	if r, ok := s.rooms[id]; ok && s.byCode[r.JoinCode] == id {
		delete(s.byCode, r.JoinCode)
	}
	s.mu.Unlock()
}

// InsertPlayer adds p unless a player with the same deviceId already
// exists in the room, in which case the existing record is returned
// (the reconnect case). The game kind's capacity bound is enforced
// here, under the write lock.
func (s *Store) InsertPlayer(p Player) (Player, error) {
	s.mu.Lock()
	roster, ok := s.players[p.RoomID]
	if !ok {
		s.mu.Unlock()
		return Player{}, ErrRoomNotFound
	}
	for _, existing := range roster {
		if existing.DeviceID == p.DeviceID {
			out := *existing
			s.mu.Unlock()
			return out, nil
		}
	}
	if r := s.rooms[p.RoomID]; r != nil && len(roster) >= r.GameKind.Capacity() {
		s.mu.Unlock()
		return Player{}, ErrRoomFull
	}
	cp := p
	roster[p.ID] = &cp
	s.mu.Unlock()
	s.feed.Publish(Event{Entity: EntityPlayer, Op: OpInsert, RoomID: p.RoomID, NewValue: p})
	return p, nil
}

func (s *Store) GetPlayer(roomID, playerID string) (Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roster, ok := s.players[roomID]
	if !ok {
		return Player{}, ErrRoomNotFound
	}
	p, ok := roster[playerID]
	if !ok {
		return Player{}, ErrPlayerNotFound
	}
	return *p, nil
}

func (s *Store) UpdatePlayer(roomID, playerID string, mutate func(*Player)) (Player, error) {
	s.mu.Lock()
	roster, ok := s.players[roomID]
	if !ok {
		s.mu.Unlock()
		return Player{}, ErrRoomNotFound
	}
	p, ok := roster[playerID]
	if !ok {
		s.mu.Unlock()
		return Player{}, ErrPlayerNotFound
	}
	mutate(p)
	out := *p
	s.mu.Unlock()
	s.feed.Publish(Event{Entity: EntityPlayer, Op: OpUpdate, RoomID: roomID, NewValue: out})
	return out, nil
}

func (s *Store) DeletePlayer(roomID, playerID string) {
	s.mu.Lock()
	roster, ok := s.players[roomID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, ok := roster[playerID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(roster, playerID)
	s.mu.Unlock()
	s.feed.Publish(Event{Entity: EntityPlayer, Op: OpDelete, RoomID: roomID, NewValue: Player{ID: playerID, RoomID: roomID}})
}

// Players returns the room's roster ordered by join time.
func (s *Store) Players(roomID string) []Player {
	s.mu.RLock()
	roster := s.players[roomID]
	out := make([]Player, 0, len(roster))
	for _, p := range roster {
		out = append(out, *p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// InsertResponse appends one response. At most one response exists per
// (room, round, player); a second submission returns
// ErrDuplicateResponse and the stored first one wins.
func (s *Store) InsertResponse(resp Response) error {
	s.mu.Lock()
	byKey, ok := s.responses[resp.RoomID]
	if !ok {
		s.mu.Unlock()
		return ErrRoomNotFound
	}
	key := responseKey{roundIndex: resp.RoundIndex, playerID: resp.PlayerID}
	if _, exists := byKey[key]; exists {
		s.mu.Unlock()
		return ErrDuplicateResponse
	}
	cp := resp
	byKey[key] = &cp
	s.mu.Unlock()
	s.feed.Publish(Event{Entity: EntityResponse, Op: OpInsert, RoomID: resp.RoomID, NewValue: resp})
	return nil
}

// Responses returns all responses for one round of a room.
func (s *Store) Responses(roomID string, roundIndex int) []Response {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Response{}
	for key, resp := range s.responses[roomID] {
		if key.roundIndex == roundIndex {
			out = append(out, *resp)
		}
	}
	return out
}

// ApplyDeltas applies one round's full delta set as a single unit under
// the write lock, so observers never see a partially resolved round.
func (s *Store) ApplyDeltas(roomID string, deltas []Delta) error {
	s.mu.Lock()
	roster, ok := s.players[roomID]
	if !ok {
		s.mu.Unlock()
		return ErrRoomNotFound
	}
	touched := make(map[string]bool)
	for _, d := range deltas {
		p, ok := roster[d.PlayerID]
		if !ok {
			continue // player left mid-round; their delta is moot
		}
		p.Score += d.Points
		p.PenaltyCount += d.Penalty
		if d.SetStreak {
			p.Streak = d.Streak
		}
		touched[d.PlayerID] = true
	}
	updated := make([]Player, 0, len(touched))
	for id := range touched {
		updated = append(updated, *roster[id])
	}
	s.mu.Unlock()
	for _, p := range updated {
		s.feed.Publish(Event{Entity: EntityPlayer, Op: OpUpdate, RoomID: roomID, NewValue: p})
	}
	return nil
}

// ExpiredRooms lists ids of rooms past their expiry at the given time.
func (s *Store) ExpiredRooms(now time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, r := range s.rooms {
		if now.After(r.ExpiresAt) {
			out = append(out, id)
		}
	}
	return out
}

// Rooms lists all rooms, for the reaper and diagnostics.
func (s *Store) Rooms() []Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, *r)
	}
	return out
}
