// Package ws is the transport glue: socket.io events in, change-feed
// driven state fan-out back. Clients never mutate authoritative state
// directly; they emit intents and re-render from room:state.
package ws

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/rs/zerolog/log"

	"github.com/saludapp/salud/internal/game"
	"github.com/saludapp/salud/internal/room"
)

// ConnCtx identifies one connected device for the lifetime of its
// socket. Role is derived from the player record, not stored here, so
// a mid-game host promotion takes effect without a reconnect.
type ConnCtx struct {
	RoomID   string
	PlayerID string
	DeviceID string
	Locale   string
}

type Server struct {
	engine *game.Engine

	mu      sync.Mutex
	members map[string]map[string]socketio.Conn // roomID -> socketID -> conn
	feeds   map[string]func()                   // roomID -> feed cancel
}

func New(engine *game.Engine) *Server {
	return &Server{
		engine:  engine,
		members: make(map[string]map[string]socketio.Conn),
		feeds:   make(map[string]func()),
	}
}

// Mount attaches the socket.io server with all event handlers to the
// given gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)

	io.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(&ConnCtx{})
		log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	io.OnEvent("/", "room:create", func(s socketio.Conn, payload struct {
		GameKind    string `json:"gameKind"`
		Rounds      int    `json:"rounds"`
		Name        string `json:"name"`
		AvatarToken string `json:"avatarToken"`
		DeviceID    string `json:"deviceId"`
		Locale      string `json:"locale"`
	}) map[string]any {
		rm, host, err := srv.engine.CreateRoom(room.GameKind(payload.GameKind), payload.Rounds, payload.Name, payload.AvatarToken, payload.DeviceID)
		if err != nil {
			return srv.err(s, err)
		}
		s.SetContext(&ConnCtx{RoomID: rm.ID, PlayerID: host.ID, DeviceID: payload.DeviceID, Locale: payload.Locale})
		s.Join(rm.ID)
		srv.addMember(rm.ID, s)
		log.Info().Str("sid", s.ID()).Str("roomId", rm.ID).Str("code", rm.JoinCode).Msg("room:create")
		srv.emitState(rm.ID)
		return map[string]any{"roomId": rm.ID, "joinCode": rm.JoinCode, "playerId": host.ID, "hostToken": rm.HostToken}
	})

	io.OnEvent("/", "room:join", func(s socketio.Conn, payload struct {
		JoinCode    string `json:"joinCode"`
		Name        string `json:"name"`
		AvatarToken string `json:"avatarToken"`
		DeviceID    string `json:"deviceId"`
		Locale      string `json:"locale"`
	}) map[string]any {
		p, rm, err := srv.engine.JoinRoom(payload.JoinCode, payload.Name, payload.AvatarToken, payload.DeviceID)
		if err != nil {
			return srv.err(s, err)
		}
		s.SetContext(&ConnCtx{RoomID: rm.ID, PlayerID: p.ID, DeviceID: payload.DeviceID, Locale: payload.Locale})
		s.Join(rm.ID)
		srv.addMember(rm.ID, s)
		log.Info().Str("sid", s.ID()).Str("roomId", rm.ID).Str("playerId", p.ID).Msg("room:join")
		srv.emitState(rm.ID)
		return map[string]any{"roomId": rm.ID, "playerId": p.ID}
	})

	// Reconnection: the deviceId is the capability that finds the
	// player again.
	io.OnEvent("/", "room:resume", func(s socketio.Conn, payload struct {
		RoomID   string `json:"roomId"`
		DeviceID string `json:"deviceId"`
		Locale   string `json:"locale"`
	}) map[string]any {
		rm, err := srv.engine.Store().GetRoom(payload.RoomID)
		if err != nil {
			return srv.err(s, err)
		}
		var me *room.Player
		for _, p := range srv.engine.Store().Players(rm.ID) {
			if p.DeviceID == payload.DeviceID {
				p := p
				me = &p
				break
			}
		}
		if me == nil {
			return srv.err(s, room.ErrPlayerNotFound)
		}
		s.SetContext(&ConnCtx{RoomID: rm.ID, PlayerID: me.ID, DeviceID: payload.DeviceID, Locale: payload.Locale})
		s.Join(rm.ID)
		srv.addMember(rm.ID, s)
		log.Info().Str("sid", s.ID()).Str("roomId", rm.ID).Str("playerId", me.ID).Msg("room:resume")
		srv.emitState(rm.ID)
		return map[string]any{"roomId": rm.ID, "playerId": me.ID}
	})

	io.OnEvent("/", "room:submit", func(s socketio.Conn, payload struct {
		Choice string `json:"choice"`
	}) map[string]any {
		ctx := s.Context().(*ConnCtx)
		resp, err := srv.engine.SubmitResponse(ctx.RoomID, ctx.PlayerID, payload.Choice)
		if err != nil {
			return srv.err(s, err)
		}
		log.Info().Str("roomId", ctx.RoomID).Str("playerId", ctx.PlayerID).Msg("room:submit")
		return map[string]any{"responseId": resp.ID}
	})

	io.OnEvent("/", "room:jury", func(s socketio.Conn, payload struct {
		Verdict string `json:"verdict"`
	}) map[string]any {
		ctx := s.Context().(*ConnCtx)
		if err := srv.engine.SubmitJuryVote(ctx.RoomID, ctx.PlayerID, payload.Verdict); err != nil {
			return srv.err(s, err)
		}
		return map[string]any{"ok": true}
	})

	// Host-only intents. The transport narrows the command set: a
	// guest connection never gets the host token forwarded.
	io.OnEvent("/", "room:advance", func(s socketio.Conn) map[string]any {
		ctx := s.Context().(*ConnCtx)
		token, err := srv.hostTokenFor(ctx)
		if err != nil {
			return srv.err(s, err)
		}
		if err := srv.engine.Advance(ctx.RoomID, token); err != nil {
			return srv.err(s, err)
		}
		log.Info().Str("roomId", ctx.RoomID).Msg("room:advance")
		return map[string]any{"ok": true}
	})

	io.OnEvent("/", "room:heartbeat", func(s socketio.Conn) map[string]any {
		ctx := s.Context().(*ConnCtx)
		token, err := srv.hostTokenFor(ctx)
		if err != nil {
			return srv.err(s, err)
		}
		if err := srv.engine.Heartbeat(ctx.RoomID, token); err != nil {
			return srv.err(s, err)
		}
		return map[string]any{"ok": true}
	})

	io.OnEvent("/", "room:leave", func(s socketio.Conn) map[string]any {
		ctx := s.Context().(*ConnCtx)
		if ctx.RoomID == "" {
			return map[string]any{"ok": true}
		}
		if err := srv.engine.LeaveOrDisband(ctx.RoomID, ctx.PlayerID); err != nil {
			return srv.err(s, err)
		}
		srv.removeMember(ctx.RoomID, s)
		s.Leave(ctx.RoomID)
		s.SetContext(&ConnCtx{DeviceID: ctx.DeviceID, Locale: ctx.Locale})
		return map[string]any{"ok": true}
	})

	io.OnError("/", func(s socketio.Conn, e error) {
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		if ctx, ok := s.Context().(*ConnCtx); ok && ctx.RoomID != "" {
			srv.removeMember(ctx.RoomID, s)
		}
		log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	go io.Serve()

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})

	return io
}

// hostTokenFor forwards the room's host token only when the calling
// connection's player currently holds the host role. This is what
// makes host authority an enforced invariant rather than a convention.
func (srv *Server) hostTokenFor(ctx *ConnCtx) (string, error) {
	p, err := srv.engine.Store().GetPlayer(ctx.RoomID, ctx.PlayerID)
	if err != nil {
		return "", err
	}
	if !p.IsHost {
		return "", game.ErrNotHost
	}
	rm, err := srv.engine.Store().GetRoom(ctx.RoomID)
	if err != nil {
		return "", err
	}
	return rm.HostToken, nil
}

// addMember tracks the connection and lazily starts the room's feed
// pump, which re-emits state on every change notification.
func (srv *Server) addMember(roomID string, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.members[roomID] == nil {
		srv.members[roomID] = make(map[string]socketio.Conn)
	}
	srv.members[roomID][c.ID()] = c
	if _, running := srv.feeds[roomID]; !running {
		events, cancel := srv.engine.Store().Feed().Subscribe(roomID)
		srv.feeds[roomID] = cancel
		go srv.pumpFeed(roomID, events)
	}
}

func (srv *Server) removeMember(roomID string, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if m := srv.members[roomID]; m != nil {
		delete(m, c.ID())
		if len(m) == 0 {
			delete(srv.members, roomID)
			if cancel := srv.feeds[roomID]; cancel != nil {
				cancel()
				delete(srv.feeds, roomID)
			}
		}
	}
}

// pumpFeed turns change notifications into state emits. The payload is
// always re-read from the store; the event is only the trigger.
func (srv *Server) pumpFeed(roomID string, events <-chan room.Event) {
	for ev := range events {
		if ev.Entity == room.EntityRoom && ev.Op == room.OpDelete {
			srv.broadcast(roomID, "room:closed", map[string]any{"roomId": roomID})
			srv.dropRoom(roomID)
			return
		}
		srv.emitState(roomID)
	}
}

func (srv *Server) dropRoom(roomID string) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	delete(srv.members, roomID)
	if cancel := srv.feeds[roomID]; cancel != nil {
		cancel()
		delete(srv.feeds, roomID)
	}
}

func (srv *Server) broadcast(roomID, event string, payload any) {
	srv.mu.Lock()
	conns := make([]socketio.Conn, 0, len(srv.members[roomID]))
	for _, c := range srv.members[roomID] {
		conns = append(conns, c)
	}
	srv.mu.Unlock()
	for _, c := range conns {
		c.Emit(event, payload)
	}
}

// emitState sends each connection a personalized snapshot of the room.
// Authoritative fields (phase, scores, penalties) only ever reach a
// client through here, never through an optimistic local echo.
func (srv *Server) emitState(roomID string) {
	store := srv.engine.Store()
	rm, err := store.GetRoom(roomID)
	if err != nil {
		return
	}
	players := store.Players(roomID)

	var promptView map[string]any
	if prompt, ok := srv.engine.Catalog().Get(rm.CurrentPromptID()); ok && rm.Phase != room.PhaseWaiting {
		promptView = map[string]any{
			"id":       prompt.ID,
			"options":  prompt.Options,
			"windowMs": prompt.Window(),
		}
		// the right answer is only revealed once the round is settled
		if rm.Phase == room.PhaseRoundSummary || rm.Phase == room.PhaseGameOver {
			promptView["correct"] = prompt.Correct
		}
	}

	var result any
	if res, ok := srv.engine.LastResult(roomID); ok {
		result = res
	}

	responded := []string{}
	for _, resp := range store.Responses(roomID, rm.RoundIndex) {
		responded = append(responded, resp.PlayerID)
	}

	srv.mu.Lock()
	conns := make([]socketio.Conn, 0, len(srv.members[roomID]))
	for _, c := range srv.members[roomID] {
		conns = append(conns, c)
	}
	srv.mu.Unlock()

	for _, c := range conns {
		ctx, _ := c.Context().(*ConnCtx)
		if ctx == nil {
			continue
		}
		you := map[string]any{"playerId": ctx.PlayerID}
		for _, p := range players {
			if p.ID == ctx.PlayerID {
				you["isHost"] = p.IsHost
				if p.IsHost {
					// a freshly promoted host learns its token here
					you["hostToken"] = rm.HostToken
				}
			}
		}
		pv := promptView
		if pv != nil {
			if prompt, ok := srv.engine.Catalog().Get(rm.CurrentPromptID()); ok {
				pv = cloneView(promptView)
				pv["text"] = prompt.Localized(ctx.Locale)
			}
		}
		c.Emit("room:state", map[string]any{
			"room":      rm,
			"players":   players,
			"prompt":    pv,
			"responded": responded,
			"result":    result,
			"you":       you,
		})
	}
}

func cloneView(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// err maps engine errors to the wire taxonomy and surfaces them to the
// offending client only.
func (srv *Server) err(s socketio.Conn, err error) map[string]any {
	code := "internal"
	switch {
	case errors.Is(err, game.ErrRoomNotFound):
		code = "room_not_found"
	case errors.Is(err, game.ErrRoomFull):
		code = "room_full"
	case errors.Is(err, game.ErrDuplicateResponse):
		code = "duplicate_response"
	case errors.Is(err, game.ErrStaleWrite):
		code = "stale_write"
	case errors.Is(err, game.ErrNotHost):
		code = "not_host"
	case errors.Is(err, game.ErrInvalidPhase):
		code = "invalid_phase"
	case errors.Is(err, game.ErrGameOver):
		code = "game_over"
	case errors.Is(err, game.ErrUnknownKind):
		code = "unknown_kind"
	case errors.Is(err, room.ErrPlayerNotFound):
		code = "player_not_found"
	}
	s.Emit("error", map[string]any{"code": code, "message": err.Error()})
	return map[string]any{"error": code}
}
