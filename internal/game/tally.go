package game

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/saludapp/salud/internal/catalog"
	"github.com/saludapp/salud/internal/room"
)

// window is the host-side state of one response window. The expected
// responder set is snapshotted at window start: a player joining
// mid-window neither grows the quorum denominator nor submits for the
// in-flight round; their first scoring round is the next one.
type window struct {
	roomID     string
	roundIndex int
	prompt     catalog.Prompt
	expected   map[string]bool
	openedAt   time.Time
	windowMs   int64
	cancelFeed func()

	mu       sync.Mutex
	resolved bool

	// confession branch state
	spotlightID  string
	jurors       map[string]bool
	verdicts     map[string]string
	juryTimer    *time.Timer
	juryResolved bool
}

// startWindow opens the response window for the room's current round:
// it snapshots the quorum, starts the countdown and subscribes to the
// change feed so the fast path can race the clock.
func (e *Engine) startWindow(rm room.Room) error {
	prompt, ok := e.catalog.Get(rm.CurrentPromptID())
	if !ok {
		return ErrUnknownKind
	}
	expected := make(map[string]bool)
	for _, p := range e.store.Players(rm.ID) {
		expected[p.ID] = true
	}

	events, cancel := e.store.Feed().Subscribe(rm.ID)
	w := &window{
		roomID:     rm.ID,
		roundIndex: rm.RoundIndex,
		prompt:     prompt,
		expected:   expected,
		openedAt:   time.Now().UTC(),
		windowMs:   prompt.Window(),
		cancelFeed: cancel,
	}
	e.mu.Lock()
	e.windows[rm.ID] = w
	e.mu.Unlock()

	go e.runWindow(w, events)
	log.Info().Str("roomId", rm.ID).Int("round", rm.RoundIndex).Int64("windowMs", w.windowMs).Int("expected", len(expected)).Msg("response window open")
	return nil
}

// runWindow races the countdown against the fast path. Whichever fires
// first resolves the round; the loser is cancelled, and both converge
// on the same resolve entry point.
func (e *Engine) runWindow(w *window, events <-chan room.Event) {
	timer := time.NewTimer(time.Duration(w.windowMs) * time.Millisecond)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			e.resolveRound(w, "timeout")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Entity == room.EntityRoom && ev.Op == room.OpDelete {
				e.closeWindow(w.roomID)
				return
			}
			if ev.Entity == room.EntityResponse && ev.Op == room.OpInsert && e.quorumReached(w) {
				e.resolveRound(w, "fastpath")
				return
			}
		}
	}
}

// quorumReached re-reads the store rather than trusting the event
// payload; notifications are triggers, not state.
func (e *Engine) quorumReached(w *window) bool {
	got := 0
	for _, resp := range e.store.Responses(w.roomID, w.roundIndex) {
		if w.expected[resp.PlayerID] {
			got++
		}
	}
	return got >= len(w.expected)
}

// SubmitResponse records a player's choice for the current round.
// Submitting twice is a no-op: the stored first response wins and
// ErrDuplicateResponse is returned so the transport can say so.
func (e *Engine) SubmitResponse(roomID, playerID, choice string) (room.Response, error) {
	rm, err := e.store.GetRoom(roomID)
	if err != nil {
		return room.Response{}, err
	}
	if rm.Phase != room.PhaseResponseWindow {
		return room.Response{}, ErrInvalidPhase
	}
	w := e.windowFor(roomID)
	if w == nil || w.roundIndex != rm.RoundIndex {
		return room.Response{}, ErrStaleWrite
	}
	if !w.expected[playerID] {
		// joined mid-window; they play from the next round on
		return room.Response{}, ErrInvalidPhase
	}
	if _, err := e.store.GetPlayer(roomID, playerID); err != nil {
		return room.Response{}, err
	}

	now := time.Now().UTC()
	resp := room.Response{
		ID:          uuid.NewString(),
		RoomID:      roomID,
		RoundIndex:  rm.RoundIndex,
		PlayerID:    playerID,
		Choice:      choice,
		ElapsedMs:   now.Sub(w.openedAt).Milliseconds(),
		IsCorrect:   w.prompt.Correct != "" && choice == w.prompt.Correct,
		SubmittedAt: now,
	}
	// insert under the window lock; resolution takes the same lock
	// first, so no response lands after the tally snapshot
	w.mu.Lock()
	if w.resolved {
		w.mu.Unlock()
		return room.Response{}, ErrStaleWrite
	}
	err = e.store.InsertResponse(resp)
	w.mu.Unlock()
	if err != nil {
		return room.Response{}, err
	}
	return resp, nil
}

// resolveRound is the single resolution entry point shared by the
// timeout and fast paths. The latch plus the phase CAS make it fire
// exactly once per window no matter which trigger wins the race.
func (e *Engine) resolveRound(w *window, via string) {
	w.mu.Lock()
	if w.resolved {
		w.mu.Unlock()
		return
	}
	w.resolved = true
	w.mu.Unlock()
	w.cancelFeed()

	if _, err := e.store.CompareAndSwapPhase(w.roomID, room.PhaseResponseWindow, room.PhaseResolution); err != nil {
		logStale(err, w.roomID, "resolve")
		e.closeWindow(w.roomID)
		return
	}

	rm, err := e.store.GetRoom(w.roomID)
	if err != nil {
		e.closeWindow(w.roomID)
		return
	}
	outcome := e.scoreWindow(rm, w, nil)
	if err := e.store.ApplyDeltas(w.roomID, outcome.Deltas); err != nil {
		log.Error().Err(err).Str("roomId", w.roomID).Msg("delta application failed")
	}
	e.setResult(w.roomID, RoundResult{
		RoundIndex:  w.roundIndex,
		Via:         via,
		Deltas:      outcome.Deltas,
		Winners:     outcome.Winners,
		SpotlightID: outcome.SpotlightID,
	})
	log.Info().Str("roomId", w.roomID).Int("round", w.roundIndex).Str("via", via).Int("deltas", len(outcome.Deltas)).Msg("round resolved")

	if outcome.SpotlightID != "" {
		e.enterSpotlight(w, outcome.SpotlightID)
		return
	}
	if _, err := e.store.CompareAndSwapPhase(w.roomID, room.PhaseResolution, room.PhaseRoundSummary); err != nil {
		logStale(err, w.roomID, "summary")
	}
	e.closeWindow(w.roomID)
}

// scoreWindow builds the ruleset input from the window snapshot and
// current store state. Only expected responders count; a response from
// anyone else never reaches the input.
func (e *Engine) scoreWindow(rm room.Room, w *window, verdicts map[string]string) Outcome {
	players := []room.Player{}
	for _, p := range e.store.Players(w.roomID) {
		if w.expected[p.ID] {
			players = append(players, p)
		}
	}
	responses := []room.Response{}
	for _, resp := range e.store.Responses(w.roomID, w.roundIndex) {
		if w.expected[resp.PlayerID] {
			responses = append(responses, resp)
		}
	}
	rs, err := RulesFor(rm.GameKind)
	if err != nil {
		return Outcome{}
	}
	return rs.Score(RoundInput{
		Players:       players,
		Responses:     responses,
		WindowMs:      w.windowMs,
		CorrectOption: w.prompt.Correct,
		JuryVerdicts:  verdicts,
		SpotlightID:   w.spotlightID,
	})
}

// enterSpotlight routes the room through the timed "explain yourself"
// sub-phase. The spotlight ends on its own clock, or earlier when the
// host advances.
func (e *Engine) enterSpotlight(w *window, spotlightID string) {
	w.mu.Lock()
	w.spotlightID = spotlightID
	w.mu.Unlock()

	if _, err := e.store.CompareAndSwapPhase(w.roomID, room.PhaseResolution, room.PhaseSpotlight); err != nil {
		logStale(err, w.roomID, "spotlight")
		e.closeWindow(w.roomID)
		return
	}
	log.Info().Str("roomId", w.roomID).Str("playerId", spotlightID).Msg("spotlight on")
	time.AfterFunc(time.Duration(e.opts.SpotlightMs)*time.Millisecond, func() {
		if err := e.beginJury(w.roomID); err != nil {
			logStale(err, w.roomID, "jury")
		}
	})
}

// beginJury moves Spotlight -> JuryVote and opens the jury window over
// everyone except the spotlighted player. Idempotent: whichever of the
// spotlight timer and the host's advance gets here first wins the CAS.
func (e *Engine) beginJury(roomID string) error {
	w := e.windowFor(roomID)
	if w == nil {
		return ErrInvalidPhase
	}
	if _, err := e.store.CompareAndSwapPhase(roomID, room.PhaseSpotlight, room.PhaseJuryVote); err != nil {
		return err
	}

	w.mu.Lock()
	w.jurors = make(map[string]bool)
	for id := range w.expected {
		if id != w.spotlightID {
			w.jurors[id] = true
		}
	}
	w.verdicts = make(map[string]string)
	w.juryTimer = time.AfterFunc(time.Duration(e.opts.JuryMs)*time.Millisecond, func() {
		e.resolveJury(w, "timeout")
	})
	w.mu.Unlock()
	log.Info().Str("roomId", roomID).Int("jurors", len(w.jurors)).Msg("jury vote open")
	return nil
}

// SubmitJuryVote records one juror's verdict. When the last juror has
// voted the jury resolves immediately, same fast path as the main
// window.
func (e *Engine) SubmitJuryVote(roomID, playerID, verdict string) error {
	rm, err := e.store.GetRoom(roomID)
	if err != nil {
		return err
	}
	if rm.Phase != room.PhaseJuryVote {
		return ErrInvalidPhase
	}
	if verdict != VerdictGood && verdict != VerdictBoring {
		return ErrInvalidPhase
	}
	w := e.windowFor(roomID)
	if w == nil {
		return ErrStaleWrite
	}

	w.mu.Lock()
	if !w.jurors[playerID] {
		w.mu.Unlock()
		return ErrInvalidPhase
	}
	if _, voted := w.verdicts[playerID]; voted {
		w.mu.Unlock()
		return ErrDuplicateResponse
	}
	w.verdicts[playerID] = verdict
	done := len(w.verdicts) >= len(w.jurors)
	w.mu.Unlock()

	if done {
		e.resolveJury(w, "fastpath")
	}
	return nil
}

func (e *Engine) resolveJury(w *window, via string) {
	w.mu.Lock()
	if w.juryResolved {
		w.mu.Unlock()
		return
	}
	w.juryResolved = true
	if w.juryTimer != nil {
		w.juryTimer.Stop()
	}
	verdicts := make(map[string]string, len(w.verdicts))
	for k, v := range w.verdicts {
		verdicts[k] = v
	}
	spotlightID := w.spotlightID
	w.mu.Unlock()

	rm, err := e.store.GetRoom(w.roomID)
	if err != nil {
		e.closeWindow(w.roomID)
		return
	}
	outcome := e.scoreWindow(rm, w, verdicts)
	if err := e.store.ApplyDeltas(w.roomID, outcome.Deltas); err != nil {
		log.Error().Err(err).Str("roomId", w.roomID).Msg("jury delta application failed")
	}
	e.setResult(w.roomID, RoundResult{
		RoundIndex:  w.roundIndex,
		Via:         via,
		Deltas:      outcome.Deltas,
		SpotlightID: spotlightID,
	})
	if _, err := e.store.CompareAndSwapPhase(w.roomID, room.PhaseJuryVote, room.PhaseRoundSummary); err != nil {
		logStale(err, w.roomID, "jury summary")
	}
	log.Info().Str("roomId", w.roomID).Str("via", via).Msg("jury resolved")
	e.closeWindow(w.roomID)
}

// closeWindow drops the room's window state and its feed subscription.
func (e *Engine) closeWindow(roomID string) {
	e.mu.Lock()
	w := e.windows[roomID]
	delete(e.windows, roomID)
	e.mu.Unlock()
	if w == nil {
		return
	}
	w.cancelFeed()
	w.mu.Lock()
	if w.juryTimer != nil {
		w.juryTimer.Stop()
	}
	w.mu.Unlock()
}
