package room

import (
	"time"
)

// Phase is a room's current stage in the per-round state machine.
type Phase string

const (
	PhaseWaiting        Phase = "Waiting"
	PhasePrompt         Phase = "Prompt"
	PhaseResponseWindow Phase = "ResponseWindow"
	PhaseResolution     Phase = "Resolution"
	PhaseSpotlight      Phase = "Spotlight"
	PhaseJuryVote       Phase = "JuryVote"
	PhaseRoundSummary   Phase = "RoundSummary"
	PhaseGameOver       Phase = "GameOver"
)

// transitions is the set of legal phase edges. Anything not listed is
// rejected by the store, regardless of who asks.
var transitions = map[Phase][]Phase{
	PhaseWaiting:        {PhasePrompt, PhaseResponseWindow},
	PhasePrompt:         {PhaseResponseWindow},
	PhaseResponseWindow: {PhaseResolution},
	PhaseResolution:     {PhaseSpotlight, PhaseRoundSummary},
	PhaseSpotlight:      {PhaseJuryVote},
	PhaseJuryVote:       {PhaseRoundSummary},
	PhaseRoundSummary:   {PhasePrompt, PhaseResponseWindow, PhaseGameOver},
}

// ValidTransition reports whether from -> to is a legal phase edge.
func ValidTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (p Phase) Terminal() bool { return p == PhaseGameOver }

// GameKind identifies which mini-game ruleset applies to a room.
type GameKind string

const (
	// KindTrivia awards points for correct answers with a speed bonus;
	// wrong answers drink.
	KindTrivia GameKind = "trivia"
	// KindTriviaRoyale is trivia where additionally the slowest correct
	// answer drinks.
	KindTriviaRoyale GameKind = "triviaroyale"
	// KindDilemma is a binary choice; the minority drinks, everyone
	// drinks on a tie.
	KindDilemma GameKind = "dilemma"
	// KindConfession is guilty/innocent with a spotlight + jury branch
	// when exactly one player confesses.
	KindConfession GameKind = "confession"
	// KindMostLikely has everyone vote for a player; cumulative votes
	// decide the end-of-game superlatives.
	KindMostLikely GameKind = "mostlikely"
)

// HasPromptPhase reports whether the kind separates "read it" from
// "answer it". Only confession has the separate beat; the rest show
// prompt and countdown at once.
func (k GameKind) HasPromptPhase() bool {
	return k == KindConfession
}

// Capacity is the maximum player count for the kind.
func (k GameKind) Capacity() int {
	return 8
}

// WindowMs is the default response window duration for the kind.
func (k GameKind) WindowMs() int64 {
	switch k {
	case KindMostLikely:
		return 7000
	case KindDilemma, KindConfession:
		return 10000
	default:
		return 15000
	}
}

func (k GameKind) Valid() bool {
	switch k {
	case KindTrivia, KindTriviaRoyale, KindDilemma, KindConfession, KindMostLikely:
		return true
	}
	return false
}

// Room is one play session, identified by a short join code and owned
// by exactly one host device.
type Room struct {
	ID         string    `json:"id"`
	JoinCode   string    `json:"joinCode"`
	GameKind   GameKind  `json:"gameKind"`
	Phase      Phase     `json:"phase"`
	RoundIndex int       `json:"roundIndex"`
	RoundOrder []string  `json:"roundOrder"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`

	// Host authority: every phase-advancing or score-writing call must
	// present HostToken. The lease lets the reaper re-elect a host when
	// the owning device goes silent mid-game.
	HostToken      string    `json:"-"`
	HostLeaseUntil time.Time `json:"-"`
}

// Active reports whether the room still binds its join code.
func (r *Room) Active(now time.Time) bool {
	return r.Phase != PhaseGameOver && now.Before(r.ExpiresAt)
}

// CurrentPromptID returns the prompt id for the current round.
func (r *Room) CurrentPromptID() string {
	if r.RoundIndex < 0 || r.RoundIndex >= len(r.RoundOrder) {
		return ""
	}
	return r.RoundOrder[r.RoundIndex]
}

// LastRound reports whether the current round is the final one.
func (r *Room) LastRound() bool {
	return r.RoundIndex >= len(r.RoundOrder)-1
}

// Player is one participant in a room. DeviceID is a client-generated
// pseudonymous identity, stable across reconnects; it is a capability
// scoped to this room, not a verified identity.
type Player struct {
	ID           string    `json:"id"`
	RoomID       string    `json:"roomId"`
	DeviceID     string    `json:"-"`
	DisplayName  string    `json:"displayName"`
	AvatarToken  string    `json:"avatarToken"`
	IsHost       bool      `json:"isHost"`
	Score        int       `json:"score"`
	PenaltyCount int       `json:"penaltyCount"`
	Streak       int       `json:"streak"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// Response is one player's submitted choice for one round. Responses
// are append-only; they are the audit trail scoring depends on.
type Response struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"roomId"`
	RoundIndex  int       `json:"roundIndex"`
	PlayerID    string    `json:"playerId"`
	Choice      string    `json:"choice"`
	ElapsedMs   int64     `json:"elapsedMs"`
	IsCorrect   bool      `json:"isCorrect"`
	SubmittedAt time.Time `json:"submittedAt"`
}
