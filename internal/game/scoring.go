package game

import (
	"math"

	"github.com/saludapp/salud/internal/room"
)

// Delta reasons, recorded so the resolution trail reads like a ledger.
const (
	ReasonCorrect        = "correct"
	ReasonIncorrect      = "incorrect"
	ReasonNoAnswer       = "no_answer"
	ReasonSlowestCorrect = "slowest_correct"
	ReasonLoneLoser      = "lone_loser"
	ReasonMinority       = "minority"
	ReasonTie            = "tie"
	ReasonGuilty         = "guilty"
	ReasonLoneInnocent   = "lone_innocent"
	ReasonBoringVerdict  = "boring_verdict"
	ReasonVotesReceived  = "votes_received"
)

// RoundInput is everything a ruleset may look at for one round. Players
// is the expected-responder snapshot taken at window start; Responses
// are the ones actually submitted. A player present in Players but
// absent from Responses abstained (or timed out).
type RoundInput struct {
	Players       []room.Player
	Responses     []room.Response
	WindowMs      int64
	CorrectOption string

	// Confession jury stage only: juror playerID -> "good" | "boring",
	// and the player under the spotlight. Nil/empty on the first pass.
	JuryVerdicts map[string]string
	SpotlightID  string
}

// Outcome is a ruleset's verdict for one round. A non-empty SpotlightID
// routes the room through the Spotlight/JuryVote branch before the
// summary; Winners reports this round's most-voted players (ties
// included) for the vote-for-a-person game.
type Outcome struct {
	Deltas      []room.Delta
	SpotlightID string
	Winners     []string
}

// Ruleset turns a completed round's responses into deltas. Rulesets are
// pure: same input, same output, regardless of whether the window ended
// by timeout or fast path.
type Ruleset interface {
	Name() string
	Score(in RoundInput) Outcome
}

var rulesets = map[room.GameKind]Ruleset{
	room.KindTrivia:       triviaRules{},
	room.KindTriviaRoyale: triviaRules{slowestDrinks: true},
	room.KindDilemma:      dilemmaRules{},
	room.KindConfession:   confessionRules{},
	room.KindMostLikely:   mostLikelyRules{},
}

// RulesFor selects the ruleset for a game kind.
func RulesFor(kind room.GameKind) (Ruleset, error) {
	rs, ok := rulesets[kind]
	if !ok {
		return nil, ErrUnknownKind
	}
	return rs, nil
}

func responsesByPlayer(responses []room.Response) map[string]room.Response {
	m := make(map[string]room.Response, len(responses))
	for _, r := range responses {
		m[r.PlayerID] = r
	}
	return m
}

// SpeedBonus is the trivia bonus for a correct answer: up to 100 extra
// points, linearly decaying over the window, never negative.
func SpeedBonus(elapsedMs, windowMs int64) int {
	if windowMs <= 0 {
		return 0
	}
	bonus := int(math.Floor(100 * (1 - float64(elapsedMs)/float64(windowMs))))
	if bonus < 0 {
		return 0
	}
	return bonus
}

// triviaRules: correct answers earn 100 + speed bonus and extend the
// streak; wrong or missing answers score nothing, reset the streak and
// drink one. A lone wrong answer among two or more correct ones drinks
// an extra. With slowestDrinks set, the slowest correct answer also
// drinks even though it was right.
type triviaRules struct {
	slowestDrinks bool
}

func (r triviaRules) Name() string {
	if r.slowestDrinks {
		return "trivia_royale"
	}
	return "trivia"
}

func (r triviaRules) Score(in RoundInput) Outcome {
	byPlayer := responsesByPlayer(in.Responses)

	var out Outcome
	correctCount := 0
	wrongAnswered := []string{}
	slowest := []string{}
	var slowestMs int64 = -1

	for _, resp := range in.Responses {
		if resp.IsCorrect {
			correctCount++
			switch {
			case resp.ElapsedMs > slowestMs:
				slowestMs = resp.ElapsedMs
				slowest = []string{resp.PlayerID}
			case resp.ElapsedMs == slowestMs:
				slowest = append(slowest, resp.PlayerID)
			}
		} else {
			wrongAnswered = append(wrongAnswered, resp.PlayerID)
		}
	}

	for _, p := range in.Players {
		resp, answered := byPlayer[p.ID]
		if answered && resp.IsCorrect {
			out.Deltas = append(out.Deltas, room.Delta{
				PlayerID:  p.ID,
				Points:    100 + SpeedBonus(resp.ElapsedMs, in.WindowMs),
				Streak:    p.Streak + 1,
				SetStreak: true,
				Reason:    ReasonCorrect,
			})
			continue
		}
		reason := ReasonNoAnswer
		if answered {
			reason = ReasonIncorrect
		}
		out.Deltas = append(out.Deltas, room.Delta{
			PlayerID:  p.ID,
			Penalty:   1,
			Streak:    0,
			SetStreak: true,
			Reason:    reason,
		})
	}

	if len(wrongAnswered) == 1 && correctCount >= 2 {
		out.Deltas = append(out.Deltas, room.Delta{
			PlayerID: wrongAnswered[0],
			Penalty:  1,
			Reason:   ReasonLoneLoser,
		})
	}

	// Needs at least two correct answers for anyone to be "slowest".
	if r.slowestDrinks && correctCount >= 2 {
		for _, id := range slowest {
			out.Deltas = append(out.Deltas, room.Delta{
				PlayerID: id,
				Penalty:  1,
				Reason:   ReasonSlowestCorrect,
			})
		}
	}

	return out
}

// dilemmaRules: the minority bucket drinks; on an exact tie everyone at
// the table drinks. Abstaining counts as a drink too.
type dilemmaRules struct{}

func (dilemmaRules) Name() string { return "dilemma" }

func (dilemmaRules) Score(in RoundInput) Outcome {
	byPlayer := responsesByPlayer(in.Responses)

	counts := map[string]int{}
	for _, resp := range in.Responses {
		counts[resp.Choice]++
	}
	max := 0
	for _, n := range counts {
		if n > max {
			max = n
		}
	}
	topBuckets := 0
	for _, n := range counts {
		if n == max {
			topBuckets++
		}
	}
	tie := len(counts) > 1 && topBuckets > 1

	var out Outcome
	for _, p := range in.Players {
		resp, answered := byPlayer[p.ID]
		switch {
		case !answered:
			out.Deltas = append(out.Deltas, room.Delta{PlayerID: p.ID, Penalty: 1, Reason: ReasonNoAnswer})
		case tie:
			out.Deltas = append(out.Deltas, room.Delta{PlayerID: p.ID, Penalty: 1, Reason: ReasonTie})
		case counts[resp.Choice] < max:
			out.Deltas = append(out.Deltas, room.Delta{PlayerID: p.ID, Penalty: 1, Reason: ReasonMinority})
		}
	}
	return out
}

// Confession choices.
const (
	ChoiceGuilty   = "guilty"
	ChoiceInnocent = "innocent"
	VerdictGood    = "good"
	VerdictBoring  = "boring"
)

// confessionRules: everyone who confessed drinks one. Exactly one
// confessor instead routes the round through the spotlight and jury
// branch; exactly one innocent against two or more confessors means
// majority rules and the lone innocent drinks two.
type confessionRules struct{}

func (confessionRules) Name() string { return "confession" }

func (confessionRules) Score(in RoundInput) Outcome {
	if in.JuryVerdicts != nil {
		return scoreJury(in)
	}

	var guilty, innocent []string
	for _, resp := range in.Responses {
		switch resp.Choice {
		case ChoiceGuilty:
			guilty = append(guilty, resp.PlayerID)
		case ChoiceInnocent:
			innocent = append(innocent, resp.PlayerID)
		}
	}

	switch {
	case len(guilty) == 1 && len(in.Responses) >= 2:
		return Outcome{SpotlightID: guilty[0]}
	case len(innocent) == 1 && len(guilty) >= 2:
		return Outcome{Deltas: []room.Delta{{PlayerID: innocent[0], Penalty: 2, Reason: ReasonLoneInnocent}}}
	default:
		var out Outcome
		for _, id := range guilty {
			out.Deltas = append(out.Deltas, room.Delta{PlayerID: id, Penalty: 1, Reason: ReasonGuilty})
		}
		return out
	}
}

func scoreJury(in RoundInput) Outcome {
	good, boring := 0, 0
	for _, v := range in.JuryVerdicts {
		switch v {
		case VerdictGood:
			good++
		case VerdictBoring:
			boring++
		}
	}
	// A boring majority or a tie sends the drink to the spotlight.
	if boring >= good && in.SpotlightID != "" {
		return Outcome{Deltas: []room.Delta{{PlayerID: in.SpotlightID, Penalty: 1, Reason: ReasonBoringVerdict}}}
	}
	return Outcome{}
}

// mostLikelyRules: everyone votes for a player; the most-voted wins the
// round (ties all reported) and nobody drinks. Votes received feed the
// score counter, which decides the end-of-game superlatives.
type mostLikelyRules struct{}

func (mostLikelyRules) Name() string { return "most_likely" }

func (mostLikelyRules) Score(in RoundInput) Outcome {
	votes := map[string]int{}
	for _, resp := range in.Responses {
		votes[resp.Choice]++
	}

	var out Outcome
	max := 0
	for _, p := range in.Players {
		n := votes[p.ID]
		if n > 0 {
			out.Deltas = append(out.Deltas, room.Delta{PlayerID: p.ID, Points: n, Reason: ReasonVotesReceived})
		}
		if n > max {
			max = n
		}
	}
	if max > 0 {
		for _, p := range in.Players {
			if votes[p.ID] == max {
				out.Winners = append(out.Winners, p.ID)
			}
		}
	}
	return out
}
