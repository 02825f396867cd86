package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saludapp/salud/internal/room"
)

func players(ids ...string) []room.Player {
	out := make([]room.Player, len(ids))
	for i, id := range ids {
		out[i] = room.Player{ID: id}
	}
	return out
}

func penaltiesByPlayer(deltas []room.Delta) map[string]int {
	m := map[string]int{}
	for _, d := range deltas {
		m[d.PlayerID] += d.Penalty
	}
	return m
}

func pointsByPlayer(deltas []room.Delta) map[string]int {
	m := map[string]int{}
	for _, d := range deltas {
		m[d.PlayerID] += d.Points
	}
	return m
}

func TestSpeedBonus(t *testing.T) {
	cases := []struct {
		elapsed, window int64
		want            int
	}{
		{3000, 15000, 80},
		{0, 15000, 100},
		{15000, 15000, 0},
		{20000, 15000, 0}, // late answers never go negative
		{7500, 15000, 50},
		{1, 15000, 99},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SpeedBonus(tc.elapsed, tc.window), "elapsed=%d window=%d", tc.elapsed, tc.window)
	}
}

func TestTriviaCorrectnessAndSpeed(t *testing.T) {
	rs, err := RulesFor(room.KindTrivia)
	require.NoError(t, err)

	in := RoundInput{
		Players: []room.Player{{ID: "a", Streak: 1}, {ID: "b"}, {ID: "c"}},
		Responses: []room.Response{
			{PlayerID: "a", Choice: "X", IsCorrect: true, ElapsedMs: 3000},
			{PlayerID: "b", Choice: "Y", IsCorrect: false, ElapsedMs: 5000},
			// c never answered
		},
		WindowMs:      15000,
		CorrectOption: "X",
	}
	out := rs.Score(in)

	points := pointsByPlayer(out.Deltas)
	penalties := penaltiesByPlayer(out.Deltas)
	assert.Equal(t, 180, points["a"])
	assert.Equal(t, 0, points["b"])
	assert.Equal(t, 0, penalties["a"])
	assert.Equal(t, 1, penalties["b"])
	assert.Equal(t, 1, penalties["c"], "an unanswered round drinks like a wrong one")

	for _, d := range out.Deltas {
		switch d.PlayerID {
		case "a":
			if d.SetStreak {
				assert.Equal(t, 2, d.Streak, "streak extends on a correct answer")
			}
		case "b", "c":
			if d.SetStreak {
				assert.Equal(t, 0, d.Streak, "streak resets on a wrong answer")
			}
		}
	}
}

func TestTriviaLoneLoser(t *testing.T) {
	rs, err := RulesFor(room.KindTrivia)
	require.NoError(t, err)

	// 5 players, 4 correct, 1 wrong: the lone loser drinks double
	in := RoundInput{
		Players: players("a", "b", "c", "d", "e"),
		Responses: []room.Response{
			{PlayerID: "a", IsCorrect: true, ElapsedMs: 1000},
			{PlayerID: "b", IsCorrect: true, ElapsedMs: 2000},
			{PlayerID: "c", IsCorrect: true, ElapsedMs: 3000},
			{PlayerID: "d", IsCorrect: true, ElapsedMs: 4000},
			{PlayerID: "e", IsCorrect: false, ElapsedMs: 5000},
		},
		WindowMs: 15000,
	}
	penalties := penaltiesByPlayer(rs.Score(in).Deltas)
	assert.Equal(t, 2, penalties["e"])
	assert.Equal(t, 0, penalties["a"])

	// two wrong answers: only the standard drink each
	in.Responses[3].IsCorrect = false
	penalties = penaltiesByPlayer(rs.Score(in).Deltas)
	assert.Equal(t, 1, penalties["d"])
	assert.Equal(t, 1, penalties["e"])
}

func TestTriviaRoyaleSlowestCorrectDrinks(t *testing.T) {
	rs, err := RulesFor(room.KindTriviaRoyale)
	require.NoError(t, err)

	in := RoundInput{
		Players: players("a", "b", "c"),
		Responses: []room.Response{
			{PlayerID: "a", IsCorrect: true, ElapsedMs: 2000},
			{PlayerID: "b", IsCorrect: true, ElapsedMs: 9000},
			{PlayerID: "c", IsCorrect: false, ElapsedMs: 1000},
		},
		WindowMs: 15000,
	}
	penalties := penaltiesByPlayer(rs.Score(in).Deltas)
	assert.Equal(t, 1, penalties["b"], "slowest correct answer drinks even though it was right")
	assert.Equal(t, 0, penalties["a"])

	// a single correct answer has no "slowest"
	in.Responses = in.Responses[:1]
	penalties = penaltiesByPlayer(rs.Score(in).Deltas)
	assert.Equal(t, 0, penalties["a"])
}

func TestDilemmaMinorityAndTie(t *testing.T) {
	rs, err := RulesFor(room.KindDilemma)
	require.NoError(t, err)

	// 3 vote A, 1 votes B: only the B voter drinks
	in := RoundInput{
		Players: players("a", "b", "c", "d"),
		Responses: []room.Response{
			{PlayerID: "a", Choice: "A"},
			{PlayerID: "b", Choice: "A"},
			{PlayerID: "c", Choice: "A"},
			{PlayerID: "d", Choice: "B"},
		},
	}
	penalties := penaltiesByPlayer(rs.Score(in).Deltas)
	assert.Equal(t, map[string]int{"d": 1}, penalties)

	// exact tie: everyone drinks
	in.Responses[2].Choice = "B"
	penalties = penaltiesByPlayer(rs.Score(in).Deltas)
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1, "d": 1}, penalties)
}

func TestDilemmaAbstainDrinks(t *testing.T) {
	rs, err := RulesFor(room.KindDilemma)
	require.NoError(t, err)

	in := RoundInput{
		Players: players("a", "b", "c"),
		Responses: []room.Response{
			{PlayerID: "a", Choice: "A"},
			{PlayerID: "b", Choice: "A"},
		},
	}
	penalties := penaltiesByPlayer(rs.Score(in).Deltas)
	assert.Equal(t, map[string]int{"c": 1}, penalties)
}

func TestConfessionBranches(t *testing.T) {
	rs, err := RulesFor(room.KindConfession)
	require.NoError(t, err)

	t.Run("lone guilty goes to the spotlight", func(t *testing.T) {
		in := RoundInput{
			Players: players("a", "b", "c"),
			Responses: []room.Response{
				{PlayerID: "a", Choice: ChoiceGuilty},
				{PlayerID: "b", Choice: ChoiceInnocent},
				{PlayerID: "c", Choice: ChoiceInnocent},
			},
		}
		out := rs.Score(in)
		assert.Equal(t, "a", out.SpotlightID)
		assert.Empty(t, out.Deltas, "resolution waits for the jury")
	})

	t.Run("lone innocent against the majority drinks double", func(t *testing.T) {
		in := RoundInput{
			Players: players("a", "b", "c"),
			Responses: []room.Response{
				{PlayerID: "a", Choice: ChoiceGuilty},
				{PlayerID: "b", Choice: ChoiceGuilty},
				{PlayerID: "c", Choice: ChoiceInnocent},
			},
		}
		out := rs.Score(in)
		assert.Empty(t, out.SpotlightID)
		assert.Equal(t, map[string]int{"c": 2}, penaltiesByPlayer(out.Deltas))
	})

	t.Run("otherwise every confessor drinks one", func(t *testing.T) {
		in := RoundInput{
			Players: players("a", "b", "c", "d"),
			Responses: []room.Response{
				{PlayerID: "a", Choice: ChoiceGuilty},
				{PlayerID: "b", Choice: ChoiceGuilty},
				{PlayerID: "c", Choice: ChoiceInnocent},
				{PlayerID: "d", Choice: ChoiceInnocent},
			},
		}
		out := rs.Score(in)
		assert.Empty(t, out.SpotlightID)
		assert.Equal(t, map[string]int{"a": 1, "b": 1}, penaltiesByPlayer(out.Deltas))
	})
}

func TestConfessionJuryVerdicts(t *testing.T) {
	rs, err := RulesFor(room.KindConfession)
	require.NoError(t, err)

	base := RoundInput{
		Players:     players("a", "b", "c"),
		SpotlightID: "a",
	}

	t.Run("boring majority drinks the spotlight", func(t *testing.T) {
		in := base
		in.JuryVerdicts = map[string]string{"b": VerdictBoring, "c": VerdictBoring}
		assert.Equal(t, map[string]int{"a": 1}, penaltiesByPlayer(rs.Score(in).Deltas))
	})

	t.Run("tie counts as boring", func(t *testing.T) {
		in := base
		in.JuryVerdicts = map[string]string{"b": VerdictBoring, "c": VerdictGood}
		assert.Equal(t, map[string]int{"a": 1}, penaltiesByPlayer(rs.Score(in).Deltas))
	})

	t.Run("good majority lets the spotlight off", func(t *testing.T) {
		in := base
		in.JuryVerdicts = map[string]string{"b": VerdictGood, "c": VerdictGood}
		assert.Empty(t, rs.Score(in).Deltas)
	})
}

func TestMostLikelyWinnersAndTies(t *testing.T) {
	rs, err := RulesFor(room.KindMostLikely)
	require.NoError(t, err)

	in := RoundInput{
		Players: players("a", "b", "c", "d"),
		Responses: []room.Response{
			{PlayerID: "a", Choice: "b"},
			{PlayerID: "b", Choice: "a"},
			{PlayerID: "c", Choice: "b"},
			{PlayerID: "d", Choice: "b"},
		},
	}
	out := rs.Score(in)
	assert.Equal(t, []string{"b"}, out.Winners)
	assert.Equal(t, map[string]int{"a": 1, "b": 3}, pointsByPlayer(out.Deltas))
	assert.Empty(t, penaltiesByPlayer(out.Deltas), "nobody drinks in this game")

	// tied top vote reports every tied player
	in.Responses[3].Choice = "a"
	out = rs.Score(in)
	assert.ElementsMatch(t, []string{"a", "b"}, out.Winners)
}

// Rulesets are pure: the same input always yields the same deltas, so
// the outcome cannot depend on whether the window ended by timeout or
// fast path.
func TestScoringDeterminism(t *testing.T) {
	for _, kind := range []room.GameKind{room.KindTrivia, room.KindTriviaRoyale, room.KindDilemma, room.KindConfession, room.KindMostLikely} {
		rs, err := RulesFor(kind)
		require.NoError(t, err)
		in := RoundInput{
			Players: players("a", "b", "c"),
			Responses: []room.Response{
				{PlayerID: "a", Choice: "guilty", IsCorrect: true, ElapsedMs: 1200},
				{PlayerID: "b", Choice: "innocent", IsCorrect: false, ElapsedMs: 3400},
				{PlayerID: "c", Choice: "guilty", IsCorrect: true, ElapsedMs: 9000},
			},
			WindowMs: 15000,
		}
		first := rs.Score(in)
		second := rs.Score(in)
		assert.Equal(t, first, second, "kind %s", kind)
	}
}

func TestRulesForUnknownKind(t *testing.T) {
	_, err := RulesFor(room.GameKind("beerpong"))
	assert.ErrorIs(t, err, ErrUnknownKind)
}
