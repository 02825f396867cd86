package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saludapp/salud/internal/room"
)

func TestGet(t *testing.T) {
	c := New()

	p, ok := c.Get("tr-001")
	require.True(t, ok)
	assert.Equal(t, room.KindTrivia, p.Kind)
	assert.NotEmpty(t, p.Correct)

	_, ok = c.Get("no-such-prompt")
	assert.False(t, ok)
}

func TestLocalizedFallsBackToEnglish(t *testing.T) {
	p := Prompt{Text: map[string]string{"en": "hello", "es": "hola"}}
	assert.Equal(t, "hola", p.Localized("es"))
	assert.Equal(t, "hello", p.Localized("de"))
}

func TestWindowOverride(t *testing.T) {
	p := Prompt{Kind: room.KindTrivia}
	assert.Equal(t, room.KindTrivia.WindowMs(), p.Window())

	p.WindowMs = 3000
	assert.EqualValues(t, 3000, p.Window())
}

func TestRoundOrder(t *testing.T) {
	c := New()

	order := c.RoundOrder(room.KindDilemma, 3)
	require.Len(t, order, 3)
	seen := map[string]bool{}
	for _, id := range order {
		assert.False(t, seen[id], "prompt %s drawn twice", id)
		seen[id] = true
		p, ok := c.Get(id)
		require.True(t, ok)
		assert.Equal(t, room.KindDilemma, p.Kind)
	}

	// asking for more rounds than there is content clamps
	all := c.RoundOrder(room.KindConfession, 99)
	assert.Len(t, all, 4)

	// a kind with no content yields no rounds
	assert.Empty(t, c.RoundOrder(room.GameKind("beerpong"), 3))
}
