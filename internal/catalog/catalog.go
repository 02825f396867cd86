// Package catalog is the prompt content collaborator: a keyed lookup
// from prompt id to localized text and correctness metadata. The
// coordination core only ever needs Get and RoundOrder.
package catalog

import (
	"math/rand"

	"github.com/saludapp/salud/internal/room"
)

// Prompt is one round's content. Text is keyed by locale; Correct is
// empty for kinds without a right answer. WindowMs overrides the game
// kind's default response window when non-zero.
type Prompt struct {
	ID       string            `json:"id"`
	Kind     room.GameKind     `json:"kind"`
	Text     map[string]string `json:"text"`
	Options  []string          `json:"options,omitempty"`
	Correct  string            `json:"correct,omitempty"`
	WindowMs int64             `json:"windowMs,omitempty"`
}

// Localized returns the prompt text for the locale, falling back to en.
func (p Prompt) Localized(locale string) string {
	if t, ok := p.Text[locale]; ok {
		return t
	}
	return p.Text["en"]
}

// Window returns the effective response window for the prompt.
func (p Prompt) Window() int64 {
	if p.WindowMs > 0 {
		return p.WindowMs
	}
	return p.Kind.WindowMs()
}

type Catalog struct {
	byKind map[room.GameKind][]Prompt
	byID   map[string]Prompt
}

// New returns a catalog with the embedded starter content.
func New() *Catalog {
	return FromPrompts(starter)
}

// FromPrompts builds a catalog from an explicit prompt set.
func FromPrompts(prompts []Prompt) *Catalog {
	c := &Catalog{
		byKind: make(map[room.GameKind][]Prompt),
		byID:   make(map[string]Prompt),
	}
	for _, p := range prompts {
		c.byKind[p.Kind] = append(c.byKind[p.Kind], p)
		c.byID[p.ID] = p
	}
	return c
}

// Get looks a prompt up by id.
func (c *Catalog) Get(id string) (Prompt, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// RoundOrder draws a shuffled fixed order of n prompt ids for the kind.
// The order is decided once at room creation so every player sees the
// same prompt each round. n is clamped to the available content.
func (c *Catalog) RoundOrder(kind room.GameKind, n int) []string {
	pool := c.byKind[kind]
	ids := make([]string, len(pool))
	for i, p := range pool {
		ids[i] = p.ID
	}
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	if n <= 0 || n > len(ids) {
		n = len(ids)
	}
	return ids[:n]
}

// Most-likely prompts have no options: the "options" are the players
// themselves. The trivia royale kind shares the trivia pool.
var starter = []Prompt{
	{ID: "tr-001", Kind: room.KindTrivia, Text: map[string]string{"en": "Which spirit is the base of a classic margarita?", "es": "¿Qué licor es la base de una margarita clásica?"}, Options: []string{"Tequila", "Rum", "Vodka", "Gin"}, Correct: "Tequila"},
	{ID: "tr-002", Kind: room.KindTrivia, Text: map[string]string{"en": "How many milliliters are in a standard shot?", "es": "¿Cuántos mililitros tiene un chupito estándar?"}, Options: []string{"44", "20", "60", "100"}, Correct: "44"},
	{ID: "tr-003", Kind: room.KindTrivia, Text: map[string]string{"en": "Which country invented the piña colada?", "es": "¿Qué país inventó la piña colada?"}, Options: []string{"Puerto Rico", "Cuba", "Mexico", "Spain"}, Correct: "Puerto Rico"},
	{ID: "tr-004", Kind: room.KindTrivia, Text: map[string]string{"en": "What grain is bourbon mostly made from?", "es": "¿De qué grano se hace principalmente el bourbon?"}, Options: []string{"Corn", "Barley", "Rye", "Wheat"}, Correct: "Corn"},
	{ID: "tr-005", Kind: room.KindTrivia, Text: map[string]string{"en": "Cava is a sparkling wine from which country?", "es": "¿De qué país es el cava?"}, Options: []string{"Spain", "France", "Italy", "Portugal"}, Correct: "Spain"},
	{ID: "trr-001", Kind: room.KindTriviaRoyale, Text: map[string]string{"en": "Which cocktail contains mint, lime and rum?", "es": "¿Qué cóctel lleva menta, lima y ron?"}, Options: []string{"Mojito", "Negroni", "Mimosa", "Paloma"}, Correct: "Mojito"},
	{ID: "trr-002", Kind: room.KindTriviaRoyale, Text: map[string]string{"en": "What is the main botanical in gin?", "es": "¿Cuál es el botánico principal de la ginebra?"}, Options: []string{"Juniper", "Coriander", "Anise", "Citrus"}, Correct: "Juniper"},
	{ID: "trr-003", Kind: room.KindTriviaRoyale, Text: map[string]string{"en": "Sake is brewed from which ingredient?", "es": "¿De qué se elabora el sake?"}, Options: []string{"Rice", "Plums", "Wheat", "Potatoes"}, Correct: "Rice"},
	{ID: "di-001", Kind: room.KindDilemma, Text: map[string]string{"en": "Lose your phone for a month, or your wallet for a week?", "es": "¿Perder el móvil un mes o la cartera una semana?"}, Options: []string{"Phone", "Wallet"}},
	{ID: "di-002", Kind: room.KindDilemma, Text: map[string]string{"en": "Always arrive an hour early, or always twenty minutes late?", "es": "¿Llegar siempre una hora antes o veinte minutos tarde?"}, Options: []string{"Early", "Late"}},
	{ID: "di-003", Kind: room.KindDilemma, Text: map[string]string{"en": "Never eat cheese again, or never drink coffee again?", "es": "¿No comer queso nunca más o no tomar café nunca más?"}, Options: []string{"Cheese", "Coffee"}},
	{ID: "di-004", Kind: room.KindDilemma, Text: map[string]string{"en": "Know how you die, or know when you die?", "es": "¿Saber cómo mueres o saber cuándo mueres?"}, Options: []string{"How", "When"}},
	{ID: "co-001", Kind: room.KindConfession, Text: map[string]string{"en": "I have pretended to be sick to skip work.", "es": "He fingido estar enfermo para no ir a trabajar."}, Options: []string{"guilty", "innocent"}},
	{ID: "co-002", Kind: room.KindConfession, Text: map[string]string{"en": "I have stalked an ex online this month.", "es": "He espiado a un ex por internet este mes."}, Options: []string{"guilty", "innocent"}},
	{ID: "co-003", Kind: room.KindConfession, Text: map[string]string{"en": "I have sent a text to the wrong person and denied it.", "es": "He enviado un mensaje a la persona equivocada y lo negué."}, Options: []string{"guilty", "innocent"}},
	{ID: "co-004", Kind: room.KindConfession, Text: map[string]string{"en": "I have re-gifted a present.", "es": "He regalado un regalo que me hicieron."}, Options: []string{"guilty", "innocent"}},
	{ID: "ml-001", Kind: room.KindMostLikely, Text: map[string]string{"en": "Most likely to fall asleep at the party?", "es": "¿Quién es más probable que se duerma en la fiesta?"}},
	{ID: "ml-002", Kind: room.KindMostLikely, Text: map[string]string{"en": "Most likely to become famous?", "es": "¿Quién es más probable que se haga famoso?"}},
	{ID: "ml-003", Kind: room.KindMostLikely, Text: map[string]string{"en": "Most likely to forget their own birthday?", "es": "¿Quién es más probable que olvide su propio cumpleaños?"}},
	{ID: "ml-004", Kind: room.KindMostLikely, Text: map[string]string{"en": "Most likely to text their boss something embarrassing?", "es": "¿Quién es más probable que escriba algo vergonzoso a su jefe?"}},
}
