// Package game is the coordination core: room lifecycle, the
// host-authoritative phase machine, the response tally with its
// timeout/fast-path race, and the per-kind scoring rulesets.
package game

import (
	"sync"
	"time"

	"github.com/saludapp/salud/internal/catalog"
	"github.com/saludapp/salud/internal/room"
)

// Options tune the engine. Zero values fall back to defaults.
type Options struct {
	RoomTTL       time.Duration // how long a room lives before the reaper takes it
	HostLease     time.Duration // host heartbeat TTL before re-election
	SpotlightMs   int64         // confession "explain yourself" duration
	JuryMs        int64         // confession jury vote window
	DefaultRounds int           // rounds per game when the client does not ask
	ExportFile    string        // scoreboard export target, empty disables
}

func (o Options) withDefaults() Options {
	if o.RoomTTL <= 0 {
		o.RoomTTL = 6 * time.Hour
	}
	if o.HostLease <= 0 {
		o.HostLease = 90 * time.Second
	}
	if o.SpotlightMs <= 0 {
		o.SpotlightMs = 20000
	}
	if o.JuryMs <= 0 {
		o.JuryMs = 10000
	}
	if o.DefaultRounds <= 0 {
		o.DefaultRounds = 3
	}
	return o
}

// RoundResult is the resolved outcome of one round, kept for observers
// until the next round resolves.
type RoundResult struct {
	RoundIndex  int          `json:"roundIndex"`
	Via         string       `json:"via"` // "timeout" | "fastpath"
	Deltas      []room.Delta `json:"deltas"`
	Winners     []string     `json:"winners,omitempty"`
	SpotlightID string       `json:"spotlightId,omitempty"`
}

// Engine runs every room's coordination on the server, so the
// authority that advances phases and writes scores outlives any single
// client connection. Clients hold tokens, not authority.
type Engine struct {
	store   *room.Store
	catalog *catalog.Catalog
	opts    Options

	mu      sync.Mutex
	windows map[string]*window
	results map[string]RoundResult
}

func NewEngine(store *room.Store, cat *catalog.Catalog, opts Options) *Engine {
	return &Engine{
		store:   store,
		catalog: cat,
		opts:    opts.withDefaults(),
		windows: make(map[string]*window),
		results: make(map[string]RoundResult),
	}
}

func (e *Engine) Store() *room.Store { return e.store }
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// LastResult returns the most recent resolved round for a room.
func (e *Engine) LastResult(roomID string) (RoundResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, ok := e.results[roomID]
	return res, ok
}

func (e *Engine) setResult(roomID string, res RoundResult) {
	e.mu.Lock()
	e.results[roomID] = res
	e.mu.Unlock()
}

func (e *Engine) windowFor(roomID string) *window {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.windows[roomID]
}
