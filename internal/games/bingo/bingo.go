// Package bingo implements the bingo minigame. Each player gets a
// private 5x5 card; every round draws numbers and players mark the ones
// on their card. Projections are strictly personalized: a player only
// ever sees their own grid.
package bingo

import (
	"encoding/json"
	"fmt"

	"github.com/partydeck/partydeck/internal/content"
	"github.com/partydeck/partydeck/internal/games/base"
	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/session"
)

const (
	gridSize      = 5
	maxNumber     = 75
	drawsPerRound = 5
	lineAward     = 150
	fullCardAward = 500
)

func init() {
	if err := base.Register(models.GameTypeBingo, New); err != nil {
		panic(err)
	}
}

// card is one player's private grid plus their marks.
type card struct {
	Grid  [gridSize][gridSize]int  `json:"grid"`
	Marks [gridSize][gridSize]bool `json:"marks"`
	// lines counts completed rows/columns/diagonals already scored.
	lines int
	full  bool
}

// Game holds bingo state keyed by player identity.
type Game struct {
	cards map[string]*card
	drawn map[int]bool
	// roundDraws are the numbers revealed this round, in draw order.
	roundDraws []int
	pool       []int
}

// New builds a bingo game; it needs no content deck.
func New(_ *content.Library, _ models.RoomSettings) (session.Game, error) {
	return &Game{
		cards: make(map[string]*card),
		drawn: make(map[int]bool),
	}, nil
}

// Type implements session.Game.
func (g *Game) Type() models.GameType { return models.GameTypeBingo }

// Init deals every player a deterministic card and shuffles the draw
// pool with the session rng.
func (g *Game) Init(rt *session.Runtime) error {
	g.pool = make([]int, maxNumber)
	for i := range g.pool {
		g.pool[i] = i + 1
	}
	rt.Rand().Shuffle(len(g.pool), func(i, j int) { g.pool[i], g.pool[j] = g.pool[j], g.pool[i] })

	for _, p := range rt.Players() {
		g.cards[p.Identity] = dealCard(rt)
	}
	return nil
}

// dealCard builds one 5x5 grid of distinct numbers.
func dealCard(rt *session.Runtime) *card {
	numbers := rt.Rand().Perm(maxNumber)
	c := &card{}
	i := 0
	for row := 0; row < gridSize; row++ {
		for col := 0; col < gridSize; col++ {
			c.Grid[row][col] = numbers[i] + 1
			i++
		}
	}
	return c
}

// StartRound reveals the next batch of drawn numbers. Players who
// joined mid-game get dealt a card on their first round.
func (g *Game) StartRound(rt *session.Runtime) error {
	for _, p := range rt.Players() {
		if _, ok := g.cards[p.Identity]; !ok {
			g.cards[p.Identity] = dealCard(rt)
		}
	}
	g.roundDraws = g.roundDraws[:0]
	for i := 0; i < drawsPerRound && len(g.pool) > 0; i++ {
		n := g.pool[0]
		g.pool = g.pool[1:]
		g.drawn[n] = true
		g.roundDraws = append(g.roundDraws, n)
	}
	if len(g.roundDraws) == 0 {
		return fmt.Errorf("draw pool exhausted")
	}
	return nil
}

type markPayload struct {
	Numbers []int `json:"numbers"`
}

// HandleAction accepts one "mark" action per player per round, claiming
// any subset of drawn numbers present on their card.
func (g *Game) HandleAction(rt *session.Runtime, identity, action string, data json.RawMessage) error {
	if action != "mark" {
		return fmt.Errorf("%w: unknown bingo action %q", session.ErrValidation, action)
	}
	var payload markPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("%w: %v", session.ErrValidation, err)
	}
	c, ok := g.cards[identity]
	if !ok {
		return session.ErrStateConflict
	}
	for _, n := range payload.Numbers {
		if !g.drawn[n] {
			return fmt.Errorf("%w: number %d has not been drawn", session.ErrValidation, n)
		}
	}
	for _, n := range payload.Numbers {
		if row, col, found := c.find(n); found {
			c.Marks[row][col] = true
		}
	}
	return nil
}

// EndRound awards newly completed lines and full cards.
func (g *Game) EndRound(rt *session.Runtime) map[string]int {
	awards := make(map[string]int)
	for identity, c := range g.cards {
		lines := c.completedLines()
		if lines > c.lines {
			awards[identity] += (lines - c.lines) * lineAward
			c.lines = lines
		}
		if !c.full && c.allMarked() {
			c.full = true
			awards[identity] += fullCardAward
		}
	}
	return awards
}

// ClientState projects only this player's card plus the shared draws.
func (g *Game) ClientState(rt *session.Runtime, identity string) map[string]any {
	view := g.sharedView(rt)
	if c, ok := g.cards[identity]; ok {
		view["card"] = c
	}
	return view
}

// DisplayState projects the draws and per-player line counts; grids
// stay private to their owners.
func (g *Game) DisplayState(rt *session.Runtime) map[string]any {
	view := g.sharedView(rt)
	lines := make(map[string]int, len(g.cards))
	for identity, c := range g.cards {
		lines[identity] = c.lines
	}
	view["lines"] = lines
	return view
}

func (g *Game) sharedView(rt *session.Runtime) map[string]any {
	all := make([]int, 0, len(g.drawn))
	for n := range g.drawn {
		all = append(all, n)
	}
	return map[string]any{
		"round_draws":    append([]int(nil), g.roundDraws...),
		"drawn_count":    len(g.drawn),
		"drawn":          all,
		"pool_remaining": len(g.pool),
	}
}

func (c *card) find(n int) (int, int, bool) {
	for row := 0; row < gridSize; row++ {
		for col := 0; col < gridSize; col++ {
			if c.Grid[row][col] == n {
				return row, col, true
			}
		}
	}
	return 0, 0, false
}

func (c *card) completedLines() int {
	count := 0
	for row := 0; row < gridSize; row++ {
		full := true
		for col := 0; col < gridSize; col++ {
			if !c.Marks[row][col] {
				full = false
				break
			}
		}
		if full {
			count++
		}
	}
	for col := 0; col < gridSize; col++ {
		full := true
		for row := 0; row < gridSize; row++ {
			if !c.Marks[row][col] {
				full = false
				break
			}
		}
		if full {
			count++
		}
	}
	diag := true
	for i := 0; i < gridSize; i++ {
		if !c.Marks[i][i] {
			diag = false
			break
		}
	}
	if diag {
		count++
	}
	anti := true
	for i := 0; i < gridSize; i++ {
		if !c.Marks[i][gridSize-1-i] {
			anti = false
			break
		}
	}
	if anti {
		count++
	}
	return count
}

func (c *card) allMarked() bool {
	for row := 0; row < gridSize; row++ {
		for col := 0; col < gridSize; col++ {
			if !c.Marks[row][col] {
				return false
			}
		}
	}
	return true
}
