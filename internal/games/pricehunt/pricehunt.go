// Package pricehunt implements the price-guessing minigame: closest
// guess without exceeding the actual price wins the round. Prices stay
// hidden until reveal.
package pricehunt

import (
	"encoding/json"
	"fmt"

	"github.com/partydeck/partydeck/internal/content"
	"github.com/partydeck/partydeck/internal/games/base"
	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/session"
)

const winAward = 200

func init() {
	if err := base.Register(models.GameTypePriceHunt, New); err != nil {
		panic(err)
	}
}

// Game holds price-hunt state keyed by player identity.
type Game struct {
	catalog []content.PriceItem
	current *content.PriceItem
	guesses []session.Guess
	byID    map[string]float64
	winner  string
}

// New builds a price-hunt game from the library catalog.
func New(lib *content.Library, _ models.RoomSettings) (session.Game, error) {
	if len(lib.Prices) == 0 {
		return nil, fmt.Errorf("price catalog is empty")
	}
	return &Game{
		catalog: append([]content.PriceItem(nil), lib.Prices...),
		byID:    make(map[string]float64),
	}, nil
}

// Type implements session.Game.
func (g *Game) Type() models.GameType { return models.GameTypePriceHunt }

// Init shuffles the catalog deterministically per seed.
func (g *Game) Init(rt *session.Runtime) error {
	rt.Rand().Shuffle(len(g.catalog), func(i, j int) { g.catalog[i], g.catalog[j] = g.catalog[j], g.catalog[i] })
	return nil
}

// StartRound selects the round's item and clears guesses.
func (g *Game) StartRound(rt *session.Runtime) error {
	g.current = &g.catalog[(rt.Round()-1)%len(g.catalog)]
	g.guesses = g.guesses[:0]
	g.byID = make(map[string]float64)
	g.winner = ""
	return nil
}

type guessPayload struct {
	Price float64 `json:"price"`
}

// HandleAction accepts one "guess" per player per round.
func (g *Game) HandleAction(rt *session.Runtime, identity, action string, data json.RawMessage) error {
	if action != "guess" {
		return fmt.Errorf("%w: unknown pricehunt action %q", session.ErrValidation, action)
	}
	var payload guessPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("%w: %v", session.ErrValidation, err)
	}
	if payload.Price < 0 {
		return fmt.Errorf("%w: negative price", session.ErrValidation)
	}
	g.guesses = append(g.guesses, session.Guess{
		Identity: identity,
		Value:    payload.Price,
		Order:    rt.Order(),
	})
	g.byID[identity] = payload.Price
	return nil
}

// EndRound awards the winning guess.
func (g *Game) EndRound(rt *session.Runtime) map[string]int {
	awards := make(map[string]int)
	if best, ok := session.ClosestWithoutExceeding(g.guesses, g.current.Price); ok {
		g.winner = best.Identity
		awards[best.Identity] = winAward
	}
	return awards
}

// ClientState projects the item for one player; the actual price and
// the winner appear only at reveal.
func (g *Game) ClientState(rt *session.Runtime, identity string) map[string]any {
	view := g.itemView(rt)
	if price, ok := g.byID[identity]; ok {
		view["your_guess"] = price
	}
	return view
}

// DisplayState projects the item plus the running guess count.
func (g *Game) DisplayState(rt *session.Runtime) map[string]any {
	view := g.itemView(rt)
	view["guess_count"] = len(g.guesses)
	return view
}

func (g *Game) itemView(rt *session.Runtime) map[string]any {
	view := make(map[string]any)
	if g.current == nil {
		return view
	}
	view["item"] = map[string]any{
		"name":        g.current.Name,
		"description": g.current.Description,
		"currency":    g.current.Currency,
	}
	if rt.State() == models.SessionStateRoundEnd || rt.State() == models.SessionStateGameEnd {
		view["actual_price"] = g.current.Price
		view["guesses"] = g.byID
		view["winner"] = g.winner
	}
	return view
}
