// Package majority implements the crowd-poll minigame: players earn
// points for siding with the majority, with an extra award for being
// the only one to pick an option.
package majority

import (
	"encoding/json"
	"fmt"

	"github.com/partydeck/partydeck/internal/content"
	"github.com/partydeck/partydeck/internal/games/base"
	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/session"
)

const (
	majorityAward = 100
	uniqueAward   = 50
)

func init() {
	if err := base.Register(models.GameTypeMajority, New); err != nil {
		panic(err)
	}
}

// Game holds poll state keyed by player identity.
type Game struct {
	prompts []content.PollPrompt
	current *content.PollPrompt
	picks   map[string]string
}

// New builds a majority game from the library prompts.
func New(lib *content.Library, _ models.RoomSettings) (session.Game, error) {
	if len(lib.Polls) == 0 {
		return nil, fmt.Errorf("poll prompts are empty")
	}
	return &Game{
		prompts: append([]content.PollPrompt(nil), lib.Polls...),
		picks:   make(map[string]string),
	}, nil
}

// Type implements session.Game.
func (g *Game) Type() models.GameType { return models.GameTypeMajority }

// Init shuffles the prompts deterministically per seed.
func (g *Game) Init(rt *session.Runtime) error {
	rt.Rand().Shuffle(len(g.prompts), func(i, j int) { g.prompts[i], g.prompts[j] = g.prompts[j], g.prompts[i] })
	return nil
}

// StartRound selects the round's prompt and clears picks.
func (g *Game) StartRound(rt *session.Runtime) error {
	g.current = &g.prompts[(rt.Round()-1)%len(g.prompts)]
	g.picks = make(map[string]string)
	return nil
}

type votePayload struct {
	Option string `json:"option"`
}

// HandleAction accepts one "vote" per player per round.
func (g *Game) HandleAction(rt *session.Runtime, identity, action string, data json.RawMessage) error {
	if action != "vote" {
		return fmt.Errorf("%w: unknown majority action %q", session.ErrValidation, action)
	}
	var payload votePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("%w: %v", session.ErrValidation, err)
	}
	valid := false
	for _, option := range g.current.Options {
		if option == payload.Option {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: option %q not in prompt", session.ErrValidation, payload.Option)
	}
	g.picks[identity] = payload.Option
	return nil
}

// EndRound applies the majority and uniqueness awards.
func (g *Game) EndRound(rt *session.Runtime) map[string]int {
	return session.MajorityAwards(g.picks, majorityAward, uniqueAward)
}

// ClientState projects the prompt for one player; the vote tally stays
// hidden until reveal so picks cannot be gamed mid-round.
func (g *Game) ClientState(rt *session.Runtime, identity string) map[string]any {
	view := g.promptView(rt)
	if pick, ok := g.picks[identity]; ok {
		view["your_vote"] = pick
	}
	return view
}

// DisplayState projects the prompt plus the running vote count.
func (g *Game) DisplayState(rt *session.Runtime) map[string]any {
	view := g.promptView(rt)
	view["vote_count"] = len(g.picks)
	return view
}

func (g *Game) promptView(rt *session.Runtime) map[string]any {
	view := make(map[string]any)
	if g.current == nil {
		return view
	}
	view["prompt"] = g.current.Prompt
	view["options"] = g.current.Options
	if rt.State() == models.SessionStateRoundEnd || rt.State() == models.SessionStateGameEnd {
		tally := make(map[string]int, len(g.current.Options))
		for _, pick := range g.picks {
			tally[pick]++
		}
		view["tally"] = tally
		view["votes"] = g.picks
	}
	return view
}
