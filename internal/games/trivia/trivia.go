// Package trivia implements the multiple-choice quiz minigame. Correct
// answers earn an accuracy award plus a speed bonus; the correct index
// is withheld from every projection until the reveal phase.
package trivia

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/partydeck/partydeck/internal/content"
	"github.com/partydeck/partydeck/internal/games/base"
	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/session"
)

const accuracyAward = 100

func init() {
	if err := base.Register(models.GameTypeTrivia, New); err != nil {
		panic(err)
	}
}

// answer records one player's submission for the current round.
type answer struct {
	Choice  int           `json:"choice"`
	Elapsed time.Duration `json:"-"`
	Correct bool          `json:"correct"`
}

// Game holds trivia state. Answers are keyed by player identity, never
// by connection id, so reconnection needs no migration here.
type Game struct {
	deck    []content.TriviaQuestion
	current *content.TriviaQuestion
	answers map[string]*answer
}

// New builds a trivia game from the library deck.
func New(lib *content.Library, _ models.RoomSettings) (session.Game, error) {
	if len(lib.Trivia) == 0 {
		return nil, fmt.Errorf("trivia deck is empty")
	}
	return &Game{
		deck:    append([]content.TriviaQuestion(nil), lib.Trivia...),
		answers: make(map[string]*answer),
	}, nil
}

// Type implements session.Game.
func (g *Game) Type() models.GameType { return models.GameTypeTrivia }

// Init shuffles the deck with the session rng so the order is
// deterministic per seed.
func (g *Game) Init(rt *session.Runtime) error {
	rt.Rand().Shuffle(len(g.deck), func(i, j int) { g.deck[i], g.deck[j] = g.deck[j], g.deck[i] })
	return nil
}

// StartRound selects the round's question and clears previous answers.
func (g *Game) StartRound(rt *session.Runtime) error {
	g.current = &g.deck[(rt.Round()-1)%len(g.deck)]
	g.answers = make(map[string]*answer)
	return nil
}

type answerPayload struct {
	Choice int `json:"choice"`
}

// HandleAction accepts one "answer" action per player per round.
func (g *Game) HandleAction(rt *session.Runtime, identity, action string, data json.RawMessage) error {
	if action != "answer" {
		return fmt.Errorf("%w: unknown trivia action %q", session.ErrValidation, action)
	}
	var payload answerPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("%w: %v", session.ErrValidation, err)
	}
	if payload.Choice < 0 || payload.Choice >= len(g.current.Choices) {
		return fmt.Errorf("%w: choice %d out of range", session.ErrValidation, payload.Choice)
	}
	g.answers[identity] = &answer{
		Choice:  payload.Choice,
		Elapsed: rt.Elapsed(),
		Correct: payload.Choice == g.current.CorrectIndex,
	}
	return nil
}

// EndRound awards accuracy plus speed bonus to correct answers.
func (g *Game) EndRound(rt *session.Runtime) map[string]int {
	awards := make(map[string]int, len(g.answers))
	limit := rt.RoundLimit()
	mult := rt.Settings().ScoreMultiplier
	for identity, a := range g.answers {
		if !a.Correct {
			continue
		}
		awards[identity] = session.AccuracyBonus(true, accuracyAward) +
			session.SpeedBonus(a.Elapsed, limit, mult)
	}
	return awards
}

// ClientState projects the round for one player. The correct index and
// everyone's answers appear only at reveal.
func (g *Game) ClientState(rt *session.Runtime, identity string) map[string]any {
	view := g.questionView(rt)
	if a, ok := g.answers[identity]; ok {
		view["your_choice"] = a.Choice
	}
	return view
}

// DisplayState projects the round for the host screen, including how
// many players have answered so far.
func (g *Game) DisplayState(rt *session.Runtime) map[string]any {
	view := g.questionView(rt)
	view["answer_count"] = len(g.answers)
	return view
}

func (g *Game) questionView(rt *session.Runtime) map[string]any {
	view := make(map[string]any)
	if g.current == nil {
		return view
	}
	view["question"] = map[string]any{
		"prompt":   g.current.Prompt,
		"choices":  g.current.Choices,
		"category": g.current.Category,
	}
	if revealed(rt.State()) {
		view["correct_index"] = g.current.CorrectIndex
		view["answers"] = g.answers
	}
	return view
}

func revealed(state models.SessionState) bool {
	return state == models.SessionStateRoundEnd || state == models.SessionStateGameEnd
}
