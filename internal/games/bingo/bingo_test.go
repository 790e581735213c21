package bingo

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/session"
)

func TestCompletedLinesCountsRowsColumnsDiagonals(t *testing.T) {
	c := &card{}
	assert.Equal(t, 0, c.completedLines())

	for col := 0; col < gridSize; col++ {
		c.Marks[2][col] = true
	}
	assert.Equal(t, 1, c.completedLines(), "one full row")

	for row := 0; row < gridSize; row++ {
		c.Marks[row][2] = true
	}
	assert.Equal(t, 2, c.completedLines(), "plus one full column")

	for i := 0; i < gridSize; i++ {
		c.Marks[i][i] = true
	}
	assert.Equal(t, 3, c.completedLines(), "plus the diagonal")
}

func TestAllMarked(t *testing.T) {
	c := &card{}
	assert.False(t, c.allMarked())
	for row := 0; row < gridSize; row++ {
		for col := 0; col < gridSize; col++ {
			c.Marks[row][col] = true
		}
	}
	assert.True(t, c.allMarked())
}

type roster struct {
	players []*models.Player
}

func (r *roster) Players() []*models.Player { return r.players }

type noopListener struct{}

func (noopListener) OnStateChanged(string)                    {}
func (noopListener) OnSessionEnded(string, models.GameResult) {}

func newSession(t *testing.T, names ...string) (*session.Session, *Game, *sync.Mutex) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	mu := &sync.Mutex{}
	r := &roster{}
	for _, name := range names {
		r.players = append(r.players, &models.Player{
			Identity: "id-" + name,
			Name:     name,
			Status:   models.PlayerStatusConnected,
		})
	}
	settings := models.DefaultRoomSettings()
	settings.MaxRounds = 2

	g, err := New(nil, settings)
	require.NoError(t, err)
	game := g.(*Game)

	mu.Lock()
	sess, err := session.New(session.Config{
		RoomCode: "TEST",
		Game:     g,
		Roster:   r,
		Settings: settings,
		Listener: noopListener{},
		Clock:    clock,
		Seed:     7,
		Mu:       mu,
	})
	mu.Unlock()
	require.NoError(t, err)

	mu.Lock()
	require.NoError(t, sess.Start())
	mu.Unlock()
	clock.Advance(time.Duration(settings.CountdownSec) * time.Second)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return sess.State() == models.SessionStatePlaying
	}, 2*time.Second, 5*time.Millisecond)

	return sess, game, mu
}

func mark(numbers ...int) json.RawMessage {
	raw, _ := json.Marshal(map[string][]int{"numbers": numbers})
	return raw
}

func TestEveryPlayerGetsDistinctPrivateCard(t *testing.T) {
	_, game, mu := newSession(t, "alice", "bob")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, game.cards, 2)
	a := game.cards["id-alice"]
	b := game.cards["id-bob"]
	assert.NotEqual(t, a.Grid, b.Grid)
}

func TestRoundDrawsAndMarking(t *testing.T) {
	sess, game, mu := newSession(t, "alice", "bob")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, game.roundDraws, drawsPerRound)
	drawn := game.roundDraws[0]

	err := sess.HandleAction("id-alice", "mark", mark(drawn))
	require.NoError(t, err)

	// Undrawn numbers are rejected outright.
	var undrawn int
	for n := 1; n <= maxNumber; n++ {
		if !game.drawn[n] {
			undrawn = n
			break
		}
	}
	assert.ErrorIs(t, sess.HandleAction("id-bob", "mark", mark(undrawn)), session.ErrValidation)
}

func TestMarkingOffCardNumberIsHarmless(t *testing.T) {
	sess, game, mu := newSession(t, "alice", "bob")

	mu.Lock()
	defer mu.Unlock()

	// Find a drawn number absent from alice's card.
	var offCard int
	for _, n := range game.roundDraws {
		if _, _, found := game.cards["id-alice"].find(n); !found {
			offCard = n
			break
		}
	}
	if offCard == 0 {
		t.Skip("all draws landed on the card for this seed")
	}
	require.NoError(t, sess.HandleAction("id-alice", "mark", mark(offCard)))

	marks := 0
	c := game.cards["id-alice"]
	for row := 0; row < gridSize; row++ {
		for col := 0; col < gridSize; col++ {
			if c.Marks[row][col] {
				marks++
			}
		}
	}
	assert.Equal(t, 0, marks)
}

func TestLineAwardGrantedOncePerLine(t *testing.T) {
	_, game, mu := newSession(t, "alice")

	mu.Lock()
	defer mu.Unlock()
	c := game.cards["id-alice"]
	for col := 0; col < gridSize; col++ {
		c.Marks[0][col] = true
	}

	awards := game.EndRound(nil)
	assert.Equal(t, lineAward, awards["id-alice"])

	// The same line never pays twice.
	awards = game.EndRound(nil)
	assert.Equal(t, 0, awards["id-alice"])
}

func TestFullCardAward(t *testing.T) {
	_, game, mu := newSession(t, "alice")

	mu.Lock()
	defer mu.Unlock()
	c := game.cards["id-alice"]
	for row := 0; row < gridSize; row++ {
		for col := 0; col < gridSize; col++ {
			c.Marks[row][col] = true
		}
	}

	awards := game.EndRound(nil)
	// 5 rows + 5 columns + 2 diagonals, plus the full card bonus.
	assert.Equal(t, 12*lineAward+fullCardAward, awards["id-alice"])
}

func TestClientSeesOnlyOwnCard(t *testing.T) {
	sess, _, mu := newSession(t, "alice", "bob")

	mu.Lock()
	defer mu.Unlock()
	view := sess.ClientState("id-alice")
	assert.Contains(t, view, "card")
	assert.Contains(t, view, "round_draws")

	display := sess.DisplayState()
	assert.NotContains(t, display, "card", "host display never exposes a grid")
	assert.Contains(t, display, "lines")
}
