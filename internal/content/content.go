// Package content loads the read-only game decks (trivia questions,
// price catalog, poll prompts) consumed by sessions at construction
// time. Decks are plain YAML files so parties can ship their own.
package content

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// TriviaQuestion is one multiple-choice question.
type TriviaQuestion struct {
	Prompt       string   `yaml:"prompt" json:"prompt"`
	Choices      []string `yaml:"choices" json:"choices"`
	CorrectIndex int      `yaml:"correct_index" json:"-"`
	Category     string   `yaml:"category,omitempty" json:"category,omitempty"`
}

// PriceItem is one catalog entry for price-guessing rounds.
type PriceItem struct {
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Price       float64 `yaml:"price" json:"-"`
	Currency    string  `yaml:"currency" json:"currency"`
}

// PollPrompt is one majority-vote prompt.
type PollPrompt struct {
	Prompt  string   `yaml:"prompt" json:"prompt"`
	Options []string `yaml:"options" json:"options"`
}

// Library bundles every deck. Handed to game factories read-only.
type Library struct {
	Trivia []TriviaQuestion `yaml:"trivia"`
	Prices []PriceItem      `yaml:"prices"`
	Polls  []PollPrompt     `yaml:"polls"`
}

// deckFiles maps deck name to its file within the content directory.
var deckFiles = map[string]string{
	"trivia": "trivia.yaml",
	"prices": "prices.yaml",
	"polls":  "polls.yaml",
}

// Load reads decks from dir, falling back to the builtin library for
// any missing file so a bare checkout still runs.
func Load(dir string) (*Library, error) {
	lib := DefaultLibrary()
	if dir == "" {
		return lib, nil
	}
	for deck, file := range deckFiles {
		path := filepath.Join(dir, file)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				log.Debug().Str("deck", deck).Str("path", path).Msg("deck file missing, using builtin")
				continue
			}
			return nil, fmt.Errorf("read deck %s: %w", deck, err)
		}
		if err := lib.decode(deck, data); err != nil {
			return nil, fmt.Errorf("parse deck %s: %w", deck, err)
		}
		log.Info().Str("deck", deck).Str("path", path).Msg("deck loaded")
	}
	return lib, nil
}

func (l *Library) decode(deck string, data []byte) error {
	switch deck {
	case "trivia":
		var qs []TriviaQuestion
		if err := yaml.Unmarshal(data, &qs); err != nil {
			return err
		}
		for i, q := range qs {
			if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Choices) {
				return fmt.Errorf("question %d: correct_index out of range", i)
			}
		}
		l.Trivia = qs
	case "prices":
		var items []PriceItem
		if err := yaml.Unmarshal(data, &items); err != nil {
			return err
		}
		l.Prices = items
	case "polls":
		var polls []PollPrompt
		if err := yaml.Unmarshal(data, &polls); err != nil {
			return err
		}
		l.Polls = polls
	}
	return nil
}

// DefaultLibrary returns a small builtin deck set, enough to demo every
// minigame without any content files.
func DefaultLibrary() *Library {
	return &Library{
		Trivia: []TriviaQuestion{
			{Prompt: "Which planet has the most moons?", Choices: []string{"Earth", "Saturn", "Mars", "Venus"}, CorrectIndex: 1, Category: "space"},
			{Prompt: "What year did the first email get sent?", Choices: []string{"1965", "1971", "1983", "1990"}, CorrectIndex: 1, Category: "tech"},
			{Prompt: "How many hearts does an octopus have?", Choices: []string{"One", "Two", "Three", "Eight"}, CorrectIndex: 2, Category: "nature"},
			{Prompt: "Which country invented tea bags?", Choices: []string{"China", "India", "USA", "England"}, CorrectIndex: 2, Category: "food"},
			{Prompt: "What is the loudest animal on Earth?", Choices: []string{"Lion", "Howler monkey", "Sperm whale", "Elephant"}, CorrectIndex: 2, Category: "nature"},
		},
		Prices: []PriceItem{
			{Name: "Robot vacuum cleaner", Price: 299.99, Currency: "USD"},
			{Name: "Cast iron skillet", Price: 34.90, Currency: "USD"},
			{Name: "Noise cancelling headphones", Price: 179.00, Currency: "USD"},
			{Name: "Electric standing desk", Price: 449.00, Currency: "USD"},
		},
		Polls: []PollPrompt{
			{Prompt: "Best pizza topping?", Options: []string{"Pepperoni", "Mushrooms", "Pineapple", "Plain cheese"}},
			{Prompt: "Ideal vacation?", Options: []string{"Beach", "Mountains", "City trip", "Stay home"}},
			{Prompt: "Most useless superpower?", Options: []string{"Talk to furniture", "Invisible when alone", "Teleport one inch", "Control traffic lights"}},
		},
	}
}
