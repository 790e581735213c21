package content

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLibraryHasEveryDeck(t *testing.T) {
	lib := DefaultLibrary()
	assert.NotEmpty(t, lib.Trivia)
	assert.NotEmpty(t, lib.Prices)
	assert.NotEmpty(t, lib.Polls)

	for i, q := range lib.Trivia {
		require.GreaterOrEqual(t, q.CorrectIndex, 0, "question %d", i)
		require.Less(t, q.CorrectIndex, len(q.Choices), "question %d", i)
	}
}

func TestLoadEmptyDirUsesBuiltins(t *testing.T) {
	lib, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultLibrary(), lib)
}

func TestLoadMissingFilesFallBackPerDeck(t *testing.T) {
	dir := t.TempDir()
	triviaYAML := `
- prompt: "Capital of France?"
  choices: ["Paris", "Lyon"]
  correct_index: 0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trivia.yaml"), []byte(triviaYAML), 0o644))

	lib, err := Load(dir)
	require.NoError(t, err)

	require.Len(t, lib.Trivia, 1)
	assert.Equal(t, "Capital of France?", lib.Trivia[0].Prompt)
	// Decks without a file keep the builtin content.
	assert.Equal(t, DefaultLibrary().Prices, lib.Prices)
	assert.Equal(t, DefaultLibrary().Polls, lib.Polls)
}

func TestLoadOverridesAllDecks(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"trivia.yaml": `[{prompt: "Q", choices: ["a", "b"], correct_index: 1}]`,
		"prices.yaml": `[{name: "Toaster", price: 25.50, currency: "EUR"}]`,
		"polls.yaml":  `[{prompt: "Cats or dogs?", options: ["Cats", "Dogs"]}]`,
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}

	lib, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, lib.Trivia, 1)
	assert.Equal(t, 1, lib.Trivia[0].CorrectIndex)
	require.Len(t, lib.Prices, 1)
	assert.Equal(t, 25.50, lib.Prices[0].Price)
	require.Len(t, lib.Polls, 1)
	assert.Equal(t, []string{"Cats", "Dogs"}, lib.Polls[0].Options)
}

func TestLoadRejectsOutOfRangeCorrectIndex(t *testing.T) {
	dir := t.TempDir()
	bad := `[{prompt: "Q", choices: ["a", "b"], correct_index: 5}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trivia.yaml"), []byte(bad), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "correct_index out of range")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "polls.yaml"), []byte("{not: [valid"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse deck polls")
}

func TestTriviaAnswerNeverSerializedToClients(t *testing.T) {
	q := DefaultLibrary().Trivia[0]
	// json tag "-" keeps the answer out of anything marshalled to players.
	data, err := json.Marshal(q)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "correct_index")
	assert.NotContains(t, string(data), "CorrectIndex")
}
