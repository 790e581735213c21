// Package base holds the minigame plugin registry. Each game package
// registers a factory in its init(); the service layer creates plugin
// instances by game type at session start.
package base

import (
	"fmt"
	"sync"

	"github.com/partydeck/partydeck/internal/content"
	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/session"
)

// Factory builds a fresh game instance for one session. The library is
// read-only shared content; the settings come from the room.
type Factory func(lib *content.Library, settings models.RoomSettings) (session.Game, error)

var (
	registry   = make(map[models.GameType]Factory)
	registryMu sync.RWMutex
)

// Register adds a game factory under a type. It should be called from
// each game package's init() function.
func Register(gameType models.GameType, factory Factory) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if gameType == "" {
		return fmt.Errorf("game type cannot be empty")
	}
	if _, exists := registry[gameType]; exists {
		return fmt.Errorf("game already registered for type %q", gameType)
	}
	registry[gameType] = factory
	return nil
}

// Create instantiates a game of the given type.
func Create(gameType models.GameType, lib *content.Library, settings models.RoomSettings) (session.Game, error) {
	registryMu.RLock()
	factory, exists := registry[gameType]
	registryMu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no game registered for type %q", gameType)
	}
	return factory(lib, settings)
}

// Types returns every registered game type.
func Types() []models.GameType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]models.GameType, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	return types
}
