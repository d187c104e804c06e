package session

import (
	"encoding/json"
	"strings"
	"sync"
)

// GameState is the coarse phase of the game client, reported through
// presence updates.
type GameState int

const (
	Unknown GameState = iota
	Menus
	Pregame
	Ingame
)

var gameStateNames = map[GameState]string{
	Unknown: "UNKNOWN",
	Menus:   "MENUS",
	Pregame: "PREGAME",
	Ingame:  "INGAME",
}

var gameStateFromName = map[string]GameState{
	"UNKNOWN": Unknown,
	"MENUS":   Menus,
	"PREGAME": Pregame,
	"INGAME":  Ingame,
}

func (g GameState) String() string {
	if s, ok := gameStateNames[g]; ok {
		return s
	}
	return "UNKNOWN"
}

// ParseGameState maps a sessionLoopState value to a GameState. Matching is
// case-insensitive and anything unrecognised is Unknown.
func ParseGameState(s string) GameState {
	if g, ok := gameStateFromName[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return g
	}
	return Unknown
}

func (g GameState) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.String())
}

func (g *GameState) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*g = ParseGameState(s)
	return nil
}

// GameStateSignal holds the most recently observed game state. The last
// write wins; there is no ordering between concurrent writers.
type GameStateSignal struct {
	mu    sync.RWMutex
	state GameState
}

// Set stores state and reports whether it differs from the previous value.
func (s *GameStateSignal) Set(state GameState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.state != state
	s.state = state
	return changed
}

func (s *GameStateSignal) Get() GameState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}
