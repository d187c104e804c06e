// Package session holds the state shared by the ingestion pipeline for the
// lifetime of one backend: when it started, who the local user is, the
// roster and the current game phase.
package session

import "time"

type Session struct {
	// StartedAt is fixed at construction and used as the reference point
	// for rejecting replayed history.
	StartedAt time.Time
	Identity  *Identity
	Roster    *Roster
	GameState *GameStateSignal
}

func New(startedAt time.Time) *Session {
	return &Session{
		StartedAt: startedAt,
		Identity:  &Identity{},
		Roster:    NewRoster(),
		GameState: &GameStateSignal{},
	}
}
