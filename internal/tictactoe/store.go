package tictactoe

import (
	"context"
	"time"
)

// Commit tells the store what to do with a mutated game.
type Commit int

const (
	// CommitSave writes the game and board back.
	CommitSave Commit = iota
	// CommitDelete removes the game and its board.
	CommitDelete
	// CommitArchive removes the live records and keeps a rematch ticket for the replay window.
	CommitArchive
)

// MutateFunc edits g and b in place. It may run more than once when a concurrent writer wins.
type MutateFunc func(g *Game, b *Board) (Commit, error)

// Store persists games and boards. Mutate and Restore are atomic per game id.
type Store interface {
	Create(ctx context.Context, g *Game, b Board) error
	Load(ctx context.Context, id string) (*Game, Board, error)
	Mutate(ctx context.Context, id string, fn MutateFunc) (*Game, Board, error)
	// Restore recreates an archived game from its rematch ticket.
	Restore(ctx context.Context, id string, fn func(g *Game) error) (*Game, Board, error)
	Delete(ctx context.Context, id string) (*Game, Board, error)
	// ListStale returns up to limit games created before the cutoff, oldest first.
	ListStale(ctx context.Context, before time.Time, limit int) ([]*Game, error)
}
