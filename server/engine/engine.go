package engine

import (
	"context"
	"errors"
	"fmt"
)

// Game is the contract of a single running match on the rules engine.
// The engine is authoritative: it decides legality, turn order and victory.
type Game interface {
	ID() string
	CurrentPlayer(ctx context.Context) (PlayerID, error)
	LegalActions(ctx context.Context) ([]Action, error)
	Apply(ctx context.Context, a Action) error
	Over(ctx context.Context) (bool, error)
	// Winner reports ok=false while the game has no winner.
	Winner(ctx context.Context) (PlayerID, bool, error)
	VictoryPoints(ctx context.Context, p PlayerID) (int, error)
	// Snapshot returns the raw engine state document read by the state package.
	Snapshot(ctx context.Context) ([]byte, error)
}

// Factory starts new games with the given seats in seating order.
type Factory interface {
	NewGame(ctx context.Context, seats []PlayerID, seed int64) (Game, error)
}

// IllegalActionError is returned when the engine rejects an applied action.
type IllegalActionError struct {
	Action Action
	Reason string
}

func (e *IllegalActionError) Error() string {
	return fmt.Sprintf("illegal action %s by %s: %s", e.Action.Kind, e.Action.Player, e.Reason)
}

// ErrContract is matched by every EngineContractError.
var ErrContract = errors.New("engine contract violation")

// EngineContractError reports an impossible engine state, e.g. no legal
// actions while the game is not over.
type EngineContractError struct {
	Op  string
	Msg string
	Err error
}

func (e *EngineContractError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", ErrContract, e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", ErrContract, e.Op, e.Msg)
}

func (e *EngineContractError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrContract, e.Err}
	}
	return []error{ErrContract}
}

func Contract(op, msg string, err error) error {
	return &EngineContractError{Op: op, Msg: msg, Err: err}
}
