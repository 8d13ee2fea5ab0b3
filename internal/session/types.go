package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/park285/chessduel/internal/domain"
	"github.com/park285/chessduel/internal/rules"
)

// Mode is fixed for the lifetime of a session.
type Mode int

const (
	ModeLocal Mode = iota
	ModeEngine
	ModeRemote
)

func (m Mode) String() string {
	switch m {
	case ModeEngine:
		return "ENGINE"
	case ModeRemote:
		return "REMOTE"
	default:
		return "LOCAL"
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "local":
		return ModeLocal, nil
	case "engine", "ai":
		return ModeEngine, nil
	case "remote", "peer", "host", "join":
		return ModeRemote, nil
	default:
		return ModeLocal, fmt.Errorf("unknown game mode %q", s)
	}
}

// Role is the peer role in ModeRemote. The host always plays white.
type Role int

const (
	RoleHost Role = iota
	RoleJoiner
)

func (r Role) String() string {
	if r == RoleJoiner {
		return "joiner"
	}
	return "host"
}

// Color returns the side played by this role.
func (r Role) Color() rules.Color {
	if r == RoleJoiner {
		return rules.Black
	}
	return rules.White
}

// Source identifies where a move candidate came from.
type Source int

const (
	SourceLocal Source = iota
	SourceRemote
	SourceEngine
)

func (s Source) String() string {
	switch s {
	case SourceRemote:
		return "remote"
	case SourceEngine:
		return "engine"
	default:
		return "local"
	}
}

// State is the turn authority state.
type State int

const (
	StateWaitingForInput State = iota
	StateAwaitingPromotion
	StateAwaitingRemoteMove
	StateAwaitingEngineMove
	StateGameOver
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateWaitingForInput:
		return "waiting_for_input"
	case StateAwaitingPromotion:
		return "awaiting_promotion"
	case StateAwaitingRemoteMove:
		return "awaiting_remote_move"
	case StateAwaitingEngineMove:
		return "awaiting_engine_move"
	case StateGameOver:
		return "game_over"
	case StateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further moves can be applied.
func (s State) Terminal() bool { return s == StateGameOver || s == StateAbandoned }

// Peer transmits locally applied moves to the remote side.
type Peer interface {
	Send(ctx context.Context, m rules.Move) error
}

// MoveProvider requests a move suggestion for a position. done must be called exactly once,
// from any goroutine, with ok=false on every kind of failure.
type MoveProvider interface {
	Request(ctx context.Context, fen string, done func(token string, ok bool))
}

// Recorder persists finished games.
type Recorder interface {
	SaveGame(ctx context.Context, rec *domain.GameRecord) error
}

// Listener receives session events on the session goroutine. It must not call back into
// the session synchronously.
type Listener func(Event)

// EventKind classifies session events.
type EventKind int

const (
	EventMoveApplied EventKind = iota
	EventPromotionRequired
	EventPromotionCancelled
	EventAwaitingEngine
	EventEngineUnavailable
	EventProtocolFault
	EventLinkFailure
	EventGameOver
	EventAbandoned
)

func (k EventKind) String() string {
	switch k {
	case EventMoveApplied:
		return "move_applied"
	case EventPromotionRequired:
		return "promotion_required"
	case EventPromotionCancelled:
		return "promotion_cancelled"
	case EventAwaitingEngine:
		return "awaiting_engine"
	case EventEngineUnavailable:
		return "engine_unavailable"
	case EventProtocolFault:
		return "protocol_fault"
	case EventLinkFailure:
		return "link_failure"
	case EventGameOver:
		return "game_over"
	case EventAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Event is emitted after every state change.
type Event struct {
	Kind     EventKind
	Source   Source
	Move     rules.Move
	Err      error
	Snapshot Snapshot
}

// Snapshot is a read-only copy of the session for presentation.
type Snapshot struct {
	ID             string
	Mode           Mode
	Role           Role
	State          State
	Turn           rules.Color
	FEN            string
	Moves          []string
	Pending        string
	Result         rules.Result
	Method         rules.Method
	EngineFallback bool
	Faults         int
}
