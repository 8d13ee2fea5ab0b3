package domain

import "time"

// GameRecord is the finished-game payload handed to a recorder.
type GameRecord struct {
	ID       string   `json:"id"`
	Mode     string   `json:"mode"`
	// Role is the peer role for remote games and the human's color for engine games.
	Role     string   `json:"role,omitempty"`
	Result   string   `json:"result"`
	Method   string   `json:"method,omitempty"`
	MoveLog  string   `json:"move_log"`
	MovesUCI []string `json:"moves_uci"`
	MovesSAN []string `json:"moves_san,omitempty"`
	ECO      string   `json:"eco,omitempty"`
	Opening  string   `json:"opening,omitempty"`
	// StartFEN is empty for games from the standard position.
	StartFEN  string        `json:"start_fen,omitempty"`
	PGN       string        `json:"pgn,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"duration_ns"`
}
