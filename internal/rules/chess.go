package rules

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Position is an immutable snapshot owned by whoever holds it.
type Position interface {
	FEN() string
	Turn() Color
}

// Engine is the rules capability the session consults. Implementations must treat
// Position values as immutable.
type Engine interface {
	Start() Position
	FromFEN(fen string) (Position, error)
	LegalMoves(p Position) []Move
	Apply(p Position, m Move) (Position, error)
	Status(p Position) Status
	IsPromotion(p Position, m Move) bool
}

// ChessRules implements Engine over corentings/chess.
type ChessRules struct{}

func NewChessRules() *ChessRules { return &ChessRules{} }

type position struct {
	game *nchess.Game
}

func (p *position) FEN() string { return p.game.FEN() }

func (p *position) Turn() Color {
	if p.game.Position().Turn() == nchess.White {
		return White
	}
	return Black
}

func (r *ChessRules) Start() Position {
	return &position{game: nchess.NewGame()}
}

func (r *ChessRules) FromFEN(fen string) (Position, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return r.Start(), nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFEN, err)
	}
	return &position{game: nchess.NewGame(opt)}, nil
}

func (r *ChessRules) LegalMoves(p Position) []Move {
	g := gameOf(p)
	if g == nil || g.Outcome() != nchess.NoOutcome {
		return nil
	}
	valid := g.ValidMoves()
	out := make([]Move, 0, len(valid))
	for _, mv := range valid {
		m, err := ParseMove(mv.String())
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Apply returns the position after m. The input position is left untouched.
func (r *ChessRules) Apply(p Position, m Move) (Position, error) {
	g := gameOf(p)
	if g == nil {
		return nil, fmt.Errorf("unknown position implementation %T", p)
	}
	if !Contains(r.LegalMoves(p), m) {
		return nil, fmt.Errorf("%w: %s", ErrIllegalMove, m)
	}
	next := g.Clone()
	mv, err := nchess.UCINotation{}.Decode(next.Position(), m.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIllegalMove, m, err)
	}
	if err := next.Move(mv, nil); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIllegalMove, m, err)
	}
	return &position{game: next}, nil
}

func (r *ChessRules) Status(p Position) Status {
	g := gameOf(p)
	if g == nil {
		return Status{}
	}
	var st Status
	switch g.Method() {
	case nchess.Checkmate:
		st.Checkmate = true
	case nchess.Stalemate:
		st.Stalemate = true
	case nchess.ThreefoldRepetition, nchess.FivefoldRepetition:
		st.Repetition = true
	case nchess.InsufficientMaterial:
		st.InsufficientMaterial = true
	case nchess.FiftyMoveRule, nchess.SeventyFiveMoveRule:
		st.Draw = true
	}
	if !st.Terminal() && g.Outcome() == nchess.Draw {
		st.Draw = true
	}
	if g.Outcome() == nchess.NoOutcome {
		// claimable draws end the game without a claim, matching the mobile client
		for _, method := range g.EligibleDraws() {
			switch method {
			case nchess.ThreefoldRepetition:
				st.Repetition = true
			case nchess.FiftyMoveRule:
				st.Draw = true
			}
		}
	}
	return st
}

// IsPromotion reports whether m moves a pawn of the side to move onto its last rank.
func (r *ChessRules) IsPromotion(p Position, m Move) bool {
	g := gameOf(p)
	if g == nil {
		return false
	}
	pos := g.Position()
	piece := pos.Board().Piece(libSquare(m.From))
	if piece == nchess.NoPiece || piece.Type() != nchess.Pawn || piece.Color() != pos.Turn() {
		return false
	}
	if piece.Color() == nchess.White {
		return m.To.Rank() == 7
	}
	return m.To.Rank() == 0
}

// SANLine replays moves from the start position and returns their SAN renderings.
func SANLine(moves []Move) ([]string, error) { return SANLineFrom("", moves) }

// SANLineFrom is SANLine for a game that began at fen.
func SANLineFrom(fen string, moves []Move) ([]string, error) {
	start, err := NewChessRules().FromFEN(fen)
	if err != nil {
		return nil, err
	}
	game := gameOf(start)
	san := make([]string, 0, len(moves))
	for _, m := range moves {
		pos := game.Position()
		mv, err := nchess.UCINotation{}.Decode(pos, m.String())
		if err != nil {
			return nil, fmt.Errorf("decode move %s: %w", m, err)
		}
		text := nchess.AlgebraicNotation{}.Encode(pos, mv)
		if err := game.Move(mv, nil); err != nil {
			return nil, fmt.Errorf("apply move %s: %w", m, err)
		}
		san = append(san, text)
	}
	return san, nil
}

// Contains reports structural membership of m in moves.
func Contains(moves []Move, m Move) bool {
	for _, c := range moves {
		if c == m {
			return true
		}
	}
	return false
}

// TargetsFrom returns destination squares reachable from sq, promotions collapsed.
func TargetsFrom(moves []Move, from Square) []Square {
	seen := make(map[Square]struct{})
	var out []Square
	for _, m := range moves {
		if m.From != from {
			continue
		}
		if _, ok := seen[m.To]; ok {
			continue
		}
		seen[m.To] = struct{}{}
		out = append(out, m.To)
	}
	return out
}

func gameOf(p Position) *nchess.Game {
	pp, ok := p.(*position)
	if !ok || pp == nil {
		return nil
	}
	return pp.game
}

func libSquare(s Square) nchess.Square {
	return nchess.NewSquare(nchess.File(s.File()), nchess.Rank(s.Rank()))
}
