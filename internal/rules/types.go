package rules

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedMove = errors.New("malformed move token")
	ErrIllegalMove   = errors.New("illegal move")
	ErrInvalidFEN    = errors.New("invalid position string")
)

// Color identifies a side.
type Color int8

const (
	White Color = iota
	Black
)

func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

func (c Color) String() string {
	if c == White {
		return "white"
	}
	return "black"
}

// ParseColor accepts white/black and their first letters.
func ParseColor(s string) (Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White, nil
	case "black", "b":
		return Black, nil
	default:
		return White, fmt.Errorf("unknown color %q", s)
	}
}

// Square is a board square, a1 = 0 through h8 = 63.
type Square uint8

func NewSquare(file, rank int) Square { return Square(rank*8 + file) }

func (s Square) File() int { return int(s) % 8 }
func (s Square) Rank() int { return int(s) / 8 }

func (s Square) String() string {
	return string([]byte{byte('a' + s.File()), byte('1' + s.Rank())})
}

func ParseSquare(s string) (Square, error) {
	if len(s) != 2 {
		return 0, fmt.Errorf("%w: square %q", ErrMalformedMove, s)
	}
	f, r := s[0], s[1]
	if f < 'a' || f > 'h' || r < '1' || r > '8' {
		return 0, fmt.Errorf("%w: square %q", ErrMalformedMove, s)
	}
	return NewSquare(int(f-'a'), int(r-'1')), nil
}

func MustParseSquare(s string) Square {
	sq, err := ParseSquare(s)
	if err != nil {
		panic(err)
	}
	return sq
}

// PieceKind is the promotion piece of a move. NoPromotion is the zero value.
type PieceKind int8

const (
	NoPromotion PieceKind = iota
	Queen
	Rook
	Bishop
	Knight
)

// PromotionKinds lists the four legal promotion choices in dialog order.
var PromotionKinds = []PieceKind{Queen, Rook, Bishop, Knight}

func (k PieceKind) Letter() string {
	switch k {
	case Queen:
		return "q"
	case Rook:
		return "r"
	case Bishop:
		return "b"
	case Knight:
		return "n"
	default:
		return ""
	}
}

func (k PieceKind) String() string {
	switch k {
	case Queen:
		return "queen"
	case Rook:
		return "rook"
	case Bishop:
		return "bishop"
	case Knight:
		return "knight"
	default:
		return "none"
	}
}

// Valid reports whether k is one of the four promotion choices.
func (k PieceKind) Valid() bool { return k >= Queen && k <= Knight }

// ParsePieceKind accepts a letter (q, r, b, n) or the full name.
func ParsePieceKind(s string) (PieceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "q", "queen":
		return Queen, nil
	case "r", "rook":
		return Rook, nil
	case "b", "bishop":
		return Bishop, nil
	case "n", "knight":
		return Knight, nil
	default:
		return NoPromotion, fmt.Errorf("unknown promotion piece %q", s)
	}
}

// Move is an origin/destination pair with an optional promotion kind.
type Move struct {
	From      Square
	To        Square
	Promotion PieceKind
}

// String renders the long algebraic token, e.g. e2e4 or e7e8q.
func (m Move) String() string {
	return m.From.String() + m.To.String() + m.Promotion.Letter()
}

// WithPromotion returns a copy of m carrying kind.
func (m Move) WithPromotion(kind PieceKind) Move {
	m.Promotion = kind
	return m
}

// ParseMove decodes a long algebraic token.
func ParseMove(token string) (Move, error) {
	t := strings.ToLower(strings.TrimSpace(token))
	if len(t) != 4 && len(t) != 5 {
		return Move{}, fmt.Errorf("%w: %q", ErrMalformedMove, token)
	}
	from, err := ParseSquare(t[0:2])
	if err != nil {
		return Move{}, err
	}
	to, err := ParseSquare(t[2:4])
	if err != nil {
		return Move{}, err
	}
	if from == to {
		return Move{}, fmt.Errorf("%w: %q", ErrMalformedMove, token)
	}
	mv := Move{From: from, To: to}
	if len(t) == 5 {
		kind, err := ParsePieceKind(t[4:])
		if err != nil {
			return Move{}, fmt.Errorf("%w: %q", ErrMalformedMove, token)
		}
		mv.Promotion = kind
	}
	return mv, nil
}

// MustParseMove is ParseMove for literals in tests and tables.
func MustParseMove(token string) Move {
	mv, err := ParseMove(token)
	if err != nil {
		panic(err)
	}
	return mv
}

// RenderLog renders moves as their tokens.
func RenderLog(moves []Move) []string {
	out := make([]string, 0, len(moves))
	for _, m := range moves {
		out = append(out, m.String())
	}
	return out
}

// Result is the derived outcome of a game.
type Result int8

const (
	Unresolved Result = iota
	WhiteWon
	BlackWon
	Draw
)

func (r Result) String() string {
	switch r {
	case WhiteWon:
		return "white"
	case BlackWon:
		return "black"
	case Draw:
		return "draw"
	default:
		return "unresolved"
	}
}

// Method names how a game terminated.
type Method int8

const (
	NoMethod Method = iota
	Checkmate
	Stalemate
	Repetition
	InsufficientMaterial
	OtherDraw
)

func (m Method) String() string {
	switch m {
	case Checkmate:
		return "checkmate"
	case Stalemate:
		return "stalemate"
	case Repetition:
		return "repetition"
	case InsufficientMaterial:
		return "insufficient_material"
	case OtherDraw:
		return "draw"
	default:
		return ""
	}
}

// Status carries the termination flags reported for a position.
type Status struct {
	Checkmate            bool
	Stalemate            bool
	Repetition           bool
	InsufficientMaterial bool
	Draw                 bool
}

func (s Status) Terminal() bool {
	return s.Checkmate || s.Stalemate || s.Repetition || s.InsufficientMaterial || s.Draw
}

func (s Status) Method() Method {
	switch {
	case s.Checkmate:
		return Checkmate
	case s.Stalemate:
		return Stalemate
	case s.Repetition:
		return Repetition
	case s.InsufficientMaterial:
		return InsufficientMaterial
	case s.Draw:
		return OtherDraw
	default:
		return NoMethod
	}
}

// Result derives the outcome given the side to move in the evaluated position.
func (s Status) Result(toMove Color) Result {
	switch {
	case s.Checkmate:
		if toMove == White {
			return BlackWon
		}
		return WhiteWon
	case s.Terminal():
		return Draw
	default:
		return Unresolved
	}
}
