package openingbook

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	chesslib "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"

	"github.com/park285/chessduel/internal/rules"
)

// Opening is an ECO classification.
type Opening struct {
	Code  string
	Title string
}

var (
	ecoOnce sync.Once
	ecoBook *opening.BookECO
)

func eco() *opening.BookECO {
	ecoOnce.Do(func() { ecoBook = opening.NewBookECO() })
	return ecoBook
}

// Classify names the deepest known opening reached by moves. Games that did not start
// from the standard position are not classified.
func Classify(startFEN string, moves []string) (Opening, bool) {
	if fen := strings.TrimSpace(startFEN); fen != "" && fen != "startpos" && fen != rules.StartFEN {
		return Opening{}, false
	}
	if len(moves) == 0 {
		return Opening{}, false
	}
	game, err := buildGameFromPosition("", moves)
	if err != nil {
		return Opening{}, false
	}
	o := eco().Find(game.Moves())
	if o == nil {
		return Opening{}, false
	}
	return Opening{Code: o.Code(), Title: o.Title()}, true
}

// Book is a Polyglot opening book.
type Book struct {
	book *chesslib.PolyglotBook
}

// Load reads a Polyglot .bin file.
func Load(path string) (*Book, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("polyglot book path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open polyglot book %q: %w", path, err)
	}
	defer file.Close()
	return LoadReader(file)
}

func LoadReader(r io.Reader) (*Book, error) {
	book, err := chesslib.LoadFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("load polyglot book: %w", err)
	}
	return &Book{book: book}, nil
}

// Move returns the heaviest book move for fen in long algebraic form. ok is false when
// the position is not in the book or the stored move is not legal there.
func (b *Book) Move(fen string) (string, bool, error) {
	if b == nil || b.book == nil {
		return "", false, nil
	}
	game, err := buildGameFromPosition(fen, nil)
	if err != nil {
		return "", false, err
	}

	hashStr, err := chesslib.NewZobristHasher().HashPosition(game.FEN())
	if err != nil {
		return "", false, fmt.Errorf("compute polyglot hash: %w", err)
	}
	entries := b.book.FindMoves(chesslib.ZobristHashToUint64(hashStr))
	if len(entries) == 0 {
		return "", false, nil
	}
	best := entries[0]
	for _, e := range entries[1:] {
		if e.Weight > best.Weight {
			best = e
		}
	}

	move := chesslib.DecodeMove(best.Move).ToMove()
	uciMove := move.String()
	if err := game.PushNotationMove(uciMove, chesslib.UCINotation{}, nil); err != nil {
		return "", false, nil
	}
	return uciMove, true, nil
}

func buildGameFromPosition(fen string, moves []string) (*chesslib.Game, error) {
	var game *chesslib.Game
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		game = chesslib.NewGame()
	} else {
		option, err := chesslib.FEN(fen)
		if err != nil {
			return nil, fmt.Errorf("parse fen %q: %w", fen, err)
		}
		game = chesslib.NewGame(option)
	}
	for _, mv := range moves {
		if err := game.PushNotationMove(mv, chesslib.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("apply move %q: %w", mv, err)
		}
	}
	return game, nil
}
