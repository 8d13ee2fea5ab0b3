package engineapi

import (
	"context"

	"go.uber.org/zap"

	"github.com/park285/chessduel/internal/rules"
)

// Opener supplies book moves for known positions.
type Opener interface {
	Move(fen string) (string, bool, error)
}

// BookSuggester answers from an opening book and falls through to next when the
// position is out of book.
type BookSuggester struct {
	book   Opener
	next   Suggester
	logger *zap.Logger
}

func NewBookSuggester(book Opener, next Suggester, logger *zap.Logger) *BookSuggester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookSuggester{book: book, next: next, logger: logger}
}

func (b *BookSuggester) Suggest(ctx context.Context, fen string) (string, error) {
	mv, ok, err := b.book.Move(fen)
	if err != nil {
		b.logger.Warn("book_lookup_failed", zap.String("fen", fen), zap.Error(err))
	}
	if ok {
		if _, perr := rules.ParseMove(mv); perr == nil {
			b.logger.Debug("book_move", zap.String("fen", fen), zap.String("move", mv))
			return mv, nil
		}
	}
	return b.next.Suggest(ctx, fen)
}
