package recorder

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/chessduel/internal/domain"
	"github.com/park285/chessduel/internal/obslog"
	"github.com/park285/chessduel/internal/openingbook"
	"github.com/park285/chessduel/internal/rules"
)

var ErrNilRecord = errors.New("nil game record")

// Recorder persists finished games and lists recent ones, newest first.
type Recorder interface {
	SaveGame(ctx context.Context, rec *domain.GameRecord) error
	RecentGames(ctx context.Context, limit int) ([]*domain.GameRecord, error)
	Close() error
}

// complete derives SAN, opening and PGN for rec when the caller left them empty.
func complete(rec *domain.GameRecord) {
	if len(rec.MovesSAN) == 0 && len(rec.MovesUCI) > 0 {
		moves := make([]rules.Move, 0, len(rec.MovesUCI))
		for _, tok := range rec.MovesUCI {
			m, err := rules.ParseMove(tok)
			if err != nil {
				obslog.L().Warn("record_move_unparsable", zap.String("game_id", rec.ID), zap.String("move", tok))
				moves = nil
				break
			}
			moves = append(moves, m)
		}
		if moves != nil {
			san, err := rules.SANLineFrom(rec.StartFEN, moves)
			if err != nil {
				obslog.L().Warn("record_san_failed", zap.String("game_id", rec.ID), zap.Error(err))
			} else {
				rec.MovesSAN = san
			}
		}
	}
	if rec.ECO == "" {
		if o, ok := openingbook.Classify(rec.StartFEN, rec.MovesUCI); ok {
			rec.ECO, rec.Opening = o.Code, o.Title
		}
	}
	if strings.TrimSpace(rec.PGN) == "" {
		rec.PGN = buildPGN(rec)
	}
}
