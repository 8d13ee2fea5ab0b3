package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/park285/chessduel/internal/domain"
	"github.com/park285/chessduel/internal/obslog"
)

const schemaSQL = `CREATE TABLE IF NOT EXISTS duel_games (
    game_id     TEXT PRIMARY KEY,
    mode        TEXT NOT NULL,
    role        TEXT NOT NULL DEFAULT '',
    result      TEXT NOT NULL,
    result_method TEXT NOT NULL DEFAULT '',
    move_log    TEXT NOT NULL,
    moves_uci   JSONB NOT NULL,
    moves_san   JSONB NOT NULL,
    eco         TEXT NOT NULL DEFAULT '',
    opening     TEXT NOT NULL DEFAULT '',
    start_fen   TEXT NOT NULL DEFAULT '',
    pgn         TEXT NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    ended_at    TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL
);
ALTER TABLE duel_games ADD COLUMN IF NOT EXISTS eco TEXT NOT NULL DEFAULT '';
ALTER TABLE duel_games ADD COLUMN IF NOT EXISTS opening TEXT NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS duel_games_ended_at_idx ON duel_games (ended_at DESC);`

// Postgres stores records in the duel_games table.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// EnsureSchema creates the table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// SaveGame upserts rec by game id.
func (p *Postgres) SaveGame(ctx context.Context, rec *domain.GameRecord) error {
	if rec == nil {
		return ErrNilRecord
	}
	cp := *rec
	complete(&cp)

	movesUCI, err := json.Marshal(nonNil(cp.MovesUCI))
	if err != nil {
		return fmt.Errorf("marshal moves_uci: %w", err)
	}
	movesSAN, err := json.Marshal(nonNil(cp.MovesSAN))
	if err != nil {
		return fmt.Errorf("marshal moves_san: %w", err)
	}
	duration := cp.Duration.Milliseconds()
	if duration < 0 {
		duration = 0
	}

	const q = `INSERT INTO duel_games (
        game_id, mode, role, result, result_method, move_log,
        moves_uci, moves_san, eco, opening, start_fen, pgn, started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7::jsonb,$8::jsonb,$9,$10,$11,$12,$13,$14,$15
      ) ON CONFLICT (game_id) DO UPDATE SET
        mode=EXCLUDED.mode,
        role=EXCLUDED.role,
        result=EXCLUDED.result,
        result_method=EXCLUDED.result_method,
        move_log=EXCLUDED.move_log,
        moves_uci=EXCLUDED.moves_uci,
        moves_san=EXCLUDED.moves_san,
        eco=EXCLUDED.eco,
        opening=EXCLUDED.opening,
        start_fen=EXCLUDED.start_fen,
        pgn=EXCLUDED.pgn,
        started_at=EXCLUDED.started_at,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

	_, err = p.db.ExecContext(ctx, q,
		cp.ID, cp.Mode, cp.Role, cp.Result, strings.TrimSpace(cp.Method), cp.MoveLog,
		string(movesUCI), string(movesSAN), cp.ECO, cp.Opening, cp.StartFEN, cp.PGN,
		cp.StartedAt, cp.EndedAt, duration,
	)
	if err != nil {
		obslog.L().Error("game_persist_error", zap.String("game_id", cp.ID), zap.Error(err))
		return err
	}
	obslog.L().Info("game_persist", zap.String("game_id", cp.ID), zap.String("result", cp.Result), zap.String("method", cp.Method))
	return nil
}

func (p *Postgres) RecentGames(ctx context.Context, limit int) ([]*domain.GameRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `SELECT game_id, mode, role, result, result_method, move_log,
        moves_uci, moves_san, eco, opening, start_fen, pgn, started_at, ended_at, duration_ms
      FROM duel_games ORDER BY ended_at DESC LIMIT $1`

	rows, err := p.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent games: %w", err)
	}
	defer rows.Close()

	var out []*domain.GameRecord
	for rows.Next() {
		var (
			rec        domain.GameRecord
			uciRaw     []byte
			sanRaw     []byte
			durationMS int64
		)
		if err := rows.Scan(&rec.ID, &rec.Mode, &rec.Role, &rec.Result, &rec.Method, &rec.MoveLog,
			&uciRaw, &sanRaw, &rec.ECO, &rec.Opening, &rec.StartFEN, &rec.PGN, &rec.StartedAt, &rec.EndedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		if err := json.Unmarshal(uciRaw, &rec.MovesUCI); err != nil {
			return nil, fmt.Errorf("decode moves_uci: %w", err)
		}
		if err := json.Unmarshal(sanRaw, &rec.MovesSAN); err != nil {
			return nil, fmt.Errorf("decode moves_san: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
