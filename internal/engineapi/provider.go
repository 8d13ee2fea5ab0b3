package engineapi

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Provider adapts a Suggester to the session's asynchronous callback contract.
type Provider struct {
	suggester Suggester
	logger    *zap.Logger

	wg sync.WaitGroup
}

func NewProvider(s Suggester, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{suggester: s, logger: logger}
}

// Request runs one suggestion off the caller's goroutine and reports it through done
// exactly once. Failures of any kind arrive as ok=false.
func (p *Provider) Request(ctx context.Context, fen string, done func(token string, ok bool)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		start := time.Now()
		token, err := p.suggest(ctx, fen)
		if err != nil {
			p.logger.Warn("engine_request_failed",
				zap.String("fen", fen),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err),
			)
			done("", false)
			return
		}
		p.logger.Debug("engine_suggestion",
			zap.String("fen", fen),
			zap.String("move", token),
			zap.Duration("elapsed", time.Since(start)),
		)
		done(token, true)
	}()
}

func (p *Provider) suggest(ctx context.Context, fen string) (token string, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("engine_suggester_panic", zap.Any("panic", r))
			token, err = "", ErrUnavailable
		}
	}()
	return p.suggester.Suggest(ctx, fen)
}

// Wait blocks until every outstanding request has reported.
func (p *Provider) Wait() { p.wg.Wait() }
