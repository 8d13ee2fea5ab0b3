package app

import (
	"context"
	"errors"
	"strings"

	"github.com/park285/chessduel/internal/rules"
	"github.com/park285/chessduel/internal/session"
)

// HandleLine interprets one line of player input. It reports true when the player quit.
func (a *App) HandleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	fields := strings.Fields(strings.ToLower(line))
	cmd := fields[0]

	var err error
	switch cmd {
	case "quit", "exit", "resign":
		err = a.Session.Abandon(ctx, cmd)
		if err != nil && !errors.Is(err, session.ErrGameOver) && !errors.Is(err, session.ErrSessionClosed) {
			a.Presenter.Error(err, line)
		}
		return true
	case "help", "?":
		a.Presenter.Help()
		return false
	case "board":
		var snap session.Snapshot
		if snap, err = a.Session.Snapshot(ctx); err == nil {
			a.Presenter.Board(snap)
			a.Presenter.Prompt(snap)
		}
	case "cancel":
		err = a.Session.CancelPromotion(ctx)
	case "retry":
		err = a.Session.RequestEngineMove(ctx)
	case "history":
		err = a.showHistory(ctx)
	case "targets":
		if len(fields) != 2 {
			err = rules.ErrMalformedMove
			break
		}
		err = a.showTargets(ctx, fields[1])
	default:
		err = a.play(ctx, cmd)
	}
	if err != nil {
		a.Presenter.Error(err, line)
	}
	return false
}

func (a *App) play(ctx context.Context, token string) error {
	snap, err := a.Session.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.State == session.StateAwaitingPromotion && len(token) == 1 {
		kind, _ := rules.ParsePieceKind(token)
		return a.Session.ResolvePromotion(ctx, kind)
	}
	m, err := rules.ParseMove(token)
	if err != nil {
		return err
	}
	side := snap.Turn
	if snap.Mode == session.ModeRemote {
		side = snap.Role.Color()
	}
	return a.Session.ProposeMove(ctx, side, m)
}

func (a *App) showHistory(ctx context.Context) error {
	recs, err := a.History(ctx)
	if err != nil {
		return err
	}
	a.Presenter.History(recs)
	return nil
}

func (a *App) showTargets(ctx context.Context, token string) error {
	from, err := rules.ParseSquare(token)
	if err != nil {
		return err
	}
	targets, err := a.Session.LegalTargets(ctx, from)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		a.Presenter.Info("targets.none", map[string]any{"From": from.String()})
		return nil
	}
	names := make([]string, 0, len(targets))
	for _, t := range targets {
		names = append(names, t.String())
	}
	a.Presenter.Info("targets.some", map[string]any{"From": from.String(), "Targets": strings.Join(names, " ")})
	return nil
}
