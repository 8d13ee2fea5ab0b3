package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/chessduel/internal/domain"
	"github.com/park285/chessduel/internal/rules"
)

const defaultRecordTimeout = 10 * time.Second

// Config fixes the shape of a session at creation.
type Config struct {
	Mode Mode
	// Role is used in ModeRemote only.
	Role Role
	// HumanColor is the side the local player controls in ModeEngine.
	HumanColor rules.Color
	// TolerateFaults keeps the session open after a remote protocol fault. By default the
	// first fault abandons it.
	TolerateFaults bool
	// StartFEN overrides the initial position; empty means the standard start.
	StartFEN      string
	RecordTimeout time.Duration
}

// Deps are the collaborators of a session. Rules is required; Peer is required in
// ModeRemote and Engine in ModeEngine.
type Deps struct {
	Rules    rules.Engine
	Peer     Peer
	Engine   MoveProvider
	Recorder Recorder
	Listener Listener
	Logger   *zap.Logger
}

type command struct {
	fn    func() error
	reply chan error
}

// Session is the turn authority. All state below is owned by the goroutine started in
// Start; every external event reaches it through inbox.
type Session struct {
	id     string
	cfg    Config
	rules  rules.Engine
	peer   Peer
	engine MoveProvider
	rec    Recorder
	notify Listener
	logger *zap.Logger

	inbox     chan command
	done      chan struct{}
	cancel    context.CancelFunc
	runCtx    context.Context
	startOnce sync.Once
	closeOnce sync.Once

	pos            rules.Position
	moves          []rules.Move
	state          State
	pending        *rules.Move
	engineReq      uint64
	engineFallback bool
	faults         int
	startedAt      time.Time
}

// New validates cfg and deps and builds a session in its initial state. Call Start before use.
func New(cfg Config, deps Deps) (*Session, error) {
	if deps.Rules == nil {
		return nil, fmt.Errorf("rules engine is required")
	}
	switch cfg.Mode {
	case ModeRemote:
		if deps.Peer == nil {
			return nil, fmt.Errorf("peer link is required for %s mode", cfg.Mode)
		}
	case ModeEngine:
		if deps.Engine == nil {
			return nil, fmt.Errorf("move provider is required for %s mode", cfg.Mode)
		}
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = defaultRecordTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	pos, err := deps.Rules.FromFEN(cfg.StartFEN)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:        uuid.NewString(),
		cfg:       cfg,
		rules:     deps.Rules,
		peer:      deps.Peer,
		engine:    deps.Engine,
		rec:       deps.Recorder,
		notify:    deps.Listener,
		inbox:     make(chan command),
		done:      make(chan struct{}),
		pos:       pos,
		startedAt: time.Now(),
	}
	s.logger = logger.With(zap.String("session_id", s.id), zap.String("mode", cfg.Mode.String()))
	s.state = s.inputStateFor(pos.Turn())
	if deps.Rules.Status(pos).Terminal() {
		s.state = StateGameOver
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Done is closed once the session goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start launches the session goroutine. It returns immediately.
func (s *Session) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		select {
		case <-s.done:
			return
		default:
		}
		s.runCtx, s.cancel = context.WithCancel(ctx)
		go s.run()
	})
}

// Close tears the session down and waits for its goroutine. A pending promotion is
// cancelled, not resolved.
func (s *Session) Close() error {
	s.startOnce.Do(func() {})
	s.closeOnce.Do(func() {
		if s.cancel == nil {
			close(s.done)
			return
		}
		s.cancel()
		<-s.done
	})
	return nil
}

func (s *Session) run() {
	defer close(s.done)
	s.logger.Info("session_start",
		zap.String("role", s.cfg.Role.String()),
		zap.String("state", s.state.String()),
	)
	if s.state == StateAwaitingEngineMove {
		s.requestEngine()
	}
	for {
		select {
		case <-s.runCtx.Done():
			s.teardown(ErrSessionClosed)
			return
		case cmd := <-s.inbox:
			err := cmd.fn()
			if cmd.reply != nil {
				cmd.reply <- err
			}
		}
	}
}

// do runs fn on the session goroutine and waits for its result.
func (s *Session) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case s.inbox <- command{fn: fn, reply: reply}:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting. Safe to call from the session goroutine itself.
func (s *Session) post(fn func() error) {
	go func() {
		select {
		case s.inbox <- command{fn: fn}:
		case <-s.done:
		}
	}()
}

// ProposeMove submits a local candidate on behalf of side.
func (s *Session) ProposeMove(ctx context.Context, side rules.Color, m rules.Move) error {
	return s.do(ctx, func() error {
		if err := s.checkOpen(); err != nil {
			return err
		}
		if s.state != StateWaitingForInput || side != s.pos.Turn() || !s.controls(SourceLocal, side) {
			return fmt.Errorf("%w: %s cannot move in state %s", ErrWrongTurn, side, s.state)
		}
		return s.propose(SourceLocal, m)
	})
}

// ResolvePromotion completes the pending promotion with kind.
func (s *Session) ResolvePromotion(ctx context.Context, kind rules.PieceKind) error {
	return s.do(ctx, func() error {
		if s.state != StateAwaitingPromotion || s.pending == nil {
			if err := s.checkOpen(); err != nil {
				return err
			}
			return ErrNoPendingPromotion
		}
		if !kind.Valid() {
			return fmt.Errorf("%w: %s", ErrInvalidPromotion, kind)
		}
		m := s.pending.WithPromotion(kind)
		s.pending = nil
		s.state = StateWaitingForInput
		return s.propose(SourceLocal, m)
	})
}

// CancelPromotion drops the pending promotion and returns to input.
func (s *Session) CancelPromotion(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.state != StateAwaitingPromotion || s.pending == nil {
			return ErrNoPendingPromotion
		}
		s.pending = nil
		s.state = StateWaitingForInput
		s.emit(Event{Kind: EventPromotionCancelled, Source: SourceLocal})
		return nil
	})
}

// OnRemoteMoveReceived applies a decoded move from the peer.
func (s *Session) OnRemoteMoveReceived(ctx context.Context, m rules.Move) error {
	return s.do(ctx, func() error {
		if err := s.checkEnded(); err != nil {
			return err
		}
		if s.cfg.Mode != ModeRemote || s.state != StateAwaitingRemoteMove {
			return s.fault(fmt.Errorf("%w: %w: move %s in state %s", ErrRemoteProtocolFault, ErrWrongTurn, m, s.state))
		}
		if !rules.Contains(s.rules.LegalMoves(s.pos), m) {
			return s.fault(fmt.Errorf("%w: %w: %s", ErrRemoteProtocolFault, ErrIllegalMove, m))
		}
		return s.apply(SourceRemote, m)
	})
}

// OnProtocolFault reports an undecodable frame from the peer.
func (s *Session) OnProtocolFault(ctx context.Context, cause error) error {
	return s.do(ctx, func() error {
		if err := s.checkEnded(); err != nil {
			return err
		}
		return s.fault(fmt.Errorf("%w: %w", ErrRemoteProtocolFault, cause))
	})
}

// OnLinkFailure ends the session after a transport error. A finished game stays finished.
func (s *Session) OnLinkFailure(ctx context.Context, cause error) error {
	return s.do(ctx, func() error {
		if s.state.Terminal() {
			s.logger.Debug("peer_link_closed_after_end", zap.Error(cause))
			return nil
		}
		err := fmt.Errorf("%w: %w", ErrLinkFailure, cause)
		s.logger.Warn("peer_link_failure", zap.Error(cause))
		s.emit(Event{Kind: EventLinkFailure, Err: err})
		s.abandon(err)
		return err
	})
}

// OnEngineMoveReceived resumes the session with the outstanding engine result.
func (s *Session) OnEngineMoveReceived(ctx context.Context, token string, ok bool) error {
	return s.do(ctx, func() error {
		return s.handleEngine(s.engineReq, token, ok)
	})
}

// RequestEngineMove retries the engine after EngineUnavailable.
func (s *Session) RequestEngineMove(ctx context.Context) error {
	return s.do(ctx, func() error {
		if err := s.checkOpen(); err != nil {
			return err
		}
		if s.cfg.Mode != ModeEngine || s.state != StateWaitingForInput || s.pos.Turn() == s.cfg.HumanColor {
			return fmt.Errorf("%w: engine cannot move in state %s", ErrWrongTurn, s.state)
		}
		s.requestEngine()
		return nil
	})
}

// Abandon ends the session explicitly, cancelling any pending promotion.
func (s *Session) Abandon(ctx context.Context, reason string) error {
	return s.do(ctx, func() error {
		if s.state.Terminal() {
			return nil
		}
		s.abandon(errors.New(strings.TrimSpace(reason)))
		return nil
	})
}

// Snapshot returns a copy of the current session state.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() error {
		snap = s.snapshot()
		return nil
	})
	return snap, err
}

// LegalTargets lists destinations legal from sq for the side to move.
func (s *Session) LegalTargets(ctx context.Context, from rules.Square) ([]rules.Square, error) {
	var out []rules.Square
	err := s.do(ctx, func() error {
		if s.state.Terminal() {
			return nil
		}
		out = rules.TargetsFrom(s.rules.LegalMoves(s.pos), from)
		return nil
	})
	return out, err
}

func (s *Session) checkEnded() error {
	switch s.state {
	case StateGameOver:
		return ErrGameOver
	case StateAbandoned:
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) checkOpen() error {
	if err := s.checkEnded(); err != nil {
		return err
	}
	if s.state == StateAwaitingPromotion {
		return ErrPromotionPending
	}
	return nil
}

func (s *Session) holdPromotion(m rules.Move) error {
	held := m
	s.pending = &held
	s.state = StateAwaitingPromotion
	s.logger.Debug("promotion_required", zap.String("move", m.String()))
	s.emit(Event{Kind: EventPromotionRequired, Source: SourceLocal, Move: m})
	return nil
}

func hasPromotionFor(legal []rules.Move, m rules.Move) bool {
	for _, c := range legal {
		if c.From == m.From && c.To == m.To && c.Promotion != rules.NoPromotion {
			return true
		}
	}
	return false
}

func (s *Session) localColor() rules.Color {
	if s.cfg.Mode == ModeRemote {
		return s.cfg.Role.Color()
	}
	return s.cfg.HumanColor
}

// controls reports whether src may produce a move for side.
func (s *Session) controls(src Source, side rules.Color) bool {
	switch s.cfg.Mode {
	case ModeEngine:
		if side == s.cfg.HumanColor {
			return src == SourceLocal
		}
		return src == SourceEngine || (src == SourceLocal && s.engineFallback)
	case ModeRemote:
		if side == s.cfg.Role.Color() {
			return src == SourceLocal
		}
		return src == SourceRemote
	default:
		return src == SourceLocal
	}
}

func (s *Session) inputStateFor(side rules.Color) State {
	switch s.cfg.Mode {
	case ModeEngine:
		if side != s.cfg.HumanColor {
			return StateAwaitingEngineMove
		}
	case ModeRemote:
		if side != s.cfg.Role.Color() {
			return StateAwaitingRemoteMove
		}
	}
	return StateWaitingForInput
}

// propose validates a candidate from src against a fresh legal-move set.
func (s *Session) propose(src Source, m rules.Move) error {
	legal := s.rules.LegalMoves(s.pos)
	if src == SourceLocal && m.Promotion == rules.NoPromotion && s.rules.IsPromotion(s.pos, m) {
		if !hasPromotionFor(legal, m) {
			return fmt.Errorf("%w: %s", ErrIllegalMove, m)
		}
		return s.holdPromotion(m)
	}
	if !rules.Contains(legal, m) {
		return fmt.Errorf("%w: %s", ErrIllegalMove, m)
	}
	return s.apply(src, m)
}

// apply is the single writer of position and move log.
func (s *Session) apply(src Source, m rules.Move) error {
	next, err := s.rules.Apply(s.pos, m)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIllegalMove, err)
	}
	if s.cfg.Mode == ModeRemote && src == SourceLocal {
		if err := s.peer.Send(s.runCtx, m); err != nil {
			lerr := fmt.Errorf("%w: %w", ErrLinkFailure, err)
			s.logger.Error("peer_send_failed", zap.String("move", m.String()), zap.Error(err))
			s.emit(Event{Kind: EventLinkFailure, Move: m, Err: lerr})
			s.abandon(lerr)
			return lerr
		}
	}

	s.pos = next
	s.moves = append(s.moves, m)
	s.engineFallback = false
	s.logger.Info("session_move_applied",
		zap.String("source", src.String()),
		zap.String("move", m.String()),
		zap.Int("ply", len(s.moves)),
	)

	st := s.rules.Status(s.pos)
	if st.Terminal() {
		s.state = StateGameOver
		s.emit(Event{Kind: EventMoveApplied, Source: src, Move: m})
		s.finish(st)
		return nil
	}

	s.state = s.inputStateFor(s.pos.Turn())
	s.emit(Event{Kind: EventMoveApplied, Source: src, Move: m})
	if s.state == StateAwaitingEngineMove {
		s.requestEngine()
	}
	return nil
}

func (s *Session) requestEngine() {
	s.state = StateAwaitingEngineMove
	s.engineReq++
	id := s.engineReq
	fen := s.pos.FEN()
	s.emit(Event{Kind: EventAwaitingEngine, Source: SourceEngine})
	s.engine.Request(s.runCtx, fen, func(token string, ok bool) {
		s.post(func() error {
			err := s.handleEngine(id, token, ok)
			if err != nil && !errors.Is(err, ErrEngineUnavailable) {
				s.logger.Debug("engine_result_dropped", zap.Uint64("request", id), zap.Error(err))
			}
			return err
		})
	})
}

func (s *Session) handleEngine(id uint64, token string, ok bool) error {
	if s.state != StateAwaitingEngineMove || id != s.engineReq {
		return fmt.Errorf("%w: unexpected engine result in state %s", ErrWrongTurn, s.state)
	}
	if !ok {
		return s.engineUnavailable(errors.New("no suggestion"))
	}
	m, err := rules.ParseMove(token)
	if err != nil {
		return s.engineUnavailable(err)
	}
	if !rules.Contains(s.rules.LegalMoves(s.pos), m) {
		return s.engineUnavailable(fmt.Errorf("%w: %s", ErrIllegalMove, m))
	}
	return s.apply(SourceEngine, m)
}

func (s *Session) engineUnavailable(cause error) error {
	err := fmt.Errorf("%w: %w", ErrEngineUnavailable, cause)
	s.state = StateWaitingForInput
	s.engineFallback = true
	s.logger.Warn("engine_unavailable", zap.Error(cause))
	s.emit(Event{Kind: EventEngineUnavailable, Source: SourceEngine, Err: err})
	return err
}

func (s *Session) fault(err error) error {
	s.faults++
	s.logger.Warn("peer_protocol_fault", zap.Int("faults", s.faults), zap.Error(err))
	s.emit(Event{Kind: EventProtocolFault, Source: SourceRemote, Err: err})
	if !s.cfg.TolerateFaults {
		s.abandon(err)
	}
	return err
}

func (s *Session) abandon(cause error) {
	if s.pending != nil {
		s.pending = nil
		s.emit(Event{Kind: EventPromotionCancelled})
	}
	s.state = StateAbandoned
	s.logger.Info("session_abandoned", zap.Error(cause), zap.Int("ply", len(s.moves)))
	s.emit(Event{Kind: EventAbandoned, Err: cause})
}

func (s *Session) teardown(cause error) {
	if s.state.Terminal() {
		return
	}
	s.abandon(cause)
}

func (s *Session) finish(st rules.Status) {
	result := st.Result(s.pos.Turn())
	s.logger.Info("session_game_over",
		zap.String("result", result.String()),
		zap.String("method", st.Method().String()),
		zap.Int("ply", len(s.moves)),
	)
	s.emit(Event{Kind: EventGameOver})
	if s.rec == nil {
		return
	}
	rec := s.record(result, st.Method())
	timeout := s.cfg.RecordTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.rec.SaveGame(ctx, rec); err != nil {
			s.logger.Error("game_record_failed", zap.Error(err))
			return
		}
		s.logger.Info("game_recorded", zap.String("game_id", rec.ID))
	}()
}

func (s *Session) record(result rules.Result, method rules.Method) *domain.GameRecord {
	ended := time.Now()
	tokens := rules.RenderLog(s.moves)
	rec := &domain.GameRecord{
		ID:        s.id,
		Mode:      s.cfg.Mode.String(),
		Result:    result.String(),
		Method:    method.String(),
		MoveLog:   "[" + strings.Join(tokens, ", ") + "]",
		MovesUCI:  tokens,
		StartedAt: s.startedAt,
		EndedAt:   ended,
		Duration:  ended.Sub(s.startedAt),
	}
	switch s.cfg.Mode {
	case ModeRemote:
		rec.Role = s.cfg.Role.String()
	case ModeEngine:
		rec.Role = s.cfg.HumanColor.String()
	}
	if fen := strings.TrimSpace(s.cfg.StartFEN); fen != "" && fen != rules.StartFEN && fen != "startpos" {
		rec.StartFEN = fen
	}
	return rec
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		ID:             s.id,
		Mode:           s.cfg.Mode,
		Role:           s.cfg.Role,
		State:          s.state,
		Turn:           s.pos.Turn(),
		FEN:            s.pos.FEN(),
		Moves:          rules.RenderLog(s.moves),
		EngineFallback: s.engineFallback,
		Faults:         s.faults,
	}
	if s.pending != nil {
		snap.Pending = s.pending.String()
	}
	if s.state == StateGameOver {
		st := s.rules.Status(s.pos)
		snap.Result = st.Result(s.pos.Turn())
		snap.Method = st.Method()
	}
	return snap
}

func (s *Session) emit(ev Event) {
	if s.notify == nil {
		return
	}
	ev.Snapshot = s.snapshot()
	s.notify(ev)
}
