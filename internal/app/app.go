package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/chessduel/internal/config"
	"github.com/park285/chessduel/internal/domain"
	"github.com/park285/chessduel/internal/engineapi"
	"github.com/park285/chessduel/internal/lobby"
	"github.com/park285/chessduel/internal/msgcat"
	"github.com/park285/chessduel/internal/obslog"
	"github.com/park285/chessduel/internal/openingbook"
	"github.com/park285/chessduel/internal/peerlink"
	"github.com/park285/chessduel/internal/presenter"
	"github.com/park285/chessduel/internal/recorder"
	"github.com/park285/chessduel/internal/rules"
	"github.com/park285/chessduel/internal/session"
)

// App is one wired game: session, its collaborators and the text presenter.
type App struct {
	cfg       *config.AppConfig
	logger    *zap.Logger
	Session   *session.Session
	Presenter *presenter.Text

	recorder recorder.Recorder
	link     *peerlink.Link
	provider *engineapi.Provider
	closers  []func() error

	ended   chan struct{}
	endOnce sync.Once
	wg      sync.WaitGroup
}

// Build wires every collaborator named by cfg. In host and join modes it blocks until
// the peer link is established or ctx ends.
func Build(ctx context.Context, cfg *config.AppConfig, out io.Writer) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	a := &App{
		cfg:       cfg,
		logger:    obslog.Named("app"),
		Presenter: presenter.NewText(out, cat),
		ended:     make(chan struct{}),
	}
	ok := false
	defer func() {
		if !ok {
			_ = a.closeAll()
		}
	}()

	mode, err := session.ParseMode(cfg.GameMode)
	if err != nil {
		return nil, err
	}
	human, err := rules.ParseColor(cfg.HumanColor)
	if err != nil {
		return nil, err
	}

	rec, err := newRecorder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init recorder: %w", err)
	}
	scfg := session.Config{Mode: mode, HumanColor: human, TolerateFaults: !cfg.PeerAbortOnFault}
	deps := session.Deps{
		Rules:    rules.NewChessRules(),
		Listener: a.onEvent,
		Logger:   obslog.Named("session"),
	}
	if rec != nil {
		a.recorder = rec
		a.closers = append(a.closers, rec.Close)
		deps.Recorder = rec
	}

	switch mode {
	case session.ModeEngine:
		s, err := a.newSuggester(ctx)
		if err != nil {
			return nil, fmt.Errorf("init engine: %w", err)
		}
		a.provider = engineapi.NewProvider(s, obslog.Named("engine"))
		deps.Engine = a.provider
	case session.ModeRemote:
		if cfg.GameMode == "join" {
			scfg.Role = session.RoleJoiner
		}
		link, err := a.connect(ctx, scfg.Role)
		if err != nil {
			return nil, err
		}
		a.link = link
		a.closers = append(a.closers, link.Close)
		deps.Peer = link
	}

	sess, err := session.New(scfg, deps)
	if err != nil {
		return nil, err
	}
	a.Session = sess
	ok = true
	return a, nil
}

func newRecorder(ctx context.Context, cfg *config.AppConfig) (recorder.Recorder, error) {
	switch cfg.Recorder {
	case "none":
		return nil, nil
	case "redis":
		return recorder.NewRedis(ctx, cfg.RedisURL)
	case "postgres":
		p, err := recorder.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := p.EnsureSchema(ctx); err != nil {
			_ = p.Close()
			return nil, err
		}
		return p, nil
	default:
		return recorder.NewMemory(), nil
	}
}

func (a *App) newSuggester(ctx context.Context) (engineapi.Suggester, error) {
	ucfg := engineapi.UCIConfig{Path: a.cfg.StockfishPath, Depth: a.cfg.EngineDepth}
	if a.cfg.EngineLevel != "" {
		level, err := engineapi.LevelByName(a.cfg.EngineLevel)
		if err != nil {
			return nil, err
		}
		level.Apply(&ucfg)
	}

	var s engineapi.Suggester
	if a.cfg.EngineKind == "uci" {
		e, err := engineapi.NewUCIEngine(ctx, ucfg, obslog.Named("uci"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, e.Close)
		s = e
	} else {
		// the remote service only takes a depth
		s = engineapi.NewClient(a.cfg.EngineBaseURL,
			engineapi.WithDepth(ucfg.Depth),
			engineapi.WithTimeout(time.Duration(a.cfg.EngineTimeoutSec)*time.Second),
		)
	}
	if path := strings.TrimSpace(a.cfg.EngineBookPath); path != "" {
		book, err := openingbook.Load(path)
		if err != nil {
			return nil, err
		}
		s = engineapi.NewBookSuggester(book, s, obslog.Named("book"))
	}
	return s, nil
}

func (a *App) linkOptions() []peerlink.Option {
	opts := []peerlink.Option{peerlink.WithLogger(obslog.Named("peerlink"))}
	if id := a.cfg.ServiceID(); id != uuid.Nil {
		opts = append(opts, peerlink.WithServiceID(id))
	}
	return opts
}

func (a *App) connect(ctx context.Context, role session.Role) (*peerlink.Link, error) {
	if role == session.RoleHost {
		return a.host(ctx)
	}
	return a.join(ctx)
}

type acceptor interface {
	Accept(ctx context.Context) (*peerlink.Link, error)
	Close() error
}

func (a *App) host(ctx context.Context) (*peerlink.Link, error) {
	var (
		h    acceptor
		addr string
	)
	switch a.cfg.PeerTransport {
	case "ws":
		wh, err := peerlink.NewWSHost(ctx, a.cfg.PeerListenAddr, a.linkOptions()...)
		if err != nil {
			return nil, err
		}
		h, addr = wh, wh.URL()
	default:
		th, err := peerlink.NewHost(ctx, a.cfg.PeerListenAddr, a.linkOptions()...)
		if err != nil {
			return nil, err
		}
		h, addr = th, th.Addr().String()
	}
	if public := strings.TrimSpace(a.cfg.PeerAddr); public != "" {
		addr = public
	}
	a.Presenter.Info("link.hosting", map[string]any{"Addr": addr})

	if a.cfg.PeerAdvertise {
		store, closeStore, err := a.lobbyStore()
		if err != nil {
			_ = h.Close()
			return nil, err
		}
		defer closeStore()
		code, err := store.Advertise(ctx, lobby.Entry{Addr: addr, Transport: a.cfg.PeerTransport, ServiceID: a.cfg.PeerServiceID})
		if err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("lobby advertise: %w", err)
		}
		a.Presenter.Info("link.lobby", map[string]any{"Code": code})
		defer func() {
			wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := store.Withdraw(wctx, code); err != nil {
				a.logger.Warn("lobby_withdraw_failed", zap.String("code", code), zap.Error(err))
			}
		}()
	}

	link, err := h.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("await peer: %w", err)
	}
	a.Presenter.Info("link.connected", map[string]any{"Addr": link.RemoteAddr().String(), "Role": link.Role()})
	return link, nil
}

func (a *App) join(ctx context.Context) (*peerlink.Link, error) {
	addr, transport := a.cfg.PeerAddr, a.cfg.PeerTransport
	if a.cfg.LobbyCode != "" {
		store, closeStore, err := a.lobbyStore()
		if err != nil {
			return nil, err
		}
		e, err := store.Resolve(ctx, a.cfg.LobbyCode)
		closeStore()
		if err != nil {
			return nil, err
		}
		addr = e.Addr
		if e.Transport != "" {
			transport = e.Transport
		}
	}

	dctx, cancel := context.WithTimeout(ctx, time.Duration(a.cfg.PeerDialTimeoutSec)*time.Second)
	defer cancel()
	var (
		link *peerlink.Link
		err  error
	)
	if transport == "ws" {
		link, err = peerlink.DialWS(dctx, addr, a.linkOptions()...)
	} else {
		link, err = peerlink.Dial(dctx, addr, a.linkOptions()...)
	}
	if err != nil {
		return nil, err
	}
	a.Presenter.Info("link.connected", map[string]any{"Addr": addr, "Role": link.Role()})
	return link, nil
}

func (a *App) lobbyStore() (*lobby.Store, func(), error) {
	o, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(o)
	store := lobby.NewStore(rdb, time.Duration(a.cfg.LobbyTTLSec)*time.Second)
	return store, func() { _ = rdb.Close() }, nil
}

func (a *App) onEvent(ev session.Event) {
	a.Presenter.Event(ev)
	switch ev.Kind {
	case session.EventAbandoned:
		// the peer learns about it from the closed stream
		if a.link != nil {
			_ = a.link.Close()
		}
		a.endOnce.Do(func() { close(a.ended) })
	case session.EventGameOver:
		a.endOnce.Do(func() { close(a.ended) })
	}
}

// Ended is closed when the game is decided or abandoned.
func (a *App) Ended() <-chan struct{} { return a.ended }

// Run starts the session and, in remote mode, the peer receive loop. It returns at once.
func (a *App) Run(ctx context.Context) {
	a.Session.Start(ctx)
	if snap, err := a.Session.Snapshot(ctx); err == nil {
		a.Presenter.Board(snap)
		a.Presenter.Prompt(snap)
	}
	if a.link == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.link.Receive(ctx, a.Session); err != nil {
			a.logger.Info("peer_receive_stopped", zap.Error(err))
		}
	}()
}

// Close abandons an unfinished game, then releases links, engines and stores.
func (a *App) Close() error {
	var errs []error
	if a.Session != nil {
		errs = append(errs, a.Session.Close())
	}
	errs = append(errs, a.closeAll())
	a.wg.Wait()
	if a.provider != nil {
		a.provider.Wait()
	}
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// History returns up to HistoryLimit recent games, or nil when recording is off.
func (a *App) History(ctx context.Context) ([]*domain.GameRecord, error) {
	if a.recorder == nil {
		return nil, nil
	}
	return a.recorder.RecentGames(ctx, a.cfg.HistoryLimit)
}
