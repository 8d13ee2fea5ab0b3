package engineapi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func newTestClient(t *testing.T, handler fasthttp.RequestHandler, opts ...Option) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		_ = srv.Shutdown()
		_ = ln.Close()
	})
	opts = append([]Option{WithDial(func(string) (net.Conn, error) { return ln.Dial() })}, opts...)
	return NewClient("http://engine.test/api/s/v2.php", opts...)
}

func jsonHandler(status int, body string) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(status)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(body)
	}
}

func TestClientSuggest(t *testing.T) {
	var gotFEN, gotDepth string
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		gotFEN = string(ctx.QueryArgs().Peek("fen"))
		gotDepth = string(ctx.QueryArgs().Peek("depth"))
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"success":true,"evaluation":0.3,"bestmove":"bestmove e7e5 ponder g1f3"}`)
	}, WithDepth(7))

	fen := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
	mv, err := c.Suggest(context.Background(), fen)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if mv != "e7e5" {
		t.Fatalf("move = %q", mv)
	}
	if gotFEN != fen || gotDepth != "7" {
		t.Fatalf("query fen=%q depth=%q", gotFEN, gotDepth)
	}
}

func TestClientNormalizesFailures(t *testing.T) {
	cases := map[string]fasthttp.RequestHandler{
		"non-2xx":       jsonHandler(fasthttp.StatusBadGateway, `oops`),
		"not json":      jsonHandler(fasthttp.StatusOK, `<html>`),
		"no bestmove":   jsonHandler(fasthttp.StatusOK, `{"success":true}`),
		"null bestmove": jsonHandler(fasthttp.StatusOK, `{"success":true,"bestmove":null}`),
		"one token":     jsonHandler(fasthttp.StatusOK, `{"success":true,"bestmove":"bestmove"}`),
		"bad token":     jsonHandler(fasthttp.StatusOK, `{"success":true,"bestmove":"bestmove (none)"}`),
		"unsuccessful":  jsonHandler(fasthttp.StatusOK, `{"success":false,"data":"Invalid fen"}`),
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, h)
			if _, err := c.Suggest(context.Background(), "x"); !errors.Is(err, ErrUnavailable) {
				t.Fatalf("err = %v, want ErrUnavailable", err)
			}
		})
	}
}

func TestClientTransportFailure(t *testing.T) {
	c := NewClient("http://engine.test/", WithDial(func(string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}))
	if _, err := c.Suggest(context.Background(), "x"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestClientReturnsOnCancel(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		<-release
		ctx.SetBodyString(`{"success":true,"bestmove":"bestmove e2e4"}`)
	}, WithTimeout(30*time.Second))
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := c.Suggest(ctx, "x")
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Suggest took %v after cancel", elapsed)
	}
	if _, err := c.Suggest(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled ctx err = %v", err)
	}
}

type stubSuggester struct {
	move string
	err  error
}

func (s stubSuggester) Suggest(context.Context, string) (string, error) { return s.move, s.err }

type panicSuggester struct{}

func (panicSuggester) Suggest(context.Context, string) (string, error) { panic("boom") }

func requestOnce(t *testing.T, p *Provider) (string, bool) {
	t.Helper()
	type res struct {
		tok string
		ok  bool
	}
	ch := make(chan res, 2)
	p.Request(context.Background(), "fen", func(tok string, ok bool) { ch <- res{tok, ok} })
	p.Wait()
	if len(ch) != 1 {
		t.Fatalf("done called %d times", len(ch))
	}
	r := <-ch
	return r.tok, r.ok
}

func TestProviderCallsDoneOnce(t *testing.T) {
	if tok, ok := requestOnce(t, NewProvider(stubSuggester{move: "e7e5"}, nil)); !ok || tok != "e7e5" {
		t.Fatalf("got %q %v", tok, ok)
	}
	if tok, ok := requestOnce(t, NewProvider(stubSuggester{err: ErrUnavailable}, nil)); ok || tok != "" {
		t.Fatalf("got %q %v", tok, ok)
	}
	if _, ok := requestOnce(t, NewProvider(panicSuggester{}, nil)); ok {
		t.Fatalf("panic reported as success")
	}
}

// TestFakeUCIProcess is not a real test. It plays a minimal UCI engine when
// re-executed by TestUCIEngineSuggest.
func TestFakeUCIProcess(t *testing.T) {
	if os.Getenv("CHESSDUEL_FAKE_UCI") != "1" {
		return
	}
	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		line := strings.TrimSpace(in.Text())
		switch {
		case line == "uci":
			fmt.Println("id name fake")
			fmt.Println("uciok")
		case line == "isready":
			fmt.Println("readyok")
		case strings.HasPrefix(line, "go"):
			fmt.Println("info depth 1 score cp 12 pv c7c5")
			fmt.Println("bestmove c7c5 ponder g1f3")
		case line == "quit":
			os.Exit(0)
		}
	}
	os.Exit(0)
}

func TestUCIEngineSuggest(t *testing.T) {
	t.Setenv("CHESSDUEL_FAKE_UCI", "1")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	eng, err := NewUCIEngine(ctx, UCIConfig{
		Path:  os.Args[0],
		Args:  []string{"-test.run=^TestFakeUCIProcess$"},
		Depth: 3,
	}, nil)
	if err != nil {
		t.Fatalf("NewUCIEngine: %v", err)
	}
	defer eng.Close()

	mv, err := eng.Suggest(ctx, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1")
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if mv != "c7c5" {
		t.Fatalf("move = %q", mv)
	}
}

func TestUCIEngineRejectsBadConfig(t *testing.T) {
	if _, err := NewUCIEngine(context.Background(), UCIConfig{}, nil); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := NewUCIEngine(context.Background(), UCIConfig{Path: "x", SkillLevel: 30}, nil); err == nil {
		t.Fatalf("expected error for skill level")
	}
}

type mapBook map[string]string

func (m mapBook) Move(fen string) (string, bool, error) {
	mv, ok := m[fen]
	return mv, ok, nil
}

func TestBookSuggesterFallsThrough(t *testing.T) {
	book := mapBook{"in-book": "e2e4", "corrupt": "zz"}
	s := NewBookSuggester(book, stubSuggester{move: "d2d4"}, nil)
	ctx := context.Background()
	for fen, want := range map[string]string{"in-book": "e2e4", "corrupt": "d2d4", "elsewhere": "d2d4"} {
		mv, err := s.Suggest(ctx, fen)
		if err != nil || mv != want {
			t.Fatalf("%s: got %q err=%v, want %q", fen, mv, err, want)
		}
	}

	failing := NewBookSuggester(mapBook{}, stubSuggester{err: ErrUnavailable}, nil)
	if _, err := failing.Suggest(ctx, "x"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestLevels(t *testing.T) {
	l, err := LevelByName(" Club ")
	if err != nil {
		t.Fatalf("LevelByName: %v", err)
	}
	var cfg UCIConfig
	l.Apply(&cfg)
	if cfg.Depth != 12 || cfg.SkillLevel != 12 || cfg.MoveTimeMillis != 800 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if _, err := LevelByName("grandmaster"); err == nil || !strings.Contains(err.Error(), "beginner, casual, club, expert") {
		t.Fatalf("err = %v", err)
	}
}

func TestBuildGoCommand(t *testing.T) {
	got, err := buildGoCommand(8, 400, 0)
	if err != nil || got != "go depth 8 movetime 400\n" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if got, _ := buildGoCommand(0, 0, 5000); got != "go nodes 5000\n" {
		t.Fatalf("nodes only = %q", got)
	}
	if _, err := buildGoCommand(0, 0, 0); err == nil {
		t.Fatalf("expected error without limits")
	}
}
