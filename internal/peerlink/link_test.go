package peerlink

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/park285/chessduel/internal/rules"
)

type recordingHandler struct {
	mu     sync.Mutex
	moves  []string
	faults []error
	failed chan error
	got    chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{failed: make(chan error, 1), got: make(chan struct{}, 16)}
}

func (h *recordingHandler) OnRemoteMoveReceived(_ context.Context, m rules.Move) error {
	h.mu.Lock()
	h.moves = append(h.moves, m.String())
	h.mu.Unlock()
	h.got <- struct{}{}
	return nil
}

func (h *recordingHandler) OnProtocolFault(_ context.Context, cause error) error {
	h.mu.Lock()
	h.faults = append(h.faults, cause)
	h.mu.Unlock()
	h.got <- struct{}{}
	return cause
}

func (h *recordingHandler) OnLinkFailure(_ context.Context, cause error) error {
	h.failed <- cause
	return cause
}

func (h *recordingHandler) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i+1)
		}
	}
}

func (h *recordingHandler) snapshot() ([]string, []error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.moves...), append([]error(nil), h.faults...)
}

func connectTCP(t *testing.T, opts ...Option) (*Link, *Link) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host, err := NewHost(ctx, "127.0.0.1:0", opts...)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	type result struct {
		link *Link
		err  error
	}
	accepted := make(chan result, 1)
	go func() {
		l, err := host.Accept(ctx)
		accepted <- result{l, err}
	}()

	joiner, err := Dial(ctx, host.Addr().String(), opts...)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	r := <-accepted
	if r.err != nil {
		t.Fatalf("Accept: %v", r.err)
	}
	t.Cleanup(func() {
		_ = joiner.Close()
		_ = r.link.Close()
	})
	return r.link, joiner
}

func TestDecodeMove(t *testing.T) {
	if m, err := DecodeMove("e7e8q\r"); err != nil || m.String() != "e7e8q" {
		t.Fatalf("DecodeMove = %v, %v", m, err)
	}
	for _, bad := range []string{"", " e2e4", "hello", "e2e4 e7e5", "z9z9"} {
		if _, err := DecodeMove(bad); !errors.Is(err, rules.ErrMalformedMove) {
			t.Fatalf("DecodeMove(%q) err = %v", bad, err)
		}
	}
}

func TestTCPSendReceive(t *testing.T) {
	host, joiner := connectTCP(t)
	if host.Role() != RoleHost || joiner.Role() != RoleJoiner {
		t.Fatalf("roles = %s/%s", host.Role(), joiner.Role())
	}

	h := newRecordingHandler()
	go func() { _ = joiner.Receive(context.Background(), h) }()

	ctx := context.Background()
	for _, tok := range []string{"e2e4", "g1f3", "e7e8n"} {
		if err := host.Send(ctx, rules.MustParseMove(tok)); err != nil {
			t.Fatalf("Send(%s): %v", tok, err)
		}
	}
	h.wait(t, 3)
	moves, faults := h.snapshot()
	if len(faults) != 0 || len(moves) != 3 || moves[0] != "e2e4" || moves[2] != "e7e8n" {
		t.Fatalf("moves = %v faults = %v", moves, faults)
	}
}

// acceptRaw hosts a link and greets it from a plain TCP client the test writes to directly.
func acceptRaw(t *testing.T, ctx context.Context) (*Link, net.Conn) {
	t.Helper()
	host, err := NewHost(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	accepted := make(chan *Link, 1)
	go func() {
		l, err := host.Accept(ctx)
		if err != nil {
			t.Errorf("Accept: %v", err)
		}
		accepted <- l
	}()

	raw, err := net.Dial("tcp", host.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = raw.Close() })
	if _, err := raw.Write(helloFrame(DefaultServiceID)); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	if _, err := bufio.NewReader(raw).ReadString('\n'); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	link := <-accepted
	if link == nil {
		t.FailNow()
	}
	t.Cleanup(func() { _ = link.Close() })
	return link, raw
}

func TestReceiveSurvivesMalformedAndSplitFrames(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	link, raw := acceptRaw(t, ctx)

	h := newRecordingHandler()
	go func() { _ = link.Receive(ctx, h) }()

	// one token split across writes, then two coalesced with a bad one between
	writes := []string{"e2", "e4\n", "xx99\ne7e5\n"}
	for _, w := range writes {
		if _, err := raw.Write([]byte(w)); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	h.wait(t, 3)
	moves, faults := h.snapshot()
	if len(moves) != 2 || moves[0] != "e2e4" || moves[1] != "e7e5" {
		t.Fatalf("moves = %v", moves)
	}
	if len(faults) != 1 || !errors.Is(faults[0], rules.ErrMalformedMove) {
		t.Fatalf("faults = %v", faults)
	}

	_ = raw.Close()
	select {
	case err := <-h.failed:
		if err == nil {
			t.Fatalf("expected a link failure cause")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("link failure not reported")
	}
}

func TestOversizedFrameIsAFault(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	link, raw := acceptRaw(t, ctx)

	h := newRecordingHandler()
	go func() { _ = link.Receive(ctx, h) }()

	junk := strings.Repeat("x", 3*maxFrameBytes) + "\n"
	if _, err := raw.Write([]byte(junk + "e2e4\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	h.wait(t, 2)
	moves, faults := h.snapshot()
	if len(faults) != 1 || !errors.Is(faults[0], ErrFrameTooLong) || !errors.Is(faults[0], rules.ErrMalformedMove) {
		t.Fatalf("faults = %v", faults)
	}
	if len(moves) != 1 || moves[0] != "e2e4" {
		t.Fatalf("moves = %v", moves)
	}
	select {
	case err := <-h.failed:
		t.Fatalf("oversized frame ended the link: %v", err)
	default:
	}
}

func TestLocalCloseIsNotAFailure(t *testing.T) {
	host, _ := connectTCP(t)
	h := newRecordingHandler()
	done := make(chan error, 1)
	go func() { done <- host.Receive(context.Background(), h) }()

	_ = host.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Receive after local close = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Receive did not return")
	}
	select {
	case err := <-h.failed:
		t.Fatalf("unexpected link failure: %v", err)
	default:
	}
	if err := host.Send(context.Background(), rules.MustParseMove("e2e4")); !errors.Is(err, ErrLinkClosed) {
		t.Fatalf("Send after close err = %v", err)
	}
}

func TestHandshakeRejectsOtherService(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	host, err := NewHost(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	defer host.Close()
	go func() { _, _ = host.Accept(ctx) }()

	_, err = Dial(ctx, host.Addr().String(), WithServiceID(uuid.New()))
	if !errors.Is(err, ErrHandshake) {
		t.Fatalf("Dial err = %v, want ErrHandshake", err)
	}
}

func TestWebSocketLink(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wh, err := NewWSHost(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewWSHost: %v", err)
	}
	accepted := make(chan *Link, 1)
	go func() {
		l, err := wh.Accept(ctx)
		if err != nil {
			t.Errorf("Accept: %v", err)
		}
		accepted <- l
	}()

	joiner, err := DialWS(ctx, wh.URL())
	if err != nil {
		t.Fatalf("DialWS: %v", err)
	}
	defer joiner.Close()
	host := <-accepted
	if host == nil {
		t.FailNow()
	}
	defer host.Close()

	h := newRecordingHandler()
	go func() { _ = host.Receive(ctx, h) }()
	if err := joiner.Send(ctx, rules.MustParseMove("c7c5")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	h.wait(t, 1)
	if moves, _ := h.snapshot(); len(moves) != 1 || moves[0] != "c7c5" {
		t.Fatalf("moves = %v", moves)
	}
}
