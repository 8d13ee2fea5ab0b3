package presenter

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/park285/chessduel/internal/domain"
	"github.com/park285/chessduel/internal/msgcat"
	"github.com/park285/chessduel/internal/rules"
	"github.com/park285/chessduel/internal/session"
)

// Text writes boards, prompts and session events as plain text.
type Text struct {
	mu  sync.Mutex
	w   io.Writer
	cat *msgcat.Catalog
}

func NewText(w io.Writer, cat *msgcat.Catalog) *Text {
	if cat == nil {
		cat = msgcat.MustDefault()
	}
	return &Text{w: w, cat: cat}
}

// Listener adapts the presenter to session events.
func (p *Text) Listener() session.Listener {
	return func(ev session.Event) { p.Event(ev) }
}

func (p *Text) Event(ev session.Event) {
	snap := ev.Snapshot
	switch ev.Kind {
	case session.EventMoveApplied:
		p.line(p.cat.Text("event.move_applied", map[string]any{"Source": ev.Source.String(), "Move": ev.Move.String()}))
		if !snap.State.Terminal() {
			p.Board(snap)
			p.Prompt(snap)
		}
	case session.EventPromotionRequired:
		p.line(p.cat.Text("event.promotion_required", nil))
		p.Prompt(snap)
	case session.EventPromotionCancelled:
		p.line(p.cat.Text("event.promotion_cancelled", nil))
		if !snap.State.Terminal() {
			p.Prompt(snap)
		}
	case session.EventAwaitingEngine:
		p.Prompt(snap)
	case session.EventEngineUnavailable:
		p.line(p.cat.Text("event.engine_unavailable", map[string]any{"Err": errText(ev.Err)}))
		p.Prompt(snap)
	case session.EventProtocolFault:
		p.line(p.cat.Text("event.protocol_fault", map[string]any{"Faults": snap.Faults, "Err": errText(ev.Err)}))
	case session.EventLinkFailure:
		p.line(p.cat.Text("event.link_failure", map[string]any{"Err": errText(ev.Err)}))
	case session.EventGameOver:
		p.Board(snap)
		p.line(p.Outcome(snap.Result, snap.Method))
	case session.EventAbandoned:
		p.line(p.cat.Text("event.abandoned", nil))
	}
}

// Outcome renders a terminal result.
func (p *Text) Outcome(r rules.Result, m rules.Method) string {
	method := p.cat.Text("method."+m.String(), nil)
	return p.cat.Text("result."+r.String(), map[string]any{"Method": method})
}

func (p *Text) Prompt(snap session.Snapshot) {
	switch snap.State {
	case session.StateAwaitingPromotion:
		sq := ""
		if len(snap.Pending) >= 4 {
			sq = snap.Pending[2:4]
		}
		p.line(p.cat.Text("prompt.promotion", map[string]any{"Square": sq}))
	case session.StateAwaitingEngineMove:
		p.line(p.cat.Text("prompt.engine", nil))
	case session.StateAwaitingRemoteMove:
		p.line(p.cat.Text("prompt.remote", nil))
	case session.StateWaitingForInput:
		if snap.EngineFallback {
			p.line(p.cat.Text("prompt.engine_fallback", nil))
		}
		p.line(p.cat.Text("prompt.move", map[string]any{"Turn": titleColor(snap.Turn)}))
	}
}

func (p *Text) Help() { p.line(p.cat.Text("prompt.help", nil)) }

// Error maps session sentinels to catalog messages.
func (p *Text) Error(err error, input string) {
	if err == nil {
		return
	}
	var key string
	data := map[string]any{"Err": err.Error(), "Move": input, "Input": input}
	switch {
	case errors.Is(err, session.ErrIllegalMove):
		key = "error.illegal_move"
	case errors.Is(err, session.ErrWrongTurn):
		key = "error.wrong_turn"
	case errors.Is(err, session.ErrPromotionPending):
		key = "error.promotion_pending"
	case errors.Is(err, session.ErrNoPendingPromotion):
		key = "error.no_promotion"
	case errors.Is(err, session.ErrInvalidPromotion):
		key = "error.invalid_promotion"
	case errors.Is(err, session.ErrGameOver):
		key = "error.game_over"
	case errors.Is(err, rules.ErrMalformedMove):
		key = "error.bad_input"
	default:
		key = "error.generic"
	}
	p.line(p.cat.Text(key, data))
}

// History lists finished games, newest first.
func (p *Text) History(recs []*domain.GameRecord) {
	if len(recs) == 0 {
		p.line(p.cat.Text("history.empty", nil))
		return
	}
	for _, r := range recs {
		if r == nil {
			continue
		}
		p.line(p.cat.Text("history.line", map[string]any{
			"EndedAt": r.EndedAt.Local().Format(time.DateTime),
			"Mode":    r.Mode,
			"Result":  r.Result,
			"Method":  r.Method,
			"Moves":   len(r.MovesUCI),
		}))
	}
}

// Info renders an arbitrary catalog key.
func (p *Text) Info(key string, data any) { p.line(p.cat.Text(key, data)) }

// Board draws the position from white's side.
func (p *Text) Board(snap session.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.w, DrawFEN(snap.FEN))
}

func (p *Text) line(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.w, s)
}

// DrawFEN renders the placement field of fen as an 8x8 grid with coordinates.
func DrawFEN(fen string) string {
	placement, _, _ := strings.Cut(strings.TrimSpace(fen), " ")
	ranks := strings.Split(placement, "/")
	var b strings.Builder
	for i := 0; i < 8; i++ {
		fmt.Fprintf(&b, "%d ", 8-i)
		row := ""
		if i < len(ranks) {
			row = ranks[i]
		}
		cells := 0
		for _, ch := range row {
			if ch >= '1' && ch <= '8' {
				for n := 0; n < int(ch-'0') && cells < 8; n++ {
					b.WriteString(". ")
					cells++
				}
				continue
			}
			if cells < 8 {
				b.WriteRune(ch)
				b.WriteByte(' ')
				cells++
			}
		}
		for ; cells < 8; cells++ {
			b.WriteString(". ")
		}
		b.WriteString("\n")
	}
	b.WriteString("  a b c d e f g h\n")
	return b.String()
}

func titleColor(c rules.Color) string {
	if c == rules.Black {
		return "Black"
	}
	return "White"
}

func errText(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}
