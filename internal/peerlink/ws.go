package peerlink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

func wsPath(o options) string { return "/peer/" + o.serviceID.String() }

// WSHost accepts one joiner over a websocket upgrade, for peers that can only reach
// each other through HTTP infrastructure.
type WSHost struct {
	ln    net.Listener
	srv   *http.Server
	conns chan net.Conn
	opts  options
}

func NewWSHost(ctx context.Context, addr string, opts ...Option) (*WSHost, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	h := &WSHost{ln: ln, conns: make(chan net.Conn, 1), opts: buildOptions(opts)}
	mux := http.NewServeMux()
	mux.HandleFunc(wsPath(h.opts), h.upgrade)
	h.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := h.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.opts.logger.Warn("peer_ws_serve_failed", zap.Error(err))
		}
	}()
	h.opts.logger.Info("peer_ws_host_listening", zap.String("url", h.URL()))
	return h, nil
}

func (h *WSHost) Addr() net.Addr { return h.ln.Addr() }

// URL is the base address a joiner passes to DialWS.
func (h *WSHost) URL() string { return "ws://" + h.ln.Addr().String() }

func (h *WSHost) upgrade(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		h.opts.logger.Warn("peer_ws_upgrade_failed", zap.Error(err))
		return
	}
	// the hijacked conn outlives this handler, so it must not inherit r.Context()
	nc := websocket.NetConn(context.Background(), c, websocket.MessageText)
	select {
	case h.conns <- nc:
	default:
		_ = c.Close(websocket.StatusTryAgainLater, "host busy")
	}
}

// Accept waits for the joiner and shuts the HTTP listener down afterwards.
func (h *WSHost) Accept(ctx context.Context) (*Link, error) {
	defer h.Close()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case conn := <-h.conns:
			link, err := newLink(ctx, conn, RoleHost, h.opts)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				h.opts.logger.Warn("peer_handshake_rejected", zap.Error(err))
				continue
			}
			return link, nil
		}
	}
}

func (h *WSHost) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return h.srv.Shutdown(ctx)
}

// ListenWS serves the upgrade endpoint on addr and returns the first joiner's link.
func ListenWS(ctx context.Context, addr string, opts ...Option) (*Link, error) {
	h, err := NewWSHost(ctx, addr, opts...)
	if err != nil {
		return nil, err
	}
	return h.Accept(ctx)
}

// DialWS connects to a WSHost. baseURL is ws://host:port with or without a trailing slash.
func DialWS(ctx context.Context, baseURL string, opts ...Option) (*Link, error) {
	o := buildOptions(opts)
	url := strings.TrimRight(baseURL, "/") + wsPath(o)
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	nc := websocket.NetConn(context.Background(), c, websocket.MessageText)
	return newLink(ctx, nc, RoleJoiner, o)
}
