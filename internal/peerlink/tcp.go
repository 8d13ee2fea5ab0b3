package peerlink

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
)

// Host listens for exactly one joiner.
type Host struct {
	ln   net.Listener
	opts options
}

// NewHost binds addr. Use ":0" to pick a free port and read it back with Addr.
func NewHost(ctx context.Context, addr string, opts ...Option) (*Host, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	o := buildOptions(opts)
	o.logger.Info("peer_host_listening", zap.String("addr", ln.Addr().String()))
	return &Host{ln: ln, opts: o}, nil
}

func (h *Host) Addr() net.Addr { return h.ln.Addr() }

// Accept waits for the joiner, completes the handshake and stops listening.
// Connections that fail the handshake are dropped and the host keeps waiting.
func (h *Host) Accept(ctx context.Context) (*Link, error) {
	defer h.ln.Close()
	stop := context.AfterFunc(ctx, func() { _ = h.ln.Close() })
	defer stop()

	for {
		conn, err := h.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("accept: %w", err)
		}
		link, err := newLink(ctx, conn, RoleHost, h.opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			h.opts.logger.Warn("peer_handshake_rejected", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			continue
		}
		return link, nil
	}
}

func (h *Host) Close() error { return h.ln.Close() }

// Listen binds addr and returns the first joiner's link.
func Listen(ctx context.Context, addr string, opts ...Option) (*Link, error) {
	h, err := NewHost(ctx, addr, opts...)
	if err != nil {
		return nil, err
	}
	return h.Accept(ctx)
}

// Dial connects to a host as the joiner.
func Dial(ctx context.Context, addr string, opts ...Option) (*Link, error) {
	o := buildOptions(opts)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return newLink(ctx, conn, RoleJoiner, o)
}
