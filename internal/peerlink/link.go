package peerlink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/chessduel/internal/rules"
)

// Role is which end of the link this process is.
type Role string

const (
	RoleHost   Role = "host"
	RoleJoiner Role = "joiner"
)

// Handler receives everything the receive loop decodes. Session satisfies it.
type Handler interface {
	OnRemoteMoveReceived(ctx context.Context, m rules.Move) error
	OnProtocolFault(ctx context.Context, cause error) error
	OnLinkFailure(ctx context.Context, cause error) error
}

type options struct {
	serviceID        uuid.UUID
	logger           *zap.Logger
	writeTimeout     time.Duration
	handshakeTimeout time.Duration
}

type Option func(*options)

func WithServiceID(id uuid.UUID) Option { return func(o *options) { o.serviceID = id } }

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.handshakeTimeout = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		serviceID:        DefaultServiceID,
		logger:           zap.NewNop(),
		writeTimeout:     5 * time.Second,
		handshakeTimeout: 10 * time.Second,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Link is one established, handshaken peer connection.
type Link struct {
	conn   net.Conn
	reader *bufio.Reader
	role   Role
	opts   options
	logger *zap.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newLink(ctx context.Context, conn net.Conn, role Role, o options) (*Link, error) {
	l := &Link{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, maxFrameBytes),
		role:   role,
		opts:   o,
		logger: o.logger.With(zap.String("peer_role", string(role)), zap.String("peer_addr", conn.RemoteAddr().String())),
		closed: make(chan struct{}),
	}
	if err := l.handshake(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	l.logger.Info("peer_link_established", zap.String("service_id", o.serviceID.String()))
	return l, nil
}

// handshake exchanges greetings. Both ends write first, so neither blocks on the other.
func (l *Link) handshake(ctx context.Context) error {
	deadline := time.Now().Add(l.opts.handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = l.conn.SetDeadline(deadline)
	defer func() { _ = l.conn.SetDeadline(time.Time{}) }()

	stop := context.AfterFunc(ctx, func() { _ = l.conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := l.conn.Write(helloFrame(l.opts.serviceID)); err != nil {
		return fmt.Errorf("%w: write greeting: %w", ErrHandshake, err)
	}
	line, err := l.reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("%w: read greeting: %w", ErrHandshake, err)
	}
	return checkHello(line, l.opts.serviceID)
}

func (l *Link) Role() Role           { return l.role }
func (l *Link) RemoteAddr() net.Addr { return l.conn.RemoteAddr() }

// Send writes one move frame. A failed or short write leaves the link unusable.
func (l *Link) Send(ctx context.Context, m rules.Move) error {
	select {
	case <-l.closed:
		return ErrLinkClosed
	default:
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	deadline := time.Now().Add(l.opts.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = l.conn.SetWriteDeadline(deadline)
	frame := EncodeMove(m)
	n, err := l.conn.Write(frame)
	if err == nil && n != len(frame) {
		err = io.ErrShortWrite
	}
	if err != nil {
		l.logger.Warn("peer_send_failed", zap.String("move", m.String()), zap.Error(err))
		return fmt.Errorf("send %s: %w", m, err)
	}
	l.logger.Debug("peer_move_sent", zap.String("move", m.String()))
	return nil
}

// Receive blocks reading frames until the stream ends, handing each to h. Malformed
// and oversized frames are reported and skipped. It returns after reporting the terminal
// link error, or nil when the link was closed locally or ctx ended.
func (l *Link) Receive(ctx context.Context, h Handler) error {
	for {
		frame, err := l.readFrame()
		if errors.Is(err, ErrFrameTooLong) {
			l.logger.Warn("peer_frame_oversized", zap.Int("limit", maxFrameBytes))
			if herr := h.OnProtocolFault(ctx, err); l.stopOn(herr) {
				return nil
			}
			continue
		}
		if err != nil {
			return l.streamEnded(ctx, h, err)
		}

		m, err := DecodeMove(frame)
		if err != nil {
			l.logger.Warn("peer_frame_invalid", zap.String("frame", frame), zap.Error(err))
			if herr := h.OnProtocolFault(ctx, err); l.stopOn(herr) {
				return nil
			}
			continue
		}
		l.logger.Debug("peer_move_received", zap.String("move", m.String()))
		if herr := h.OnRemoteMoveReceived(ctx, m); l.stopOn(herr) {
			return nil
		}
	}
}

// readFrame returns the next line without its terminator. A line that does not fit the
// reader's buffer is drained through its newline and reported as ErrFrameTooLong.
func (l *Link) readFrame() (string, error) {
	line, err := l.reader.ReadSlice('\n')
	if err == nil {
		return string(line[:len(line)-1]), nil
	}
	if !errors.Is(err, bufio.ErrBufferFull) {
		return "", err
	}
	for errors.Is(err, bufio.ErrBufferFull) {
		_, err = l.reader.ReadSlice('\n')
	}
	if err != nil {
		return "", err
	}
	return "", ErrFrameTooLong
}

func (l *Link) streamEnded(ctx context.Context, h Handler, cause error) error {
	if l.isClosed() || ctx.Err() != nil {
		return nil
	}
	l.logger.Warn("peer_stream_ended", zap.Error(cause))
	if err := h.OnLinkFailure(ctx, cause); err != nil && !l.terminal(err) {
		return err
	}
	return cause
}

// stopOn logs handler rejections and reports whether the loop should exit.
func (l *Link) stopOn(err error) bool {
	if err == nil {
		return false
	}
	if l.terminal(err) {
		return true
	}
	l.logger.Debug("peer_frame_rejected", zap.Error(err))
	return false
}

func (l *Link) terminal(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (l *Link) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// Close unblocks Receive and releases the connection.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.conn.Close()
		l.logger.Info("peer_link_closed")
	})
	return err
}
