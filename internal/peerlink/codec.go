package peerlink

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/park285/chessduel/internal/rules"
)

// DefaultServiceID is the well-known identifier both peers agree on when none is configured.
var DefaultServiceID = uuid.MustParse("00001101-0000-1000-8000-00805F9B34FB")

const (
	helloPrefix   = "hello "
	maxFrameBytes = 256
)

var (
	ErrHandshake    = errors.New("peer handshake failed")
	ErrLinkClosed   = errors.New("peer link closed")
	// ErrFrameTooLong marks a line longer than maxFrameBytes. It wraps rules.ErrMalformedMove.
	ErrFrameTooLong = fmt.Errorf("%w: frame exceeds %d bytes", rules.ErrMalformedMove, maxFrameBytes)
)

// EncodeMove frames m as one newline-terminated token.
func EncodeMove(m rules.Move) []byte {
	return []byte(m.String() + "\n")
}

// DecodeMove parses one frame with its terminator already stripped.
func DecodeMove(frame string) (rules.Move, error) {
	tok := strings.TrimRight(frame, "\r")
	if strings.TrimSpace(tok) != tok || tok == "" {
		return rules.Move{}, fmt.Errorf("%w: frame %q", rules.ErrMalformedMove, frame)
	}
	return rules.ParseMove(tok)
}

func helloFrame(id uuid.UUID) []byte {
	return []byte(helloPrefix + id.String() + "\n")
}

func checkHello(line string, want uuid.UUID) error {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, helloPrefix) {
		return fmt.Errorf("%w: unexpected greeting %q", ErrHandshake, line)
	}
	got, err := uuid.Parse(strings.TrimPrefix(line, helloPrefix))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	if got != want {
		return fmt.Errorf("%w: service %s, want %s", ErrHandshake, got, want)
	}
	return nil
}
