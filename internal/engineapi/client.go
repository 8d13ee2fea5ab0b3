package engineapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/chessduel/internal/rules"
)

// DefaultBaseURL is the public move suggestion endpoint.
const DefaultBaseURL = "https://stockfish.online/api/s/v2.php"

var ErrUnavailable = errors.New("engine unavailable")

// Suggester returns one best move for a position, as a long algebraic token.
type Suggester interface {
	Suggest(ctx context.Context, fen string) (string, error)
}

type suggestResponse struct {
	Success  *bool   `json:"success"`
	BestMove *string `json:"bestmove"`
	Data     string  `json:"data"`
}

// Client calls the remote suggestion service over HTTP GET.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	depth   int

	defaultTimeout time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

func WithDepth(depth int) Option {
	return func(c *Client) {
		if depth > 0 {
			c.depth = depth
		}
	}
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

// WithDial replaces the transport dialer, e.g. with an in-memory listener.
func WithDial(dial fasthttp.DialFunc) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func NewClient(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:        strings.TrimSpace(baseURL),
		http:           &fasthttp.Client{ReadTimeout: 15 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 8},
		depth:          5,
		defaultTimeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Depth() int { return c.depth }

// Suggest performs one request. Every failure mode wraps ErrUnavailable. A cancelled ctx
// returns at once; the in-flight request is left to finish against its own deadline.
func (c *Client) Suggest(ctx context.Context, fen string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	release := func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL)
	args := req.URI().QueryArgs()
	args.Set("fen", fen)
	args.Set("depth", strconv.Itoa(c.depth))

	done := make(chan error, 1)
	deadline := c.computeDeadline(ctx)
	go func() { done <- c.http.DoDeadline(req, resp, deadline) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		go func() {
			<-done
			release()
		}()
		return "", fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	}
	defer release()

	if err != nil {
		return "", fmt.Errorf("%w: request failed: %w", ErrUnavailable, err)
	}
	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("%w: status=%d body=%s", ErrUnavailable, status, truncate(string(resp.Body()), 256))
	}
	return parseSuggestion(resp.Body())
}

// parseSuggestion takes the second whitespace token of the bestmove field.
func parseSuggestion(body []byte) (string, error) {
	var out suggestResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", ErrUnavailable, err)
	}
	if out.Success != nil && !*out.Success {
		return "", fmt.Errorf("%w: service reported failure: %s", ErrUnavailable, truncate(out.Data, 128))
	}
	if out.BestMove == nil {
		return "", fmt.Errorf("%w: response has no bestmove", ErrUnavailable)
	}
	fields := strings.Fields(*out.BestMove)
	if len(fields) < 2 {
		return "", fmt.Errorf("%w: bestmove %q", ErrUnavailable, *out.BestMove)
	}
	if _, err := rules.ParseMove(fields[1]); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return fields[1], nil
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
