package engineapi

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultReadyTimeout = 4 * time.Second

// UCIConfig launches a local UCI engine such as stockfish.
type UCIConfig struct {
	Path       string
	Args       []string
	Depth      int
	Threads    int
	HashMB     int
	SkillLevel int
	// MoveTimeMillis and NodeCap further bound each search when positive.
	MoveTimeMillis int
	NodeCap        int
}

// UCIEngine is a Suggester backed by a child process speaking UCI on stdio.
type UCIEngine struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	goCmd   string
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	search sync.Mutex
}

func NewUCIEngine(ctx context.Context, cfg UCIConfig, logger *zap.Logger) (*UCIEngine, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("uci engine path is empty")
	}
	if cfg.SkillLevel < 0 || cfg.SkillLevel > 20 {
		return nil, fmt.Errorf("skill level %d out of range 0-20", cfg.SkillLevel)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	depth := cfg.Depth
	if depth <= 0 && cfg.MoveTimeMillis <= 0 && cfg.NodeCap <= 0 {
		depth = 5
	}
	goCmd, err := buildGoCommand(depth, cfg.MoveTimeMillis, cfg.NodeCap)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, cfg.Path, cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	e := &UCIEngine{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  bufio.NewReader(stdoutPipe),
		goCmd:   goCmd,
		timeout: searchTimeout(depth, cfg.MoveTimeMillis),
		logger:  logger.With(zap.String("engine", cfg.Path)),
	}
	if err := e.initialize(ctx, cfg); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// Suggest searches fen within the configured limits and returns the bestmove token.
func (e *UCIEngine) Suggest(ctx context.Context, fen string) (string, error) {
	e.search.Lock()
	defer e.search.Unlock()

	if err := e.send(buildPositionCommand(fen)); err != nil {
		return "", fmt.Errorf("%w: send position: %w", ErrUnavailable, err)
	}
	if err := e.send(e.goCmd); err != nil {
		return "", fmt.Errorf("%w: send go: %w", ErrUnavailable, err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	for {
		line, err := e.readLine(searchCtx)
		if err != nil {
			e.logger.Warn("uci_read_failed", zap.String("fen", fen), zap.Error(err))
			return "", fmt.Errorf("%w: read line: %w", ErrUnavailable, err)
		}
		if !strings.HasPrefix(line, "bestmove") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 || parts[1] == "(none)" {
			return "", fmt.Errorf("%w: %q", ErrUnavailable, line)
		}
		return parts[1], nil
	}
}

func buildPositionCommand(fen string) string {
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		return "position startpos\n"
	}
	return "position fen " + fen + "\n"
}

func searchTimeout(depth, moveTimeMillis int) time.Duration {
	base := time.Duration(depth)*300*time.Millisecond + 2*time.Duration(moveTimeMillis)*time.Millisecond
	if base < 6*time.Second {
		base = 6 * time.Second
	}
	if base > 20*time.Second {
		base = 20 * time.Second
	}
	return base
}

func (e *UCIEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stdin != nil {
		_, _ = io.WriteString(e.stdin, "quit\n")
		e.stdin.Close()
	}
	if e.cmd != nil && e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
	}
	if e.cmd != nil {
		return e.cmd.Wait()
	}
	return nil
}

func (e *UCIEngine) initialize(ctx context.Context, cfg UCIConfig) error {
	initCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := e.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := e.awaitToken(initCtx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}

	threads := cfg.Threads
	if threads <= 0 {
		threads = 1
	}
	cmds := []string{fmt.Sprintf("setoption name Threads value %d\n", threads)}
	if cfg.HashMB > 0 {
		cmds = append(cmds, fmt.Sprintf("setoption name Hash value %d\n", cfg.HashMB))
	}
	if cfg.SkillLevel > 0 {
		cmds = append(cmds, fmt.Sprintf("setoption name Skill Level value %d\n", cfg.SkillLevel))
	}
	for _, c := range cmds {
		if err := e.send(c); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}

	if err := e.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := e.awaitToken(initCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (e *UCIEngine) send(msg string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := io.WriteString(e.stdin, msg)
	return err
}

func (e *UCIEngine) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := e.readLine(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

func (e *UCIEngine) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		line, err := e.stdout.ReadString('\n')
		ch <- result{line: strings.TrimSpace(line), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		return res.line, res.err
	}
}
