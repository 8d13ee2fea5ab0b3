package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/park285/chessduel/internal/engineapi"
	"github.com/park285/chessduel/internal/obslog"
	"github.com/park285/chessduel/internal/rules"
)

func main() {
	fen := flag.String("fen", rules.StartFEN, "position to analyse")
	depth := flag.Int("depth", 5, "search depth")
	timeout := flag.Duration("timeout", 15*time.Second, "request timeout")
	flag.Parse()

	if err := obslog.Init(obslog.Options{Level: "debug", Console: true, Format: "console"}); err != nil {
		log.Fatalf("logger init error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var s engineapi.Suggester
	if path := strings.TrimSpace(os.Getenv("STOCKFISH_PATH")); path != "" {
		e, err := engineapi.NewUCIEngine(ctx, engineapi.UCIConfig{Path: path, Depth: *depth}, obslog.Named("uci"))
		if err != nil {
			log.Fatalf("uci start error: %v", err)
		}
		defer e.Close()
		s = e
	} else {
		baseURL := os.Getenv("ENGINE_BASE_URL")
		if baseURL == "" {
			baseURL = engineapi.DefaultBaseURL
		}
		s = engineapi.NewClient(baseURL, engineapi.WithDepth(*depth), engineapi.WithTimeout(*timeout))
	}

	start := time.Now()
	move, err := s.Suggest(ctx, *fen)
	if err != nil {
		log.Printf("suggest error after %s: %v", time.Since(start), err)
		os.Exit(1)
	}
	log.Printf("suggest ok: move=%s elapsed=%s", move, time.Since(start))
}
