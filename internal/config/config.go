package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// AppConfig is the process configuration. In host mode PeerAddr, when set, is the
// public address advertised in the lobby instead of the bound listener address.
type AppConfig struct {
	GameMode   string `yaml:"game_mode"`
	HumanColor string `yaml:"human_color"`

	PeerTransport      string `yaml:"peer_transport"`
	PeerListenAddr     string `yaml:"peer_listen_addr"`
	PeerAddr           string `yaml:"peer_addr"`
	PeerServiceID      string `yaml:"peer_service_id"`
	PeerAbortOnFault   bool   `yaml:"peer_abort_on_fault"`
	PeerAdvertise      bool   `yaml:"peer_advertise"`
	PeerDialTimeoutSec int    `yaml:"peer_dial_timeout_sec"`
	LobbyCode          string `yaml:"lobby_code"`
	LobbyTTLSec        int    `yaml:"lobby_ttl_sec"`

	EngineKind       string `yaml:"engine_kind"`
	EngineBaseURL    string `yaml:"engine_base_url"`
	EngineDepth      int    `yaml:"engine_depth"`
	EngineTimeoutSec int    `yaml:"engine_timeout_sec"`
	StockfishPath    string `yaml:"stockfish_path"`
	EngineBookPath   string `yaml:"engine_book_path"`
	EngineLevel      string `yaml:"engine_level"`

	Recorder     string `yaml:"recorder"`
	RedisURL     string `yaml:"redis_url"`
	DatabaseURL  string `yaml:"database_url"`
	HistoryLimit int    `yaml:"history_limit"`
	MessagesDir  string `yaml:"messages_dir"`
}

func defaults() *AppConfig {
	return &AppConfig{
		GameMode:           "local",
		HumanColor:         "white",
		PeerTransport:      "tcp",
		PeerListenAddr:     ":7420",
		PeerAbortOnFault:   true,
		PeerDialTimeoutSec: 15,
		LobbyTTLSec:        600,
		EngineKind:         "http",
		EngineBaseURL:      "https://stockfish.online/api/s/v2.php",
		EngineDepth:        5,
		EngineTimeoutSec:   15,
		Recorder:           "memory",
		HistoryLimit:       10,
	}
}

// Load builds the config from defaults, then the YAML file named by CHESSDUEL_CONFIG,
// then the environment.
func Load() (*AppConfig, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("CHESSDUEL_CONFIG")); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	setString(&cfg.GameMode, "GAME_MODE")
	setString(&cfg.HumanColor, "HUMAN_COLOR")

	setString(&cfg.PeerTransport, "PEER_TRANSPORT")
	setString(&cfg.PeerListenAddr, "PEER_LISTEN_ADDR")
	setString(&cfg.PeerAddr, "PEER_ADDR")
	setString(&cfg.PeerServiceID, "PEER_SERVICE_ID")
	setBool(&cfg.PeerAbortOnFault, "PEER_ABORT_ON_FAULT")
	setBool(&cfg.PeerAdvertise, "PEER_ADVERTISE")
	setPositiveInt(&cfg.PeerDialTimeoutSec, "PEER_DIAL_TIMEOUT_SEC")
	setString(&cfg.LobbyCode, "LOBBY_CODE")
	setPositiveInt(&cfg.LobbyTTLSec, "LOBBY_TTL_SEC")

	setString(&cfg.EngineKind, "ENGINE_KIND")
	setString(&cfg.EngineBaseURL, "ENGINE_BASE_URL")
	setPositiveInt(&cfg.EngineDepth, "ENGINE_DEPTH")
	setPositiveInt(&cfg.EngineTimeoutSec, "ENGINE_TIMEOUT_SEC")
	setString(&cfg.StockfishPath, "STOCKFISH_PATH")
	setString(&cfg.EngineBookPath, "ENGINE_BOOK_PATH")
	setString(&cfg.EngineLevel, "ENGINE_LEVEL")

	setString(&cfg.Recorder, "RECORDER")
	setString(&cfg.RedisURL, "REDIS_URL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setPositiveInt(&cfg.HistoryLimit, "HISTORY_LIMIT")
	setString(&cfg.MessagesDir, "MESSAGES_DIR")

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) overlayFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) normalize() {
	c.GameMode = strings.ToLower(strings.TrimSpace(c.GameMode))
	c.HumanColor = strings.ToLower(strings.TrimSpace(c.HumanColor))
	c.PeerTransport = strings.ToLower(strings.TrimSpace(c.PeerTransport))
	c.EngineKind = strings.ToLower(strings.TrimSpace(c.EngineKind))
	c.EngineLevel = strings.ToLower(strings.TrimSpace(c.EngineLevel))
	c.Recorder = strings.ToLower(strings.TrimSpace(c.Recorder))
	c.LobbyCode = strings.ToUpper(strings.TrimSpace(c.LobbyCode))
}

// Validate reports the first missing or inconsistent key.
func (c *AppConfig) Validate() error {
	switch c.GameMode {
	case "local", "engine", "host", "join":
	default:
		return fmt.Errorf("GAME_MODE must be local, engine, host or join: %q", c.GameMode)
	}
	switch c.HumanColor {
	case "white", "black":
	default:
		return fmt.Errorf("HUMAN_COLOR must be white or black: %q", c.HumanColor)
	}
	switch c.PeerTransport {
	case "tcp", "ws":
	default:
		return fmt.Errorf("PEER_TRANSPORT must be tcp or ws: %q", c.PeerTransport)
	}
	if c.PeerServiceID != "" {
		if _, err := uuid.Parse(c.PeerServiceID); err != nil {
			return fmt.Errorf("PEER_SERVICE_ID: %w", err)
		}
	}
	if c.GameMode == "join" && c.PeerAddr == "" && c.LobbyCode == "" {
		return errors.New("PEER_ADDR or LOBBY_CODE is required to join")
	}
	if (c.LobbyCode != "" || c.PeerAdvertise) && c.RedisURL == "" {
		return errors.New("REDIS_URL is required for the lobby (LOBBY_CODE or PEER_ADVERTISE)")
	}
	switch c.EngineKind {
	case "http":
	case "uci":
		if c.GameMode == "engine" && c.StockfishPath == "" {
			return errors.New("STOCKFISH_PATH is required for ENGINE_KIND=uci")
		}
	default:
		return fmt.Errorf("ENGINE_KIND must be http or uci: %q", c.EngineKind)
	}
	switch c.Recorder {
	case "memory", "none":
	case "redis":
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for RECORDER=redis")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for RECORDER=postgres")
		}
	default:
		return fmt.Errorf("RECORDER must be memory, redis, postgres or none: %q", c.Recorder)
	}
	return nil
}

// ServiceID returns the configured peer service id, or uuid.Nil when unset.
func (c *AppConfig) ServiceID() uuid.UUID {
	if c.PeerServiceID == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(c.PeerServiceID)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// setBool accepts strconv.ParseBool spellings, so "false" can switch off a default.
func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setPositiveInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}
