package lobby

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/chessduel/internal/obslog"
)

const (
	DefaultTTL   = 10 * time.Minute
	codeAttempts = 5
)

var (
	ErrNotFound  = errors.New("lobby code not found")
	ErrCodeSpace = errors.New("could not allocate a free lobby code")
)

// Entry is a hosted game waiting for a joiner.
type Entry struct {
	Code      string    `json:"code"`
	Addr      string    `json:"addr"`
	Transport string    `json:"transport"`
	ServiceID string    `json:"service_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store maps short lobby codes to host addresses in Redis.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func keyEntry(code string) string { return "chessduel:lobby:" + normalize(code) }
func keyIndex() string            { return "chessduel:lobby" }

func normalize(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }

// Advertise publishes e under a fresh code and returns the code.
func (s *Store) Advertise(ctx context.Context, e Entry) (string, error) {
	if strings.TrimSpace(e.Addr) == "" {
		return "", errors.New("lobby entry needs an address")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	for i := 0; i < codeAttempts; i++ {
		code, err := codeGen()
		if err != nil {
			return "", err
		}
		e.Code = code
		raw, err := json.Marshal(&e)
		if err != nil {
			return "", err
		}
		ok, err := s.rdb.SetNX(ctx, keyEntry(code), raw, s.ttl).Result()
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		if err := s.rdb.SAdd(ctx, keyIndex(), code).Err(); err != nil {
			return "", err
		}
		_ = s.rdb.Expire(ctx, keyIndex(), s.ttl).Err()
		obslog.L().Info("lobby_advertise", zap.String("code", code), zap.String("addr", e.Addr))
		return code, nil
	}
	return "", ErrCodeSpace
}

// Resolve looks up the host behind code.
func (s *Store) Resolve(ctx context.Context, code string) (*Entry, error) {
	if normalize(code) == "" {
		return nil, ErrNotFound
	}
	raw, err := s.rdb.Get(ctx, keyEntry(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, normalize(code))
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Withdraw removes code. Missing codes are not an error.
func (s *Store) Withdraw(ctx context.Context, code string) error {
	if normalize(code) == "" {
		return nil
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, keyEntry(code))
	pipe.SRem(ctx, keyIndex(), normalize(code))
	_, err := pipe.Exec(ctx)
	return err
}

// List returns the open entries and prunes expired codes from the index.
func (s *Store) List(ctx context.Context) ([]*Entry, error) {
	codes, err := s.rdb.SMembers(ctx, keyIndex()).Result()
	if err != nil {
		return nil, err
	}
	var out []*Entry
	for _, c := range codes {
		e, err := s.Resolve(ctx, c)
		if errors.Is(err, ErrNotFound) {
			_ = s.rdb.SRem(ctx, keyIndex(), c).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// codeGen returns `CH-` + 6 upper alnum.
func codeGen() (string, error) {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return fmt.Sprintf("CH-%s", string(b)), nil
}
