package lobby

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, ttl), mr
}

func TestAdvertiseResolveWithdraw(t *testing.T) {
	s, mr := newTestStore(t, time.Minute)
	ctx := context.Background()

	code, err := s.Advertise(ctx, Entry{Addr: "10.0.0.2:7420", Transport: "tcp"})
	if err != nil {
		t.Fatalf("Advertise: %v", err)
	}
	if !strings.HasPrefix(code, "CH-") || len(code) != 9 {
		t.Fatalf("code = %q", code)
	}
	if ttl := mr.TTL(keyEntry(code)); ttl != time.Minute {
		t.Fatalf("ttl = %v", ttl)
	}

	e, err := s.Resolve(ctx, " "+strings.ToLower(code)+" ")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if e.Addr != "10.0.0.2:7420" || e.Code != code || e.CreatedAt.IsZero() {
		t.Fatalf("entry = %+v", e)
	}

	if err := s.Withdraw(ctx, code); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if _, err := s.Resolve(ctx, code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after withdraw err = %v", err)
	}
	if err := s.Withdraw(ctx, code); err != nil {
		t.Fatalf("second Withdraw: %v", err)
	}
}

func TestListPrunesExpired(t *testing.T) {
	s, mr := newTestStore(t, time.Minute)
	ctx := context.Background()

	a, err := s.Advertise(ctx, Entry{Addr: "a:1"})
	if err != nil {
		t.Fatalf("Advertise a: %v", err)
	}
	mr.Del(keyEntry(a))
	if _, err := s.Advertise(ctx, Entry{Addr: "b:2"}); err != nil {
		t.Fatalf("Advertise b: %v", err)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Addr != "b:2" {
		t.Fatalf("list = %+v", list)
	}
	if ok, _ := mr.SIsMember(keyIndex(), a); ok {
		t.Fatalf("stale code %s still indexed", a)
	}
}

func TestAdvertiseNeedsAddr(t *testing.T) {
	s, _ := newTestStore(t, 0)
	if _, err := s.Advertise(context.Background(), Entry{}); err == nil {
		t.Fatalf("expected error")
	}
	if s.ttl != DefaultTTL {
		t.Fatalf("ttl default = %v", s.ttl)
	}
}

func TestResolveEmpty(t *testing.T) {
	s, _ := newTestStore(t, time.Minute)
	if _, err := s.Resolve(context.Background(), "  "); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}
