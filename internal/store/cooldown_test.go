package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestRedisCooldown_AcquireOnce(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	s, err := NewRedisCooldown(fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("NewRedisCooldown: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	ok, err := s.Acquire(ctx, "SomeBot", time.Hour)
	if err != nil || !ok {
		t.Fatalf("first Acquire = %v, %v", ok, err)
	}
	ok, err = s.Acquire(ctx, "somebot", time.Hour)
	if err != nil || ok {
		t.Fatalf("second Acquire must be refused (case-insensitive), got %v, %v", ok, err)
	}
	if active, _ := s.Active(ctx, "somebot"); !active {
		t.Fatalf("expected active cooldown")
	}

	mr.FastForward(2 * time.Hour)
	if active, _ := s.Active(ctx, "somebot"); active {
		t.Fatalf("cooldown must expire")
	}
	if ok, _ := s.Acquire(ctx, "somebot", time.Hour); !ok {
		t.Fatalf("Acquire after expiry must succeed")
	}
}

func TestNewRedisCooldown_BadURL(t *testing.T) {
	if _, err := NewRedisCooldown("not-a-url"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestMemoryCooldown_Expiry(t *testing.T) {
	m := NewMemoryCooldown()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _ := m.Acquire(ctx, "bot", time.Minute); !ok {
		t.Fatalf("first Acquire refused")
	}
	if ok, _ := m.Acquire(ctx, "bot", time.Minute); ok {
		t.Fatalf("second Acquire accepted")
	}
	now = now.Add(2 * time.Minute)
	if active, _ := m.Active(ctx, "bot"); active {
		t.Fatalf("cooldown must expire")
	}
	if ok, _ := m.Acquire(ctx, "bot", time.Minute); !ok {
		t.Fatalf("Acquire after expiry refused")
	}
}
