package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *RedisBackend) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	backend := NewRedisBackendFromClient(client, "test:", 0)

	t.Cleanup(func() {
		_ = backend.Close()
	})

	return mr, backend
}

func TestRedisBackend_SaveAndLoad(t *testing.T) {
	mr, backend := setupMiniredis(t)
	ctx := context.Background()

	rec := &Record{
		Agent:    "rahul",
		Partner:  "priya",
		History:  []Entry{{Role: RolePartner, Text: "kya scene", Time: time.Now().UTC()}},
		Energy:   42,
		Mood:     MoodCurious,
		Messages: 21,
		Promoted: true,
	}
	if err := backend.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !mr.Exists("test:rahul:priya") {
		t.Fatal("expected key test:rahul:priya")
	}

	loaded, err := backend.Load(ctx, "rahul", "priya")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Energy != 42 || loaded.Mood != MoodCurious || !loaded.Promoted {
		t.Errorf("loaded = %+v", loaded)
	}
	if len(loaded.History) != 1 || loaded.History[0].Text != "kya scene" {
		t.Errorf("history = %+v", loaded.History)
	}
}

func TestRedisBackend_LoadNotFound(t *testing.T) {
	_, backend := setupMiniredis(t)

	_, err := backend.Load(context.Background(), "rahul", "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisBackend_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	backend := NewRedisBackendFromClient(client, "", time.Hour)
	defer backend.Close()

	ctx := context.Background()
	if err := backend.Save(ctx, &Record{Agent: "a", Partner: "b"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if ttl := mr.TTL("duet:memory:a:b"); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := backend.Load(ctx, "a", "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected expired record, got %v", err)
	}
}

func TestRedisBackend_Closed(t *testing.T) {
	_, backend := setupMiniredis(t)
	ctx := context.Background()

	if err := backend.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if err := backend.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := backend.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}

	if _, err := backend.Load(ctx, "a", "b"); !errors.Is(err, ErrBackendClosed) {
		t.Errorf("Load after close = %v", err)
	}
	if err := backend.Save(ctx, &Record{Agent: "a", Partner: "b"}); !errors.Is(err, ErrBackendClosed) {
		t.Errorf("Save after close = %v", err)
	}
	if err := backend.Ping(ctx); !errors.Is(err, ErrBackendClosed) {
		t.Errorf("Ping after close = %v", err)
	}
}

func TestRedisBackend_CorruptValue(t *testing.T) {
	mr, backend := setupMiniredis(t)
	_ = mr.Set("test:a:b", "{not json")

	if _, err := backend.Load(context.Background(), "a", "b"); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("expected unmarshal error, got %v", err)
	}
}

func TestNewRedisBackend_RequiresAddr(t *testing.T) {
	if _, err := NewRedisBackend(RedisConfig{}); err == nil {
		t.Error("expected error for empty address")
	}
}

func TestNewRedisBackend_Connects(t *testing.T) {
	mr := miniredis.RunT(t)
	backend, err := NewRedisBackend(RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedisBackend failed: %v", err)
	}
	defer backend.Close()

	if backend.prefix != defaultPrefix {
		t.Errorf("prefix = %q", backend.prefix)
	}
}
