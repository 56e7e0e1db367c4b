package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aaurelions/pokertools-sub001/internal/engine"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, zap.NewNop())
}

func TestKeyAndChannelNaming(t *testing.T) {
	if got := Key("abc"); got != "table:abc" {
		t.Fatalf("expected table:abc, got %q", got)
	}
	if got := Channel("abc"); got != "pubsub:table:abc" {
		t.Fatalf("expected pubsub:table:abc, got %q", got)
	}
}

func TestTableIDFromChannel(t *testing.T) {
	if got := TableIDFromChannel("pubsub:table:abc"); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
	if got := TableIDFromChannel("other:abc"); got != "" {
		t.Fatalf("expected empty for foreign channel, got %q", got)
	}
}

func TestCreateLoad_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st := &engine.TableState{TableID: "t1", Status: engine.StatusWaiting}
	if err := s.Create(ctx, "t1", st); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, "t1", st); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := s.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.TableID != "t1" || got.Version != 0 {
		t.Fatalf("expected t1 at version 0, got %s v%d", got.TableID, got.Version)
	}
	if _, err := s.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCompareAndSet_EnforcesStoredVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st := &engine.TableState{TableID: "t1"}
	if err := s.Create(ctx, "t1", st); err != nil {
		t.Fatalf("create: %v", err)
	}

	st.Version = 1
	if err := s.CompareAndSet(ctx, "t1", 0, st); err != nil {
		t.Fatalf("cas v0->v1: %v", err)
	}

	// A writer that loaded v0 loses against the now-stored v1.
	stale := &engine.TableState{TableID: "t1", Version: 1}
	if err := s.CompareAndSet(ctx, "t1", 0, stale); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}

	got, err := s.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Version != 1 {
		t.Fatalf("expected stored version 1, got %d", got.Version)
	}

	if err := s.CompareAndSet(ctx, "nope", 0, st); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEvent_JSONShape(t *testing.T) {
	raw, err := json.Marshal(Event{Kind: KindStateUpdate, TableID: "t1", Version: 42})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	want := `{"kind":"STATE_UPDATE","tableId":"t1","version":42}`
	if string(raw) != want {
		t.Fatalf("expected %s, got %s", want, raw)
	}
}
