package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/example/nearby/internal/models"
	"github.com/example/nearby/internal/storage"
)

// fakeMirror implements PositionMirror for tests
type fakeMirror struct {
	fail  int // number of times to fail before succeeding
	calls int
	last  models.PositionEvent
}

func (f *fakeMirror) Mirror(ctx context.Context, ev models.PositionEvent) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("mirror fail")
	}
	f.last = ev
	return nil
}

func TestMirrorWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeMirror{fail: 2}
	ev := models.PositionEvent{ID: "u1", Lat: 1, Lng: 2}
	start := time.Now()
	if err := mirrorWithRetry(context.Background(), f, ev, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("expected doubling backoff")
	}
}

func TestMirrorWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeMirror{fail: 5}
	err := mirrorWithRetry(context.Background(), f, models.PositionEvent{ID: "u1"}, 3, time.Millisecond)
	if err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
}

func TestMirrorWithRetry_StopsOnCancel(t *testing.T) {
	f := &fakeMirror{fail: 5}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := mirrorWithRetry(ctx, f, models.PositionEvent{ID: "u1"}, 3, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if f.calls != 1 {
		t.Fatalf("expected 1 call, got %d", f.calls)
	}
}

func TestHandleMessageRejectsInvalid(t *testing.T) {
	for _, raw := range []string{`not json`, `{"lat":1,"lng":2}`} {
		f := &fakeMirror{}
		err := handleMessage(context.Background(), f, []byte(raw))
		if !errors.Is(err, errInvalidEvent) {
			t.Fatalf("%s: expected errInvalidEvent, got %v", raw, err)
		}
		if f.calls != 0 {
			t.Fatalf("%s: mirror should not be called", raw)
		}
	}
}

func TestHandleMessageMirrorsIntoRedis(t *testing.T) {
	s := miniredis.RunT(t)
	rs := storage.NewRedisStore(s.Addr(), "", "test:")
	defer rs.Close()

	raw := `{"id":"u1","name":"Ann","lat":48.85,"lng":2.35,"updated_at":"2026-01-02T03:04:05Z"}`
	if err := handleMessage(context.Background(), rs, []byte(raw)); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}

	got, err := rs.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Ann" || got.Lat != 48.85 || got.Lng != 2.35 {
		t.Fatalf("unexpected entity %+v", got)
	}
}
