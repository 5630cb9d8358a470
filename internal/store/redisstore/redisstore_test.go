package redisstore

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/community-chat/internal/realtime"
	"github.com/suPer8Hu/community-chat/internal/room"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

type recConn struct {
	id     string
	got    chan realtime.Event
	closed atomic.Bool
}

func newRecConn(id string) *recConn {
	return &recConn{id: id, got: make(chan realtime.Event, 8)}
}

func (c *recConn) ID() string { return c.id }
func (c *recConn) Send(f realtime.Frame) error {
	select {
	case c.got <- f.Event:
		return nil
	default:
		return realtime.ErrSlowConsumer
	}
}
func (c *recConn) Close() error {
	c.closed.Store(true)
	return nil
}

// runRelay starts relay.Run and waits for its subscription.
func runRelay(t *testing.T, relay *Relay) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	deadline := time.Now().Add(3 * time.Second)
	for !relay.Live() {
		if time.Now().After(deadline) {
			t.Fatalf("relay never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRateLimiter_WindowAndReset(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	l := s.NewRateLimiter(2, time.Minute)

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, 7)
		if err != nil || !ok {
			t.Fatalf("hit %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := l.Allow(ctx, 7)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Fatalf("third hit should be limited")
	}

	// other users have their own counter
	if ok, _ := l.Allow(ctx, 8); !ok {
		t.Fatalf("user 8 should be allowed")
	}

	mr.FastForward(61 * time.Second)
	if ok, _ := l.Allow(ctx, 7); !ok {
		t.Fatalf("window should have reset")
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	s, _ := newTestStore(t)
	l := s.NewRateLimiter(0, time.Minute)
	for i := 0; i < 10; i++ {
		if ok, err := l.Allow(context.Background(), 1); !ok || err != nil {
			t.Fatalf("disabled limiter rejected: ok=%v err=%v", ok, err)
		}
	}
}

func TestRelay_DeliversThroughRedis(t *testing.T) {
	s, _ := newTestStore(t)
	reg := realtime.NewRegistry()
	rid, _ := room.Direct(1, 2)
	c := newRecConn("a")
	if err := reg.Join(rid, 1, c); err != nil {
		t.Fatalf("Join: %v", err)
	}

	relay := s.NewRelay("test:rooms", reg)
	runRelay(t, relay)

	// a publish-only relay, as the worker uses
	pub := s.NewRelay("test:rooms", nil)
	pub.Broadcast(rid, realtime.ChatMessage{Message: "hi", SenderID: 1})
	select {
	case ev := <-c.got:
		m, ok := ev.(realtime.ChatMessage)
		if !ok || m.Message != "hi" || m.SenderID != 1 {
			t.Fatalf("got %#v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("event never relayed")
	}

	// with a live subscription the local registry is reached through redis only
	if n := relay.Broadcast(rid, realtime.Typing{SenderID: 2}); n != 0 {
		t.Fatalf("delivered locally=%d", n)
	}
	select {
	case ev := <-c.got:
		if _, ok := ev.(realtime.Typing); !ok {
			t.Fatalf("got %#v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("typing never relayed")
	}
	select {
	case ev := <-c.got:
		t.Fatalf("duplicate delivery %#v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRelay_EvictThroughRedis(t *testing.T) {
	s, _ := newTestStore(t)
	reg := realtime.NewRegistry()
	rid, _ := room.Group(4)
	gone, stay := newRecConn("gone"), newRecConn("stay")
	_ = reg.Join(rid, 5, gone)
	_ = reg.Join(rid, 6, stay)

	runRelay(t, s.NewRelay("test:rooms", reg))

	s.NewRelay("test:rooms", nil).Evict(rid, 5)
	deadline := time.Now().Add(3 * time.Second)
	for reg.Size(rid) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("eviction never relayed, size=%d", reg.Size(rid))
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !gone.closed.Load() || stay.closed.Load() {
		t.Fatalf("wrong conn closed")
	}
}

func TestRelay_ServesLocallyWithoutSubscription(t *testing.T) {
	s, _ := newTestStore(t)
	reg := realtime.NewRegistry()
	rid, _ := room.Group(9)
	c := newRecConn("a")
	_ = reg.Join(rid, 1, c)

	// redis is up but Run never subscribed
	relay := s.NewRelay("test:rooms", reg)
	if n := relay.Broadcast(rid, realtime.ChatMessage{Message: "still here", SenderID: 2}); n != 1 {
		t.Fatalf("delivered=%d, want 1", n)
	}
	if m, ok := (<-c.got).(realtime.ChatMessage); !ok || m.Message != "still here" {
		t.Fatalf("got %#v", m)
	}
	if n := relay.Evict(rid, 1); n != 1 || !c.closed.Load() {
		t.Fatalf("evict=%d closed=%v", n, c.closed.Load())
	}
}

func TestRelay_ServeResubscribes(t *testing.T) {
	s, mr := newTestStore(t)
	reg := realtime.NewRegistry()
	relay := s.NewRelay("test:rooms", reg)

	mr.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Serve(ctx, 20*time.Millisecond)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	if relay.Live() {
		t.Fatalf("live without redis")
	}
	if err := mr.Restart(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !relay.Live() {
		if time.Now().After(deadline) {
			t.Fatalf("relay never resubscribed")
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestRelay_FallsBackToLocal(t *testing.T) {
	s, mr := newTestStore(t)
	reg := realtime.NewRegistry()
	rid, _ := room.Group(3)
	c := newRecConn("a")
	_ = reg.Join(rid, 1, c)

	mr.Close()
	relay := s.NewRelay("test:rooms", reg)
	if n := relay.Broadcast(rid, realtime.Typing{SenderID: 4}); n != 1 {
		t.Fatalf("delivered=%d, want 1", n)
	}
	if _, ok := (<-c.got).(realtime.Typing); !ok {
		t.Fatalf("expected typing event")
	}
}

func TestRelay_DeliverIgnoresGarbage(t *testing.T) {
	s, _ := newTestStore(t)
	reg := realtime.NewRegistry()
	relay := s.NewRelay("x", reg)
	relay.deliver([]byte("not json"))
	relay.deliver([]byte(`{"room":"group_1","event":{"nope":1}}`))
	if reg.Rooms() != 0 {
		t.Fatalf("registry should be untouched")
	}
}
