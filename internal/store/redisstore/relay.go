package redisstore

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"github.com/suPer8Hu/community-chat/internal/realtime"
	"github.com/suPer8Hu/community-chat/internal/room"
)

// envelope carries either an event or an eviction for one room.
type envelope struct {
	Room  room.ID         `json:"room"`
	Event json.RawMessage `json:"event,omitempty"`
	Evict uint64          `json:"evict,omitempty"`
}

// Relay fans room events out through a redis channel so every process holding
// connections for the room delivers them. local may be nil for publish-only
// processes such as the worker.
type Relay struct {
	s       *Store
	channel string
	local   *realtime.Registry
	// set while Run holds a subscription; until then local rooms are served directly
	live atomic.Bool
}

func (s *Store) NewRelay(channel string, local *realtime.Registry) *Relay {
	return &Relay{s: s, channel: channel, local: local}
}

// Live reports whether relayed events currently reach the local registry.
func (r *Relay) Live() bool { return r.live.Load() }

// Broadcast publishes the event. The local registry is served directly when
// the publish fails or this process has no subscription. The returned count is
// local only and is 0 when delivery goes through redis.
func (r *Relay) Broadcast(id room.ID, ev realtime.Event) int {
	f, err := realtime.NewFrame(ev)
	if err != nil {
		log.Printf("[Relay] encode failed room=%s err=%v", id, err)
		return 0
	}
	if r.publish(envelope{Room: id, Event: f.Data}) && (r.local == nil || r.live.Load()) {
		return 0
	}
	if r.local != nil {
		return r.local.BroadcastFrame(id, f)
	}
	return 0
}

// Evict asks every process to drop userID's connections from the room.
func (r *Relay) Evict(id room.ID, userID uint64) int {
	if r.publish(envelope{Room: id, Evict: userID}) && (r.local == nil || r.live.Load()) {
		return 0
	}
	if r.local != nil {
		return r.local.Evict(id, userID)
	}
	return 0
}

func (r *Relay) publish(env envelope) bool {
	payload, err := json.Marshal(env)
	if err != nil {
		return false
	}
	if err := r.s.rdb.Publish(context.Background(), r.channel, payload).Err(); err != nil {
		log.Printf("[Relay] publish failed room=%s err=%v", env.Room, err)
		return false
	}
	return true
}

// Run delivers relayed events into the local registry until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	if r.local == nil {
		<-ctx.Done()
		return nil
	}
	sub := r.s.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	r.live.Store(true)
	defer r.live.Store(false)
	log.Printf("[Relay] subscribed channel=%s", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver([]byte(msg.Payload))
		}
	}
}

// Serve keeps Run going until ctx is done, resubscribing after backoff
// whenever the subscription drops.
func (r *Relay) Serve(ctx context.Context, backoff time.Duration) {
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	for {
		err := r.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Printf("[Relay] subscription lost, serving locally and retrying in %s: %v", backoff, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (r *Relay) deliver(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Printf("[Relay] bad envelope err=%v", err)
		return
	}
	if env.Evict != 0 {
		r.local.Evict(env.Room, env.Evict)
		return
	}
	ev, err := realtime.Decode(env.Event)
	if err != nil {
		log.Printf("[Relay] bad event room=%s err=%v", env.Room, err)
		return
	}
	// the payload is already the wire form
	r.local.BroadcastFrame(env.Room, realtime.Frame{Event: ev, Data: env.Event})
}
