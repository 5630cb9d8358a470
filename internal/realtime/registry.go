package realtime

import (
	"errors"
	"log"
	"sync"

	"github.com/suPer8Hu/community-chat/internal/metrics"
	"github.com/suPer8Hu/community-chat/internal/room"
)

var ErrRegistryClosed = errors.New("realtime: registry closed")

// Conn is one live connection as seen by the registry. Send must not block.
type Conn interface {
	ID() string
	Send(f Frame) error
	Close() error
}

// Broadcaster fans an event out to a room and removes users who lost access
// to it. Results are best effort.
type Broadcaster interface {
	Broadcast(id room.ID, ev Event) int
	Evict(id room.ID, userID uint64) int
}

type roomSet struct {
	mu sync.Mutex
	// conn -> owning user
	conns map[Conn]uint64
	// set once the room is pruned; a Join that raced the prune retries
	dead bool
}

// Registry maps rooms to their live connections. Each room is guarded by its
// own lock; mu only protects the room map itself.
type Registry struct {
	mu     sync.Mutex
	rooms  map[room.ID]*roomSet
	closed bool
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[room.ID]*roomSet)}
}

func (r *Registry) lookup(id room.ID, create bool) (*roomSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	rs := r.rooms[id]
	if rs == nil && create {
		rs = &roomSet{conns: make(map[Conn]uint64)}
		r.rooms[id] = rs
		metrics.ActiveRooms.Inc()
	}
	return rs, nil
}

// Join adds c, owned by userID, to the room. Joining twice is a no-op.
func (r *Registry) Join(id room.ID, userID uint64, c Conn) error {
	for {
		rs, err := r.lookup(id, true)
		if err != nil {
			return err
		}
		rs.mu.Lock()
		if rs.dead {
			rs.mu.Unlock()
			continue
		}
		rs.conns[c] = userID
		rs.mu.Unlock()
		return nil
	}
}

// Leave removes c from the room and prunes the room once it is empty.
func (r *Registry) Leave(id room.ID, c Conn) {
	rs, err := r.lookup(id, false)
	if err != nil || rs == nil {
		return
	}

	rs.mu.Lock()
	delete(rs.conns, c)
	empty := len(rs.conns) == 0
	rs.mu.Unlock()
	if empty {
		r.prune(id, rs)
	}
}

func (r *Registry) prune(id room.ID, rs *roomSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.conns) == 0 && !rs.dead && r.rooms[id] == rs {
		rs.dead = true
		delete(r.rooms, id)
		metrics.ActiveRooms.Dec()
	}
}

// Broadcast delivers ev to every connection in the room and returns how many
// accepted it. A failed delivery is logged and skipped, never retried.
func (r *Registry) Broadcast(id room.ID, ev Event) int {
	rs, err := r.lookup(id, false)
	if err != nil || rs == nil {
		return 0
	}
	f, err := NewFrame(ev)
	if err != nil {
		log.Printf("[Registry] encode failed room=%s err=%v", id, err)
		return 0
	}
	return r.deliver(id, rs, f)
}

// BroadcastFrame is Broadcast for an event that is already encoded.
func (r *Registry) BroadcastFrame(id room.ID, f Frame) int {
	rs, err := r.lookup(id, false)
	if err != nil || rs == nil {
		return 0
	}
	return r.deliver(id, rs, f)
}

func (r *Registry) deliver(id room.ID, rs *roomSet, f Frame) int {
	metrics.Broadcasts.Inc()

	rs.mu.Lock()
	defer rs.mu.Unlock()
	delivered := 0
	for c := range rs.conns {
		if err := c.Send(f); err != nil {
			metrics.BroadcastDrops.Inc()
			log.Printf("[Registry] deliver failed room=%s conn=%s err=%v", id, c.ID(), err)
			continue
		}
		delivered++
	}
	return delivered
}

// Evict removes and closes every connection userID holds in the room and
// returns how many were dropped.
func (r *Registry) Evict(id room.ID, userID uint64) int {
	rs, err := r.lookup(id, false)
	if err != nil || rs == nil {
		return 0
	}

	var gone []Conn
	rs.mu.Lock()
	for c, uid := range rs.conns {
		if uid == userID {
			gone = append(gone, c)
			delete(rs.conns, c)
		}
	}
	empty := len(rs.conns) == 0
	rs.mu.Unlock()

	for _, c := range gone {
		_ = c.Close()
		log.Printf("[Registry] evicted user=%d room=%s conn=%s", userID, id, c.ID())
	}
	if empty && len(gone) > 0 {
		r.prune(id, rs)
	}
	return len(gone)
}

// Size returns the number of connections in the room.
func (r *Registry) Size(id room.ID) int {
	rs, err := r.lookup(id, false)
	if err != nil || rs == nil {
		return 0
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.conns)
}

func (r *Registry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Close closes every registered connection and rejects further joins.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id, rs := range r.rooms {
		rs.mu.Lock()
		for c := range rs.conns {
			_ = c.Close()
		}
		rs.conns = make(map[Conn]uint64)
		rs.dead = true
		rs.mu.Unlock()
		delete(r.rooms, id)
	}
	metrics.ActiveRooms.Set(0)
}
