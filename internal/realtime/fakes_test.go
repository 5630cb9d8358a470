package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/suPer8Hu/community-chat/internal/chat"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []Event
	frames [][]byte
	fail   bool
	closed bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.closed {
		return ErrSlowConsumer
	}
	c.events = append(c.events, f.Event)
	c.frames = append(c.frames, f.Data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) got() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// tokens are "user-<id>"; anything else is rejected
type fakeIdentity map[string]uint64

func (f fakeIdentity) ResolveIdentity(_ context.Context, credential string) (uint64, error) {
	if uid, ok := f[credential]; ok {
		return uid, nil
	}
	return 0, errors.New("bad token")
}

type fakeStore struct {
	mu      sync.Mutex
	users   map[uint64]bool
	members map[uint64]map[uint64]bool
	direct  []chat.DirectMessage
	group   []chat.GroupMessage
	failAll error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   map[uint64]bool{1: true, 2: true, 3: true},
		members: map[uint64]map[uint64]bool{10: {1: true, 2: true}},
	}
}

func (s *fakeStore) UserExists(_ context.Context, id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id], nil
}

func (s *fakeStore) CheckMember(_ context.Context, gid, uid uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[gid]
	if !ok {
		return chat.ErrGroupNotFound
	}
	if !m[uid] {
		return chat.ErrNotAMember
	}
	return nil
}

func (s *fakeStore) AppendDirect(ctx context.Context, from, to uint64, content string) (*chat.DirectMessage, error) {
	if s.failAll != nil {
		return nil, s.failAll
	}
	if from == to {
		return nil, chat.ErrSelfMessage
	}
	if ok, _ := s.UserExists(ctx, to); !ok {
		return nil, chat.ErrInvalidRecipient
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := chat.DirectMessage{ID: uint64(len(s.direct) + 1), SenderID: from, RecipientID: to, Content: content}
	s.direct = append(s.direct, m)
	return &m, nil
}

func (s *fakeStore) AppendGroup(ctx context.Context, gid, from uint64, content string) (*chat.GroupMessage, error) {
	if s.failAll != nil {
		return nil, s.failAll
	}
	if err := s.CheckMember(ctx, gid, from); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := chat.GroupMessage{ID: uint64(len(s.group) + 1), GroupID: gid, SenderID: from, Content: content}
	s.group = append(s.group, m)
	return &m, nil
}

func (s *fakeStore) removeMember(gid, uid uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members[gid], uid)
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, uint64) (bool, error) { return false, nil }
