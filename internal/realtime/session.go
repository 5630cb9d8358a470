package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/suPer8Hu/community-chat/internal/chat"
	"github.com/suPer8Hu/community-chat/internal/metrics"
	"github.com/suPer8Hu/community-chat/internal/room"
)

var (
	ErrUnauthenticated = errors.New("realtime: unauthenticated")
	ErrSessionState    = errors.New("realtime: operation not allowed in current state")
)

type State int

const (
	StateConnecting State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, credential string) (uint64, error)
}

// Store is the part of the message store gateway a session needs.
type Store interface {
	UserExists(ctx context.Context, userID uint64) (bool, error)
	CheckMember(ctx context.Context, groupID, userID uint64) error
	AppendDirect(ctx context.Context, senderID, recipientID uint64, content string) (*chat.DirectMessage, error)
	AppendGroup(ctx context.Context, groupID, senderID uint64, content string) (*chat.GroupMessage, error)
}

type Limiter interface {
	Allow(ctx context.Context, userID uint64) (bool, error)
}

type TargetKind int

const (
	TargetDirect TargetKind = iota + 1
	TargetGroup
)

// Target is what the connection asked to talk to: a recipient or a group.
type Target struct {
	Kind TargetKind
	ID   uint64
}

func DirectTarget(recipientID uint64) Target { return Target{Kind: TargetDirect, ID: recipientID} }
func GroupTarget(groupID uint64) Target      { return Target{Kind: TargetGroup, ID: groupID} }

type Deps struct {
	Identity IdentityResolver
	Store    Store
	Registry *Registry
	// Broadcaster defaults to Registry. Set it to a relay to fan out across processes.
	Broadcaster Broadcaster
	// Limiter is optional.
	Limiter Limiter
}

// Session is the state machine bound to one connection:
// Connecting -> Joined -> Closed, or Connecting -> Closed when refused.
type Session struct {
	deps Deps

	mu     sync.Mutex
	state  State
	userID uint64
	target Target
	room   room.ID
	conn   Conn
}

func NewSession(deps Deps) *Session {
	if deps.Broadcaster == nil {
		deps.Broadcaster = deps.Registry
	}
	return &Session{deps: deps, state: StateConnecting}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) UserID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) Room() room.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Authenticate resolves the caller and checks the target. On failure the
// session is Closed and the connection must be refused.
func (s *Session) Authenticate(ctx context.Context, credential string, target Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return ErrSessionState
	}

	uid, err := s.deps.Identity.ResolveIdentity(ctx, credential)
	if err != nil || uid == 0 {
		s.state = StateClosed
		return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	rid, err := s.resolveTarget(ctx, uid, target)
	if err != nil {
		s.state = StateClosed
		return err
	}

	s.userID = uid
	s.target = target
	s.room = rid
	return nil
}

func (s *Session) resolveTarget(ctx context.Context, uid uint64, t Target) (room.ID, error) {
	switch t.Kind {
	case TargetDirect:
		if t.ID == uid {
			return "", chat.ErrSelfMessage
		}
		ok, err := s.deps.Store.UserExists(ctx, t.ID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", chat.ErrInvalidRecipient
		}
		return room.Direct(uid, t.ID)
	case TargetGroup:
		if t.ID == 0 {
			return "", chat.ErrGroupNotFound
		}
		if err := s.deps.Store.CheckMember(ctx, t.ID, uid); err != nil {
			return "", err
		}
		return room.Group(t.ID)
	default:
		return "", fmt.Errorf("realtime: unknown target kind %d", t.Kind)
	}
}

// Join registers conn in the session's room.
func (s *Session) Join(conn Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting || s.userID == 0 {
		return ErrSessionState
	}
	if err := s.deps.Registry.Join(s.room, s.userID, conn); err != nil {
		s.state = StateClosed
		return err
	}
	s.conn = conn
	s.state = StateJoined
	metrics.ActiveConnections.Inc()
	log.Printf("[Session] joined user=%d room=%s conn=%s", s.userID, s.room, conn.ID())
	return nil
}

// Handle processes one inbound frame. Anything outside the Joined state is ignored.
func (s *Session) Handle(ctx context.Context, raw []byte) {
	s.mu.Lock()
	if s.state != StateJoined {
		s.mu.Unlock()
		return
	}
	uid, target, rid, conn := s.userID, s.target, s.room, s.conn
	s.mu.Unlock()

	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		metrics.RejectedEvents.WithLabelValues("malformed").Inc()
		return
	}

	if in.Typing {
		s.deps.Broadcaster.Broadcast(rid, Typing{SenderID: uid})
		return
	}

	content := strings.TrimSpace(in.Message)
	if content == "" {
		metrics.RejectedEvents.WithLabelValues("empty").Inc()
		return
	}

	// a message received before disconnect still gets stored and delivered
	pctx := context.WithoutCancel(ctx)

	if s.deps.Limiter != nil {
		ok, err := s.deps.Limiter.Allow(pctx, uid)
		if err != nil {
			log.Printf("[Session] rate limiter error user=%d err=%v", uid, err)
		} else if !ok {
			metrics.RejectedEvents.WithLabelValues("rate_limited").Inc()
			sendOne(conn, Failure{Code: "rate_limited", Message: "too many messages, slow down"})
			return
		}
	}

	if err := s.persist(pctx, uid, target, content); err != nil {
		code := failureCode(err)
		metrics.RejectedEvents.WithLabelValues(code).Inc()
		log.Printf("[Session] persist failed user=%d room=%s code=%s err=%v", uid, rid, code, err)
		sendOne(conn, Failure{Code: code, Message: failureMessage(code, err)})
		return
	}

	s.deps.Broadcaster.Broadcast(rid, ChatMessage{Message: content, SenderID: uid})
}

func (s *Session) persist(ctx context.Context, uid uint64, t Target, content string) error {
	switch t.Kind {
	case TargetDirect:
		if _, err := s.deps.Store.AppendDirect(ctx, uid, t.ID, content); err != nil {
			return err
		}
		metrics.MessagesPersisted.WithLabelValues("direct").Inc()
	case TargetGroup:
		if _, err := s.deps.Store.AppendGroup(ctx, t.ID, uid, content); err != nil {
			return err
		}
		metrics.MessagesPersisted.WithLabelValues("group").Inc()
	default:
		return fmt.Errorf("realtime: unknown target kind %d", t.Kind)
	}
	return nil
}

// sendOne delivers ev to a single connection, outside any room fan-out.
func sendOne(c Conn, ev Event) {
	f, err := NewFrame(ev)
	if err != nil {
		log.Printf("[Session] encode failed conn=%s err=%v", c.ID(), err)
		return
	}
	_ = c.Send(f)
}

func failureCode(err error) string {
	switch {
	case errors.Is(err, chat.ErrInvalidRecipient):
		return "invalid_recipient"
	case errors.Is(err, chat.ErrSelfMessage):
		return "self_message"
	case errors.Is(err, chat.ErrNotAMember):
		return "not_a_member"
	case errors.Is(err, chat.ErrGroupNotFound):
		return "group_not_found"
	default:
		return "store_error"
	}
}

func failureMessage(code string, err error) string {
	if code == "store_error" {
		return "message could not be saved"
	}
	return err.Error()
}

// Close deregisters the connection. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	prev := s.state
	s.state = StateClosed
	rid, conn, uid := s.room, s.conn, s.userID
	s.mu.Unlock()

	if prev != StateJoined {
		return
	}
	s.deps.Registry.Leave(rid, conn)
	metrics.ActiveConnections.Dec()
	log.Printf("[Session] closed user=%d room=%s conn=%s", uid, rid, conn.ID())
}
