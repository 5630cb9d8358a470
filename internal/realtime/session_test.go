package realtime

import (
	"context"
	"errors"
	"testing"

	"github.com/suPer8Hu/community-chat/internal/chat"
	"github.com/suPer8Hu/community-chat/internal/room"
)

var testIdentity = fakeIdentity{"user-1": 1, "user-2": 2, "user-3": 3}

func newTestSession(reg *Registry, store *fakeStore) *Session {
	return NewSession(Deps{Identity: testIdentity, Store: store, Registry: reg})
}

// joined authenticates and joins, failing the test on error.
func joined(t *testing.T, reg *Registry, store *fakeStore, token string, target Target, conn Conn) *Session {
	t.Helper()
	s := newTestSession(reg, store)
	if err := s.Authenticate(context.Background(), token, target); err != nil {
		t.Fatalf("authenticate %s: %v", token, err)
	}
	if err := s.Join(conn); err != nil {
		t.Fatalf("join: %v", err)
	}
	return s
}

func TestSession_DirectChat(t *testing.T) {
	reg, store := NewRegistry(), newFakeStore()
	c1, c2 := newFakeConn("c1"), newFakeConn("c2")
	s1 := joined(t, reg, store, "user-1", DirectTarget(2), c1)
	s2 := joined(t, reg, store, "user-2", DirectTarget(1), c2)

	if s1.Room() != s2.Room() {
		t.Fatalf("rooms differ: %s %s", s1.Room(), s2.Room())
	}
	want, _ := room.Direct(1, 2)
	if s1.Room() != want || s1.State() != StateJoined {
		t.Fatalf("room=%s state=%s", s1.Room(), s1.State())
	}

	s1.Handle(context.Background(), []byte(`{"message":"  hello  "}`))

	for _, c := range []*fakeConn{c1, c2} {
		evs := c.got()
		if len(evs) != 1 {
			t.Fatalf("%s got %d events", c.id, len(evs))
		}
		if m, ok := evs[0].(ChatMessage); !ok || m.Message != "hello" || m.SenderID != 1 {
			t.Fatalf("%s got %#v", c.id, evs[0])
		}
	}
	if len(store.direct) != 1 || store.direct[0].RecipientID != 2 {
		t.Fatalf("stored=%+v", store.direct)
	}
}

func TestSession_TypingAndIgnoredInput(t *testing.T) {
	reg, store := NewRegistry(), newFakeStore()
	c1, c2 := newFakeConn("c1"), newFakeConn("c2")
	s1 := joined(t, reg, store, "user-1", DirectTarget(2), c1)
	_ = joined(t, reg, store, "user-2", DirectTarget(1), c2)
	ctx := context.Background()

	s1.Handle(ctx, []byte(`{"typing":true}`))
	if evs := c2.got(); len(evs) != 1 || evs[0] != (Typing{SenderID: 1}) {
		t.Fatalf("typing: %#v", evs)
	}

	s1.Handle(ctx, []byte(`not json`))
	s1.Handle(ctx, []byte(`{"message":" \n\t "}`))
	s1.Handle(ctx, []byte(`{}`))
	if len(c2.got()) != 1 || len(store.direct) != 0 {
		t.Fatalf("ignored input produced effects: events=%v stored=%v", c2.got(), store.direct)
	}
	if s1.State() != StateJoined {
		t.Fatalf("state=%s", s1.State())
	}
}

func TestSession_AuthenticateFailures(t *testing.T) {
	cases := []struct {
		name   string
		token  string
		target Target
		want   error
	}{
		{"bad token", "forged", DirectTarget(2), ErrUnauthenticated},
		{"self", "user-1", DirectTarget(1), chat.ErrSelfMessage},
		{"unknown recipient", "user-1", DirectTarget(99), chat.ErrInvalidRecipient},
		{"unknown group", "user-1", GroupTarget(77), chat.ErrGroupNotFound},
		{"zero group", "user-1", GroupTarget(0), chat.ErrGroupNotFound},
		{"not a member", "user-3", GroupTarget(10), chat.ErrNotAMember},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg := NewRegistry()
			s := newTestSession(reg, newFakeStore())
			err := s.Authenticate(context.Background(), tc.token, tc.target)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v, want %v", err, tc.want)
			}
			if s.State() != StateClosed {
				t.Fatalf("state=%s", s.State())
			}
			if err := s.Join(newFakeConn("x")); !errors.Is(err, ErrSessionState) {
				t.Fatalf("join after refusal: err=%v", err)
			}
			if reg.Rooms() != 0 {
				t.Fatalf("refused session registered")
			}
		})
	}
}

func TestSession_HandleBeforeJoinAndAfterClose(t *testing.T) {
	reg, store := NewRegistry(), newFakeStore()
	s := newTestSession(reg, store)
	s.Handle(context.Background(), []byte(`{"message":"early"}`))

	if err := s.Join(newFakeConn("x")); !errors.Is(err, ErrSessionState) {
		t.Fatalf("join before auth: err=%v", err)
	}

	c := newFakeConn("c")
	s = joined(t, reg, store, "user-1", DirectTarget(2), c)
	s.Close()
	s.Close()
	s.Handle(context.Background(), []byte(`{"message":"late"}`))

	if len(store.direct) != 0 {
		t.Fatalf("stored outside Joined: %+v", store.direct)
	}
	if reg.Rooms() != 0 {
		t.Fatalf("room left behind after close")
	}
	if s.State() != StateClosed {
		t.Fatalf("state=%s", s.State())
	}
}

func TestSession_GroupFanOutAndLapsedMembership(t *testing.T) {
	reg, store := NewRegistry(), newFakeStore()
	c1, c2 := newFakeConn("c1"), newFakeConn("c2")
	s1 := joined(t, reg, store, "user-1", GroupTarget(10), c1)
	_ = joined(t, reg, store, "user-2", GroupTarget(10), c2)
	ctx := context.Background()

	s1.Handle(ctx, []byte(`{"message":"hi all"}`))
	if len(c2.got()) != 1 || len(store.group) != 1 {
		t.Fatalf("group message not delivered")
	}

	// membership is checked again on every append
	store.removeMember(10, 1)
	s1.Handle(ctx, []byte(`{"message":"am I still here?"}`))

	if len(c2.got()) != 1 {
		t.Fatalf("message from a former member was broadcast")
	}
	evs := c1.got()
	last, ok := evs[len(evs)-1].(Failure)
	if !ok || last.Code != "not_a_member" {
		t.Fatalf("sender got %#v", evs[len(evs)-1])
	}
	if s1.State() != StateJoined {
		t.Fatalf("session should stay joined")
	}
}

func TestSession_StoreFailureGoesToSenderOnly(t *testing.T) {
	reg, store := NewRegistry(), newFakeStore()
	c1, c2 := newFakeConn("c1"), newFakeConn("c2")
	s1 := joined(t, reg, store, "user-1", DirectTarget(2), c1)
	_ = joined(t, reg, store, "user-2", DirectTarget(1), c2)

	store.failAll = errors.New("disk on fire")
	s1.Handle(context.Background(), []byte(`{"message":"hello"}`))

	if len(c2.got()) != 0 {
		t.Fatalf("recipient saw a failed message")
	}
	evs := c1.got()
	if len(evs) != 1 {
		t.Fatalf("sender events=%v", evs)
	}
	f, ok := evs[0].(Failure)
	if !ok || f.Code != "store_error" || f.Message == "disk on fire" {
		t.Fatalf("failure=%#v", evs[0])
	}
}

func TestSession_RateLimited(t *testing.T) {
	reg, store := NewRegistry(), newFakeStore()
	c1, c2 := newFakeConn("c1"), newFakeConn("c2")
	s1 := NewSession(Deps{Identity: testIdentity, Store: store, Registry: reg, Limiter: denyLimiter{}})
	if err := s1.Authenticate(context.Background(), "user-1", DirectTarget(2)); err != nil {
		t.Fatalf("auth: %v", err)
	}
	_ = s1.Join(c1)
	_ = joined(t, reg, store, "user-2", DirectTarget(1), c2)

	s1.Handle(context.Background(), []byte(`{"message":"spam"}`))
	if len(store.direct) != 0 || len(c2.got()) != 0 {
		t.Fatalf("limited message went through")
	}
	if f, ok := c1.got()[0].(Failure); !ok || f.Code != "rate_limited" {
		t.Fatalf("sender got %#v", c1.got())
	}

	// typing is not limited
	s1.Handle(context.Background(), []byte(`{"typing":true}`))
	if len(c2.got()) != 1 {
		t.Fatalf("typing was limited")
	}
}

func TestSession_PersistsAfterCancel(t *testing.T) {
	reg, store := NewRegistry(), newFakeStore()
	c1 := newFakeConn("c1")
	s1 := joined(t, reg, store, "user-1", DirectTarget(2), c1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s1.Handle(ctx, []byte(`{"message":"sent while hanging up"}`))
	if len(store.direct) != 1 || len(c1.got()) != 1 {
		t.Fatalf("message lost on cancel: stored=%d events=%d", len(store.direct), len(c1.got()))
	}
}

func TestAnnouncer(t *testing.T) {
	reg := NewRegistry()
	c := newFakeConn("c")
	rid, _ := room.Direct(3, 1)
	_ = reg.Join(rid, 3, c)
	gid, _ := room.Group(10)
	_ = reg.Join(gid, 3, c)

	a := Announcer{B: reg}
	a.AnnounceDirect(&chat.DirectMessage{ID: 1, SenderID: 1, RecipientID: 3, Content: "rest"})
	a.AnnounceGroup(&chat.GroupMessage{ID: 2, GroupID: 10, SenderID: 2, Content: "grp"})
	a.AnnounceDirect(&chat.DirectMessage{ID: 3, SenderID: 1, RecipientID: 1, Content: "bad"})

	evs := c.got()
	if len(evs) != 2 {
		t.Fatalf("events=%v", evs)
	}
	if evs[0] != (ChatMessage{Message: "rest", SenderID: 1}) || evs[1] != (ChatMessage{Message: "grp", SenderID: 2}) {
		t.Fatalf("events=%#v", evs)
	}
	a.AnnounceLeave(10, 3)
	if reg.Size(gid) != 0 || reg.Size(rid) != 1 || !c.isClosed() {
		t.Fatalf("leave not enforced: group=%d direct=%d closed=%v", reg.Size(gid), reg.Size(rid), c.isClosed())
	}
}
