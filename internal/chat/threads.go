package chat

import (
	"context"
	"sort"
	"time"

	"github.com/suPer8Hu/community-chat/internal/models"
	"github.com/suPer8Hu/community-chat/internal/room"
)

type ThreadKind string

const (
	ThreadDirect ThreadKind = "direct"
	ThreadGroup  ThreadKind = "group"
)

// Thread is one inbox row. It is recomputed on every request.
type Thread struct {
	Kind            ThreadKind   `json:"type"`
	RoomID          room.ID      `json:"room_id"`
	User            *models.User `json:"user,omitempty"`
	Group           *GroupChat   `json:"group,omitempty"`
	LastMessage     string       `json:"last_message"`
	LastMessageTime time.Time    `json:"last_message_time"`
	UnreadCount     int64        `json:"unread_count"`
	MessageCount    int64        `json:"message_count"`
}

// Threads merges the user's direct conversations and group conversations into
// one list, newest activity first. Groups without messages are omitted.
func (s *Service) Threads(ctx context.Context, userID uint64) ([]Thread, error) {
	dstats, err := s.repo.directStats(ctx, userID)
	if err != nil {
		return nil, err
	}

	groups, err := s.repo.ListGroupsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	groupIDs := make([]uint64, 0, len(groups))
	groupByID := make(map[uint64]GroupChat, len(groups))
	for _, g := range groups {
		groupIDs = append(groupIDs, g.ID)
		groupByID[g.ID] = g
	}
	gstats, err := s.repo.groupStats(ctx, userID, groupIDs)
	if err != nil {
		return nil, err
	}

	lastDirect := make([]uint64, 0, len(dstats))
	counterparts := make([]uint64, 0, len(dstats))
	for _, st := range dstats {
		lastDirect = append(lastDirect, st.LastID)
		counterparts = append(counterparts, st.CounterpartID)
	}
	lastGroup := make([]uint64, 0, len(gstats))
	for _, st := range gstats {
		lastGroup = append(lastGroup, st.LastID)
	}

	dmsgs, err := s.repo.directMessagesByID(ctx, lastDirect)
	if err != nil {
		return nil, err
	}
	gmsgs, err := s.repo.groupMessagesByID(ctx, lastGroup)
	if err != nil {
		return nil, err
	}
	users, err := s.repo.GetUsers(ctx, counterparts)
	if err != nil {
		return nil, err
	}

	threads := make([]Thread, 0, len(dstats)+len(gstats))
	for _, st := range dstats {
		rid, err := room.Direct(userID, st.CounterpartID)
		if err != nil {
			// corrupt self-addressed row; never produced by AppendDirect
			continue
		}
		last := dmsgs[st.LastID]
		t := Thread{
			Kind:            ThreadDirect,
			RoomID:          rid,
			LastMessage:     last.Content,
			LastMessageTime: last.CreatedAt,
			UnreadCount:     st.Unread,
			MessageCount:    st.Total,
		}
		if u, ok := users[st.CounterpartID]; ok {
			t.User = &u
		} else {
			t.User = &models.User{ID: st.CounterpartID}
		}
		threads = append(threads, t)
	}
	for _, st := range gstats {
		rid, err := room.Group(st.GroupID)
		if err != nil {
			continue
		}
		g := groupByID[st.GroupID]
		last := gmsgs[st.LastID]
		threads = append(threads, Thread{
			Kind:            ThreadGroup,
			RoomID:          rid,
			Group:           &g,
			LastMessage:     last.Content,
			LastMessageTime: last.CreatedAt,
			UnreadCount:     st.Unread,
			MessageCount:    st.Total,
		})
	}

	SortThreads(threads)
	return threads, nil
}

// SortThreads orders by last message time descending, then room id ascending.
func SortThreads(threads []Thread) {
	sort.SliceStable(threads, func(i, j int) bool {
		ti, tj := threads[i].LastMessageTime, threads[j].LastMessageTime
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return threads[i].RoomID < threads[j].RoomID
	})
}
