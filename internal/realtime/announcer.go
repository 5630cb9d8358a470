package realtime

import (
	"log"

	"github.com/suPer8Hu/community-chat/internal/chat"
	"github.com/suPer8Hu/community-chat/internal/room"
)

// Announcer pushes messages stored over REST or by the worker into live rooms.
type Announcer struct {
	B Broadcaster
}

var _ chat.Announcer = Announcer{}

func (a Announcer) AnnounceDirect(m *chat.DirectMessage) {
	rid, err := room.Direct(m.SenderID, m.RecipientID)
	if err != nil {
		log.Printf("[Announcer] skip direct message id=%d err=%v", m.ID, err)
		return
	}
	a.B.Broadcast(rid, ChatMessage{Message: m.Content, SenderID: m.SenderID})
}

func (a Announcer) AnnounceGroup(m *chat.GroupMessage) {
	rid, err := room.Group(m.GroupID)
	if err != nil {
		log.Printf("[Announcer] skip group message id=%d err=%v", m.ID, err)
		return
	}
	a.B.Broadcast(rid, ChatMessage{Message: m.Content, SenderID: m.SenderID})
}

// AnnounceLeave drops the user's live connections from a group they left.
func (a Announcer) AnnounceLeave(groupID, userID uint64) {
	rid, err := room.Group(groupID)
	if err != nil {
		return
	}
	a.B.Evict(rid, userID)
}
