package entity

import (
	"strings"
	"time"
)

type Message struct {
	ID       string `json:"id"`
	SenderID string `json:"sender_id"`

	// Exactly one of RecipientID and RoomID is set: a conversation is
	// addressed either to a direct peer or to a multi-party room.
	RecipientID string `json:"recipient_id,omitempty"`
	RoomID      string `json:"room_id,omitempty"`

	Body          string        `json:"body"`
	CreatedAt     time.Time     `json:"created_at"`
	DeliveryState DeliveryState `json:"delivery_state"`
	Reactions     ReactionSet   `json:"reactions,omitempty"`
}

// Less defines the total timeline order: created-at compared at
// millisecond resolution, ties broken by id so re-merging the same set
// always yields the same order.
func (m Message) Less(other Message) bool {
	a, b := m.CreatedAt.UnixMilli(), other.CreatedAt.UnixMilli()
	if a != b {
		return a < b
	}

	return m.ID < other.ID
}

// ConversationKey identifies one logical channel: either a room, or an
// unordered pair of direct participants.
type ConversationKey struct {
	RoomID string
	PeerA  string
	PeerB  string
}

func RoomKey(roomID string) ConversationKey {
	return ConversationKey{RoomID: roomID}
}

func DirectKey(a, b string) ConversationKey {
	// Normalize so DirectKey(a, b) == DirectKey(b, a).
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}

	return ConversationKey{PeerA: a, PeerB: b}
}

func (k ConversationKey) IsRoom() bool {
	return k.RoomID != ""
}

// Channel returns the identifier used for room join/leave signaling. For a
// direct conversation it is the normalized pair joined with a colon.
func (k ConversationKey) Channel() string {
	if k.IsRoom() {
		return k.RoomID
	}

	return k.PeerA + ":" + k.PeerB
}

// Matches reports whether msg belongs to this conversation.
func (k ConversationKey) Matches(msg Message) bool {
	if k.IsRoom() {
		return msg.RoomID == k.RoomID
	}

	if msg.RoomID != "" {
		return false
	}

	pair := DirectKey(msg.SenderID, msg.RecipientID)
	return pair == ConversationKey{PeerA: k.PeerA, PeerB: k.PeerB}
}
