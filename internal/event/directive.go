package event

// Directives are client-originated requests sent over the same envelope as
// server events.

// JOIN ROOM
type JoinRoomDirective struct {
	Channel string `json:"channel"`
}

func (JoinRoomDirective) Op() string {
	return "join_room"
}

// LEAVE ROOM
type LeaveRoomDirective struct {
	Channel string `json:"channel"`
}

func (LeaveRoomDirective) Op() string {
	return "leave_room"
}

// SEND MESSAGE
type SendMessageDirective struct {
	// ID is assigned by the client so the server echo can be reconciled
	// against the optimistic timeline entry.
	ID          string `json:"id"`
	RecipientID string `json:"recipient_id,omitempty"`
	RoomID      string `json:"room_id,omitempty"`
	Body        string `json:"body"`
}

func (SendMessageDirective) Op() string {
	return "send_message"
}
