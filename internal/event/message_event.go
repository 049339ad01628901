package event

import "github.com/jobport-labs/chatsync/internal/entity"

// MESSAGE CREATED EVENT
type MessageCreatedEvent entity.Message

func (MessageCreatedEvent) Op() string {
	return "message_created"
}

func (e MessageCreatedEvent) Message() entity.Message {
	return entity.Message(e)
}

// READY EVENT
type ReadyEvent struct {
	Channels []string `json:"channels"`
}

func (ReadyEvent) Op() string {
	return "ready"
}
