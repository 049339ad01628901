package event

// REACTION ADDED EVENT
type ReactionAddedEvent struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"user_id"`
}

func (ReactionAddedEvent) Op() string {
	return "reaction_added"
}
