package event

// TYPING STARTED EVENT
type TypingStartedEvent struct {
	ParticipantID string `json:"participant_id"`
}

func (TypingStartedEvent) Op() string {
	return "typing_started"
}

// TYPING STOPPED EVENT
type TypingStoppedEvent struct {
	ParticipantID string `json:"participant_id"`
}

func (TypingStoppedEvent) Op() string {
	return "typing_stopped"
}
