package conversation

import "time"

type ConversationStarted struct {
	ConversationID string    `json:"conversation_id"`
	ListingID      string    `json:"listing_id,omitempty"`
	StartedBy      string    `json:"started_by"`
	Participants   []string  `json:"participants"`
	At             time.Time `json:"at"`
}

func (e ConversationStarted) EventName() string     { return "conversation.started" }
func (e ConversationStarted) AggregateID() string   { return e.ConversationID }
func (e ConversationStarted) OccurredAt() time.Time { return e.At }
func (e ConversationStarted) ActorUID() string      { return e.StartedBy }

type MessageSent struct {
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	At             time.Time `json:"at"`
}

func (e MessageSent) EventName() string     { return "conversation.message_sent" }
func (e MessageSent) AggregateID() string   { return e.ConversationID }
func (e MessageSent) OccurredAt() time.Time { return e.At }
func (e MessageSent) ActorUID() string      { return e.Sender }
