package dto

import (
	"time"

	"lettz/internal/app/conversation"
	domainconversation "lettz/internal/domain/conversation"
)

type Participant struct {
	UID         string `json:"uid"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

type Message struct {
	Sender         string    `json:"sender"`
	Text           string    `json:"text"`
	LocalTimestamp int64     `json:"local_timestamp,omitempty"`
	Timestamp      time.Time `json:"timestamp,omitempty"`
	// Pending marks a send not yet acknowledged by the store.
	Pending bool `json:"pending,omitempty"`
}

// Conversation describes a thread and the caller's unread state.
type Conversation struct {
	ID            string        `json:"id"`
	ListingID     string        `json:"listing_id,omitempty"`
	Participants  []Participant `json:"participants"`
	LastMessage   string        `json:"last_message,omitempty"`
	LastMessageAt time.Time     `json:"last_message_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at,omitempty"`
	HasNewMessage bool          `json:"has_new_message"`
	Messages      []Message     `json:"messages,omitempty"`
}

type ConversationSummary struct {
	Conversation
	Counterpart Participant `json:"counterpart"`
}

type ConversationList struct {
	Items []ConversationSummary `json:"items"`
}

// ContactResult answers a contact request.
type ContactResult struct {
	Conversation Conversation `json:"conversation"`
	Message      Message      `json:"message"`
	Created      bool         `json:"created"`
}

// SessionView is what a websocket client renders.
type SessionView struct {
	ConversationID string        `json:"conversation_id"`
	State          string        `json:"state"`
	Conversation   *Conversation `json:"conversation,omitempty"`
	Listing        *Listing      `json:"listing,omitempty"`
	Messages       []Message     `json:"messages"`
	Draft          string        `json:"draft,omitempty"`
	HasNewMessage  bool          `json:"has_new_message"`
	Error          string        `json:"error,omitempty"`
}

func MapParticipant(p domainconversation.Participant) Participant {
	return Participant{UID: p.UID, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL}
}

func MapMessage(m domainconversation.Message) Message {
	return Message{
		Sender:         m.Sender,
		Text:           m.Text,
		LocalTimestamp: m.LocalTimestamp,
		Timestamp:      m.Timestamp,
		Pending:        m.Timestamp.IsZero(),
	}
}

func MapMessages(items []domainconversation.Message) []Message {
	out := make([]Message, 0, len(items))
	for _, m := range items {
		out = append(out, MapMessage(m))
	}
	return out
}

// MapConversation converts c for uid. Messages are included only when
// withMessages is set.
func MapConversation(c *domainconversation.Conversation, uid string, withMessages bool) Conversation {
	out := Conversation{
		ID:            c.ID,
		ListingID:     c.ListingID,
		Participants:  make([]Participant, 0, len(c.Participants)),
		LastMessage:   c.LastMessage.Text,
		LastMessageAt: c.LastMessage.Timestamp,
		CreatedAt:     c.CreatedAt,
		HasNewMessage: c.HasNewMessage(uid),
	}
	for _, p := range c.Participants {
		out.Participants = append(out.Participants, MapParticipant(p))
	}
	if withMessages {
		out.Messages = MapMessages(c.Messages)
	}
	return out
}

func MapSummaries(items []conversation.Summary, uid string) ConversationList {
	out := ConversationList{Items: make([]ConversationSummary, 0, len(items))}
	for i := range items {
		conv := MapConversation(&items[i].Conversation, uid, false)
		conv.HasNewMessage = items[i].HasNewMessage
		out.Items = append(out.Items, ConversationSummary{
			Conversation: conv,
			Counterpart:  MapParticipant(items[i].Counterpart),
		})
	}
	return out
}

func MapContact(res *conversation.ContactResult, uid string) ContactResult {
	return ContactResult{
		Conversation: MapConversation(res.Conversation, uid, false),
		Message:      MapMessage(res.Message),
		Created:      res.Created,
	}
}

func MapSessionView(v conversation.View, uid string) SessionView {
	out := SessionView{
		ConversationID: v.ConversationID,
		State:          v.State.String(),
		Messages:       MapMessages(v.Messages),
		Draft:          v.Draft,
		HasNewMessage:  v.HasNewMessage,
	}
	if v.Conversation != nil {
		conv := MapConversation(v.Conversation, uid, false)
		conv.HasNewMessage = v.HasNewMessage
		out.Conversation = &conv
	}
	if v.Listing != nil {
		l := MapListing(v.Listing)
		out.Listing = &l
	}
	if v.Err != nil {
		out.Error = v.Err.Error()
	}
	return out
}
