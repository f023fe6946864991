package conversation

import (
	"errors"
	"sort"
	"strings"
	"time"

	"lettz/internal/domain/user"
)

var (
	ErrIDRequired           = errors.New("conversation: id is required")
	ErrNotFound             = errors.New("conversation: not found")
	ErrEmptyMessage         = errors.New("conversation: message text is empty")
	ErrSenderRequired       = errors.New("conversation: sender is required")
	ErrParticipantsRequired = errors.New("conversation: two distinct participants are required")
	ErrNotParticipant       = errors.New("conversation: user is not a participant")
)

// Participant is a profile snapshot taken when the conversation was created.
// Later profile edits never rewrite it.
type Participant struct {
	UID         string
	DisplayName string
	AvatarURL   string
}

// ParticipantFromUser snapshots the current profile of u.
func ParticipantFromUser(u *user.User, fallbackName string) Participant {
	return Participant{
		UID:         u.UID,
		DisplayName: u.NameOr(fallbackName),
		AvatarURL:   strings.TrimSpace(u.AvatarURL),
	}
}

// Message is one entry of the append-only message log. LocalTimestamp comes from
// the sending client and only orders that client's own sends; Timestamp is set
// by the store and is zero until the write lands.
type Message struct {
	Sender         string
	Text           string
	LocalTimestamp int64
	Timestamp      time.Time
}

// NewMessage validates and trims text.
func NewMessage(sender, text string, localTimestamp int64) (Message, error) {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return Message{}, ErrSenderRequired
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Message{}, ErrEmptyMessage
	}
	return Message{Sender: sender, Text: trimmed, LocalTimestamp: localTimestamp}, nil
}

// SameSend reports whether m and other are the same client send.
func (m Message) SameSend(other Message) bool {
	return m.Sender == other.Sender && m.LocalTimestamp == other.LocalTimestamp && m.Text == other.Text
}

// LastMessage is the denormalized copy of the newest message.
type LastMessage struct {
	Text      string
	Timestamp time.Time
}

type Conversation struct {
	ID           string
	ListingID    string
	Participants []Participant
	Messages     []Message
	LastMessage  LastMessage
	LastRead     map[string]time.Time
	CreatedAt    time.Time
}

type CreateParams struct {
	ID           string
	ListingID    string
	Participants []Participant
	First        Message
}

// New builds a conversation carrying its first message. Server timestamps are
// assigned by the store on commit.
func New(params CreateParams) (*Conversation, error) {
	id := strings.TrimSpace(params.ID)
	if id == "" {
		return nil, ErrIDRequired
	}
	participants := make([]Participant, 0, len(params.Participants))
	seen := make(map[string]struct{}, len(params.Participants))
	for _, p := range params.Participants {
		p.UID = strings.TrimSpace(p.UID)
		if p.UID == "" {
			continue
		}
		if _, ok := seen[p.UID]; ok {
			continue
		}
		seen[p.UID] = struct{}{}
		participants = append(participants, p)
	}
	if len(participants) < 2 {
		return nil, ErrParticipantsRequired
	}
	first, err := NewMessage(params.First.Sender, params.First.Text, params.First.LocalTimestamp)
	if err != nil {
		return nil, err
	}
	if _, ok := seen[first.Sender]; !ok {
		return nil, ErrNotParticipant
	}
	return &Conversation{
		ID:           id,
		ListingID:    strings.TrimSpace(params.ListingID),
		Participants: participants,
		Messages:     []Message{first},
		LastMessage:  LastMessage{Text: first.Text},
		LastRead:     map[string]time.Time{},
	}, nil
}

func (c *Conversation) IsParticipant(uid string) bool {
	for _, p := range c.Participants {
		if p.UID == uid {
			return true
		}
	}
	return false
}

func (c *Conversation) ParticipantIDs() []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		out = append(out, p.UID)
	}
	return out
}

// Counterpart returns the first participant that is not uid.
func (c *Conversation) Counterpart(uid string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UID != uid {
			return p, true
		}
	}
	return Participant{}, false
}

// Watermark returns the last-read timestamp stored for uid.
func (c *Conversation) Watermark(uid string) (time.Time, bool) {
	if c.LastRead == nil {
		return time.Time{}, false
	}
	ts, ok := c.LastRead[uid]
	if !ok || ts.IsZero() {
		return time.Time{}, false
	}
	return ts, true
}

// HasNewMessage is true when uid has no watermark or the watermark is strictly
// older than the server timestamp of the last message. Client timestamps never
// take part in this decision.
func (c *Conversation) HasNewMessage(uid string) bool {
	last := c.LastMessage.Timestamp
	if last.IsZero() {
		return false
	}
	read, ok := c.Watermark(uid)
	if !ok {
		return true
	}
	return read.Before(last)
}

// LastActivity is the newest server timestamp known for the conversation.
func (c *Conversation) LastActivity() time.Time {
	if !c.LastMessage.Timestamp.IsZero() {
		return c.LastMessage.Timestamp
	}
	return c.CreatedAt
}

// Newest returns the last entry of the message log.
func (c *Conversation) Newest() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Participants = append([]Participant(nil), c.Participants...)
	out.Messages = append([]Message(nil), c.Messages...)
	if c.LastRead != nil {
		out.LastRead = make(map[string]time.Time, len(c.LastRead))
		for k, v := range c.LastRead {
			out.LastRead[k] = v
		}
	}
	return &out
}

// SortByActivity orders conversations newest first, breaking ties by id.
func SortByActivity(items []Conversation) {
	sort.SliceStable(items, func(i, j int) bool {
		ai, aj := items[i].LastActivity(), items[j].LastActivity()
		if ai.Equal(aj) {
			return items[i].ID < items[j].ID
		}
		return ai.After(aj)
	})
}
