package conversations

import (
	"context"
	"log/slog"
	"time"

	"lettz/internal/app/commands"
	"lettz/internal/app/conversation"
	"lettz/internal/app/dto"
	"lettz/internal/app/outbox"
	domainconversation "lettz/internal/domain/conversation"
	"lettz/internal/domain/shared/events"
)

const contactListingKey = "conversations.contact"

type ContactListingCommand struct {
	ListingID      string
	SenderID       string
	Text           string
	LocalTimestamp int64
	RequestKey     string
}

func (c ContactListingCommand) Key() string            { return contactListingKey }
func (c ContactListingCommand) ActorUID() string       { return c.SenderID }
func (c ContactListingCommand) IdempotencyKey() string { return c.RequestKey }
func (c ContactListingCommand) ResultPrototype() any   { return &dto.ContactResult{} }

type ContactListingHandler struct {
	Store   conversation.ContactStore
	Outbox  outbox.Outbox
	Encoder outbox.EventEncoder
	Logger  *slog.Logger
}

func (h *ContactListingHandler) Handle(ctx context.Context, cmd ContactListingCommand) (*dto.ContactResult, error) {
	res, err := conversation.ContactListing(ctx, h.Store, conversation.ContactParams{
		ListingID:      cmd.ListingID,
		SenderUID:      cmd.SenderID,
		Text:           cmd.Text,
		LocalTimestamp: cmd.LocalTimestamp,
	})
	if err != nil {
		return nil, err
	}
	h.record(ctx, res)
	out := dto.MapContact(res, cmd.SenderID)
	return &out, nil
}

// record hands the conversation events to the outbox. The conversation is
// already written, so failures are only logged.
func (h *ContactListingHandler) record(ctx context.Context, res *conversation.ContactResult) {
	if h.Outbox == nil {
		return
	}
	at := res.Message.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	var evs []events.DomainEvent
	if res.Created {
		evs = append(evs, domainconversation.ConversationStarted{
			ConversationID: res.Conversation.ID,
			ListingID:      res.Conversation.ListingID,
			StartedBy:      res.Message.Sender,
			Participants:   res.Conversation.ParticipantIDs(),
			At:             at,
		})
	}
	evs = append(evs, domainconversation.MessageSent{
		ConversationID: res.Conversation.ID,
		Sender:         res.Message.Sender,
		At:             at,
	})
	if err := outbox.RecordDomainEvents(ctx, h.Outbox, h.Encoder, evs...); err != nil && h.Logger != nil {
		h.Logger.Warn("conversation events not recorded", "conversation_id", res.Conversation.ID, "error", err)
	}
}

var _ commands.Handler[ContactListingCommand, *dto.ContactResult] = (*ContactListingHandler)(nil)
