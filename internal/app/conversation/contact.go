package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"lettz/internal/app/docstore"
	domainconversation "lettz/internal/domain/conversation"
	domainlistings "lettz/internal/domain/listings"
	domainuser "lettz/internal/domain/user"
)

var (
	ErrSelfContact   = errors.New("conversation: cannot contact your own listing")
	ErrContactFailed = errors.New("conversation: contact failed")
)

// ContactStore is what the contact flow needs from the document store.
type ContactStore interface {
	docstore.Reader
	docstore.BatchWriter
	docstore.MessageWriter
}

type ContactParams struct {
	ListingID      string
	SenderUID      string
	Text           string
	LocalTimestamp int64
	// ConversationID is generated when empty.
	ConversationID string
}

type ContactResult struct {
	Conversation *domainconversation.Conversation
	Message      domainconversation.Message
	Created      bool
}

// ContactListing opens a conversation between the sender and the listing owner.
// The conversation and both back-references are written in one batch that
// also requires the listing to still exist. When
// the two already talk about this listing the message goes to that
// conversation instead.
func ContactListing(ctx context.Context, store ContactStore, params ContactParams) (*ContactResult, error) {
	sender := strings.TrimSpace(params.SenderUID)
	if sender == "" {
		return nil, ErrNotAuthenticated
	}
	if strings.TrimSpace(params.Text) == "" {
		return nil, domainconversation.ErrEmptyMessage
	}
	listing, err := store.GetListing(ctx, params.ListingID)
	if err != nil {
		if docstore.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", domainlistings.ErrNotFound, params.ListingID)
		}
		return nil, fmt.Errorf("%w: %w", ErrContactFailed, err)
	}
	if listing.OwnedBy(sender) {
		return nil, ErrSelfContact
	}
	first, err := domainconversation.NewMessage(sender, params.Text, params.LocalTimestamp)
	if err != nil {
		return nil, err
	}

	if existing, err := findExisting(ctx, store, listing.ID, sender, listing.Owner); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContactFailed, err)
	} else if existing != nil {
		stored, err := store.AppendMessage(ctx, existing.ID, first)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
		existing.Messages = append(existing.Messages, stored)
		existing.LastMessage = domainconversation.LastMessage{Text: stored.Text, Timestamp: stored.Timestamp}
		return &ContactResult{Conversation: existing, Message: stored}, nil
	}

	senderProfile, err := profile(ctx, store, sender)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContactFailed, err)
	}
	ownerProfile, err := profile(ctx, store, listing.Owner)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContactFailed, err)
	}
	id := strings.TrimSpace(params.ConversationID)
	if id == "" {
		id = uuid.NewString()
	}
	conv, err := domainconversation.New(domainconversation.CreateParams{
		ID:        id,
		ListingID: listing.ID,
		Participants: []domainconversation.Participant{
			domainconversation.ParticipantFromUser(senderProfile, "Guest"),
			domainconversation.ParticipantFromUser(ownerProfile, "Owner"),
		},
		First: first,
	})
	if err != nil {
		return nil, err
	}

	var batch docstore.Batch
	batch.Add(
		docstore.RequireListing{ListingID: listing.ID},
		docstore.CreateConversation{Conversation: *conv},
		docstore.AddConversationRef{UID: sender, ConversationID: id},
		docstore.AddConversationRef{UID: listing.Owner, ConversationID: id},
	)
	if err := store.Commit(ctx, batch); err != nil {
		if docstore.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", domainlistings.ErrNotFound, listing.ID)
		}
		return nil, fmt.Errorf("%w: %w", ErrContactFailed, err)
	}
	if stored, err := store.GetConversation(ctx, id); err == nil {
		conv = stored
	}
	msg, _ := conv.Newest()
	return &ContactResult{Conversation: conv, Message: msg, Created: true}, nil
}

func findExisting(ctx context.Context, store ContactStore, listingID, a, b string) (*domainconversation.Conversation, error) {
	convs, err := store.ConversationsByListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	for i := range convs {
		if convs[i].IsParticipant(a) && convs[i].IsParticipant(b) {
			return convs[i].Clone(), nil
		}
	}
	return nil, nil
}

func profile(ctx context.Context, store ContactStore, uid string) (*domainuser.User, error) {
	u, err := store.GetUser(ctx, uid)
	if err != nil {
		if docstore.IsNotFound(err) {
			return &domainuser.User{UID: uid}, nil
		}
		return nil, err
	}
	return u, nil
}
