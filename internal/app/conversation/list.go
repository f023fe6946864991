package conversation

import (
	"context"
	"fmt"

	"lettz/internal/app/docstore"
	"lettz/internal/app/readstate"
	domainconversation "lettz/internal/domain/conversation"
)

// Summary is one row of the conversation list.
type Summary struct {
	Conversation  domainconversation.Conversation
	Counterpart   domainconversation.Participant
	HasNewMessage bool
}

// ListConversations returns the conversations named by the user's
// conversationIDs, newest activity first. Ids that no longer resolve are
// skipped. Listing the conversations never touches read state.
func ListConversations(ctx context.Context, reader docstore.Reader, uid string) ([]Summary, error) {
	if uid == "" {
		return nil, ErrNotAuthenticated
	}
	u, err := reader.GetUser(ctx, uid)
	if err != nil {
		if docstore.IsNotFound(err) {
			return []Summary{}, nil
		}
		return nil, fmt.Errorf("conversation: load user %s: %w", uid, err)
	}
	convs, err := reader.ConversationsByIDs(ctx, u.ConversationIDs)
	if err != nil {
		return nil, fmt.Errorf("conversation: load conversations: %w", err)
	}
	member := convs[:0]
	for _, c := range convs {
		if c.IsParticipant(uid) {
			member = append(member, c)
		}
	}
	domainconversation.SortByActivity(member)

	out := make([]Summary, 0, len(member))
	for i := range member {
		c := &member[i]
		counterpart, _ := c.Counterpart(uid)
		out = append(out, Summary{
			Conversation:  *c,
			Counterpart:   counterpart,
			HasNewMessage: readstate.HasNewMessage(c, uid),
		})
	}
	return out, nil
}
