package conversations

import (
	"context"

	"lettz/internal/app/conversation"
	"lettz/internal/app/docstore"
	"lettz/internal/app/dto"
	"lettz/internal/app/queries"
)

const listConversationsKey = "conversations.list"

type ListConversationsQuery struct {
	UID string
}

func (q ListConversationsQuery) Key() string      { return listConversationsKey }
func (q ListConversationsQuery) ActorUID() string { return q.UID }

type ListConversationsHandler struct {
	Reader docstore.Reader
}

func (h *ListConversationsHandler) Handle(ctx context.Context, q ListConversationsQuery) (dto.ConversationList, error) {
	items, err := conversation.ListConversations(ctx, h.Reader, q.UID)
	if err != nil {
		return dto.ConversationList{}, err
	}
	return dto.MapSummaries(items, q.UID), nil
}

var _ queries.Handler[ListConversationsQuery, dto.ConversationList] = (*ListConversationsHandler)(nil)
