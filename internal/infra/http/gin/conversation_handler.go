package ginserver

import (
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"lettz/internal/app/commands"
	"lettz/internal/app/dto"
	conversationhandlers "lettz/internal/app/handlers/conversations"
	"lettz/internal/app/queries"
)

type ConversationHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
}

type contactRequest struct {
	Text           string `json:"text"`
	LocalTimestamp int64  `json:"local_timestamp"`
}

// Contact opens (or reuses) the caller's conversation about a listing and
// posts the first message.
func (h ConversationHandler) Contact(c *gin.Context) {
	if h.Commands == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "commands bus unavailable"})
		return
	}
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	cmd := conversationhandlers.ContactListingCommand{
		ListingID:      strings.TrimSpace(c.Param("id")),
		SenderID:       currentUID(c),
		Text:           req.Text,
		LocalTimestamp: req.LocalTimestamp,
		RequestKey:     strings.TrimSpace(c.GetHeader("Idempotency-Key")),
	}
	result, err := commands.Dispatch[conversationhandlers.ContactListingCommand, *dto.ContactResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		respondError(c, h.Logger, "contact listing failed", err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

func (h ConversationHandler) ListMine(c *gin.Context) {
	if h.Queries == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queries bus unavailable"})
		return
	}
	query := conversationhandlers.ListConversationsQuery{UID: currentUID(c)}
	result, err := queries.Ask[conversationhandlers.ListConversationsQuery, dto.ConversationList](c.Request.Context(), h.Queries, query)
	if err != nil {
		respondError(c, h.Logger, "list conversations failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}
