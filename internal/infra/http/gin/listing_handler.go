package ginserver

import (
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"lettz/internal/app/commands"
	"lettz/internal/app/dto"
	listinghandlers "lettz/internal/app/handlers/listings"
)

type ListingHandler struct {
	Commands commands.Bus
	Logger   *slog.Logger
}

// Remove deletes the caller's listing together with its conversations.
func (h ListingHandler) Remove(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	if h.Commands == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "commands bus unavailable"})
		return
	}
	cmd := listinghandlers.RemoveListingCommand{
		ListingID:  strings.TrimSpace(c.Param("id")),
		OwnerID:    p.ID,
		RequestKey: strings.TrimSpace(c.GetHeader("Idempotency-Key")),
	}
	result, err := commands.Dispatch[listinghandlers.RemoveListingCommand, *dto.ListingRemoval](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		respondError(c, h.Logger, "remove listing failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}
