package ginserver

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	gin "github.com/gin-gonic/gin"

	"lettz/internal/app/commands"
	"lettz/internal/app/dto"
	notificationhandlers "lettz/internal/app/handlers/notifications"
	appnotifications "lettz/internal/app/notifications"
	"lettz/internal/app/queries"
	"lettz/internal/domain/user"
)

type NotificationHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	// Hub feeds the SSE stream.
	Hub       *appnotifications.Hub
	Heartbeat time.Duration
	Logger    *slog.Logger
}

func (h NotificationHandler) Get(c *gin.Context) {
	if h.Queries == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queries bus unavailable"})
		return
	}
	query := notificationhandlers.GetNotificationsQuery{UID: currentUID(c)}
	result, err := queries.Ask[notificationhandlers.GetNotificationsQuery, dto.Notifications](c.Request.Context(), h.Queries, query)
	if err != nil {
		respondError(c, h.Logger, "load notifications failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h NotificationHandler) Raise(c *gin.Context) { h.set(c, true) }
func (h NotificationHandler) Clear(c *gin.Context) { h.set(c, false) }

func (h NotificationHandler) set(c *gin.Context, raised bool) {
	if h.Commands == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "commands bus unavailable"})
		return
	}
	cmd := notificationhandlers.SetNotificationCommand{
		UID:      currentUID(c),
		Category: c.Param("category"),
		Raised:   raised,
	}
	result, err := commands.Dispatch[notificationhandlers.SetNotificationCommand, *dto.Notifications](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		respondError(c, h.Logger, "update notifications failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Stream pushes the flags as server-sent events until the client goes away.
// Only the latest state is kept for a slow client.
func (h NotificationHandler) Stream(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	if h.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notifications unavailable"})
		return
	}
	ctx := c.Request.Context()
	agg, release, err := h.Hub.Acquire(ctx, p.ID)
	if err != nil {
		respondError(c, h.Logger, "notification stream failed", err)
		return
	}
	defer release()

	updates := make(chan user.Notifications, 1)
	cancel := agg.Subscribe(func(n user.Notifications) {
		select {
		case updates <- n:
		default:
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- n:
			default:
			}
		}
	})
	defer cancel()

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case n := <-updates:
			c.SSEvent("notifications", dto.MapNotifications(n))
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}
