package notifications

import (
	"context"

	"lettz/internal/app/commands"
	"lettz/internal/app/dto"
	appnotifications "lettz/internal/app/notifications"
	"lettz/internal/app/queries"
	"lettz/internal/domain/user"
)

const (
	getNotificationsKey = "notifications.get"
	setNotificationKey  = "notifications.set"
)

type GetNotificationsQuery struct {
	UID string
}

func (q GetNotificationsQuery) Key() string      { return getNotificationsKey }
func (q GetNotificationsQuery) ActorUID() string { return q.UID }

// SetNotificationCommand raises or clears one category.
type SetNotificationCommand struct {
	UID      string
	Category string
	Raised   bool
}

func (c SetNotificationCommand) Key() string      { return setNotificationKey }
func (c SetNotificationCommand) ActorUID() string { return c.UID }

// GetHandler reads the flags through the hub, reusing a live aggregator when a
// stream already holds one.
type GetHandler struct {
	Hub *appnotifications.Hub
}

func (h *GetHandler) Handle(ctx context.Context, q GetNotificationsQuery) (dto.Notifications, error) {
	agg, release, err := h.Hub.Acquire(ctx, q.UID)
	if err != nil {
		return dto.Notifications{}, err
	}
	defer release()
	return dto.MapNotifications(agg.Snapshot()), nil
}

type SetHandler struct {
	Hub *appnotifications.Hub
}

func (h *SetHandler) Handle(ctx context.Context, cmd SetNotificationCommand) (*dto.Notifications, error) {
	category, err := user.ParseCategory(cmd.Category)
	if err != nil {
		return nil, err
	}
	agg, release, err := h.Hub.Acquire(ctx, cmd.UID)
	if err != nil {
		return nil, err
	}
	defer release()
	if cmd.Raised {
		err = agg.Add(ctx, category)
	} else {
		err = agg.Clear(ctx, category)
	}
	if err != nil {
		return nil, err
	}
	out := dto.MapNotifications(agg.Snapshot())
	return &out, nil
}

var (
	_ queries.Handler[GetNotificationsQuery, dto.Notifications]    = (*GetHandler)(nil)
	_ commands.Handler[SetNotificationCommand, *dto.Notifications] = (*SetHandler)(nil)
)
