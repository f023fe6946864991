// Package bootstrap assembles the command and query buses shared by the HTTP
// server and the operator CLI.
package bootstrap

import (
	"log/slog"

	"lettz/internal/app/commands"
	"lettz/internal/app/docstore"
	"lettz/internal/app/dto"
	conversationhandlers "lettz/internal/app/handlers/conversations"
	listinghandlers "lettz/internal/app/handlers/listings"
	notificationhandlers "lettz/internal/app/handlers/notifications"
	"lettz/internal/app/listings"
	"lettz/internal/app/middleware"
	"lettz/internal/app/notifications"
	"lettz/internal/app/outbox"
	"lettz/internal/app/queries"
	"lettz/internal/app/readstate"
)

type Deps struct {
	Store       docstore.Store
	Outbox      outbox.Outbox
	Encoder     outbox.EventEncoder
	Idempotency middleware.IdempotencyStore
	Logger      *slog.Logger
}

type Application struct {
	Commands    commands.Bus
	Queries     queries.Bus
	Hub         *notifications.Hub
	Tracker     *readstate.Tracker
	Coordinator *listings.Coordinator
	// CommandKeys lists every registered command, for startup logs.
	CommandKeys []string
}

func Build(d Deps) *Application {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	encoder := d.Encoder
	if encoder == nil {
		encoder = outbox.JSONEventEncoder{}
	}

	coordinatorOpts := []listings.Option{listings.WithLogger(logger)}
	if d.Outbox != nil {
		coordinatorOpts = append(coordinatorOpts, listings.WithOutbox(d.Outbox, encoder))
	}
	coordinator := listings.NewCoordinator(d.Store, coordinatorOpts...)
	hub := notifications.NewHub(d.Store, logger)

	commandBus := commands.NewInMemoryBus()
	commands.RegisterHandler[listinghandlers.RemoveListingCommand, *dto.ListingRemoval](commandBus, listinghandlers.RemoveListingCommand{}.Key(), &listinghandlers.RemoveListingHandler{
		Coordinator: coordinator,
		Logger:      logger,
	})
	commands.RegisterHandler[conversationhandlers.ContactListingCommand, *dto.ContactResult](commandBus, conversationhandlers.ContactListingCommand{}.Key(), &conversationhandlers.ContactListingHandler{
		Store:   d.Store,
		Outbox:  d.Outbox,
		Encoder: encoder,
		Logger:  logger,
	})
	commands.RegisterHandler[notificationhandlers.SetNotificationCommand, *dto.Notifications](commandBus, notificationhandlers.SetNotificationCommand{}.Key(), &notificationhandlers.SetHandler{Hub: hub})

	queryBus := queries.NewInMemoryBus()
	queries.RegisterHandler[conversationhandlers.ListConversationsQuery, dto.ConversationList](queryBus, conversationhandlers.ListConversationsQuery{}.Key(), &conversationhandlers.ListConversationsHandler{Reader: d.Store})
	queries.RegisterHandler[notificationhandlers.GetNotificationsQuery, dto.Notifications](queryBus, notificationhandlers.GetNotificationsQuery{}.Key(), &notificationhandlers.GetHandler{Hub: hub})

	commandMiddleware := []middleware.CommandMiddleware{
		middleware.Logging(logger),
		middleware.Authorization(middleware.RequireActor),
	}
	if d.Idempotency != nil {
		commandMiddleware = append(commandMiddleware, middleware.Idempotency(d.Idempotency, nil))
	}
	if d.Outbox != nil {
		commandMiddleware = append(commandMiddleware, middleware.OutboxFlush(d.Outbox, logger))
	}

	return &Application{
		Commands: middleware.ChainCommands(commandBus, commandMiddleware...),
		Queries: middleware.ChainQueries(queryBus,
			middleware.QueryLogging(logger),
			middleware.QueryAuthorization(middleware.RequireActor),
		),
		Hub:         hub,
		Tracker:     readstate.NewTracker(d.Store, logger),
		Coordinator: coordinator,
		CommandKeys: commandBus.Keys(),
	}
}
