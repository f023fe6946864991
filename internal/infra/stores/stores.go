// Package stores opens the storage side of the process for one STORE_DRIVER.
package stores

import (
	"context"
	"fmt"
	"log/slog"

	"lettz/internal/app/docstore"
	"lettz/internal/app/listings"
	"lettz/internal/app/middleware"
	appoutbox "lettz/internal/app/outbox"
	"lettz/internal/infra/config"
	dbmongo "lettz/internal/infra/db/mongo"
	"lettz/internal/infra/inbox"
	"lettz/internal/infra/outbox"
	"lettz/internal/infra/storage/memory"
)

type Stores struct {
	Store       docstore.Store
	Seeder      memory.Seeder
	Outbox      appoutbox.Outbox
	Relay       appoutbox.RelayStore
	Inbox       listings.Inbox
	Idempotency middleware.IdempotencyStore
	close       func(ctx context.Context) error
}

func (s *Stores) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}

func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Stores, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		return openMongo(ctx, cfg, logger)
	default:
		store := memory.NewStore(memory.WithMaxBatchOps(cfg.MaxBatchOps))
		box := memory.NewOutbox()
		logger.Info("using in-memory document store")
		return &Stores{
			Store:       store,
			Seeder:      store,
			Outbox:      box,
			Relay:       box,
			Inbox:       memory.NewInbox(),
			Idempotency: memory.NewIdempotencyStore(),
		}, nil
	}
}

func openMongo(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Stores, error) {
	client, err := dbmongo.New(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	fail := func(step string, err error) (*Stores, error) {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	if err := client.Ping(ctx); err != nil {
		return fail("ping mongo", err)
	}
	store, err := dbmongo.NewStore(ctx, client.DB, dbmongo.WithMaxBatchOps(cfg.MaxBatchOps))
	if err != nil {
		return fail("document store", err)
	}
	box, err := outbox.NewStore(ctx, client.DB)
	if err != nil {
		return fail("outbox store", err)
	}
	seen, err := inbox.NewStore(ctx, client.DB, cfg.KafkaGroupID)
	if err != nil {
		return fail("inbox store", err)
	}
	idem, err := dbmongo.NewIdempotencyStore(ctx, client.DB, memory.IdempotencyTTL)
	if err != nil {
		return fail("idempotency store", err)
	}
	logger.Info("using mongo document store", "db", cfg.MongoDB)
	return &Stores{
		Store:       store,
		Seeder:      store,
		Outbox:      box,
		Relay:       box,
		Inbox:       seen,
		Idempotency: idem,
		close:       client.Close,
	}, nil
}
