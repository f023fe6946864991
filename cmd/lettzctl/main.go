// Command lettzctl runs the lettz application commands against the configured
// store, for operators and scripts.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lettz/internal/app/bootstrap"
	"lettz/internal/infra/config"
	"lettz/internal/infra/obs"
	"lettz/internal/infra/storage/memory"
	"lettz/internal/infra/stores"
)

type runtime struct {
	app    *bootstrap.Application
	stores *stores.Stores
	logger *slog.Logger
	out    io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var (
		uid     string
		envFile string
		rt      runtime
	)
	root := &cobra.Command{
		Use:           "lettzctl",
		Short:         "Operate on lettz listings, conversations and notifications.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := obs.NewLoggerTo(cmd.ErrOrStderr(), cfg.Env, slog.LevelWarn)
			st, err := stores.Open(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			if err := memory.LoadFixtures(cmd.Context(), st.Seeder, cfg.FixturesPath, logger); err != nil {
				return err
			}
			rt = runtime{
				app: bootstrap.Build(bootstrap.Deps{
					Store:       st.Store,
					Outbox:      st.Outbox,
					Idempotency: st.Idempotency,
					Logger:      logger,
				}),
				stores: st,
				logger: logger,
				out:    out,
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if rt.app != nil {
				rt.app.Hub.Close()
			}
			if rt.stores != nil {
				return rt.stores.Close(context.Background())
			}
			return nil
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&uid, "uid", "", "act as this user")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before the environment")

	root.AddCommand(
		newRemoveListingCmd(&rt, &uid),
		newConversationsCmd(&rt, &uid),
		newNotificationsCmd(&rt, &uid),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
