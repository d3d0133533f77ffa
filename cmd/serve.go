package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"waveline/pkg/client"
	"waveline/pkg/config"
	"waveline/pkg/dispatch"
	"waveline/pkg/filter"
	"waveline/pkg/logger"
	"waveline/pkg/update"
	"waveline/pkg/webhook"

	"github.com/spf13/cobra"
)

var serveEcho bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook dispatch service",
	Long:  "Runs the webhook server, dispatch workers, and listener registry until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}
		if err := cfg.Validate(); err != nil {
			fmt.Printf("invalid config: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.serve")

		apiClient, err := newPlatformClient(cfg, appLogger)
		if err != nil {
			log.Error("Failed to initialize platform client", "error", err)
			return
		}

		dispatcher := newDispatcher(cfg, appLogger)
		defer dispatcher.Close()

		if serveEcho {
			registerEchoHandler(dispatcher, log)
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		workers := dispatcher.StartWorkers(runCtx, cfg.Dispatch.Workers)

		server, err := webhook.NewServer(cfg.Webhook, cfg.Platform, dispatcher, apiClient, appLogger)
		if err != nil {
			log.Error("Failed to initialize webhook server", "error", err)
			return
		}

		log.Info("Service started", "port", cfg.Webhook.Port, "path", cfg.Webhook.Path, "workers", cfg.Dispatch.Workers)
		if err := server.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Webhook server failed", "error", err)
		}

		stop()
		workers.Wait()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveEcho, "echo", false, "register a demo handler that echoes incoming text messages")
	rootCmd.AddCommand(serveCmd)
}

// newDispatcher builds the dispatch pipeline from runtime config.
func newDispatcher(cfg *config.Config, log *slog.Logger) *dispatch.Dispatcher {
	opts := []dispatch.Option{
		dispatch.WithLogger(log),
		dispatch.WithQueue(cfg.Dispatch.QueueSize),
		dispatch.WithDedupTTL(time.Duration(cfg.Dispatch.DedupTTLSeconds) * time.Second),
	}
	if cfg.Dispatch.ContinueHandling {
		opts = append(opts, dispatch.WithContinueHandling(true))
	}

	return dispatch.New(opts...)
}

// newPlatformClient builds the outbound API client.
func newPlatformClient(cfg *config.Config, log *slog.Logger) (*client.Client, error) {
	var opts []client.Option
	if log != nil {
		opts = append(opts, client.WithLogger(log))
	}
	if baseURL := strings.TrimSpace(cfg.Platform.BaseURL); baseURL != "" {
		opts = append(opts, client.WithBaseURL(baseURL))
	}

	return client.New(cfg.Platform.AccessToken, cfg.Platform.PhoneNumberID, opts...)
}

// registerEchoHandler installs a text echo for smoke testing a deployment.
func registerEchoHandler(d *dispatch.Dispatcher, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	d.On(update.KindMessage, filter.HasText, func(ctx context.Context, u *update.Update) error {
		if _, err := u.Reply(ctx, u.Text); err != nil {
			log.Error("Echo reply failed", "update_id", u.ID, "error", err)
			return err
		}
		return nil
	})
}
