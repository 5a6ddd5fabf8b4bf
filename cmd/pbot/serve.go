package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/personabot/pbot/internal/api"
	"github.com/personabot/pbot/internal/config"
	"github.com/personabot/pbot/internal/engine"
	"github.com/personabot/pbot/internal/persona"
	"github.com/personabot/pbot/internal/quote"
	"github.com/personabot/pbot/internal/telegram"
	"github.com/personabot/pbot/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server and the reply worker (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	fmt.Fprintf(os.Stderr, "pbot version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	printStep("Checking %s models", cfg.Inference.Backend)
	if err := engine.EnsureReady(ctx, a.backend, modelNames(cfg), os.Stderr); err != nil {
		return err
	}

	// A previous process died mid-job; those replies are not retried.
	if n, err := a.store.AbandonRunningJobs(ctx); err != nil {
		return fmt.Errorf("recovering jobs: %w", err)
	} else if n > 0 {
		printWarning("Marked %d interrupted jobs as failed", n)
	}

	tg := telegram.New(cfg.Telegram.APIKey, cfg.Telegram.BaseURL)

	top := chi.NewRouter()
	if cfg.Server.AdminToken != "" {
		top.Mount("/admin", api.NewAdminHandler(api.AdminDeps{
			Memory: a.mem,
			Store:  a.store,
			Jobs:   a.store,
			Keys:   a.store,
			Token:  cfg.Server.AdminToken,
		}))
	} else {
		slog.Info("admin API disabled, server.admin_token is not set")
	}
	top.Mount("/", api.NewBotHandler(api.BotDeps{
		Jobs:          a.store,
		Sender:        tg,
		Quotes:        quote.NewFetcher(cfg.Quote.URL),
		Whitelist:     cfg.Telegram.Whitelist,
		WebhookSecret: cfg.Server.WebhookSecret,
		QuoteChatID:   cfg.Telegram.QuoteChatID,
	}))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           top,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	w := worker.NewWorker(a.store, a.chat, tg, 500*time.Millisecond)
	w.SetConcurrency(cfg.Server.Workers)
	g.Go(func() error {
		w.Run(gctx)
		return nil
	})

	if cfg.Persona.File != "" {
		watcher := persona.NewWatcher(cfg.Persona.File, a.mem)
		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil {
				return fmt.Errorf("personas watcher: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "pbot listening on %s\n", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pbot configuration and server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	printStatus("Server", "%s", serverState(ctx, fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)))
	if cfg.Server.AdminToken == "" {
		printStatus("Admin API", "disabled")
	} else {
		printStatus("Admin API", "enabled")
	}

	backend := cfg.Inference.Backend
	if cfg.Inference.BaseURL != "" {
		backend += " (" + cfg.Inference.BaseURL + ")"
	}
	printStatus("Backend", "%s", backend)
	printStatus("Models", "%s, %s, %s", cfg.Inference.PrimaryModel, cfg.Inference.SecondaryModel, cfg.Inference.TertiaryModel)
	printStatus("Utility model", "%s", cfg.Inference.UtilityModel)
	printStatus("Workers", "%d", cfg.Server.Workers)
	printStatus("Whitelist", "%d users", len(cfg.Telegram.Whitelist))
	if cfg.Persona.File != "" {
		printStatus("Personas file", "%s", cfg.Persona.File)
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)

	if err := cfg.Validate(); err != nil {
		printWarning("%v", err)
	}
	return nil
}

func serverState(ctx context.Context, healthURL string) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return "unknown"
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "stopped"
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("error (HTTP %d)", resp.StatusCode)
	}
	return "running"
}
