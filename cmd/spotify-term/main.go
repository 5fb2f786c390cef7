package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/spotify-term/internal/auth"
	"github.com/alexjbarnes/spotify-term/internal/config"
	"github.com/alexjbarnes/spotify-term/internal/logging"
	"github.com/alexjbarnes/spotify-term/internal/spotify"
	"github.com/alexjbarnes/spotify-term/internal/state"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("spotify-term starting",
		slog.String("version", Version),
		slog.Bool("pkce", cfg.UsePKCE()),
		slog.Bool("cache", cfg.CacheEnabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	strategy := selectGrant(cfg)

	engine, err := auth.NewEngine(strategy, auth.EngineConfig{
		RedirectURI: cfg.RedirectURI,
		Scopes:      cfg.Scopes,
		Cache:       auth.CacheConfig{Dir: cfg.CacheDir, Enabled: cfg.CacheEnabled},
		AuthTimeout: cfg.AuthTimeout,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("building auth engine: %w", err)
	}

	engine.OnToken(func(tok auth.Token) {
		logger.Debug("token updated", slog.Time("expires_at", tok.ExpiresAt))
	})

	appState, err := state.Load(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	if prev := appState.LastFlow(); prev != "" && prev != strategy.FlowID() {
		logger.Info("grant changed since last run",
			slog.String("previous", prev),
			slog.String("current", strategy.FlowID()))
	}

	if err := appState.SetLastFlow(strategy.FlowID()); err != nil {
		logger.Warn("recording flow failed", slog.Any("error", err))
	}

	// Force the login up front so the dashboard never starts unauthenticated.
	if _, err := engine.Token(ctx); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}

	client := spotify.NewClient(engine, nil)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := engine.WatchCache(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}

		return err
	})

	g.Go(func() error {
		defer stop()

		d := &dashboard{
			client:   client,
			state:    appState,
			logger:   logger,
			pageSize: cfg.PageSize,
			out:      os.Stdout,
			in:       os.Stdin,
		}

		return d.run(gctx)
	})

	return g.Wait()
}

// selectGrant picks the grant from the configured credentials: the
// authorization-code grant when a client secret is present, PKCE
// otherwise.
func selectGrant(cfg *config.Config) auth.GrantStrategy {
	if cfg.UsePKCE() {
		return auth.PKCEGrant{ID: cfg.ClientID}
	}

	return auth.AuthorizationCodeGrant{
		Creds: auth.Credentials{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
		},
	}
}
