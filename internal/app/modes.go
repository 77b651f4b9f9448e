package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zkzoomer/dorsiaclub/internal/notify"
	"github.com/zkzoomer/dorsiaclub/internal/oracle"
	"github.com/zkzoomer/dorsiaclub/internal/server"
	"github.com/zkzoomer/dorsiaclub/internal/server/handler"
	"github.com/zkzoomer/dorsiaclub/internal/server/ws"
)

// ServeMode runs the HTTP API, the WebSocket hub and the notification
// bridge. Oracle resolutions arrive over the signed callback endpoints from
// a worker running elsewhere.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startNotifyBridge(ctx, g, deps)
	a.startArchiveLoop(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// OracleMode runs only the metadata worker. It consumes request events from
// the signal bus, uploads descriptors to object storage, and submits
// resolutions to the registry over the signed callback channel.
func (a *App) OracleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting oracle mode",
		slog.String("callback_url", a.cfg.Oracle.CallbackURL),
	)

	g, ctx := errgroup.WithContext(ctx)

	resolver := oracle.NewCallbackClient(a.cfg.Oracle.CallbackURL, deps.OracleAuth)
	worker := oracle.NewWorker(
		deps.SignalBus,
		deps.LockManager,
		deps.BlobWriter,
		resolver,
		deps.OracleAddress,
		a.cfg.Oracle.MetadataBaseURI,
		a.logger,
	)
	g.Go(func() error {
		return worker.Run(ctx)
	})

	return g.Wait()
}

// FullMode runs the API server and the metadata worker in one process. The
// worker resolves directly through the oracle service, skipping the HTTP
// callback round trip.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	worker := oracle.NewWorker(
		deps.SignalBus,
		deps.LockManager,
		deps.BlobWriter,
		deps.Oracle,
		deps.OracleAddress,
		a.cfg.Oracle.MetadataBaseURI,
		a.logger,
	)
	g.Go(func() error {
		return worker.Run(ctx)
	})

	a.startNotifyBridge(ctx, g, deps)
	a.startArchiveLoop(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// startNotifyBridge forwards domain events to the configured notification
// channels. Skipped when no senders are configured.
func (a *App) startNotifyBridge(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if a.cfg.Notify.TelegramToken == "" && a.cfg.Notify.DiscordWebhookURL == "" {
		return
	}

	bridge := notify.NewBridge(deps.SignalBus, deps.Notifier, a.logger)
	g.Go(func() error {
		return bridge.Run(ctx)
	})
}

// startArchiveLoop periodically moves terminal listings and old audit rows
// to object storage and prunes the archived rows from the database.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Archive.Enabled || deps.Archiver == nil {
		return
	}

	interval := a.cfg.Archive.Interval.Duration
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.runArchiveCycle(ctx, deps, time.Now().UTC().Add(-retention))
			}
		}
	})
}

// runArchiveCycle archives one batch. Failures are logged; the next tick
// retries, and rows are only pruned after their archive write succeeded.
func (a *App) runArchiveCycle(ctx context.Context, deps *Dependencies, cutoff time.Time) {
	listings, err := deps.Archiver.ArchiveListings(ctx, cutoff)
	if err != nil {
		a.logger.WarnContext(ctx, "archive: listings failed",
			slog.String("error", err.Error()),
		)
	} else if listings > 0 {
		a.pruneArchivedListings(ctx, deps, cutoff)
	}

	audits, err := deps.Archiver.ArchiveAuditLog(ctx, cutoff)
	if err != nil {
		a.logger.WarnContext(ctx, "archive: audit log failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if audits > 0 {
		if pruner, ok := deps.AuditStore.(interface {
			DeleteBefore(ctx context.Context, before time.Time) (int64, error)
		}); ok {
			if _, err := pruner.DeleteBefore(ctx, cutoff); err != nil {
				a.logger.WarnContext(ctx, "archive: audit prune failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}

	a.logger.InfoContext(ctx, "archive: cycle complete",
		slog.Int64("listings", listings),
		slog.Int64("audit_entries", audits),
		slog.Time("cutoff", cutoff),
	)
}

// pruneArchivedListings deletes terminal listings that were just archived.
func (a *App) pruneArchivedListings(ctx context.Context, deps *Dependencies, cutoff time.Time) {
	rows, err := deps.ListingStore.ListTerminalBefore(ctx, cutoff)
	if err != nil {
		a.logger.WarnContext(ctx, "archive: list terminal listings failed",
			slog.String("error", err.Error()),
		)
		return
	}
	ids := make([]uint64, 0, len(rows))
	for _, l := range rows {
		ids = append(ids, l.ID)
	}
	if err := deps.ListingStore.Delete(ctx, ids); err != nil {
		a.logger.WarnContext(ctx, "archive: listing prune failed",
			slog.String("error", err.Error()),
		)
	}
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled by config")
		return
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	cardHandler := handler.NewCardHandler(deps.Cards, a.logger)
	if deps.CardStore != nil {
		cardHandler.WithStore(deps.CardStore)
	}

	handlers := server.Handlers{
		Status:   handler.NewStatusHandler(a.cfg.Mode, deps.Cards, deps.Listings, a.logger),
		Cards:    cardHandler,
		Listings: handler.NewListingHandler(deps.Listings, a.logger),
		Oracle:   handler.NewOracleHandler(deps.Oracle, deps.OracleAuth, a.logger),
		Admin:    handler.NewAdminHandler(deps.Cards, deps.Listings, deps.Owner, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
