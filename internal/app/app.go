// Package app initializes and runs the sync service. It opens the three
// stores (authoritative Postgres, cloud document platform, local SQLite),
// builds the availability prober and the sync services, serves the metrics
// endpoint, and handles graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/taniko/roadsync/internal/availability"
	"github.com/taniko/roadsync/internal/backend"
	"github.com/taniko/roadsync/internal/blob"
	"github.com/taniko/roadsync/internal/cloud"
	"github.com/taniko/roadsync/internal/config"
	"github.com/taniko/roadsync/internal/local"
	"github.com/taniko/roadsync/internal/logging"
	"github.com/taniko/roadsync/internal/metrics"
	"github.com/taniko/roadsync/internal/models"
	"github.com/taniko/roadsync/internal/services"
	"github.com/taniko/roadsync/internal/storage"
)

type App struct {
	config *config.Config
	logger logging.Logger

	pg    *storage.PostgresManager
	lcl   *local.Store
	couch *kivik.Client

	Prober      *availability.Prober
	Coordinator *services.Coordinator
	Reconciler  *services.Reconciler
	Tracker     *services.Tracker
	FullSync    *services.FullSync
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	pg, err := storage.NewPostgresManager(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("relational store init: %w", err)
	}

	lcl, err := local.Open(ctx, cfg.LocalDBPath)
	if err != nil {
		return nil, fmt.Errorf("local store init: %w", err)
	}

	couch, err := kivik.New("couch", cfg.CouchURL)
	if err != nil {
		return nil, fmt.Errorf("document store init: %w", err)
	}
	if err := ensureDatabase(ctx, couch, cfg.CouchDatabase); err != nil {
		logger.Warn(ctx, "document store not ready, continuing degraded", "error", err)
	}
	docs := cloud.NewCouchStore(couch, cfg.CouchDatabase)

	identity := cloud.NewRESTIdentityClient(cfg.IdentityBaseURL, cfg.IdentityAPIKey, cfg.CallTimeout)
	api := backend.NewClient(cfg.BackendBaseURL, cfg.CallTimeout)
	blobs := blob.NewS3Store(cfg.S3RootUser, cfg.S3RootPassword, cfg.S3Bucket, cfg.S3Region, cfg.S3BaseEndpoint)

	prober := availability.New(cfg.ProbeTTL, cfg.ProbeTimeout, logger)
	prober.Register(availability.TargetBackend, api.Probe)
	prober.Register(availability.TargetCloud, docs.Ping)

	session := staticSession(cfg.CloudSessionToken)

	coordinator := services.NewCoordinator(prober, api, docs,
		lcl.Records, pg.Records(), blobs, session, logger)
	reconciler := services.NewReconciler(pg.Accounts(), identity, cfg.IdentityPageSize, logger)
	tracker := services.NewTracker(lcl.Records, logger)
	fullSync := services.NewFullSync(reconciler, tracker, docs, api, blobs, prober, session, logger)

	return &App{
		config:      cfg,
		logger:      logger,
		pg:          pg,
		lcl:         lcl,
		couch:       couch,
		Prober:      prober,
		Coordinator: coordinator,
		Reconciler:  reconciler,
		Tracker:     tracker,
		FullSync:    fullSync,
	}, nil
}

// ensureDatabase creates the CouchDB database on first run.
func ensureDatabase(ctx context.Context, client *kivik.Client, name string) error {
	exists, err := client.DBExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.CreateDB(ctx, name)
}

// staticSession serves the configured cloud session token. An empty token
// means no session, which takes the cloud store out of the fallback chain.
// The identity admin API key is a different credential and never doubles as
// a session.
func staticSession(token string) services.TokenSource {
	return func(context.Context) (string, error) {
		if token == "" {
			return "", errors.New("no cloud session configured")
		}
		return token, nil
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startMetricsServer(ctx context.Context, cancelFunc context.CancelFunc) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: app.config.MetricsAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "metrics server shutdown", "error", err)
		}
	}()

	app.logger.Info(ctx, "metrics endpoint listening", "addr", app.config.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, "metrics server failed", "error", err)
		cancelFunc()
	}
}

// runFullSyncTicker triggers a full sync pass on the configured interval.
// The core itself stays request-driven; this is merely a built-in caller.
func (app *App) runFullSyncTicker(ctx context.Context) {
	ticker := time.NewTicker(app.config.FullSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := app.FullSync.Run(ctx, models.DirectionBoth); err != nil {
				app.logger.Error(ctx, "scheduled full sync failed", "error", err)
			}
		}
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting sync service")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startMetricsServer(ctx, cancelFunc)
	}()

	if app.config.FullSyncInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.runFullSyncTicker(ctx)
		}()
	}

	wg.Wait()

	if err := app.lcl.Close(); err != nil {
		app.logger.Error(ctx, "closing local store", "error", err)
	}
	if err := app.pg.Close(); err != nil {
		app.logger.Error(ctx, "closing relational store", "error", err)
	}
	if err := app.couch.Close(); err != nil {
		app.logger.Error(ctx, "closing document store client", "error", err)
	}

	app.logger.Info(ctx, "sync service stopped")
}
