// Package app builds the ingestion service from configuration and owns the
// lifetime of every long-lived client it opens.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-ingest/internal/api"
	"github.com/JakeFAU/crawl-ingest/internal/clock/system"
	"github.com/JakeFAU/crawl-ingest/internal/config"
	"github.com/JakeFAU/crawl-ingest/internal/coordinator"
	"github.com/JakeFAU/crawl-ingest/internal/dispatcher"
	memstore "github.com/JakeFAU/crawl-ingest/internal/docstore/memory"
	mongostore "github.com/JakeFAU/crawl-ingest/internal/docstore/mongo"
	pgstore "github.com/JakeFAU/crawl-ingest/internal/docstore/postgres"
	"github.com/JakeFAU/crawl-ingest/internal/id/uuid"
	"github.com/JakeFAU/crawl-ingest/internal/ingest"
	"github.com/JakeFAU/crawl-ingest/internal/metrics"
	gcppublisher "github.com/JakeFAU/crawl-ingest/internal/publisher/pubsub"
	"github.com/JakeFAU/crawl-ingest/internal/queue/memory"
	"github.com/JakeFAU/crawl-ingest/internal/report"
	"github.com/JakeFAU/crawl-ingest/internal/source"
	pubsubsource "github.com/JakeFAU/crawl-ingest/internal/source/pubsub"
	"github.com/JakeFAU/crawl-ingest/internal/source/ratelimit"
	gcsstorage "github.com/JakeFAU/crawl-ingest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/crawl-ingest/internal/storage/local"
	"github.com/JakeFAU/crawl-ingest/internal/writer"
)

// App holds the pipeline and the clients it was built on.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	coord    *coordinator.Coordinator
	writers  *writer.Set
	queue    *memory.Queue
	metrics  *metrics.Collectors
	submit   source.Submitter
	server   *api.Server
	httpSrv  *http.Server
	listener net.Listener

	migrate      func(ctx context.Context) error
	mongoClient  *mongodriver.Client
	pgStore      *pgstore.Store
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	gcs          *gcsstorage.BlobStore
}

// Build creates the application's dependencies. Nothing runs until Start.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	a.logger.Info("building ingestion pipeline",
		zap.String("store", cfg.Store.Backend),
		zap.Int("workers", cfg.Workers.Count),
		zap.Int("buffer_size", cfg.Writer.BufferSize),
		zap.Int("token_buffer_size", cfg.Writer.TokenBufferSize()),
	)

	if err := a.build(ctx); err != nil {
		a.closeInfrastructure()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var err error
	if a.metrics, err = metrics.New(reg); err != nil {
		return fmt.Errorf("metrics init failed: %w", err)
	}

	colls, err := setupStore(ctx, a)
	if err != nil {
		return err
	}
	if a.cfg.Store.AutoMigrate {
		if err := a.Migrate(ctx); err != nil {
			return err
		}
	}

	a.writers = writer.NewSet(colls, writer.SetConfig{
		Threshold:      a.cfg.Writer.BufferSize,
		TokenThreshold: a.cfg.Writer.TokenBufferSize(),
		FlushTimeout:   a.cfg.Writer.FlushTimeout,
		MaxRetries:     a.cfg.Writer.MaxMergeRetries,
	}, a.metrics, a.logger.Named("writer"))

	a.queue = memory.NewQueue(a.cfg.Queue.Capacity)
	if err := a.metrics.WatchQueue(a.queue.Len); err != nil {
		return fmt.Errorf("metrics init failed: %w", err)
	}
	pool := dispatcher.New(a.queue, a.writers, dispatcher.Config{Workers: a.cfg.Workers.Count},
		a.metrics, a.logger.Named("worker"))

	reporters, err := setupSummary(ctx, a)
	if err != nil {
		return err
	}

	a.coord = coordinator.New(coordinator.Deps{
		Queue:     a.queue,
		Writers:   a.writers,
		Pool:      pool,
		Reporters: reporters,
		Clock:     system.New(),
		IDs:       uuid.New(),
	}, a.logger.Named("coordinator"))

	a.submit = a.coord
	if a.cfg.Intake.RPS > 0 {
		a.submit = ratelimit.New(a.coord, ratelimit.Config{RPS: a.cfg.Intake.RPS, Burst: a.cfg.Intake.Burst})
		a.logger.Info("intake rate limit enabled",
			zap.Float64("rps", a.cfg.Intake.RPS),
			zap.Int("burst", a.cfg.Intake.Burst),
		)
	}

	a.server = api.NewServer(api.Deps{
		Run:         throttledRun{Coordinator: a.coord, submit: a.submit},
		Pages:       a.writers.Pages,
		PageTokens:  a.writers.PageTokens,
		ImageTokens: a.writers.ImageTokens,
		Metrics:     a.metrics.Handler(),
		Middleware:  []func(http.Handler) http.Handler{a.metrics.Middleware},
	}, a.logger.Named("api"))
	return nil
}

// throttledRun routes API submissions through the intake limiter.
type throttledRun struct {
	*coordinator.Coordinator
	submit source.Submitter
}

func (r throttledRun) SubmitRecord(ctx context.Context, rec ingest.Record) error {
	return r.submit.SubmitRecord(ctx, rec)
}

func setupStore(ctx context.Context, a *App) (writer.Collections, error) {
	names := a.cfg.Store.Collections
	switch a.cfg.Store.Backend {
	case config.BackendMongo:
		a.logger.Info("using mongo document store", zap.String("database", a.cfg.Store.Mongo.Database))
		client, err := mongostore.Connect(ctx, mongostore.Config{
			URI:           a.cfg.Store.Mongo.URI,
			Database:      a.cfg.Store.Mongo.Database,
			Username:      a.cfg.Store.Mongo.Username,
			Password:      a.cfg.Store.Mongo.Password,
			AuthSource:    a.cfg.Store.Mongo.AuthSource,
			AuthMechanism: a.cfg.Store.Mongo.AuthMechanism,
			Timeout:       a.cfg.Store.Timeout,
		})
		if err != nil {
			return writer.Collections{}, fmt.Errorf("mongo init failed: %w", err)
		}
		a.mongoClient = client
		db := client.Database(a.cfg.Store.Mongo.Database)
		pages := mongostore.NewCollection[ingest.Page](db, names.Pages, mongostore.PageSchema)
		images := mongostore.NewCollection[ingest.Image](db, names.Images, mongostore.PageSchema)
		pageTokens := mongostore.NewCollection[ingest.TokenEntry](db, names.PageTokens, mongostore.TokenSchema)
		imageTokens := mongostore.NewCollection[ingest.TokenEntry](db, names.ImageTokens, mongostore.TokenSchema)
		a.migrate = func(ctx context.Context) error {
			for _, ensure := range []func(context.Context) error{
				pages.EnsureIndexes, images.EnsureIndexes, pageTokens.EnsureIndexes, imageTokens.EnsureIndexes,
			} {
				if err := ensure(ctx); err != nil {
					return err
				}
			}
			return nil
		}
		return writer.Collections{Pages: pages, Images: images, PageTokens: pageTokens, ImageTokens: imageTokens}, nil

	case config.BackendPostgres:
		a.logger.Info("using postgres document store")
		store, err := pgstore.Open(ctx, pgstore.Config{
			DSN:             a.cfg.Store.Postgres.DSN,
			MaxConns:        a.cfg.Store.Postgres.MaxConns,
			MinConns:        a.cfg.Store.Postgres.MinConns,
			MaxConnLifetime: a.cfg.Store.Postgres.MaxConnLifetime,
		})
		if err != nil {
			return writer.Collections{}, fmt.Errorf("postgres init failed: %w", err)
		}
		a.pgStore = store
		pages, err := store.Pages(names.Pages)
		if err != nil {
			return writer.Collections{}, err
		}
		images, err := store.Images(names.Images)
		if err != nil {
			return writer.Collections{}, err
		}
		pageTokens, err := store.Tokens(names.PageTokens)
		if err != nil {
			return writer.Collections{}, err
		}
		imageTokens, err := store.Tokens(names.ImageTokens)
		if err != nil {
			return writer.Collections{}, err
		}
		a.migrate = func(ctx context.Context) error {
			return store.Migrate(ctx, pgstore.Tables{
				Pages:       names.Pages,
				Images:      names.Images,
				PageTokens:  names.PageTokens,
				ImageTokens: names.ImageTokens,
			})
		}
		return writer.Collections{Pages: pages, Images: images, PageTokens: pageTokens, ImageTokens: imageTokens}, nil

	default:
		a.logger.Info("using in-memory document store")
		return writer.Collections{
			Pages:       memstore.NewPages(names.Pages),
			Images:      memstore.NewImages(names.Images),
			PageTokens:  memstore.NewTokens(names.PageTokens),
			ImageTokens: memstore.NewTokens(names.ImageTokens),
		}, nil
	}
}

func setupSummary(ctx context.Context, a *App) ([]report.Reporter, error) {
	reporters := []report.Reporter{report.NewLogReporter(a.logger.Named("summary"))}
	prefix := a.cfg.Summary.Prefix

	switch a.cfg.Summary.Backend {
	case config.SummaryLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Summary.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local summary store init failed: %w", err)
		}
		reporters = append(reporters, report.NewBlobReporter(store, prefix))
		if a.cfg.Summary.AppendFile != "" {
			reporters = append(reporters, report.NewAppendReporter(store, a.cfg.Summary.AppendFile))
		}
		a.logger.Debug("local summary backend", zap.String("path", a.cfg.Summary.Local.BaseDir))
	case config.SummaryGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Summary.GCS.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs summary store init failed: %w", err)
		}
		a.gcs = store
		reporters = append(reporters, report.NewBlobReporter(store, prefix))
		a.logger.Debug("GCS summary backend", zap.String("bucket", a.cfg.Summary.GCS.Bucket))
	}

	if a.cfg.Summary.Topic != "" {
		client, err := a.pubsub(ctx)
		if err != nil {
			return nil, err
		}
		a.publisher = gcppublisher.New(client)
		reporters = append(reporters, report.NewPublishReporter(a.publisher, a.cfg.Summary.Topic))
		a.logger.Info("summary publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.Summary.Topic),
		)
	}
	return reporters, nil
}

func (a *App) pubsub(ctx context.Context) (*pubsub.Client, error) {
	if a.pubsubClient != nil {
		return a.pubsubClient, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	return client, nil
}

// Migrate creates the collections' tables or indexes. It is a no-op for the
// memory store.
func (a *App) Migrate(ctx context.Context) error {
	if a.migrate == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Store.Timeout)
	defer cancel()
	if err := a.migrate(ctx); err != nil {
		return fmt.Errorf("migrate %s store: %w", a.cfg.Store.Backend, err)
	}
	a.logger.Info("store schema ready", zap.String("store", a.cfg.Store.Backend))
	return nil
}

// Coordinator returns the run coordinator.
func (a *App) Coordinator() *coordinator.Coordinator { return a.coord }

// Writers returns the writer set.
func (a *App) Writers() *writer.Set { return a.writers }

// Handler returns the HTTP handler, whether or not a listener is configured.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Submitter is where sources hand records to the run. It applies the intake
// rate limit when one is configured.
func (a *App) Submitter() source.Submitter { return a.submit }

// Subscriber returns the Pub/Sub record source, or nil when no subscription
// is configured.
func (a *App) Subscriber(ctx context.Context) (*pubsubsource.Subscriber, error) {
	if a.cfg.PubSub.Subscription == "" {
		return nil, nil
	}
	client, err := a.pubsub(ctx)
	if err != nil {
		return nil, err
	}
	return pubsubsource.New(client, pubsubsource.Config{
		Subscription:   a.cfg.PubSub.Subscription,
		MaxOutstanding: a.cfg.PubSub.MaxOutstanding,
	}, a.submit, a.logger.Named("pubsub"))
}

// Counts reads the current size of each collection.
func (a *App) Counts(ctx context.Context) (report.Counts, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Store.Timeout)
	defer cancel()
	return coordinator.Counts(ctx, a.writers)
}

// Start begins the run and, when a port is configured, serves HTTP.
func (a *App) Start(ctx context.Context) error {
	if err := a.coord.Start(ctx); err != nil {
		return err
	}
	if a.cfg.Server.Port == 0 {
		return nil
	}
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", a.cfg.Server.Port, err)
	}
	a.listener = ln
	a.httpSrv = &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := a.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr is the HTTP listen address, or "" when no server is running.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Stop drains and flushes the run, then stops serving HTTP. The HTTP server
// stays up during the drain so status stays observable.
func (a *App) Stop(ctx context.Context) (report.Summary, error) {
	a.logger.Info("shutdown initiated")
	summary, err := a.coord.Stop(ctx)
	if a.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if serr := a.httpSrv.Shutdown(shutdownCtx); serr != nil {
			a.logger.Error("server shutdown error", zap.Error(serr))
		}
	}
	return summary, err
}

// Close releases every client the App opened.
func (a *App) Close() {
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
}

func (a *App) closeInfrastructure() {
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Store.Timeout)
		defer cancel()
		if err := a.mongoClient.Disconnect(ctx); err != nil {
			a.logger.Warn("mongo disconnect failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}
