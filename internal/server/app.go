// Package server wires the gateway together: storage, ledger, providers,
// the completion orchestrator, the sidebar synchronizer and both transports.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/llmgate/internal/logging"
	"github.com/dmitrijs2005/llmgate/internal/server/archive"
	"github.com/dmitrijs2005/llmgate/internal/server/catalog"
	"github.com/dmitrijs2005/llmgate/internal/server/completion"
	"github.com/dmitrijs2005/llmgate/internal/server/config"
	"github.com/dmitrijs2005/llmgate/internal/server/conversations"
	"github.com/dmitrijs2005/llmgate/internal/server/events"
	"github.com/dmitrijs2005/llmgate/internal/server/httpapi"
	"github.com/dmitrijs2005/llmgate/internal/server/ledger"
	"github.com/dmitrijs2005/llmgate/internal/server/provider"
	"github.com/dmitrijs2005/llmgate/internal/server/ratelimit"
	"github.com/dmitrijs2005/llmgate/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/llmgate/internal/server/sidebar"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/llmgate/internal/server/grpc"
)

// eventBuffer is the per-subscriber queue length of the event bus.
const eventBuffer = 256

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	bus     *events.Bus
	sync    *sidebar.Synchronizer
	grpcSrv *gs.GRPCServer
	httpSrv *httpapi.Server
}

// sqlOpen is a seam for tests.
var sqlOpen = sql.Open

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	db, err := sqlOpen("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	arch, err := archive.New(ctx, archive.Config{
		Region:       c.S3Region,
		AccessKey:    c.S3AccessKey,
		SecretKey:    c.S3SecretKey,
		BaseEndpoint: c.S3BaseEndpoint,
		Bucket:       c.S3Bucket,
		Threshold:    c.ArchiveThreshold,
	}, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive init error: %w", err)
	}

	cat := catalog.Default()
	bus := events.NewBus(logger)
	ldg := ledger.New(ledger.NewPostgresStore(db, rm), logger)
	syncer := sidebar.New(sidebar.NewRepositoryLoader(db, rm), logger)

	orch := completion.NewOrchestrator(cat, providers(ctx, c, logger), ldg,
		completion.NewPostgresStore(db, rm, arch, logger), bus, logger,
		completion.Options{DispatchTimeout: c.DispatchTimeout, HistoryLimit: c.HistoryLimit})
	convs := conversations.NewService(db, rm, syncer, cat, logger)
	limiter := ratelimit.New(c.RequestsPerMinute, c.RequestBurst)

	app := &App{
		config: c,
		logger: logger,
		db:     db,
		bus:    bus,
		sync:   syncer,
		grpcSrv: gs.NewGRPCServer(c.EndpointAddrGRPC, logger, gs.Services{
			Completions:   orch,
			Ledger:        ldg,
			Conversations: convs,
			Limiter:       limiter,
		}, c.SecretKey),
		httpSrv: httpapi.NewServer(c.EndpointAddrHTTP, logger, httpapi.Services{
			Completions:   orch,
			Ledger:        ldg,
			Conversations: convs,
			Limiter:       limiter,
			Catalog:       cat,
		}, c.SecretKey),
	}
	return app, nil
}

// providers registers every upstream that has credentials configured.
func providers(ctx context.Context, c *config.Config, logger logging.Logger) *provider.Registry {
	reg := provider.NewRegistry()
	add := func(name, key string, p provider.Provider) {
		if key == "" {
			logger.Warn(ctx, "provider disabled, no API key", "provider", name)
			return
		}
		reg.Register(name, p)
	}
	add("openai", c.OpenAIAPIKey, provider.NewOpenAI(provider.Config{
		BaseURL: c.OpenAIBaseURL, APIKey: c.OpenAIAPIKey, Retry: provider.DefaultRetryPolicy(),
	}, logger))
	add("anthropic", c.AnthropicAPIKey, provider.NewAnthropic(provider.Config{
		BaseURL: c.AnthropicBaseURL, APIKey: c.AnthropicAPIKey, Retry: provider.DefaultRetryPolicy(),
	}, logger))
	add("openrouter", c.OpenRouterAPIKey, provider.NewOpenAI(provider.Config{
		BaseURL: c.OpenRouterBaseURL, APIKey: c.OpenRouterAPIKey, Retry: provider.DefaultRetryPolicy(),
	}, logger))
	return reg
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves until a signal arrives or one of the components fails.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	updates, unsubscribe := app.bus.Subscribe(eventBuffer)
	defer unsubscribe()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.sync.Run(ctx, updates) })
	g.Go(func() error { return app.grpcSrv.Run(ctx) })
	g.Go(func() error { return app.httpSrv.Run(ctx) })

	err := g.Wait()
	if cerr := app.db.Close(); cerr != nil {
		app.logger.Error(context.WithoutCancel(ctx), "db close", "error", cerr)
	}
	if err != nil {
		app.logger.Error(context.WithoutCancel(ctx), "app stopped", "error", err)
	}
	return err
}
