// Package appstate wires the platform's components into the
// process-singleton AppState and its boot sequence: every subsystem is
// constructed once at startup and shared handles are handed to the HTTP
// layer.
package appstate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/botserver/internal/anonsession"
	"github.com/nextlevelbuilder/botserver/internal/botdb"
	"github.com/nextlevelbuilder/botserver/internal/bus"
	"github.com/nextlevelbuilder/botserver/internal/config"
	"github.com/nextlevelbuilder/botserver/internal/crawler"
	"github.com/nextlevelbuilder/botserver/internal/memmonitor"
	"github.com/nextlevelbuilder/botserver/internal/quota"
	"github.com/nextlevelbuilder/botserver/internal/render"
	"github.com/nextlevelbuilder/botserver/internal/retrieval"
	"github.com/nextlevelbuilder/botserver/internal/scheduler"
	"github.com/nextlevelbuilder/botserver/internal/secrets"
	"github.com/nextlevelbuilder/botserver/internal/tlsconfig"
	"github.com/nextlevelbuilder/botserver/internal/upgrade"
)

// AppState is the process singleton holding the main pool, the
// bot-database registry, a cache client, an object-storage client, a
// broadcast bus for attendant notifications, the secrets store, and the
// long-running subsystems started at boot.
type AppState struct {
	Config *config.Config
	Logger *slog.Logger

	MainDB   *sql.DB
	BotDB    *botdb.Registry
	Cache    *redis.Client
	Objects  *S3ObjectStore
	Bus      *bus.MessageBus
	Secrets  *secrets.SecretsStore
	TLS      *tlsconfig.Registry
	Sessions   *anonsession.Store
	Migrations *anonsession.MigrationService
	Index      *IndexRegistry

	Quota         *quota.Manager
	QuotaMW       *quota.Middleware
	Memory        *memmonitor.Monitor
	Scheduler     *scheduler.Coordinator
	Folders       *scheduler.FolderWatcher
	RenderWorkers []*render.Worker
	Crawl         *CrawlRunner

	cancel context.CancelFunc
}

// Boot runs the startup sequence - TLS bundles, main pool, bot DB
// registry sync, memory monitor, scheduler, render worker, crawler, quota
// middleware (mounting the HTTP router is left to the caller) - returning
// a fully wired AppState with its background
// subsystems already started (on goroutines tied to the returned
// context's lifetime via Shutdown).
func Boot(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*AppState, error) {
	if logger == nil {
		logger = slog.Default()
	}
	runCtx, cancel := context.WithCancel(ctx)
	as := &AppState{Config: cfg, Logger: logger, cancel: cancel}

	// 1. Load TLS bundles.
	as.TLS = tlsconfig.NewRegistry()
	if cfg.TLS.Enabled {
		for _, svc := range cfg.TLS.Services {
			if svc.Mode == "disabled" {
				continue
			}
			bundle := tlsconfig.DefaultBundle(svc.Name, "certs")
			bundle.RequireClientCert = svc.Mode == "mtls"
			if svc.Mode != "mtls" {
				// Plain TLS: no client identity, and no CA to verify one.
				bundle.ClientCertPath = ""
				bundle.ClientKeyPath = ""
				bundle.CACertPath = ""
			}
			if svc.CertFile != "" {
				bundle.CertPath = svc.CertFile
			}
			if svc.KeyFile != "" {
				bundle.KeyPath = svc.KeyFile
			}
			if svc.CAFile != "" {
				bundle.CACertPath = svc.CAFile
			}
			if err := as.TLS.Load(bundle); err != nil {
				cancel()
				return nil, fmt.Errorf("appstate: load tls bundle for %s: %w", svc.Name, err)
			}
		}
	}

	// 2. Build main pool.
	if cfg.Database.Mode == "managed" && cfg.Database.PostgresDSN == "" {
		cancel()
		return nil, fmt.Errorf("appstate: managed mode requires the BOTSERVER_POSTGRES_DSN environment variable")
	}
	driver := "sqlite"
	dsn := cfg.Database.PostgresDSN
	postgres := cfg.IsManagedMode()
	if postgres {
		driver = "pgx"
	} else if dsn == "" {
		dsn = "file:botserver_main.sqlite?cache=shared"
	}
	mainDB, err := sql.Open(driver, dsn)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("appstate: open main db: %w", err)
	}
	as.MainDB = mainDB
	if postgres {
		// Managed mode: migrations are an operator step (`migrate up`);
		// refuse to run against a missing or stale schema.
		if err := upgrade.Verify(mainDB); err != nil {
			cancel()
			mainDB.Close()
			return nil, fmt.Errorf("appstate: %w", err)
		}
	} else {
		// Standalone mode: the gateway owns its SQLite file, so it
		// migrates it itself before anything queries it.
		if err := bootstrapStandaloneSchema(runCtx, mainDB); err != nil {
			cancel()
			mainDB.Close()
			return nil, fmt.Errorf("appstate: bootstrap standalone schema: %w", err)
		}
		if err := upgrade.Verify(mainDB); err != nil {
			cancel()
			mainDB.Close()
			return nil, fmt.Errorf("appstate: %w", err)
		}
	}

	// 3. Build bot DB registry; run sync_all_bot_databases().
	mode := botdb.ModeStandaloneSQLite
	if postgres {
		mode = botdb.ModeManagedPostgres
	}
	main := NewSQLMainDB(mainDB, postgres)
	registry, err := botdb.New(mode, main, dsn, "./bot-databases")
	if err != nil {
		cancel()
		return nil, fmt.Errorf("appstate: build bot db registry: %w", err)
	}
	as.BotDB = registry
	result := registry.SyncAllBotDatabases(runCtx)
	logger.Info("appstate: bot database sync complete", "created", result.Created, "verified", result.Verified, "errors", len(result.Errors))

	as.Cache = redis.NewClient(&redis.Options{Addr: cfg.Render.RedisAddr})
	objects, err := NewS3ObjectStore(runCtx, cfg.Gateway)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("appstate: build object store: %w", err)
	}
	as.Objects = objects

	as.Secrets = secrets.NewSecretsStore()
	as.Secrets.PutString("postgres_dsn", cfg.Database.PostgresDSN)
	as.Secrets.PutString("gateway_token", cfg.Gateway.Token)
	as.Secrets.PutString("s3_access_key", cfg.Gateway.S3AccessKey)
	as.Secrets.PutString("s3_secret_key", cfg.Gateway.S3SecretKey)
	as.Secrets.PutString("telegram_token", cfg.Channels.Telegram.Token)
	as.Secrets.PutString("whatsapp_access_token", cfg.Channels.WhatsApp.AccessToken)
	as.Bus = bus.NewMessageBus(256)

	sessCfg := anonsession.Config{
		RequireFingerprint:    cfg.Sessions.RequireFingerprint,
		MaxSessionsPerIP:      cfg.Sessions.MaxSessionsPerIP,
		TTL:                   30 * time.Minute,
		MaxMessagesPerSession: cfg.Sessions.MaxMessagesPerSession,
		UpgradeEnabled:        cfg.Sessions.UpgradeEnabled == nil || *cfg.Sessions.UpgradeEnabled,
	}
	if d, err := time.ParseDuration(cfg.Sessions.TTL); err == nil && d > 0 {
		sessCfg.TTL = d
	}
	as.Sessions = anonsession.NewStore(sessCfg)
	as.Migrations = anonsession.NewMigrationService(as.Sessions, NewSQLConversationTarget(mainDB, postgres))

	cleanupInterval := 5 * time.Minute
	if d, err := time.ParseDuration(cfg.Sessions.CleanupInterval); err == nil && d > 0 {
		cleanupInterval = d
	}
	go as.Sessions.RunCleanupLoop(cleanupInterval, runCtx.Done())

	as.Index = NewIndexRegistry(retrieval.FromBotConfig(nil, logger))

	// 4. Start memory monitor.
	memCfg := memmonitor.DefaultConfig()
	if d, err := time.ParseDuration(cfg.Memory.SampleInterval); err == nil && d > 0 {
		memCfg.Interval = d
	}
	if cfg.Memory.RSSWarnBytes > 0 {
		memCfg.WarnThresholdMB = uint64(cfg.Memory.RSSWarnBytes / (1024 * 1024))
	}
	if cfg.Memory.LeakWindow > 0 {
		memCfg.ComponentHistory = cfg.Memory.LeakWindow
	}
	meter := otel.Meter("botserver/memmonitor")
	monitor, err := memmonitor.New(memCfg, meter, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("appstate: build memory monitor: %w", err)
	}
	as.Memory = monitor
	go monitor.Run(runCtx)

	// 5. Start automation scheduler and render worker.
	scriptRunner := &BridgeRunner{
		Main:      main,
		Store:     objects,
		Registrar: &AutomationStore{DB: mainDB, Postgres: postgres},
	}

	browser := rod.New()
	_ = browser.Connect() // best-effort; crawler falls back to the static fetcher on failure
	crawlRunner := &CrawlRunner{
		DB:       mainDB,
		Postgres: postgres,
		Renderer: crawler.NewRodRenderer(browser),
		Index:    as.Index,
		Logger:   logger,
	}
	as.Crawl = crawlRunner

	parallelism := cfg.Scheduler.MaxConcurrent
	coordinator := scheduler.NewCoordinator(scriptRunner, crawlRunner, scheduler.NewMockEmailPoller(), parallelism, logger)
	coordinator.SetTablePoller(NewTableWatcher(registry))
	as.Scheduler = coordinator
	tickInterval := 30 * time.Second
	if d, err := time.ParseDuration(cfg.Scheduler.TickInterval); err == nil && d > 0 {
		tickInterval = d
	}

	var scan func(context.Context)
	if cfg.Scheduler.FolderWatchDir != "" {
		if fw, err := scheduler.NewFolderWatcher(scriptRunner, logger); err == nil {
			as.Folders = fw
			go fw.Run(runCtx)
		} else {
			logger.Warn("appstate: folder watcher unavailable", "error", err)
		}
		scanner := &WebsiteScanner{DB: mainDB, Postgres: postgres, Root: cfg.Scheduler.FolderWatchDir, Logger: logger}
		scan = scanner.Scan
	}
	go runSchedulerLoop(runCtx, coordinator, tickInterval, scan)

	maxRenderWorkers := cfg.Render.MaxConcurrent
	if maxRenderWorkers <= 0 {
		maxRenderWorkers = 2
	}
	queue := render.NewRedisQueue(as.Cache, cfg.Render.QueueName)
	publisher := render.NewRedisPublisher(as.Cache, cfg.Render.QueueName+":progress")
	for i := 0; i < maxRenderWorkers; i++ {
		w := render.NewWorker(queue, publisher, noopProgressStore{}, objects, cfg.Render.FFmpegPath, cfg.Render.WorkDir)
		as.RenderWorkers = append(as.RenderWorkers, w)
		go w.Run(runCtx)
	}

	// 6. Start crawler service — driven by the scheduler's tick, no
	// separate loop; crawlRunner is already wired as the coordinator's
	// CrawlDispatcher above.

	// 7. Mount HTTP router with quota middleware in the chain — left
	// to the caller (internal/gateway), which needs AppState fully built
	// first to construct its PlanLookup and route handlers.
	as.Quota = quota.NewManager(time.Duration(cfg.Quota.GracePeriodHours) * time.Hour)
	resolver := NewOrgPlanResolver(mainDB, postgres)
	lookup := NewPlanLookup(resolver, cfg)
	as.QuotaMW = quota.NewMiddleware(as.Quota, lookup, cfg.Quota.RateLimitRPS, cfg.Quota.RateLimitBurst)

	return as, nil
}

// Shutdown cancels every background goroutine Boot started, wipes held
// secrets, and closes the main pool.
func (as *AppState) Shutdown() error {
	if as.cancel != nil {
		as.cancel()
	}
	if as.Secrets != nil {
		as.Secrets.WipeAll()
	}
	if as.BotDB != nil {
		as.BotDB.ClearAllPoolCaches()
	}
	if as.MainDB != nil {
		return as.MainDB.Close()
	}
	return nil
}

func runSchedulerLoop(ctx context.Context, c *scheduler.Coordinator, interval time.Duration, scan func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if scan != nil {
				scan(ctx)
			}
			c.Tick(ctx)
		}
	}
}

// noopProgressStore is used when no separate progress-row persistence is
// configured; render progress still reaches operators via the pub-sub
// broadcast (render.Publisher), just not a durable row.
type noopProgressStore struct{}

func (noopProgressStore) UpdateProgress(ctx context.Context, exportID string, p render.Progress) error {
	return nil
}
