package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"game-reward-ledger/config"
	"game-reward-ledger/handlers"
	"game-reward-ledger/ledger"
	"game-reward-ledger/middleware"
	"game-reward-ledger/services"
	"game-reward-ledger/utils"
	"game-reward-ledger/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	store, err := openStore(cfg, clock)
	if err != nil {
		log.Fatal("failed to open ledger store: ", err)
	}

	access, err := newAccessControl(ctx, cfg)
	if err != nil {
		log.Fatal("failed to set up access control: ", err)
	}

	var minter services.TokenMinter
	if cfg.TokenServiceURL != "" {
		minter = services.NewHTTPTokenMinter(cfg.TokenServiceURL, cfg.MinterJWTSecret)
		log.Printf("🪙 Minting through token service at %s", cfg.TokenServiceURL)
	} else {
		minter = services.NewLocalTokenMinter()
		log.Println("⚠️  TOKEN_SERVICE_URL not set, using in-process token minter")
	}

	bus := services.NewEventBus(128)
	notifier := services.MultiNotifier{services.LogNotifier{}, bus}

	configService := services.NewRewardConfigService(store, access, clock)
	if _, err := configService.EnsureDefault(ctx, cfg.DefaultReward); err != nil {
		log.Fatal("failed to initialise reward config: ", err)
	}

	claims := services.NewClaimProcessor(store, minter, notifier, clock)
	claims.RetryConcurrency = cfg.MintRetryWorkers
	handler := &handlers.LedgerHandler{
		Submissions: services.NewSubmissionGateway(store, notifier, clock),
		Verifier:    services.NewVerificationAuthority(store, access, notifier, clock),
		Claims:      claims,
		Queries:     services.NewQueryService(store),
		Config:      configService,
		Events:      bus,
	}

	scheduler, err := workers.NewScheduler(ctx, clock)
	if err != nil {
		log.Fatal("failed to create scheduler: ", err)
	}
	if err := scheduler.AddMintRetryJob(claims, cfg.MintRetryInterval, cfg.MintRetryBatch); err != nil {
		log.Fatal("failed to schedule mint retries: ", err)
	}
	if cfg.R2.Enabled() {
		uploader, err := utils.NewR2Uploader(ctx, cfg.R2.AccountID, cfg.R2.AccessKeyID, cfg.R2.AccessKeySecret, cfg.R2.Bucket)
		if err != nil {
			log.Fatal("failed to initialize R2 client: ", err)
		}
		exporter := workers.NewAuditExporter(store, uploader, clock)
		if err := scheduler.AddAuditExportJob(exporter, cfg.AuditExportInterval); err != nil {
			log.Fatal("failed to schedule audit export: ", err)
		}
		log.Printf("✅ Audit export to R2 bucket %s every %s", cfg.R2.Bucket, cfg.AuditExportInterval)
	} else {
		log.Println("⚠️  R2 not configured, audit export disabled")
	}
	scheduler.Start()

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed
	app.Use(middleware.GatewayAuthMiddleware(cfg.GatewayToken))

	allowedOrigins := strings.Join(cfg.AllowedOriginsList(), ",")
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.SetupLedgerRoutes(app, handler)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Reward ledger running on http://localhost:%s", cfg.Port)
	log.Printf("✅ Mint retry every %s (batch %d)", cfg.MintRetryInterval, cfg.MintRetryBatch)
	log.Printf("✅ CORS configured for origins: %s", allowedOrigins)

	<-ctx.Done()
	log.Println("Shutting down server...")

	if err := scheduler.Shutdown(); err != nil {
		log.Printf("Scheduler shutdown error: %v", err)
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

func openStore(cfg *config.Config, clock clockwork.Clock) (ledger.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Println("⚠️  DATABASE_URL not set, ledger is in-memory and will not survive restarts")
		return ledger.NewMemoryStore(clock), nil
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	store := ledger.NewGormStore(db)
	if err := store.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Println("✅ Ledger backed by postgres")
	return store, nil
}

func newAccessControl(ctx context.Context, cfg *config.Config) (services.AccessControl, error) {
	if !cfg.Redis.Enabled() {
		log.Printf("🔑 Static access control: %d verifier(s), %d config admin(s)",
			len(cfg.VerifierIDs), len(cfg.ConfigAdminIDs))
		return services.NewStaticAccessControl(map[string][]string{
			services.CapabilityVerifier:    cfg.VerifierIDs,
			services.CapabilityConfigAdmin: cfg.ConfigAdminIDs,
		}), nil
	}

	addr := fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port)
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Printf("[Redis] Connected to %s (DB: %d)", addr, cfg.Redis.DB)

	ac := services.NewRedisAccessControl(rdb)
	// Env lists seed the sets so a fresh deployment has at least one admin.
	if err := ac.Grant(ctx, services.CapabilityVerifier, cfg.VerifierIDs...); err != nil {
		return nil, err
	}
	if err := ac.Grant(ctx, services.CapabilityConfigAdmin, cfg.ConfigAdminIDs...); err != nil {
		return nil, err
	}
	return ac, nil
}
