package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"referral-engine/config"
	"referral-engine/handlers"
	"referral-engine/middleware"
	"referral-engine/repository"
	"referral-engine/services"
	"referral-engine/utils"
	"referral-engine/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	log := utils.Log

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("❌ failed to load configuration")
	}
	utils.SetLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		log.WithError(err).Fatal("❌ failed to connect to database")
	}
	if err := db.AutoMigrate(repository.Models()...); err != nil {
		log.WithError(err).Fatal("❌ failed to migrate database")
	}
	repos := repository.NewRepositories(db)

	attribution, err := newAttributionStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("❌ failed to set up customer attribution")
	}

	notifier, closeNotifier, err := newNotifier(cfg)
	if err != nil {
		log.WithError(err).Fatal("❌ failed to set up notifier")
	}
	defer closeNotifier()

	var archive handlers.WebhookArchiver
	if cfg.ArchiveWebhooks {
		a, err := utils.NewWebhookArchive(ctx, utils.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			Bucket:          cfg.R2Bucket,
		})
		if err != nil {
			log.WithError(err).Fatal("❌ failed to initialize R2 archive")
		}
		archive = a
	}

	opts := services.AttributionOptions{
		Lookup:             attribution,
		MetafieldNamespace: cfg.MetafieldNamespace,
		MetafieldTimeout:   cfg.MetafieldTimeout,
		Window:             cfg.AttributionWindow,
		Now:                time.Now,
	}
	resolver := services.NewAttributionResolver(repos.Referrals, opts)
	tracker := services.NewClickTracker(repos.Referrals, cfg.DefaultRedirectURL, cfg.CookieName, cfg.CookieTTL)
	conversions := services.NewConversionService(repos, resolver, notifier, cfg.NotifyTimeout)
	referrals := services.NewReferralService(repos, services.NewCodeGenerator(), notifier, cfg.AppURL, cfg.NotifyTimeout)

	expiry := workers.NewExpiryWorker(repos.Referrals, cfg.ExpirySweepInterval)
	if err := expiry.Start(ctx); err != nil {
		log.WithError(err).Fatal("❌ failed to start expiry worker")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 2 * 1024 * 1024,
	})
	app.Use(middleware.RequestLogger())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Origins(), ","),
		AllowMethods: "GET,POST,PATCH,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Service-Token, X-Shop-Domain",
		MaxAge:       86400,
	}))

	handlers.SetupSystemRoutes(app)
	handlers.SetupTrackRoutes(app, tracker)
	handlers.SetupWebhookRoutes(app, cfg.ShopifyAPISecret, &handlers.WebhookHandler{
		Conversions: conversions,
		Deliveries:  repos.Deliveries,
		Archive:     archive,
	})
	storefront := &handlers.StorefrontHandler{Referrals: referrals, Attribution: attribution}
	handlers.SetupStorefrontRoutes(app, middleware.AppProxyAuth(cfg.ShopifyAPISecret, cfg.AppProxyMaxAge), storefront)
	handlers.SetupAdminRoutes(app, cfg.ServiceToken, &handlers.AdminHandler{
		Referrals:   referrals,
		Conversions: conversions,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			log.WithError(err).Error("❌ server error")
			stop()
		}
	}()

	log.WithField("addr", cfg.HTTPAddr).Info("✅ referral engine running")
	log.WithField("origins", cfg.Origins()).Info("✅ CORS configured")

	<-ctx.Done()
	log.Info("🛑 shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.WithError(err).Warn("⚠️ graceful shutdown failed")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// newAttributionStore returns nil when customer codes are only read from the
// order payload.
func newAttributionStore(ctx context.Context, cfg config.Config) (services.CustomerAttributionStore, error) {
	switch cfg.AttributionDriver {
	case "redis":
		client, err := services.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		ttl := cfg.AttributionWindow
		if ttl <= 0 {
			ttl = cfg.CookieTTL
		}
		return services.NewRedisAttributionStore(client, ttl), nil
	case "shopify":
		return services.NewShopifyMetafieldClient(cfg.ShopifyAdminToken, cfg.ShopifyAPIVersion, cfg.MetafieldNamespace, cfg.MetafieldTimeout), nil
	default:
		return nil, nil
	}
}

func newNotifier(cfg config.Config) (services.Notifier, func(), error) {
	noop := func() {}
	switch cfg.NotifierDriver {
	case "http":
		return services.NewHTTPNotifier(cfg.NotificationURL, cfg.NotificationAuth, cfg.NotifyTimeout), noop, nil
	case "kafka":
		n, err := services.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, noop, err
		}
		return n, func() {
			if err := n.Close(); err != nil {
				utils.Log.WithError(err).Warn("⚠️ kafka writer close failed")
			}
		}, nil
	default:
		return services.LogNotifier{}, noop, nil
	}
}
