package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"progression-gate/config"
	"progression-gate/handlers"
	"progression-gate/middleware"
	"progression-gate/services"
	"progression-gate/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.OpenPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database: ", err)
	}
	if err := storage.Migrate(db); err != nil {
		log.Fatal("failed to migrate database: ", err)
	}
	if err := storage.SeedBadges(ctx, db); err != nil {
		log.Fatal("failed to seed badges: ", err)
	}

	var counter storage.DailyCounter = storage.NewGormDailyCounter(db)
	if cfg.RedisURL != "" {
		rdb, err := storage.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal("failed to connect to redis: ", err)
		}
		defer rdb.Close()
		counter = storage.NewRedisDailyCounter(rdb)
		log.Println("✅ Daily EXP caps tracked in Redis")
	} else {
		log.Println("✅ Daily EXP caps tracked in Postgres")
	}

	var icons handlers.IconStore
	if cfg.R2.Enabled() {
		uploader, err := storage.NewIconUploader(ctx, cfg.R2)
		if err != nil {
			log.Fatal("failed to initialize R2 client: ", err)
		}
		icons = uploader
	} else {
		log.Println("⚠️  R2 not configured, badge icon upload disabled")
	}

	invitationService := services.NewInvitationService(storage.NewInvitationStore(db))
	badgeService := services.NewBadgeService(db)
	progressionService := services.NewProgressionService(db, counter, badgeService, loc)

	maintenance := &services.Maintenance{
		Progression:   progressionService,
		Invitations:   invitationService,
		RetentionDays: cfg.DailyGrantRetentionDays,
	}
	if _, err := maintenance.Start(ctx); err != nil {
		log.Fatal("failed to start scheduler: ", err)
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 4 * 1024 * 1024, // badge icons are the largest bodies
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed, no exceptions
	app.Use(middleware.GatewayAuthMiddleware(cfg.GatewayToken))

	allowedOrigins := strings.Join(cfg.AllowedOrigins, ",")
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.SetupRoutes(app, handlers.Deps{
		Invitations: invitationService,
		Progression: progressionService,
		Badges:      badgeService,
		Icons:       icons,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", cfg.Port)
	log.Printf("✅ Day boundaries evaluated in %s", loc)
	log.Printf("✅ CORS configured for origins: %s", allowedOrigins)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.Shutdown(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
