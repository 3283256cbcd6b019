package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"referral-reward-system/handlers"
	"referral-reward-system/middleware"
	"referral-reward-system/models"
	"referral-reward-system/services"
	"referral-reward-system/utils"
	"referral-reward-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 256 * 1024 * 1024, // uploaded log files can be large
	})

	// Every route is admin-facing; the service token is enforced globally.
	app.Use(middleware.ServiceAuthMiddleware())

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:3000"
	}
	origins := strings.Split(allowedOrigins, ",")
	for i, o := range origins {
		origins[i] = strings.TrimSpace(o)
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(origins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-Service-Token",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := models.Migrate(db); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	// Archive diagnostics are optional; the live log file works without R2.
	if os.Getenv("R2_LOG_BUCKET_NAME") != "" {
		if err := utils.InitLogStore(); err != nil {
			log.Fatal("failed to initialize log store:", err)
		}
		log.Println("✅ Log archive store configured")
	}

	cfg := services.LoadReferralConfig()

	contestService := services.NewContestService(db)
	referralService := services.NewReferralService(db, cfg)
	referralService.Contests = contestService

	extractor := services.NewLogExtractor(os.Getenv("BOT_LOG_PATH"))
	diagnosticService := services.NewDiagnosticService(db, referralService, extractor)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The gocron scheduler and the ticker poller cover the same job; pick one
	// per deployment via env.
	if os.Getenv("USE_SUMMARY_POLLER") == "true" {
		go workers.PollSummaries(ctx, contestService, 1*time.Minute)
	} else {
		contestService.StartSummaryScheduler()
	}

	handlers.SetupReferralRoutes(app, referralService)
	handlers.SetupContestRoutes(app, contestService)
	handlers.SetupDiagnosticsRoutes(app, diagnosticService)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Println("✅ Contest summary scheduling running")
	log.Println("✅ ServiceAuthMiddleware enforced globally")

	<-ctx.Done()
	log.Println("Shutting down server...")
	_ = app.ShutdownWithTimeout(10 * time.Second)
}
