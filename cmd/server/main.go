package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	config "github.com/postlyhq/postly/configs"
	"github.com/postlyhq/postly/internal/api/handlers"
	"github.com/postlyhq/postly/internal/api/middleware"
	"github.com/postlyhq/postly/internal/engine"
	"github.com/postlyhq/postly/internal/models"
	"github.com/postlyhq/postly/internal/platform"
	"github.com/postlyhq/postly/internal/queue"
	"github.com/postlyhq/postly/internal/repository"
	"github.com/postlyhq/postly/internal/service"
	"github.com/robfig/cron"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	postRepo := repository.NewPostRepository(db)
	assocRepo := repository.NewAssociationRepository(db)
	channelRepo := repository.NewChannelRepository(db)
	mediaRepo := repository.NewPostMediaRepository(db)
	analyticsRepo := repository.NewAnalyticsRepository(db)
	importJobRepo := repository.NewImportJobRepository(db)
	refreshJobRepo := repository.NewRefreshJobRepository(db)

	facebookClient := platform.NewFacebookClient(cfg.FacebookGraphURL)
	registry := &platform.Registry{
		Facebook: facebookClient,
		Tiktok:   platform.NewTiktokClient(cfg.TiktokAPIBaseURL),
	}
	resolver := platform.NewMediaResolver(*cfg)

	pipeline := engine.NewPipeline(postRepo, assocRepo, channelRepo, mediaRepo, registry, resolver)
	ticker := engine.NewTicker(postRepo, pipeline, cfg.SelfTickInterval, cfg.PublishLockTimeout)
	refresher := engine.NewRefreshEngine(analyticsRepo, registry, cfg.AnalyticsCooldown, cfg.AnalyticsBatchSize, cfg.MaxRefreshBatches)
	importer := engine.NewImporter(postRepo, assocRepo, channelRepo, facebookClient, cfg.MaxImportPosts)

	pool := engine.NewWorkerPool(cfg.JobWorkers, 64)
	defer pool.Stop()

	orchestrator := engine.NewOrchestrator(importJobRepo, refreshJobRepo, importer, refresher, pool, cfg.AutoRefreshThreshold)

	postService := service.NewPostService(db, postRepo, assocRepo, channelRepo, mediaRepo, pipeline, cfg.PublishLockTimeout)

	authMiddleware := middleware.NewAuthMiddleware(*cfg)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	post := handlers.NewPostHandler(postService, client)
	api.Post("/posts/create", post.CreatePost)
	api.Get("/posts", post.ListPosts)
	api.Post("/posts/remove", post.RemovePost)
	api.Post("/posts/publish", post.PublishNow)
	api.Post("/posts/submit_approval", post.SubmitForApproval)
	api.Post("/posts/approve", post.ApprovePost)
	api.Post("/posts/reject", post.RejectPost)

	analytics := handlers.NewAnalyticsHandler(postRepo, assocRepo, analyticsRepo, orchestrator)
	api.Get("/analytics", analytics.GetPostAnalytics)

	jobs := handlers.NewJobHandler(orchestrator)
	api.Post("/jobs/import", jobs.EnqueueImport)
	api.Get("/jobs/import/latest", jobs.LatestImport)
	api.Get("/jobs/import/:id", jobs.ImportByID)
	api.Post("/jobs/refresh", jobs.EnqueueRefresh)
	api.Get("/jobs/refresh/latest", jobs.LatestRefresh)
	api.Get("/jobs/refresh/:id", jobs.RefreshByID)

	// In-process tick so the engine works without the external worker. Both
	// are safe to run at once; the claim decides who wins each post.
	c := cron.New()
	c.AddFunc(fmt.Sprintf("@every %ds", int(cfg.SelfTickInterval.Seconds())), func() {
		if _, err := ticker.Tick(context.Background()); err != nil {
			log.Printf("publish tick failed: %v", err)
		}
	})
	c.AddFunc("@every 6h0m0s", func() {
		if _, err := refresher.RefreshAll(context.Background(), models.JobScope{}, nil); err != nil {
			log.Printf("analytics sweep failed: %v", err)
		}
	})
	c.Start()
	defer c.Stop()

	queueW := queue.NewQueue(postRepo, pipeline, cfg.PublishLockTimeout)

	go func() {
		server := asynq.NewServer(redisConn, asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
		})

		mux := asynq.NewServeMux()
		mux.HandleFunc(queue.TaskTypePublishPost, queueW.HandlePublishPostTask)

		log.Println("Starting the Asynq server...")
		if err := server.Run(mux); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Printf("Server is running on %s", cfg.ListenAddr)

	gracefulShutdown(app, db)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, db *sql.DB) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	log.Println("Server shutdown complete.")
}
