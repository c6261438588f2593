// The worker binary runs the publish ticker and analytics sweep outside the
// API process, for deployments where the web dyno cannot be trusted to stay
// alive. It is safe to run alongside the server's in-process cron: both go
// through the same atomic claim.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	config "github.com/postlyhq/postly/configs"
	"github.com/postlyhq/postly/internal/engine"
	"github.com/postlyhq/postly/internal/models"
	"github.com/postlyhq/postly/internal/platform"
	"github.com/postlyhq/postly/internal/queue"
	"github.com/postlyhq/postly/internal/repository"
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
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	postRepo := repository.NewPostRepository(db)
	assocRepo := repository.NewAssociationRepository(db)
	channelRepo := repository.NewChannelRepository(db)
	mediaRepo := repository.NewPostMediaRepository(db)
	analyticsRepo := repository.NewAnalyticsRepository(db)

	registry := &platform.Registry{
		Facebook: platform.NewFacebookClient(cfg.FacebookGraphURL),
		Tiktok:   platform.NewTiktokClient(cfg.TiktokAPIBaseURL),
	}
	resolver := platform.NewMediaResolver(*cfg)

	pipeline := engine.NewPipeline(postRepo, assocRepo, channelRepo, mediaRepo, registry, resolver)
	ticker := engine.NewTicker(postRepo, pipeline, cfg.SelfTickInterval, cfg.PublishLockTimeout)
	refresher := engine.NewRefreshEngine(analyticsRepo, registry, cfg.AnalyticsCooldown, cfg.AnalyticsBatchSize, cfg.MaxRefreshBatches)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Println("Booting publish worker ...")
	ticker.Start(ctx)
	defer ticker.Stop()

	c := cron.New()
	c.AddFunc("@every 6h0m0s", func() {
		if _, err := refresher.RefreshAll(context.Background(), models.JobScope{}, nil); err != nil {
			log.Printf("analytics sweep failed: %v", err)
		}
	})

	if cfg.GoogleSheetID != "" {
		sheetSource, err := platform.NewSheetsClient(ctx, cfg.GoogleCredentialsFile, cfg.GoogleSheetID, cfg.GoogleSheetName, cfg.SheetTimezone)
		if err != nil {
			log.Printf("Sheet ingestion disabled: %v", err)
		} else {
			sheetSync := engine.NewSheetSync(sheetSource, postRepo, assocRepo, channelRepo, mediaRepo)
			c.AddFunc(fmt.Sprintf("@every %s", cfg.SheetSyncInterval), func() {
				synced, failed, err := sheetSync.Run(context.Background())
				if err != nil {
					log.Printf("sheet sync failed: %v", err)
					return
				}
				if synced > 0 || failed > 0 {
					log.Printf("sheet sync: %d rows synced, %d rejected", synced, failed)
				}
			})
			log.Println("Sheet ingestion enabled")
		}
	}

	c.Start()
	defer c.Stop()

	// The worker also serves queued one-shot publish tasks so delayed posts
	// fire on time even when the API process is down.
	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
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

	log.Println("Worker is running; waiting for signals")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("Worker shutting down ...")
}
