package config

import (
	"os"
	"strconv"
	"time"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
}

type Config struct {
	FacebookGraphURL  string
	TiktokAPIBaseURL  string
	PostgresURI       string
	RedisURI          string
	FrontendURL       string
	R2                R2
	SecretKey         string
	CookieName        string
	ListenAddr        string
	WorkerConcurrency int

	// Google Sheets ingestion; disabled when GoogleSheetID is empty.
	GoogleCredentialsFile string
	GoogleSheetID         string
	GoogleSheetName       string
	SheetTimezone         string
	SheetSyncInterval     time.Duration

	// Engine tuning
	AnalyticsCooldown    time.Duration
	AnalyticsBatchSize   int
	AutoRefreshThreshold int
	SelfTickInterval     time.Duration
	PublishLockTimeout   time.Duration
	MaxImportPosts       int
	MaxRefreshBatches    int
	JobWorkers           int
}

func LoadConfig() *Config {
	return &Config{
		FacebookGraphURL: getEnv("FACEBOOK_GRAPH_URL", "https://graph.facebook.com/v18.0"),
		TiktokAPIBaseURL: getEnv("TIKTOK_API_BASE_URL", "https://open.tiktokapis.com/v2"),
		PostgresURI:      getEnv("POSTGRES_URI", ""),
		RedisURI:         getEnv("REDIS_URI", ""),
		FrontendURL:      getEnv("FRONTEND_URL", "http://localhost:5173"),
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
		},
		SecretKey:         getEnv("SECRET_KEY", ""),
		CookieName:        getEnv("COOKIE_NAME", "postly_session"),
		ListenAddr:        getEnv("LISTEN_ADDR", ":3000"),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 10),

		GoogleCredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", "google_credentials.json"),
		GoogleSheetID:         getEnv("GOOGLE_SHEET_ID", ""),
		GoogleSheetName:       getEnv("GOOGLE_SHEET_NAME", "Sheet1"),
		SheetTimezone:         getEnv("SHEET_TIMEZONE", "Asia/Ho_Chi_Minh"),
		SheetSyncInterval:     time.Duration(getEnvInt("SHEET_SYNC_INTERVAL_MINUTES", 2)) * time.Minute,

		AnalyticsCooldown:    time.Duration(getEnvInt("ANALYTICS_COOLDOWN_HOURS", 1)) * time.Hour,
		AnalyticsBatchSize:   getEnvInt("ANALYTICS_BATCH_SIZE", 25),
		AutoRefreshThreshold: getEnvInt("ANALYTICS_AUTO_REFRESH_THRESHOLD", 1),
		SelfTickInterval:     time.Duration(getEnvInt("SELF_TICK_INTERVAL_SECONDS", 60)) * time.Second,
		PublishLockTimeout:   time.Duration(getEnvInt("PUBLISH_LOCK_TIMEOUT_MINUTES", 5)) * time.Minute,
		MaxImportPosts:       getEnvInt("MAX_IMPORT_POSTS", 200),
		MaxRefreshBatches:    getEnvInt("MAX_REFRESH_BATCHES", 20),
		JobWorkers:           getEnvInt("JOB_WORKERS", 4),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
