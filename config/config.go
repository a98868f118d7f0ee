package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"yardflow/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
	envLoaded bool
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type Config struct {
	Environment    string      `json:"environment"`
	ServerPort     string      `json:"server_port"`
	DBHost         string      `json:"db_host"`
	DBPort         string      `json:"db_port"`
	DBUser         string      `json:"db_user"`
	DBPassword     string      `json:"-"`
	DBName         string      `json:"db_name"`
	DBSSLMode      string      `json:"db_ssl_mode"`
	DBMaxIdleConns int         `json:"db_max_idle_conns"`
	DBMaxOpenConns int         `json:"db_max_open_conns"`
	Redis          RedisConfig `json:"redis"`

	JWTSecret string `json:"-"`
	SentryDSN string `json:"-"`

	// CORSAllowOrigins is the comma-separated origin list admitted by the
	// CORS middleware.
	CORSAllowOrigins string `json:"cors_allow_origins"`

	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"-"`
	FromEmail    string `json:"from_email"`
	FromName     string `json:"from_name"`

	// PostalAddress is the physical mailing address injected into every
	// outreach email in place of the {{sender_address}} marker.
	PostalAddress string `json:"postal_address"`

	// TrackingBaseURL is the public URL tracking pixels and click
	// redirects point back to.
	TrackingBaseURL string `json:"tracking_base_url"`

	// Outreach worker settings
	WorkerCount        int `json:"worker_count"`
	WorkerPollSeconds  int `json:"worker_poll_seconds"`
	JobMaxAttempts     int `json:"job_max_attempts"`
	SendMaxPerWindow   int `json:"send_max_per_window"`
	SendWindowSeconds  int `json:"send_window_seconds"`
	SyncLockTTLMinutes int `json:"sync_lock_ttl_minutes"`
	RateLimitEnroll    int `json:"rate_limit_enroll"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	envLoaded = true
}

func LoadConfig() error {
	AppConfig = Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		ServerPort:     getEnv("SERVER_PORT", "5000"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "yardflow"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "true") == "true",
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},

		JWTSecret: getEnv("JWT_SECRET", ""),
		SentryDSN: getEnv("SENTRY_DSN", ""),

		CORSAllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000"),

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		FromEmail:    getEnv("FROM_EMAIL", "outreach@yardflow.io"),
		FromName:     getEnv("FROM_NAME", "YardFlow Outreach"),

		PostalAddress: getEnv("POSTAL_ADDRESS", ""),

		TrackingBaseURL: getEnv("TRACKING_BASE_URL", "http://localhost:5000"),

		WorkerCount:        getEnvAsInt("OUTREACH_WORKER_COUNT", 5),
		WorkerPollSeconds:  getEnvAsInt("OUTREACH_POLL_SECONDS", 5),
		JobMaxAttempts:     getEnvAsInt("OUTREACH_JOB_MAX_ATTEMPTS", 3),
		SendMaxPerWindow:   getEnvAsInt("SEND_MAX_PER_WINDOW", 30),
		SendWindowSeconds:  getEnvAsInt("SEND_WINDOW_SECONDS", 60),
		SyncLockTTLMinutes: getEnvAsInt("SYNC_LOCK_TTL_MINUTES", 10),
		RateLimitEnroll:    getEnvAsInt("RATE_LIMIT_ENROLL", 60),
	}

	// Validate required configurations
	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if AppConfig.Environment == "production" {
		if AppConfig.SMTPUsername == "" || AppConfig.SMTPPassword == "" {
			return fmt.Errorf("SMTP credentials are required in production")
		}
		if AppConfig.PostalAddress == "" {
			return fmt.Errorf("POSTAL_ADDRESS is required in production (CAN-SPAM)")
		}
	}

	logConfig()
	return nil
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("✅ Successfully connected to the database")
	log.Println("🔄 Starting database migration...")
	if err := migrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("✅ Database migration completed")
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		log.Printf("⚠️ Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	log.Println("🔧 Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("Redis: enabled=%t addr=%s", AppConfig.Redis.Enabled, AppConfig.Redis.Address)
	log.Printf("Outreach workers: %d (poll every %ds, %d attempts per job)",
		AppConfig.WorkerCount,
		AppConfig.WorkerPollSeconds,
		AppConfig.JobMaxAttempts)
}

func migrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Account{},
		&models.Contact{},
		&models.Sequence{},
		&models.SequenceStep{},
		&models.Enrollment{},
		&models.StepDelivery{},
		&models.SyncLock{},
	)
}
