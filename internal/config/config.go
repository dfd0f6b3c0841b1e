package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI string
	DBName   string
	Port     string
	GinMode  string

	CORSOrigins []string

	// Gemini generation + embeddings
	GeminiAPIKey    string
	GenerationModel string
	EmbeddingsModel string
	VectorDim       int
	EmbedBatchSize  int
	EmbedMaxRetries int
	EmbedBackoff    time.Duration
	EmbedTimeout    time.Duration
	GenerateTimeout time.Duration
	GenerateRPM     int

	// Chunking
	MaxChunkSize int
	ChunkOverlap int
	MinChunkSize int

	// Retrieval
	RetrievalTopK int

	// Conversation memory window
	MemoryMaxMessages int
	MemoryMaxChars    int

	// Ingestion
	UploadDir      string
	MaxFileSize    int64
	AllowedTypes   []string
	MaxScrapePages int
	ScrapeTimeout  time.Duration

	// Widget identity tokens (minted by the portal, verified here)
	WidgetTokenSecret string

	// Rate limiting
	RateLimitReqs   int
	RateLimitWindow int

	// Redis
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Worker
	WorkerConcurrency int

	// Sweeper
	SweepInterval      time.Duration
	ProcessingDeadline time.Duration

	// Telemetry
	OTLPEndpoint     string
	TelemetryEnabled bool
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017/rag_chatbot"),
		DBName:   getEnv("DB_NAME", "rag_chatbot"),
		Port:     getEnv("PORT", "8080"),
		GinMode:  getEnv("GIN_MODE", "debug"),

		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),

		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GenerationModel: getEnv("GENERATION_MODEL", "gemini-2.0-flash"),
		EmbeddingsModel: getEnv("EMBEDDINGS_MODEL", "text-embedding-004"),
		VectorDim:       getEnvInt("VECTOR_DIM", 768),
		EmbedBatchSize:  getEnvInt("EMBED_BATCH_SIZE", 100),
		EmbedMaxRetries: getEnvInt("EMBED_MAX_RETRIES", 3),
		EmbedBackoff:    getEnvDuration("EMBED_BACKOFF", 500*time.Millisecond),
		EmbedTimeout:    getEnvDuration("EMBED_TIMEOUT", 30*time.Second),
		GenerateTimeout: getEnvDuration("GENERATE_TIMEOUT", 60*time.Second),
		GenerateRPM:     getEnvInt("GENERATE_RPM", 60),

		MaxChunkSize: getEnvInt("MAX_CHUNK_SIZE", 1000),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 150),
		MinChunkSize: getEnvInt("MIN_CHUNK_SIZE", 100),

		RetrievalTopK: getEnvInt("RETRIEVAL_TOP_K", 5),

		MemoryMaxMessages: getEnvInt("MEMORY_MAX_MESSAGES", 10),
		MemoryMaxChars:    getEnvInt("MEMORY_MAX_CHARS", 8000),

		UploadDir:      getEnv("UPLOAD_DIR", "./uploads"),
		MaxFileSize:    getEnvInt64("MAX_FILE_SIZE", 20971520), // 20MB
		AllowedTypes:   strings.Split(getEnv("ALLOWED_FILE_TYPES", "application/pdf,text/plain,text/markdown,application/vnd.openxmlformats-officedocument.wordprocessingml.document"), ","),
		MaxScrapePages: getEnvInt("MAX_SCRAPE_PAGES", 50),
		ScrapeTimeout:  getEnvDuration("SCRAPE_TIMEOUT", 30*time.Second),

		WidgetTokenSecret: getEnv("WIDGET_TOKEN_SECRET", ""),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 10),

		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		ProcessingDeadline: getEnvDuration("PROCESSING_DEADLINE", 30*time.Minute),

		OTLPEndpoint:     getEnv("OTLP_ENDPOINT", "localhost:4317"),
		TelemetryEnabled: getEnvBool("TELEMETRY_ENABLED", false),
	}

	// Validate required fields
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}

	if cfg.WidgetTokenSecret == "" {
		return nil, fmt.Errorf("WIDGET_TOKEN_SECRET is required - set it in .env file")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
