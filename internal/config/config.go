package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port         string
	GinMode      string
	LogLevel     string
	CORSOrigins  []string
	JWTSecret    string
	JWTExpiresIn time.Duration
	MaxFileSize  int64

	// Persistence
	StoreBackend string // "mongo" (default) or "memory"
	MongoURI     string
	DBName       string

	// Redis (empty URL disables it; rate limiting falls back to memory)
	RedisURL           string
	RedisPassword      string
	RedisDB            int
	RateLimitPerMinute int

	// Uploaded file storage
	StorageBackend string // "local" (default) or "minio"
	DataDir        string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// Local inference (Ollama)
	OllamaHost       string
	OllamaChatModel  string
	OllamaEmbedModel string
	LocalTimeout     time.Duration

	// Remote inference
	HFChatEndpoint          string
	HFEmbedEndpoint         string
	RemoteTimeout           time.Duration
	RemoteRetryBackoff      time.Duration
	RemoteRequestsPerMinute int
	AllowRemoteContext      bool
	ProvidersFile           string

	// Vector store
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string
	QdrantTransport  string // "grpc" (default), "rest" or "memory"
	QdrantGRPCAddr   string
	VectorTimeout    time.Duration

	// Chunking
	ChunkSizeChars    int
	ChunkOverlapChars int

	// Retrieval and answering
	RAGCandidates       int
	RAGMaxCitations     int
	RAGContextMaxChars  int
	RAGMinAnswerability float64
	RAGVectorWeight     float64
	RAGLexicalWeight    float64
	RAGSnippetChars     int

	// Ingestion worker
	IngestSweepInterval time.Duration

	// Telemetry
	OTelEnabled     bool
	OTelEndpoint    string
	OTelSampleRatio float64
	OTelServiceName string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		GinMode:      getEnv("GIN_MODE", "debug"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		CORSOrigins:  splitList(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		JWTExpiresIn: getEnvDuration("JWT_EXPIRES_IN", 24*time.Hour),
		MaxFileSize:  getEnvInt64("UPLOAD_MAX_SIZE_MB", 25) * 1024 * 1024,

		StoreBackend: getEnv("STORE_BACKEND", "mongo"),
		MongoURI:     getEnv("MONGO_URI", "mongodb://localhost:27017/rag_platform"),
		DBName:       getEnv("DB_NAME", "rag_platform"),

		RedisURL:           getEnv("REDIS_URL", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		StorageBackend: getEnv("STORAGE_BACKEND", "local"),
		DataDir:        getEnv("DATA_DIR", "./data"),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "rag-documents"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		OllamaHost:       strings.TrimRight(getEnv("OLLAMA_HOST", "http://127.0.0.1:11434"), "/"),
		OllamaChatModel:  getEnv("OLLAMA_CHAT_MODEL", "tinyllama"),
		OllamaEmbedModel: getEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text"),
		LocalTimeout:     getEnvDuration("LOCAL_TIMEOUT", 60*time.Second),

		HFChatEndpoint:          strings.TrimRight(getEnv("HF_CHAT_ENDPOINT", "https://api-inference.huggingface.co/models"), "/"),
		HFEmbedEndpoint:         strings.TrimRight(getEnv("HF_EMBED_ENDPOINT", "https://api-inference.huggingface.co/pipeline/feature-extraction"), "/"),
		RemoteTimeout:           getEnvDuration("REMOTE_TIMEOUT", 20*time.Second),
		RemoteRetryBackoff:      getEnvDuration("REMOTE_RETRY_BACKOFF", 300*time.Millisecond),
		RemoteRequestsPerMinute: getEnvInt("REMOTE_REQUESTS_PER_MINUTE", 60),
		AllowRemoteContext:      getEnvBool("ALLOW_REMOTE_CONTEXT", false),
		ProvidersFile:           getEnv("PROVIDERS_FILE", ""),

		QdrantURL:        strings.TrimRight(getEnv("QDRANT_URL", "http://localhost:6333"), "/"),
		QdrantAPIKey:     getEnv("QDRANT_API_KEY", ""),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "factory_rag_chunks"),
		QdrantTransport:  getEnv("QDRANT_TRANSPORT", "grpc"),
		QdrantGRPCAddr:   getEnv("QDRANT_GRPC_ADDR", "localhost:6334"),
		VectorTimeout:    getEnvDuration("VECTOR_TIMEOUT", 15*time.Second),

		ChunkSizeChars:    getEnvInt("CHUNK_SIZE_CHARS", 4500),
		ChunkOverlapChars: getEnvInt("CHUNK_OVERLAP_CHARS", 600),

		RAGCandidates:       getEnvInt("RAG_CANDIDATES", 16),
		RAGMaxCitations:     getEnvInt("RAG_MAX_CITATIONS", 6),
		RAGContextMaxChars:  getEnvInt("RAG_CONTEXT_MAX_CHARS", 16000),
		RAGMinAnswerability: getEnvFloat64("RAG_MIN_ANSWERABILITY", 0.15),
		RAGVectorWeight:     getEnvFloat64("RAG_VECTOR_WEIGHT", 0.7),
		RAGLexicalWeight:    getEnvFloat64("RAG_LEXICAL_WEIGHT", 0.3),
		RAGSnippetChars:     getEnvInt("RAG_SNIPPET_CHARS", 180),

		IngestSweepInterval: getEnvDuration("INGEST_SWEEP_INTERVAL", time.Minute),

		OTelEnabled:     getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		OTelSampleRatio: getEnvFloat64("OTEL_SAMPLE_RATIO", 0.1),
		OTelServiceName: getEnv("OTEL_SERVICE_NAME", "rag-knowledge-platform"),
	}

	if cfg.JWTSecret == "" {
		if cfg.GinMode == "release" {
			return nil, fmt.Errorf("JWT_SECRET is required - set it in .env file")
		}
		cfg.JWTSecret = "dev-secret"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the numeric relationships the pipeline depends on.
func (c *Config) Validate() error {
	if c.ChunkSizeChars <= 0 {
		return fmt.Errorf("CHUNK_SIZE_CHARS must be positive, got %d", c.ChunkSizeChars)
	}
	if c.ChunkOverlapChars < 0 || c.ChunkOverlapChars >= c.ChunkSizeChars {
		return fmt.Errorf("CHUNK_OVERLAP_CHARS must be in [0, %d), got %d", c.ChunkSizeChars, c.ChunkOverlapChars)
	}
	if c.RAGCandidates <= 0 {
		return fmt.Errorf("RAG_CANDIDATES must be positive, got %d", c.RAGCandidates)
	}
	if c.RAGMaxCitations <= 0 {
		return fmt.Errorf("RAG_MAX_CITATIONS must be positive, got %d", c.RAGMaxCitations)
	}
	if c.RAGContextMaxChars <= 0 {
		return fmt.Errorf("RAG_CONTEXT_MAX_CHARS must be positive, got %d", c.RAGContextMaxChars)
	}
	if c.RAGMinAnswerability < 0 || c.RAGMinAnswerability > 1 {
		return fmt.Errorf("RAG_MIN_ANSWERABILITY must be in [0, 1], got %v", c.RAGMinAnswerability)
	}
	if math.Abs(c.RAGVectorWeight+c.RAGLexicalWeight-1) > 1e-6 {
		return fmt.Errorf("RAG_VECTOR_WEIGHT + RAG_LEXICAL_WEIGHT must equal 1, got %v", c.RAGVectorWeight+c.RAGLexicalWeight)
	}
	switch c.StoreBackend {
	case "mongo", "memory":
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.StorageBackend {
	case "local", "minio":
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	switch c.QdrantTransport {
	case "rest", "grpc", "memory":
	default:
		return fmt.Errorf("unknown QDRANT_TRANSPORT %q", c.QdrantTransport)
	}
	return nil
}
