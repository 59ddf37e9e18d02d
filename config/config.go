// Package config loads docrag configuration from a YAML file and DOCRAG_
// environment variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/poiesic/docrag/ai"
)

// Backend names accepted in configuration.
const (
	FilesLocal = "local"
	FilesGCS   = "gcs"

	RunLogBadger = "badger"
	RunLogRedis  = "redis"

	VectorsChromem = "chromem"
	VectorsQdrant  = "qdrant"

	OCRNone      = "none"
	OCRTesseract = "tesseract"
	OCRGCPVision = "gcp_vision"
)

// Config is the complete engine configuration.
type Config struct {
	Log        LogConfig        `koanf:"log"`
	Storage    StorageConfig    `koanf:"storage"`
	Vectors    VectorsConfig    `koanf:"vectors"`
	AI         AIConfig         `koanf:"ai"`
	Ingestion  IngestionConfig  `koanf:"ingestion"`
	Extraction ExtractionConfig `koanf:"extraction"`
	Query      QueryConfig      `koanf:"query"`
}

// LogConfig controls the CLI's log output.
type LogConfig struct {
	Level string `koanf:"level"`
}

// StorageConfig selects where metadata, files and run logs live.
type StorageConfig struct {
	// DataDir holds the badger database and, by default, uploaded files and
	// the persistent vector store.
	DataDir string `koanf:"data_dir"`

	// Files is "local" or "gcs".
	Files          string `koanf:"files"`
	FilesDir       string `koanf:"files_dir"`
	GCSBucket      string `koanf:"gcs_bucket"`
	GCSPrefix      string `koanf:"gcs_prefix"`
	GCSCredentials string `koanf:"gcs_credentials"`
	GCSEmulator    string `koanf:"gcs_emulator"`

	// RunLog is "badger" or "redis".
	RunLog        string `koanf:"run_log"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	RedisPrefix   string `koanf:"redis_prefix"`
}

// VectorsConfig selects the vector store.
type VectorsConfig struct {
	// Provider is "chromem" or "qdrant".
	Provider        string        `koanf:"provider"`
	Collection      string        `koanf:"collection"`
	ChromemPath     string        `koanf:"chromem_path"`
	ChromemCompress bool          `koanf:"chromem_compress"`
	QdrantHost      string        `koanf:"qdrant_host"`
	QdrantPort      int           `koanf:"qdrant_port"`
	QdrantAPIKey    string        `koanf:"qdrant_api_key"`
	QdrantTLS       bool          `koanf:"qdrant_tls"`
	Timeout         time.Duration `koanf:"timeout"`
}

// AIConfig configures the OpenAI-compatible embedding and generation services.
type AIConfig struct {
	EmbeddingHost      string        `koanf:"embedding_host"`
	GenerationHost     string        `koanf:"generation_host"`
	EmbeddingModel     string        `koanf:"embedding_model"`
	GenerationModel    string        `koanf:"generation_model"`
	APIKey             string        `koanf:"api_key"`
	EmbeddingDimension int           `koanf:"embedding_dimension"`
	MaxTokens          int           `koanf:"max_tokens"`
	Temperature        float64       `koanf:"temperature"`
	GPU                bool          `koanf:"gpu"`
	EmbedTimeout       time.Duration `koanf:"embed_timeout"`
	GenerateTimeout    time.Duration `koanf:"generate_timeout"`
}

// IngestionConfig tunes the document pipeline.
type IngestionConfig struct {
	Workers        int           `koanf:"workers"`
	ChunkSize      int           `koanf:"chunk_size"`
	ChunkOverlap   int           `koanf:"chunk_overlap"`
	EmbedBatchSize int           `koanf:"embed_batch_size"`
	StageTimeout   time.Duration `koanf:"stage_timeout"`
	// Reconcile re-schedules unfinished documents when the engine opens.
	Reconcile bool `koanf:"reconcile"`
}

// ExtractionConfig configures OCR and page rendering.
type ExtractionConfig struct {
	// OCR is "none", "tesseract" or "gcp_vision".
	OCR            string        `koanf:"ocr"`
	TesseractPath  string        `koanf:"tesseract_path"`
	TesseractLang  string        `koanf:"tesseract_lang"`
	GCPCredentials string        `koanf:"gcp_credentials"`
	PdftoppmPath   string        `koanf:"pdftoppm_path"`
	RenderDPI      int           `koanf:"render_dpi"`
	MinPageChars   int           `koanf:"min_page_chars"`
	OCRTimeout     time.Duration `koanf:"ocr_timeout"`
}

// QueryConfig tunes the query pipeline.
type QueryConfig struct {
	TopK          int           `koanf:"top_k"`
	ContextBudget int           `koanf:"context_budget"`
	SearchTimeout time.Duration `koanf:"search_timeout"`
}

// Default returns a configuration with every default applied, rooted at dataDir.
func Default(dataDir string) *Config {
	cfg := &Config{Storage: StorageConfig{DataDir: dataDir}}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// Storage defaults
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./docrag-data"
	}
	if cfg.Storage.Files == "" {
		cfg.Storage.Files = FilesLocal
	}
	if cfg.Storage.FilesDir == "" {
		cfg.Storage.FilesDir = filepath.Join(cfg.Storage.DataDir, "files")
	}
	if cfg.Storage.RunLog == "" {
		cfg.Storage.RunLog = RunLogBadger
	}
	if cfg.Storage.RedisPrefix == "" {
		cfg.Storage.RedisPrefix = "docrag"
	}

	// Vector store defaults (chromem is embedded, no external deps)
	if cfg.Vectors.Provider == "" {
		cfg.Vectors.Provider = VectorsChromem
	}
	if cfg.Vectors.Collection == "" {
		cfg.Vectors.Collection = "docrag_chunks"
	}
	if cfg.Vectors.ChromemPath == "" {
		cfg.Vectors.ChromemPath = filepath.Join(cfg.Storage.DataDir, "vectors")
	}
	if cfg.Vectors.QdrantHost == "" {
		cfg.Vectors.QdrantHost = "localhost"
	}
	if cfg.Vectors.QdrantPort == 0 {
		cfg.Vectors.QdrantPort = 6334
	}
	if cfg.Vectors.Timeout == 0 {
		cfg.Vectors.Timeout = 30 * time.Second
	}

	// AI defaults follow ai.DefaultConfig
	def := ai.DefaultConfig()
	if cfg.AI.EmbeddingHost == "" {
		cfg.AI.EmbeddingHost = def.EmbeddingHost
	}
	if cfg.AI.GenerationHost == "" {
		cfg.AI.GenerationHost = cfg.AI.EmbeddingHost
	}
	if cfg.AI.EmbeddingModel == "" {
		cfg.AI.EmbeddingModel = def.EmbeddingModel
	}
	if cfg.AI.GenerationModel == "" {
		cfg.AI.GenerationModel = def.GenerationModel
	}
	if cfg.AI.APIKey == "" {
		cfg.AI.APIKey = def.APIKey
	}
	if cfg.AI.MaxTokens == 0 {
		cfg.AI.MaxTokens = def.MaxTokens
	}
	if cfg.AI.Temperature == 0 {
		cfg.AI.Temperature = def.Temperature
	}
	if cfg.AI.EmbedTimeout == 0 {
		cfg.AI.EmbedTimeout = def.EmbedTimeout
	}
	if cfg.AI.GenerateTimeout == 0 {
		cfg.AI.GenerateTimeout = def.GenerateTimeout
	}

	// Ingestion defaults
	if cfg.Ingestion.ChunkSize == 0 {
		cfg.Ingestion.ChunkSize = 1000
	}
	if cfg.Ingestion.ChunkOverlap == 0 {
		cfg.Ingestion.ChunkOverlap = 200
	}
	if cfg.Ingestion.EmbedBatchSize == 0 {
		cfg.Ingestion.EmbedBatchSize = def.EmbeddingBatchSize
	}
	if cfg.Ingestion.StageTimeout == 0 {
		cfg.Ingestion.StageTimeout = 10 * time.Minute
	}

	// Extraction defaults
	if cfg.Extraction.OCR == "" {
		cfg.Extraction.OCR = OCRNone
	}
	if cfg.Extraction.TesseractLang == "" {
		cfg.Extraction.TesseractLang = "eng"
	}
	if cfg.Extraction.RenderDPI == 0 {
		cfg.Extraction.RenderDPI = 200
	}
	if cfg.Extraction.MinPageChars == 0 {
		cfg.Extraction.MinPageChars = 50
	}
	if cfg.Extraction.OCRTimeout == 0 {
		cfg.Extraction.OCRTimeout = 60 * time.Second
	}

	// Query defaults
	if cfg.Query.TopK == 0 {
		cfg.Query.TopK = 5
	}
	if cfg.Query.ContextBudget == 0 {
		cfg.Query.ContextBudget = 4000
	}
	if cfg.Query.SearchTimeout == 0 {
		cfg.Query.SearchTimeout = 30 * time.Second
	}
}

// Validate checks that the configuration is consistent.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}

	switch c.Storage.Files {
	case FilesLocal:
	case FilesGCS:
		if c.Storage.GCSBucket == "" {
			errs = append(errs, errors.New("storage.gcs_bucket is required when storage.files is gcs"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.files: unknown backend %q", c.Storage.Files))
	}

	switch c.Storage.RunLog {
	case RunLogBadger:
	case RunLogRedis:
		if c.Storage.RedisAddr == "" {
			errs = append(errs, errors.New("storage.redis_addr is required when storage.run_log is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.run_log: unknown backend %q", c.Storage.RunLog))
	}

	switch c.Vectors.Provider {
	case VectorsChromem:
	case VectorsQdrant:
		if c.Vectors.QdrantPort < 1 || c.Vectors.QdrantPort > 65535 {
			errs = append(errs, fmt.Errorf("vectors.qdrant_port out of range: %d", c.Vectors.QdrantPort))
		}
	default:
		errs = append(errs, fmt.Errorf("vectors.provider: unknown provider %q", c.Vectors.Provider))
	}

	switch c.Extraction.OCR {
	case OCRNone, OCRTesseract, OCRGCPVision:
	default:
		errs = append(errs, fmt.Errorf("extraction.ocr: unknown backend %q", c.Extraction.OCR))
	}

	if c.Ingestion.Workers < 0 {
		errs = append(errs, fmt.Errorf("ingestion.workers cannot be negative: %d", c.Ingestion.Workers))
	}
	if c.Ingestion.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("ingestion.chunk_size must be positive: %d", c.Ingestion.ChunkSize))
	}
	if c.Ingestion.ChunkOverlap < 0 || c.Ingestion.ChunkOverlap >= c.Ingestion.ChunkSize {
		errs = append(errs, fmt.Errorf("ingestion.chunk_overlap must be in [0, chunk_size): %d", c.Ingestion.ChunkOverlap))
	}
	if c.Query.TopK < 1 {
		errs = append(errs, fmt.Errorf("query.top_k must be positive: %d", c.Query.TopK))
	}
	if c.Query.ContextBudget < 1 {
		errs = append(errs, fmt.Errorf("query.context_budget must be positive: %d", c.Query.ContextBudget))
	}

	if err := c.AIConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// AIConfig converts the ai section into an ai.Config.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithGenerationHost(c.AI.GenerationHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithGenerationModel(c.AI.GenerationModel),
		ai.WithAPIKey(c.AI.APIKey),
		ai.WithMaxTokens(c.AI.MaxTokens),
		ai.WithGPU(c.AI.GPU),
		ai.WithTimeouts(c.AI.EmbedTimeout, c.AI.GenerateTimeout),
		func(cfg *ai.Config) {
			cfg.EmbeddingDimension = c.AI.EmbeddingDimension
			cfg.EmbeddingBatchSize = c.Ingestion.EmbedBatchSize
			cfg.Temperature = c.AI.Temperature
		},
	)
}
