package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	DataDir     string            `mapstructure:"data_dir"`
	Server      ServerConfig      `mapstructure:"server"`
	GCP         GCPConfig         `mapstructure:"gcp"`
	Render      RenderConfig      `mapstructure:"render"`
	OCR         OCRConfig         `mapstructure:"ocr"`
	Detector    DetectorConfig    `mapstructure:"detector"`
	Embedder    EmbedderConfig    `mapstructure:"embedder"`
	Chunker     ChunkerConfig     `mapstructure:"chunker"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store"`
	Search      SearchConfig      `mapstructure:"search"`
	Agent       AgentConfig       `mapstructure:"agent"`
}

type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type GCPConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	Location        string `mapstructure:"location"`
	APIKey          string `mapstructure:"api_key"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type RenderConfig struct {
	DPI int `mapstructure:"dpi"`
}

type OCRConfig struct {
	BatchSize    int `mapstructure:"batch_size"`
	MaxQueueSize int `mapstructure:"max_queue_size"`
}

type DetectorConfig struct {
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	Workers     int     `mapstructure:"workers"`
	// Optional prompt overrides; empty strings keep the built-in prompt.
	BoxInstructions     string `mapstructure:"bounding_box_system_instructions"`
	SpatialInstructions string `mapstructure:"pdf_spatial_instructions"`
}

type EmbedderConfig struct {
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
}

type ChunkerConfig struct {
	ChunkSize int `mapstructure:"chunk_size"`
	Overlap   int `mapstructure:"overlap"`
}

// VectorStoreConfig selects the vector backend. Backend "memory" keeps
// vectors in process; "qdrant" persists them over gRPC.
type VectorStoreConfig struct {
	Backend string       `mapstructure:"backend"`
	Qdrant  QdrantConfig `mapstructure:"qdrant"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

type SearchConfig struct {
	TopK int `mapstructure:"top_k"`
	RRFK int `mapstructure:"rrf_k"`
}

type AgentConfig struct {
	Model          string `mapstructure:"model"`
	WebSearchModel string `mapstructure:"web_search_model"`
	MaxSteps       int    `mapstructure:"max_steps"`
	HistoryLimit   int    `mapstructure:"history_limit"`
}

func Load(configPath string) (*Config, error) {
	config := &Config{}

	if configPath != "" {
		absPath, _ := filepath.Abs(configPath)
		viper.SetConfigFile(absPath)
	} else {
		// Check order:
		// 1. ./pagelens.toml
		// 2. ~/.pagelens/pagelens.toml
		if _, err := os.Stat("pagelens.toml"); err == nil {
			abs, _ := filepath.Abs("pagelens.toml")
			viper.SetConfigFile(abs)
		} else {
			home, err := os.UserHomeDir()
			if err == nil {
				viper.SetConfigFile(filepath.Join(home, ".pagelens", "pagelens.toml"))
			} else {
				viper.SetConfigFile("pagelens.toml")
			}
		}
	}

	setDefaults()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		if configPath != "" {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		// Default config missing is fine, env and defaults apply
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.expandPaths()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func setDefaults() {
	viper.SetDefault("data_dir", "~/.pagelens/data")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.cors_origins", []string{"*"})

	viper.SetDefault("gcp.location", "us-central1")

	viper.SetDefault("render.dpi", 144)

	viper.SetDefault("ocr.batch_size", 12)
	viper.SetDefault("ocr.max_queue_size", 24)

	viper.SetDefault("detector.model", "gemini-2.5-flash")
	viper.SetDefault("detector.temperature", 0.5)
	viper.SetDefault("detector.workers", 5)

	viper.SetDefault("embedder.model", "multimodalembedding@001")
	viper.SetDefault("embedder.dimension", 1408)

	viper.SetDefault("chunker.chunk_size", 512)
	viper.SetDefault("chunker.overlap", 64)

	viper.SetDefault("vector_store.backend", "memory")
	viper.SetDefault("vector_store.qdrant.host", "localhost")
	viper.SetDefault("vector_store.qdrant.port", 6334)
	viper.SetDefault("vector_store.qdrant.collection", "pagelens")
	viper.SetDefault("vector_store.qdrant.use_tls", false)

	viper.SetDefault("search.top_k", 10)
	viper.SetDefault("search.rrf_k", 60)

	viper.SetDefault("agent.model", "gemini-2.5-flash")
	viper.SetDefault("agent.web_search_model", "gemini-2.0-flash")
	viper.SetDefault("agent.max_steps", 10)
	viper.SetDefault("agent.history_limit", 20)
}

func bindEnvVars() {
	viper.SetEnvPrefix("PAGELENS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		"data_dir":             "PAGELENS_DATA_DIR",
		"server.host":          "PAGELENS_SERVER_HOST",
		"server.port":          "PAGELENS_SERVER_PORT",
		"gcp.project_id":       "GCP_PROJECT_ID",
		"gcp.location":         "GCP_LOCATION",
		"gcp.api_key":          "GEMINI_API_KEY",
		"gcp.credentials_file": "GOOGLE_APPLICATION_CREDENTIALS",
		"render.dpi":           "PAGELENS_RENDER_DPI",
		"ocr.batch_size":       "PAGELENS_OCR_BATCH_SIZE",
		"ocr.max_queue_size":   "PAGELENS_OCR_MAX_QUEUE_SIZE",
		"vector_store.backend": "PAGELENS_VECTOR_STORE_BACKEND",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			log.Printf("Warning: failed to bind %s env var: %v", key, err)
		}
	}
}

// DBPath returns the path to the content database
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "pagelens.db")
}

// ChatDBPath returns the path to the chat memory database
func (c *Config) ChatDBPath() string {
	return filepath.Join(c.DataDir, "chat_memory.db")
}

// PDFsDir returns the directory holding original uploads
func (c *Config) PDFsDir() string {
	return filepath.Join(c.DataDir, "pdfs")
}

// PagesDir returns the directory holding rendered page images
func (c *Config) PagesDir() string {
	return filepath.Join(c.DataDir, "pages")
}

// CropsDir returns the directory holding region crops
func (c *Config) CropsDir() string {
	return filepath.Join(c.DataDir, "crops")
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}

	if c.Render.DPI <= 0 {
		return fmt.Errorf("render dpi must be positive: %d", c.Render.DPI)
	}

	if c.OCR.BatchSize < 1 || c.OCR.BatchSize > 16 {
		return fmt.Errorf("ocr batch_size must be between 1 and 16: %d", c.OCR.BatchSize)
	}

	if c.OCR.MaxQueueSize <= 0 {
		return fmt.Errorf("ocr max_queue_size must be positive: %d", c.OCR.MaxQueueSize)
	}

	if c.Detector.Workers <= 0 {
		return fmt.Errorf("detector workers must be positive: %d", c.Detector.Workers)
	}

	if c.Embedder.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive: %d", c.Embedder.Dimension)
	}

	if c.Chunker.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive: %d", c.Chunker.ChunkSize)
	}

	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.ChunkSize {
		return fmt.Errorf("overlap must be between 0 and chunk size: %d", c.Chunker.Overlap)
	}

	validBackends := map[string]bool{"memory": true, "qdrant": true}
	if !validBackends[strings.ToLower(c.VectorStore.Backend)] {
		return fmt.Errorf("invalid vector_store backend: %s (supported: memory, qdrant)", c.VectorStore.Backend)
	}

	if c.Search.TopK <= 0 {
		return fmt.Errorf("search top_k must be positive: %d", c.Search.TopK)
	}

	if c.Search.RRFK <= 0 {
		return fmt.Errorf("search rrf_k must be positive: %d", c.Search.RRFK)
	}

	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent max_steps must be positive: %d", c.Agent.MaxSteps)
	}

	return nil
}

func (c *Config) expandPaths() {
	c.DataDir = expandHomePath(c.DataDir)
	c.GCP.CredentialsFile = expandHomePath(c.GCP.CredentialsFile)
}

// EnsureDirs creates the data directory tree.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.PDFsDir(), c.PagesDir(), c.CropsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func expandHomePath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}

	return path
}
