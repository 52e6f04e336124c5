package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete hybrid search and personalization core
// configuration.
type Config struct {
	Version         int                   `yaml:"version" json:"version"`
	Search          SearchConfig          `yaml:"search" json:"search"`
	Embeddings      EmbeddingsConfig      `yaml:"embeddings" json:"embeddings"`
	Personalization PersonalizationConfig `yaml:"personalization" json:"personalization"`
	Cache           CacheConfig           `yaml:"cache" json:"cache"`
	Server          ServerConfig          `yaml:"server" json:"server"`
	Intent          IntentConfig          `yaml:"intent" json:"intent"`
}

// SearchConfig configures hybrid retrieval and fusion parameters.
type SearchConfig struct {
	// BM25Weight is the fusion weight for the keyword retrieval path.
	BM25Weight float64 `yaml:"bm25_weight" json:"bm25_weight"`

	// SemanticWeight is the fusion weight for the vector retrieval path.
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`

	// RRFConstant is the RRF fusion smoothing parameter (k).
	// Default: 60, the value used by Azure AI Search and OpenSearch.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// VectorCandidates (K_v) is the number of candidates retrieved from the
	// vector index before fusion.
	VectorCandidates int `yaml:"vector_candidates" json:"vector_candidates"`

	// KeywordCandidates (K_k) is the number of candidates retrieved from the
	// keyword index before fusion.
	KeywordCandidates int `yaml:"keyword_candidates" json:"keyword_candidates"`

	DefaultLimit int           `yaml:"default_limit" json:"default_limit"`
	MaxLimit     int           `yaml:"max_limit" json:"max_limit"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider   string        `yaml:"provider" json:"provider"`
	Model      string        `yaml:"model" json:"model"`
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	BatchSize  int           `yaml:"batch_size" json:"batch_size"`
	Endpoint   string        `yaml:"endpoint" json:"endpoint"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
}

// PersonalizationConfig configures the LoRA adapter and reranking pipeline.
type PersonalizationConfig struct {
	// Rank is the LoRA decomposition rank r.
	Rank int `yaml:"rank" json:"rank"`

	// ColdStartThreshold (T_cold) is the adapter training-iteration count
	// below which the reranker treats a user as cold-start: the
	// personalization weight collapses to 0.05 and diversity tightens.
	ColdStartThreshold int `yaml:"cold_start_threshold" json:"cold_start_threshold"`

	// BlendAlpha, BlendBeta, BlendGamma are the reranker blend weights over
	// normalized fused score, personalization score, and quality boost.
	BlendAlpha float64 `yaml:"blend_alpha" json:"blend_alpha"`
	BlendBeta  float64 `yaml:"blend_beta" json:"blend_beta"`
	BlendGamma float64 `yaml:"blend_gamma" json:"blend_gamma"`

	// DiversityThreshold (theta_div) is the genre-Jaccard similarity above
	// which a candidate is penalized for redundancy against already-selected
	// results.
	DiversityThreshold float64 `yaml:"diversity_threshold" json:"diversity_threshold"`

	// TrainingInterval is how often the adapter training scheduler sweeps for
	// users with enough fresh activity to retrain.
	TrainingInterval time.Duration `yaml:"training_interval" json:"training_interval"`

	// FreshnessDecay enables an exponential age decay term in quality_boost.
	// Off by default; source behavior here was ambiguous.
	FreshnessDecay bool `yaml:"freshness_decay" json:"freshness_decay"`
}

// CacheConfig configures the result cache namespaces.
type CacheConfig struct {
	SearchTTL time.Duration `yaml:"search_ttl" json:"search_ttl"`
	EmbedTTL  time.Duration `yaml:"embed_ttl" json:"embed_ttl"`
	IntentTTL time.Duration `yaml:"intent_ttl" json:"intent_ttl"`

	SearchSize int `yaml:"search_size" json:"search_size"`
	EmbedSize  int `yaml:"embed_size" json:"embed_size"`
	IntentSize int `yaml:"intent_size" json:"intent_size"`
}

// ServerConfig configures the request-handling surface.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	Port      int    `yaml:"port" json:"port"`
	LogLevel  string `yaml:"log_level" json:"log_level"`

	// MaxConcurrentSearches bounds the backpressure semaphore guarding the
	// hybrid search orchestrator.
	MaxConcurrentSearches int `yaml:"max_concurrent_searches" json:"max_concurrent_searches"`
}

// IntentConfig configures the intent parser.
type IntentConfig struct {
	Model   string        `yaml:"model" json:"model"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	Cached  bool          `yaml:"cached" json:"cached"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Search: SearchConfig{
			BM25Weight:        1.0,
			SemanticWeight:    1.0,
			RRFConstant:       60,
			VectorCandidates:  100,
			KeywordCandidates: 100,
			DefaultLimit:      10,
			MaxLimit:          100,
			Timeout:           5 * time.Second,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "http",
			Model:      "text-embedding-3-small",
			Dimensions: 0, // 0 triggers auto-detect from the first provider response
			BatchSize:  32,
			Endpoint:   "http://localhost:8081/embed",
			Timeout:    10 * time.Second,
			MaxRetries: 2, // retries after the initial attempt, three attempts total
		},
		Personalization: PersonalizationConfig{
			Rank:               8,
			ColdStartThreshold: 20,
			BlendAlpha:         0.6,
			BlendBeta:          0.3,
			BlendGamma:         0.1,
			DiversityThreshold: 0.8,
			TrainingInterval:   1 * time.Hour,
		},
		Cache: CacheConfig{
			SearchTTL:  1800 * time.Second,
			EmbedTTL:   86400 * time.Second,
			IntentTTL:  600 * time.Second,
			SearchSize: 2000,
			EmbedSize:  10000,
			IntentSize: 2000,
		},
		Server: ServerConfig{
			Transport:             "stdio",
			Port:                  8765,
			LogLevel:              "info",
			MaxConcurrentSearches: 64,
		},
		Intent: IntentConfig{
			Model:   "qwen3:0.6b",
			Timeout: 2 * time.Second,
			Cached:  true,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/hybridcore/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/hybridcore/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hybridcore", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "hybridcore", "config.yaml")
	}
	return filepath.Join(home, ".config", "hybridcore", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/hybridcore/config.yaml)
//  3. Project config (.hybridcore.yaml in dir)
//  4. Environment variables (HYBRIDCORE_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .hybridcore.yaml or
// .hybridcore.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".hybridcore.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".hybridcore.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)

	// mergeWith skips zero values, so the search weights are applied here
	// whenever the file sets them, keeping an explicit 0.
	var weights struct {
		Search struct {
			BM25Weight     *float64 `yaml:"bm25_weight"`
			SemanticWeight *float64 `yaml:"semantic_weight"`
		} `yaml:"search"`
	}
	if err := yaml.Unmarshal(data, &weights); err == nil {
		if weights.Search.BM25Weight != nil {
			c.Search.BM25Weight = *weights.Search.BM25Weight
		}
		if weights.Search.SemanticWeight != nil {
			c.Search.SemanticWeight = *weights.Search.SemanticWeight
		}
	}
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Search.BM25Weight != 0 {
		c.Search.BM25Weight = other.Search.BM25Weight
	}
	if other.Search.SemanticWeight != 0 {
		c.Search.SemanticWeight = other.Search.SemanticWeight
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.VectorCandidates != 0 {
		c.Search.VectorCandidates = other.Search.VectorCandidates
	}
	if other.Search.KeywordCandidates != 0 {
		c.Search.KeywordCandidates = other.Search.KeywordCandidates
	}
	if other.Search.DefaultLimit != 0 {
		c.Search.DefaultLimit = other.Search.DefaultLimit
	}
	if other.Search.MaxLimit != 0 {
		c.Search.MaxLimit = other.Search.MaxLimit
	}
	if other.Search.Timeout != 0 {
		c.Search.Timeout = other.Search.Timeout
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.Endpoint != "" {
		c.Embeddings.Endpoint = other.Embeddings.Endpoint
	}
	if other.Embeddings.Timeout != 0 {
		c.Embeddings.Timeout = other.Embeddings.Timeout
	}
	if other.Embeddings.MaxRetries != 0 {
		c.Embeddings.MaxRetries = other.Embeddings.MaxRetries
	}

	if other.Personalization.Rank != 0 {
		c.Personalization.Rank = other.Personalization.Rank
	}
	if other.Personalization.ColdStartThreshold != 0 {
		c.Personalization.ColdStartThreshold = other.Personalization.ColdStartThreshold
	}
	if other.Personalization.BlendAlpha != 0 {
		c.Personalization.BlendAlpha = other.Personalization.BlendAlpha
	}
	if other.Personalization.BlendBeta != 0 {
		c.Personalization.BlendBeta = other.Personalization.BlendBeta
	}
	if other.Personalization.BlendGamma != 0 {
		c.Personalization.BlendGamma = other.Personalization.BlendGamma
	}
	if other.Personalization.DiversityThreshold != 0 {
		c.Personalization.DiversityThreshold = other.Personalization.DiversityThreshold
	}
	if other.Personalization.TrainingInterval != 0 {
		c.Personalization.TrainingInterval = other.Personalization.TrainingInterval
	}

	if other.Cache.SearchTTL != 0 {
		c.Cache.SearchTTL = other.Cache.SearchTTL
	}
	if other.Cache.EmbedTTL != 0 {
		c.Cache.EmbedTTL = other.Cache.EmbedTTL
	}
	if other.Cache.IntentTTL != 0 {
		c.Cache.IntentTTL = other.Cache.IntentTTL
	}
	if other.Cache.SearchSize != 0 {
		c.Cache.SearchSize = other.Cache.SearchSize
	}
	if other.Cache.EmbedSize != 0 {
		c.Cache.EmbedSize = other.Cache.EmbedSize
	}
	if other.Cache.IntentSize != 0 {
		c.Cache.IntentSize = other.Cache.IntentSize
	}

	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Server.MaxConcurrentSearches != 0 {
		c.Server.MaxConcurrentSearches = other.Server.MaxConcurrentSearches
	}

	if other.Intent.Model != "" {
		c.Intent.Model = other.Intent.Model
	}
	if other.Intent.Timeout != 0 {
		c.Intent.Timeout = other.Intent.Timeout
	}
}

// applyEnvOverrides applies HYBRIDCORE_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HYBRIDCORE_BM25_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 {
			c.Search.BM25Weight = w
		}
	}
	if v := os.Getenv("HYBRIDCORE_SEMANTIC_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 {
			c.Search.SemanticWeight = w
		}
	}
	if v := os.Getenv("HYBRIDCORE_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}

	if v := os.Getenv("HYBRIDCORE_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("HYBRIDCORE_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("HYBRIDCORE_EMBEDDINGS_ENDPOINT"); v != "" {
		c.Embeddings.Endpoint = v
	}
	if v := os.Getenv("HYBRIDCORE_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("HYBRIDCORE_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}

	if v := os.Getenv("HYBRIDCORE_PERSONALIZATION_COLD_START"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Personalization.ColdStartThreshold = n
		}
	}
	if v := os.Getenv("HYBRIDCORE_PERSONALIZATION_DIVERSITY_THRESHOLD"); v != "" {
		if t, err := parseFloat64(v); err == nil && t >= 0 && t <= 1 {
			c.Personalization.DiversityThreshold = t
		}
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// FindProjectRoot finds the project root directory by walking up from
// startDir looking for a .git directory or a .hybridcore.yaml/.yml file.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}

		if fileExists(filepath.Join(currentDir, ".hybridcore.yaml")) ||
			fileExists(filepath.Join(currentDir, ".hybridcore.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Search.BM25Weight < 0 {
		return fmt.Errorf("search.bm25_weight must be non-negative, got %f", c.Search.BM25Weight)
	}
	if c.Search.SemanticWeight < 0 {
		return fmt.Errorf("search.semantic_weight must be non-negative, got %f", c.Search.SemanticWeight)
	}
	if c.Search.BM25Weight == 0 && c.Search.SemanticWeight == 0 {
		return fmt.Errorf("search.bm25_weight and search.semantic_weight cannot both be zero")
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.DefaultLimit <= 0 || c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("search.default_limit must be positive and at most max_limit, got %d (max %d)", c.Search.DefaultLimit, c.Search.MaxLimit)
	}

	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}

	sum := c.Personalization.BlendAlpha + c.Personalization.BlendBeta + c.Personalization.BlendGamma
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("personalization blend weights must sum to 1.0, got %.2f", sum)
	}
	if c.Personalization.DiversityThreshold < 0 || c.Personalization.DiversityThreshold > 1 {
		return fmt.Errorf("personalization.diversity_threshold must be between 0 and 1, got %f", c.Personalization.DiversityThreshold)
	}

	validTransports := map[string]bool{"stdio": true, "sse": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		return fmt.Errorf("server.transport must be 'stdio' or 'sse', got %s", c.Server.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}
