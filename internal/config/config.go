// Package config loads the layered conrag configuration: hardcoded
// defaults, then the user config, then the project config, then
// CONRAG_* environment overrides. Config files are decoded strictly so
// a typo fails loudly; run snapshots are re-read leniently so old
// snapshots survive schema growth.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jepras/ConstructionRAG-sub001/internal/answer"
	"github.com/jepras/ConstructionRAG-sub001/internal/embed"
	"github.com/jepras/ConstructionRAG-sub001/internal/llm"
	"github.com/jepras/ConstructionRAG-sub001/internal/logging"
	"github.com/jepras/ConstructionRAG-sub001/internal/objstore"
	"github.com/jepras/ConstructionRAG-sub001/internal/partition"
	"github.com/jepras/ConstructionRAG-sub001/internal/ratelimit"
	"github.com/jepras/ConstructionRAG-sub001/internal/search"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

// Languages with tuned retrieval thresholds and prompt sets.
const (
	LanguageDanish  = "danish"
	LanguageEnglish = "english"
)

// Config is the complete effective configuration for one conrag
// invocation. The IndexingRun stores a JSON snapshot of it, with
// secrets elided, so a rerun can prove whether a stage's inputs
// changed.
type Config struct {
	Version      int                `yaml:"version" json:"version"`
	Defaults     DefaultsConfig     `yaml:"defaults" json:"defaults"`
	Ingest       IngestConfig       `yaml:"ingest" json:"ingest"`
	Storage      StorageConfig      `yaml:"storage" json:"storage"`
	Services     ServicesConfig     `yaml:"services" json:"services"`
	Indexing     IndexingConfig     `yaml:"indexing" json:"indexing"`
	Query        QueryConfig        `yaml:"query" json:"query"`
	Wiki         WikiConfig         `yaml:"wiki" json:"wiki"`
	Checklist    ChecklistConfig    `yaml:"checklist" json:"checklist"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" json:"orchestrator"`
	Performance  PerformanceConfig  `yaml:"performance" json:"performance"`
	Logging      LoggingConfig      `yaml:"logging" json:"logging"`
}

// DefaultsConfig holds cross-component defaults.
type DefaultsConfig struct {
	// Language is the output language for wiki pages, answers and
	// checklist analysis, and selects the retrieval threshold table.
	Language string `yaml:"language" json:"language"`
}

// IngestConfig controls PDF discovery for `conrag index --input`.
type IngestConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
	// MaxFileSizeMB skips PDFs larger than this. Zero means no cap.
	MaxFileSizeMB int `yaml:"max_file_size_mb" json:"max_file_size_mb"`
}

// StorageConfig locates the data directory and the object store.
type StorageConfig struct {
	// DataDir holds the SQLite database, HNSW graphs, keyword index,
	// run locks and logs. Relative paths resolve against the project
	// root.
	DataDir     string             `yaml:"data_dir" json:"data_dir"`
	ObjectStore objstore.Config    `yaml:"object_store" json:"object_store"`
	Vector      store.VectorConfig `yaml:"vector" json:"vector"`
}

// ServicesConfig points the pipelines at their upstream services.
// API keys normally arrive through the environment, not the file.
type ServicesConfig struct {
	Partition  PartitionServiceConfig     `yaml:"partition" json:"partition"`
	LLM        LLMServiceConfig           `yaml:"llm" json:"llm"`
	RateLimits map[string]ratelimit.Limit `yaml:"rate_limits" json:"rate_limits"`
}

// PartitionServiceConfig configures the remote partition service
// client. The timeout is generous because hi_res OCR on a drawing set
// routinely runs for minutes.
type PartitionServiceConfig struct {
	BaseURL        string `yaml:"base_url" json:"base_url"`
	APIKey         string `yaml:"api_key" json:"-"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	PoolSize       int    `yaml:"pool_size" json:"pool_size"`
}

// LLMServiceConfig configures the shared chat/VLM endpoint.
type LLMServiceConfig struct {
	BaseURL           string  `yaml:"base_url" json:"base_url"`
	APIKey            string  `yaml:"api_key" json:"-"`
	Model             string  `yaml:"model" json:"model"`
	MaxTokens         int     `yaml:"max_tokens" json:"max_tokens"`
	Temperature       float32 `yaml:"temperature" json:"temperature"`
	TimeoutSeconds    int     `yaml:"timeout_seconds" json:"timeout_seconds"`
	VLMTimeoutSeconds int     `yaml:"vlm_timeout_seconds" json:"vlm_timeout_seconds"`
}

// IndexingConfig holds the per-stage settings of the indexing pipeline.
type IndexingConfig struct {
	Partition  partition.Config `yaml:"partition" json:"partition"`
	Enrichment EnrichmentConfig `yaml:"enrichment" json:"enrichment"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Embedding  EmbeddingConfig  `yaml:"embedding" json:"embedding"`
}

// EnrichmentConfig controls VLM captioning of tables and page images.
type EnrichmentConfig struct {
	// VLMModel overrides services.llm.model for captioning calls.
	VLMModel string `yaml:"vlm_model" json:"vlm_model"`
	// CaptionLanguage overrides defaults.language for caption prompts.
	CaptionLanguage string `yaml:"caption_language" json:"caption_language"`
	// MaxTextContextLength bounds the characters of page text included
	// in a caption prompt.
	MaxTextContextLength int `yaml:"max_text_context_length" json:"max_text_context_length"`
	// MaxPageTextElements bounds how many page text snippets feed the
	// context block.
	MaxPageTextElements int `yaml:"max_page_text_elements" json:"max_page_text_elements"`
}

// Chunking strategies.
const (
	ChunkingElementBased = "element_based"
	ChunkingSemantic     = "semantic"
)

// ChunkingConfig controls chunk sizing. MinChunkSize is a merge target,
// not a floor; MaxChunkSize plus Overlap is a hard ceiling.
type ChunkingConfig struct {
	Strategy     string `yaml:"strategy" json:"strategy"`
	MinChunkSize int    `yaml:"min_chunk_size" json:"min_chunk_size"`
	MaxChunkSize int    `yaml:"max_chunk_size" json:"max_chunk_size"`
	Overlap      int    `yaml:"overlap" json:"overlap"`
}

// EmbeddingConfig configures the embedding backend. One client serves
// both chunk embedding during indexing and query embedding during
// retrieval, so the section lives with the indexing settings that
// determine what gets embedded.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider" json:"provider"`
	BaseURL        string `yaml:"base_url" json:"base_url"`
	APIKey         string `yaml:"api_key" json:"-"`
	Model          string `yaml:"model" json:"model"`
	Dimensions     int    `yaml:"dimensions" json:"dimensions"`
	BatchSize      int    `yaml:"batch_size" json:"batch_size"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// QueryConfig holds retrieval, keyword search and answer settings.
type QueryConfig struct {
	Retrieval search.Config       `yaml:"retrieval" json:"retrieval"`
	Keyword   KeywordSearchConfig `yaml:"keyword" json:"keyword"`
	Answer    answer.Config       `yaml:"answer" json:"answer"`
}

// KeywordSearchConfig controls the supplemental keyword index. It is
// consulted only by `conrag query --keyword`; vector retrieval never
// reads it.
type KeywordSearchConfig struct {
	Enabled bool                `yaml:"enabled" json:"enabled"`
	Index   store.KeywordConfig `yaml:"index" json:"index"`
}

// WikiConfig controls wiki generation.
type WikiConfig struct {
	// Model overrides services.llm.model for wiki generation calls.
	Model string `yaml:"model" json:"model"`
	// Language overrides defaults.language for generated pages.
	Language           string                 `yaml:"language" json:"language"`
	OverviewQueryCount int                    `yaml:"overview_query_count" json:"overview_query_count"`
	SemanticClusters   SemanticClustersConfig `yaml:"semantic_clusters" json:"semantic_clusters"`
	Generation         WikiGenerationConfig   `yaml:"generation" json:"generation"`
}

// SemanticClustersConfig bounds the k-means clustering stage.
type SemanticClustersConfig struct {
	Enabled     bool `yaml:"enabled" json:"enabled"`
	MinClusters int  `yaml:"min_clusters" json:"min_clusters"`
	MaxClusters int  `yaml:"max_clusters" json:"max_clusters"`
}

// WikiGenerationConfig budgets the generated structure.
type WikiGenerationConfig struct {
	MaxPages       int `yaml:"max_pages" json:"max_pages"`
	QueriesPerPage int `yaml:"queries_per_page" json:"queries_per_page"`
}

// ChecklistConfig controls checklist analysis.
type ChecklistConfig struct {
	// Model overrides services.llm.model for checklist calls.
	Model string `yaml:"model" json:"model"`
}

// OrchestratorConfig controls job dispatch side effects.
type OrchestratorConfig struct {
	// AutoWiki starts a wiki run when an indexing run completes.
	AutoWiki bool `yaml:"auto_wiki" json:"auto_wiki"`
	// WebhookURLs receive a POST on run completion and failure.
	WebhookURLs           []string `yaml:"webhook_urls" json:"webhook_urls"`
	WebhookTimeoutSeconds int      `yaml:"webhook_timeout_seconds" json:"webhook_timeout_seconds"`
}

// PerformanceConfig bounds pipeline concurrency.
type PerformanceConfig struct {
	// DocumentWorkers bounds concurrent per-document pipelines.
	DocumentWorkers int `yaml:"document_workers" json:"document_workers"`
	// BatchConcurrency bounds parallel embedding batches.
	BatchConcurrency int `yaml:"batch_concurrency" json:"batch_concurrency"`
	// CacheSize is the query-embedding LRU entry count.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// WatchDebounce is the quiet period before the inbox watcher
	// enqueues a changed PDF, in time.ParseDuration syntax.
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// LoggingConfig controls the structured log output.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	// File is the log file path. Empty resolves to logs/conrag.log
	// under the data directory.
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
	Stderr    bool   `yaml:"stderr" json:"stderr"`
}

// NewConfig returns the hardcoded defaults.
func NewConfig() *Config {
	return &Config{
		Version:  1,
		Defaults: DefaultsConfig{Language: LanguageDanish},
		Ingest: IngestConfig{
			Include:       []string{"**/*.pdf"},
			Exclude:       []string{"**/.*/**"},
			MaxFileSizeMB: 200,
		},
		Storage: StorageConfig{
			DataDir:     ".conrag",
			ObjectStore: objstore.Config{Backend: objstore.BackendFS, Bucket: "conrag", Region: "us-east-1", PartSize: 16 * 1024 * 1024},
			Vector:      store.DefaultVectorConfig(),
		},
		Services: ServicesConfig{
			Partition: PartitionServiceConfig{
				BaseURL:        "http://localhost:8010",
				TimeoutSeconds: 600,
				PoolSize:       4,
			},
			LLM: LLMServiceConfig{
				Model:             llm.DefaultChatModel,
				MaxTokens:         4096,
				Temperature:       0.2,
				TimeoutSeconds:    60,
				VLMTimeoutSeconds: 60,
			},
			RateLimits: ratelimit.DefaultLimits(),
		},
		Indexing: IndexingConfig{
			Partition: partition.DefaultConfig(),
			Enrichment: EnrichmentConfig{
				CaptionLanguage:      "",
				MaxTextContextLength: 1000,
				MaxPageTextElements:  5,
			},
			Chunking: ChunkingConfig{
				Strategy:     ChunkingElementBased,
				MinChunkSize: 100,
				MaxChunkSize: 1000,
				Overlap:      200,
			},
			Embedding: EmbeddingConfig{
				Provider:       embed.ProviderOpenAI,
				Model:          "voyage-multilingual-2",
				Dimensions:     store.EmbeddingDimensions,
				BatchSize:      64,
				TimeoutSeconds: 30,
			},
		},
		Query: QueryConfig{
			Retrieval: search.DefaultConfig(),
			Keyword:   KeywordSearchConfig{Enabled: true, Index: store.DefaultKeywordConfig()},
			// Answer language is left empty so defaults.language drives it.
			Answer: answer.Config{TopK: 5, MaxContextTokens: 8000},
		},
		Wiki: WikiConfig{
			OverviewQueryCount: 12,
			SemanticClusters:   SemanticClustersConfig{Enabled: true, MinClusters: 4, MaxClusters: 10},
			Generation:         WikiGenerationConfig{MaxPages: 10, QueriesPerPage: 4},
		},
		Checklist: ChecklistConfig{},
		Orchestrator: OrchestratorConfig{
			AutoWiki:              false,
			WebhookTimeoutSeconds: 10,
		},
		Performance: PerformanceConfig{
			DocumentWorkers:  2,
			BatchConcurrency: 4,
			CacheSize:        4096,
			WatchDebounce:    "2s",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
			Stderr:    true,
		},
	}
}

// ProjectConfigName is the project config file looked up in the root.
const ProjectConfigName = ".conrag.yaml"

// GetUserConfigPath returns the user-level config path, honoring
// XDG_CONFIG_HOME.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "conrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "conrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "conrag", "config.yaml")
}

// Load builds the effective configuration for a project directory.
// Precedence, lowest to highest: defaults, user config, project
// config, CONRAG_* environment variables.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	for _, name := range []string{ProjectConfigName, ".conrag.yml"} {
		path := filepath.Join(dir, name)
		if !fileExists(path) {
			continue
		}
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
		break
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML decodes a config file over the current values. Unknown keys
// are rejected so typos surface instead of silently using defaults.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies CONRAG_* variables, plus the conventional
// provider key names as fallbacks for empty API keys.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CONRAG_LANGUAGE"); v != "" {
		c.Defaults.Language = v
	}
	if v := os.Getenv("CONRAG_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("CONRAG_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv("CONRAG_PARTITION_URL"); v != "" {
		c.Services.Partition.BaseURL = v
	}
	if v := os.Getenv("CONRAG_PARTITION_API_KEY"); v != "" {
		c.Services.Partition.APIKey = v
	}

	if v := os.Getenv("CONRAG_LLM_BASE_URL"); v != "" {
		c.Services.LLM.BaseURL = v
	}
	if v := os.Getenv("CONRAG_LLM_MODEL"); v != "" {
		c.Services.LLM.Model = v
	}
	if v := os.Getenv("CONRAG_LLM_API_KEY"); v != "" {
		c.Services.LLM.APIKey = v
	} else if c.Services.LLM.APIKey == "" {
		c.Services.LLM.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}

	if v := os.Getenv("CONRAG_EMBEDDING_BASE_URL"); v != "" {
		c.Indexing.Embedding.BaseURL = v
	}
	if v := os.Getenv("CONRAG_EMBEDDING_MODEL"); v != "" {
		c.Indexing.Embedding.Model = v
	}
	if v := os.Getenv("CONRAG_EMBEDDING_PROVIDER"); v != "" {
		c.Indexing.Embedding.Provider = v
	}
	if v := os.Getenv("CONRAG_EMBEDDING_API_KEY"); v != "" {
		c.Indexing.Embedding.APIKey = v
	} else if c.Indexing.Embedding.APIKey == "" {
		c.Indexing.Embedding.APIKey = os.Getenv("VOYAGE_API_KEY")
	}

	if v := os.Getenv("CONRAG_MINIO_ENDPOINT"); v != "" {
		c.Storage.ObjectStore.Backend = objstore.BackendMinIO
		c.Storage.ObjectStore.Endpoint = v
	}
	if v := os.Getenv("CONRAG_MINIO_ACCESS_KEY"); v != "" {
		c.Storage.ObjectStore.AccessKey = v
	}
	if v := os.Getenv("CONRAG_MINIO_SECRET_KEY"); v != "" {
		c.Storage.ObjectStore.SecretKey = v
	}
	if v := os.Getenv("CONRAG_MINIO_BUCKET"); v != "" {
		c.Storage.ObjectStore.Bucket = v
	}

	if v := os.Getenv("CONRAG_DOCUMENT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Performance.DocumentWorkers = n
		}
	}
	if v := os.Getenv("CONRAG_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Query.Retrieval.TopK = n
		}
	}
	if v := os.Getenv("CONRAG_AUTO_WIKI"); v != "" {
		c.Orchestrator.AutoWiki = strings.EqualFold(v, "true") || v == "1"
	}
}

// Validate rejects configurations no pipeline can run with.
func (c *Config) Validate() error {
	if err := c.Indexing.Partition.Validate(); err != nil {
		return fmt.Errorf("indexing.partition: %w", err)
	}

	ch := c.Indexing.Chunking
	switch ch.Strategy {
	case ChunkingElementBased, ChunkingSemantic:
	default:
		return fmt.Errorf("indexing.chunking.strategy must be %q or %q, got %q",
			ChunkingElementBased, ChunkingSemantic, ch.Strategy)
	}
	if ch.MaxChunkSize <= 0 {
		return fmt.Errorf("indexing.chunking.max_chunk_size must be positive, got %d", ch.MaxChunkSize)
	}
	if ch.MinChunkSize < 0 || ch.MinChunkSize > ch.MaxChunkSize {
		return fmt.Errorf("indexing.chunking.min_chunk_size must be in [0, max_chunk_size], got %d", ch.MinChunkSize)
	}
	if ch.Overlap < 0 || ch.Overlap >= ch.MaxChunkSize {
		return fmt.Errorf("indexing.chunking.overlap must be in [0, max_chunk_size), got %d", ch.Overlap)
	}

	if c.Indexing.Embedding.Dimensions <= 0 {
		return fmt.Errorf("indexing.embedding.dimensions must be positive, got %d", c.Indexing.Embedding.Dimensions)
	}
	if c.Indexing.Embedding.BatchSize <= 0 {
		return fmt.Errorf("indexing.embedding.batch_size must be positive, got %d", c.Indexing.Embedding.BatchSize)
	}

	if c.Query.Retrieval.TopK <= 0 {
		return fmt.Errorf("query.retrieval.top_k must be positive, got %d", c.Query.Retrieval.TopK)
	}
	for name, t := range map[string]search.Thresholds{
		"danish_thresholds":     c.Query.Retrieval.DanishThresholds,
		"similarity_thresholds": c.Query.Retrieval.GenericThresholds,
	} {
		if !(t.Excellent >= t.Good && t.Good >= t.Acceptable && t.Acceptable >= t.Minimum) {
			return fmt.Errorf("query.retrieval.%s must be non-increasing excellent >= good >= acceptable >= minimum", name)
		}
	}

	w := c.Wiki
	if w.OverviewQueryCount <= 0 {
		return fmt.Errorf("wiki.overview_query_count must be positive, got %d", w.OverviewQueryCount)
	}
	if w.SemanticClusters.MinClusters < 1 || w.SemanticClusters.MaxClusters < w.SemanticClusters.MinClusters {
		return fmt.Errorf("wiki.semantic_clusters requires 1 <= min_clusters <= max_clusters, got %d..%d",
			w.SemanticClusters.MinClusters, w.SemanticClusters.MaxClusters)
	}
	if w.Generation.MaxPages <= 0 || w.Generation.QueriesPerPage <= 0 {
		return fmt.Errorf("wiki.generation.max_pages and queries_per_page must be positive")
	}

	if c.Performance.DocumentWorkers < 1 {
		return fmt.Errorf("performance.document_workers must be at least 1, got %d", c.Performance.DocumentWorkers)
	}
	if c.Performance.BatchConcurrency < 1 {
		return fmt.Errorf("performance.batch_concurrency must be at least 1, got %d", c.Performance.BatchConcurrency)
	}
	if d := c.Performance.WatchDebounce; d != "" {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("performance.watch_debounce: %w", err)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

// Language returns the effective output language for a component
// override, falling back to defaults.language.
func (c *Config) Language(override string) string {
	if override != "" {
		return override
	}
	if c.Defaults.Language != "" {
		return c.Defaults.Language
	}
	return LanguageDanish
}

// DataDir resolves the data directory against the project root.
func (c *Config) DataDir(root string) string {
	if filepath.IsAbs(c.Storage.DataDir) {
		return c.Storage.DataDir
	}
	return filepath.Join(root, c.Storage.DataDir)
}

// DBPath is the SQLite database file inside the data directory.
func (c *Config) DBPath(root string) string {
	return filepath.Join(c.DataDir(root), "conrag.db")
}

// VectorDir holds the per-run HNSW graph files.
func (c *Config) VectorDir(root string) string {
	return filepath.Join(c.DataDir(root), "vectors")
}

// LockDir holds the per-run flock files.
func (c *Config) LockDir(root string) string {
	return filepath.Join(c.DataDir(root), "locks")
}

// PartitionClientConfig builds the partition HTTP client settings.
func (c *Config) PartitionClientConfig() partition.ClientConfig {
	p := c.Services.Partition
	return partition.ClientConfig{
		BaseURL:  p.BaseURL,
		APIKey:   p.APIKey,
		Timeout:  time.Duration(p.TimeoutSeconds) * time.Second,
		PoolSize: p.PoolSize,
	}
}

// LLMClientConfig builds the chat/VLM client settings.
func (c *Config) LLMClientConfig() llm.Config {
	l := c.Services.LLM
	return llm.Config{
		BaseURL:     l.BaseURL,
		APIKey:      l.APIKey,
		Model:       l.Model,
		MaxTokens:   l.MaxTokens,
		Temperature: l.Temperature,
		Timeout:     time.Duration(l.TimeoutSeconds) * time.Second,
		VLMTimeout:  time.Duration(l.VLMTimeoutSeconds) * time.Second,
	}
}

// EmbedderConfig builds the embedding client settings. The LRU size
// comes from performance.cache_size.
func (c *Config) EmbedderConfig() embed.Config {
	e := c.Indexing.Embedding
	return embed.Config{
		Provider:   e.Provider,
		BaseURL:    e.BaseURL,
		APIKey:     e.APIKey,
		Model:      e.Model,
		Dimensions: e.Dimensions,
		BatchSize:  e.BatchSize,
		Timeout:    time.Duration(e.TimeoutSeconds) * time.Second,
		CacheSize:  c.Performance.CacheSize,
	}
}

// ObjectStoreConfig resolves the object store settings. The filesystem
// backend defaults its root to objects/ under the data directory.
func (c *Config) ObjectStoreConfig(root string) objstore.Config {
	oc := c.Storage.ObjectStore
	if oc.Backend == objstore.BackendFS && oc.BaseDir == "" {
		oc.BaseDir = filepath.Join(c.DataDir(root), "objects")
	}
	return oc
}

// LoggingConfig resolves the log settings. An empty file path lands in
// logs/ under the data directory.
func (c *Config) LoggingConfig(root string) logging.Config {
	l := c.Logging
	file := l.File
	if file == "" {
		file = filepath.Join(c.DataDir(root), "logs", "conrag.log")
	}
	return logging.Config{
		Level:         l.Level,
		FilePath:      file,
		MaxSizeMB:     l.MaxSizeMB,
		MaxFiles:      l.MaxFiles,
		WriteToStderr: l.Stderr,
	}
}

// WatchDebounce parses the configured debounce, defaulting to 2s.
func (c *Config) WatchDebounce() time.Duration {
	d, err := time.ParseDuration(c.Performance.WatchDebounce)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// FindProjectRoot walks up from startDir looking for a project marker:
// a .conrag.yaml file, a .conrag data directory, or a .git directory.
// Without a marker the start directory itself is the root.
func FindProjectRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}
	dir := abs
	for {
		if fileExists(filepath.Join(dir, ProjectConfigName)) ||
			fileExists(filepath.Join(dir, ".conrag.yml")) ||
			dirExists(filepath.Join(dir, ".conrag")) ||
			dirExists(filepath.Join(dir, ".git")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		dir = parent
	}
}

// WriteYAML writes the configuration to a file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
