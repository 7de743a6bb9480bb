package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jepras/ConstructionRAG-sub001/internal/checklist"
	"github.com/jepras/ConstructionRAG-sub001/internal/config"
	"github.com/jepras/ConstructionRAG-sub001/internal/embed"
	"github.com/jepras/ConstructionRAG-sub001/internal/index"
	"github.com/jepras/ConstructionRAG-sub001/internal/llm"
	"github.com/jepras/ConstructionRAG-sub001/internal/logging"
	"github.com/jepras/ConstructionRAG-sub001/internal/objstore"
	"github.com/jepras/ConstructionRAG-sub001/internal/orchestrator"
	"github.com/jepras/ConstructionRAG-sub001/internal/partition"
	"github.com/jepras/ConstructionRAG-sub001/internal/ratelimit"
	"github.com/jepras/ConstructionRAG-sub001/internal/search"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
	"github.com/jepras/ConstructionRAG-sub001/internal/telemetry"
	"github.com/jepras/ConstructionRAG-sub001/internal/ui"
	"github.com/jepras/ConstructionRAG-sub001/internal/wiki"
)

// timeRounding trims run durations for display.
const timeRounding = 100 * time.Millisecond

// projectRoot resolves the working root: the --root flag when set,
// otherwise the nearest marker directory.
func projectRoot() string {
	if rootOpts.root != "" {
		return rootOpts.root
	}
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}
	return root
}

// setupCLILogging routes slog to the log file only, keeping stdout for
// command output.
func setupCLILogging(cfg *config.Config, root string) func() {
	logCfg := cfg.LoggingConfig(root)
	logCfg.WriteToStderr = false
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return func() {}
	}
	slog.SetDefault(logger)
	return cleanup
}

func openMetadata(cfg *config.Config, root string) (store.MetadataStore, error) {
	if err := os.MkdirAll(cfg.DataDir(root), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	st, err := store.NewSQLiteStore(cfg.DBPath(root))
	if err != nil {
		return nil, err
	}
	return st, nil
}

func buildEmbedder(cfg *config.Config, limiter *ratelimit.Registry) (embed.Embedder, error) {
	e, err := embed.New(cfg.EmbedderConfig(), limiter)
	if err != nil {
		return nil, err
	}
	if size := cfg.Performance.CacheSize; size > 0 {
		cached, err := embed.NewCachedEmbedder(e, size)
		if err != nil {
			return nil, err
		}
		return cached, nil
	}
	return e, nil
}

// queryMetrics wires the telemetry tables onto the metadata database.
func queryMetrics(meta store.MetadataStore) (*telemetry.QueryMetrics, error) {
	ms, err := telemetry.NewSQLiteMetricsStore(meta.DB())
	if err != nil {
		return nil, err
	}
	return telemetry.NewQueryMetrics(ms), nil
}

func buildEngine(meta store.MetadataStore, vectors store.VectorStore, embedder embed.Embedder, cfg *config.Config, metrics *telemetry.QueryMetrics) (*search.Engine, error) {
	matcher := store.NewChunkMatcher(meta, vectors)
	var opts []search.EngineOption
	if metrics != nil {
		opts = append(opts, search.WithMetrics(metrics))
	}
	return search.NewEngine(matcher, meta, embedder, cfg.Query.Retrieval, opts...)
}

// resolveRunID falls back to the most recent indexing run.
func resolveRunID(ctx context.Context, meta store.MetadataStore, runID string) (string, error) {
	if runID != "" {
		return runID, nil
	}
	run, err := meta.LatestIndexingRun(ctx)
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

// retrieval bundles the read-side collaborators for query, answer and
// serve: metadata, vectors, embedder, metrics and the search engine.
type retrieval struct {
	meta    store.MetadataStore
	vectors *store.HNSWStore
	engine  *search.Engine
	metrics *telemetry.QueryMetrics
}

func newRetrieval(cfg *config.Config, root string) (*retrieval, error) {
	meta, err := openMetadata(cfg, root)
	if err != nil {
		return nil, err
	}
	vectors, err := store.NewHNSWStore(cfg.VectorDir(root), cfg.Storage.Vector)
	if err != nil {
		_ = meta.Close()
		return nil, err
	}
	limiter := ratelimit.NewRegistry(cfg.Services.RateLimits)
	embedder, err := buildEmbedder(cfg, limiter)
	if err != nil {
		_ = vectors.Close()
		_ = meta.Close()
		return nil, err
	}
	metrics, err := queryMetrics(meta)
	if err != nil {
		_ = vectors.Close()
		_ = meta.Close()
		return nil, err
	}
	engine, err := buildEngine(meta, vectors, embedder, cfg, metrics)
	if err != nil {
		_ = metrics.Close()
		_ = vectors.Close()
		_ = meta.Close()
		return nil, err
	}
	return &retrieval{meta: meta, vectors: vectors, engine: engine, metrics: metrics}, nil
}

func (r *retrieval) close() {
	_ = r.metrics.Close()
	_ = r.vectors.Close()
	_ = r.meta.Close()
}

// pipelines bundles everything the indexing, wiki and checklist
// runners need, plus the orchestrator that dispatches them. The
// pipeline engine carries no query metrics: wiki and checklist
// retrieval is machine-generated and would drown the user-query
// telemetry.
type pipelines struct {
	meta     store.MetadataStore
	objects  objstore.Store
	vectors  *store.HNSWStore
	keyword  store.KeywordIndex
	parts    partition.Client
	clients  *llm.Clients
	embedder embed.Embedder
	ingestor *index.Ingestor
	orch     *orchestrator.Orchestrator
}

func newPipelines(cfg *config.Config, root string, renderer ui.Renderer) (*pipelines, error) {
	p := &pipelines{}
	ok := false
	defer func() {
		if !ok {
			p.close()
		}
	}()

	meta, err := openMetadata(cfg, root)
	if err != nil {
		return nil, err
	}
	p.meta = meta

	p.objects, err = objstore.New(cfg.ObjectStoreConfig(root))
	if err != nil {
		return nil, err
	}

	p.vectors, err = store.NewHNSWStore(cfg.VectorDir(root), cfg.Storage.Vector)
	if err != nil {
		return nil, err
	}

	if cfg.Query.Keyword.Enabled {
		p.keyword, err = store.NewKeywordIndex(meta.DB(), cfg.DataDir(root), cfg.Query.Keyword.Index)
		if err != nil {
			return nil, err
		}
	}

	limiter := ratelimit.NewRegistry(cfg.Services.RateLimits)
	p.parts = partition.NewHTTPClient(cfg.PartitionClientConfig(), limiter)

	p.clients, err = llm.NewClients(cfg.LLMClientConfig(), limiter)
	if err != nil {
		return nil, err
	}

	p.embedder, err = buildEmbedder(cfg, limiter)
	if err != nil {
		return nil, err
	}

	engine, err := buildEngine(meta, p.vectors, p.embedder, cfg, nil)
	if err != nil {
		return nil, err
	}

	p.ingestor, err = index.NewIngestor(meta, p.objects, cfg)
	if err != nil {
		return nil, err
	}

	indexRunner, err := index.NewRunner(index.Deps{
		Store:     meta,
		Vectors:   p.vectors,
		Keyword:   p.keyword,
		Objects:   p.objects,
		Partition: p.parts,
		VLM:       p.clients.VLM,
		Embedder:  p.embedder,
		Config:    cfg,
		Renderer:  renderer,
	})
	if err != nil {
		return nil, err
	}

	wikiRunner, err := wiki.NewRunner(wiki.Deps{
		Store:     meta,
		Objects:   p.objects,
		Retriever: engine,
		Chat:      p.clients.Chat,
		Config:    cfg,
	})
	if err != nil {
		return nil, err
	}

	checklistRunner, err := checklist.NewRunner(checklist.Deps{
		Store:     meta,
		Retriever: engine,
		Chat:      p.clients.Chat,
		Config:    cfg,
	})
	if err != nil {
		return nil, err
	}

	p.orch, err = orchestrator.NewOrchestrator(orchestrator.Deps{
		Index:     indexRunner,
		Wiki:      wikiRunner,
		Checklist: checklistRunner,
		Config:    cfg,
		LockDir:   cfg.LockDir(root),
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return p, nil
}

func (p *pipelines) close() {
	if p.parts != nil {
		_ = p.parts.Close()
	}
	if p.keyword != nil {
		_ = p.keyword.Close()
	}
	if p.vectors != nil {
		_ = p.vectors.Close()
	}
	if p.objects != nil {
		_ = p.objects.Close()
	}
	if p.meta != nil {
		_ = p.meta.Close()
	}
}
