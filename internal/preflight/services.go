package preflight

import (
	"context"
	"fmt"
	"time"

	"github.com/jepras/ConstructionRAG-sub001/internal/embed"
	"github.com/jepras/ConstructionRAG-sub001/internal/objstore"
)

// CheckAPIKeys verifies the API keys the pipelines depend on. The
// embedding key is required because both indexing and retrieval embed
// text. The chat key only degrades enrichment and generation, so a
// missing one warns instead of failing.
func (c *Checker) CheckAPIKeys() []CheckResult {
	embedding := CheckResult{
		Name:     "embedding_api_key",
		Required: true,
	}
	switch {
	case c.cfg.Indexing.Embedding.Provider == embed.ProviderStatic:
		embedding.Status = StatusPass
		embedding.Message = "static embedder needs no key"
	case c.cfg.Indexing.Embedding.APIKey == "":
		embedding.Status = StatusFail
		embedding.Message = "missing (set CONRAG_EMBEDDING_API_KEY or VOYAGE_API_KEY)"
	default:
		embedding.Status = StatusPass
		embedding.Message = fmt.Sprintf("configured for %s", c.cfg.Indexing.Embedding.Model)
	}

	chat := CheckResult{
		Name:     "llm_api_key",
		Required: false,
	}
	if c.cfg.Services.LLM.APIKey == "" {
		chat.Status = StatusWarn
		chat.Message = "missing (set CONRAG_LLM_API_KEY or OPENROUTER_API_KEY)"
		chat.Details = "Captioning, wiki generation, checklist analysis and answers need it; search does not"
	} else {
		chat.Status = StatusPass
		chat.Message = fmt.Sprintf("configured for %s", c.cfg.Services.LLM.Model)
	}

	return []CheckResult{embedding, chat}
}

// CheckPartition probes the partition service health endpoint.
func (c *Checker) CheckPartition(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "partition_service",
		Required: true,
	}
	if c.partition == nil {
		result.Status = StatusWarn
		result.Required = false
		result.Message = "no client configured"
		return result
	}

	if err := c.partition.Health(ctx); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("unreachable at %s: %v", c.cfg.Services.Partition.BaseURL, err)
		result.Details = "Indexing cannot run without the partition service; search over existing runs still works"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("reachable at %s", c.cfg.Services.Partition.BaseURL)
	return result
}

// CheckObjectStore verifies the object store bucket is reachable.
func (c *Checker) CheckObjectStore(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "object_store",
		Required: true,
	}
	if c.objects == nil {
		result.Status = StatusWarn
		result.Required = false
		result.Message = "no store configured"
		return result
	}

	if err := c.objects.Health(ctx); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("unreachable: %v", err)
		if c.cfg.Storage.ObjectStore.Backend == objstore.BackendMinIO {
			result.Details = fmt.Sprintf("Check endpoint %s and bucket %q",
				c.cfg.Storage.ObjectStore.Endpoint, c.cfg.Storage.ObjectStore.Bucket)
		}
		return result
	}

	result.Status = StatusPass
	switch c.cfg.Storage.ObjectStore.Backend {
	case objstore.BackendMinIO:
		result.Message = fmt.Sprintf("bucket %q reachable at %s",
			c.cfg.Storage.ObjectStore.Bucket, c.cfg.Storage.ObjectStore.Endpoint)
	default:
		result.Message = "filesystem backend ready"
	}
	return result
}

// probeTimeout bounds a single upstream probe so a hung service does
// not stall the doctor.
const probeTimeout = 15 * time.Second
