package wiki

import (
	"context"
	"fmt"
	"strings"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/llm"
	"github.com/jepras/ConstructionRAG-sub001/internal/pipeline"
	"github.com/jepras/ConstructionRAG-sub001/internal/search"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

// exemplarsPerCluster is how many centroid-nearest chunks represent a
// cluster in the naming prompt.
const exemplarsPerCluster = 3

// chunksPerCluster sizes k: one cluster per this many chunks, clamped
// to the configured bounds.
const chunksPerCluster = 20

// fallbackClusterNames replace chat-generated names when the model is
// unreachable. Indexed by cluster id; clusters beyond the list get a
// numbered name.
var fallbackClusterNames = map[string][]string{
	search.LanguageDanish: {
		"Tekniske specifikationer",
		"Projektdokumentation",
		"Udførelsesdetaljer",
		"Materialer og mængder",
		"Sikkerhed og arbejdsmiljø",
		"Tidsplaner og planlægning",
		"Kontraktforhold",
		"Installationer og systemer",
		"Kvalitetssikring",
		"Byggepladsforhold",
	},
	"english": {
		"Technical Specifications",
		"Project Documentation",
		"Construction Details",
		"Materials and Quantities",
		"Safety and Compliance",
		"Schedules and Planning",
		"Contracts and Terms",
		"Installations and Systems",
		"Quality Control",
		"Site Logistics",
	},
}

// ClusterSummary names one semantic cluster.
type ClusterSummary struct {
	ClusterID   int    `json:"cluster_id"`
	ClusterName string `json:"cluster_name"`
	ChunkCount  int    `json:"chunk_count"`
}

// ClusteringOutput maps chunks into named topic clusters.
type ClusteringOutput struct {
	// Clusters holds the chunk ids per cluster, indexed by cluster id.
	Clusters         [][]string       `json:"clusters,omitempty"`
	ClusterSummaries []ClusterSummary `json:"cluster_summaries"`
	NClusters        int              `json:"n_clusters"`
}

// clusterChunks groups the run's embedded chunks with k-means and names
// each cluster from its centroid-nearest exemplars. Chat failures fall
// back to a deterministic name per cluster; cancellation propagates.
func (r *Runner) clusterChunks(ctx context.Context, indexingRunID, language string) (ClusteringOutput, pipeline.Outcome, error) {
	var out ClusteringOutput

	chunks, err := r.store.ListRunChunks(ctx, indexingRunID, true)
	if err != nil {
		return out, pipeline.Outcome{}, conerrors.Wrap(conerrors.ErrCodeStoreUnavailable, err)
	}
	if len(chunks) < 2 {
		return out, pipeline.Outcome{
			Summary: map[string]any{"clusters": 0, "clustered_chunks": len(chunks)},
		}, nil
	}

	bounds := r.cfg.Wiki.SemanticClusters
	k := len(chunks) / chunksPerCluster
	if k < bounds.MinClusters {
		k = bounds.MinClusters
	}
	if k > bounds.MaxClusters {
		k = bounds.MaxClusters
	}
	if k > len(chunks) {
		k = len(chunks)
	}

	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		vectors[i] = c.Embedding
	}
	assignments, centroids := kmeans(vectors, k)

	members := make([][]int, len(centroids))
	for vi, ci := range assignments {
		members[ci] = append(members[ci], vi)
	}

	out.Clusters = make([][]string, len(centroids))
	for ci, ms := range members {
		ids := make([]string, len(ms))
		for i, m := range ms {
			ids[i] = chunks[m].ID
		}
		out.Clusters[ci] = ids
	}

	var chatFailures int
	for ci := range centroids {
		if len(members[ci]) == 0 {
			continue
		}
		exemplars := nearestToCentroid(vectors, centroids[ci], members[ci], exemplarsPerCluster)
		name, err := r.nameCluster(ctx, language, chunks, exemplars)
		if err != nil {
			if conerrors.IsKind(err, conerrors.KindCancelled) {
				return out, pipeline.Outcome{}, err
			}
			chatFailures++
			name = fallbackClusterName(language, ci)
		}
		out.ClusterSummaries = append(out.ClusterSummaries, ClusterSummary{
			ClusterID:   ci,
			ClusterName: name,
			ChunkCount:  len(members[ci]),
		})
	}
	out.NClusters = len(out.ClusterSummaries)

	return out, pipeline.Outcome{
		Summary: map[string]any{
			"clusters":         out.NClusters,
			"clustered_chunks": len(chunks),
			"naming_failures":  chatFailures,
		},
	}, nil
}

// nameCluster asks the chat model for a short topic name covering the
// exemplar excerpts.
func (r *Runner) nameCluster(ctx context.Context, language string, chunks []*store.Chunk, exemplars []int) (string, error) {
	var excerpts []string
	for _, e := range exemplars {
		excerpts = append(excerpts, truncateRunes(chunks[e].Content, 400))
	}
	prompt := fmt.Sprintf(clusterNamePrompt(language), strings.Join(excerpts, "\n---\n"))
	name, err := r.chat.Chat(ctx, prompt, llm.ChatOptions{Model: r.chatModel(), MaxTokens: 32})
	if err != nil {
		return "", err
	}
	name = strings.Trim(strings.TrimSpace(name), `"'`)
	if idx := strings.IndexByte(name, '\n'); idx >= 0 {
		name = name[:idx]
	}
	if name == "" {
		return "", conerrors.Malformed("chat", fmt.Errorf("empty cluster name"))
	}
	return name, nil
}

// fallbackClusterName returns the deterministic name for a cluster id.
func fallbackClusterName(language string, id int) string {
	names := fallbackClusterNames["english"]
	if language == search.LanguageDanish {
		names = fallbackClusterNames[search.LanguageDanish]
	}
	if id < len(names) {
		return names[id]
	}
	if language == search.LanguageDanish {
		return fmt.Sprintf("Emne %d", id+1)
	}
	return fmt.Sprintf("Cluster %d", id+1)
}
