// Package vectorsearch issues KNN similarity queries against the task
// store's tooltask index. ARRE only ever searches this index; indexing
// tooltask embeddings as they are created is the task store's concern,
// not this service's.
//
// The Milvus wiring (connection setup, consistency level, search
// param construction) mirrors the pack's own milvus search client:
// one collection, one vector field, a configurable metric and nprobe,
// with results converted from column-oriented SDK output into a plain
// ranked slice.
package vectorsearch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/arre-io/arre/internal/config"
)

// Embedder encodes free text into the dense vector space the task
// index was built over. Production wiring supplies whatever text
// embedding provider the deployment uses; tests supply a fake.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config holds the Milvus collection and search-parameter defaults.
type Config struct {
	Address        string
	CollectionName string
	VectorField    string
	TaskIDField    string
	ToolTaskField  string
	NProbe         int
	ConnectTimeout time.Duration
	SearchTimeout  time.Duration

	// K is the number of ranked candidates returned to the caller.
	K int

	// CandidatePoolSize bounds how many rows Milvus is asked to rank
	// before truncation to K.
	CandidatePoolSize int

	// SimilarityFloor is the minimum cosine similarity a result must
	// clear to be considered a candidate at all.
	SimilarityFloor float64
}

func (c *Config) setDefaults() {
	if c.VectorField == "" {
		c.VectorField = "embedding"
	}
	if c.TaskIDField == "" {
		c.TaskIDField = "task_id"
	}
	if c.ToolTaskField == "" {
		c.ToolTaskField = "is_tooltask"
	}
	if c.NProbe == 0 {
		c.NProbe = 16
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.SearchTimeout == 0 {
		c.SearchTimeout = config.DefaultHTTPTimeout
	}
	if c.K == 0 {
		c.K = config.AISelectorK
	}
	if c.CandidatePoolSize == 0 {
		c.CandidatePoolSize = config.AISelectorCandidatePoolSize
	}
	if c.SimilarityFloor == 0 {
		c.SimilarityFloor = config.AISelectorSimilarityFloor
	}
}

// Candidate is one ranked tooltask returned by a KNN query.
type Candidate struct {
	TaskID     string
	Similarity float64
}

// Client is a KNN query client over a Milvus tooltask collection.
type Client struct {
	milvus   client.Client
	embedder Embedder
	config   Config
	logger   *slog.Logger
}

// New connects to Milvus and returns a ready Client.
func New(ctx context.Context, cfg Config, embedder Embedder, logger *slog.Logger) (*Client, error) {
	cfg.setDefaults()
	if cfg.Address == "" {
		return nil, fmt.Errorf("vectorsearch: Address is required")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("vectorsearch: CollectionName is required")
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	mc, err := client.NewClient(connectCtx, client.Config{Address: cfg.Address})
	if err != nil {
		return nil, fmt.Errorf("vectorsearch: connect to milvus: %w", err)
	}

	logger.Info("vectorsearch client connected", "address", cfg.Address, "collection", cfg.CollectionName)
	return &Client{milvus: mc, embedder: embedder, config: cfg, logger: logger}, nil
}

// Close releases the underlying Milvus connection.
func (c *Client) Close() error {
	return c.milvus.Close()
}

// SearchToolTasks embeds queryText and returns up to K ranked tooltask
// candidates clearing the configured similarity floor, restricted to
// rows where is_tooltask is true. Ties in similarity are broken by
// ascending task id so results are deterministic across identical
// queries.
func (c *Client) SearchToolTasks(ctx context.Context, queryText string) ([]Candidate, error) {
	vec, err := c.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("vectorsearch: embed query: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("vectorsearch: embedder returned empty vector")
	}

	searchCtx, cancel := context.WithTimeout(ctx, c.config.SearchTimeout)
	defer cancel()

	sp, err := entity.NewIndexIvfFlatSearchParam(c.config.NProbe)
	if err != nil {
		return nil, fmt.Errorf("vectorsearch: build search param: %w", err)
	}

	filter := fmt.Sprintf("%s == true", c.config.ToolTaskField)
	vectors := []entity.Vector{entity.FloatVector(vec)}

	results, err := c.milvus.Search(
		searchCtx,
		c.config.CollectionName,
		[]string{},
		filter,
		[]string{c.config.TaskIDField},
		vectors,
		c.config.VectorField,
		entity.COSINE,
		c.config.CandidatePoolSize,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("vectorsearch: search failed: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	candidates := c.convertResult(results[0])
	candidates = filterBySimilarity(candidates, c.config.SimilarityFloor)
	rankCandidates(candidates)

	if len(candidates) > c.config.K {
		candidates = candidates[:c.config.K]
	}
	return candidates, nil
}

func (c *Client) convertResult(res client.SearchResult) []Candidate {
	candidates := make([]Candidate, 0, res.ResultCount)
	var taskIDCol *entity.ColumnVarChar
	for _, col := range res.Fields {
		if col.Name() == c.config.TaskIDField {
			if vc, ok := col.(*entity.ColumnVarChar); ok {
				taskIDCol = vc
			}
		}
	}
	if taskIDCol == nil {
		c.logger.Warn("vectorsearch: task id column missing from search result")
		return candidates
	}

	for i := 0; i < res.ResultCount; i++ {
		if i >= taskIDCol.Len() {
			break
		}
		candidates = append(candidates, Candidate{
			TaskID:     taskIDCol.Data()[i],
			Similarity: float64(res.Scores[i]),
		})
	}
	return candidates
}

func filterBySimilarity(candidates []Candidate, floor float64) []Candidate {
	kept := make([]Candidate, 0, len(candidates))
	for _, cand := range candidates {
		// Milvus reports scores as float32; compare at that precision
		// so a score equal to the floor is kept.
		if float32(cand.Similarity) >= float32(floor) {
			kept = append(kept, cand)
		}
	}
	return kept
}

// rankCandidates sorts by descending similarity, breaking ties by
// ascending task id.
func rankCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if math.Abs(candidates[i].Similarity-candidates[j].Similarity) > 1e-9 {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].TaskID < candidates[j].TaskID
	})
}
