package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/learnstack/tutord/internal/ai"
)

const (
	// TaskDocument and TaskQuery select the embedding task type for
	// backends that distinguish storage from lookup.
	TaskDocument = "RETRIEVAL_DOCUMENT"
	TaskQuery    = "RETRIEVAL_QUERY"

	DefaultDimension = 384
)

type Config struct {
	Model     string
	Dimension int
	Timeout   int
	CacheSize int
	CacheTTL  time.Duration
}

// Generator turns text spans into fixed-dimension vectors. When the backend
// is unreachable it returns zero vectors instead of failing, flagged as
// degraded so callers can surface the reduced quality: ingestion and search
// stay available during an outage instead of failing the whole flow.
type Generator struct {
	provider ai.IEmbedProvider
	cfg      Config
	cache    *expirable.LRU[string, []float32]
}

func NewGenerator(provider ai.IEmbedProvider, cfg Config) *Generator {
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10000
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 2 * time.Hour
	}
	return &Generator{
		provider: provider,
		cfg:      cfg,
		cache:    expirable.NewLRU[string, []float32](cfg.CacheSize, nil, cfg.CacheTTL),
	}
}

func (g *Generator) Dimension() int {
	return g.cfg.Dimension
}

// EmbedBatch embeds texts in order. The second return reports degraded mode:
// the backend failed and the affected entries are zero vectors.
func (g *Generator) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, bool) {
	if len(texts) == 0 {
		return nil, false
	}
	vectors := make([][]float32, len(texts))
	var missing []int
	for i, text := range texts {
		if cached, ok := g.cache.Get(g.cacheKey(taskType, text)); ok {
			vectors[i] = cached
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return vectors, false
	}

	batch := make([]string, 0, len(missing))
	for _, idx := range missing {
		batch = append(batch, texts[idx])
	}
	embedded, err := g.embed(ctx, batch, taskType)
	if err != nil {
		logutil.GetLogger(ctx).Warn("embedding backend failed, falling back to zero vectors",
			zap.Int("count", len(missing)), zap.Error(err))
		zero := make([]float32, g.cfg.Dimension)
		for _, idx := range missing {
			vectors[idx] = zero
		}
		return vectors, true
	}
	for j, idx := range missing {
		vec := embedded[j]
		vectors[idx] = vec
		g.cache.Add(g.cacheKey(taskType, texts[idx]), vec)
	}
	return vectors, false
}

// EmbedDocument is the single-item convenience for the write path.
func (g *Generator) EmbedDocument(ctx context.Context, text string) ([]float32, bool) {
	vectors, degraded := g.EmbedBatch(ctx, []string{text}, TaskDocument)
	return vectors[0], degraded
}

// EmbedQuery is the single-item convenience for the read path.
func (g *Generator) EmbedQuery(ctx context.Context, text string) ([]float32, bool) {
	vectors, degraded := g.EmbedBatch(ctx, []string{text}, TaskQuery)
	return vectors[0], degraded
}

func (g *Generator) embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if g.provider == nil {
		return nil, ai.ErrUnavailable
	}
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(g.cfg.Timeout)*time.Second)
		defer cancel()
	}
	vectors, err := g.provider.EmbedBatch(ctx, g.cfg.Model, texts, taskType)
	if err != nil {
		return nil, err
	}
	for _, vec := range vectors {
		if len(vec) != g.cfg.Dimension {
			return nil, ai.ErrUnavailable
		}
	}
	return vectors, nil
}

func (g *Generator) cacheKey(taskType, text string) string {
	hash := sha256.Sum256([]byte(text))
	return g.cfg.Model + ":" + taskType + ":" + hex.EncodeToString(hash[:])
}

// EstimateTokens is the ceil(len/4) accounting heuristic. It is never used
// for truncation.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
