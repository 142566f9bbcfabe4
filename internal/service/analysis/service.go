// Package analysis runs the product analysis pipeline: embed the product
// description, rank and cluster the closest personas, aggregate the segments.
package analysis

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/zhouzirui/persona-lens/backend/internal/apperr"
	"github.com/zhouzirui/persona-lens/backend/internal/logging"
	"github.com/zhouzirui/persona-lens/backend/internal/model/persona"
	"github.com/zhouzirui/persona-lens/backend/internal/service/embedding"
	"github.com/zhouzirui/persona-lens/backend/internal/service/profile"
	"github.com/zhouzirui/persona-lens/backend/internal/service/relevance"
)

// Options are the pipeline defaults.
type Options struct {
	TopK         int
	ClusterCount int
	UnknownLabel string
}

// Request overrides TopK and ClusterCount when they are positive.
type Request struct {
	ProductDescription string
	TopK               int
	ClusterCount       int
}

// Service is safe for concurrent use; it holds no mutable state.
type Service struct {
	embedder embedding.Embedder
	store    persona.Store
	engine   *relevance.Engine
	opts     Options
}

// NewService wires the pipeline.
func NewService(embedder embedding.Embedder, store persona.Store, engine *relevance.Engine, opts Options) *Service {
	if opts.TopK <= 0 {
		opts.TopK = relevance.DefaultTopK
	}
	if opts.ClusterCount <= 0 {
		opts.ClusterCount = relevance.DefaultClusterCount
	}
	return &Service{embedder: embedder, store: store, engine: engine, opts: opts}
}

// Analyze builds the customer profile of req.ProductDescription.
func (s *Service) Analyze(ctx context.Context, req Request) (profile.Profile, error) {
	product := strings.TrimSpace(req.ProductDescription)
	if product == "" {
		return profile.Profile{}, apperr.Validation("product_description is required")
	}

	topK := s.opts.TopK
	if req.TopK > 0 {
		topK = req.TopK
	}
	clusterCount := s.opts.ClusterCount
	if req.ClusterCount > 0 {
		clusterCount = req.ClusterCount
	}

	started := time.Now()
	vector, err := s.embedder.Embed(ctx, product)
	if err != nil {
		return profile.Profile{}, goerr.Wrap(err, "failed to embed product description")
	}

	result, clusters, err := s.engine.RankAndCluster(vector, s.store, topK, clusterCount)
	if err != nil {
		return profile.Profile{}, err
	}

	out, err := profile.Aggregate(result, clusters, s.store, profile.Options{UnknownLabel: s.opts.UnknownLabel})
	if err != nil {
		return profile.Profile{}, err
	}

	logging.From(ctx).Info("product analyzed",
		"matches", result.Len(),
		"clusters", len(clusters),
		"elapsed", time.Since(started),
	)
	return out, nil
}
