package embedding

import (
	"context"
	"strings"
	"sync"

	einoembedding "github.com/cloudwego/eino/components/embedding"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/singleflight"

	"github.com/zhouzirui/persona-lens/backend/internal/apperr"
	"github.com/zhouzirui/persona-lens/backend/internal/logging"
	"github.com/zhouzirui/persona-lens/backend/internal/retry"
)

// Embedder maps text into the persona vector space.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Service wraps a provider with retries, a dimension check and an exact-text
// memo. Identical text always yields the identical vector for the lifetime of
// the process, even when the provider itself is not deterministic.
type Service struct {
	provider  einoembedding.Embedder
	policy    retry.Policy
	dimension int

	group singleflight.Group
	memo  *memo
}

var _ Embedder = (*Service)(nil)

// Option customises a Service.
type Option func(*Service)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithDimension rejects provider vectors whose length differs from n.
func WithDimension(n int) Option {
	return func(s *Service) { s.dimension = n }
}

// WithCacheSize bounds the number of memoised texts. Zero disables the bound.
func WithCacheSize(n int) Option {
	return func(s *Service) { s.memo = newMemo(n) }
}

// NewService wraps provider.
func NewService(provider einoembedding.Embedder, opts ...Option) *Service {
	s := &Service{
		provider: provider,
		policy:   retry.DefaultPolicy(),
		memo:     newMemo(1024),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Embed returns the vector for text.
func (s *Service) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Validation("text to embed is empty")
	}

	if vec, ok := s.memo.get(text); ok {
		return vec, nil
	}

	ch := s.group.DoChan(text, func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		if vec, ok := s.memo.get(text); ok {
			return vec, nil
		}

		var vec []float64
		err := retry.Do(ctx, s.policy, "embed", func(ctx context.Context) error {
			out, err := s.call(ctx, text)
			if err != nil {
				return err
			}
			vec = out
			return nil
		})
		if err != nil {
			return nil, err
		}

		s.memo.put(text, vec)
		return vec, nil
	})

	select {
	case <-ctx.Done():
		return nil, goerr.Wrap(ctx.Err(), "embedding request abandoned")
	case res := <-ch:
		if res.Err != nil {
			logging.From(ctx).Error("embedding failed", "error", res.Err)
			return nil, res.Err
		}
		return append([]float64(nil), res.Val.([]float64)...), nil
	}
}

func (s *Service) call(ctx context.Context, text string) ([]float64, error) {
	vectors, err := s.provider.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, apperr.Upstream(err, "embedding provider call failed")
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, apperr.Upstream(goerr.New("empty embedding response"), "embedding provider returned no vector",
			goerr.V("vectors", len(vectors)))
	}
	vec := vectors[0]
	if s.dimension > 0 && len(vec) != s.dimension {
		return nil, goerr.Wrap(apperr.ErrUpstream, "embedding dimension does not match corpus",
			goerr.V("expected", s.dimension),
			goerr.V("actual", len(vec)),
		)
	}
	return append([]float64(nil), vec...), nil
}

// memo is a bounded exact-text cache evicting in insertion order.
type memo struct {
	mu    sync.RWMutex
	limit int
	items map[string][]float64
	order []string
}

func newMemo(limit int) *memo {
	return &memo{limit: limit, items: make(map[string][]float64)}
}

func (m *memo) get(text string) ([]float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vec, ok := m.items[text]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), vec...), true
}

func (m *memo) put(text string, vec []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[text]; ok {
		return
	}
	if m.limit > 0 && len(m.order) >= m.limit {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.items, oldest)
	}
	m.items[text] = append([]float64(nil), vec...)
	m.order = append(m.order, text)
}
