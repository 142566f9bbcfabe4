package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/zhouzirui/persona-lens/backend/internal/apperr"
	"github.com/zhouzirui/persona-lens/backend/internal/logging"
	"github.com/zhouzirui/persona-lens/backend/internal/model/feedback"
	"github.com/zhouzirui/persona-lens/backend/internal/model/persona"
	"github.com/zhouzirui/persona-lens/backend/internal/retry"
	"github.com/zhouzirui/persona-lens/backend/internal/service/ai"
)

const (
	// DefaultMaxInFlight bounds concurrent model calls of one batch.
	DefaultMaxInFlight = 4
	// DefaultMaxBatchSize bounds the distinct personas of one batch.
	DefaultMaxBatchSize = 50
)

// Completer runs one stateless prompt against the language model.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Engine produces and caches persona feedback.
type Engine struct {
	store       persona.Store
	llm         Completer
	cache       Cache
	policy      retry.Policy
	maxInFlight int
	maxBatch    int

	group singleflight.Group
}

// Option customises an Engine.
type Option func(*Engine)

// WithRetryPolicy overrides the retry policy of model calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithMaxInFlight bounds concurrent model calls in Batch.
func WithMaxInFlight(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxInFlight = n
		}
	}
}

// WithMaxBatchSize bounds the number of distinct pids one Batch accepts.
func WithMaxBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxBatch = n
		}
	}
}

// NewEngine builds an engine. A nil cache falls back to a MemoryCache.
func NewEngine(store persona.Store, llm Completer, cache Cache, opts ...Option) *Engine {
	if cache == nil {
		cache = NewMemoryCache()
	}
	e := &Engine{
		store:       store,
		llm:         llm,
		cache:       cache,
		policy:      retry.DefaultPolicy(),
		maxInFlight: DefaultMaxInFlight,
		maxBatch:    DefaultMaxBatchSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Get returns the feedback of pid about product, computing it on first use.
func (e *Engine) Get(ctx context.Context, pid, product string) (feedback.Record, error) {
	key, err := newKey(pid, product)
	if err != nil {
		return feedback.Record{}, err
	}

	rec, err := e.store.Get(key.PersonaID)
	if err != nil {
		return feedback.Record{}, err
	}

	if cached, ok := e.lookup(ctx, key); ok {
		return cached, nil
	}

	// the shared call outlives any single caller; each caller only stops
	// waiting when its own ctx is done.
	ch := e.group.DoChan(key.PersonaID+"\x00"+key.ProductDescription, func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		if cached, ok := e.lookup(ctx, key); ok {
			return cached, nil
		}

		out, err := e.generate(ctx, rec, key.ProductDescription)
		if err != nil {
			return nil, err
		}

		if err := e.cache.Put(ctx, key, out); err != nil {
			logging.From(ctx).Warn("failed to cache feedback", "pid", key.PersonaID, "error", err)
		}
		return out, nil
	})

	select {
	case <-ctx.Done():
		return feedback.Record{}, goerr.Wrap(ctx.Err(), "feedback request abandoned", goerr.V("pid", key.PersonaID))
	case res := <-ch:
		if res.Err != nil {
			return feedback.Record{}, res.Err
		}
		return res.Val.(feedback.Record), nil
	}
}

// Invalidate drops the cached feedback of pid about product.
func (e *Engine) Invalidate(ctx context.Context, pid, product string) error {
	key, err := newKey(pid, product)
	if err != nil {
		return err
	}
	return e.cache.Delete(ctx, key)
}

// Failure is the error of one persona inside a batch.
type Failure struct {
	PersonaID string
	Err       error
}

// BatchResult holds the successful records keyed by pid and the failures in
// request order.
type BatchResult struct {
	Feedback map[string]feedback.Record
	Failed   []Failure
}

// Batch runs Get for every distinct pid with bounded concurrency. A failing
// pid never cancels the others.
func (e *Engine) Batch(ctx context.Context, pids []string, product string) (BatchResult, error) {
	if strings.TrimSpace(product) == "" {
		return BatchResult{}, apperr.Validation("product_description is required")
	}

	unique := make([]string, 0, len(pids))
	seen := make(map[string]struct{}, len(pids))
	for _, pid := range pids {
		pid = strings.TrimSpace(pid)
		if pid == "" {
			continue
		}
		if _, dup := seen[pid]; dup {
			continue
		}
		seen[pid] = struct{}{}
		unique = append(unique, pid)
	}
	if len(unique) == 0 {
		return BatchResult{}, apperr.Validation("pids are required")
	}
	if len(unique) > e.maxBatch {
		return BatchResult{}, apperr.Validation("too many pids in one batch",
			goerr.V("count", len(unique)), goerr.V("limit", e.maxBatch))
	}

	var (
		mu      sync.Mutex
		records = make(map[string]feedback.Record, len(unique))
		errs    = make([]error, len(unique))
	)

	var g errgroup.Group
	g.SetLimit(e.maxInFlight)
	for i, pid := range unique {
		g.Go(func() error {
			rec, err := e.Get(ctx, pid, product)
			if err != nil {
				errs[i] = err
				return nil
			}
			mu.Lock()
			records[pid] = rec
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	result := BatchResult{Feedback: records}
	for i, err := range errs {
		if err != nil {
			logging.From(ctx).Warn("persona feedback failed", "pid", unique[i], "error", err)
			result.Failed = append(result.Failed, Failure{PersonaID: unique[i], Err: err})
		}
	}
	return result, nil
}

func (e *Engine) lookup(ctx context.Context, key feedback.Key) (feedback.Record, bool) {
	rec, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		logging.From(ctx).Warn("feedback cache lookup failed", "pid", key.PersonaID, "error", err)
		return feedback.Record{}, false
	}
	return rec, ok
}

func (e *Engine) generate(ctx context.Context, rec persona.Record, product string) (feedback.Record, error) {
	prompt := ai.FeedbackPrompt(rec, product)

	var content string
	err := retry.Do(ctx, e.policy, "feedback", func(ctx context.Context) error {
		out, err := e.llm.Complete(ctx, ai.FeedbackSystemPrompt, prompt)
		if err != nil {
			if !errors.Is(err, apperr.ErrUpstream) {
				err = apperr.Upstream(err, "feedback model call failed")
			}
			return err
		}
		content = out
		return nil
	})
	if err != nil {
		return feedback.Record{}, goerr.Wrap(err, "failed to generate feedback", goerr.V("pid", rec.ID))
	}

	out, err := Parse(content)
	if err != nil {
		return feedback.Record{}, goerr.Wrap(err, "invalid feedback reply", goerr.V("pid", rec.ID))
	}

	logging.From(ctx).Info("persona feedback generated", "pid", rec.ID,
		"purchase_intent", out.PurchaseIntent.Score,
		"product_rating", out.ProductRating.Score,
		"idea_relevance", out.IdeaRelevance.Score,
	)
	return out, nil
}

// Parse decodes a model reply into a validated record. Text around the
// outermost JSON object, such as code fences, is ignored.
func Parse(content string) (feedback.Record, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return feedback.Record{}, apperr.Parse(nil, "no JSON object in model reply")
	}

	var rec feedback.Record
	if err := json.Unmarshal([]byte(content[start:end+1]), &rec); err != nil {
		return feedback.Record{}, apperr.Parse(err, "malformed feedback JSON")
	}
	for _, d := range []*feedback.Dimension{&rec.PurchaseIntent, &rec.ProductRating, &rec.IdeaRelevance} {
		d.Explanation = strings.TrimSpace(d.Explanation)
	}
	if err := rec.Validate(); err != nil {
		return feedback.Record{}, err
	}
	return rec, nil
}

func newKey(pid, product string) (feedback.Key, error) {
	pid = strings.TrimSpace(pid)
	product = strings.TrimSpace(product)
	if pid == "" {
		return feedback.Key{}, apperr.Validation("pid is required")
	}
	if product == "" {
		return feedback.Key{}, apperr.Validation("product_description is required")
	}
	return feedback.Key{PersonaID: pid, ProductDescription: product}, nil
}
