package persona

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/zhouzirui/persona-lens/backend/internal/apperr"
)

// Store exposes read-only persona retrieval.
type Store interface {
	Get(id string) (Record, error)
	All() []Record
	Len() int
	Dimension() int
}

// MemoryStore implements Store over an immutable slice kept in corpus order.
type MemoryStore struct {
	items []Record
	index map[string]int
	dim   int
}

var _ Store = (*MemoryStore)(nil)

// Load reads every record through loader and builds a validated store.
func Load(ctx context.Context, loader Loader) (*MemoryStore, error) {
	records, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	return NewMemoryStore(records)
}

// NewMemoryStore validates records and returns a store preloaded with them.
// The corpus must be non-empty, ids must be unique and every embedding must
// share the dimensionality of the first record.
func NewMemoryStore(records []Record) (*MemoryStore, error) {
	if len(records) == 0 {
		return nil, goerr.Wrap(apperr.ErrEmptyCorpus, "corpus contains no persona")
	}

	s := &MemoryStore{
		items: make([]Record, 0, len(records)),
		index: make(map[string]int, len(records)),
		dim:   len(records[0].Embedding),
	}

	for i, rec := range records {
		id := strings.TrimSpace(rec.ID)
		if id == "" {
			return nil, apperr.Corpus(nil, "persona id is missing", goerr.V("position", i))
		}
		if _, dup := s.index[id]; dup {
			return nil, apperr.Corpus(nil, "duplicate persona id", goerr.V("id", id), goerr.V("position", i))
		}
		if len(rec.Embedding) == 0 {
			return nil, apperr.Corpus(nil, "persona embedding is empty", goerr.V("id", id))
		}
		if len(rec.Embedding) != s.dim {
			return nil, apperr.Corpus(nil, "embedding dimension mismatch",
				goerr.V("id", id),
				goerr.V("expected", s.dim),
				goerr.V("actual", len(rec.Embedding)),
			)
		}

		rec = rec.clone()
		rec.ID = id
		s.index[id] = len(s.items)
		s.items = append(s.items, rec)
	}

	return s, nil
}

// Get looks up a persona by identifier.
func (s *MemoryStore) Get(id string) (Record, error) {
	i, ok := s.index[id]
	if !ok {
		return Record{}, apperr.NotFound("persona not found", goerr.V("pid", id))
	}
	return s.items[i].clone(), nil
}

// All returns every persona in corpus order. The slice is a copy but the
// records share their backing arrays with the store and must not be mutated.
func (s *MemoryStore) All() []Record {
	return append([]Record(nil), s.items...)
}

// Len returns the number of personas.
func (s *MemoryStore) Len() int {
	return len(s.items)
}

// Dimension returns the shared embedding length.
func (s *MemoryStore) Dimension() int {
	return s.dim
}
