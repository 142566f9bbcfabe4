package feedback

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/zhouzirui/persona-lens/backend/internal/apperr"
)

// Score bounds shared by every dimension.
const (
	MinScore = 1
	MaxScore = 10
)

// Dimension is one scored aspect of a persona's opinion.
type Dimension struct {
	Score       int    `json:"score"`
	Explanation string `json:"explanation"`
}

// Record is the structured opinion of one persona about one product.
type Record struct {
	PurchaseIntent Dimension `json:"purchase_intent"`
	ProductRating  Dimension `json:"product_rating"`
	IdeaRelevance  Dimension `json:"idea_relevance"`
}

// Key identifies a cached record.
type Key struct {
	PersonaID          string
	ProductDescription string
}

// Validate checks score ranges and explanations.
func (r Record) Validate() error {
	dims := []struct {
		name string
		dim  Dimension
	}{
		{"purchase_intent", r.PurchaseIntent},
		{"product_rating", r.ProductRating},
		{"idea_relevance", r.IdeaRelevance},
	}
	for _, d := range dims {
		if d.dim.Score < MinScore || d.dim.Score > MaxScore {
			return apperr.Parse(nil, "feedback score out of range",
				goerr.V("dimension", d.name),
				goerr.V("score", d.dim.Score),
			)
		}
		if strings.TrimSpace(d.dim.Explanation) == "" {
			return apperr.Parse(nil, "feedback explanation is empty", goerr.V("dimension", d.name))
		}
	}
	return nil
}
