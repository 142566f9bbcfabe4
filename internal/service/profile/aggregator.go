// Package profile turns a ranked and clustered persona set into the summary
// shown to users.
package profile

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/zhouzirui/persona-lens/backend/internal/model/persona"
	"github.com/zhouzirui/persona-lens/backend/internal/service/relevance"
)

// Options tunes aggregation.
type Options struct {
	// UnknownLabel, when set, counts personas missing a field under this key
	// instead of leaving them out.
	UnknownLabel string
}

// Segment is the displayable summary of one cluster.
type Segment struct {
	Tags         []string             `json:"tags"`
	Demographics persona.Demographics `json:"demographics"`
	PersonaID    string               `json:"pid"`
	Percentage   float64              `json:"percentage"`
}

// Profile is the analyze_product response body.
type Profile struct {
	GenderDistribution map[string]int     `json:"gender_distribution"`
	AgeDistribution    map[string]int     `json:"age_distribution"`
	CustomerProfile    map[string]Segment `json:"customer_profile"`
}

// Aggregate derives distributions over every top-K member and one segment
// per cluster. It has no side effects.
func Aggregate(result relevance.Result, clusters []relevance.Cluster, store persona.Store, opts Options) (Profile, error) {
	out := Profile{
		GenderDistribution: make(map[string]int),
		AgeDistribution:    make(map[string]int),
		CustomerProfile:    make(map[string]Segment, len(clusters)),
	}

	for _, m := range result.Matches {
		rec, err := store.Get(m.PersonaID)
		if err != nil {
			return Profile{}, goerr.Wrap(err, "top-k persona missing from store")
		}
		count(out.GenderDistribution, rec.Demographics.Gender, opts.UnknownLabel)
		count(out.AgeDistribution, rec.Demographics.Age, opts.UnknownLabel)
	}

	for _, c := range clusters {
		tags := c.Tags
		if tags == nil {
			tags = []string{}
		}
		out.CustomerProfile[c.ID] = Segment{
			Tags:         append([]string{}, tags...),
			Demographics: c.Demographics,
			PersonaID:    c.RepresentativeID,
			Percentage:   c.Percentage,
		}
	}

	return out, nil
}

func count(dist map[string]int, value, unknown string) {
	value = strings.TrimSpace(value)
	if value == "" {
		if unknown == "" {
			return
		}
		value = unknown
	}
	dist[value]++
}
