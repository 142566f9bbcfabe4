package relevance_test

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/persona-lens/backend/internal/apperr"
	"github.com/zhouzirui/persona-lens/backend/internal/model/persona"
	"github.com/zhouzirui/persona-lens/backend/internal/service/relevance"
)

// blobCorpus builds n personas around three well separated directions.
func blobCorpus(t *testing.T, n int) *persona.MemoryStore {
	t.Helper()
	rng := rand.New(rand.NewPCG(7, 7))
	centers := [][]float64{
		{1, 0, 0, 0, 0, 0},
		{0, 1, 0, 0, 0, 0},
		{0, 0, 1, 0, 0, 0},
	}
	genders := []string{"Female", "Male", ""}
	tags := [][]string{
		{"Frugal", "Practical"},
		{"Tech Savvy", "Curious"},
		{"Eco Minded", "Practical"},
	}

	records := make([]persona.Record, n)
	for i := range records {
		c := i % len(centers)
		vec := make([]float64, len(centers[c]))
		for j := range vec {
			vec[j] = centers[c][j] + rng.NormFloat64()*0.01
		}
		records[i] = persona.Record{
			ID:           fmt.Sprintf("user_%03d", i),
			Demographics: persona.Demographics{Gender: genders[i%len(genders)], Age: "30-49"},
			Tags:         tags[c],
			Summary:      "summary",
			Embedding:    vec,
		}
	}
	store, err := persona.NewMemoryStore(records)
	require.NoError(t, err)
	return store
}

func TestRankOrdersBySimilarity(t *testing.T) {
	store := blobCorpus(t, 30)
	engine := relevance.NewEngine(relevance.Config{Seed: 42})

	result, err := engine.Rank([]float64{1, 0, 0, 0, 0, 0}, store, 10)
	require.NoError(t, err)
	require.Equal(t, 10, result.Len())

	for i := 1; i < result.Len(); i++ {
		assert.GreaterOrEqual(t, result.Matches[i-1].Score, result.Matches[i].Score)
	}
	for _, m := range result.Matches {
		rec, err := store.Get(m.PersonaID)
		require.NoError(t, err)
		assert.Greater(t, rec.Embedding[0], 0.5, "pid %s is not from the first blob", m.PersonaID)
	}
}

func TestRankBreaksTiesByCorpusOrder(t *testing.T) {
	records := []persona.Record{
		{ID: "c", Embedding: []float64{1, 0}},
		{ID: "a", Embedding: []float64{0, 1}},
		{ID: "b", Embedding: []float64{1, 0}},
		{ID: "d", Embedding: []float64{2, 0}},
	}
	store, err := persona.NewMemoryStore(records)
	require.NoError(t, err)

	result, err := relevance.NewEngine(relevance.Config{}).Rank([]float64{1, 0}, store, 3)
	require.NoError(t, err)

	ids := []string{result.Matches[0].PersonaID, result.Matches[1].PersonaID, result.Matches[2].PersonaID}
	assert.Equal(t, []string{"c", "b", "d"}, ids)
}

func TestRankUsesWholeCorpusWhenSmallerThanK(t *testing.T) {
	store := blobCorpus(t, 7)
	result, err := relevance.NewEngine(relevance.Config{}).Rank([]float64{0, 1, 0, 0, 0, 0}, store, 50)
	require.NoError(t, err)
	assert.Equal(t, 7, result.Len())
}

func TestRankRejectsBadInput(t *testing.T) {
	store := blobCorpus(t, 6)
	engine := relevance.NewEngine(relevance.Config{})

	_, err := engine.Rank([]float64{1, 0}, store, 5)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = engine.Rank([]float64{1, 0, 0, 0, 0, 0}, store, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = engine.Rank([]float64{1}, nil, 5)
	assert.ErrorIs(t, err, apperr.ErrEmptyCorpus)
}

func TestClustersPartitionTopK(t *testing.T) {
	store := blobCorpus(t, 120)
	engine := relevance.NewEngine(relevance.Config{Seed: 42})
	vector := []float64{0.6, 0.5, 0.4, 0, 0, 0}

	result, clusters, err := engine.RankAndCluster(vector, store, 50, 3)
	require.NoError(t, err)
	require.Len(t, clusters, 3)

	topK := map[string]bool{}
	for _, m := range result.Matches {
		topK[m.PersonaID] = true
	}

	seen := map[string]int{}
	var percentSum float64
	for _, c := range clusters {
		require.NotEmpty(t, c.MemberIDs)
		assert.Contains(t, c.MemberIDs, c.RepresentativeID)
		assert.LessOrEqual(t, len(c.Tags), 5)
		assert.Equal(t, math.Round(float64(len(c.MemberIDs))/50*100), c.Percentage)
		percentSum += c.Percentage
		for _, id := range c.MemberIDs {
			seen[id]++
		}
	}

	assert.Len(t, seen, len(topK))
	for id, count := range seen {
		assert.True(t, topK[id], "pid %s is not in top-k", id)
		assert.Equal(t, 1, count, "pid %s in more than one cluster", id)
	}
	assert.InDelta(t, 100, percentSum, 1)

	for i := 1; i < len(clusters); i++ {
		assert.GreaterOrEqual(t, len(clusters[i-1].MemberIDs), len(clusters[i].MemberIDs))
	}
}

func TestClusterIsDeterministic(t *testing.T) {
	store := blobCorpus(t, 90)
	engine := relevance.NewEngine(relevance.Config{Seed: 99})
	vector := []float64{0.3, 0.3, 0.3, 0.1, 0, 0}

	_, first, err := engine.RankAndCluster(vector, store, 40, 4)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, again, err := engine.RankAndCluster(vector, store, 40, 4)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestClusterSeparatesBlobs(t *testing.T) {
	store := blobCorpus(t, 60)
	engine := relevance.NewEngine(relevance.Config{Seed: 1})

	_, clusters, err := engine.RankAndCluster([]float64{1, 1, 1, 0, 0, 0}, store, 60, 3)
	require.NoError(t, err)
	require.Len(t, clusters, 3)

	for _, c := range clusters {
		assert.Len(t, c.MemberIDs, 20)
		assert.Equal(t, float64(33), c.Percentage)
		assert.Len(t, c.Tags, 2)
	}
}

func TestClusterCountReducedToTopKSize(t *testing.T) {
	store := blobCorpus(t, 30)
	engine := relevance.NewEngine(relevance.Config{Seed: 42})

	result, clusters, err := engine.RankAndCluster([]float64{1, 0, 0, 0, 0, 0}, store, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Len())
	require.Len(t, clusters, 2)
	for _, c := range clusters {
		assert.Len(t, c.MemberIDs, 1)
		assert.Equal(t, float64(50), c.Percentage)
	}
}

func TestClusterHandlesDuplicateEmbeddings(t *testing.T) {
	records := make([]persona.Record, 6)
	for i := range records {
		records[i] = persona.Record{ID: fmt.Sprintf("dup_%d", i), Embedding: []float64{1, 1}}
	}
	store, err := persona.NewMemoryStore(records)
	require.NoError(t, err)

	_, clusters, err := relevance.NewEngine(relevance.Config{Seed: 3}).RankAndCluster([]float64{1, 1}, store, 6, 3)
	require.NoError(t, err)
	require.Len(t, clusters, 3)

	total := 0
	for _, c := range clusters {
		assert.NotEmpty(t, c.MemberIDs)
		total += len(c.MemberIDs)
	}
	assert.Equal(t, 6, total)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1, relevance.CosineSimilarity([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.InDelta(t, 0, relevance.CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Zero(t, relevance.CosineSimilarity([]float64{0, 0}, []float64{0, 1}))
	assert.Zero(t, relevance.CosineSimilarity([]float64{1}, []float64{0, 1}))
}
