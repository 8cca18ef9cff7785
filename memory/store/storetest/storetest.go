// Package storetest is a conformance suite for memory.Store implementations.
package storetest

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/avatarmem/memory"
)

// Factory returns an empty store accepting dims-dimensional vectors.
type Factory func(t *testing.T, dims int) memory.Store

// Run exercises every memory.Store guarantee against stores from factory.
// dims must be at least 4. Each subtest gets a fresh store; owners are
// unique per subtest so shared backends do not interfere.
func Run(t *testing.T, dims int, factory Factory) {
	require.GreaterOrEqual(t, dims, 4)

	s := &suite{dims: dims, factory: factory}
	t.Run("Isolation", s.testIsolation)
	t.Run("IsolationRandomized", s.testIsolationRandomized)
	t.Run("ThresholdMonotonicity", s.testThresholdMonotonicity)
	t.Run("MaxResults", s.testMaxResults)
	t.Run("BatchPartialFailure", s.testBatchPartialFailure)
	t.Run("DeleteIdempotent", s.testDeleteIdempotent)
	t.Run("ListRoundTrip", s.testListRoundTrip)
	t.Run("InvalidScope", s.testInvalidScope)
	t.Run("InvalidQuery", s.testInvalidQuery)
	t.Run("EmptyScope", s.testEmptyScope)
}

type suite struct {
	dims    int
	factory Factory
}

// Vec returns a unit vector of length dims with the given leading
// components.
func Vec(dims int, components ...float32) []float32 {
	v := make([]float32, dims)
	copy(v, components)
	var norm float64
	for _, c := range v {
		norm += float64(c) * float64(c)
	}
	if norm == 0 {
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

func uniqueOwner(t *testing.T) string {
	t.Helper()
	return "owner-" + string(memory.NewFragmentID())
}

func scope(t *testing.T, owner, avatar, token string) memory.ScopeKey {
	t.Helper()
	k, err := memory.ResolveScope(owner, avatar, token)
	require.NoError(t, err)
	return k
}

func (s *suite) item(text string, components ...float32) memory.NewFragment {
	return memory.NewFragment{
		Text:      text,
		Embedding: Vec(s.dims, components...),
		Context:   memory.NewConversationContext(time.Now(), "source message for "+text, "neutral"),
	}
}

func (s *suite) store(t *testing.T, st memory.Store, k memory.ScopeKey, items ...memory.NewFragment) []memory.FragmentID {
	t.Helper()
	res, err := st.StoreBatch(context.Background(), k, items)
	require.NoError(t, err)
	require.Empty(t, res.Failures)
	require.Len(t, res.IDs, len(items))
	return res.IDs
}

func ids(hits []memory.ScoredFragment) []memory.FragmentID {
	out := make([]memory.FragmentID, len(hits))
	for i, h := range hits {
		out[i] = h.Fragment.ID
	}
	return out
}

func (s *suite) testIsolation(t *testing.T) {
	ctx := context.Background()
	st := s.factory(t, s.dims)
	owner := uniqueOwner(t)

	scopes := map[string]memory.ScopeKey{
		"owner":       scope(t, owner, "avatar-1", ""),
		"visitorA":    scope(t, owner, "avatar-1", "token-a"),
		"visitorB":    scope(t, owner, "avatar-1", "token-b"),
		"otherAvatar": scope(t, owner, "avatar-2", "token-a"),
		"otherOwner":  scope(t, owner+"-x", "avatar-1", "token-a"),
	}
	stored := map[string]memory.FragmentID{}
	for name, k := range scopes {
		// Identical text and vector in every scope
		stored[name] = s.store(t, st, k, s.item("Likes green tea in the morning", 1, 0, 0, 0))[0]
	}

	probe := Vec(s.dims, 1, 0, 0, 0)
	for name, k := range scopes {
		hits, err := st.Query(ctx, k, probe, 0, 100)
		require.NoError(t, err)
		require.Len(t, hits, 1, name)
		assert.Equal(t, stored[name], hits[0].Fragment.ID, name)
		assert.Equal(t, k, hits[0].Fragment.Scope, name)

		all, err := st.List(ctx, k)
		require.NoError(t, err)
		require.Len(t, all, 1, name)
		assert.Equal(t, stored[name], all[0].ID, name)
	}
}

// testIsolationRandomized scatters random vectors over many scopes and
// checks that no query, whatever its vector, threshold or limit, returns a
// fragment stored under another scope.
func (s *suite) testIsolationRandomized(t *testing.T) {
	ctx := context.Background()
	st := s.factory(t, s.dims)
	rng := rand.New(rand.NewPCG(7, 42))
	base := uniqueOwner(t)

	var scopes []memory.ScopeKey
	for o := 0; o < 3; o++ {
		for a := 0; a < 2; a++ {
			for _, tok := range []string{"", "tok-1", "tok-2"} {
				scopes = append(scopes, scope(t, fmt.Sprintf("%s-%d", base, o), fmt.Sprintf("avatar-%d", a), tok))
			}
		}
	}

	randomVec := func() []float32 {
		c := make([]float32, s.dims)
		for i := range c {
			c[i] = float32(rng.NormFloat64())
		}
		return Vec(s.dims, c...)
	}

	owned := make(map[memory.FragmentID]int)
	var vectors [][]float32
	for i := 0; i < 60; i++ {
		idx := rng.IntN(len(scopes))
		v := randomVec()
		id := s.store(t, st, scopes[idx], memory.NewFragment{
			Text:      fmt.Sprintf("Random fact number %d", i),
			Embedding: v,
		})[0]
		owned[id] = idx
		vectors = append(vectors, v)
	}

	for i := 0; i < 120; i++ {
		idx := rng.IntN(len(scopes))
		// Half the queries reuse a stored vector, often from another scope.
		q := randomVec()
		if i%2 == 0 {
			q = vectors[rng.IntN(len(vectors))]
		}
		threshold := rng.Float64() * 0.6
		limit := 1 + rng.IntN(20)

		hits, err := st.Query(ctx, scopes[idx], q, threshold, limit)
		require.NoError(t, err)
		require.LessOrEqual(t, len(hits), limit)
		for _, h := range hits {
			from, ok := owned[h.Fragment.ID]
			require.True(t, ok, "unknown fragment %s", h.Fragment.ID)
			require.Equal(t, idx, from, "fragment of %s returned for %s", scopes[from], scopes[idx])
			assert.GreaterOrEqual(t, h.Similarity, threshold-1e-6)
		}
	}

	for idx, k := range scopes {
		all, err := st.List(ctx, k)
		require.NoError(t, err)
		for _, f := range all {
			from, ok := owned[f.ID]
			require.True(t, ok, "unknown fragment %s", f.ID)
			require.Equal(t, idx, from, "listing of %s leaked %s", k, f.ID)
		}
	}
}

func (s *suite) testThresholdMonotonicity(t *testing.T) {
	ctx := context.Background()
	st := s.factory(t, s.dims)
	k := scope(t, uniqueOwner(t), "avatar-1", "token-a")

	s.store(t, st, k,
		s.item("Has a golden retriever named Max", 1, 0, 0, 0),
		s.item("Walks the dog every evening", 0.9, 0.3, 0, 0),
		s.item("Volunteers at an animal shelter", 0.6, 0.6, 0.2, 0),
		s.item("Works night shifts as a nurse", 0.1, 0.2, 0.9, 0),
		s.item("Prefers tea over coffee", 0, 0, 0.3, 0.9),
	)

	probe := Vec(s.dims, 1, 0.1, 0, 0)
	thresholds := []float64{0, 0.2, 0.5, 0.8, 0.95}

	var prev []memory.FragmentID
	for i, th := range thresholds {
		hits, err := st.Query(ctx, k, probe, th, 100)
		require.NoError(t, err)

		for j, h := range hits {
			assert.GreaterOrEqual(t, h.Similarity, th)
			if j > 0 {
				assert.GreaterOrEqual(t, hits[j-1].Similarity, h.Similarity, "results must be ordered")
			}
		}
		if i > 0 {
			assert.Subset(t, prev, ids(hits), "raising the threshold must not add results")
		}
		prev = ids(hits)
	}

	hits, err := st.Query(ctx, k, probe, 0.95, 100)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "Has a golden retriever named Max", hits[0].Fragment.Text)
}

func (s *suite) testMaxResults(t *testing.T) {
	ctx := context.Background()
	st := s.factory(t, s.dims)
	k := scope(t, uniqueOwner(t), "avatar-1", "")

	s.store(t, st, k,
		s.item("First fact about the speaker", 1, 0.1, 0, 0),
		s.item("Second fact about the speaker", 1, 0.2, 0, 0),
		s.item("Third fact about the speaker", 1, 0.3, 0, 0),
	)

	hits, err := st.Query(ctx, k, Vec(s.dims, 1, 0, 0, 0), 0, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "First fact about the speaker", hits[0].Fragment.Text)
	assert.Equal(t, "Second fact about the speaker", hits[1].Fragment.Text)
}

func (s *suite) testBatchPartialFailure(t *testing.T) {
	ctx := context.Background()
	st := s.factory(t, s.dims)
	k := scope(t, uniqueOwner(t), "avatar-1", "token-a")

	wrongDims := s.item("Has three cats at home", 1, 0, 0, 0)
	wrongDims.Embedding = wrongDims.Embedding[:s.dims-1]
	blank := s.item("   ", 1, 0, 0, 0)

	res, err := st.StoreBatch(ctx, k, []memory.NewFragment{
		s.item("Grew up in Porto", 1, 0, 0, 0),
		wrongDims,
		s.item("Speaks fluent Portuguese", 0, 1, 0, 0),
		blank,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stored())
	require.Len(t, res.Failures, 2)
	assert.Equal(t, 1, res.Failures[0].Index)
	assert.ErrorIs(t, res.Failures[0].Err, memory.ErrDimensionMismatch)
	assert.Equal(t, 3, res.Failures[1].Index)
	assert.ErrorIs(t, res.Failures[1].Err, memory.ErrInvalidFragment)

	all, err := st.List(ctx, k)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.ElementsMatch(t, res.IDs, []memory.FragmentID{all[0].ID, all[1].ID})
}

func (s *suite) testDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	st := s.factory(t, s.dims)
	owner := uniqueOwner(t)
	k := scope(t, owner, "avatar-1", "token-a")
	neighbour := scope(t, owner, "avatar-1", "token-b")

	s.store(t, st, k,
		s.item("Runs marathons every spring", 1, 0, 0, 0),
		s.item("Trains with a running club", 0.8, 0.2, 0, 0),
	)
	s.store(t, st, neighbour, s.item("Collects vinyl records", 1, 0, 0, 0))

	n, err := st.DeleteScope(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = st.DeleteScope(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	hits, err := st.Query(ctx, k, Vec(s.dims, 1, 0, 0, 0), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	left, err := st.List(ctx, neighbour)
	require.NoError(t, err)
	assert.Len(t, left, 1, "deleting one scope must not touch another")
}

func (s *suite) testListRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := s.factory(t, s.dims)
	k := scope(t, uniqueOwner(t), "avatar-1", "")

	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	first := memory.NewFragment{
		Text:      "Is learning to play the cello",
		Embedding: Vec(s.dims, 0, 1, 0, 0),
		Context:   memory.NewConversationContext(ts, "I started cello lessons last week!", "excited"),
	}
	s.store(t, st, k, first)
	time.Sleep(2 * time.Millisecond)
	s.store(t, st, k, s.item("Plans a trip to Kyoto in April", 0, 0, 1, 0))

	all, err := st.List(ctx, k)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Plans a trip to Kyoto in April", all[0].Text, "newest first")

	got := all[1]
	assert.Equal(t, "Is learning to play the cello", got.Text)
	assert.True(t, ts.Equal(got.Context.Timestamp))
	assert.Equal(t, "I started cello lessons last week!", got.Context.Excerpt)
	assert.Equal(t, "excited", got.Context.Tone)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Equal(t, got.CreatedAt, got.UpdatedAt)
	require.Len(t, got.Embedding, s.dims)
	assert.InDelta(t, 1.0, memory.CosineSimilarity(got.Embedding, first.Embedding), 1e-5)
}

func (s *suite) testInvalidScope(t *testing.T) {
	ctx := context.Background()
	st := s.factory(t, s.dims)
	var zero memory.ScopeKey

	_, err := st.StoreBatch(ctx, zero, []memory.NewFragment{s.item("Some valid fragment text", 1)})
	assert.ErrorIs(t, err, memory.ErrInvalidScope)

	_, err = st.Query(ctx, zero, Vec(s.dims, 1), 0, 10)
	assert.ErrorIs(t, err, memory.ErrInvalidScope)

	_, err = st.List(ctx, zero)
	assert.ErrorIs(t, err, memory.ErrInvalidScope)

	_, err = st.DeleteScope(ctx, zero)
	assert.ErrorIs(t, err, memory.ErrInvalidScope)
}

func (s *suite) testInvalidQuery(t *testing.T) {
	ctx := context.Background()
	st := s.factory(t, s.dims)
	k := scope(t, uniqueOwner(t), "avatar-1", "")
	probe := Vec(s.dims, 1)

	_, err := st.Query(ctx, k, probe, -0.1, 10)
	assert.ErrorIs(t, err, memory.ErrInvalidQuery)

	_, err = st.Query(ctx, k, probe, 1.1, 10)
	assert.ErrorIs(t, err, memory.ErrInvalidQuery)

	_, err = st.Query(ctx, k, probe, 0.5, 0)
	assert.ErrorIs(t, err, memory.ErrInvalidQuery)

	_, err = st.Query(ctx, k, probe[:s.dims-1], 0.5, 10)
	assert.ErrorIs(t, err, memory.ErrDimensionMismatch)
}

func (s *suite) testEmptyScope(t *testing.T) {
	ctx := context.Background()
	st := s.factory(t, s.dims)
	k := scope(t, uniqueOwner(t), "avatar-1", "token-a")

	hits, err := st.Query(ctx, k, Vec(s.dims, 1), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	all, err := st.List(ctx, k)
	require.NoError(t, err)
	assert.Empty(t, all)

	n, err := st.DeleteScope(ctx, k)
	require.NoError(t, err)
	assert.Zero(t, n)
}
