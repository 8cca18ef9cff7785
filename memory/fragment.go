package memory

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

const (
	// MaxFragmentLength bounds fragment text, in runes.
	MaxFragmentLength = 500

	// MaxExcerptLength bounds the conversation excerpt kept with a fragment.
	MaxExcerptLength = 200
)

// FragmentID identifies a fragment. It is assigned once and never changes.
type FragmentID string

// NewFragmentID generates a new unique FragmentID.
func NewFragmentID() FragmentID {
	return FragmentID(uuid.New().String())
}

func (id FragmentID) String() string { return string(id) }

// ConversationContext records where a fragment came from.
type ConversationContext struct {
	Timestamp time.Time
	Excerpt   string
	Tone      string
}

// NewConversationContext trims the excerpt to MaxExcerptLength.
func NewConversationContext(ts time.Time, message, tone string) ConversationContext {
	return ConversationContext{
		Timestamp: ts.UTC(),
		Excerpt:   truncate(strings.TrimSpace(message), MaxExcerptLength),
		Tone:      strings.TrimSpace(tone),
	}
}

// Fragment is one short factual statement the avatar learned in a scope.
// Fragments are immutable once stored; corrections are new fragments.
type Fragment struct {
	ID        FragmentID
	Scope     ScopeKey
	Text      string
	Embedding []float32
	Context   ConversationContext
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Format formats this fragment for prompt injection.
func (f *Fragment) Format(ctx FormatContext) string {
	text := f.Text
	if ctx.MaxLength > 0 {
		text = truncate(text, ctx.MaxLength)
	}
	if f.Context.Timestamp.IsZero() {
		return text
	}
	return fmt.Sprintf("%s (learned %s)", text, f.Context.Timestamp.Format("2006-01-02"))
}

// FormatContext provides context for memory formatting.
//   - MaxLength bounds this fragment's output
//   - Query is the message being answered
type FormatContext struct {
	Query     string
	MaxLength int
}

// NewFragment is a fragment ready to be written: extracted text, its
// embedding and its provenance.
type NewFragment struct {
	Text      string
	Embedding []float32
	Context   ConversationContext
}

// Validate checks the text bounds and the embedding dimension.
func (n NewFragment) Validate(dims int) error {
	text := strings.TrimSpace(n.Text)
	if text == "" {
		return goerr.Wrap(ErrInvalidFragment, "fragment text is empty")
	}
	if l := utf8.RuneCountInString(text); l > MaxFragmentLength {
		return goerr.Wrap(ErrInvalidFragment, "fragment text too long", goerr.V("length", l))
	}
	if err := CheckDimensions(n.Embedding, dims); err != nil {
		return err
	}
	for _, v := range n.Embedding {
		if v != 0 {
			return nil
		}
	}
	return goerr.Wrap(ErrInvalidFragment, "embedding has zero norm")
}

// Build materializes the fragment in scope with a fresh ID.
func (n NewFragment) Build(scope ScopeKey, now time.Time) *Fragment {
	now = now.UTC()
	emb := make([]float32, len(n.Embedding))
	copy(emb, n.Embedding)
	return &Fragment{
		ID:        NewFragmentID(),
		Scope:     scope,
		Text:      strings.TrimSpace(n.Text),
		Embedding: emb,
		Context:   n.Context,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ScoredFragment is a query hit.
type ScoredFragment struct {
	Fragment   *Fragment
	Similarity float64
}

// BatchFailure records why one item of a batch was not stored.
type BatchFailure struct {
	Index int
	Err   error
}

// BatchResult reports the outcome of StoreBatch. IDs holds the identifiers
// of the stored items in input order.
type BatchResult struct {
	IDs      []FragmentID
	Failures []BatchFailure
}

// Stored returns the number of items written.
func (r *BatchResult) Stored() int {
	if r == nil {
		return 0
	}
	return len(r.IDs)
}

// CheckDimensions returns ErrDimensionMismatch when len(vec) != dims.
func CheckDimensions(vec []float32, dims int) error {
	if len(vec) != dims {
		return goerr.Wrap(ErrDimensionMismatch, "unexpected vector length",
			goerr.V("expected", dims), goerr.V("actual", len(vec)))
	}
	return nil
}

// CheckQuery validates Query arguments shared by every store.
func CheckQuery(embedding []float32, dims int, threshold float64, maxResults int) error {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return goerr.Wrap(ErrInvalidQuery, "threshold must be within [0,1]", goerr.V("threshold", threshold))
	}
	if maxResults <= 0 {
		return goerr.Wrap(ErrInvalidQuery, "maxResults must be positive", goerr.V("maxResults", maxResults))
	}
	return CheckDimensions(embedding, dims)
}

// CosineSimilarity of two equal-length vectors. Zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// RankResults filters hits below threshold, orders them by similarity
// (newest first on ties) and keeps at most maxResults.
func RankResults(hits []ScoredFragment, threshold float64, maxResults int) []ScoredFragment {
	out := make([]ScoredFragment, 0, len(hits))
	for _, h := range hits {
		if h.Similarity >= threshold {
			out = append(out, h)
		}
	}
	slices.SortStableFunc(out, func(a, b ScoredFragment) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		if c := b.Fragment.CreatedAt.Compare(a.Fragment.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.Fragment.ID), string(b.Fragment.ID))
	})
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}

// SortNewestFirst orders fragments by creation time, newest first.
func SortNewestFirst(frags []*Fragment) {
	slices.SortStableFunc(frags, func(a, b *Fragment) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
}

// truncate shortens s to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return "..."
	}
	r := []rune(s)
	return string(r[:maxLen-3]) + "..."
}
