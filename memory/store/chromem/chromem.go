// Package chromem stores fragments in chromem-go, a pure Go embedded vector
// database, optionally persisted to a directory.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/avatarmem/logging"
	"github.com/becomeliminal/avatarmem/memory"
)

// Metadata keys stored with every document.
const (
	keyOwner        = "owner_id"
	keyAvatar       = "avatar_id"
	keyRelationship = "relationship"
	keyCreatedAt    = "created_at"
	keyContextTS    = "context_ts"
	keyExcerpt      = "context_excerpt"
	keyTone         = "context_tone"
)

// Config configures the chromem store.
type Config struct {
	// Dimensions is the embedding size the store accepts.
	Dimensions int

	// PersistDir keeps the database on disk. Empty keeps it in memory.
	PersistDir string

	// Compress gzips persisted documents.
	Compress bool
}

// Store wraps chromem-go for vector storage. Each scope gets its own
// collection, and avatar and relationship are still mandatory where-clauses
// on every query.
type Store struct {
	db          *chromem.DB
	dims        int
	collections map[string]*scopeCollection // by collection name
	mu          sync.RWMutex
	now         func() time.Time
}

// scopeCollection pairs a collection with the lock that keeps its size
// stable between Count and QueryEmbedding. Readers share it; DeleteScope
// holds it exclusively. Adds only grow the collection and need no lock.
type scopeCollection struct {
	mu  sync.RWMutex
	col *chromem.Collection
}

var _ memory.Store = (*Store)(nil)

// New creates a chromem-based store.
func New(cfg Config) (*Store, error) {
	if cfg.Dimensions <= 0 {
		return nil, goerr.New("dimensions must be positive", goerr.V("dimensions", cfg.Dimensions))
	}

	db := chromem.NewDB()
	if cfg.PersistDir != "" {
		var err error
		db, err = chromem.NewPersistentDB(cfg.PersistDir, cfg.Compress)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open persistent chromem db", goerr.V("dir", cfg.PersistDir))
		}
	}

	return &Store{
		db:          db,
		dims:        cfg.Dimensions,
		collections: make(map[string]*scopeCollection),
		now:         time.Now,
	}, nil
}

// collectionName derives a stable name from the length-prefixed scope
// fields, so no two scopes can share a collection.
func collectionName(scope memory.ScopeKey) string {
	key := fmt.Sprintf("%d:%s|%d:%s|%s",
		len(scope.OwnerUserID()), scope.OwnerUserID(),
		len(scope.AvatarID()), scope.AvatarID(),
		scope.Relationship())
	return "fragments_" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// collection returns the scope's collection, creating it when create is set.
func (s *Store) collection(scope memory.ScopeKey, create bool) (*scopeCollection, error) {
	name := collectionName(scope)

	s.mu.RLock()
	sc, exists := s.collections[name]
	s.mu.RUnlock()
	if exists {
		return sc, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if sc, exists := s.collections[name]; exists {
		return sc, nil
	}

	// Persisted collections survive restarts
	if col := s.db.GetCollection(name, nil); col != nil {
		sc := &scopeCollection{col: col}
		s.collections[name] = sc
		return sc, nil
	}
	if !create {
		return nil, nil
	}

	col, err := s.db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, memory.NewStorageError("create collection", false, err)
	}
	sc = &scopeCollection{col: col}
	s.collections[name] = sc
	return sc, nil
}

// scopeWhere is the filter every read and delete applies.
func scopeWhere(scope memory.ScopeKey) map[string]string {
	return map[string]string{
		keyOwner:        scope.OwnerUserID(),
		keyAvatar:       scope.AvatarID(),
		keyRelationship: scope.Relationship(),
	}
}

// StoreBatch inserts each item independently.
func (s *Store) StoreBatch(ctx context.Context, scope memory.ScopeKey, items []memory.NewFragment) (*memory.BatchResult, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	sc, err := s.collection(scope, true)
	if err != nil {
		return nil, err
	}

	result := &memory.BatchResult{}
	for i, item := range items {
		if err := item.Validate(s.dims); err != nil {
			result.Failures = append(result.Failures, memory.BatchFailure{Index: i, Err: err})
			continue
		}

		frag := item.Build(scope, s.now())
		if err := sc.col.AddDocument(ctx, toDocument(frag)); err != nil {
			result.Failures = append(result.Failures, memory.BatchFailure{Index: i, Err: classify("add document", err)})
			continue
		}
		result.IDs = append(result.IDs, frag.ID)
	}

	logging.From(logging.WithScope(ctx, scope)).Debug("[CHROMEM] stored batch",
		"stored", len(result.IDs), "failed", len(result.Failures))
	return result, nil
}

// Query retrieves fragments by vector similarity.
func (s *Store) Query(ctx context.Context, scope memory.ScopeKey, embedding []float32, threshold float64, maxResults int) ([]memory.ScoredFragment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := memory.CheckQuery(embedding, s.dims, threshold, maxResults); err != nil {
		return nil, err
	}

	results, err := s.read(ctx, scope, embedding)
	if err != nil {
		return nil, err
	}

	hits := make([]memory.ScoredFragment, 0, len(results))
	for _, r := range results {
		frag, ok := fromResult(ctx, scope, r)
		if !ok {
			continue
		}
		hits = append(hits, memory.ScoredFragment{Fragment: frag, Similarity: float64(r.Similarity)})
	}
	return memory.RankResults(hits, threshold, maxResults), nil
}

// List returns every fragment of scope, newest first.
func (s *Store) List(ctx context.Context, scope memory.ScopeKey) ([]*memory.Fragment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	results, err := s.read(ctx, scope, s.probe())
	if err != nil {
		return nil, err
	}

	frags := make([]*memory.Fragment, 0, len(results))
	for _, r := range results {
		if frag, ok := fromResult(ctx, scope, r); ok {
			frags = append(frags, frag)
		}
	}
	memory.SortNewestFirst(frags)
	return frags, nil
}

// DeleteScope removes every fragment of scope.
func (s *Store) DeleteScope(ctx context.Context, scope memory.ScopeKey) (int, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}

	sc, err := s.collection(scope, false)
	if err != nil || sc == nil {
		return 0, err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	results, err := scoped(ctx, sc.col, scope, s.probe())
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, nil
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	if err := sc.col.Delete(ctx, nil, nil, ids...); err != nil {
		return 0, classify("delete documents", err)
	}

	logging.From(logging.WithScope(ctx, scope)).Debug("[CHROMEM] deleted scope", "deleted", len(ids))
	return len(ids), nil
}

// read scores every document of scope against embedding under the
// collection's read lock.
func (s *Store) read(ctx context.Context, scope memory.ScopeKey, embedding []float32) ([]chromem.Result, error) {
	sc, err := s.collection(scope, false)
	if err != nil || sc == nil {
		return nil, err
	}

	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return scoped(ctx, sc.col, scope, embedding)
}

// scoped queries col for every document of scope. The caller holds the
// collection lock: chromem-go rejects nResults above the collection size,
// so the size must not shrink between Count and QueryEmbedding.
func scoped(ctx context.Context, col *chromem.Collection, scope memory.ScopeKey, embedding []float32) ([]chromem.Result, error) {
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, embedding, n, scopeWhere(scope), nil)
	if err != nil {
		return nil, classify("query", err)
	}
	return results, nil
}

// probe is a unit query vector used when every document is wanted.
func (s *Store) probe() []float32 {
	v := make([]float32, s.dims)
	v[0] = 1
	return v
}

// Dimensions returns the embedding size the store accepts.
func (s *Store) Dimensions() int { return s.dims }

// Close releases resources. Persistent databases write through on every
// change, so there is nothing to flush.
func (s *Store) Close() error {
	return nil
}

func toDocument(f *memory.Fragment) chromem.Document {
	return chromem.Document{
		ID:        string(f.ID),
		Content:   f.Text,
		Embedding: f.Embedding,
		Metadata: map[string]string{
			keyOwner:        f.Scope.OwnerUserID(),
			keyAvatar:       f.Scope.AvatarID(),
			keyRelationship: f.Scope.Relationship(),
			keyCreatedAt:    f.CreatedAt.Format(time.RFC3339Nano),
			keyContextTS:    f.Context.Timestamp.Format(time.RFC3339Nano),
			keyExcerpt:      f.Context.Excerpt,
			keyTone:         f.Context.Tone,
		},
	}
}

// fromResult rebuilds a fragment. Results whose metadata does not match
// scope are dropped.
func fromResult(ctx context.Context, scope memory.ScopeKey, r chromem.Result) (*memory.Fragment, bool) {
	md := r.Metadata
	if md[keyOwner] != scope.OwnerUserID() || md[keyAvatar] != scope.AvatarID() || md[keyRelationship] != scope.Relationship() {
		logging.From(logging.WithScope(ctx, scope)).Error("[CHROMEM] result outside requested scope dropped", "id", r.ID)
		return nil, false
	}

	createdAt, err := time.Parse(time.RFC3339Nano, md[keyCreatedAt])
	if err != nil {
		logging.From(ctx).Warn("[CHROMEM] skipping document with bad timestamp", "id", r.ID, "error", err)
		return nil, false
	}
	contextTS, _ := time.Parse(time.RFC3339Nano, md[keyContextTS])

	return &memory.Fragment{
		ID:        memory.FragmentID(r.ID),
		Scope:     scope,
		Text:      r.Content,
		Embedding: r.Embedding,
		Context: memory.ConversationContext{
			Timestamp: contextTS,
			Excerpt:   md[keyExcerpt],
			Tone:      md[keyTone],
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}, true
}

// classify wraps a chromem error. Cancellation and persistence I/O may
// succeed later; everything else is permanent.
func classify(op string, err error) error {
	transient := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "couldn't write") || strings.Contains(err.Error(), "couldn't create")
	return memory.NewStorageError(op, transient, err)
}
