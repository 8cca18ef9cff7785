// Package firestore stores fragments in Cloud Firestore and queries them
// with FindNearest vector search.
//
// Queries filter on owner_id, avatar_id and relationship before the nearest
// neighbour search, which needs a composite vector index:
//
//	gcloud firestore indexes composite create \
//	  --collection-group=avatar_fragments \
//	  --query-scope=COLLECTION \
//	  --field-config=field-path=owner_id,order=ASCENDING \
//	  --field-config=field-path=avatar_id,order=ASCENDING \
//	  --field-config=field-path=relationship,order=ASCENDING \
//	  --field-config=field-path=embedding,vector-config='{"dimension":"768","flat": "{}"}'
package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/becomeliminal/avatarmem/logging"
	"github.com/becomeliminal/avatarmem/memory"
)

// DefaultCollection is used when Config.Collection is empty.
const DefaultCollection = "avatar_fragments"

// maxNearest is Firestore's upper bound for FindNearest limits.
const maxNearest = 1000

// Config configures the Firestore store.
type Config struct {
	Collection string
	Dimensions int
}

type fragmentDoc struct {
	OwnerID        string             `firestore:"owner_id"`
	AvatarID       string             `firestore:"avatar_id"`
	Relationship   string             `firestore:"relationship"`
	Text           string             `firestore:"text"`
	Embedding      firestore.Vector32 `firestore:"embedding"`
	ContextTS      time.Time          `firestore:"context_ts"`
	ContextExcerpt string             `firestore:"context_excerpt"`
	ContextTone    string             `firestore:"context_tone"`
	CreatedAt      time.Time          `firestore:"created_at"`
	UpdatedAt      time.Time          `firestore:"updated_at"`
}

// Store is a memory.Store backed by Firestore.
type Store struct {
	client     *firestore.Client
	collection string
	dims       int
	ownsClient bool
	now        func() time.Time
}

var _ memory.Store = (*Store)(nil)

// New connects to databaseID in projectID.
func New(ctx context.Context, projectID, databaseID string, cfg Config) (*Store, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}
	s, err := NewFromClient(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.ownsClient = true
	return s, nil
}

// NewFromClient uses an existing client. Close leaves the client open.
func NewFromClient(client *firestore.Client, cfg Config) (*Store, error) {
	if cfg.Dimensions <= 0 {
		return nil, goerr.New("dimensions must be positive", goerr.V("dimensions", cfg.Dimensions))
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	return &Store{
		client:     client,
		collection: cfg.Collection,
		dims:       cfg.Dimensions,
		now:        time.Now,
	}, nil
}

// scopeQuery is the filter every read and delete applies.
func (s *Store) scopeQuery(scope memory.ScopeKey) firestore.Query {
	return s.client.Collection(s.collection).
		Where("owner_id", "==", scope.OwnerUserID()).
		Where("avatar_id", "==", scope.AvatarID()).
		Where("relationship", "==", scope.Relationship())
}

// StoreBatch creates one document per item.
func (s *Store) StoreBatch(ctx context.Context, scope memory.ScopeKey, items []memory.NewFragment) (*memory.BatchResult, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	col := s.client.Collection(s.collection)
	result := &memory.BatchResult{}
	for i, item := range items {
		if err := item.Validate(s.dims); err != nil {
			result.Failures = append(result.Failures, memory.BatchFailure{Index: i, Err: err})
			continue
		}

		f := item.Build(scope, s.now())
		if _, err := col.Doc(string(f.ID)).Create(ctx, toDoc(f)); err != nil {
			result.Failures = append(result.Failures, memory.BatchFailure{Index: i, Err: classify("create fragment", err)})
			continue
		}
		result.IDs = append(result.IDs, f.ID)
	}

	logging.From(logging.WithScope(ctx, scope)).Debug("[FIRESTORE] stored batch",
		"stored", len(result.IDs), "failed", len(result.Failures))
	return result, nil
}

// Query runs a cosine FindNearest restricted to scope. Cosine distance is
// 1 - similarity, so the threshold becomes a maximum distance.
func (s *Store) Query(ctx context.Context, scope memory.ScopeKey, embedding []float32, threshold float64, maxResults int) ([]memory.ScoredFragment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := memory.CheckQuery(embedding, s.dims, threshold, maxResults); err != nil {
		return nil, err
	}

	// Over-fetch a little so equal scores can be re-ordered newest first.
	limit := min(maxResults+10, maxNearest)
	distance := 1 - threshold
	vq := s.scopeQuery(scope).FindNearest("embedding", firestore.Vector32(embedding), limit,
		firestore.DistanceMeasureCosine, &firestore.FindNearestOptions{
			DistanceThreshold:   &distance,
			DistanceResultField: "distance",
		})

	snaps, err := vq.Documents(ctx).GetAll()
	if err != nil {
		return nil, classify("find nearest", err)
	}

	hits := make([]memory.ScoredFragment, 0, len(snaps))
	for _, snap := range snaps {
		f, ok := s.fromSnapshot(ctx, scope, snap)
		if !ok {
			continue
		}
		hits = append(hits, memory.ScoredFragment{
			Fragment:   f,
			Similarity: memory.CosineSimilarity(embedding, f.Embedding),
		})
	}
	return memory.RankResults(hits, threshold, maxResults), nil
}

// List returns every fragment of scope, newest first.
func (s *Store) List(ctx context.Context, scope memory.ScopeKey) ([]*memory.Fragment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	snaps, err := s.scopeQuery(scope).Documents(ctx).GetAll()
	if err != nil {
		return nil, classify("list fragments", err)
	}

	frags := make([]*memory.Fragment, 0, len(snaps))
	for _, snap := range snaps {
		if f, ok := s.fromSnapshot(ctx, scope, snap); ok {
			frags = append(frags, f)
		}
	}
	memory.SortNewestFirst(frags)
	return frags, nil
}

// DeleteScope deletes every document of scope with a BulkWriter and
// returns how many deletes succeeded.
func (s *Store) DeleteScope(ctx context.Context, scope memory.ScopeKey) (int, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}

	bw := s.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob

	iter := s.scopeQuery(scope).Select().Documents(ctx)
	defer iter.Stop()
	var iterErr error
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			iterErr = classify("scan scope", err)
			break
		}
		job, err := bw.Delete(snap.Ref)
		if err != nil {
			iterErr = classify("enqueue delete", err)
			break
		}
		jobs = append(jobs, job)
	}
	bw.End()

	deleted := 0
	var firstErr error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			if firstErr == nil {
				firstErr = classify("delete fragment", err)
			}
			continue
		}
		deleted++
	}

	if iterErr != nil {
		return deleted, iterErr
	}
	return deleted, firstErr
}

func (s *Store) fromSnapshot(ctx context.Context, scope memory.ScopeKey, snap *firestore.DocumentSnapshot) (*memory.Fragment, bool) {
	var d fragmentDoc
	if err := snap.DataTo(&d); err != nil {
		logging.From(ctx).Warn("[FIRESTORE] skipping undecodable document", "id", snap.Ref.ID, "error", err)
		return nil, false
	}
	if d.OwnerID != scope.OwnerUserID() || d.AvatarID != scope.AvatarID() || d.Relationship != scope.Relationship() {
		logging.From(logging.WithScope(ctx, scope)).Error("[FIRESTORE] result outside requested scope dropped", "id", snap.Ref.ID)
		return nil, false
	}

	return &memory.Fragment{
		ID:        memory.FragmentID(snap.Ref.ID),
		Scope:     scope,
		Text:      d.Text,
		Embedding: []float32(d.Embedding),
		Context: memory.ConversationContext{
			Timestamp: d.ContextTS.UTC(),
			Excerpt:   d.ContextExcerpt,
			Tone:      d.ContextTone,
		},
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}, true
}

func toDoc(f *memory.Fragment) fragmentDoc {
	return fragmentDoc{
		OwnerID:        f.Scope.OwnerUserID(),
		AvatarID:       f.Scope.AvatarID(),
		Relationship:   f.Scope.Relationship(),
		Text:           f.Text,
		Embedding:      firestore.Vector32(f.Embedding),
		ContextTS:      f.Context.Timestamp,
		ContextExcerpt: f.Context.Excerpt,
		ContextTone:    f.Context.Tone,
		CreatedAt:      f.CreatedAt,
		UpdatedAt:      f.UpdatedAt,
	}
}

// Dimensions returns the embedding size the store accepts.
func (s *Store) Dimensions() int { return s.dims }

// Close closes the client if New created it.
func (s *Store) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Close()
}

// classify marks retryable gRPC statuses and cancellation as transient.
func classify(op string, err error) error {
	transient := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		transient = true
	}
	return memory.NewStorageError(op, transient, err)
}
