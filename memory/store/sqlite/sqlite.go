// Package sqlite stores fragments in a single SQLite file. Similarity is
// computed in Go over the rows of the requested scope, which suits the
// per-scope volumes of one avatar relationship.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/becomeliminal/avatarmem/logging"
	"github.com/becomeliminal/avatarmem/memory"
)

// Store is a memory.Store backed by SQLite.
type Store struct {
	db   *sql.DB
	dims int
	now  func() time.Time
}

var _ memory.Store = (*Store)(nil)

// New creates or opens the fragment database at path.
func New(path string, dims int) (*Store, error) {
	if dims <= 0 {
		return nil, goerr.New("dimensions must be positive", goerr.V("dimensions", dims))
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, goerr.Wrap(err, "failed to create database directory", goerr.V("path", path))
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite database", goerr.V("path", path))
	}
	// One shared connection avoids writer lock contention between
	// goroutines of the same process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, dims: dims, now: time.Now}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS fragments (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			avatar_id TEXT NOT NULL,
			relationship TEXT NOT NULL,
			text TEXT NOT NULL,
			embedding BLOB NOT NULL,
			dims INTEGER NOT NULL,
			context_ts_ms INTEGER NOT NULL,
			context_excerpt TEXT NOT NULL DEFAULT '',
			context_tone TEXT NOT NULL DEFAULT '',
			created_at_ns INTEGER NOT NULL,
			updated_at_ns INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS fragments_scope_idx ON fragments(owner_id, avatar_id, relationship, created_at_ns DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return goerr.Wrap(err, "failed to initialize schema", goerr.V("stmt", stmt))
		}
	}
	return nil
}

// scopeClause is the filter every read and delete applies.
func scopeClause(scope memory.ScopeKey) (string, []any) {
	return `owner_id = ? AND avatar_id = ? AND relationship = ?`,
		[]any{scope.OwnerUserID(), scope.AvatarID(), scope.Relationship()}
}

// StoreBatch inserts each item with its own statement.
func (s *Store) StoreBatch(ctx context.Context, scope memory.ScopeKey, items []memory.NewFragment) (*memory.BatchResult, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	result := &memory.BatchResult{}
	for i, item := range items {
		if err := item.Validate(s.dims); err != nil {
			result.Failures = append(result.Failures, memory.BatchFailure{Index: i, Err: err})
			continue
		}

		f := item.Build(scope, s.now())
		_, err := s.db.ExecContext(ctx, `INSERT INTO fragments
			(id, owner_id, avatar_id, relationship, text, embedding, dims,
			 context_ts_ms, context_excerpt, context_tone, created_at_ns, updated_at_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(f.ID), scope.OwnerUserID(), scope.AvatarID(), scope.Relationship(),
			f.Text, encodeVector(f.Embedding), len(f.Embedding),
			f.Context.Timestamp.UnixMilli(), f.Context.Excerpt, f.Context.Tone,
			f.CreatedAt.UnixNano(), f.UpdatedAt.UnixNano(),
		)
		if err != nil {
			result.Failures = append(result.Failures, memory.BatchFailure{Index: i, Err: classify("insert fragment", err)})
			continue
		}
		result.IDs = append(result.IDs, f.ID)
	}

	logging.From(logging.WithScope(ctx, scope)).Debug("[SQLITE] stored batch",
		"stored", len(result.IDs), "failed", len(result.Failures))
	return result, nil
}

// Query scores every fragment of scope against embedding.
func (s *Store) Query(ctx context.Context, scope memory.ScopeKey, embedding []float32, threshold float64, maxResults int) ([]memory.ScoredFragment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := memory.CheckQuery(embedding, s.dims, threshold, maxResults); err != nil {
		return nil, err
	}

	frags, err := s.load(ctx, scope)
	if err != nil {
		return nil, err
	}

	hits := make([]memory.ScoredFragment, 0, len(frags))
	for _, f := range frags {
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
	frags, err := s.load(ctx, scope)
	if err != nil {
		return nil, err
	}
	memory.SortNewestFirst(frags)
	return frags, nil
}

// DeleteScope removes every fragment of scope.
func (s *Store) DeleteScope(ctx context.Context, scope memory.ScopeKey) (int, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}

	where, args := scopeClause(scope)
	res, err := s.db.ExecContext(ctx, `DELETE FROM fragments WHERE `+where, args...)
	if err != nil {
		return 0, classify("delete scope", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("delete scope", err)
	}
	return int(n), nil
}

func (s *Store) load(ctx context.Context, scope memory.ScopeKey) ([]*memory.Fragment, error) {
	where, args := scopeClause(scope)
	rows, err := s.db.QueryContext(ctx, `SELECT id, text, embedding, dims,
		context_ts_ms, context_excerpt, context_tone, created_at_ns, updated_at_ns
		FROM fragments WHERE `+where+` ORDER BY created_at_ns DESC`, args...)
	if err != nil {
		return nil, classify("select fragments", err)
	}
	defer rows.Close()

	var frags []*memory.Fragment
	for rows.Next() {
		var (
			id, text, excerpt, tone string
			blob                    []byte
			dims                    int
			ctxMS, createdNS, updNS int64
		)
		if err := rows.Scan(&id, &text, &blob, &dims, &ctxMS, &excerpt, &tone, &createdNS, &updNS); err != nil {
			return nil, classify("scan fragment", err)
		}
		emb, err := decodeVector(blob, dims)
		if err != nil {
			logging.From(ctx).Warn("[SQLITE] skipping fragment with corrupt embedding", "id", id, "error", err)
			continue
		}
		frags = append(frags, &memory.Fragment{
			ID:        memory.FragmentID(id),
			Scope:     scope,
			Text:      text,
			Embedding: emb,
			Context: memory.ConversationContext{
				Timestamp: time.UnixMilli(ctxMS).UTC(),
				Excerpt:   excerpt,
				Tone:      tone,
			},
			CreatedAt: time.Unix(0, createdNS).UTC(),
			UpdatedAt: time.Unix(0, updNS).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate fragments", err)
	}
	return frags, nil
}

// Dimensions returns the embedding size the store accepts.
func (s *Store) Dimensions() int { return s.dims }

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// encodeVector stores float32 values little-endian.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte, dims int) ([]float32, error) {
	if len(b) != 4*dims {
		return nil, goerr.New("embedding blob size mismatch", goerr.V("bytes", len(b)), goerr.V("dims", dims))
	}
	v := make([]float32, dims)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// classify marks lock contention and cancellation as transient.
func classify(op string, err error) error {
	transient := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)

	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_FULL:
			transient = true
		}
	}
	return memory.NewStorageError(op, transient, err)
}
