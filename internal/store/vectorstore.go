// Package store implements the IndexStore component (spec.md §4.D): a
// BM25 Index saved with write-to-temp + rename, and a VectorStore
// interface with a default SQLite+sqlite-vec implementation that writes
// inside SQLite transactions. Grounded
// on the teacher's internal/storage package (schema.go, chunk_writer.go,
// vector_index.go) and on the sqlite-vec-go-bindings example wiring
// from SPEC_FULL.md §11.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	sqlitevec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	// Registers the vec0 virtual table module with every future sqlite3
	// connection, same call the teacher makes once at process start.
	sqlitevec.Auto()
}

// Metadata is the opaque per-id payload a VectorStore carries alongside
// each vector (spec.md §3: "persistent map id → (dense-vector[D],
// metadata-blob)").
type Metadata map[string]any

// QueryResult is one row returned by VectorStore.Query.
type QueryResult struct {
	ID       string
	Distance float64
	Vector   []float32
	Metadata Metadata
}

// VectorStore is the external collaborator from spec.md §6.
type VectorStore interface {
	Connect(ctx context.Context) error
	Upsert(ctx context.Context, ids []string, vectors [][]float32, metadata []Metadata) error
	Query(ctx context.Context, vector []float32, k int) ([]QueryResult, error)
	Remove(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
	// All returns every (id, vector, metadata) row, used by BM25 rebuild
	// and the multi-repo merge/rebuildMergedIndex recovery path.
	All(ctx context.Context) ([]QueryResult, error)
	Close() error
}

// SQLiteVectorStore is the default VectorStore, backed by mattn/go-sqlite3
// with the sqlite-vec extension for KNN queries (grounded on the
// teacher's internal/storage/vector_index.go and schema.go).
type SQLiteVectorStore struct {
	path       string
	dimensions int
	db         *sql.DB
}

// NewSQLiteVectorStore returns a store rooted at dbPath with a fixed
// embedding dimensionality D (spec.md §4.D: "mismatches are a fatal
// configuration error").
func NewSQLiteVectorStore(dbPath string, dimensions int) *SQLiteVectorStore {
	return &SQLiteVectorStore{path: dbPath, dimensions: dimensions}
}

func (s *SQLiteVectorStore) Connect(ctx context.Context) error {
	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return fmt.Errorf("store: open %s: %w", s.path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return fmt.Errorf("store: set journal mode: %w", err)
	}

	// The embedding is kept twice: once in chunks_vec (sqlite-vec's
	// native format, used for KNN queries) and once here as plain JSON,
	// so All() can recover full rows without depending on a vec0
	// deserialization routine. rebuildMergedIndex and the BM25 rebuild
	// path only ever need the JSON copy.
	createChunks := `CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		embedding TEXT NOT NULL,
		metadata TEXT NOT NULL
	)`
	if _, err := db.ExecContext(ctx, createChunks); err != nil {
		db.Close()
		return fmt.Errorf("store: create chunks table: %w", err)
	}

	createVec := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_vec USING vec0(
		chunk_id TEXT PRIMARY KEY,
		embedding float[%d]
	)`, s.dimensions)
	if _, err := db.ExecContext(ctx, createVec); err != nil {
		db.Close()
		return fmt.Errorf("store: create vector index: %w", err)
	}

	s.db = db
	return nil
}

func (s *SQLiteVectorStore) Upsert(ctx context.Context, ids []string, vectors [][]float32, metadata []Metadata) error {
	if len(ids) != len(vectors) || len(ids) != len(metadata) {
		return fmt.Errorf("store: upsert: mismatched slice lengths")
	}
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin upsert tx: %w", err)
	}
	defer tx.Rollback()

	for i, id := range ids {
		if len(vectors[i]) != s.dimensions {
			return fmt.Errorf("store: upsert %s: vector has %d dims, store configured for %d", id, len(vectors[i]), s.dimensions)
		}
		metaJSON, err := encodeMetadata(metadata[i])
		if err != nil {
			return fmt.Errorf("store: encode metadata for %s: %w", id, err)
		}
		vecJSON, err := encodeVector(vectors[i])
		if err != nil {
			return fmt.Errorf("store: encode vector for %s: %w", id, err)
		}

		_, err = sq.Insert("chunks").
			Columns("id", "embedding", "metadata").
			Values(id, vecJSON, metaJSON).
			Suffix("ON CONFLICT(id) DO UPDATE SET embedding = excluded.embedding, metadata = excluded.metadata").
			RunWith(tx).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("store: upsert chunk row %s: %w", id, err)
		}

		// vec0 virtual tables don't support upsert; delete then insert.
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks_vec WHERE chunk_id = ?", id); err != nil {
			return fmt.Errorf("store: clear vector for %s: %w", id, err)
		}
		embBytes, err := sqlitevec.SerializeFloat32(vectors[i])
		if err != nil {
			return fmt.Errorf("store: serialize vector for %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO chunks_vec (chunk_id, embedding) VALUES (?, ?)", id, embBytes); err != nil {
			return fmt.Errorf("store: insert vector for %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit upsert: %w", err)
	}
	return nil
}

func (s *SQLiteVectorStore) Query(ctx context.Context, vector []float32, k int) ([]QueryResult, error) {
	queryBytes, err := sqlitevec.SerializeFloat32(vector)
	if err != nil {
		return nil, fmt.Errorf("store: serialize query vector: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT v.chunk_id, vec_distance_cosine(v.embedding, ?) AS distance, c.metadata
		FROM chunks_vec v
		JOIN chunks c ON c.id = v.chunk_id
		ORDER BY distance
		LIMIT ?`, queryBytes, k)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	var results []QueryResult
	for rows.Next() {
		var id, metaJSON string
		var distance float64
		if err := rows.Scan(&id, &distance, &metaJSON); err != nil {
			return nil, fmt.Errorf("store: scan query row: %w", err)
		}
		meta, err := decodeMetadata(metaJSON)
		if err != nil {
			return nil, fmt.Errorf("store: decode metadata for %s: %w", id, err)
		}
		results = append(results, QueryResult{ID: id, Distance: distance, Metadata: meta})
	}
	return results, rows.Err()
}

func (s *SQLiteVectorStore) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin remove tx: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks_vec WHERE chunk_id = ?", id); err != nil {
			return fmt.Errorf("store: remove vector %s: %w", id, err)
		}
		if _, err := sq.Delete("chunks").Where(sq.Eq{"id": id}).RunWith(tx).ExecContext(ctx); err != nil {
			return fmt.Errorf("store: remove chunk row %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteVectorStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

func (s *SQLiteVectorStore) All(ctx context.Context) ([]QueryResult, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, embedding, metadata FROM chunks")
	if err != nil {
		return nil, fmt.Errorf("store: scan all rows: %w", err)
	}
	defer rows.Close()

	var results []QueryResult
	for rows.Next() {
		var id, vecJSON, metaJSON string
		if err := rows.Scan(&id, &vecJSON, &metaJSON); err != nil {
			return nil, fmt.Errorf("store: scan row: %w", err)
		}
		vec, err := decodeVector(vecJSON)
		if err != nil {
			return nil, fmt.Errorf("store: decode vector for %s: %w", id, err)
		}
		meta, err := decodeMetadata(metaJSON)
		if err != nil {
			return nil, fmt.Errorf("store: decode metadata for %s: %w", id, err)
		}
		results = append(results, QueryResult{ID: id, Vector: vec, Metadata: meta})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results, rows.Err()
}

func (s *SQLiteVectorStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
