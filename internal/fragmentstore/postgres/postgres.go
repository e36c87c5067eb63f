// Package postgres implements fragmentstore.Driver against PostgreSQL
// with the pgvector extension, storing each of the three embedding
// columns as a native vector(D) column via github.com/pgvector/pgvector-go.
// The pgvector.Vector scan/bind idiom follows
// store/db/postgres/episodic_memory_embedding.go's single-column usage,
// exercised here three times per fragment.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/ragd/internal/errs"
	"github.com/hrygo/ragd/internal/fragment"
)

type DB struct {
	db  *sql.DB
	dim int
}

// Open connects to PostgreSQL at dsn. dim is the configured embedding
// dimension D, needed to declare the vector(D) columns in InitSchema.
func Open(dsn string, dim int) (*DB, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", dsn)
	}
	sqlDB.SetMaxOpenConns(10)
	return &DB{db: sqlDB, dim: dim}, nil
}

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) InitSchema(ctx context.Context) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS fragment (
			id UUID PRIMARY KEY,
			collection VARCHAR(255) NOT NULL,
			category VARCHAR(500) NOT NULL,
			content TEXT NOT NULL,
			content_length INTEGER NOT NULL,
			combined_embedding vector(%d),
			embedding_dimension INTEGER,
			source_file VARCHAR(1000),
			chunk_index INTEGER,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, d.dim),
		"CREATE INDEX IF NOT EXISTS idx_fragment_collection ON fragment(collection)",
		"CREATE INDEX IF NOT EXISTS idx_fragment_category ON fragment(category)",
		"CREATE INDEX IF NOT EXISTS idx_fragment_content_length ON fragment(content_length)",
		"CREATE INDEX IF NOT EXISTS idx_fragment_created_at ON fragment(created_at)",
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return wrapStoreErr(err, "failed to apply schema statement")
		}
	}

	for _, col := range []string{"category_embedding", "content_embedding"} {
		present, err := d.hasColumn(ctx, col)
		if err != nil {
			return err
		}
		if !present {
			stmt := fmt.Sprintf("ALTER TABLE fragment ADD COLUMN %s vector(%d)", col, d.dim)
			if _, err := d.db.ExecContext(ctx, stmt); err != nil {
				return wrapStoreErr(err, "failed to add migration column "+col)
			}
		}
	}
	return nil
}

func (d *DB) hasColumn(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_name = 'fragment' AND column_name = $1
		)`, name,
	).Scan(&exists)
	if err != nil {
		return false, wrapStoreErr(err, "failed to inspect fragment schema")
	}
	return exists, nil
}

func (d *DB) BulkInsert(ctx context.Context, fragments []*fragment.Fragment) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr(err, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	const stmt = `
INSERT INTO fragment (
	id, collection, category, content, content_length,
	combined_embedding, category_embedding, content_embedding, embedding_dimension,
	source_file, chunk_index, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`
	for _, f := range fragments {
		_, err := tx.ExecContext(ctx, stmt,
			f.ID, f.Collection, f.Category, f.Content, f.ContentLength,
			vectorOrNil(f.CombinedEmbedding), vectorOrNil(f.CategoryEmbedding), vectorOrNil(f.ContentEmbedding),
			nullableInt(f.EmbeddingDimension),
			nullableString(f.SourceFile), nullableInt(f.ChunkIndex),
			f.CreatedAt, f.UpdatedAt,
		)
		if err != nil {
			return wrapStoreErr(err, "failed to insert fragment")
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapStoreErr(err, "failed to commit fragment batch")
	}
	return nil
}

const selectCols = `
	id, collection, category, content, content_length,
	combined_embedding, category_embedding, content_embedding, embedding_dimension,
	source_file, chunk_index, created_at, updated_at
`

func (d *DB) LoadByCollection(ctx context.Context, collection string) ([]*fragment.Fragment, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT "+selectCols+" FROM fragment WHERE collection = $1 ORDER BY chunk_index, created_at",
		collection,
	)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load fragments by collection")
	}
	defer rows.Close()
	return scanFragments(rows)
}

func (d *DB) LoadPaged(ctx context.Context, collection string, page, size int) ([]*fragment.Fragment, error) {
	if size <= 0 {
		size = 20
	}
	if page < 0 {
		page = 0
	}
	rows, err := d.db.QueryContext(ctx,
		"SELECT "+selectCols+" FROM fragment WHERE collection = $1 ORDER BY chunk_index, created_at LIMIT $2 OFFSET $3",
		collection, size, page*size,
	)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load paged fragments")
	}
	defer rows.Close()
	return scanFragments(rows)
}

func scanFragments(rows *sql.Rows) ([]*fragment.Fragment, error) {
	var out []*fragment.Fragment
	for rows.Next() {
		f := &fragment.Fragment{}
		var (
			combinedNull, categoryNull, contentNull sql.NullString
			embeddingDim                             sql.NullInt64
			sourceFile                                sql.NullString
			chunkIndex                                 sql.NullInt64
		)

		err := rows.Scan(
			&f.ID, &f.Collection, &f.Category, &f.Content, &f.ContentLength,
			&combinedNull, &categoryNull, &contentNull, &embeddingDim,
			&sourceFile, &chunkIndex, &f.CreatedAt, &f.UpdatedAt,
		)
		if err != nil {
			return nil, wrapStoreErr(err, "failed to scan fragment row")
		}

		f.CombinedEmbedding, err = parseVectorText(combinedNull)
		if err != nil {
			return nil, wrapStoreErr(err, "failed to parse combined_embedding")
		}
		f.CategoryEmbedding, err = parseVectorText(categoryNull)
		if err != nil {
			return nil, wrapStoreErr(err, "failed to parse category_embedding")
		}
		f.ContentEmbedding, err = parseVectorText(contentNull)
		if err != nil {
			return nil, wrapStoreErr(err, "failed to parse content_embedding")
		}
		if embeddingDim.Valid {
			f.EmbeddingDimension = int(embeddingDim.Int64)
		}
		if sourceFile.Valid {
			f.SourceFile = sourceFile.String
		}
		if chunkIndex.Valid {
			f.ChunkIndex = int(chunkIndex.Int64)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// parseVectorText parses pgvector's text representation ("[1,2,3]") as
// scanned into a nullable string, since the pgvector-go Vector scanner
// requires a non-NULL column; fragment embeddings are frequently NULL
// for legacy rows.
func parseVectorText(s sql.NullString) ([]float32, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	trimmed := strings.Trim(s.String, "[]")
	if trimmed == "" {
		return []float32{}, nil
	}
	parts := strings.Split(trimmed, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		var f float32
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%f", &f); err != nil {
			return nil, errors.Wrapf(err, "failed to parse vector component %q", p)
		}
		out[i] = f
	}
	return out, nil
}

func (d *DB) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fragment WHERE collection = $1", collection).Scan(&n)
	if err != nil {
		return 0, wrapStoreErr(err, "failed to count fragments")
	}
	return n, nil
}

func (d *DB) HasAnyEmbeddings(ctx context.Context, collection string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM fragment WHERE collection = $1 AND combined_embedding IS NOT NULL LIMIT 1",
		collection,
	).Scan(&n)
	if err != nil {
		return false, wrapStoreErr(err, "failed to check for embeddings")
	}
	return n > 0, nil
}

func (d *DB) CollectionExists(ctx context.Context, collection string) (bool, error) {
	n, err := d.Count(ctx, collection)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *DB) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT DISTINCT collection FROM fragment ORDER BY collection")
	if err != nil {
		return nil, wrapStoreErr(err, "failed to list collections")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, wrapStoreErr(err, "failed to scan collection name")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *DB) DeleteCollection(ctx context.Context, collection string) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM fragment WHERE collection = $1", collection)
	if err != nil {
		return wrapStoreErr(err, "failed to delete collection")
	}
	return nil
}

func (d *DB) Delete(ctx context.Context, id string) error {
	result, err := d.db.ExecContext(ctx, "DELETE FROM fragment WHERE id = $1", id)
	if err != nil {
		return wrapStoreErr(err, "failed to delete fragment")
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return errs.NewPermanentStoreError(errors.Errorf("fragment %s not found", id))
	}
	return nil
}

func (d *DB) UpdateContent(ctx context.Context, id, newContent string) error {
	result, err := d.db.ExecContext(ctx,
		"UPDATE fragment SET content = $1, content_length = $2, updated_at = $3 WHERE id = $4",
		newContent, len(newContent), time.Now().UTC(), id,
	)
	if err != nil {
		return wrapStoreErr(err, "failed to update fragment content")
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return errs.NewPermanentStoreError(errors.Errorf("fragment %s not found", id))
	}
	return nil
}

func vectorOrNil(v []float32) any {
	if v == nil {
		return nil
	}
	return pgvector.NewVector(v)
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func wrapStoreErr(err error, msg string) error {
	wrapped := errors.Wrap(err, msg)
	if isTransientPqErr(err) {
		return errs.NewTransientStoreError(wrapped)
	}
	return errs.NewPermanentStoreError(wrapped)
}

// isTransientPqErr reports whether err is a connection-level failure
// (as opposed to a constraint violation or malformed query), following
// lib/pq's *pq.Error classification.
func isTransientPqErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 08 = Connection Exception; Class 53 = Insufficient Resources.
		return strings.HasPrefix(string(pqErr.Code), "08") || strings.HasPrefix(string(pqErr.Code), "53")
	}
	return strings.Contains(err.Error(), "connection")
}
