// Package sqlite implements fragmentstore.Driver against a local
// SQLite file using modernc.org/sqlite (pure Go, no CGO), following
// the pragma-configuration idiom of store/db/sqlite/sqlite.go (WAL
// journal mode, busy timeout, a single connection since SQLite
// serializes writers anyway).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	_ "modernc.org/sqlite"

	"github.com/hrygo/ragd/internal/errs"
	"github.com/hrygo/ragd/internal/fragment"
)

type DB struct {
	db *sql.DB
}

// Open connects to the SQLite database at dsn and applies the same
// pragma set as store/db/sqlite/sqlite.go (WAL, foreign keys, busy
// timeout).
func Open(dsn string) (*DB, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", dsn)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, errors.Wrapf(err, "failed to set pragma: %s", pragma)
		}
	}

	// A single physical connection is optimal for SQLite under WAL:
	// it avoids SQLITE_BUSY churn between Go's pooled *sql.DB
	// connections writing to the same file.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	return &DB{db: sqlDB}, nil
}

func (d *DB) Close() error { return d.db.Close() }

// InitSchema idempotently creates the fragment table, and migrates in
// the category_embedding/content_embedding columns if they are absent
// (legacy rows then keep only combined_embedding).
func (d *DB) InitSchema(ctx context.Context) error {
	const createStmt = `
CREATE TABLE IF NOT EXISTS fragment (
	id TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	category TEXT NOT NULL,
	content TEXT NOT NULL,
	content_length INTEGER NOT NULL,
	combined_embedding BLOB,
	embedding_dimension INTEGER,
	source_file TEXT,
	chunk_index INTEGER,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fragment_collection ON fragment(collection);
CREATE INDEX IF NOT EXISTS idx_fragment_category ON fragment(category);
CREATE INDEX IF NOT EXISTS idx_fragment_content_length ON fragment(content_length);
CREATE INDEX IF NOT EXISTS idx_fragment_created_at ON fragment(created_at);
`
	if _, err := d.db.ExecContext(ctx, createStmt); err != nil {
		return wrapStoreErr(err, "failed to create fragment table")
	}

	for _, col := range []string{"category_embedding", "content_embedding"} {
		present, err := d.hasColumn(ctx, col)
		if err != nil {
			return err
		}
		if !present {
			stmt := "ALTER TABLE fragment ADD COLUMN " + col + " BLOB"
			if _, err := d.db.ExecContext(ctx, stmt); err != nil {
				return wrapStoreErr(err, "failed to add migration column "+col)
			}
		}
	}

	return nil
}

func (d *DB) hasColumn(ctx context.Context, name string) (bool, error) {
	rows, err := d.db.QueryContext(ctx, "PRAGMA table_info(fragment)")
	if err != nil {
		return false, wrapStoreErr(err, "failed to inspect fragment schema")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			colName    string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, wrapStoreErr(err, "failed to scan column info")
		}
		if colName == name {
			return true, nil
		}
	}
	return false, rows.Err()
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
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	for _, f := range fragments {
		_, err := tx.ExecContext(ctx, stmt,
			f.ID.String(), f.Collection, f.Category, f.Content, f.ContentLength,
			encodeVector(f.CombinedEmbedding), encodeVector(f.CategoryEmbedding), encodeVector(f.ContentEmbedding),
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
		"SELECT "+selectCols+" FROM fragment WHERE collection = ? ORDER BY chunk_index, created_at",
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
		"SELECT "+selectCols+" FROM fragment WHERE collection = ? ORDER BY chunk_index, created_at LIMIT ? OFFSET ?",
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
			id                                       string
			combinedBlob, categoryBlob, contentBlob []byte
			embeddingDim                             sql.NullInt64
			sourceFile                               sql.NullString
			chunkIndex                               sql.NullInt64
		)
		err := rows.Scan(
			&id, &f.Collection, &f.Category, &f.Content, &f.ContentLength,
			&combinedBlob, &categoryBlob, &contentBlob, &embeddingDim,
			&sourceFile, &chunkIndex, &f.CreatedAt, &f.UpdatedAt,
		)
		if err != nil {
			return nil, wrapStoreErr(err, "failed to scan fragment row")
		}
		parsed, err := parseUUID(id)
		if err != nil {
			return nil, wrapStoreErr(err, "failed to parse fragment id")
		}
		f.ID = parsed
		f.CombinedEmbedding = decodeVector(combinedBlob)
		f.CategoryEmbedding = decodeVector(categoryBlob)
		f.ContentEmbedding = decodeVector(contentBlob)
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

func (d *DB) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fragment WHERE collection = ?", collection).Scan(&n)
	if err != nil {
		return 0, wrapStoreErr(err, "failed to count fragments")
	}
	return n, nil
}

func (d *DB) HasAnyEmbeddings(ctx context.Context, collection string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM fragment WHERE collection = ? AND combined_embedding IS NOT NULL LIMIT 1",
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
	_, err := d.db.ExecContext(ctx, "DELETE FROM fragment WHERE collection = ?", collection)
	if err != nil {
		return wrapStoreErr(err, "failed to delete collection")
	}
	return nil
}

func (d *DB) Delete(ctx context.Context, id string) error {
	result, err := d.db.ExecContext(ctx, "DELETE FROM fragment WHERE id = ?", id)
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
		"UPDATE fragment SET content = ?, content_length = ?, updated_at = ? WHERE id = ?",
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

// encodeVector serializes v as little-endian IEEE-754 float32 bytes.
// A nil vector encodes to nil (stored as SQL NULL).
func encodeVector(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
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
	if isTransientSqliteErr(err) {
		return errs.NewTransientStoreError(wrapped)
	}
	return errs.NewPermanentStoreError(wrapped)
}

// isTransientSqliteErr reports whether err looks like a contention
// failure (SQLITE_BUSY/SQLITE_LOCKED) rather than a structural one.
func isTransientSqliteErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
