// Package sqlite provides the persistent hash record and embedding
// record stores backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/kilnworks/kiln-cli/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/kilnworks/kiln-cli/internal/core/domain"
	"github.com/kilnworks/kiln-cli/internal/core/ports/driven"
)

// Ensure the wrapper types implement their interfaces.
var (
	_ driven.HashStore      = (*hashStore)(nil)
	_ driven.EmbeddingStore = (*embeddingStore)(nil)
)

// Store is a unified SQLite-based storage that provides access to the
// hash record and embedding record stores through wrapper types.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new SQLite store at the specified data directory.
// If dataDir is empty, defaults to ~/.kiln/data/index.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".kiln", "data")
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "index.db")

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	// Run migrations
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// HashStore returns a HashStore interface backed by this store.
func (s *Store) HashStore() driven.HashStore {
	return &hashStore{store: s}
}

// EmbeddingStore returns an EmbeddingStore interface backed by this store.
func (s *Store) EmbeddingStore() driven.EmbeddingStore {
	return &embeddingStore{store: s}
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	// Ensure schema_migrations table exists
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	// Find all up migrations
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// Extract version number (e.g., "001_initial.up.sql" -> 1)
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue // Skip files that don't match pattern
		}

		if version <= currentVersion {
			continue // Already applied
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}

		if _, err := s.db.Exec(
			"INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// ==================== Hash Record Store ====================

// hashStore implements driven.HashStore.
type hashStore struct {
	store *Store
}

// LookupOne retrieves the records for a single path, ordered by block index.
func (s *hashStore) LookupOne(ctx context.Context, path string) ([]domain.HashRecord, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT document_path, block_index, digest, file_size, last_modified
		FROM hash_records WHERE document_path = ?
		ORDER BY block_index
	`, path)
	if err != nil {
		return nil, fmt.Errorf("querying hash records: %w", err)
	}
	defer rows.Close()

	records, err := scanHashRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.ErrNotFound
	}
	return records, nil
}

// LookupBatch resolves multiple paths in a single round trip, splitting
// inputs larger than driven.DefaultLookupBatchSize.
func (s *hashStore) LookupBatch(ctx context.Context, paths []string) (*driven.BatchResult, error) {
	result := &driven.BatchResult{Found: make(map[string][]domain.HashRecord)}

	for start := 0; start < len(paths); start += driven.DefaultLookupBatchSize {
		end := start + driven.DefaultLookupBatchSize
		if end > len(paths) {
			end = len(paths)
		}
		if err := s.lookupChunk(ctx, paths[start:end], result); err != nil {
			return nil, err
		}
	}

	for _, path := range paths {
		if _, ok := result.Found[path]; !ok {
			result.Missing = append(result.Missing, path)
		}
	}
	return result, nil
}

func (s *hashStore) lookupChunk(ctx context.Context, paths []string, result *driven.BatchResult) error {
	if len(paths) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(paths))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(paths))
	for i, p := range paths {
		args[i] = p
	}

	rows, err := s.store.db.QueryContext(ctx, `
		SELECT document_path, block_index, digest, file_size, last_modified
		FROM hash_records WHERE document_path IN (`+placeholders+`)
		ORDER BY document_path, block_index
	`, args...)
	if err != nil {
		return fmt.Errorf("querying hash record batch: %w", err)
	}
	defer rows.Close()

	records, err := scanHashRecords(rows)
	if err != nil {
		return err
	}
	for _, rec := range records {
		result.Found[rec.Path] = append(result.Found[rec.Path], rec)
	}
	return nil
}

// WriteBatch upserts records keyed by (document_path, block_index).
func (s *hashStore) WriteBatch(ctx context.Context, records []domain.HashRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO hash_records (document_path, block_index, digest, file_size, last_modified)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(document_path, block_index) DO UPDATE SET
			digest = excluded.digest,
			file_size = excluded.file_size,
			last_modified = excluded.last_modified
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.Path, rec.BlockIndex, rec.Digest[:],
			rec.FileSize, rec.LastModified.UTC()); err != nil {
			return fmt.Errorf("saving hash record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// TrimPath removes records past the document's current block count.
func (s *hashStore) TrimPath(ctx context.Context, path string, blockCount uint32) error {
	_, err := s.store.db.ExecContext(ctx,
		"DELETE FROM hash_records WHERE document_path = ? AND block_index >= ?",
		path, blockCount)
	if err != nil {
		return fmt.Errorf("trimming hash records: %w", err)
	}
	return nil
}

// DeletePath removes all records for a document.
func (s *hashStore) DeletePath(ctx context.Context, path string) error {
	_, err := s.store.db.ExecContext(ctx,
		"DELETE FROM hash_records WHERE document_path = ?", path)
	if err != nil {
		return fmt.Errorf("deleting hash records: %w", err)
	}
	return nil
}

// AllPaths lists every indexed document path, ordered ascending.
func (s *hashStore) AllPaths(ctx context.Context) ([]string, error) {
	rows, err := s.store.db.QueryContext(ctx,
		"SELECT DISTINCT document_path FROM hash_records ORDER BY document_path")
	if err != nil {
		return nil, fmt.Errorf("querying document paths: %w", err)
	}
	defer rows.Close()

	var paths []string //nolint:prealloc // size unknown from query
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scanning document path: %w", err)
		}
		paths = append(paths, path)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating document paths: %w", err)
	}
	return paths, nil
}

// scanHashRecords reads all rows into records.
func scanHashRecords(rows *sql.Rows) ([]domain.HashRecord, error) {
	var records []domain.HashRecord //nolint:prealloc // size unknown from query
	for rows.Next() {
		var rec domain.HashRecord
		var digest []byte
		var lastModified sql.NullTime
		if err := rows.Scan(&rec.Path, &rec.BlockIndex, &digest,
			&rec.FileSize, &lastModified); err != nil {
			return nil, fmt.Errorf("scanning hash record: %w", err)
		}
		if len(digest) != domain.DigestSize {
			return nil, fmt.Errorf("%w: stored digest is %d bytes", domain.ErrInvalidInput, len(digest))
		}
		copy(rec.Digest[:], digest)
		if lastModified.Valid {
			rec.LastModified = lastModified.Time
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating hash records: %w", err)
	}
	return records, nil
}

// ==================== Embedding Record Store ====================

// embeddingStore implements driven.EmbeddingStore.
type embeddingStore struct {
	store *Store
}

// SaveEmbeddings upserts embedding records keyed by digest.
func (s *embeddingStore) SaveEmbeddings(ctx context.Context, records []domain.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (digest, vector, dimensions, generated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(digest) DO UPDATE SET
			vector = excluded.vector,
			dimensions = excluded.dimensions,
			generated_at = excluded.generated_at
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		blob := float32SliceToBytes(rec.Vector)
		if _, err := stmt.ExecContext(ctx, rec.Digest[:], blob,
			len(rec.Vector), rec.GeneratedAt.UTC()); err != nil {
			return fmt.Errorf("saving embedding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// LoadEmbeddings returns all records in insertion (rowid) order.
func (s *embeddingStore) LoadEmbeddings(ctx context.Context) ([]domain.EmbeddingRecord, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT digest, vector, generated_at FROM embeddings ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	var records []domain.EmbeddingRecord //nolint:prealloc // size unknown from query
	for rows.Next() {
		var rec domain.EmbeddingRecord
		var digest, vector []byte
		var generatedAt sql.NullTime
		if err := rows.Scan(&digest, &vector, &generatedAt); err != nil {
			return nil, fmt.Errorf("scanning embedding: %w", err)
		}
		if len(digest) != domain.DigestSize {
			return nil, fmt.Errorf("%w: stored digest is %d bytes", domain.ErrInvalidInput, len(digest))
		}
		copy(rec.Digest[:], digest)
		rec.Vector = bytesToFloat32Slice(vector)
		if generatedAt.Valid {
			rec.GeneratedAt = generatedAt.Time
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating embeddings: %w", err)
	}
	return records, nil
}

// DeleteEmbedding removes the record for a digest.
func (s *embeddingStore) DeleteEmbedding(ctx context.Context, digest domain.Digest) error {
	_, err := s.store.db.ExecContext(ctx,
		"DELETE FROM embeddings WHERE digest = ?", digest[:])
	if err != nil {
		return fmt.Errorf("deleting embedding: %w", err)
	}
	return nil
}

// IsNotFound reports whether err is the store's not-found condition.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
