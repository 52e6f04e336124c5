package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	coreerrors "github.com/hybridcore/core/internal/errors"
	"github.com/hybridcore/core/internal/model"
)

// MetadataDB wraps a sqlite connection used for both the adapter store and
// the content catalog metadata store, opened in WAL mode for concurrent
// readers alongside a single writer.
type MetadataDB struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS adapters (
	user_id             TEXT NOT NULL,
	adapter_name        TEXT NOT NULL,
	version             INTEGER NOT NULL,
	rank                INTEGER NOT NULL,
	input_dim           INTEGER NOT NULL,
	output_dim          INTEGER NOT NULL,
	base_layer          BLOB NOT NULL,
	user_layer          BLOB NOT NULL,
	training_iterations INTEGER NOT NULL,
	updated_at          TIMESTAMP NOT NULL,
	PRIMARY KEY (user_id, adapter_name, version)
);
CREATE INDEX IF NOT EXISTS idx_adapters_lookup
	ON adapters(user_id, adapter_name, version DESC);

CREATE TABLE IF NOT EXISTS content_items (
	id         TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// OpenMetadataDB opens (creating if needed) the sqlite database at path.
// An empty path opens an in-memory database, used by tests.
func OpenMetadataDB(path string) (*MetadataDB, error) {
	dsn := ":memory:"
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create directory: %w", err)
			}
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open(sqlDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == "" {
		// :memory: databases are per-connection; force a single connection
		// so every query lands in the same in-memory instance.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &MetadataDB{db: db, path: path}, nil
}

// Close closes the underlying connection pool.
func (m *MetadataDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Close()
}

// matrixBlob is the JSON wire format for a LoRA weight matrix, chosen over
// gob so the blob is portable across Go versions without a type registry.
type matrixBlob = [][]float32

// Save writes a new version row for (user_id, adapter_name). It reads
// MAX(version) and inserts MAX+1 inside one transaction while holding the
// store's write lock, so concurrent saves for the same pair get distinct,
// monotonic versions and no write is lost.
func (m *MetadataDB) Save(ctx context.Context, adapter model.LoRAAdapter) (int, error) {
	base, err := json.Marshal(matrixBlob(adapter.BaseLayer))
	if err != nil {
		return 0, fmt.Errorf("marshal base layer: %w", err)
	}
	user, err := json.Marshal(matrixBlob(adapter.UserLayer))
	if err != nil {
		return 0, fmt.Errorf("marshal user layer: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, coreerrors.New(coreerrors.KindAdapterStoreUnavailable, "begin transaction", err)
	}
	defer tx.Rollback()

	var maxVersion sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(version) FROM adapters WHERE user_id = ? AND adapter_name = ?`,
		adapter.UserID, adapter.AdapterName).Scan(&maxVersion)
	if err != nil {
		return 0, coreerrors.New(coreerrors.KindAdapterStoreUnavailable, "query max version", err)
	}

	version := 1
	if maxVersion.Valid {
		version = int(maxVersion.Int64) + 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO adapters
			(user_id, adapter_name, version, rank, input_dim, output_dim,
			 base_layer, user_layer, training_iterations, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		adapter.UserID, adapter.AdapterName, version, adapter.Rank,
		adapter.InputDim, adapter.OutputDim, base, user,
		adapter.TrainingIterations, time.Now().UTC())
	if err != nil {
		return 0, coreerrors.New(coreerrors.KindAdapterStoreUnavailable, "insert adapter version", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, coreerrors.New(coreerrors.KindAdapterStoreUnavailable, "commit adapter save", err)
	}

	return version, nil
}

// Load returns the highest-version adapter for (user_id, adapter_name).
func (m *MetadataDB) Load(ctx context.Context, userID, name string) (model.LoRAAdapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row := m.db.QueryRowContext(ctx, `
		SELECT version, rank, input_dim, output_dim, base_layer, user_layer,
		       training_iterations, updated_at
		FROM adapters
		WHERE user_id = ? AND adapter_name = ?
		ORDER BY version DESC
		LIMIT 1`, userID, name)

	return m.scanAdapter(row, userID, name)
}

// LoadVersion returns a specific version, for rollback or A/B comparison.
func (m *MetadataDB) LoadVersion(ctx context.Context, userID, name string, version int) (model.LoRAAdapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row := m.db.QueryRowContext(ctx, `
		SELECT version, rank, input_dim, output_dim, base_layer, user_layer,
		       training_iterations, updated_at
		FROM adapters
		WHERE user_id = ? AND adapter_name = ? AND version = ?`, userID, name, version)

	return m.scanAdapter(row, userID, name)
}

func (m *MetadataDB) scanAdapter(row *sql.Row, userID, name string) (model.LoRAAdapter, error) {
	var (
		version, rank, inputDim, outputDim, trainingIterations int
		baseRaw, userRaw                                       []byte
		updatedAt                                               time.Time
	)

	if err := row.Scan(&version, &rank, &inputDim, &outputDim, &baseRaw, &userRaw,
		&trainingIterations, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return model.LoRAAdapter{}, coreerrors.New(coreerrors.KindAdapterNotFound,
				fmt.Sprintf("no adapter for user=%s name=%s", userID, name), nil)
		}
		return model.LoRAAdapter{}, coreerrors.New(coreerrors.KindAdapterStoreUnavailable, "scan adapter row", err)
	}

	var base, user matrixBlob
	if err := json.Unmarshal(baseRaw, &base); err != nil {
		return model.LoRAAdapter{}, coreerrors.New(coreerrors.KindAdapterStoreUnavailable, "unmarshal base layer", err)
	}
	if err := json.Unmarshal(userRaw, &user); err != nil {
		return model.LoRAAdapter{}, coreerrors.New(coreerrors.KindAdapterStoreUnavailable, "unmarshal user layer", err)
	}

	return model.LoRAAdapter{
		UserID:             userID,
		AdapterName:        name,
		Version:            version,
		BaseLayer:          base,
		UserLayer:          user,
		TrainingIterations: trainingIterations,
		Rank:               rank,
		InputDim:           inputDim,
		OutputDim:          outputDim,
		UpdatedAt:          updatedAt,
	}, nil
}

// List returns metadata for every adapter name owned by a user, ordered by
// updated_at desc, one row per (adapter_name) at its latest version.
func (m *MetadataDB) List(ctx context.Context, userID string) ([]model.AdapterMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, err := m.db.QueryContext(ctx, `
		SELECT adapter_name, version, training_iterations, updated_at
		FROM adapters a
		WHERE user_id = ? AND version = (
			SELECT MAX(version) FROM adapters WHERE user_id = a.user_id AND adapter_name = a.adapter_name
		)
		ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, coreerrors.New(coreerrors.KindAdapterStoreUnavailable, "list adapters", err)
	}
	defer rows.Close()

	var out []model.AdapterMeta
	for rows.Next() {
		var meta model.AdapterMeta
		meta.UserID = userID
		if err := rows.Scan(&meta.AdapterName, &meta.Version, &meta.TrainingIterations, &meta.UpdatedAt); err != nil {
			return nil, coreerrors.New(coreerrors.KindAdapterStoreUnavailable, "scan adapter meta", err)
		}
		out = append(out, meta)
	}
	return out, rows.Err()
}

// Delete removes every version of (user_id, adapter_name).
func (m *MetadataDB) Delete(ctx context.Context, userID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.db.ExecContext(ctx, `DELETE FROM adapters WHERE user_id = ? AND adapter_name = ?`, userID, name)
	if err != nil {
		return coreerrors.New(coreerrors.KindAdapterStoreUnavailable, "delete adapter", err)
	}
	return nil
}

// DeleteVersion removes a single version, leaving others intact.
func (m *MetadataDB) DeleteVersion(ctx context.Context, userID, name string, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.db.ExecContext(ctx,
		`DELETE FROM adapters WHERE user_id = ? AND adapter_name = ? AND version = ?`, userID, name, version)
	if err != nil {
		return coreerrors.New(coreerrors.KindAdapterStoreUnavailable, "delete adapter version", err)
	}
	return nil
}

// UpsertContent persists the catalog source-of-truth row for a content
// item, used to repopulate VectorStore/KeywordIndex on startup (reindex).
func (m *MetadataDB) UpsertContent(ctx context.Context, item *model.ContentItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal content item: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO content_items (id, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		item.ID, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert content item: %w", err)
	}
	return nil
}

// AllContent loads every content item row, for startup reindexing into the
// vector and keyword stores.
func (m *MetadataDB) AllContent(ctx context.Context) ([]*model.ContentItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, err := m.db.QueryContext(ctx, `SELECT payload FROM content_items`)
	if err != nil {
		return nil, fmt.Errorf("query content items: %w", err)
	}
	defer rows.Close()

	var out []*model.ContentItem
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan content item: %w", err)
		}
		var item model.ContentItem
		if err := json.Unmarshal(payload, &item); err != nil {
			return nil, fmt.Errorf("unmarshal content item: %w", err)
		}
		out = append(out, &item)
	}
	return out, rows.Err()
}
