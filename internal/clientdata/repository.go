// Package clientdata persists the last known provider payloads in
// client_data.db. Rows are msgpack blobs keyed by cache key, one table per
// artifact kind, and serve as the stale fallback when a live fetch fails.
package clientdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/marketcore/internal/domain"
	"github.com/vmihailenco/msgpack/v5"
)

// AllTables lists all tables in client_data.db for cleanup operations.
var AllTables = []string{
	"realtime_quotes",
	"klines",
	"instrument_metadata",
	"listings",
}

var tableByKind = map[domain.ArtifactKind]string{
	domain.KindRealtime: "realtime_quotes",
	domain.KindKline:    "klines",
	domain.KindMetadata: "instrument_metadata",
	domain.KindListing:  "listings",
}

// TableFor returns the table holding kind.
func TableFor(kind domain.ArtifactKind) (string, error) {
	table, ok := tableByKind[kind]
	if !ok {
		return "", fmt.Errorf("no client data table for artifact kind %q", kind)
	}
	return table, nil
}

// Repository provides persistent cache operations for provider payloads.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new client data repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Store saves value under key with expires_at = now + retention.
func (r *Repository) Store(ctx context.Context, kind domain.ArtifactKind, key string, value any, retention time.Duration) error {
	table, err := TableFor(kind)
	if err != nil {
		return err
	}

	blob, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}

	now := time.Now()
	query := fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (cache_key, data, stored_at, expires_at) VALUES (?, ?, ?, ?)",
		table,
	)
	if _, err := r.db.ExecContext(ctx, query, key, blob, now.Unix(), now.Add(retention).Unix()); err != nil {
		return fmt.Errorf("failed to store data in %s: %w", table, err)
	}
	return nil
}

// GetIfFresh decodes the row into out only if it has not expired. It reports
// false when the key is missing or expired.
func (r *Repository) GetIfFresh(ctx context.Context, kind domain.ArtifactKind, key string, out any) (bool, error) {
	table, err := TableFor(kind)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf("SELECT data FROM %s WHERE cache_key = ? AND expires_at > ?", table)

	var blob []byte
	err = r.db.QueryRowContext(ctx, query, key, time.Now().Unix()).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get data from %s: %w", table, err)
	}

	if err := msgpack.Unmarshal(blob, out); err != nil {
		return false, fmt.Errorf("failed to decode %s payload: %w", kind, err)
	}
	return true, nil
}

// Get decodes the row into out regardless of expiration and returns when it
// was stored. Use it as the fallback when a live fetch fails.
func (r *Repository) Get(ctx context.Context, kind domain.ArtifactKind, key string, out any) (time.Time, bool, error) {
	table, err := TableFor(kind)
	if err != nil {
		return time.Time{}, false, err
	}

	query := fmt.Sprintf("SELECT data, stored_at FROM %s WHERE cache_key = ?", table)

	var (
		blob     []byte
		storedAt int64
	)
	err = r.db.QueryRowContext(ctx, query, key).Scan(&blob, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get data from %s: %w", table, err)
	}

	if err := msgpack.Unmarshal(blob, out); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to decode %s payload: %w", kind, err)
	}
	return time.Unix(storedAt, 0), true, nil
}

// Delete removes a specific entry.
func (r *Repository) Delete(ctx context.Context, kind domain.ArtifactKind, key string) error {
	table, err := TableFor(kind)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE cache_key = ?", table)
	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

// DeleteExpired removes all rows of kind where expires_at < now.
func (r *Repository) DeleteExpired(ctx context.Context, kind domain.ArtifactKind) (int64, error) {
	table, err := TableFor(kind)
	if err != nil {
		return 0, err
	}
	return r.deleteExpired(ctx, table)
}

func (r *Repository) deleteExpired(ctx context.Context, table string) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE expires_at < ?", table)

	result, err := r.db.ExecContext(ctx, query, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired from %s: %w", table, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for %s: %w", table, err)
	}
	return deleted, nil
}

// DeleteAllExpired removes all expired entries from all tables.
// Returns a map of table name to number of rows deleted.
func (r *Repository) DeleteAllExpired(ctx context.Context) (map[string]int64, error) {
	results := make(map[string]int64, len(AllTables))

	for _, table := range AllTables {
		deleted, err := r.deleteExpired(ctx, table)
		if err != nil {
			return results, err
		}
		results[table] = deleted
	}
	return results, nil
}
