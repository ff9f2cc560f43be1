package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
)

// SettingsStore implements domain.SettingsStore using PostgreSQL.
type SettingsStore struct {
	pool *pgxpool.Pool
}

// NewSettingsStore creates a new SettingsStore backed by the given connection pool.
func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

// Upsert inserts or updates one setting.
func (s *SettingsStore) Upsert(ctx context.Context, e domain.SettingEntry) error {
	const query = `
		INSERT INTO app_settings (key, value, updated_at, updated_by)
		VALUES ($1, $2, NOW(), NULLIF($3, ''))
		ON CONFLICT (key) DO UPDATE SET
			value      = EXCLUDED.value,
			updated_at = NOW(),
			updated_by = EXCLUDED.updated_by`

	if _, err := s.pool.Exec(ctx, query, e.Key, e.Value, e.UpdatedBy); err != nil {
		return fmt.Errorf("postgres: upsert setting %s: %w", e.Key, err)
	}
	return nil
}

// List returns all stored settings.
func (s *SettingsStore) List(ctx context.Context) ([]domain.SettingEntry, error) {
	const query = `SELECT key, value, updated_at, COALESCE(updated_by, '') FROM app_settings ORDER BY key`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settings: %w", err)
	}
	defer rows.Close()

	var entries []domain.SettingEntry
	for rows.Next() {
		var e domain.SettingEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.UpdatedAt, &e.UpdatedBy); err != nil {
			return nil, fmt.Errorf("postgres: scan setting: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list settings rows: %w", err)
	}
	return entries, nil
}

var _ domain.SettingsStore = (*SettingsStore)(nil)
