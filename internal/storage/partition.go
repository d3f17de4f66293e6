package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/journalsync/pkg/models"
	"github.com/rs/zerolog/log"
)

// partitionMigrations is the ordered per-partition schema history. Each step
// runs at most once per partition; the applied version is tracked inside the
// partition itself. New steps append, existing steps never change.
var partitionMigrations = []string{
	// v1: initial sync tables
	`CREATE TABLE IF NOT EXISTS %[1]s.synced_entries (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		encrypted_data BYTEA NOT NULL,
		version BIGINT NOT NULL,
		vector_clock TEXT NOT NULL DEFAULT '{}',
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_updated ON %[1]s.synced_entries (updated_at);
	CREATE TABLE IF NOT EXISTS %[1]s.synced_memories (
		id TEXT PRIMARY KEY,
		encrypted_data BYTEA NOT NULL,
		version BIGINT NOT NULL,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_updated ON %[1]s.synced_memories (updated_at);
	CREATE TABLE IF NOT EXISTS %[1]s.synced_tags (
		id TEXT PRIMARY KEY,
		entry_id TEXT NOT NULL,
		encrypted_data BYTEA NOT NULL,
		version BIGINT NOT NULL,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tags_entry ON %[1]s.synced_tags (entry_id);
	CREATE INDEX IF NOT EXISTS idx_tags_updated ON %[1]s.synced_tags (updated_at)`,
}

// PostgresPartitions implements PartitionStore with one Postgres schema per
// user. Separating per-user data by schema keeps partitions isolated from the
// shared master tables while reusing one connection pool.
type PostgresPartitions struct {
	pool *pgxpool.Pool
}

// NewPostgresPartitions returns a partition store sharing the given pool.
func NewPostgresPartitions(pool *pgxpool.Pool) *PostgresPartitions {
	return &PostgresPartitions{pool: pool}
}

// schemaName maps a user id to its partition schema. User ids are UUIDs; the
// dashes are folded so the result is a plain identifier needing no quoting.
func schemaName(userID string) string {
	return "u_" + strings.ReplaceAll(strings.ToLower(userID), "-", "")
}

func (p *PostgresPartitions) Provision(ctx context.Context, userID string) error {
	schema := schemaName(userID)
	if _, err := p.pool.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema)); err != nil {
		return fmt.Errorf("creating partition schema: %w", err)
	}
	if _, err := p.pool.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s.partition_schema_version (
			version BIGINT PRIMARY KEY,
			applied_at BIGINT NOT NULL
		)`, schema)); err != nil {
		return fmt.Errorf("creating version table: %w", err)
	}

	var current int
	err := p.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT COALESCE(MAX(version), 0) FROM %s.partition_schema_version`, schema)).Scan(&current)
	if err != nil {
		return fmt.Errorf("reading partition schema version: %w", err)
	}

	for v := current; v < len(partitionMigrations); v++ {
		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return err
		}
		migration := fmt.Sprintf(partitionMigrations[v], schema)
		if _, err := tx.Exec(ctx, migration); err != nil {
			tx.Rollback(ctx) //nolint:errcheck
			return fmt.Errorf("applying partition migration v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s.partition_schema_version (version, applied_at)
			 VALUES ($1, EXTRACT(EPOCH FROM NOW())::bigint)`, schema), v+1); err != nil {
			tx.Rollback(ctx) //nolint:errcheck
			return fmt.Errorf("recording partition migration v%d: %w", v+1, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		log.Info().Str("user_id", userID).Int("version", v+1).Msg("partition migration applied")
	}
	return nil
}

func (p *PostgresPartitions) WithTx(ctx context.Context, userID string, fn func(tx SyncTx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning partition tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgSyncTx{tx: tx, schema: schemaName(userID)}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// --- Transactional push view ---

type pgSyncTx struct {
	tx     pgx.Tx
	schema string
}

func (t *pgSyncTx) GetEntry(ctx context.Context, id string) (*models.Entry, error) {
	row := t.tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT id, device_id, encrypted_data, version, vector_clock, is_deleted, created_at, updated_at
		 FROM %s.synced_entries WHERE id = $1`, t.schema), id)
	return scanEntry(row)
}

func (t *pgSyncTx) InsertEntry(ctx context.Context, e *models.Entry) error {
	vc, err := marshalClock(e.VectorClock)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s.synced_entries (id, device_id, encrypted_data, version, vector_clock, is_deleted, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, t.schema),
		e.ID, e.DeviceID, e.EncryptedData, e.Version, vc, e.IsDeleted, e.CreatedAt, e.UpdatedAt)
	return err
}

func (t *pgSyncTx) UpdateEntry(ctx context.Context, e *models.Entry) error {
	vc, err := marshalClock(e.VectorClock)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, fmt.Sprintf(
		`UPDATE %s.synced_entries
		 SET device_id = $2, encrypted_data = $3, version = $4, vector_clock = $5, is_deleted = $6, updated_at = $7
		 WHERE id = $1`, t.schema),
		e.ID, e.DeviceID, e.EncryptedData, e.Version, vc, e.IsDeleted, e.UpdatedAt)
	return err
}

func (t *pgSyncTx) GetMemory(ctx context.Context, id string) (*models.Memory, error) {
	row := t.tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT id, encrypted_data, version, is_deleted, created_at, updated_at
		 FROM %s.synced_memories WHERE id = $1`, t.schema), id)
	return scanMemory(row)
}

func (t *pgSyncTx) InsertMemory(ctx context.Context, m *models.Memory) error {
	_, err := t.tx.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s.synced_memories (id, encrypted_data, version, is_deleted, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`, t.schema),
		m.ID, m.EncryptedData, m.Version, m.IsDeleted, m.CreatedAt, m.UpdatedAt)
	return err
}

func (t *pgSyncTx) UpdateMemory(ctx context.Context, m *models.Memory) error {
	_, err := t.tx.Exec(ctx, fmt.Sprintf(
		`UPDATE %s.synced_memories
		 SET encrypted_data = $2, version = $3, is_deleted = $4, updated_at = $5
		 WHERE id = $1`, t.schema),
		m.ID, m.EncryptedData, m.Version, m.IsDeleted, m.UpdatedAt)
	return err
}

func (t *pgSyncTx) GetTag(ctx context.Context, id string) (*models.Tag, error) {
	row := t.tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT id, entry_id, encrypted_data, version, is_deleted, created_at, updated_at
		 FROM %s.synced_tags WHERE id = $1`, t.schema), id)
	return scanTag(row)
}

func (t *pgSyncTx) InsertTag(ctx context.Context, tag *models.Tag) error {
	_, err := t.tx.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s.synced_tags (id, entry_id, encrypted_data, version, is_deleted, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`, t.schema),
		tag.ID, tag.EntryID, tag.EncryptedData, tag.Version, tag.IsDeleted, tag.CreatedAt, tag.UpdatedAt)
	return err
}

func (t *pgSyncTx) UpdateTag(ctx context.Context, tag *models.Tag) error {
	_, err := t.tx.Exec(ctx, fmt.Sprintf(
		`UPDATE %s.synced_tags
		 SET entry_id = $2, encrypted_data = $3, version = $4, is_deleted = $5, updated_at = $6
		 WHERE id = $1`, t.schema),
		tag.ID, tag.EntryID, tag.EncryptedData, tag.Version, tag.IsDeleted, tag.UpdatedAt)
	return err
}

// --- Pull queries ---

func (p *PostgresPartitions) ListEntriesSince(ctx context.Context, userID string, since int64) ([]models.Entry, error) {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(
		`SELECT id, device_id, encrypted_data, version, vector_clock, is_deleted, created_at, updated_at
		 FROM %s.synced_entries WHERE updated_at > $1 ORDER BY updated_at ASC`, schemaName(userID)), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (p *PostgresPartitions) ListMemoriesSince(ctx context.Context, userID string, since int64) ([]models.Memory, error) {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(
		`SELECT id, encrypted_data, version, is_deleted, created_at, updated_at
		 FROM %s.synced_memories WHERE updated_at > $1 ORDER BY updated_at ASC`, schemaName(userID)), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var memories []models.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, *m)
	}
	return memories, rows.Err()
}

func (p *PostgresPartitions) ListTagsSince(ctx context.Context, userID string, since int64) ([]models.Tag, error) {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(
		`SELECT id, entry_id, encrypted_data, version, is_deleted, created_at, updated_at
		 FROM %s.synced_tags WHERE updated_at > $1 ORDER BY updated_at ASC`, schemaName(userID)), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []models.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		tags = append(tags, *t)
	}
	return tags, rows.Err()
}

// --- Status queries ---

func (p *PostgresPartitions) Counts(ctx context.Context, userID string) (SyncCounts, error) {
	schema := schemaName(userID)
	var c SyncCounts
	err := p.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT
			(SELECT COUNT(*) FROM %[1]s.synced_entries WHERE NOT is_deleted),
			(SELECT COUNT(*) FROM %[1]s.synced_memories WHERE NOT is_deleted),
			(SELECT COUNT(*) FROM %[1]s.synced_tags WHERE NOT is_deleted)`, schema)).
		Scan(&c.Entries, &c.Memories, &c.Tags)
	return c, err
}

func (p *PostgresPartitions) LastUpdatedAt(ctx context.Context, userID string) (*int64, error) {
	schema := schemaName(userID)
	var last *int64
	err := p.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT GREATEST(
			(SELECT MAX(updated_at) FROM %[1]s.synced_entries),
			(SELECT MAX(updated_at) FROM %[1]s.synced_memories),
			(SELECT MAX(updated_at) FROM %[1]s.synced_tags))`, schema)).Scan(&last)
	if err != nil {
		return nil, err
	}
	return last, nil
}

// --- Scan helpers ---

func scanEntry(row pgx.Row) (*models.Entry, error) {
	var e models.Entry
	var vc string
	err := row.Scan(&e.ID, &e.DeviceID, &e.EncryptedData, &e.Version, &vc,
		&e.IsDeleted, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.VectorClock, err = unmarshalClock(vc)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanMemory(row pgx.Row) (*models.Memory, error) {
	var m models.Memory
	err := row.Scan(&m.ID, &m.EncryptedData, &m.Version, &m.IsDeleted, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func scanTag(row pgx.Row) (*models.Tag, error) {
	var t models.Tag
	err := row.Scan(&t.ID, &t.EntryID, &t.EncryptedData, &t.Version, &t.IsDeleted, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func marshalClock(clock map[string]int64) (string, error) {
	if len(clock) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(clock)
	if err != nil {
		return "", fmt.Errorf("serializing vector clock: %w", err)
	}
	return string(b), nil
}

func unmarshalClock(raw string) (map[string]int64, error) {
	if raw == "" {
		return map[string]int64{}, nil
	}
	clock := map[string]int64{}
	if err := json.Unmarshal([]byte(raw), &clock); err != nil {
		return nil, fmt.Errorf("parsing vector clock: %w", err)
	}
	return clock, nil
}
