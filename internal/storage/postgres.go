package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/journalsync/pkg/models"
)

// PostgresMaster is a MasterStore backed by PostgreSQL.
type PostgresMaster struct {
	pool *pgxpool.Pool
}

// NewPostgresMaster opens a pgxpool connection and returns a ready store.
func NewPostgresMaster(ctx context.Context, connStr string) (*PostgresMaster, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresMaster{pool: pool}, nil
}

// Pool exposes the underlying pool so the partition store can share it.
func (p *PostgresMaster) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *PostgresMaster) Close() {
	p.pool.Close()
}

// --- Users ---

func (p *PostgresMaster) CreateUser(ctx context.Context, u *models.User) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO users (user_id, provider, provider_user_id, email, name, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.UserID, u.Provider, u.ProviderUserID, u.Email, u.Name, u.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (p *PostgresMaster) GetUser(ctx context.Context, userID string) (*models.User, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT user_id, provider, provider_user_id, email, name, created_at
		 FROM users WHERE user_id = $1`,
		userID,
	)
	return scanUser(row)
}

func (p *PostgresMaster) GetUserByProvider(ctx context.Context, provider, providerUserID string) (*models.User, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT user_id, provider, provider_user_id, email, name, created_at
		 FROM users WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.UserID, &u.Provider, &u.ProviderUserID, &u.Email, &u.Name, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// --- Devices ---

func (p *PostgresMaster) UpsertDevice(ctx context.Context, d *models.Device) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO user_devices (device_id, user_id, device_name, platform, app_version, last_seen_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (device_id) DO UPDATE
		 SET device_name = EXCLUDED.device_name,
		     platform = EXCLUDED.platform,
		     app_version = EXCLUDED.app_version,
		     last_seen_at = EXCLUDED.last_seen_at`,
		d.DeviceID, d.UserID, d.DeviceName, d.Platform, d.AppVersion, d.LastSeenAt, d.CreatedAt,
	)
	return err
}

func (p *PostgresMaster) ListDevices(ctx context.Context, userID string) ([]models.Device, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT device_id, user_id, device_name, platform, app_version, last_seen_at, created_at
		 FROM user_devices WHERE user_id = $1 ORDER BY last_seen_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var devices []models.Device
	for rows.Next() {
		var d models.Device
		if err := rows.Scan(&d.DeviceID, &d.UserID, &d.DeviceName, &d.Platform,
			&d.AppVersion, &d.LastSeenAt, &d.CreatedAt); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (p *PostgresMaster) DeleteDevice(ctx context.Context, userID, deviceID string) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM user_devices WHERE device_id = $1 AND user_id = $2`,
		deviceID, userID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Add-ons ---

func (p *PostgresMaster) ListAddOns(ctx context.Context, userID string) ([]models.AddOn, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT user_id, add_on_type, status, platform, product_id, transaction_id,
		        purchase_date, expires_at, auto_renew
		 FROM user_add_ons WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var addOns []models.AddOn
	for rows.Next() {
		var a models.AddOn
		if err := rows.Scan(&a.UserID, &a.Type, &a.Status, &a.Platform, &a.ProductID,
			&a.TransactionID, &a.PurchaseDate, &a.ExpiresAt, &a.AutoRenew); err != nil {
			return nil, err
		}
		addOns = append(addOns, a)
	}
	return addOns, rows.Err()
}

func (p *PostgresMaster) UpsertAddOn(ctx context.Context, a *models.AddOn) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO user_add_ons (user_id, add_on_type, status, platform, product_id, transaction_id,
		                           purchase_date, expires_at, auto_renew, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, EXTRACT(EPOCH FROM NOW())::bigint, EXTRACT(EPOCH FROM NOW())::bigint)
		 ON CONFLICT (user_id, add_on_type) DO UPDATE
		 SET status = EXCLUDED.status,
		     platform = EXCLUDED.platform,
		     product_id = EXCLUDED.product_id,
		     transaction_id = EXCLUDED.transaction_id,
		     purchase_date = EXCLUDED.purchase_date,
		     expires_at = EXCLUDED.expires_at,
		     auto_renew = EXCLUDED.auto_renew,
		     updated_at = EXTRACT(EPOCH FROM NOW())::bigint`,
		a.UserID, a.Type, a.Status, a.Platform, a.ProductID, a.TransactionID,
		a.PurchaseDate, a.ExpiresAt, a.AutoRenew,
	)
	return err
}

// --- Receipts ---

func (p *PostgresMaster) InsertReceipt(ctx context.Context, userID string, r *models.VerifiedReceipt) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO receipts (id, user_id, platform, product_id, transaction_id, verified_at)
		 VALUES (gen_random_uuid(), $1, $2, $3, $4, EXTRACT(EPOCH FROM NOW())::bigint)`,
		userID, r.Platform, r.ProductID, r.TransactionID,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (p *PostgresMaster) ReceiptExists(ctx context.Context, transactionID string) (bool, error) {
	var count int
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM receipts WHERE transaction_id = $1`,
		transactionID,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// --- Quota counters ---

// IncrementQuota atomically bumps the user's counter for the given UTC day,
// but only while the counter is below limit. The conditional upsert is the
// sole concurrency guard for quota enforcement: two racing requests can never
// both pass on the last remaining slot.
func (p *PostgresMaster) IncrementQuota(ctx context.Context, userID, day string, limit int) (bool, error) {
	var count int
	err := p.pool.QueryRow(ctx,
		`INSERT INTO ai_usage_quota (user_id, date, request_count, last_reset_at)
		 VALUES ($1, $2, 1, EXTRACT(EPOCH FROM NOW())::bigint)
		 ON CONFLICT (user_id, date) DO UPDATE
		 SET request_count = ai_usage_quota.request_count + 1,
		     last_reset_at = EXCLUDED.last_reset_at
		 WHERE ai_usage_quota.request_count < $3
		 RETURNING request_count`,
		userID, day, limit,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Conditional upsert matched nothing: already at or over limit.
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (p *PostgresMaster) QuotaCount(ctx context.Context, userID, day string) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx,
		`SELECT request_count FROM ai_usage_quota WHERE user_id = $1 AND date = $2`,
		userID, day,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// No row for today means zero usage; midnight reset is implicit.
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
