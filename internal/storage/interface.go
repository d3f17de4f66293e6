package storage

import (
	"context"
	"errors"

	"github.com/org/journalsync/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist. "Not found" is
// an expected outcome on sync lookups (new item on push, no changes on pull)
// and must be handled, not treated as a failure.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when inserting a row that already exists.
var ErrAlreadyExists = errors.New("already exists")

// MasterStore is the shared partition: identities, devices, add-ons, receipts
// and quota counters. It is the only store ever queried across users.
type MasterStore interface {
	// Users
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetUserByProvider(ctx context.Context, provider, providerUserID string) (*models.User, error)

	// Devices
	UpsertDevice(ctx context.Context, d *models.Device) error
	ListDevices(ctx context.Context, userID string) ([]models.Device, error)
	DeleteDevice(ctx context.Context, userID, deviceID string) error

	// Add-ons and receipts
	ListAddOns(ctx context.Context, userID string) ([]models.AddOn, error)
	UpsertAddOn(ctx context.Context, a *models.AddOn) error
	InsertReceipt(ctx context.Context, userID string, r *models.VerifiedReceipt) error
	ReceiptExists(ctx context.Context, transactionID string) (bool, error)

	// Quota counters (UTC-day keyed)
	IncrementQuota(ctx context.Context, userID, day string, limit int) (bool, error)
	QuotaCount(ctx context.Context, userID, day string) (int, error)

	Close()
}

// SyncTx is the transactional view of one user's partition during a push.
// All writes inside a single push share one transaction.
type SyncTx interface {
	GetEntry(ctx context.Context, id string) (*models.Entry, error)
	InsertEntry(ctx context.Context, e *models.Entry) error
	UpdateEntry(ctx context.Context, e *models.Entry) error

	GetMemory(ctx context.Context, id string) (*models.Memory, error)
	InsertMemory(ctx context.Context, m *models.Memory) error
	UpdateMemory(ctx context.Context, m *models.Memory) error

	GetTag(ctx context.Context, id string) (*models.Tag, error)
	InsertTag(ctx context.Context, t *models.Tag) error
	UpdateTag(ctx context.Context, t *models.Tag) error
}

// SyncCounts holds per-kind non-deleted totals for the status endpoint.
type SyncCounts struct {
	Entries  int64
	Memories int64
	Tags     int64
}

// PartitionStore provides access to per-user encrypted storage partitions.
// Partitions are fully isolated from one another; no operation ever spans two.
type PartitionStore interface {
	// Provision creates the user's partition and applies any pending schema
	// migrations. Idempotent; called at sign-in, never on the hot path.
	Provision(ctx context.Context, userID string) error

	// WithTx runs fn inside one transaction on the user's partition,
	// committing on nil and rolling back on error.
	WithTx(ctx context.Context, userID string, fn func(tx SyncTx) error) error

	ListEntriesSince(ctx context.Context, userID string, since int64) ([]models.Entry, error)
	ListMemoriesSince(ctx context.Context, userID string, since int64) ([]models.Memory, error)
	ListTagsSince(ctx context.Context, userID string, since int64) ([]models.Tag, error)

	Counts(ctx context.Context, userID string) (SyncCounts, error)
	LastUpdatedAt(ctx context.Context, userID string) (*int64, error)
}
