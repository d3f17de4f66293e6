package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/org/journalsync/internal/storage"
	"github.com/org/journalsync/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrSyncDisabled is returned when the user's sync entitlement is not active.
var ErrSyncDisabled = errors.New("sync add-on not active")

// EntitlementChecker is the minimal interface the engine needs from the
// entitlement service.
type EntitlementChecker interface {
	IsActive(ctx context.Context, userID, addOnType string) (bool, error)
}

// DeviceLister supplies registered devices for the status endpoint.
type DeviceLister interface {
	ListDevices(ctx context.Context, userID string) ([]models.Device, error)
}

// Engine orchestrates push and pull across the three synced entity kinds.
// Entries resolve via vector clocks; memories and tags resolve strictly
// last-write-wins by updated_at.
type Engine struct {
	partitions   storage.PartitionStore
	devices      DeviceLister
	entitlements EntitlementChecker
}

// NewEngine creates a sync Engine.
func NewEngine(partitions storage.PartitionStore, devices DeviceLister, entitlements EntitlementChecker) *Engine {
	return &Engine{partitions: partitions, devices: devices, entitlements: entitlements}
}

// Push applies a batch of client changes to the user's partition. All writes
// happen in one transaction: a storage error anywhere aborts the entire push.
// Conflicts are not errors; a push with conflicts still succeeds and the
// caller is expected to re-pull and reconcile.
func (e *Engine) Push(ctx context.Context, userID, deviceID string, req *models.PushRequest) (*models.PushResponse, error) {
	active, err := e.entitlements.IsActive(ctx, userID, models.AddOnSync)
	if err != nil {
		return nil, fmt.Errorf("checking sync entitlement: %w", err)
	}
	if !active {
		return nil, ErrSyncDisabled
	}

	resp := &models.PushResponse{Conflicts: []models.Conflict{}}

	err = e.partitions.WithTx(ctx, userID, func(tx storage.SyncTx) error {
		for i := range req.Entries {
			conflict, err := pushEntry(ctx, tx, &req.Entries[i])
			if err != nil {
				return fmt.Errorf("pushing entry %s: %w", req.Entries[i].ID, err)
			}
			if conflict != nil {
				resp.Conflicts = append(resp.Conflicts, *conflict)
			} else {
				resp.AcceptedEntries++
			}
		}
		for i := range req.Memories {
			conflict, err := pushMemory(ctx, tx, &req.Memories[i])
			if err != nil {
				return fmt.Errorf("pushing memory %s: %w", req.Memories[i].ID, err)
			}
			if conflict != nil {
				resp.Conflicts = append(resp.Conflicts, *conflict)
			} else {
				resp.AcceptedMemories++
			}
		}
		for i := range req.Tags {
			conflict, err := pushTag(ctx, tx, &req.Tags[i])
			if err != nil {
				return fmt.Errorf("pushing tag %s: %w", req.Tags[i].ID, err)
			}
			if conflict != nil {
				resp.Conflicts = append(resp.Conflicts, *conflict)
			} else {
				resp.AcceptedTags++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp.ServerTime = time.Now().Unix()
	log.Info().
		Str("user_id", userID).
		Str("device_id", deviceID).
		Int("accepted_entries", resp.AcceptedEntries).
		Int("accepted_memories", resp.AcceptedMemories).
		Int("accepted_tags", resp.AcceptedTags).
		Int("conflicts", len(resp.Conflicts)).
		Msg("sync push completed")
	return resp, nil
}

// pushEntry applies one entry under vector clock resolution.
func pushEntry(ctx context.Context, tx storage.SyncTx, entry *models.Entry) (*models.Conflict, error) {
	if entry.VectorClock == nil {
		entry.VectorClock = map[string]int64{}
	}

	server, err := tx.GetEntry(ctx, entry.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, tx.InsertEntry(ctx, entry)
	}
	if err != nil {
		return nil, err
	}

	switch CompareClocks(entry.VectorClock, server.VectorClock) {
	case OrderGreater:
		// Client already observed the server state; its clock carries the
		// full merge history.
		return nil, tx.UpdateEntry(ctx, entry)

	case OrderLess:
		return entryConflict(entry, server, models.ConflictServerNewer), nil

	case OrderEqual:
		return nil, nil

	default: // concurrent
		merged := MergeClocks(entry.VectorClock, server.VectorClock)
		if entry.UpdatedAt >= server.UpdatedAt {
			// Client payload wins the tie break; store it with the merged
			// clock so both histories are reflected.
			accepted := *entry
			accepted.VectorClock = merged
			return nil, tx.UpdateEntry(ctx, &accepted)
		}
		// Server payload wins. Still report a conflict so the client knows
		// to re-pull and reconcile locally.
		return entryConflict(entry, server, models.ConflictConcurrent), nil
	}
}

// pushMemory applies one memory, last-write-wins by updated_at. Equal
// timestamps are a no-op: the server retains its copy.
func pushMemory(ctx context.Context, tx storage.SyncTx, memory *models.Memory) (*models.Conflict, error) {
	server, err := tx.GetMemory(ctx, memory.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, tx.InsertMemory(ctx, memory)
	}
	if err != nil {
		return nil, err
	}

	switch {
	case memory.UpdatedAt > server.UpdatedAt:
		return nil, tx.UpdateMemory(ctx, memory)
	case memory.UpdatedAt < server.UpdatedAt:
		return &models.Conflict{
			ItemType:      "memory",
			ItemID:        memory.ID,
			ServerVersion: server,
			ClientVersion: memory,
			Reason:        models.ConflictServerNewer,
		}, nil
	default:
		return nil, nil
	}
}

// pushTag applies one tag with the same resolution rule as memories.
func pushTag(ctx context.Context, tx storage.SyncTx, tag *models.Tag) (*models.Conflict, error) {
	server, err := tx.GetTag(ctx, tag.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, tx.InsertTag(ctx, tag)
	}
	if err != nil {
		return nil, err
	}

	switch {
	case tag.UpdatedAt > server.UpdatedAt:
		return nil, tx.UpdateTag(ctx, tag)
	case tag.UpdatedAt < server.UpdatedAt:
		return &models.Conflict{
			ItemType:      "tag",
			ItemID:        tag.ID,
			ServerVersion: server,
			ClientVersion: tag,
			Reason:        models.ConflictServerNewer,
		}, nil
	default:
		return nil, nil
	}
}

func entryConflict(client, server *models.Entry, reason string) *models.Conflict {
	return &models.Conflict{
		ItemType:      "entry",
		ItemID:        client.ID,
		ServerVersion: server,
		ClientVersion: client,
		Reason:        reason,
	}
}

// Pull returns every item updated after last_sync_at, tombstones included.
// Responses are unpaginated; HasMore is always false.
func (e *Engine) Pull(ctx context.Context, userID, deviceID string, req *models.PullRequest) (*models.PullResponse, error) {
	active, err := e.entitlements.IsActive(ctx, userID, models.AddOnSync)
	if err != nil {
		return nil, fmt.Errorf("checking sync entitlement: %w", err)
	}
	if !active {
		return nil, ErrSyncDisabled
	}

	entries, err := e.partitions.ListEntriesSince(ctx, userID, req.LastSyncAt)
	if err != nil {
		return nil, fmt.Errorf("pulling entries: %w", err)
	}
	memories, err := e.partitions.ListMemoriesSince(ctx, userID, req.LastSyncAt)
	if err != nil {
		return nil, fmt.Errorf("pulling memories: %w", err)
	}
	tags, err := e.partitions.ListTagsSince(ctx, userID, req.LastSyncAt)
	if err != nil {
		return nil, fmt.Errorf("pulling tags: %w", err)
	}

	log.Info().
		Str("user_id", userID).
		Str("device_id", deviceID).
		Int("entries", len(entries)).
		Int("memories", len(memories)).
		Int("tags", len(tags)).
		Int64("since", req.LastSyncAt).
		Msg("sync pull completed")

	return &models.PullResponse{
		Entries:    entries,
		Memories:   memories,
		Tags:       tags,
		ServerTime: time.Now().Unix(),
		HasMore:    false,
	}, nil
}

// Status reports per-kind totals and device registration for the user.
func (e *Engine) Status(ctx context.Context, userID string) (*models.StatusResponse, error) {
	counts, err := e.partitions.Counts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("counting synced items: %w", err)
	}
	last, err := e.partitions.LastUpdatedAt(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("reading last update: %w", err)
	}
	devices, err := e.devices.ListDevices(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	enabled, err := e.entitlements.IsActive(ctx, userID, models.AddOnSync)
	if err != nil {
		return nil, fmt.Errorf("checking sync entitlement: %w", err)
	}

	return &models.StatusResponse{
		UserID:        userID,
		TotalEntries:  counts.Entries,
		TotalMemories: counts.Memories,
		TotalTags:     counts.Tags,
		LastSyncAt:    last,
		DeviceCount:   len(devices),
		SyncEnabled:   enabled,
	}, nil
}
