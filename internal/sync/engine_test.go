package sync

import (
	"context"
	"sort"
	"testing"

	"github.com/org/journalsync/internal/storage"
	"github.com/org/journalsync/pkg/models"
)

// --- In-memory partition store for tests ---

type memPartitions struct {
	entries  map[string]*models.Entry
	memories map[string]*models.Memory
	tags     map[string]*models.Tag
}

func newMemPartitions() *memPartitions {
	return &memPartitions{
		entries:  map[string]*models.Entry{},
		memories: map[string]*models.Memory{},
		tags:     map[string]*models.Tag{},
	}
}

func (m *memPartitions) Provision(ctx context.Context, userID string) error { return nil }

func (m *memPartitions) WithTx(ctx context.Context, userID string, fn func(tx storage.SyncTx) error) error {
	return fn(m)
}

func (m *memPartitions) GetEntry(ctx context.Context, id string) (*models.Entry, error) {
	e, ok := m.entries[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memPartitions) InsertEntry(ctx context.Context, e *models.Entry) error {
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *memPartitions) UpdateEntry(ctx context.Context, e *models.Entry) error {
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *memPartitions) GetMemory(ctx context.Context, id string) (*models.Memory, error) {
	mem, ok := m.memories[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *mem
	return &cp, nil
}

func (m *memPartitions) InsertMemory(ctx context.Context, mem *models.Memory) error {
	cp := *mem
	m.memories[mem.ID] = &cp
	return nil
}

func (m *memPartitions) UpdateMemory(ctx context.Context, mem *models.Memory) error {
	cp := *mem
	m.memories[mem.ID] = &cp
	return nil
}

func (m *memPartitions) GetTag(ctx context.Context, id string) (*models.Tag, error) {
	t, ok := m.tags[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memPartitions) InsertTag(ctx context.Context, t *models.Tag) error {
	cp := *t
	m.tags[t.ID] = &cp
	return nil
}

func (m *memPartitions) UpdateTag(ctx context.Context, t *models.Tag) error {
	cp := *t
	m.tags[t.ID] = &cp
	return nil
}

func (m *memPartitions) ListEntriesSince(ctx context.Context, userID string, since int64) ([]models.Entry, error) {
	var out []models.Entry
	for _, e := range m.entries {
		if e.UpdatedAt > since {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt < out[j].UpdatedAt })
	return out, nil
}

func (m *memPartitions) ListMemoriesSince(ctx context.Context, userID string, since int64) ([]models.Memory, error) {
	var out []models.Memory
	for _, mem := range m.memories {
		if mem.UpdatedAt > since {
			out = append(out, *mem)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt < out[j].UpdatedAt })
	return out, nil
}

func (m *memPartitions) ListTagsSince(ctx context.Context, userID string, since int64) ([]models.Tag, error) {
	var out []models.Tag
	for _, t := range m.tags {
		if t.UpdatedAt > since {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt < out[j].UpdatedAt })
	return out, nil
}

func (m *memPartitions) Counts(ctx context.Context, userID string) (storage.SyncCounts, error) {
	var c storage.SyncCounts
	for _, e := range m.entries {
		if !e.IsDeleted {
			c.Entries++
		}
	}
	for _, mem := range m.memories {
		if !mem.IsDeleted {
			c.Memories++
		}
	}
	for _, t := range m.tags {
		if !t.IsDeleted {
			c.Tags++
		}
	}
	return c, nil
}

func (m *memPartitions) LastUpdatedAt(ctx context.Context, userID string) (*int64, error) {
	var last *int64
	upd := func(ts int64) {
		if last == nil || ts > *last {
			v := ts
			last = &v
		}
	}
	for _, e := range m.entries {
		upd(e.UpdatedAt)
	}
	for _, mem := range m.memories {
		upd(mem.UpdatedAt)
	}
	for _, t := range m.tags {
		upd(t.UpdatedAt)
	}
	return last, nil
}

type fakeEntitlements struct{ active bool }

func (f fakeEntitlements) IsActive(ctx context.Context, userID, addOnType string) (bool, error) {
	return f.active, nil
}

type fakeDevices struct{ devices []models.Device }

func (f fakeDevices) ListDevices(ctx context.Context, userID string) ([]models.Device, error) {
	return f.devices, nil
}

func newTestEngine() (*Engine, *memPartitions) {
	parts := newMemPartitions()
	eng := NewEngine(parts, fakeDevices{devices: []models.Device{{DeviceID: "dev-a"}}}, fakeEntitlements{active: true})
	return eng, parts
}

// --- Tests ---

func TestPushInsertThenNoop(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()

	req := &models.PushRequest{Entries: []models.Entry{{
		ID:            "e1",
		DeviceID:      "dev-a",
		EncryptedData: []byte("blob"),
		Version:       1,
		VectorClock:   map[string]int64{"dev-a": 1},
		CreatedAt:     100,
		UpdatedAt:     100,
	}}}

	resp, err := eng.Push(ctx, "u1", "dev-a", req)
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if resp.AcceptedEntries != 1 || len(resp.Conflicts) != 0 {
		t.Fatalf("first push: accepted=%d conflicts=%d", resp.AcceptedEntries, len(resp.Conflicts))
	}

	// Pushing the identical entry again is an equal-clock no-op: it counts
	// as accepted (the client is in sync) and produces no conflict.
	resp, err = eng.Push(ctx, "u1", "dev-a", req)
	if err != nil {
		t.Fatalf("second push failed: %v", err)
	}
	if resp.AcceptedEntries != 1 || len(resp.Conflicts) != 0 {
		t.Errorf("no-op push: accepted=%d conflicts=%d", resp.AcceptedEntries, len(resp.Conflicts))
	}
}

func TestPushEntryServerNewer(t *testing.T) {
	eng, parts := newTestEngine()
	ctx := context.Background()

	parts.entries["e1"] = &models.Entry{
		ID: "e1", DeviceID: "dev-b", EncryptedData: []byte("server"),
		VectorClock: map[string]int64{"dev-a": 1, "dev-b": 2},
		UpdatedAt:   200,
	}

	resp, err := eng.Push(ctx, "u1", "dev-a", &models.PushRequest{Entries: []models.Entry{{
		ID: "e1", DeviceID: "dev-a", EncryptedData: []byte("stale"),
		VectorClock: map[string]int64{"dev-a": 1},
		UpdatedAt:   150,
	}}})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if resp.AcceptedEntries != 0 || len(resp.Conflicts) != 1 {
		t.Fatalf("accepted=%d conflicts=%d", resp.AcceptedEntries, len(resp.Conflicts))
	}
	if resp.Conflicts[0].Reason != models.ConflictServerNewer {
		t.Errorf("reason = %s, want %s", resp.Conflicts[0].Reason, models.ConflictServerNewer)
	}
	if string(parts.entries["e1"].EncryptedData) != "server" {
		t.Error("server payload should be unchanged on rejected push")
	}
}

func TestPushEntryConcurrentClientWins(t *testing.T) {
	eng, parts := newTestEngine()
	ctx := context.Background()

	parts.entries["e1"] = &models.Entry{
		ID: "e1", DeviceID: "dev-b", EncryptedData: []byte("server"),
		VectorClock: map[string]int64{"dev-b": 1},
		UpdatedAt:   100,
	}

	resp, err := eng.Push(ctx, "u1", "dev-a", &models.PushRequest{Entries: []models.Entry{{
		ID: "e1", DeviceID: "dev-a", EncryptedData: []byte("client"),
		VectorClock: map[string]int64{"dev-a": 1},
		UpdatedAt:   200,
	}}})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	// Client wins the timestamp tie break: accepted, no conflict reported.
	if resp.AcceptedEntries != 1 || len(resp.Conflicts) != 0 {
		t.Fatalf("accepted=%d conflicts=%d", resp.AcceptedEntries, len(resp.Conflicts))
	}
	got := parts.entries["e1"]
	if string(got.EncryptedData) != "client" {
		t.Error("client payload should have won")
	}
	if got.VectorClock["dev-a"] != 1 || got.VectorClock["dev-b"] != 1 {
		t.Errorf("merged clock = %v, want {dev-a:1 dev-b:1}", got.VectorClock)
	}
}

func TestPushEntryConcurrentServerWins(t *testing.T) {
	eng, parts := newTestEngine()
	ctx := context.Background()

	parts.entries["e1"] = &models.Entry{
		ID: "e1", DeviceID: "dev-b", EncryptedData: []byte("server"),
		VectorClock: map[string]int64{"dev-b": 1},
		UpdatedAt:   300,
	}

	resp, err := eng.Push(ctx, "u1", "dev-a", &models.PushRequest{Entries: []models.Entry{{
		ID: "e1", DeviceID: "dev-a", EncryptedData: []byte("client"),
		VectorClock: map[string]int64{"dev-a": 1},
		UpdatedAt:   200,
	}}})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	// Server retains its payload but the client must be told to re-pull.
	if resp.AcceptedEntries != 0 || len(resp.Conflicts) != 1 {
		t.Fatalf("accepted=%d conflicts=%d", resp.AcceptedEntries, len(resp.Conflicts))
	}
	if resp.Conflicts[0].Reason != models.ConflictConcurrent {
		t.Errorf("reason = %s, want %s", resp.Conflicts[0].Reason, models.ConflictConcurrent)
	}
	if string(parts.entries["e1"].EncryptedData) != "server" {
		t.Error("server payload should be retained")
	}
}

func TestPushMemoryLastWriteWins(t *testing.T) {
	eng, parts := newTestEngine()
	ctx := context.Background()

	parts.memories["m1"] = &models.Memory{ID: "m1", EncryptedData: []byte("v100"), UpdatedAt: 100}

	// Older client copy is rejected.
	resp, err := eng.Push(ctx, "u1", "dev-a", &models.PushRequest{Memories: []models.Memory{{
		ID: "m1", EncryptedData: []byte("v50"), UpdatedAt: 50,
	}}})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if resp.AcceptedMemories != 0 || len(resp.Conflicts) != 1 || resp.Conflicts[0].Reason != models.ConflictServerNewer {
		t.Fatalf("stale push: accepted=%d conflicts=%v", resp.AcceptedMemories, resp.Conflicts)
	}

	// Newer client copy overwrites.
	resp, err = eng.Push(ctx, "u1", "dev-a", &models.PushRequest{Memories: []models.Memory{{
		ID: "m1", EncryptedData: []byte("v150"), UpdatedAt: 150,
	}}})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if resp.AcceptedMemories != 1 || len(resp.Conflicts) != 0 {
		t.Fatalf("newer push: accepted=%d conflicts=%d", resp.AcceptedMemories, len(resp.Conflicts))
	}
	if string(parts.memories["m1"].EncryptedData) != "v150" {
		t.Error("newer memory payload should have been stored")
	}

	// Equal timestamp is a no-op, not a conflict. The server keeps its copy.
	resp, err = eng.Push(ctx, "u1", "dev-a", &models.PushRequest{Memories: []models.Memory{{
		ID: "m1", EncryptedData: []byte("other"), UpdatedAt: 150,
	}}})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if len(resp.Conflicts) != 0 {
		t.Errorf("tie push: conflicts=%d", len(resp.Conflicts))
	}
	if string(parts.memories["m1"].EncryptedData) != "v150" {
		t.Error("server retains existing payload on timestamp tie")
	}
}

func TestSyncRoundTripAcrossDevices(t *testing.T) {
	eng, _ := newTestEngine()
	ctx := context.Background()

	// Device A pushes e1.
	_, err := eng.Push(ctx, "u1", "dev-a", &models.PushRequest{Entries: []models.Entry{{
		ID: "e1", DeviceID: "dev-a", EncryptedData: []byte("v1"),
		VectorClock: map[string]int64{"A": 1}, UpdatedAt: 100,
	}}})
	if err != nil {
		t.Fatalf("device A push: %v", err)
	}

	// Device B pulls from zero and sees e1.
	pull, err := eng.Pull(ctx, "u1", "dev-b", &models.PullRequest{LastSyncAt: 0})
	if err != nil {
		t.Fatalf("device B pull: %v", err)
	}
	if len(pull.Entries) != 1 || pull.Entries[0].ID != "e1" {
		t.Fatalf("device B should see e1, got %v", pull.Entries)
	}
	if pull.HasMore {
		t.Error("has_more must be false")
	}

	// Device B edits and pushes back with an advanced clock.
	_, err = eng.Push(ctx, "u1", "dev-b", &models.PushRequest{Entries: []models.Entry{{
		ID: "e1", DeviceID: "dev-b", EncryptedData: []byte("v2"),
		VectorClock: map[string]int64{"A": 1, "B": 1}, UpdatedAt: 200,
	}}})
	if err != nil {
		t.Fatalf("device B push: %v", err)
	}

	// Device A pulls since 100 and receives the merged entry.
	pull, err = eng.Pull(ctx, "u1", "dev-a", &models.PullRequest{LastSyncAt: 100})
	if err != nil {
		t.Fatalf("device A pull: %v", err)
	}
	if len(pull.Entries) != 1 {
		t.Fatalf("device A should see 1 changed entry, got %d", len(pull.Entries))
	}
	e := pull.Entries[0]
	if string(e.EncryptedData) != "v2" {
		t.Errorf("payload = %q, want v2", e.EncryptedData)
	}
	if e.VectorClock["A"] != 1 || e.VectorClock["B"] != 1 {
		t.Errorf("clock = %v, want {A:1 B:1}", e.VectorClock)
	}
}

func TestPushRequiresSyncEntitlement(t *testing.T) {
	parts := newMemPartitions()
	eng := NewEngine(parts, fakeDevices{}, fakeEntitlements{active: false})

	_, err := eng.Push(context.Background(), "u1", "dev-a", &models.PushRequest{})
	if err != ErrSyncDisabled {
		t.Errorf("expected ErrSyncDisabled, got %v", err)
	}
	_, err = eng.Pull(context.Background(), "u1", "dev-a", &models.PullRequest{})
	if err != ErrSyncDisabled {
		t.Errorf("expected ErrSyncDisabled, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	eng, parts := newTestEngine()
	ctx := context.Background()

	parts.entries["e1"] = &models.Entry{ID: "e1", UpdatedAt: 100}
	parts.entries["e2"] = &models.Entry{ID: "e2", UpdatedAt: 300, IsDeleted: true}
	parts.memories["m1"] = &models.Memory{ID: "m1", UpdatedAt: 200}

	status, err := eng.Status(ctx, "u1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.TotalEntries != 1 || status.TotalMemories != 1 || status.TotalTags != 0 {
		t.Errorf("counts = %d/%d/%d", status.TotalEntries, status.TotalMemories, status.TotalTags)
	}
	if status.LastSyncAt == nil || *status.LastSyncAt != 300 {
		t.Errorf("last_sync_at = %v, want 300 (tombstones count)", status.LastSyncAt)
	}
	if status.DeviceCount != 1 || !status.SyncEnabled {
		t.Errorf("device_count=%d sync_enabled=%v", status.DeviceCount, status.SyncEnabled)
	}
}
