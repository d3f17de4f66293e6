package models

// Timestamps throughout the sync API are unix seconds, assigned by the client
// that authored the change. Payloads are opaque ciphertext; the server never
// inspects them.

// Entry is a versioned journal document carrying a per-device vector clock.
type Entry struct {
	ID            string           `json:"id"`
	DeviceID      string           `json:"device_id"`
	EncryptedData []byte           `json:"encrypted_data"`
	Version       int              `json:"version"`
	VectorClock   map[string]int64 `json:"vector_clock"`
	IsDeleted     bool             `json:"is_deleted"`
	CreatedAt     int64            `json:"created_at"`
	UpdatedAt     int64            `json:"updated_at"`
}

// Memory is a timestamp-ordered item resolved last-write-wins by UpdatedAt.
type Memory struct {
	ID            string `json:"id"`
	EncryptedData []byte `json:"encrypted_data"`
	Version       int    `json:"version"`
	IsDeleted     bool   `json:"is_deleted"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

// Tag is a timestamp-ordered item soft-linked to an Entry.
type Tag struct {
	ID            string `json:"id"`
	EntryID       string `json:"entry_id"`
	EncryptedData []byte `json:"encrypted_data"`
	Version       int    `json:"version"`
	IsDeleted     bool   `json:"is_deleted"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

// Conflict reasons reported in push responses.
const (
	ConflictServerNewer = "server_version_newer"
	ConflictConcurrent  = "concurrent_modification"
)

// Conflict is a transient report returned with a push response. It is never
// persisted; the client is expected to re-pull and reconcile.
type Conflict struct {
	ItemType      string `json:"item_type"` // "entry", "memory", "tag"
	ItemID        string `json:"item_id"`
	ServerVersion any    `json:"server_version"`
	ClientVersion any    `json:"client_version"`
	Reason        string `json:"conflict_reason"`
}

// PushRequest is the body of POST /v1/sync/push.
type PushRequest struct {
	Entries    []Entry  `json:"entries"`
	Memories   []Memory `json:"memories"`
	Tags       []Tag    `json:"tags"`
	LastSyncAt int64    `json:"last_sync_at,omitempty"`
}

// PushResponse reports accepted counts and any conflicts detected.
type PushResponse struct {
	AcceptedEntries  int        `json:"accepted_entries"`
	AcceptedMemories int        `json:"accepted_memories"`
	AcceptedTags     int        `json:"accepted_tags"`
	Conflicts        []Conflict `json:"conflicts"`
	ServerTime       int64      `json:"server_time"`
}

// PullRequest is the body of POST /v1/sync/pull.
type PullRequest struct {
	LastSyncAt int64  `json:"last_sync_at"`
	DeviceID   string `json:"device_id"`
}

// PullResponse carries every item changed since LastSyncAt, tombstones
// included, ordered ascending by updated_at within each kind.
type PullResponse struct {
	Entries    []Entry  `json:"entries"`
	Memories   []Memory `json:"memories"`
	Tags       []Tag    `json:"tags"`
	ServerTime int64    `json:"server_time"`
	HasMore    bool     `json:"has_more"`
}

// StatusResponse summarizes a user's sync state.
type StatusResponse struct {
	UserID        string `json:"user_id"`
	TotalEntries  int64  `json:"total_entries"`
	TotalMemories int64  `json:"total_memories"`
	TotalTags     int64  `json:"total_tags"`
	LastSyncAt    *int64 `json:"last_sync_at"`
	DeviceCount   int    `json:"device_count"`
	SyncEnabled   bool   `json:"sync_enabled"`
}
