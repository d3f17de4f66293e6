package models

// Inference task identifiers.
const (
	TaskMemoryDistillation = "memory_distillation"
	TaskTagging            = "tagging"
	TaskInsightExtraction  = "insight_extraction"
	TaskCaptureMetadata    = "capture_metadata"
)

// PublicKeyInfo describes the server's current key-exchange public key.
type PublicKeyInfo struct {
	PublicKey string `json:"public_key"` // base64-encoded X25519 public key
	KeyID     string `json:"key_id"`
	ExpiresAt string `json:"expires_at"` // RFC 3339
	Algorithm string `json:"algorithm"`
}

// InferenceRequest is an encrypted task submission. All crypto fields are
// base64-encoded on the wire.
type InferenceRequest struct {
	Task               string `json:"task"`
	EncryptedContent   []byte `json:"encrypted_content"`
	Nonce              []byte `json:"nonce"`
	MAC                []byte `json:"mac"`
	EphemeralPublicKey []byte `json:"ephemeral_public_key"`
	ClientVersion      string `json:"client_version"`
}

// InferenceResponse carries the encrypted task result plus fresh usage info.
type InferenceResponse struct {
	EncryptedResult []byte    `json:"encrypted_result"`
	Nonce           []byte    `json:"nonce"`
	MAC             []byte    `json:"mac"`
	Usage           UsageInfo `json:"usage"`
}

// UsageInfo reports remaining quota for the current UTC day.
type UsageInfo struct {
	RequestsRemaining int    `json:"requests_remaining"`
	ResetAt           string `json:"reset_at"` // next UTC midnight, RFC 3339
	Tier              string `json:"tier"`     // "free" or "paid"
}

// ProviderInfo exposes the configured LLM provider and model.
type ProviderInfo struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}
