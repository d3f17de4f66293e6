package inference

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/org/journalsync/internal/quota"
	"github.com/org/journalsync/pkg/models"
)

// EntitlementChecker reports whether an add-on is active for a user.
type EntitlementChecker interface {
	IsActive(ctx context.Context, userID, addOnType string) (bool, error)
}

// Broker runs the end-to-end encrypted inference pipeline: quota gate,
// key exchange, decrypt, task execution, re-encrypt. Plaintext exists only
// inside Execute and is zeroed before it returns.
type Broker struct {
	keyring      *Keyring
	runner       *TaskRunner
	ledger       *quota.Ledger
	entitlements EntitlementChecker
}

// NewBroker wires the inference pipeline together.
func NewBroker(keyring *Keyring, runner *TaskRunner, ledger *quota.Ledger, entitlements EntitlementChecker) *Broker {
	return &Broker{keyring: keyring, runner: runner, ledger: ledger, entitlements: entitlements}
}

// PublicKey returns the current key-exchange public key.
func (b *Broker) PublicKey() (models.PublicKeyInfo, error) {
	return b.keyring.PublicKeyInfo()
}

// ProviderInfo reports the configured LLM provider.
func (b *Broker) ProviderInfo() models.ProviderInfo {
	return b.runner.ProviderInfo()
}

// Usage reports the user's remaining daily allowance.
func (b *Broker) Usage(ctx context.Context, userID string) (models.UsageInfo, error) {
	tier, err := b.tier(ctx, userID)
	if err != nil {
		return models.UsageInfo{}, err
	}
	return b.ledger.Usage(ctx, userID, tier)
}

// Execute runs one encrypted inference request. The quota is consumed before
// any ciphertext is touched, so an over-limit request costs nothing to
// decrypt. The response is sealed with the same derived key the client used.
func (b *Broker) Execute(ctx context.Context, userID string, req *models.InferenceRequest) (*models.InferenceResponse, error) {
	tier, err := b.tier(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := b.ledger.CheckAndIncrement(ctx, userID, tier); err != nil {
		return nil, err
	}

	key, err := b.keyring.DeriveSharedSecret(req.EphemeralPublicKey)
	if err != nil {
		return nil, err
	}
	defer Zero(key)

	plaintext, err := Decrypt(key, req.EncryptedContent, req.Nonce, req.MAC)
	if err != nil {
		return nil, err
	}
	defer Zero(plaintext)

	result, err := b.runner.Run(ctx, req.Task, string(plaintext))
	if err != nil {
		return nil, err
	}

	ciphertext, nonce, mac, err := Encrypt(key, result)
	if err != nil {
		return nil, fmt.Errorf("sealing result: %w", err)
	}

	usage, err := b.ledger.Usage(ctx, userID, tier)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", userID).
		Str("task", req.Task).
		Str("tier", tier).
		Int("remaining", usage.RequestsRemaining).
		Msg("inference request completed")

	return &models.InferenceResponse{
		EncryptedResult: ciphertext,
		Nonce:           nonce,
		MAC:             mac,
		Usage:           usage,
	}, nil
}

func (b *Broker) tier(ctx context.Context, userID string) (string, error) {
	active, err := b.entitlements.IsActive(ctx, userID, models.AddOnAI)
	if err != nil {
		return "", fmt.Errorf("checking ai entitlement: %w", err)
	}
	if active {
		return quota.TierPaid, nil
	}
	return quota.TierFree, nil
}
