// Package entitlement manages purchased add-ons and the feature gates built
// on them.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/journalsync/internal/storage"
	"github.com/org/journalsync/pkg/models"
)

// ErrNotSubscribed is returned when an operation requires an add-on the user
// has not activated.
var ErrNotSubscribed = errors.New("add-on not active")

// ErrReceiptAlreadyUsed is returned when a receipt's transaction has been
// processed before.
var ErrReceiptAlreadyUsed = errors.New("receipt already processed")

// ErrInvalidReceipt is returned when store-side verification rejects a
// receipt or the product is unknown.
var ErrInvalidReceipt = errors.New("invalid receipt")

// Store product IDs, shared between iOS and Android.
var productAddOns = map[string]string{
	"journalsync.sync.monthly":   models.AddOnSync,
	"journalsync.ai.monthly":     models.AddOnAI,
	"journalsync.support.small":  models.AddOnSupporter,
	"journalsync.support.medium": models.AddOnSupporter,
	"journalsync.support.large":  models.AddOnSupporter,
}

// AddOnTypeForProduct maps a store product ID to an add-on type.
func AddOnTypeForProduct(productID string) (string, bool) {
	t, ok := productAddOns[productID]
	return t, ok
}

// Service reads and activates add-ons in the master partition.
type Service struct {
	store     storage.MasterStore
	verifiers map[string]ReceiptVerifier
	now       func() time.Time
}

// NewService creates the entitlement service with the given per-platform
// receipt verifiers.
func NewService(store storage.MasterStore, verifiers ...ReceiptVerifier) *Service {
	byPlatform := make(map[string]ReceiptVerifier, len(verifiers))
	for _, v := range verifiers {
		byPlatform[v.Platform()] = v
	}
	return &Service{store: store, verifiers: byPlatform, now: time.Now}
}

// IsActive reports whether the user currently holds the given add-on.
func (s *Service) IsActive(ctx context.Context, userID, addOnType string) (bool, error) {
	addOns, err := s.store.ListAddOns(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("listing add-ons: %w", err)
	}
	now := s.now()
	for i := range addOns {
		if addOns[i].Type == addOnType && addOns[i].Active(now) {
			return true, nil
		}
	}
	return false, nil
}

// Status returns all add-ons for the user plus the derived enablement flags.
func (s *Service) Status(ctx context.Context, userID string) (*models.AddOnsStatus, error) {
	addOns, err := s.store.ListAddOns(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing add-ons: %w", err)
	}
	status := &models.AddOnsStatus{UserID: userID, AddOns: addOns}
	if status.AddOns == nil {
		status.AddOns = []models.AddOn{}
	}
	now := s.now()
	for i := range addOns {
		if !addOns[i].Active(now) {
			continue
		}
		switch addOns[i].Type {
		case models.AddOnSync:
			status.SyncEnabled = true
		case models.AddOnAI:
			status.AIEnabled = true
		}
	}
	return status, nil
}

// Features returns the boolean flags clients gate UI on.
func (s *Service) Features(ctx context.Context, userID string) (*models.FeatureFlags, error) {
	status, err := s.Status(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.FeatureFlags{Sync: status.SyncEnabled, AI: status.AIEnabled}, nil
}

// VerifyAndActivate verifies a purchase receipt with the platform store and
// activates the matching add-on. Replayed transactions are rejected.
func (s *Service) VerifyAndActivate(ctx context.Context, userID, platform, receiptData, productID string) (*models.AddOn, error) {
	addOnType, ok := AddOnTypeForProduct(productID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown product %q", ErrInvalidReceipt, productID)
	}
	verifier, ok := s.verifiers[platform]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported platform %q", ErrInvalidReceipt, platform)
	}

	verified, err := verifier.Verify(ctx, receiptData, productID)
	if err != nil {
		return nil, err
	}

	used, err := s.store.ReceiptExists(ctx, verified.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("checking receipt: %w", err)
	}
	if used {
		log.Warn().Str("user_id", userID).Str("transaction_id", verified.TransactionID).
			Msg("receipt replay rejected")
		return nil, ErrReceiptAlreadyUsed
	}
	if err := s.store.InsertReceipt(ctx, userID, verified); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, ErrReceiptAlreadyUsed
		}
		return nil, fmt.Errorf("storing receipt: %w", err)
	}

	addOn := &models.AddOn{
		UserID:        userID,
		Type:          addOnType,
		Status:        "active",
		Platform:      platform,
		ProductID:     verified.ProductID,
		TransactionID: verified.TransactionID,
		PurchaseDate:  verified.PurchaseDate,
		ExpiresAt:     verified.ExpiresAt,
		AutoRenew:     verified.AutoRenew,
	}
	if err := s.store.UpsertAddOn(ctx, addOn); err != nil {
		return nil, fmt.Errorf("activating add-on: %w", err)
	}

	log.Info().
		Str("user_id", userID).
		Str("add_on", addOnType).
		Str("product_id", verified.ProductID).
		Msg("add-on activated")
	return addOn, nil
}
