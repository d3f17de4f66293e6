package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/org/journalsync/internal/storage"
	"github.com/org/journalsync/pkg/models"
)

// ErrUnknownProvider is returned when no verifier is registered for the
// requested OAuth provider.
var ErrUnknownProvider = errors.New("unknown oauth provider")

// SignInRequest is the OAuth sign-in payload.
type SignInRequest struct {
	Provider   string `json:"provider"`
	IDToken    string `json:"id_token"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	Platform   string `json:"platform"`
	AppVersion string `json:"app_version,omitempty"`
}

// Partitioner provisions a user's storage partition on first sign-in.
type Partitioner interface {
	Provision(ctx context.Context, userID string) error
}

// Service handles sign-in, token refresh, and device management.
type Service struct {
	store      storage.MasterStore
	partitions Partitioner
	tokens     *TokenManager
	verifiers  map[string]Verifier
	now        func() time.Time
}

// NewService creates the auth service with the given OAuth verifiers.
func NewService(store storage.MasterStore, partitions Partitioner, tokens *TokenManager, verifiers ...Verifier) *Service {
	byProvider := make(map[string]Verifier, len(verifiers))
	for _, v := range verifiers {
		byProvider[v.Provider()] = v
	}
	return &Service{
		store:      store,
		partitions: partitions,
		tokens:     tokens,
		verifiers:  byProvider,
		now:        time.Now,
	}
}

// SignIn verifies the provider ID token, gets or creates the user, registers
// the device, provisions the user's partition, and issues a token pair.
func (s *Service) SignIn(ctx context.Context, req *SignInRequest) (*models.AuthResponse, error) {
	verifier, ok := s.verifiers[req.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, req.Provider)
	}
	info, err := verifier.Verify(ctx, req.IDToken)
	if err != nil {
		return nil, err
	}

	user, err := s.getOrCreateUser(ctx, info)
	if err != nil {
		return nil, err
	}

	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	now := s.now().Unix()
	device := &models.Device{
		DeviceID:   deviceID,
		UserID:     user.UserID,
		DeviceName: req.DeviceName,
		Platform:   req.Platform,
		AppVersion: req.AppVersion,
		LastSeenAt: now,
		CreatedAt:  now,
	}
	if err := s.store.UpsertDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("registering device: %w", err)
	}

	if err := s.partitions.Provision(ctx, user.UserID); err != nil {
		return nil, fmt.Errorf("provisioning user partition: %w", err)
	}

	access, refresh, err := s.tokens.IssuePair(user.UserID, deviceID)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", user.UserID).
		Str("provider", req.Provider).
		Str("device_id", deviceID).
		Msg("sign-in completed")

	return &models.AuthResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
		UserID:       user.UserID,
		DeviceID:     deviceID,
	}, nil
}

func (s *Service) getOrCreateUser(ctx context.Context, info *models.OAuthUserInfo) (*models.User, error) {
	user, err := s.store.GetUserByProvider(ctx, info.Provider, info.ProviderUserID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	user = &models.User{
		UserID:         uuid.NewString(),
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		Email:          info.Email,
		Name:           info.Name,
		CreatedAt:      s.now().Unix(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		// A concurrent sign-in may have created the user between lookup and
		// insert.
		if errors.Is(err, storage.ErrAlreadyExists) {
			return s.store.GetUserByProvider(ctx, info.Provider, info.ProviderUserID)
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	log.Info().Str("user_id", user.UserID).Str("provider", user.Provider).Msg("user created")
	return user, nil
}

// Refresh exchanges a valid refresh token for a new access token. The user
// and device must still exist.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*models.AuthResponse, error) {
	claims, err := s.tokens.Verify(refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	userID := claims.Subject

	if _, err := s.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	devices, err := s.store.ListDevices(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	registered := false
	for _, d := range devices {
		if d.DeviceID == claims.DeviceID {
			registered = true
			break
		}
	}
	if !registered {
		return nil, ErrInvalidToken
	}

	access, err := s.tokens.issue(userID, claims.DeviceID, TokenTypeAccess, s.tokens.accessTTL)
	if err != nil {
		return nil, err
	}
	return &models.AuthResponse{
		AccessToken: access,
		TokenType:   "bearer",
		ExpiresIn:   int64(s.tokens.AccessTTL().Seconds()),
		UserID:      userID,
		DeviceID:    claims.DeviceID,
	}, nil
}

// VerifyAccess validates an access token for middleware use.
func (s *Service) VerifyAccess(tokenString string) (*Claims, error) {
	return s.tokens.Verify(tokenString, TokenTypeAccess)
}

// ListDevices lists the user's registered devices.
func (s *Service) ListDevices(ctx context.Context, userID string) ([]models.Device, error) {
	return s.store.ListDevices(ctx, userID)
}

// DeleteDevice removes a registered device. The device stops syncing once
// its access token expires.
func (s *Service) DeleteDevice(ctx context.Context, userID, deviceID string) error {
	return s.store.DeleteDevice(ctx, userID, deviceID)
}
