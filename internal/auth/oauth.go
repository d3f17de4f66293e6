package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/org/journalsync/pkg/models"
)

// ErrOAuthVerification is returned when an identity token cannot be verified
// with its provider.
var ErrOAuthVerification = errors.New("oauth token verification failed")

// Verifier validates a provider-issued ID token and extracts the identity.
type Verifier interface {
	Verify(ctx context.Context, idToken string) (*models.OAuthUserInfo, error)
	Provider() string
}

const (
	googleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"
	appleKeysURL       = "https://appleid.apple.com/auth/keys"
	appleIssuer        = "https://appleid.apple.com"
	appleKeysCacheTTL  = time.Hour
)

// GoogleVerifier validates Google Sign-In ID tokens via the tokeninfo
// endpoint, which performs the signature check server side.
type GoogleVerifier struct {
	clientID   string
	baseURL    string
	httpClient *http.Client
}

// NewGoogleVerifier creates a verifier bound to the given OAuth client ID.
func NewGoogleVerifier(clientID string) *GoogleVerifier {
	return &GoogleVerifier{
		clientID:   clientID,
		baseURL:    googleTokenInfoURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (v *GoogleVerifier) Provider() string { return "google" }

// Verify checks the token with Google. The tokeninfo call is idempotent, so
// one transient failure is retried before giving up.
func (v *GoogleVerifier) Verify(ctx context.Context, idToken string) (*models.OAuthUserInfo, error) {
	var info googleTokenInfo
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		lastErr = v.fetch(ctx, idToken, &info)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		log.Warn().Err(lastErr).Msg("google token verification failed")
		return nil, ErrOAuthVerification
	}

	if info.Issuer != "accounts.google.com" && info.Issuer != "https://accounts.google.com" {
		log.Warn().Str("issuer", info.Issuer).Msg("google token has unexpected issuer")
		return nil, ErrOAuthVerification
	}
	if v.clientID != "" && info.Audience != v.clientID {
		return nil, ErrOAuthVerification
	}
	if info.Subject == "" {
		return nil, ErrOAuthVerification
	}

	return &models.OAuthUserInfo{
		Provider:       v.Provider(),
		ProviderUserID: info.Subject,
		Email:          info.Email,
		Name:           info.Name,
	}, nil
}

func (v *GoogleVerifier) fetch(ctx context.Context, idToken string, out *googleTokenInfo) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"?id_token="+idToken, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tokeninfo returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type googleTokenInfo struct {
	Issuer   string `json:"iss"`
	Audience string `json:"aud"`
	Subject  string `json:"sub"`
	Email    string `json:"email"`
	Name     string `json:"name"`
}

// AppleVerifier validates Sign in with Apple ID tokens against Apple's
// published JWKS. Keys are cached for an hour.
type AppleVerifier struct {
	clientID   string
	keysURL    string
	httpClient *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewAppleVerifier creates a verifier bound to the given services ID.
func NewAppleVerifier(clientID string) *AppleVerifier {
	return &AppleVerifier{
		clientID:   clientID,
		keysURL:    appleKeysURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (v *AppleVerifier) Provider() string { return "apple" }

// Verify checks the token signature against Apple's public keys and
// validates issuer and audience.
func (v *AppleVerifier) Verify(ctx context.Context, idToken string) (*models.OAuthUserInfo, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(idToken, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		return v.publicKey(ctx, kid)
	})
	if err != nil || !token.Valid {
		log.Warn().Err(err).Msg("apple token verification failed")
		return nil, ErrOAuthVerification
	}

	if iss, _ := claims["iss"].(string); iss != appleIssuer {
		return nil, ErrOAuthVerification
	}
	if v.clientID != "" {
		if aud, _ := claims["aud"].(string); aud != v.clientID {
			return nil, ErrOAuthVerification
		}
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrOAuthVerification
	}
	email, _ := claims["email"].(string)

	return &models.OAuthUserInfo{
		Provider:       v.Provider(),
		ProviderUserID: sub,
		Email:          email,
	}, nil
}

func (v *AppleVerifier) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if time.Since(v.fetchedAt) > appleKeysCacheTTL || v.keys == nil {
		if err := v.refreshKeysLocked(ctx); err != nil {
			return nil, err
		}
	}
	key, ok := v.keys[kid]
	if !ok {
		// Apple may have rotated since the last fetch.
		if err := v.refreshKeysLocked(ctx); err != nil {
			return nil, err
		}
		key, ok = v.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
	}
	return key, nil
}

func (v *AppleVerifier) refreshKeysLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.keysURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching apple keys: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("apple keys endpoint returned %s", resp.Status)
	}

	var doc struct {
		Keys []struct {
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decoding apple keys: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		pub, err := jwkToRSA(k.N, k.E)
		if err != nil {
			log.Warn().Err(err).Str("kid", k.Kid).Msg("skipping malformed apple key")
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("no usable apple keys")
	}
	v.keys = keys
	v.fetchedAt = time.Now()
	return nil
}

func jwkToRSA(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	exp := 0
	for _, b := range eb {
		exp = exp<<8 | int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: exp}, nil
}
