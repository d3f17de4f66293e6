package inference

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/org/journalsync/internal/quota"
	"github.com/org/journalsync/pkg/models"
)

type brokerQuotaStore struct {
	counts map[string]int
}

func (m *brokerQuotaStore) IncrementQuota(ctx context.Context, userID, day string, limit int) (bool, error) {
	key := userID + "/" + day
	if m.counts[key] >= limit {
		return false, nil
	}
	m.counts[key]++
	return true, nil
}

func (m *brokerQuotaStore) QuotaCount(ctx context.Context, userID, day string) (int, error) {
	return m.counts[userID+"/"+day], nil
}

type brokerEntitlements struct{ aiActive bool }

func (f brokerEntitlements) IsActive(ctx context.Context, userID, addOnType string) (bool, error) {
	return f.aiActive, nil
}

func newTestBroker(t *testing.T, provider *fakeProvider, freeLimit int, aiActive bool) *Broker {
	t.Helper()
	keyring, err := NewKeyring(t.TempDir(), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("creating keyring: %v", err)
	}
	ledger := quota.NewLedger(&brokerQuotaStore{counts: map[string]int{}}, freeLimit, 100)
	return NewBroker(keyring, NewTaskRunner(provider), ledger, brokerEntitlements{aiActive: aiActive})
}

// sealRequest plays the client side of the protocol: ephemeral key pair,
// shared secret derivation, and ChaCha20-Poly1305 sealing.
func sealRequest(t *testing.T, b *Broker, task, content string) (*models.InferenceRequest, []byte) {
	t.Helper()
	clientPriv, clientPub := clientKeyPair(t)

	info, err := b.PublicKey()
	if err != nil {
		t.Fatal(err)
	}
	serverPub, err := base64.StdEncoding.DecodeString(info.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	shared, err := curve25519.X25519(clientPriv, serverPub)
	if err != nil {
		t.Fatal(err)
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, []byte("journalsync-inference-v1")), key); err != nil {
		t.Fatal(err)
	}

	ciphertext, nonce, mac, err := Encrypt(key, []byte(content))
	if err != nil {
		t.Fatal(err)
	}
	return &models.InferenceRequest{
		Task:               task,
		EncryptedContent:   ciphertext,
		Nonce:              nonce,
		MAC:                mac,
		EphemeralPublicKey: clientPub,
	}, key
}

func TestExecuteRoundTrip(t *testing.T) {
	provider := &fakeProvider{content: `{"tags": [{"tag": "health", "confidence": 0.9}], "confidence": 0.9}`}
	b := newTestBroker(t, provider, 10, false)
	ctx := context.Background()

	req, key := sealRequest(t, b, models.TaskTagging, "went for a run this morning")
	resp, err := b.Execute(ctx, "u1", req)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	plaintext, err := Decrypt(key, resp.EncryptedResult, resp.Nonce, resp.MAC)
	if err != nil {
		t.Fatalf("client decrypt failed: %v", err)
	}
	var result taggingResult
	if err := json.Unmarshal(plaintext, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if len(result.Tags) != 1 || result.Tags[0].Tag != "health" {
		t.Errorf("tags = %+v", result.Tags)
	}
	if resp.Usage.RequestsRemaining != 9 || resp.Usage.Tier != quota.TierFree {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestExecuteQuotaGateBeforeDecryption(t *testing.T) {
	provider := &fakeProvider{content: "{}"}
	b := newTestBroker(t, provider, 1, false)
	ctx := context.Background()

	req, _ := sealRequest(t, b, models.TaskTagging, "entry one")
	if _, err := b.Execute(ctx, "u1", req); err != nil {
		t.Fatalf("first request: %v", err)
	}

	// Second request exceeds the free limit. Even garbage ciphertext must
	// come back as a quota error, proving the gate runs first.
	bad := &models.InferenceRequest{
		Task:               models.TaskTagging,
		EncryptedContent:   []byte("junk"),
		Nonce:              make([]byte, 12),
		MAC:                make([]byte, 16),
		EphemeralPublicKey: make([]byte, 32),
	}
	_, err := b.Execute(ctx, "u1", bad)
	if !errors.Is(err, quota.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestExecutePaidTier(t *testing.T) {
	provider := &fakeProvider{content: `{"insights": ["you keep healthy routines"], "confidence": 0.8}`}
	b := newTestBroker(t, provider, 1, true)
	ctx := context.Background()

	// Free limit is 1 but the paid tier applies, so a second request passes.
	for i := 0; i < 2; i++ {
		req, _ := sealRequest(t, b, models.TaskInsightExtraction, "another run today")
		resp, err := b.Execute(ctx, "u1", req)
		if err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		if resp.Usage.Tier != quota.TierPaid {
			t.Errorf("tier = %s, want paid", resp.Usage.Tier)
		}
	}
}

func TestExecuteRejectsTamperedRequest(t *testing.T) {
	provider := &fakeProvider{content: "{}"}
	b := newTestBroker(t, provider, 10, false)

	req, _ := sealRequest(t, b, models.TaskTagging, "private thoughts")
	req.MAC[0] ^= 0xff
	_, err := b.Execute(context.Background(), "u1", req)
	if !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}

func TestExecuteRejectsBadEphemeralKey(t *testing.T) {
	provider := &fakeProvider{content: "{}"}
	b := newTestBroker(t, provider, 10, false)

	req, _ := sealRequest(t, b, models.TaskTagging, "entry")
	req.EphemeralPublicKey = []byte("short")
	_, err := b.Execute(context.Background(), "u1", req)
	if !errors.Is(err, ErrKeyExchange) {
		t.Fatalf("expected ErrKeyExchange, got %v", err)
	}
}

func TestUsageWithoutExecution(t *testing.T) {
	b := newTestBroker(t, &fakeProvider{content: "{}"}, 25, false)
	usage, err := b.Usage(context.Background(), "u1")
	if err != nil {
		t.Fatalf("usage failed: %v", err)
	}
	if usage.RequestsRemaining != 25 || usage.Tier != quota.TierFree {
		t.Errorf("usage = %+v", usage)
	}
}
