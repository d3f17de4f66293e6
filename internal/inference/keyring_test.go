package inference

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

func newTestKeyring(t *testing.T) *Keyring {
	t.Helper()
	k, err := NewKeyring(t.TempDir(), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("creating keyring: %v", err)
	}
	return k
}

// clientKeyPair simulates a client generating an ephemeral X25519 key pair.
func clientKeyPair(t *testing.T) (priv, pub []byte) {
	t.Helper()
	priv = make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rand.Reader, priv); err != nil {
		t.Fatalf("generating client key: %v", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		t.Fatalf("deriving client public key: %v", err)
	}
	return priv, pub
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	k := newTestKeyring(t)
	clientPriv, clientPub := clientKeyPair(t)

	serverKey, err := k.DeriveSharedSecret(clientPub)
	if err != nil {
		t.Fatalf("server derive: %v", err)
	}

	// The client derives the same key from the server's public key.
	info, err := k.PublicKeyInfo()
	if err != nil {
		t.Fatalf("public key info: %v", err)
	}
	serverPub, err := base64.StdEncoding.DecodeString(info.PublicKey)
	if err != nil {
		t.Fatalf("decoding server public key: %v", err)
	}
	shared, err := curve25519.X25519(clientPriv, serverPub)
	if err != nil {
		t.Fatalf("client ECDH: %v", err)
	}
	clientKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, []byte("journalsync-inference-v1")), clientKey); err != nil {
		t.Fatalf("client HKDF: %v", err)
	}
	if !bytes.Equal(clientKey, serverKey) {
		t.Fatal("client and server derived different keys")
	}

	plaintext := []byte("today I felt a quiet sense of progress")
	ciphertext, nonce, mac, err := Encrypt(serverKey, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if len(nonce) != 12 || len(mac) != 16 {
		t.Fatalf("nonce/mac sizes = %d/%d", len(nonce), len(mac))
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Fatal("ciphertext leaks plaintext")
	}

	got, err := Decrypt(serverKey, ciphertext, nonce, mac)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip = %q, want %q", got, plaintext)
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	k := newTestKeyring(t)
	_, clientPub := clientKeyPair(t)

	key, err := k.DeriveSharedSecret(clientPub)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	ciphertext, nonce, mac, err := Encrypt(key, []byte("secret entry"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	tampered := append([]byte(nil), ciphertext...)
	tampered[0] ^= 0xff
	if _, err := Decrypt(key, tampered, nonce, mac); !errors.Is(err, ErrDecryption) {
		t.Errorf("tampered ciphertext: got %v, want ErrDecryption", err)
	}

	badMAC := append([]byte(nil), mac...)
	badMAC[0] ^= 0xff
	if _, err := Decrypt(key, ciphertext, nonce, badMAC); !errors.Is(err, ErrDecryption) {
		t.Errorf("tampered MAC: got %v, want ErrDecryption", err)
	}

	otherKey := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, otherKey); err != nil {
		t.Fatal(err)
	}
	if _, err := Decrypt(otherKey, ciphertext, nonce, mac); !errors.Is(err, ErrDecryption) {
		t.Errorf("wrong key: got %v, want ErrDecryption", err)
	}
}

func TestDeriveSharedSecretRejectsBadKeys(t *testing.T) {
	k := newTestKeyring(t)

	if _, err := k.DeriveSharedSecret([]byte("short")); !errors.Is(err, ErrKeyExchange) {
		t.Errorf("short key: got %v, want ErrKeyExchange", err)
	}
	// All-zero point yields an all-zero shared secret, which must be rejected.
	if _, err := k.DeriveSharedSecret(make([]byte, 32)); !errors.Is(err, ErrKeyExchange) {
		t.Errorf("low-order key: got %v, want ErrKeyExchange", err)
	}
}

func TestKeyringPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	k1, err := NewKeyring(dir, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("first keyring: %v", err)
	}
	info1, err := k1.PublicKeyInfo()
	if err != nil {
		t.Fatal(err)
	}

	fi, err := os.Stat(filepath.Join(dir, "inference_key"))
	if err != nil {
		t.Fatalf("key file missing: %v", err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Errorf("key file mode = %o, want 600", fi.Mode().Perm())
	}

	k2, err := NewKeyring(dir, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("second keyring: %v", err)
	}
	info2, err := k2.PublicKeyInfo()
	if err != nil {
		t.Fatal(err)
	}
	if info1.PublicKey != info2.PublicKey || info1.KeyID != info2.KeyID {
		t.Error("keyring did not reload the persisted key pair")
	}
}

func TestKeyringRotatesExpiredKey(t *testing.T) {
	k := newTestKeyring(t)
	info1, err := k.PublicKeyInfo()
	if err != nil {
		t.Fatal(err)
	}

	// Jump past expiry; the next use must rotate.
	k.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	info2, err := k.PublicKeyInfo()
	if err != nil {
		t.Fatal(err)
	}
	if info1.PublicKey == info2.PublicKey {
		t.Error("expired key was not rotated")
	}
	if info2.ExpiresAt <= info1.ExpiresAt {
		t.Errorf("rotated expiry %s not after %s", info2.ExpiresAt, info1.ExpiresAt)
	}
}
