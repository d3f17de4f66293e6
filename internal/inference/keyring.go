package inference

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/org/journalsync/pkg/models"
)

const (
	hkdfContext = "journalsync-inference-v1"
	keyFileName = "inference_key"
	macSize     = 16
)

var keyRotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "journalsync_key_rotations_total",
	Help: "Total number of inference key pair rotations.",
})

// ErrKeyExchange is returned when a shared secret cannot be derived from the
// client's ephemeral public key.
var ErrKeyExchange = errors.New("key exchange failed")

// ErrDecryption is returned when an encrypted payload fails to authenticate
// or decrypt. The cause is deliberately not included.
var ErrDecryption = errors.New("decryption failed")

// Keyring holds the server's X25519 key pair for end-to-end encrypted
// inference. The private key lives in memory and in a single file on disk;
// it never reaches the database or the logs. Rotation is checked lazily on
// each use and discards the prior key.
type Keyring struct {
	mu        sync.RWMutex
	priv      []byte
	pub       []byte
	keyID     string
	createdAt time.Time
	expiresAt time.Time

	path     string
	rotation time.Duration
	now      func() time.Time
}

// NewKeyring loads the key pair from dataDir, generating and persisting a
// fresh one if no valid key file exists. rotation is how long a key pair
// stays valid.
func NewKeyring(dataDir string, rotation time.Duration) (*Keyring, error) {
	k := &Keyring{
		path:     filepath.Join(dataDir, keyFileName),
		rotation: rotation,
		now:      time.Now,
	}
	if err := k.load(); err != nil {
		log.Info().Err(err).Msg("no usable inference key on disk, generating")
		if err := k.generate(); err != nil {
			return nil, err
		}
	}
	return k, nil
}

// PublicKeyInfo returns the current public key for client key exchange,
// rotating first if the key pair has expired.
func (k *Keyring) PublicKeyInfo() (models.PublicKeyInfo, error) {
	if err := k.rotateIfExpired(); err != nil {
		return models.PublicKeyInfo{}, err
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	return models.PublicKeyInfo{
		PublicKey: base64.StdEncoding.EncodeToString(k.pub),
		KeyID:     k.keyID,
		ExpiresAt: k.expiresAt.UTC().Format(time.RFC3339),
		Algorithm: "x25519-hkdf-sha256-chacha20poly1305",
	}, nil
}

// DeriveSharedSecret computes the 32-byte symmetric key shared with the
// holder of the ephemeral key pair. The caller must Zero the result when done.
func (k *Keyring) DeriveSharedSecret(ephemeralPub []byte) ([]byte, error) {
	if err := k.rotateIfExpired(); err != nil {
		return nil, err
	}
	if len(ephemeralPub) != curve25519.PointSize {
		return nil, ErrKeyExchange
	}

	k.mu.RLock()
	priv := make([]byte, len(k.priv))
	copy(priv, k.priv)
	k.mu.RUnlock()
	defer Zero(priv)

	shared, err := curve25519.X25519(priv, ephemeralPub)
	if err != nil {
		return nil, ErrKeyExchange
	}
	defer Zero(shared)
	if allZero(shared) {
		return nil, ErrKeyExchange
	}

	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, shared, nil, []byte(hkdfContext))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, ErrKeyExchange
	}
	return key, nil
}

// Decrypt opens a ChaCha20-Poly1305 payload whose 16-byte tag arrives
// separately from the ciphertext.
func Decrypt(key, ciphertext, nonce, mac []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, ErrDecryption
	}
	if len(nonce) != aead.NonceSize() || len(mac) != macSize {
		return nil, ErrDecryption
	}
	sealed := make([]byte, 0, len(ciphertext)+macSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, mac...)
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

// Encrypt seals plaintext with ChaCha20-Poly1305, returning ciphertext,
// nonce, and the detached 16-byte tag.
func Encrypt(key, plaintext []byte) (ciphertext, nonce, mac []byte, err error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating cipher: %w", err)
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	ciphertext = sealed[:len(sealed)-macSize]
	mac = sealed[len(sealed)-macSize:]
	return ciphertext, nonce, mac, nil
}

// Zero overwrites b in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func allZero(b []byte) bool {
	var acc byte
	for _, v := range b {
		acc |= v
	}
	return acc == 0
}

func (k *Keyring) rotateIfExpired() error {
	k.mu.RLock()
	expired := !k.now().Before(k.expiresAt)
	k.mu.RUnlock()
	if !expired {
		return nil
	}
	return k.generate()
}

// generate creates and persists a new key pair, replacing (and zeroing) the
// old one. Requests already decrypting under the old key keep their copied
// private key and finish normally.
func (k *Keyring) generate() error {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rand.Reader, priv); err != nil {
		return fmt.Errorf("generating private key: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return fmt.Errorf("deriving public key: %w", err)
	}

	now := k.now().UTC()
	k.mu.Lock()
	Zero(k.priv)
	k.priv = priv
	k.pub = pub
	k.keyID = fmt.Sprintf("server-key-%s", now.Format("2006-01"))
	k.createdAt = now
	k.expiresAt = now.Add(k.rotation)
	k.mu.Unlock()

	if err := k.save(); err != nil {
		return err
	}
	keyRotationsTotal.Inc()
	log.Info().Str("key_id", k.keyID).Time("expires_at", k.expiresAt).Msg("inference key pair rotated")
	return nil
}

// Key file layout: 32 raw private key bytes, a "---" separator line, then
// one metadata line each for key id, created, and expires.
func (k *Keyring) save() error {
	k.mu.RLock()
	var b strings.Builder
	b.Write(k.priv)
	b.WriteString("\n---\n")
	b.WriteString(k.keyID + "\n")
	b.WriteString(k.createdAt.Format(time.RFC3339) + "\n")
	b.WriteString(k.expiresAt.Format(time.RFC3339) + "\n")
	data := []byte(b.String())
	k.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(k.path, data, 0o600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	return nil
}

func (k *Keyring) load() error {
	data, err := os.ReadFile(k.path)
	if err != nil {
		return err
	}
	sep := []byte("\n---\n")
	if len(data) < curve25519.ScalarSize+len(sep) {
		return errors.New("key file too short")
	}
	priv := data[:curve25519.ScalarSize]
	rest := data[curve25519.ScalarSize:]
	if !strings.HasPrefix(string(rest), string(sep)) {
		return errors.New("malformed key file")
	}
	lines := strings.Split(strings.TrimSpace(string(rest[len(sep):])), "\n")
	if len(lines) < 3 {
		return errors.New("key file metadata incomplete")
	}
	created, err := time.Parse(time.RFC3339, strings.TrimSpace(lines[1]))
	if err != nil {
		return fmt.Errorf("parsing created timestamp: %w", err)
	}
	expires, err := time.Parse(time.RFC3339, strings.TrimSpace(lines[2]))
	if err != nil {
		return fmt.Errorf("parsing expires timestamp: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return fmt.Errorf("deriving public key: %w", err)
	}

	k.mu.Lock()
	k.priv = append([]byte(nil), priv...)
	k.pub = pub
	k.keyID = strings.TrimSpace(lines[0])
	k.createdAt = created
	k.expiresAt = expires
	k.mu.Unlock()

	// An expired key on disk is replaced on first use.
	return nil
}
