// Package crypto implements field-level encryption over the versioned key set.
//
// Values are sealed with AES-256-GCM using a fresh random nonce per call and
// the key version as additional authenticated data, so a ciphertext can only
// be opened by the exact key version that produced it.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"

	"vaultrail/internal/keys"
	"vaultrail/internal/platform/metrics"
	"vaultrail/pkg/platform/sentinel"
)

// EncryptedValue is the persisted shape of an encrypted field. Immutable once
// created; KeyVersion binds it to the key that sealed it.
type EncryptedValue struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	KeyVersion int    `json:"key_version"`
	Algorithm  string `json:"algorithm"`
}

// Service encrypts and decrypts single field values.
type Service struct {
	keys    *keys.Manager
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a logger for decrypt failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a cipher service over the given key manager.
func NewService(km *keys.Manager, opts ...Option) *Service {
	s := &Service{keys: km}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Encrypt seals plaintext with the currently active key and a freshly
// generated nonce. Two calls with identical plaintext produce different
// ciphertext and IV.
func (s *Service) Encrypt(plaintext string) (EncryptedValue, error) {
	if plaintext == "" {
		s.metrics.IncCipherOp("encrypt", "invalid")
		return EncryptedValue{}, fmt.Errorf("empty plaintext: %w", sentinel.ErrInvalidInput)
	}

	key, err := s.keys.Active()
	if err != nil {
		s.metrics.IncCipherOp("encrypt", "error")
		return EncryptedValue{}, err
	}

	gcm, err := newGCM(key.Material)
	if err != nil {
		s.metrics.IncCipherOp("encrypt", "error")
		return EncryptedValue{}, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		s.metrics.IncCipherOp("encrypt", "error")
		return EncryptedValue{}, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), versionAAD(key.Version))
	s.metrics.IncCipherOp("encrypt", "ok")

	return EncryptedValue{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
		IV:         base64.StdEncoding.EncodeToString(nonce),
		KeyVersion: key.Version,
		Algorithm:  key.Algorithm,
	}, nil
}

// Decrypt opens a value with the key version recorded on it, independent of
// which key is currently active. A purged version surfaces ErrKeyNotFound;
// anything else wrong with the ciphertext surfaces ErrDecryptionFailed.
func (s *Service) Decrypt(value EncryptedValue) (string, error) {
	key, err := s.keys.ByVersion(value.KeyVersion)
	if err != nil {
		s.metrics.IncCipherOp("decrypt", "key_not_found")
		return "", err
	}

	sealed, err := base64.StdEncoding.DecodeString(value.Ciphertext)
	if err != nil {
		s.metrics.IncCipherOp("decrypt", "error")
		return "", fmt.Errorf("decode ciphertext: %w", sentinel.ErrDecryptionFailed)
	}
	nonce, err := base64.StdEncoding.DecodeString(value.IV)
	if err != nil {
		s.metrics.IncCipherOp("decrypt", "error")
		return "", fmt.Errorf("decode iv: %w", sentinel.ErrDecryptionFailed)
	}

	gcm, err := newGCM(key.Material)
	if err != nil {
		s.metrics.IncCipherOp("decrypt", "error")
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, versionAAD(value.KeyVersion))
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("field decryption failed", "key_version", value.KeyVersion)
		}
		s.metrics.IncCipherOp("decrypt", "error")
		return "", fmt.Errorf("open ciphertext v%d: %w", value.KeyVersion, sentinel.ErrDecryptionFailed)
	}

	s.metrics.IncCipherOp("decrypt", "ok")
	return string(plaintext), nil
}

func newGCM(material []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(material)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

func versionAAD(version int) []byte {
	return []byte(fmt.Sprintf("v%d", version))
}
