package progress

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	sealedPrefix = "sealed:v1:"
	saltKey      = "exstem:meta:seal_salt"
	saltSize     = 16
)

// ErrSealBroken is returned when a stored value cannot be opened with the
// configured passphrase.
var ErrSealBroken = errors.New("sealed value cannot be opened")

// SealedSubstrate encrypts every value with XChaCha20-Poly1305 before handing
// it to the inner substrate. The storage key is bound as associated data so
// a value copied under another exam's key fails to open.
type SealedSubstrate struct {
	inner Substrate
	key   []byte
}

// NewSealedSubstrate derives the sealing key from passphrase with Argon2id.
// The salt is generated on first use and kept in the inner substrate.
func NewSealedSubstrate(inner Substrate, passphrase string) (*SealedSubstrate, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}

	salt, err := loadOrCreateSalt(inner)
	if err != nil {
		return nil, err
	}

	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
	return &SealedSubstrate{inner: inner, key: key}, nil
}

func loadOrCreateSalt(inner Substrate) ([]byte, error) {
	raw, ok, err := inner.Get(saltKey)
	if err != nil {
		return nil, fmt.Errorf("read seal salt: %w", err)
	}
	if ok {
		salt, err := base64.StdEncoding.DecodeString(raw)
		if err != nil || len(salt) != saltSize {
			return nil, errors.New("stored seal salt is malformed")
		}
		return salt, nil
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate seal salt: %w", err)
	}
	if err := inner.Set(saltKey, base64.StdEncoding.EncodeToString(salt)); err != nil {
		return nil, fmt.Errorf("store seal salt: %w", err)
	}
	return salt, nil
}

func (s *SealedSubstrate) Get(key string) (string, bool, error) {
	raw, ok, err := s.inner.Get(key)
	if err != nil || !ok {
		return "", ok, err
	}

	encoded, found := strings.CutPrefix(raw, sealedPrefix)
	if !found {
		return "", false, fmt.Errorf("%s: %w", key, ErrSealBroken)
	}
	box, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", key, ErrSealBroken)
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", false, err
	}
	if len(box) < aead.NonceSize() {
		return "", false, fmt.Errorf("%s: %w", key, ErrSealBroken)
	}
	nonce, ciphertext := box[:aead.NonceSize()], box[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", key, ErrSealBroken)
	}
	return string(plain), true, nil
}

func (s *SealedSubstrate) Set(key, value string) error {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(value)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	box := aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return s.inner.Set(key, sealedPrefix+base64.StdEncoding.EncodeToString(box))
}

func (s *SealedSubstrate) Remove(key string) error {
	return s.inner.Remove(key)
}

func (s *SealedSubstrate) Keys(prefix string) ([]string, error) {
	return s.inner.Keys(prefix)
}

// IsSealed reports whether kv holds a seal salt, meaning its values were
// written through a SealedSubstrate.
func IsSealed(kv Substrate) (bool, error) {
	_, ok, err := kv.Get(saltKey)
	if err != nil {
		return false, fmt.Errorf("read seal salt: %w", err)
	}
	return ok, nil
}
