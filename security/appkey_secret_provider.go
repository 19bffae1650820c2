package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"

	"github.com/gallerio/go-storage/core"
)

// AppKeySecretProvider seals token material with AES-256-GCM under an
// application key. A ring of retired keys keeps old ciphertext readable
// after rotation; only the active key produces new ciphertext.
type AppKeySecretProvider struct {
	activeID string
	version  int
	keys     map[string][]byte
}

type Option func(*AppKeySecretProvider)

func WithKeyID(id string) Option {
	return func(provider *AppKeySecretProvider) {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			return
		}
		if material, ok := provider.keys[provider.activeID]; ok {
			delete(provider.keys, provider.activeID)
			provider.keys[trimmed] = material
		}
		provider.activeID = trimmed
	}
}

func WithVersion(version int) Option {
	return func(provider *AppKeySecretProvider) {
		if version > 0 {
			provider.version = version
		}
	}
}

// WithRetiredKey registers previous key material for decrypt-only use.
func WithRetiredKey(id string, material []byte) Option {
	return func(provider *AppKeySecretProvider) {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" || len(bytes.TrimSpace(material)) == 0 {
			return
		}
		provider.keys[trimmed] = deriveKey(material)
	}
}

func NewAppKeySecretProvider(keyMaterial []byte, options ...Option) (*AppKeySecretProvider, error) {
	material := bytes.TrimSpace(keyMaterial)
	if len(material) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	provider := &AppKeySecretProvider{
		activeID: "app-key",
		version:  1,
		keys:     map[string][]byte{},
	}
	provider.keys[provider.activeID] = deriveKey(material)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(provider)
	}
	return provider, nil
}

func NewAppKeySecretProviderFromString(key string, options ...Option) (*AppKeySecretProvider, error) {
	return NewAppKeySecretProvider([]byte(key), options...)
}

func (p *AppKeySecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	gcm, err := p.cipherFor(p.activeID)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	return encodeEnvelope(envelope{
		KeyID:      p.activeID,
		Version:    p.version,
		Algorithm:  envelopeAlgorithm,
		Nonce:      encodePayload(nonce),
		Ciphertext: encodePayload(sealed),
	})
}

func (p *AppKeySecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	parsed, err := decodeEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}

	keyID := parsed.KeyID
	if keyID == "" {
		keyID = p.activeID
	}
	gcm, err := p.cipherFor(keyID)
	if err != nil {
		return nil, err
	}

	nonce, err := decodePayload(parsed.Nonce)
	if err != nil {
		return nil, err
	}
	sealed, err := decodePayload(parsed.Ciphertext)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

func (p *AppKeySecretProvider) KeyID() string {
	if p == nil {
		return ""
	}
	return p.activeID
}

func (p *AppKeySecretProvider) Version() int {
	if p == nil {
		return 0
	}
	return p.version
}

func (p *AppKeySecretProvider) cipherFor(keyID string) (cipher.AEAD, error) {
	material, ok := p.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("security: unknown key id: %s", keyID)
	}
	block, err := aes.NewCipher(material)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey always yields 32 bytes so arbitrary passphrases work as key
// material.
func deriveKey(value []byte) []byte {
	if len(value) == 32 {
		key := make([]byte, 32)
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	key := make([]byte, len(sum))
	copy(key, sum[:])
	return key
}

var _ core.SecretProvider = (*AppKeySecretProvider)(nil)
