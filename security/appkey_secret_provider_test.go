package security

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestAppKeySecretProviderRoundTrip(t *testing.T) {
	provider, err := NewAppKeySecretProviderFromString("unit-test-master-key")
	if err != nil {
		t.Fatalf("NewAppKeySecretProviderFromString: %v", err)
	}

	plaintext := []byte("ya29.sample-access-token")
	sealed, err := provider.Encrypt(context.Background(), plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !strings.HasPrefix(string(sealed), envelopePrefix) {
		t.Fatalf("expected envelope prefix, got %q", string(sealed[:24]))
	}
	if bytes.Contains(sealed, plaintext) {
		t.Fatalf("ciphertext leaks plaintext")
	}

	opened, err := provider.Decrypt(context.Background(), sealed)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", opened, plaintext)
	}
}

func TestAppKeySecretProviderUniqueNonces(t *testing.T) {
	provider, err := NewAppKeySecretProviderFromString("unit-test-master-key")
	if err != nil {
		t.Fatalf("NewAppKeySecretProviderFromString: %v", err)
	}
	first, err := provider.Encrypt(context.Background(), []byte("token"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	second, err := provider.Encrypt(context.Background(), []byte("token"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(first, second) {
		t.Fatalf("expected distinct ciphertext for repeated plaintext")
	}
}

func TestAppKeySecretProviderRejectsTamperedCiphertext(t *testing.T) {
	provider, err := NewAppKeySecretProviderFromString("unit-test-master-key")
	if err != nil {
		t.Fatalf("NewAppKeySecretProviderFromString: %v", err)
	}
	sealed, err := provider.Encrypt(context.Background(), []byte("token"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	tampered := bytes.Replace(sealed, []byte(`"ciphertext":"`), []byte(`"ciphertext":"AA`), 1)
	if _, err := provider.Decrypt(context.Background(), tampered); err == nil {
		t.Fatalf("expected tampered ciphertext to fail decryption")
	}
}

func TestAppKeySecretProviderRejectsMissingPrefix(t *testing.T) {
	provider, err := NewAppKeySecretProviderFromString("unit-test-master-key")
	if err != nil {
		t.Fatalf("NewAppKeySecretProviderFromString: %v", err)
	}
	if _, err := provider.Decrypt(context.Background(), []byte(`{"kid":"app-key"}`)); err == nil {
		t.Fatalf("expected missing prefix to be rejected")
	}
}

func TestAppKeySecretProviderKeyRotation(t *testing.T) {
	oldProvider, err := NewAppKeySecretProviderFromString("key-2024", WithKeyID("2024"))
	if err != nil {
		t.Fatalf("NewAppKeySecretProviderFromString: %v", err)
	}
	sealed, err := oldProvider.Encrypt(context.Background(), []byte("refresh-token"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	rotated, err := NewAppKeySecretProviderFromString("key-2025",
		WithKeyID("2025"),
		WithVersion(2),
		WithRetiredKey("2024", []byte("key-2024")),
	)
	if err != nil {
		t.Fatalf("NewAppKeySecretProviderFromString: %v", err)
	}

	opened, err := rotated.Decrypt(context.Background(), sealed)
	if err != nil {
		t.Fatalf("Decrypt with retired key: %v", err)
	}
	if string(opened) != "refresh-token" {
		t.Fatalf("unexpected plaintext: %q", opened)
	}

	fresh, err := rotated.Encrypt(context.Background(), []byte("refresh-token"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !bytes.Contains(fresh, []byte(`"kid":"2025"`)) {
		t.Fatalf("expected new ciphertext under active key, got %s", fresh)
	}
	if _, err := oldProvider.Decrypt(context.Background(), fresh); err == nil {
		t.Fatalf("expected old provider to reject ciphertext from unknown key")
	}
}

func TestAppKeySecretProviderRequiresMaterial(t *testing.T) {
	if _, err := NewAppKeySecretProvider(nil); err == nil {
		t.Fatalf("expected empty key material to be rejected")
	}
	provider, err := NewAppKeySecretProviderFromString("unit-test-master-key")
	if err != nil {
		t.Fatalf("NewAppKeySecretProviderFromString: %v", err)
	}
	if _, err := provider.Encrypt(context.Background(), nil); err == nil {
		t.Fatalf("expected empty plaintext to be rejected")
	}
}
