package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

const envSecretKey = "ROOKERY_SECRET_KEY"

var (
	cipherOnce sync.Once
	cipherKey  []byte
	cipherErr  error
)

func loadCipherKey() ([]byte, error) {
	cipherOnce.Do(func() {
		raw := strings.TrimSpace(os.Getenv(envSecretKey))
		if raw == "" {
			cipherErr = fmt.Errorf("security: %s is not set", envSecretKey)
			return
		}
		sum := sha256.Sum256([]byte(raw))
		cipherKey = sum[:]
	})
	return cipherKey, cipherErr
}

// ResetProxyCipherForTests re-reads the key material on next use.
func ResetProxyCipherForTests() {
	cipherOnce = sync.Once{}
	cipherKey = nil
	cipherErr = nil
}

// EncryptProxySecret encrypts a proxy credential for storage.
// The result is base64(nonce || ciphertext).
func EncryptProxySecret(plaintext string) (string, error) {
	key, err := loadCipherKey()
	if err != nil {
		return "", err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("security: init cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("security: nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptProxySecret reverses EncryptProxySecret.
func DecryptProxySecret(encoded string) (string, error) {
	key, err := loadCipherKey()
	if err != nil {
		return "", err
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("security: decode secret: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("security: init cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return "", fmt.Errorf("security: secret too short")
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("security: open secret: %w", err)
	}

	return string(plaintext), nil
}
