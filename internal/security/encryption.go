// internal/security/encryption.go
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"custody-service/internal/domain"
)

// Encryption seals wallet secrets with AES-256-GCM. Ciphertexts carry their
// nonce as a prefix.
type Encryption struct {
	gcm     cipher.AEAD
	version string
}

// NewEncryption accepts a base64 encoded or raw 32 byte master key.
func NewEncryption(masterKey string) (*Encryption, error) {
	keyBytes := []byte(masterKey)
	if decoded, err := base64.StdEncoding.DecodeString(masterKey); err == nil {
		keyBytes = decoded
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("invalid master key length: must be 32 bytes for AES-256, got %d", len(keyBytes))
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Encryption{gcm: gcm, version: "v1"}, nil
}

func (e *Encryption) EncryptBytes(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("data cannot be empty")
	}
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return e.gcm.Seal(nonce, nonce, data, nil), nil
}

func (e *Encryption) DecryptBytes(ciphertext []byte) ([]byte, error) {
	nonceSize := e.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

// Encrypt returns base64(nonce || ciphertext).
func (e *Encryption) Encrypt(plaintext string) (string, error) {
	sealed, err := e.EncryptBytes([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *Encryption) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", fmt.Errorf("ciphertext cannot be empty")
	}
	decoded, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	plaintext, err := e.DecryptBytes(decoded)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// SealSecrets encrypts the JSON form of secrets. Empty secrets seal to "".
func (e *Encryption) SealSecrets(secrets *domain.WalletSecrets) (string, error) {
	if secrets.IsEmpty() {
		return "", nil
	}
	data, err := json.Marshal(secrets)
	if err != nil {
		return "", fmt.Errorf("failed to encode secrets: %w", err)
	}
	return e.Encrypt(string(data))
}

// OpenSecrets reverses SealSecrets. An empty string yields nil secrets.
func (e *Encryption) OpenSecrets(sealed string) (*domain.WalletSecrets, error) {
	if sealed == "" {
		return nil, nil
	}
	plaintext, err := e.Decrypt(sealed)
	if err != nil {
		return nil, err
	}
	var secrets domain.WalletSecrets
	if err := json.Unmarshal([]byte(plaintext), &secrets); err != nil {
		return nil, fmt.Errorf("failed to decode secrets: %w", err)
	}
	return &secrets, nil
}

func (e *Encryption) Version() string {
	return e.version
}

// GenerateMasterKey returns a random base64 encoded AES-256 key.
func GenerateMasterKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
