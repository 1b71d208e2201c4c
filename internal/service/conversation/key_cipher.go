package conversation

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// KeyEnv names the environment variable holding the provider-key encryption secret.
const KeyEnv = "LLMCHAT_APIKEY_KEY"

var errSealedKey = errors.New("provider key ciphertext invalid")

// keyCipher seals provider API keys with AES-256-GCM. A nil *keyCipher
// stores keys as plaintext.
type keyCipher struct {
	aead cipher.AEAD
}

func newKeyCipher(secret string) (*keyCipher, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, nil
	}
	key := []byte(secret)
	if len(key) != 32 {
		decoded, err := base64.StdEncoding.DecodeString(secret)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", KeyEnv, err)
		}
		if len(decoded) != 32 {
			return nil, fmt.Errorf("decode %s: key is %d bytes, want 32", KeyEnv, len(decoded))
		}
		key = decoded
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &keyCipher{aead: aead}, nil
}

func (k *keyCipher) seal(plain string) (string, error) {
	if k == nil {
		return plain, nil
	}
	nonce := make([]byte, k.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	out := k.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (k *keyCipher) open(stored string) (string, error) {
	if k == nil {
		return stored, nil
	}
	data, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", errSealedKey
	}
	n := k.aead.NonceSize()
	if len(data) < n {
		return "", errSealedKey
	}
	plain, err := k.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", errSealedKey
	}
	return string(plain), nil
}
