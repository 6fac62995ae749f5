package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// CredentialCipher encrypts and decrypts API credentials at rest with
// AES-256-CBC. The key comes from API_ENCRYPTION_KEY (64 hex chars). Without
// a key the cipher degrades to plaintext passthrough and warns once — a
// dev-only mode, never for live trading.
//
// Wire format: base64(IV ‖ ciphertext), IV freshly random per encryption.
type CredentialCipher struct {
	key      []byte // 32 bytes, nil in passthrough mode
	logger   *slog.Logger
	warnOnce sync.Once
}

// NewCredentialCipher builds a cipher from a 64-hex-char key. An empty key
// yields a passthrough cipher.
func NewCredentialCipher(hexKey string, logger *slog.Logger) (*CredentialCipher, error) {
	c := &CredentialCipher{logger: logger}
	if hexKey == "" {
		return c, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	c.key = key
	return c, nil
}

// Enabled reports whether a real key is loaded.
func (c *CredentialCipher) Enabled() bool { return c.key != nil }

// Encrypt returns the encrypted form of plain, or plain unchanged in
// passthrough mode.
func (c *CredentialCipher) Encrypt(plain string) (string, error) {
	if c.key == nil {
		c.warnPlaintext()
		return plain, nil
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}

	padded := pkcs7Pad([]byte(plain), aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. In passthrough mode the input is returned as-is
// (credentials were stored plaintext).
func (c *CredentialCipher) Decrypt(enc string) (string, error) {
	if c.key == nil {
		c.warnPlaintext()
		return enc, nil
	}
	if enc == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", fmt.Errorf("decode credential: %w", err)
	}
	if len(raw) < aes.BlockSize*2 || len(raw)%aes.BlockSize != 0 {
		return "", fmt.Errorf("credential ciphertext malformed")
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}

	iv, ct := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	unpadded, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

func (c *CredentialCipher) warnPlaintext() {
	c.warnOnce.Do(func() {
		if c.logger != nil {
			c.logger.Warn("API_ENCRYPTION_KEY not set — credentials stored in plaintext (dev only)")
		}
	})
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("credential padding malformed")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("credential padding malformed")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("credential padding malformed")
		}
	}
	return data[:len(data)-n], nil
}
