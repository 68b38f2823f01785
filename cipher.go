package eduapi

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// Key derivation parameters. These must match the backend's encryptor or
// every protected payload passes through undecrypted.
const (
	kdfSalt       = "salt-string"
	kdfIterations = 100000
	keySize       = 32
)

// Cipher decrypts response envelopes protected with AES-256-CBC. The key is
// derived once from the pre-shared secret via PBKDF2-SHA256.
//
// Decryption is deliberately fail-soft: the backend legitimately returns
// plaintext on some paths (search-engine responses, for one), so a payload
// that does not decrypt is passed through untouched and logged, never
// surfaced as a call failure.
type Cipher struct {
	key     []byte
	logger  Logger
	metrics *MetricsCollector
}

// CipherOption configures a Cipher.
type CipherOption func(*Cipher)

// WithCipherLogger sets the cipher's logger for decryption warnings.
func WithCipherLogger(logger Logger) CipherOption {
	return func(c *Cipher) {
		c.logger = logger
	}
}

// WithCipherMetrics sets the cipher's metrics collector.
func WithCipherMetrics(collector *MetricsCollector) CipherOption {
	return func(c *Cipher) {
		c.metrics = collector
	}
}

// NewCipher derives the symmetric key from the pre-shared secret and returns
// a cipher ready for use.
func NewCipher(secret string, opts ...CipherOption) *Cipher {
	c := &Cipher{
		key: pbkdf2.Key([]byte(secret), []byte(kdfSalt), kdfIterations, keySize, sha256.New),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Decrypt replaces an encrypted envelope with its decoded payload. Data that
// does not have the envelope shape, or fails to decrypt for any reason, is
// returned unchanged.
func (c *Cipher) Decrypt(data json.RawMessage) json.RawMessage {
	env, ok := asEncryptedEnvelope(data)
	if !ok {
		return data
	}

	plain, err := c.open(env)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("payload decryption failed, passing through", "error", err.Error())
		}
		if c.metrics != nil {
			c.metrics.RecordDecryption("failure")
		}
		return data
	}

	if c.metrics != nil {
		c.metrics.RecordDecryption("success")
	}
	return plain
}

// open performs the actual CBC decryption and padding removal.
func (c *Cipher) open(env *EncryptedEnvelope) (json.RawMessage, error) {
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("iv is %d bytes, want %d", len(iv), aes.BlockSize)
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a positive multiple of the block size", len(ct))
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}

	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	plain, err = pkcs7Unpad(plain)
	if err != nil {
		return nil, err
	}
	if !json.Valid(plain) {
		return nil, errors.New("decrypted payload is not valid JSON")
	}
	return json.RawMessage(plain), nil
}

// Encrypt wraps a value in an encrypted envelope with a fresh random IV.
// The backend owns encryption in production; this companion exists for tests
// and tooling that need round-trip parity.
func (c *Cipher) Encrypt(v any) (*EncryptedEnvelope, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	padded := pkcs7Pad(plain, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	return &EncryptedEnvelope{
		Encrypted: true,
		IV:        base64.StdEncoding.EncodeToString(iv),
		Payload:   base64.StdEncoding.EncodeToString(ct),
	}, nil
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

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty plaintext")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
