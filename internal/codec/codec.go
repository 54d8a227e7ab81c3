// Package codec encrypts payment-identifying fields.
//
// Encryption is deterministic for a given passphrase/salt/IV so that
// ciphertext can be matched with exact-equality queries. Callers that rely
// on this must never choose a per-value IV.
package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"marketplace/internal/models/domainErrors"

	"golang.org/x/crypto/pbkdf2"
)

const (
	Iterations = 65536
	KeyLength  = 32 // 256 бит
)

// Codec is safe for concurrent use.
type Codec struct {
	block cipher.Block
	iv    []byte
}

// New derives the AES-256 key from passphrase and salt. iv must be exactly
// one block (16 bytes) long.
func New(passphrase, salt, iv string) (*Codec, error) {
	if passphrase == "" || salt == "" {
		return nil, fmt.Errorf("%w: passphrase and salt are required", domainErrors.ErrCodecFailure)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", domainErrors.ErrCodecFailure, aes.BlockSize, len(iv))
	}

	key := pbkdf2.Key([]byte(passphrase), []byte(salt), Iterations, KeyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrCodecFailure, err)
	}

	return &Codec{block: block, iv: []byte(iv)}, nil
}

// Encrypt returns base64(AES-CBC(PKCS7(plaintext))).
func (c *Codec) Encrypt(plaintext string) (string, error) {
	padded := pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Any malformed input is ErrCodecFailure.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decode: %v", domainErrors.ErrCodecFailure, err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext is not a whole number of blocks", domainErrors.ErrCodecFailure)
	}

	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(out, raw)

	plain, err := unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", domainErrors.ErrCodecFailure)
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, fmt.Errorf("%w: bad padding", domainErrors.ErrCodecFailure)
		}
	}
	return b[:len(b)-n], nil
}
