// Package cachecrypto provides authenticated encryption for the agent's
// offline cache file: AES-256-GCM with a key derived from a caller-supplied
// string (in practice the PEM public-key text), output layout
// IV‖ciphertext‖tag, base64-encoded.
package cachecrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/haideralmesaody/license-fabric/internal/licenseerr"
)

const nonceSize = 12 // 96-bit IV, per AES-GCM's standard nonce size

func deriveKey(keyString string) [32]byte {
	return sha256.Sum256([]byte(keyString))
}

// Seal encrypts plaintext under a key derived from keyString and returns the
// base64 text of IV‖ciphertext‖tag.
func Seal(plaintext []byte, keyString string) (string, error) {
	key := deriveKey(keyString)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", licenseerr.Wrap(licenseerr.Internal, "construct AES cipher", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return "", licenseerr.Wrap(licenseerr.Internal, "construct GCM mode", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", licenseerr.Wrap(licenseerr.Internal, "generate nonce", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal, failing with licenseerr.Tampered on any decode error
// or authentication-tag mismatch.
func Open(ciphertext string, keyString string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, licenseerr.Wrap(licenseerr.Tampered, "decode cache ciphertext", err)
	}

	key := deriveKey(keyString)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, licenseerr.Wrap(licenseerr.Internal, "construct AES cipher", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, licenseerr.Wrap(licenseerr.Internal, "construct GCM mode", err)
	}

	if len(raw) < nonceSize {
		return nil, licenseerr.New(licenseerr.Tampered, "ciphertext shorter than nonce")
	}
	nonce, body := raw[:nonceSize], raw[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, licenseerr.Wrap(licenseerr.Tampered, "authenticate cache ciphertext", err)
	}
	return plaintext, nil
}
