package token

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"strings"

	"github.com/haideralmesaody/license-fabric/internal/licenseerr"
)

// Mint serializes payload as JSON, signs the raw bytes with RSA-SHA256 under
// privateKey, and returns base64url(json) + "." + base64url(signature),
// padding stripped.
func Mint(payload Payload, privateKey *rsa.PrivateKey) (string, error) {
	if privateKey == nil {
		return "", licenseerr.New(licenseerr.Config, "no private key configured for token signing")
	}
	if payload.Subject == "" {
		return "", licenseerr.New(licenseerr.Config, "payload subject must not be empty")
	}
	if payload.MaxMachineCount <= 0 {
		return "", licenseerr.New(licenseerr.Config, "payload maxMachineCount must be positive")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", licenseerr.Wrap(licenseerr.Internal, "encode token payload", err)
	}

	digest := sha256.Sum256(raw)
	sig, err := rsa.SignPKCS1v15(rand.Reader, privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", licenseerr.Wrap(licenseerr.Internal, "sign token payload", err)
	}

	enc := base64.RawURLEncoding
	return enc.EncodeToString(raw) + "." + enc.EncodeToString(sig), nil
}

// Verify splits token on the first ".", base64url-decodes both halves,
// verifies the RSA-SHA256 signature under publicKey, and returns the parsed
// Payload. It never checks issuedTime/expiryTime — that's the caller's job.
func Verify(tokenStr string, publicKey *rsa.PublicKey) (Payload, error) {
	var zero Payload
	if publicKey == nil {
		return zero, licenseerr.New(licenseerr.Config, "no public key configured for token verification")
	}

	idx := strings.IndexByte(tokenStr, '.')
	if idx < 0 || strings.IndexByte(tokenStr[idx+1:], '.') >= 0 {
		return zero, licenseerr.New(licenseerr.Format, "token must contain exactly one separator")
	}

	enc := base64.RawURLEncoding
	rawPayload, err := enc.DecodeString(tokenStr[:idx])
	if err != nil {
		return zero, licenseerr.Wrap(licenseerr.Format, "decode token payload segment", err)
	}
	sig, err := enc.DecodeString(tokenStr[idx+1:])
	if err != nil {
		return zero, licenseerr.Wrap(licenseerr.Format, "decode token signature segment", err)
	}

	digest := sha256.Sum256(rawPayload)
	if err := rsa.VerifyPKCS1v15(publicKey, crypto.SHA256, digest[:], sig); err != nil {
		return zero, licenseerr.Wrap(licenseerr.Tampered, "token signature verification failed", err)
	}

	var payload Payload
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		return zero, licenseerr.Wrap(licenseerr.Format, "parse token payload json", err)
	}
	return payload, nil
}

// LoadPrivateKeyPEM parses a PKCS#1 or PKCS#8 RSA private key from PEM text.
func LoadPrivateKeyPEM(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, licenseerr.New(licenseerr.Config, "no PEM block found in private key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, licenseerr.Wrap(licenseerr.Config, "parse RSA private key", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, licenseerr.New(licenseerr.Config, "PEM block is not an RSA private key")
	}
	return key, nil
}

// LoadPublicKeyPEM parses a PKIX RSA public key from PEM text.
func LoadPublicKeyPEM(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, licenseerr.New(licenseerr.Config, "no PEM block found in public key")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, licenseerr.Wrap(licenseerr.Config, "parse RSA public key", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, licenseerr.New(licenseerr.Config, "PEM block is not an RSA public key")
	}
	return key, nil
}

// EncodePublicKeyPEM renders publicKey back to PEM text, used by the
// authority's GET /api/license/publicKey endpoint.
func EncodePublicKeyPEM(publicKey *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return "", licenseerr.Wrap(licenseerr.Internal, "marshal public key", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}
