// Package cryptox implements the symmetric crypto used by the credential
// vault and the session signer: argon2id key derivation and AES-256-GCM
// authenticated encryption of JSON-serializable values.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"

	"golang.org/x/crypto/argon2"
)

const (
	keySize   = 32
	nonceSize = 12
)

// DeriveKey derives a 256-bit key from a secret and salt using argon2id.
// The same (secret, salt) pair always yields the same key.
func DeriveKey(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 1, 64*1024, 4, keySize)
}

// HashPassword produces a salted argon2id hash of a password, suitable for
// storage and constant-time comparison. Parameters match DeriveKey so a
// stored hash can double as a verifier.
func HashPassword(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, keySize)
}

// Seal serializes v to JSON and encrypts it with AES-256-GCM under key.
// A fresh random 12-byte nonce is generated per call and returned alongside
// the ciphertext.
func Seal(v any, key []byte) (ciphertext, nonce []byte, err error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}

	return aesgcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Open decrypts ciphertext produced by Seal and unmarshals the plaintext
// JSON into v. Fails if the key or nonce is wrong or the data was tampered
// with.
func Open(ciphertext, nonce, key []byte, v any) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return err
	}

	return json.Unmarshal(plaintext, v)
}
