// Package cryptox implements the sealed-blob format used by the encrypted
// file vault: argon2id key derivation plus AES-256-GCM, with the salt and
// nonce carried inside the blob so a passphrase is all that is needed to
// open it again.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 32
)

// ErrMalformed is returned when a blob is too short to contain the salt and
// nonce header.
var ErrMalformed = errors.New("malformed sealed blob")

// argon2id parameters: 1 pass, 64 MiB, 4 lanes (the usual interactive
// profile).
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// RandBytes returns n cryptographically random bytes. Panics if the system
// source fails, which is unrecoverable anyway.
func RandBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// Seal encrypts plaintext under a key derived from passphrase with a fresh
// salt and nonce. Layout of the result: salt || nonce || ciphertext.
func Seal(plaintext, passphrase []byte) ([]byte, error) {
	salt := RandBytes(saltSize)
	nonce := RandBytes(nonceSize)

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, saltSize+nonceSize+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// Open reverses Seal. A wrong passphrase or tampered blob fails with the
// underlying AEAD authentication error.
func Open(blob, passphrase []byte) ([]byte, error) {
	if len(blob) < saltSize+nonceSize {
		return nil, ErrMalformed
	}
	salt := blob[:saltSize]
	nonce := blob[saltSize : saltSize+nonceSize]

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, blob[saltSize+nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed blob: %w", err)
	}
	return plaintext, nil
}

func newAEAD(passphrase, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
