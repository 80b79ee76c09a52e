package cryptox

import "golang.org/x/crypto/argon2"

// DeriveKey stretches a passphrase into a 32-byte AES key with argon2id.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, keySize)
}
