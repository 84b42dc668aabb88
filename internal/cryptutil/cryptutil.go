// Package cryptutil implements the chunk addressing hash and the per-chunk
// stream cipher used to encrypt chunk bodies before upload.
package cryptutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20"

	"mbackup/internal/chunkmodel"
)

// HashChunk returns the hex-encoded chunk hash for plaintext under the given
// 32-byte bucket seed: BLAKE2b-256(seed || plaintext).
func HashChunk(seed [32]byte, plaintext []byte) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("cryptutil: new blake2b: %w", err)
	}
	h.Write(seed[:])
	h.Write(plaintext)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Seal encrypts plaintext under the bucket key with a fresh random nonce and
// returns nonce(12) || ciphertext, the wire form stored by the server. The
// returned slice has length len(plaintext)+chunkmodel.NonceSize.
func Seal(key [32]byte, plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext)+chunkmodel.NonceSize)
	nonce := out[:chunkmodel.NonceSize]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cryptutil: generate nonce: %w", err)
	}

	cipher, err := chacha20.NewUnauthenticatedCipher(key[:], nonce)
	if err != nil {
		return nil, fmt.Errorf("cryptutil: new cipher: %w", err)
	}
	cipher.XORKeyStream(out[chunkmodel.NonceSize:], plaintext)
	return out, nil
}

// Open decrypts a nonce(12)||ciphertext blob produced by Seal, returning the
// original plaintext. It performs no integrity check beyond length — the
// stream cipher has no MAC, matching the wire format spec.md defines.
func Open(key [32]byte, sealed []byte) ([]byte, error) {
	if len(sealed) < chunkmodel.NonceSize {
		return nil, fmt.Errorf("cryptutil: sealed blob shorter than nonce")
	}
	nonce := sealed[:chunkmodel.NonceSize]
	ciphertext := sealed[chunkmodel.NonceSize:]

	cipher, err := chacha20.NewUnauthenticatedCipher(key[:], nonce)
	if err != nil {
		return nil, fmt.Errorf("cryptutil: new cipher: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}
