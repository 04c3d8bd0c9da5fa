// Package vaultcrypto implements the key derivation, authenticated
// encryption, and content hashing primitives that every chunk and every
// catalogue backup is protected with.
package vaultcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the size in bytes of every derived key.
	KeySize = 32
	// nonceSize is the AES-GCM standard nonce length.
	nonceSize = 12
	// tagSize is the AES-GCM authentication tag length.
	tagSize = 16
	// kdfIterations is the PBKDF2 iteration count, chosen comfortably
	// above OWASP's current minimum recommendation for PBKDF2-HMAC-SHA256.
	kdfIterations = 480_000
	// fileHashReadSize is the buffer size for streamed file hashing.
	fileHashReadSize = 4096

	// processSaltConstant is a fixed, process-wide constant mixed into
	// every user-key derivation, so two different vaultfs builds never
	// silently produce colliding keys from the same user identity alone.
	processSaltConstant = "vaultfs/user-key/v1"
	fallbackMachineSecret = "vaultfs/no-machine-id/fallback-secret/v1"
)

// ErrAuthenticationFailed is returned by Decrypt when the AEAD tag does
// not verify — tamper or wrong key. Distinguished from ErrMalformedBlob
// so callers can tell "this ciphertext is truncated" apart from "this
// ciphertext was tampered with or encrypted under a different key".
var ErrAuthenticationFailed = errors.New("vaultcrypto: authentication failed")

// ErrMalformedBlob is returned by Decrypt when the input is too short to
// contain an iv and a tag — a format error, not a tamper/wrong-key error.
var ErrMalformedBlob = errors.New("vaultcrypto: malformed ciphertext")

// DeriveUserKey deterministically derives a 32-byte key for userIdentity,
// mixing the fixed process salt constant, a per-user salt derived from the
// identity, and the machine-bound secret. Deterministic given the same
// (userIdentity, machine) pair.
func DeriveUserKey(userIdentity string) []byte {
	secret := machineSecret()
	password := append([]byte(processSaltConstant), secret...)
	salt := sha256.Sum256([]byte(userIdentity))

	return pbkdf2.Key(password, salt[:], kdfIterations, KeySize, sha256.New)
}

// DeriveFileKey deterministically derives a 32-byte key for a FileContent
// identified by its hex content hash. Two non-overlapping slices of the
// hex hash serve as password and salt so resume and dedup always compute
// the same key for the same content.
func DeriveFileKey(contentHashHex string) ([]byte, error) {
	if len(contentHashHex) < 16 {
		return nil, fmt.Errorf("vaultcrypto: content hash %q too short to derive a file key", contentHashHex)
	}

	half := len(contentHashHex) / 2
	password := contentHashHex[:half]
	salt := contentHashHex[half:]

	return pbkdf2.Key([]byte(password), []byte(salt), kdfIterations, KeySize, sha256.New), nil
}

// machineSecret attempts to read a machine-bound secret from
// /etc/machine-id, falling back to a fixed constant when unavailable.
// The fallback is degraded but still deterministic, so key derivation
// never fails outright just because the host lacks a machine id.
func machineSecret() []byte {
	data, err := os.ReadFile("/etc/machine-id")
	if err != nil || len(data) == 0 {
		return []byte(fallbackMachineSecret)
	}

	return data
}

// Encrypt authenticates and encrypts plaintext under key, returning
// iv(12) || ciphertext || tag(16). A fresh random nonce is generated for
// every call; never reuse a (key, nonce) pair.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, nonceSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("vaultcrypto: generating nonce: %w", err)
	}

	sealed := aead.Seal(nil, iv, plaintext, nil)

	out := make([]byte, 0, len(iv)+len(sealed))
	out = append(out, iv...)
	out = append(out, sealed...)

	return out, nil
}

// Decrypt verifies and decrypts a blob produced by Encrypt. Returns
// ErrMalformedBlob if blob is too short to contain iv+tag, and
// ErrAuthenticationFailed (wrapping the underlying AEAD error) if the tag
// does not verify — the two are distinguishable via errors.Is.
func Decrypt(blob, key []byte) ([]byte, error) {
	if len(blob) < nonceSize+tagSize {
		return nil, ErrMalformedBlob
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	iv := blob[:nonceSize]
	sealed := blob[nonceSize:]

	plaintext, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}

	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("vaultcrypto: key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vaultcrypto: creating cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vaultcrypto: creating AEAD: %w", err)
	}

	return aead, nil
}

// HashBytes returns the hex-encoded SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashFile returns the hex-encoded SHA-256 digest of the file at path,
// streamed in 4 KiB reads so whole-file hashing never holds the entire
// file in memory.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("vaultcrypto: opening %s: %w", path, err)
	}
	defer f.Close()

	return HashReader(f)
}

// HashReader returns the hex-encoded SHA-256 digest of everything read
// from r, streamed in 4 KiB chunks.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, fileHashReadSize)

	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("vaultcrypto: hashing: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
