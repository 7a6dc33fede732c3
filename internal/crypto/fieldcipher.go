// Package crypto provides AES-256-GCM field-level encryption for sensitive
// attributes of CRM records (contact email, phone, free-text notes) that must
// be stored at rest in the persistent store, plus bcrypt password hashing for
// stored credentials. Field values are far more exposed than the rest of a
// record: they are exported verbatim in audit downloads and synced to the
// remote data service, so a leaked dump would otherwise hand an attacker the
// full contact book. AES-256-GCM is chosen because it provides both
// confidentiality and authenticated integrity, ensuring an encrypted field
// cannot be silently tampered with even if the store is partially compromised.
//
// Every ciphertext carries the fixed MarkerPrefix so encrypted values are
// always distinguishable from plaintext. Decrypt treats un-marked input as
// already-plaintext and returns it unchanged, which makes it idempotent and
// safe to call speculatively over records of mixed provenance.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// MarkerPrefix is the literal prepended to every ciphertext produced by this
// package. A value without it is plaintext by definition.
const MarkerPrefix = "ENC::"

var (
	// ErrKeyLengthInvalid is returned when a master key is not exactly 32 bytes (required for AES-256).
	ErrKeyLengthInvalid = errors.New("crypto: key must be exactly 32 bytes for AES-256")
	// ErrCiphertextCorrupted is returned when a marked value fails base64 decoding or is too short to contain a valid nonce.
	ErrCiphertextCorrupted = errors.New("crypto: ciphertext is corrupted or tampered")
	// ErrDecryptionFailed is returned when AES-GCM authentication or decryption fails, indicating tampering or a wrong key.
	ErrDecryptionFailed = errors.New("crypto: decryption operation failed")
	// ErrSaltTooShort is returned when the provided salt is fewer than 16 bytes, which would weaken PBKDF2 key derivation.
	ErrSaltTooShort = errors.New("crypto: salt must be at least 16 bytes")
)

// sensitiveFields is the fixed set of record attributes that EncryptFields
// and DecryptFields operate on. Everything else passes through untouched.
var sensitiveFields = []string{
	"email",
	"phone",
	"notes",
	"description",
	"address",
}

// FieldCipher encrypts and decrypts sensitive record fields.
type FieldCipher struct {
	masterKey []byte
}

// NewFieldCipher creates a cipher with a 32-byte master key.
func NewFieldCipher(masterKey []byte) (*FieldCipher, error) {
	if len(masterKey) != 32 {
		return nil, ErrKeyLengthInvalid
	}
	keyCopy := make([]byte, 32)
	copy(keyCopy, masterKey)
	return &FieldCipher{masterKey: keyCopy}, nil
}

// DeriveFieldCipher creates a cipher by deriving a key from a passphrase.
func DeriveFieldCipher(passphrase string, salt []byte, iterations int) (*FieldCipher, error) {
	if len(salt) < 16 {
		return nil, ErrSaltTooShort
	}
	if iterations < 10000 {
		iterations = 100000 // Secure default
	}
	derivedKey := pbkdf2.Key([]byte(passphrase), salt, iterations, 32, sha256.New)
	return NewFieldCipher(derivedKey)
}

// Encrypt encrypts plaintext and returns a marked, base64-encoded ciphertext.
// Empty input and already-marked input are returned unchanged; the latter
// keeps Encrypt idempotent when a record is saved twice without an
// intervening decrypt. On any internal failure the original text is returned
// unchanged — the fail-open policy: a security-layer fault must never block
// the record write it decorates.
func (fc *FieldCipher) Encrypt(plaintext string) string {
	if plaintext == "" || isEncrypted(plaintext) {
		return plaintext
	}

	blockCipher, err := aes.NewCipher(fc.masterKey)
	if err != nil {
		return plaintext
	}

	aead, err := cipher.NewGCM(blockCipher)
	if err != nil {
		return plaintext
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return plaintext
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return MarkerPrefix + base64.URLEncoding.EncodeToString(sealed)
}

// Decrypt recovers the plaintext of a marked ciphertext. Input without the
// marker prefix is returned unchanged with a nil error (treated as
// already-plaintext), so Decrypt(Decrypt(x)) == Decrypt(x). A marked value
// that cannot be decrypted is returned unchanged together with a non-nil
// error — callers decide whether undecryptable data is fatal rather than
// receiving plaintext-shaped garbage.
func (fc *FieldCipher) Decrypt(value string) (string, error) {
	if !isEncrypted(value) {
		return value, nil
	}

	ciphertext, err := base64.URLEncoding.DecodeString(value[len(MarkerPrefix):])
	if err != nil {
		return value, ErrCiphertextCorrupted
	}

	blockCipher, err := aes.NewCipher(fc.masterKey)
	if err != nil {
		return value, err
	}

	aead, err := cipher.NewGCM(blockCipher)
	if err != nil {
		return value, err
	}

	nonceLen := aead.NonceSize()
	if len(ciphertext) < nonceLen {
		return value, ErrCiphertextCorrupted
	}

	nonce := ciphertext[:nonceLen]
	actualCiphertext := ciphertext[nonceLen:]

	plaintext, err := aead.Open(nil, nonce, actualCiphertext, nil)
	if err != nil {
		return value, ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// EncryptFields returns a shallow copy of record with every configured
// sensitive field encrypted. Non-string values and absent fields pass
// through unchanged.
func (fc *FieldCipher) EncryptFields(record map[string]any) map[string]any {
	return fc.mapFields(record, func(v string) string { return fc.Encrypt(v) })
}

// DecryptFields returns a shallow copy of record with every configured
// sensitive field decrypted. A field that fails to decrypt keeps its stored
// (still-marked) value so corruption is visible rather than silently
// replaced.
func (fc *FieldCipher) DecryptFields(record map[string]any) map[string]any {
	return fc.mapFields(record, func(v string) string {
		plain, _ := fc.Decrypt(v)
		return plain
	})
}

// EncryptRecords applies EncryptFields to every record, preserving order.
func (fc *FieldCipher) EncryptRecords(records []map[string]any) []map[string]any {
	out := make([]map[string]any, len(records))
	for i, r := range records {
		out[i] = fc.EncryptFields(r)
	}
	return out
}

// DecryptRecords applies DecryptFields to every record, preserving order.
func (fc *FieldCipher) DecryptRecords(records []map[string]any) []map[string]any {
	out := make([]map[string]any, len(records))
	for i, r := range records {
		out[i] = fc.DecryptFields(r)
	}
	return out
}

// mapFields shallow-copies record and rewrites the string values of the
// configured sensitive fields through fn.
func (fc *FieldCipher) mapFields(record map[string]any, fn func(string) string) map[string]any {
	if record == nil {
		return nil
	}
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}
	for _, field := range sensitiveFields {
		if v, ok := out[field].(string); ok && v != "" {
			out[field] = fn(v)
		}
	}
	return out
}

// isEncrypted reports whether value carries the ciphertext marker.
func isEncrypted(value string) bool {
	return len(value) >= len(MarkerPrefix) && value[:len(MarkerPrefix)] == MarkerPrefix
}

// GenerateKey creates a cryptographically secure random 32-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateSalt creates a cryptographically secure random salt.
func GenerateSalt(length int) ([]byte, error) {
	if length < 16 {
		length = 16
	}
	salt := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}
