// password.go provides the one-way credential hashing used by the stored
// credential integrity check. bcrypt embeds its own per-hash salt, so equal
// passwords never produce equal hashes and comparison must go through
// VerifyPassword rather than string equality.
package crypto

import "golang.org/x/crypto/bcrypt"

// bcryptCost balances hashing latency against brute-force resistance.
// Cost 12 is roughly 250 ms per attempt on current hardware.
const bcryptCost = 12

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches the stored bcrypt hash.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
