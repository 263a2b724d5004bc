package signing

import (
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// GenerateAccessKey returns salt‖sha256(salt‖password) for a fresh salt.
func GenerateAccessKey(password string) string {
	salt := newSalt(nil)
	return salt + accessHash(salt, password)
}

// ValidAccessKey reports whether key was generated from password.
func ValidAccessKey(key, password string) bool {
	if len(key) <= SaltLength {
		return false
	}
	salt, hash := key[:SaltLength], key[SaltLength:]
	return subtle.ConstantTimeCompare([]byte(accessHash(salt, password)), []byte(hash)) == 1
}

func accessHash(salt, password string) string {
	return hex.EncodeToString(sha256Sum([]byte(salt + password)))
}

// DevicePassword ties a password to a network hardware address by interleaving the
// address digits with the secret.
func DevicePassword(hwAddr, secret string) string {
	addr := strings.ToLower(strings.NewReplacer(":", "", "-", "").Replace(hwAddr))

	var b strings.Builder
	for i := 0; i < len(addr) || i < len(secret); i++ {
		if i < len(addr) {
			b.WriteByte(addr[i])
		}
		if i < len(secret) {
			b.WriteByte(secret[i])
		}
	}
	return b.String()
}
