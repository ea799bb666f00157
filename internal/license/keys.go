package license

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"cloudloader/internal/config"
	"cloudloader/pkg/contracts/domain"
)

// codeAlphabet omits 0/O and 1/I/L.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	codeGroups    = 4
	codeGroupSize = 4
)

// NormalizeKey returns the canonical form of a key code: upper-case with
// dashes and whitespace removed. XXXX-XXXX-XXXX-XXXX and xxxxxxxxxxxxxxxx
// name the same key.
func NormalizeKey(code string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, code)
}

// ClampNickname trims a nickname and cuts it to max runes.
func ClampNickname(nickname string, max int) string {
	nickname = strings.TrimSpace(nickname)
	if max <= 0 || utf8.RuneCountInString(nickname) <= max {
		return nickname
	}
	return string([]rune(nickname)[:max])
}

// GenerateCode returns a random code of the form XXXX-XXXX-XXXX-XXXX.
// The dashes are for display; NormalizeKey gives the stored form.
func GenerateCode() (string, error) {
	var b strings.Builder
	b.Grow(codeGroups*codeGroupSize + codeGroups - 1)

	limit := big.NewInt(int64(len(codeAlphabet)))
	for g := 0; g < codeGroups; g++ {
		if g > 0 {
			b.WriteByte('-')
		}
		for i := 0; i < codeGroupSize; i++ {
			n, err := rand.Int(rand.Reader, limit)
			if err != nil {
				return "", fmt.Errorf("generate code: %w", err)
			}
			b.WriteByte(codeAlphabet[n.Int64()])
		}
	}
	return b.String(), nil
}

// MaskKey hides the middle of a key code for logging.
func MaskKey(code string) string {
	if len(code) <= 8 {
		return "****"
	}
	return code[:4] + "****" + code[len(code)-4:]
}

// HashFingerprint returns a short stable digest of a fingerprint for logging.
func HashFingerprint(fingerprint string) string {
	sum := sha256.Sum256([]byte(fingerprint))
	return hex.EncodeToString(sum[:])[:16]
}

// SeedKeys converts configured seed entries into fresh keys.
func SeedKeys(seeds []config.SeedKey, now time.Time) ([]*domain.ActivationKey, error) {
	keys := make([]*domain.ActivationKey, 0, len(seeds))
	seen := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		code := NormalizeKey(s.Code)
		if code == "" {
			return nil, fmt.Errorf("seed key without code")
		}
		role, err := domain.ParseRole(s.Role)
		if err != nil {
			return nil, fmt.Errorf("seed key %s: %w", MaskKey(code), err)
		}
		if seen[code] {
			continue
		}
		seen[code] = true
		keys = append(keys, domain.NewActivationKey(code, role, now))
	}
	return keys, nil
}
