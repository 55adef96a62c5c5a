package payload

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	// IDLimit is the width of the gateway's user id fields.
	IDLimit = 20
	// NameLimit is the width of the gateway's user name fields.
	NameLimit = 60
)

// Fit returns value unchanged when it fits in limit runes. Longer values
// are replaced by a token derived from their hash, so distinct long
// values stay distinct and the same value always maps to the same token.
func Fit(value string, limit int) string {
	value = strings.TrimSpace(value)
	if limit <= 0 || utf8.RuneCountInString(value) <= limit {
		return value
	}
	sum := sha256.Sum256([]byte(norm.NFKC.String(value)))
	encoded := base64.URLEncoding.EncodeToString(sum[:])
	token := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, encoded)
	if len(token) > limit {
		token = token[:limit]
	}
	return token
}
