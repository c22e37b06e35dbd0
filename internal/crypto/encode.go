package crypto

import (
	"encoding/base64"
	"strings"
)

// B64URL returns unpadded base64url, the encoding used for integrity tags
// and every JOSE segment.
func B64URL(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

// DecodeB64URL accepts padded or unpadded base64url. Standard alphabet input
// is tolerated because some clients forget to translate '+' and '/'.
func DecodeB64URL(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	return base64.RawURLEncoding.DecodeString(s)
}
