package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// New returns an id of the form "prefix-unixnano-hex". Order items use the
// menu-item id as the prefix, which is what Prefix recovers for attribution.
func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// Prefix recovers the prefix passed to New by stripping the trailing
// "-unixnano-hex" segments, so dashed prefixes like "spanish-latte" survive.
// Ids not shaped that way come back unchanged.
func Prefix(id string) string {
	parts := strings.Split(id, "-")
	if len(parts) < 3 || !allDigits(parts[len(parts)-2]) {
		return id
	}
	return strings.Join(parts[:len(parts)-2], "-")
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
