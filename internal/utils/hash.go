package utils

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// CacheKey builds "<prefix>:<fnv64a hex>" from the parts. Parts are trimmed and
// lower-cased first, so keys are stable across casing and surrounding space.
func CacheKey(prefix string, parts ...string) string {
	h := fnv.New64a()
	for i, p := range parts {
		if i > 0 {
			_, _ = h.Write([]byte{'|'})
		}
		_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(p))))
	}
	return fmt.Sprintf("%s:%x", prefix, h.Sum64())
}
