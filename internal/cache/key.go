package cache

import (
	"fmt"
	"strings"
)

// Key builds the canonical key for a category and positional arguments:
// the category, then each non-nil argument stringified, colon-joined.
// Equal arguments produce equal keys regardless of call site.
func Key(cat Category, args ...any) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, string(cat))
	for _, a := range args {
		if a == nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%v", a))
	}
	return strings.Join(parts, ":")
}

// keyCategory extracts the category prefix of a canonical key.
func keyCategory(key string) Category {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return Category(key[:i])
	}
	return Category(key)
}
