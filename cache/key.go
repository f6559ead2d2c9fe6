package cache

import (
	"strings"

	"golang.org/x/text/cases"
)

// Key joins namespace parts into a cache key, e.g. Key("user", "id", "42")
// yields "user:id:42".
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// NormalizeAlternate canonicalizes an alternate-key value (email, username,
// phone) before it is used in a cache key. Normalization must be identical at
// write time and read time or entries become permanently unreachable, so this
// is the single place it happens: whitespace is trimmed and the value is
// Unicode case-folded.
func NormalizeAlternate(value string) string {
	// cases.Caser buffers internally and is not safe for concurrent use,
	// so a fresh one is built per call.
	return cases.Fold().String(strings.TrimSpace(value))
}

// keySanitizer strips characters that would corrupt key namespacing.
var keySanitizer = strings.NewReplacer(
	" ", "_",
	"\n", "",
	"\r", "",
	"\t", "",
)

// SanitizeKey removes or replaces characters that might cause issues in
// cache keys.
func SanitizeKey(key string) string {
	return keySanitizer.Replace(key)
}
