// Package skills caches generated code so equivalent nodes reuse it.
package skills

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/ShayCichocki/friday/pkg/models"
)

// Fingerprint derives the cache key for a node. Node names are abstract by
// construction, so the key is the node type plus the name normalized to
// lower-case words; the description, which carries literal values, is ignored.
func Fingerprint(typ models.NodeType, name string) string {
	sum := sha256.Sum256([]byte(string(typ) + "\x00" + NormalizeName(name)))
	return hex.EncodeToString(sum[:12])
}

// NormalizeName lower-cases name and joins its alphanumeric words with "_".
func NormalizeName(name string) string {
	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, "_")
}
