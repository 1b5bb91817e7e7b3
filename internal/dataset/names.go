package dataset

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// MaxTableNameLen is the normalized length at which a table name is
	// replaced by the SHA-1 of its source identifier.
	MaxTableNameLen = 60

	// MaxLayerNameLen is the equivalent threshold for map layer names.
	MaxLayerNameLen = 80
)

// TableName derives the database table name for a dataset identifier.
func TableName(identifier string) string {
	return boundedName(identifier, MaxTableNameLen)
}

// LayerName derives the map layer name from a table name.
func LayerName(table string) string {
	return boundedName(table, MaxLayerNameLen)
}

// Normalize folds s to ASCII, lowercases it and replaces every character
// outside [0-9a-z_] with an underscore.
func Normalize(s string) string {
	folded := foldASCII(s)
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func boundedName(s string, limit int) string {
	name := Normalize(s)
	if len(name) >= limit {
		sum := sha1.Sum([]byte(s))
		return hex.EncodeToString(sum[:])
	}
	return name
}

// foldASCII decomposes s (NFKD) and drops everything outside ASCII, which
// strips combining accents while keeping base letters.
func foldASCII(s string) string {
	t := transform.Chain(
		norm.NFKD,
		runes.Remove(runes.Predicate(func(r rune) bool { return r > unicode.MaxASCII })),
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		// Remove never fails on valid input; fall back to a manual filter.
		var b strings.Builder
		for _, r := range norm.NFKD.String(s) {
			if r <= unicode.MaxASCII {
				b.WriteRune(r)
			}
		}
		return b.String()
	}
	return out
}
