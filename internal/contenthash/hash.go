// Package contenthash derives the content-addressed cache key used by every
// expensive per-text operation (embedding, translation). The digest is a
// deduplication key, not a security primitive: identical normalized text in
// the same language always maps to the same key, so near-duplicate headlines
// from different feeds share one provider call.
package contenthash

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"unicode"
)

// Size is the digest width in bytes.
const Size = md5.Size

// Digest is a fixed-width content hash.
type Digest [Size]byte

// Hash computes the digest of a text in a given language. Normalization is a
// correctness boundary and must stay stable: leading/trailing whitespace is
// trimmed, internal whitespace runs collapse to a single space, and the text
// is lower-cased with the locale-invariant Unicode mapping. The language code
// participates in the digest so "Sverige"/sv and "Sverige"/en never collide.
func Hash(text, lang string) Digest {
	normalized := Normalize(text)
	sum := md5.Sum([]byte(normalized + "\x00" + lang))
	return Digest(sum)
}

// Normalize applies the documented normalization without hashing.
func Normalize(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return b.String()
}

// FromBytes rebuilds a digest from its persisted form.
func FromBytes(raw []byte) (Digest, bool) {
	if len(raw) != Size {
		return Digest{}, false
	}
	var d Digest
	copy(d[:], raw)
	return d, true
}

func (d Digest) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, d[:])
	return out
}

func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) String() string {
	return d.Hex()
}
