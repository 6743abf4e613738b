// Package normalize holds the text helpers every other package leans on:
// slugs for persisted uniqueness, comparison keys for fuzzy matching and
// HTML entity decoding for names that arrive encoded from scraped sources.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxDecodePasses bounds DecodeEntities; doubly/triply encoded input
// ("&amp;amp;") settles well before this.
const maxDecodePasses = 8

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&quot;", `"`,
	"&apos;", "'",
	"&lt;", "<",
	"&gt;", ">",
	"&nbsp;", " ",
	"&#39;", "'",
	"&#039;", "'",
	"&#x27;", "'",
	"&#34;", `"`,
	"&#38;", "&",
	"&#60;", "<",
	"&#62;", ">",
	"&#x2F;", "/",
	"&#47;", "/",
)

// Slugify lowercases text and replaces every rune that is not an ASCII
// letter/digit, a Latin-1/Latin Extended letter or a parenthesis with a
// hyphen. Hyphen runs collapse and the result never starts or ends with one.
func Slugify(text string) string {
	lower := strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(lower))

	lastHyphen := true // suppresses a leading hyphen

	for _, r := range lower {
		if slugRune(r) {
			b.WriteRune(r)
			lastHyphen = false
			continue
		}

		if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}

	return strings.TrimRight(b.String(), "-")
}

func slugRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '(', r == ')':
		return true
	case r >= 0x00C0 && r <= 0x024F:
		return unicode.IsLetter(r)
	}

	return false
}

// AlbumSlug is the persisted slug of an album: the title disambiguated by
// its primary artist.
func AlbumSlug(artist, title string) string {
	return Slugify(artist + "-" + title)
}

// DecodeEntities reverses the common named and numeric HTML entities. It is
// applied until the string stops changing, so it is idempotent.
func DecodeEntities(text string) string {
	if !strings.Contains(text, "&") {
		return text
	}

	for i := 0; i < maxDecodePasses; i++ {
		decoded := entityReplacer.Replace(text)
		if decoded == text {
			break
		}

		text = decoded
	}

	return text
}

// NormalizeForComparison produces a matching key: entities decoded,
// diacritics folded, lowercased, punctuation stripped and whitespace
// collapsed. Never use it for persisted slugs.
func NormalizeForComparison(text string) string {
	text = foldDiacritics(DecodeEntities(text))
	text = strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(text))

	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_':
			b.WriteRune(r)
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// EqualFold compares two strings on their comparison form.
func EqualFold(a, b string) bool {
	return NormalizeForComparison(a) == NormalizeForComparison(b)
}

// ContainsEither reports whether either comparison form contains the other.
// Empty inputs never match.
func ContainsEither(a, b string) bool {
	na, nb := NormalizeForComparison(a), NormalizeForComparison(b)
	if na == "" || nb == "" {
		return false
	}

	return strings.Contains(na, nb) || strings.Contains(nb, na)
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}

	return out
}
