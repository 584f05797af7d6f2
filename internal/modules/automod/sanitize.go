package automod

import (
	"strings"
	"unicode"
)

var foldReplacer = strings.NewReplacer(
	"à", "a", "á", "a", "â", "a", "ä", "a", "À", "A", "Á", "A", "Â", "A", "Ä", "A",
	"è", "e", "é", "e", "ê", "e", "ë", "e", "È", "E", "É", "E", "Ê", "E", "Ë", "E",
	"ì", "i", "í", "i", "î", "i", "ï", "i", "Ì", "I", "Í", "I", "Î", "I", "Ï", "I",
	"ò", "o", "ó", "o", "ô", "o", "ö", "o", "Ò", "O", "Ó", "O", "Ô", "O", "Ö", "O",
	"ù", "u", "ú", "u", "û", "u", "ü", "u", "Ù", "U", "Ú", "U", "Û", "U", "Ü", "U",
	"ç", "c", "Ç", "C",
	"$", "s", "@", "a", "€", "e",
)

// sanitize folds accents and common symbol substitutions, then keeps only
// letters and digits.
func sanitize(input string, caseSensitive bool) string {
	folded := foldReplacer.Replace(input)
	if !caseSensitive {
		folded = strings.ToLower(folded)
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeForDuplicate collapses case and whitespace so trivially varied
// reposts hash the same.
func normalizeForDuplicate(content string) string {
	return strings.Join(strings.Fields(strings.ToLower(content)), " ")
}
