package detection

import (
	"unicode"
)

const (
	minQuoteLength   = 10
	minBase64Length  = 21
	minHexLength     = 33
	controlCharRatio = 0.3
)

// LooksEncrypted reports whether a matched value resembles ciphertext rather
// than the plaintext the column normally holds. Values under ten characters
// are never considered encrypted.
func LooksEncrypted(quote string) bool {
	runes := []rune(quote)
	if len(runes) < minQuoteLength {
		return false
	}

	if len(runes) >= minBase64Length && allRunes(runes, isBase64Rune) {
		return true
	}
	if len(runes) >= minHexLength && allRunes(runes, isHexRune) {
		return true
	}

	control := 0
	for _, r := range runes {
		if r < 32 && !unicode.IsSpace(r) {
			control++
		}
	}
	return float64(control) > float64(len(runes))*controlCharRatio
}

func allRunes(runes []rune, pred func(rune) bool) bool {
	for _, r := range runes {
		if !pred(r) {
			return false
		}
	}
	return true
}

func isBase64Rune(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') ||
		r == '+' || r == '/' || r == '='
}

func isHexRune(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
