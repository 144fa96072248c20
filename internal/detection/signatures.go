package detection

import (
	"strings"
	"unicode"
)

// ThreatSignature holds the static evidence tables used by the classifier.
// Built once at package init and never mutated.
type ThreatSignature struct {
	extensions    []string
	contentTokens []string
}

var defaultSignature = newThreatSignature(
	[]string{
		".encrypted", ".locked", ".crypto", ".crypt", ".vault", ".xxx", ".zzz",
		".aaa", ".micro", ".encryptedRSA", ".exx", ".ezz", ".eaa", ".xbtx",
		".xtbl", ".cryptolocker", ".zee", ".wallet",
	},
	// Phrases, not single words: dumps routinely carry KEY, PAYMENT or
	// ENCRYPTED as identifiers.
	[]string{
		"RANSOMWARE", "DECRYPT YOUR FILES", "YOUR FILES HAVE BEEN ENCRYPTED",
		"YOUR FILES ARE ENCRYPTED", "YOUR FILES HAVE BEEN LOCKED", "PAY THE RANSOM",
		"BITCOIN ADDRESS", "SEND BITCOIN", "RECOVERY KEY", "DECRYPTION KEY",
	},
)

func newThreatSignature(extensions, tokens []string) *ThreatSignature {
	sig := &ThreatSignature{
		extensions:    make([]string, len(extensions)),
		contentTokens: make([]string, len(tokens)),
	}
	for i, e := range extensions {
		sig.extensions[i] = strings.ToLower(e)
	}
	for i, t := range tokens {
		sig.contentTokens[i] = normalizeWords(t)
	}
	return sig
}

// DefaultSignature returns the process-wide signature table
func DefaultSignature() *ThreatSignature {
	return defaultSignature
}

// Extensions returns a copy of the ransomware extension table
func (s *ThreatSignature) Extensions() []string {
	return append([]string(nil), s.extensions...)
}

// ContentTokens returns a copy of the ransom-note token table
func (s *ThreatSignature) ContentTokens() []string {
	return append([]string(nil), s.contentTokens...)
}

// MatchLocation returns the first extension found anywhere in the location
func (s *ThreatSignature) MatchLocation(location string) (string, bool) {
	lower := strings.ToLower(location)
	for _, ext := range s.extensions {
		if strings.Contains(lower, ext) {
			return ext, true
		}
	}
	return "", false
}

// MatchContent returns every ransom-note phrase present in the sample.
// Phrases match whole words, case-insensitively, across any run of
// punctuation or whitespace. Identifiers such as ransomware_log are one word.
func (s *ThreatSignature) MatchContent(sample []byte) []string {
	if len(sample) == 0 {
		return nil
	}
	text := " " + normalizeWords(string(sample)) + " "

	var hits []string
	for _, tok := range s.contentTokens {
		if strings.Contains(text, " "+tok+" ") {
			hits = append(hits, tok)
		}
	}
	return hits
}

// normalizeWords upper-cases s and collapses every run of characters that
// cannot appear in an identifier into a single space.
func normalizeWords(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(unicode.ToUpper(r))
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSuffix(b.String(), " ")
}
