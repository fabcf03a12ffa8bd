// Package extract scans chat message text for Solana token addresses.
package extract

import (
	"regexp"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Solana addresses are base58-encoded 32-byte values, 32-44 characters.
var (
	addressPattern = regexp.MustCompile(`[1-9A-HJ-NP-Za-km-z]{32,44}`)

	// Token addresses often arrive wrapped in chart or launchpad links.
	urlPatterns = []*regexp.Regexp{
		regexp.MustCompile(`pump\.fun/(?:coin/)?([1-9A-HJ-NP-Za-km-z]{32,44})`),
		regexp.MustCompile(`geckoterminal\.com/solana/(?:pools|tokens)/([1-9A-HJ-NP-Za-km-z]{32,44})`),
		regexp.MustCompile(`dexscreener\.com/solana/([1-9A-HJ-NP-Za-km-z]{32,44})`),
	}
)

// Extract returns the first syntactically valid Solana address in text.
// Pure and deterministic: no side effects, never panics on near-matches.
func Extract(text string) (string, bool) {
	addrs := extractAll(text, true)
	if len(addrs) == 0 {
		return "", false
	}
	return addrs[0], true
}

// ExtractAll returns every distinct valid address in text, in order of first
// appearance. URL-embedded addresses are checked before bare matches so a
// pump.fun link wins over an unrelated base58 lookalike.
func ExtractAll(text string) []string {
	return extractAll(text, false)
}

func extractAll(text string, firstOnly bool) []string {
	clean := stripInvisible(text)

	var addrs []string
	seen := make(map[string]bool)

	add := func(candidate string) bool {
		if seen[candidate] || !Valid(candidate) {
			return false
		}
		seen[candidate] = true
		addrs = append(addrs, candidate)
		return firstOnly
	}

	for _, p := range urlPatterns {
		for _, m := range p.FindAllStringSubmatch(clean, -1) {
			if add(m[1]) {
				return addrs
			}
		}
	}

	for _, m := range addressPattern.FindAllString(clean, -1) {
		if add(m) {
			return addrs
		}
	}

	return addrs
}

// Valid reports whether s is a well-formed Solana address: base58 charset
// and decodes to exactly 32 bytes. Wrong length or charset is rejected
// without error.
func Valid(s string) bool {
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	decoded, err := base58.Decode(s)
	if err != nil {
		return false
	}
	return len(decoded) == 32
}

// IsOnCurve reports whether the address decodes to a point on the ed25519
// curve. Wallet addresses are on-curve; mint addresses and other PDAs
// usually are not, so the extractor itself never requires this.
func IsOnCurve(s string) bool {
	decoded, err := base58.Decode(s)
	if err != nil || len(decoded) != 32 {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(decoded)
	return err == nil
}

// stripInvisible removes zero-width and directional marks that chat clients
// sprinkle into message text.
func stripInvisible(text string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200e', '\u200f', '\ufeff':
			return -1
		}
		return r
	}, text)
}
