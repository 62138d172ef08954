package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	streetReplacements = map[string]string{
		"street":    "st",
		"road":      "rd",
		"avenue":    "ave",
		"lane":      "ln",
		"drive":     "dr",
		"place":     "pl",
		"terrace":   "ter",
		"crescent":  "cres",
		"gardens":   "gdns",
		"grove":     "gr",
		"square":    "sq",
		"court":     "ct",
		"close":     "cl",
		"mews":      "mews",
		"north":     "n",
		"south":     "s",
		"east":      "e",
		"west":      "w",
		"apartment": "flat",
		"apt":       "flat",
	}
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonAlnumRegex   = regexp.MustCompile(`[^a-z0-9\s]`)
)

// Fingerprint keys a listing by (title, location) for sources that carry no URL
func Fingerprint(title, location string) string {
	input := NormalizeAddress(title) + "|" + NormalizeAddress(location)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}

// NormalizeAddress lowercases, strips punctuation and abbreviates UK street words
func NormalizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	addr = nonAlnumRegex.ReplaceAllString(addr, " ")
	words := strings.Fields(addr)
	for i, w := range words {
		if abbrev, ok := streetReplacements[w]; ok {
			words[i] = abbrev
		}
	}
	return multiSpaceRegex.ReplaceAllString(strings.Join(words, " "), " ")
}
