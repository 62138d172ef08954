package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

var leadingIntRegex = regexp.MustCompile(`\d+`)

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

// ParseCount reads a bedroom or bathroom count. Anything missing,
// unparsable or below one comes back as 1.
func ParseCount(text string) int {
	if m := leadingIntRegex.FindString(text); m != "" {
		if n, err := strconv.Atoi(m); err == nil && n >= 1 {
			return n
		}
		return 1
	}
	for _, word := range strings.Fields(strings.ToLower(text)) {
		if n, ok := numberWords[strings.Trim(word, ".,-")]; ok {
			return n
		}
	}
	return 1
}
