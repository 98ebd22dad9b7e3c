package upload

import (
	"regexp"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var unsafeRun = regexp.MustCompile(`[^0-9A-Za-z.\-_]+`)

// SanitizeName decomposes name (NFKD), drops combining marks and
// collapses every run of characters outside [0-9A-Za-z.-_] into "_".
// Applying it twice gives the same result as applying it once.
func SanitizeName(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.M)))
	stripped, _, err := transform.String(t, name)
	if err != nil {
		stripped = name
	}
	return unsafeRun.ReplaceAllString(stripped, "_")
}
