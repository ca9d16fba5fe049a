// Package sanitize cleans free text supplied by callers before it is stored.
package sanitize

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// Text strips all markup from s, trims it and cuts it to at most maxRunes
// runes. A maxRunes of zero means no limit.
func Text(s string, maxRunes int) string {
	cleaned := strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
	if maxRunes > 0 && utf8.RuneCountInString(cleaned) > maxRunes {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:maxRunes]))
	}
	return cleaned
}
