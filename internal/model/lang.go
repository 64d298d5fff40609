package model

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// langAliases covers codes used by providers that are not BCP 47.
var langAliases = map[string]string{
	"jp": "ja",
	"cn": "zh",
}

// ParseLang resolves a provider language code to a language tag.
func ParseLang(lang string) (language.Tag, error) {
	code := strings.ToLower(strings.TrimSpace(lang))
	if code == "" {
		return language.Und, fmt.Errorf("language is empty")
	}
	if alias, ok := langAliases[code]; ok {
		code = alias
	}
	tag, err := language.Parse(code)
	if err != nil {
		return language.Und, fmt.Errorf("invalid language %q: %w", lang, err)
	}
	return tag, nil
}

// SameLang reports whether two provider codes denote the same base language.
func SameLang(a, b string) bool {
	ta, errA := ParseLang(a)
	tb, errB := ParseLang(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(a, b)
	}
	ba, _ := ta.Base()
	bb, _ := tb.Base()
	return ba == bb
}
