package utils

import (
	"golang.org/x/text/language"
)

// DefaultLocale is used when neither the query nor the header names a
// supported language.
const DefaultLocale = "en"

var (
	supportedLocales = []string{"en", "zh"}
	localeMatcher    = language.NewMatcher([]language.Tag{language.English, language.Chinese})
)

// SupportedLocales lists the locales with server-side messages.
func SupportedLocales() []string {
	return append([]string(nil), supportedLocales...)
}

// DetermineLocale resolves a locale from an explicit query param, falling back
// to the Accept-Language header and then DefaultLocale.
func DetermineLocale(queryLang, acceptLang string) string {
	if queryLang != "" {
		if tag, err := language.Parse(queryLang); err == nil {
			if l, ok := match(tag); ok {
				return l
			}
		}
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLang)
	if err != nil || len(tags) == 0 {
		return DefaultLocale
	}
	if l, ok := match(tags...); ok {
		return l
	}
	return DefaultLocale
}

func match(tags ...language.Tag) (string, bool) {
	_, idx, conf := localeMatcher.Match(tags...)
	if conf == language.No || idx < 0 || idx >= len(supportedLocales) {
		return "", false
	}
	return supportedLocales[idx], true
}
