package settings

import (
	"strings"

	"golang.org/x/text/language"
)

const defaultLanguage = "en_US"

var (
	supportedLanguages = []string{"en_US", "zh_CN"}
	languageMatcher    = language.NewMatcher([]language.Tag{
		language.AmericanEnglish,
		language.SimplifiedChinese,
	})
)

// NormalizeLanguage maps a locale such as "zh", "zh-Hans" or "en_GB" onto
// one of the UI languages. Unknown locales fall back to en_US.
func NormalizeLanguage(lang string) string {
	lang = strings.TrimSpace(strings.ReplaceAll(lang, "_", "-"))
	if lang == "" {
		return defaultLanguage
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return defaultLanguage
	}
	_, idx, confidence := languageMatcher.Match(tag)
	if confidence == language.No {
		return defaultLanguage
	}
	return supportedLanguages[idx]
}
