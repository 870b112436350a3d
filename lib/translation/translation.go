package translation

import (
	"github.com/leonelquinteros/gotext"
)

// GetLanguage reports the active locale, falling back to English when
// none is configured.
func GetLanguage() string {
	lang := gotext.GetLanguage()

	if lang == "und" || lang == "" {
		return "en"
	}

	return lang
}

// Translate resolves a message through the configured locale; an
// untranslated message falls through unchanged.
func Translate(msgID string, vars ...interface{}) string {
	return gotext.Get(msgID, vars...)
}
