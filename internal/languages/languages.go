// Package languages holds the table of supported languages and the
// vendor-specific codes each external engine expects for them.
package languages

import (
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// Code is the short language code used on the wire and in storage ("en", "es", ...).
type Code string

type Config struct {
	Code       Code   `json:"code"`
	Name       string `json:"name"`
	NativeName string `json:"nativeName"`

	// vendor codes, not exposed to clients
	DeepgramCode    string `json:"-"`
	DeepLSourceCode string `json:"-"`
	DeepLTargetCode string `json:"-"`
	TTSLocale       string `json:"-"`
	TTSVoice        string `json:"-"`
}

var supported = map[Code]Config{
	"en": {Code: "en", Name: "English", NativeName: "English", DeepgramCode: "en", DeepLSourceCode: "EN", DeepLTargetCode: "EN-US", TTSLocale: "en-US", TTSVoice: "en-US-Neural2-C"},
	"es": {Code: "es", Name: "Spanish", NativeName: "Español", DeepgramCode: "es", DeepLSourceCode: "ES", DeepLTargetCode: "ES", TTSLocale: "es-ES", TTSVoice: "es-ES-Neural2-A"},
	"zh": {Code: "zh", Name: "Chinese", NativeName: "中文", DeepgramCode: "zh", DeepLSourceCode: "ZH", DeepLTargetCode: "ZH", TTSLocale: "cmn-CN", TTSVoice: "cmn-CN-Neural2-A"},
	"fr": {Code: "fr", Name: "French", NativeName: "Français", DeepgramCode: "fr", DeepLSourceCode: "FR", DeepLTargetCode: "FR", TTSLocale: "fr-FR", TTSVoice: "fr-FR-Neural2-A"},
	"de": {Code: "de", Name: "German", NativeName: "Deutsch", DeepgramCode: "de", DeepLSourceCode: "DE", DeepLTargetCode: "DE", TTSLocale: "de-DE", TTSVoice: "de-DE-Neural2-A"},
	"da": {Code: "da", Name: "Danish", NativeName: "Dansk", DeepgramCode: "da", DeepLSourceCode: "DA", DeepLTargetCode: "DA", TTSLocale: "da-DK", TTSVoice: "da-DK-Neural2-D"},
	"it": {Code: "it", Name: "Italian", NativeName: "Italiano", DeepgramCode: "it", DeepLSourceCode: "IT", DeepLTargetCode: "IT", TTSLocale: "it-IT", TTSVoice: "it-IT-Neural2-A"},
	"vi": {Code: "vi", Name: "Vietnamese", NativeName: "Tiếng Việt", DeepgramCode: "vi", DeepLSourceCode: "VI", DeepLTargetCode: "VI", TTSLocale: "vi-VN", TTSVoice: "vi-VN-Neural2-A"},
	"ja": {Code: "ja", Name: "Japanese", NativeName: "日本語", DeepgramCode: "ja", DeepLSourceCode: "JA", DeepLTargetCode: "JA", TTSLocale: "ja-JP", TTSVoice: "ja-JP-Neural2-B"},
	"pt": {Code: "pt", Name: "Portuguese", NativeName: "Português", DeepgramCode: "pt-BR", DeepLSourceCode: "PT", DeepLTargetCode: "PT-BR", TTSLocale: "pt-BR", TTSVoice: "pt-BR-Neural2-A"},
	"ru": {Code: "ru", Name: "Russian", NativeName: "Русский", DeepgramCode: "ru", DeepLSourceCode: "RU", DeepLTargetCode: "RU", TTSLocale: "ru-RU", TTSVoice: "ru-RU-Wavenet-A"},
	"ko": {Code: "ko", Name: "Korean", NativeName: "한국어", DeepgramCode: "ko", DeepLSourceCode: "KO", DeepLTargetCode: "KO", TTSLocale: "ko-KR", TTSVoice: "ko-KR-Neural2-A"},
	"ar": {Code: "ar", Name: "Arabic", NativeName: "العربية", DeepgramCode: "ar", DeepLSourceCode: "AR", DeepLTargetCode: "AR", TTSLocale: "ar-XA", TTSVoice: "ar-XA-Wavenet-A"},
}

// Parse normalizes a client supplied tag ("EN", "pt-BR", "es_419") to a
// supported Code. The second result is false for anything outside the table.
func Parse(s string) (Code, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	tag, err := language.Parse(strings.ReplaceAll(s, "_", "-"))
	if err != nil {
		return "", false
	}
	base, _ := tag.Base()
	c := Code(base.String())
	if _, ok := supported[c]; !ok {
		return "", false
	}
	return c, true
}

func Valid(c Code) bool {
	_, ok := supported[c]
	return ok
}

// Lookup returns the vendor table for c. Unknown codes fall back to English so
// adapters never have to handle a missing entry.
func Lookup(c Code) Config {
	if cfg, ok := supported[c]; ok {
		return cfg
	}
	return supported["en"]
}

// All returns the table sorted by code, for UI dropdowns.
func All() []Config {
	out := make([]Config, 0, len(supported))
	for _, cfg := range supported {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Direction renders the legacy "es-to-en" form of a language pair.
func Direction(source, target Code) string {
	return string(source) + "-to-" + string(target)
}

// FromDirection is the inverse of Direction.
func FromDirection(dir string) (source, target Code, ok bool) {
	src, tgt, found := strings.Cut(dir, "-to-")
	if !found {
		return "", "", false
	}
	source, ok1 := Parse(src)
	target, ok2 := Parse(tgt)
	if !ok1 || !ok2 {
		return "", "", false
	}
	return source, target, true
}
