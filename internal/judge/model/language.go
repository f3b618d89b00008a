package model

import "strings"

// Language is the enumerated programming language of a submission.
type Language string

const (
	LanguagePython     Language = "PYTHON"
	LanguageJavaScript Language = "JAVASCRIPT"
	LanguageTypeScript Language = "TYPESCRIPT"
	LanguageJava       Language = "JAVA"
	LanguageCPP        Language = "CPP"
	LanguageC          Language = "C"
	LanguageGo         Language = "GO"
	LanguageRust       Language = "RUST"
)

var supportedLanguages = map[Language]bool{
	LanguagePython:     true,
	LanguageJavaScript: true,
	LanguageTypeScript: true,
	LanguageJava:       true,
	LanguageCPP:        true,
	LanguageC:          true,
	LanguageGo:         true,
	LanguageRust:       true,
}

// compiledLanguages require a compile phase before execution.
var compiledLanguages = map[Language]bool{
	LanguageTypeScript: true,
	LanguageJava:       true,
	LanguageCPP:        true,
	LanguageC:          true,
	LanguageGo:         true,
	LanguageRust:       true,
}

// ParseLanguage normalizes and validates a language identifier.
func ParseLanguage(s string) (Language, bool) {
	lang := Language(strings.ToUpper(strings.TrimSpace(s)))
	if supportedLanguages[lang] {
		return lang, true
	}
	return "", false
}

// IsSupported reports whether the language is in the supported set.
func (l Language) IsSupported() bool {
	return supportedLanguages[l]
}

// RequiresCompile reports whether the language has a compile phase.
func (l Language) RequiresCompile() bool {
	return compiledLanguages[l]
}
