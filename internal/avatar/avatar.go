// Package avatar holds the enumerations and set rules of an avatar profile.
package avatar

import (
	"strings"
)

const (
	MinPersonaTags = 5
	MaxPersonaTags = 25
)

var languages = []string{
	"English",
	"Korean",
	"Japanese",
	"Chinese",
	"Spanish",
	"French",
	"German",
	"Portuguese",
	"Italian",
	"Russian",
	"Arabic",
	"Hindi",
	"Vietnamese",
	"Thai",
	"Indonesian",
}

var mbtiTypes = []string{
	"INTJ", "INTP", "ENTJ", "ENTP",
	"INFJ", "INFP", "ENFJ", "ENFP",
	"ISTJ", "ISFJ", "ESTJ", "ESFJ",
	"ISTP", "ISFP", "ESTP", "ESFP",
}

// Languages returns the supported languages in display order.
func Languages() []string {
	return append([]string(nil), languages...)
}

// MBTITypes returns the sixteen MBTI codes.
func MBTITypes() []string {
	return append([]string(nil), mbtiTypes...)
}

// NormalizeLanguage returns the canonical spelling of a supported language,
// or "" if the language is not supported.
func NormalizeLanguage(value string) string {
	trimmed := strings.TrimSpace(value)
	for _, lang := range languages {
		if strings.EqualFold(lang, trimmed) {
			return lang
		}
	}
	return ""
}

// NormalizeMBTI upper-cases a code and returns "" for anything that is not
// one of the sixteen types.
func NormalizeMBTI(value string) string {
	code := strings.ToUpper(strings.TrimSpace(value))
	for _, t := range mbtiTypes {
		if t == code {
			return t
		}
	}
	return ""
}

// NormalizeTag trims a persona tag and strips a leading '#'.
func NormalizeTag(tag string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
}

// ContainsFold reports whether values contains target, ignoring case.
func ContainsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}

// RemoveFold returns values without any entry equal to target, ignoring case.
func RemoveFold(values []string, target string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !strings.EqualFold(v, target) {
			out = append(out, v)
		}
	}
	return out
}

// SecondaryLanguages normalizes a secondary language list: unsupported and
// duplicate entries are dropped, and the primary language is never included.
func SecondaryLanguages(primary string, values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		lang := NormalizeLanguage(v)
		if lang == "" || strings.EqualFold(lang, primary) || ContainsFold(out, lang) {
			continue
		}
		out = append(out, lang)
	}
	return out
}

// PersonaTags normalizes a tag list into a set, keeping first-seen order and
// truncating at MaxPersonaTags.
func PersonaTags(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		tag := NormalizeTag(v)
		if tag == "" || ContainsFold(out, tag) {
			continue
		}
		if len(out) == MaxPersonaTags {
			break
		}
		out = append(out, tag)
	}
	return out
}
