package escalate

import (
	"regexp"
	"strings"
)

// ExtractorFunc pulls a slot value out of a raw user message. Locale or
// channel specific heuristics can be swapped without touching the machine.
type ExtractorFunc func(message string) (value string, ok bool)

// Extractors holds one extractor per slot.
type Extractors struct {
	Name     ExtractorFunc
	Phone    ExtractorFunc
	Question ExtractorFunc
}

var (
	namePattern  = regexp.MustCompile(`^\p{L}+(?:[ ]\p{L}+){0,2}$`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s\-()]{6,}\d`)
)

// DefaultExtractors returns the stock heuristics: a name is a short
// all-letter message, a phone is a local or international digit run, and a
// question is any non-trivial text.
func DefaultExtractors() Extractors {
	return Extractors{
		Name:     extractName,
		Phone:    extractPhone,
		Question: extractQuestion,
	}
}

func extractName(message string) (string, bool) {
	msg := strings.TrimSpace(message)
	if msg == "" || !namePattern.MatchString(msg) {
		return "", false
	}
	return msg, true
}

func extractPhone(message string) (string, bool) {
	match := phonePattern.FindString(message)
	if match == "" {
		return "", false
	}
	return strings.Join(strings.Fields(match), ""), true
}

func extractQuestion(message string) (string, bool) {
	msg := strings.TrimSpace(message)
	if len([]rune(msg)) < 4 {
		return "", false
	}
	return msg, true
}
