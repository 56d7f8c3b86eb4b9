package bypass

import "strings"

type Detector struct {
	phrase string
}

func NewDetector(phrase string) *Detector {
	return &Detector{phrase: phrase}
}

func (d *Detector) Phrase() string {
	return d.phrase
}

// Matches reports whether input contains the configured phrase.
// The match is case-sensitive and an empty phrase never matches.
func (d *Detector) Matches(input string) bool {
	if d.phrase == "" {
		return false
	}
	return strings.Contains(input, d.phrase)
}
