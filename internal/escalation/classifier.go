package escalation

import "strings"

// DefaultUnhelpfulPhrases are the substrings that mark a reply as a non-answer.
var DefaultUnhelpfulPhrases = []string{"don't understand", "not sure", "sorry"}

// Classifier decides whether a finalized assistant reply was unhelpful.
type Classifier interface {
	Unhelpful(text string) bool
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(text string) bool

func (f ClassifierFunc) Unhelpful(text string) bool { return f(text) }

// PhraseClassifier flags replies containing any configured phrase,
// case-insensitively and anywhere in the text.
type PhraseClassifier struct {
	phrases []string
}

// NewPhraseClassifier lower-cases and de-blanks phrases. An empty list falls
// back to DefaultUnhelpfulPhrases.
func NewPhraseClassifier(phrases []string) *PhraseClassifier {
	var clean []string
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			clean = append(clean, p)
		}
	}
	if len(clean) == 0 {
		clean = append(clean, DefaultUnhelpfulPhrases...)
	}
	return &PhraseClassifier{phrases: clean}
}

func (c *PhraseClassifier) Unhelpful(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range c.phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Phrases returns a copy of the active phrase list.
func (c *PhraseClassifier) Phrases() []string {
	return append([]string(nil), c.phrases...)
}
