package tips

import (
	"strings"
	"unicode"
)

// HISTORY_SIZE is how many recently accepted tips are remembered for
// de-duplication. A repeated tip is accepted again once it has fallen out
// of this window.
const HISTORY_SIZE = 6

// MAX_WORDS caps tip length for the overlay; anything longer gets cut and
// loses a dangling trailing conjunction/preposition/article.
const MAX_WORDS = 12

// forbiddenPrefixes are coaching-voice lead-ins the model keeps producing
// despite prompt instructions. Stripped repeatedly so nested lead-ins
// ("You should consider ...") collapse in one pass.
var forbiddenPrefixes = []string{
	"you said",
	"you should",
	"try to",
	"consider",
}

// danglingWords are awkward tip endings left behind by truncation.
var danglingWords = map[string]struct{}{
	"and": {}, "or": {}, "but": {}, "so": {}, "yet": {}, "nor": {},
	"to": {}, "of": {}, "in": {}, "on": {}, "at": {}, "for": {},
	"with": {}, "about": {}, "the": {}, "a": {}, "an": {},
}

// Sanitizer enforces output-format guarantees the analysis service cannot
// be trusted to uphold. The de-duplication history is owned by the
// instance and scoped to one session; it is not process-wide state.
type Sanitizer struct {
	recent []string
}

// NewSanitizer returns a Sanitizer with an empty history.
func NewSanitizer() *Sanitizer { return &Sanitizer{} }

// Accept cleans a single raw tip text. It returns the sanitized text and
// true when the tip survived, or "" and false when it was empty after
// cleaning or a duplicate of a recently accepted tip. Surviving tips are
// recorded in the history window.
func (s *Sanitizer) Accept(raw string) (string, bool) {
	text := Clean(raw)
	if text == "" {
		return "", false
	}
	norm := normalize(text)
	if norm == "" {
		return "", false
	}
	for _, seen := range s.recent {
		if norm == seen || strings.Contains(seen, norm) || strings.Contains(norm, seen) {
			return "", false
		}
	}
	s.recent = append(s.recent, norm)
	if len(s.recent) > HISTORY_SIZE {
		s.recent = s.recent[len(s.recent)-HISTORY_SIZE:]
	}
	return text, true
}

// Reset clears the de-duplication history at session start.
func (s *Sanitizer) Reset() { s.recent = nil }

// Clean strips forbidden lead-ins, truncates to MAX_WORDS and fixes
// capitalization. It is a pure function and idempotent: cleaning a cleaned
// tip returns it unchanged.
func Clean(raw string) string {
	text := strings.TrimSpace(raw)

	for stripped := true; stripped; {
		stripped = false
		lower := strings.ToLower(text)
		for _, p := range forbiddenPrefixes {
			if strings.HasPrefix(lower, p) {
				rest := text[len(p):]
				// Only treat it as a lead-in when a word boundary follows.
				if rest != "" && !isBoundary(rune(rest[0])) {
					continue
				}
				text = strings.TrimLeft(rest, " ,.:;-")
				stripped = true
				break
			}
		}
	}

	words := strings.Fields(text)
	if len(words) > MAX_WORDS {
		words = words[:MAX_WORDS]
		last := strings.ToLower(strings.TrimRight(words[len(words)-1], ".,;:!?"))
		if _, dangling := danglingWords[last]; dangling {
			words = words[:len(words)-1]
		}
	}
	text = strings.Join(words, " ")
	return capitalize(text)
}

func isBoundary(r rune) bool {
	return unicode.IsSpace(r) || r == ',' || r == '.' || r == ':' || r == ';' || r == '-'
}

func capitalize(s string) string {
	for i, r := range s {
		if unicode.IsLetter(r) {
			return s[:i] + string(unicode.ToUpper(r)) + s[i+len(string(r)):]
		}
		if !unicode.IsSpace(r) {
			break
		}
	}
	return s
}

// normalize lowercases and strips punctuation so near-identical tips
// compare equal.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
