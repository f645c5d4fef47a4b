package abuse

import (
	"regexp"
	"strings"
)

// Severity classifies how serious a single violation is, driving both the
// trust-score penalty and the mute-escalation rule.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// trustPenalty returns how much a single violation of this severity
// subtracts from trust (spec §4.8).
func (s Severity) trustPenalty() float64 {
	switch s {
	case SeverityLow:
		return 0.05
	case SeverityMedium:
		return 0.10
	case SeverityHigh:
		return 0.20
	case SeverityCritical:
		return 0.40
	default:
		return 0
	}
}

// Pattern is one content heuristic: a regex, or a match function where RE2
// cannot express the check, with an associated severity.
type Pattern struct {
	Name     string
	Re       *regexp.Regexp
	Match    func(string) bool // used instead of Re when non-nil
	Severity Severity
}

// defaultPatterns is a representative content heuristic list; an
// operator is expected to extend it with the patterns their own abuse
// reports surface.
var defaultPatterns = []Pattern{
	{Name: "excessive-caps", Re: regexp.MustCompile(`^[^a-z]{20,}$`), Severity: SeverityLow},
	{Name: "char-flood", Match: hasCharFlood, Severity: SeverityMedium},
	{Name: "url-flood", Re: regexp.MustCompile(`(?:https?://\S+\s*){3,}`), Severity: SeverityHigh},
	{Name: "zero-width-flood", Re: regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}]{5,}`), Severity: SeverityCritical},
}

// scorePatterns returns the highest severity among the patterns that
// match content, and whether any matched.
func scorePatterns(patterns []Pattern, content string) (Severity, bool) {
	var worst Severity
	matched := false
	for _, p := range patterns {
		if (p.Match != nil && p.Match(content)) || (p.Match == nil && p.Re.MatchString(content)) {
			matched = true
			if p.Severity > worst {
				worst = p.Severity
			}
		}
	}
	return worst, matched
}

// hasCharFlood reports a run of ten or more of the same character.
func hasCharFlood(content string) bool {
	run, prev := 0, rune(-1)
	for _, r := range content {
		if r != prev {
			run, prev = 0, r
		}
		if run++; run >= 10 {
			return true
		}
	}
	return false
}

// qualityScore estimates "is this plausible human text", combining
// character variety, word variety, and special-character ratio, for
// messages long enough to be meaningfully assessed (spec §4.8: "messages
// longer than 20 bytes"). Returns a value in [0,1] where lower is more
// suspicious.
func qualityScore(content string) float64 {
	if len(content) <= 20 {
		return 1
	}

	runes := []rune(content)
	charSet := make(map[rune]struct{}, len(runes))
	special := 0
	for _, r := range runes {
		charSet[r] = struct{}{}
		if !isAlnumOrSpace(r) {
			special++
		}
	}
	charVariety := float64(len(charSet)) / float64(len(runes))

	words := strings.Fields(content)
	wordSet := make(map[string]struct{}, len(words))
	for _, w := range words {
		wordSet[strings.ToLower(w)] = struct{}{}
	}
	wordVariety := 1.0
	if len(words) > 0 {
		wordVariety = float64(len(wordSet)) / float64(len(words))
	}

	specialRatio := float64(special) / float64(len(runes))
	specialPenalty := 1.0
	if specialRatio > 0.3 {
		specialPenalty = 1 - (specialRatio - 0.3)
		if specialPenalty < 0 {
			specialPenalty = 0
		}
	}

	score := (charVariety + wordVariety + specialPenalty) / 3
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

func isAlnumOrSpace(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == ' ':
		return true
	default:
		return false
	}
}

// jaccardWordSimilarity computes word-set Jaccard similarity between two
// messages, used for near-duplicate detection (spec §4.8: "Jaccard word
// similarity > 0.8").
func jaccardWordSimilarity(a, b string) float64 {
	wa := wordSet(a)
	wb := wordSet(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 1
	}
	intersection := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			intersection++
		}
	}
	union := len(wa) + len(wb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}
