package summary

import (
	"regexp"
	"strings"
)

var (
	gratitudePattern = regexp.MustCompile(`(?i)\b(grateful|gratitude|thank you|thanks|thankful|appreciate|appreciation)\b`)
	negationPattern  = regexp.MustCompile(`(?i)\b(not|nothing|don['’]t|didn['’]t|isn['’]t|ain['’]t)\b`)
)

// GratitudeGuard counts gratitude expressions in the user's lines of a
// rendered transcript. It corrects models that undercount them.
//
// A negation anywhere on a line removes one match from that line. This is a
// same-line heuristic, not negation scope analysis.
type GratitudeGuard struct {
	// AssistantLabel marks lines that are skipped. Empty means "Assistant".
	AssistantLabel string
}

// Count returns the heuristic gratitude count of text.
func (g GratitudeGuard) Count(text string) int {
	label := g.AssistantLabel
	if label == "" {
		label = "Assistant"
	}
	prefix := label + ":"

	total := 0
	for line := range strings.SplitSeq(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), prefix) {
			continue
		}
		n := len(gratitudePattern.FindAllStringIndex(line, -1))
		if n > 0 && negationPattern.MatchString(line) {
			n--
		}
		total += n
	}
	return total
}

// Reconcile returns max(model, Count(text)). The guard only ever raises the
// model's count.
func (g GratitudeGuard) Reconcile(model int, text string) int {
	return max(model, g.Count(text))
}
