package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/voxjournal/pkg/types"
)

// FinalSignals is the session-wide structured extraction.
type FinalSignals struct {
	Tone              types.Tone              `json:"tone"`
	SupportingTones   []string                `json:"supportingTones"`
	ToneNote          string                  `json:"toneNote"`
	Language          *types.LanguagePatterns `json:"language"`
	Recommendation    string                  `json:"recommendation"`
	GratitudeMentions int                     `json:"gratitudeMentions"`
}

func (f *FinalSignals) Validate() error {
	tone, ok := types.ParseTone(string(f.Tone))
	if !ok {
		return errors.New("unknown tone " + string(f.Tone))
	}
	if f.GratitudeMentions < 0 {
		return errors.New("negative gratitude count")
	}
	f.Tone = tone

	var supporting []string
	for _, s := range f.SupportingTones {
		if t, ok := types.ParseTone(s); ok && t != tone {
			supporting = append(supporting, string(t))
		}
	}
	f.SupportingTones = supporting
	f.ToneNote = strings.TrimSpace(f.ToneNote)
	f.Recommendation = strings.TrimSpace(f.Recommendation)
	if f.Language != nil {
		f.Language.RepeatedWords = cleanList(f.Language.RepeatedWords, maxRepeatedWords)
		if f.Language.IsZero() {
			f.Language = nil
		}
	}
	return nil
}

type finalInput struct {
	Bullets []string      `json:"bullets"`
	Parts   []ChunkResult `json:"parts"`
}

func extractFinal(ctx context.Context, e Extractor, bullets []string, results []ChunkResult) (FinalSignals, error) {
	in, err := json.Marshal(finalInput{Bullets: bullets, Parts: nonZero(results)})
	if err != nil {
		return FinalSignals{}, fmt.Errorf("summary: final input: %w", err)
	}
	var f FinalSignals
	if err := e.Extract(ctx, finalSystemPrompt, string(in), &f); err != nil {
		return FinalSignals{}, fmt.Errorf("summary: final extraction: %w", err)
	}
	return f, nil
}

// LocalFinal derives the session signals from chunk results alone: the most
// frequent chunk tone (Reflective when none), the summed gratitude count and
// the merged language signals.
func LocalFinal(results []ChunkResult) FinalSignals {
	counts := make(map[types.Tone]int)
	var order []types.Tone
	gratitude := 0
	var lang types.LanguagePatterns
	var words []string
	for _, r := range results {
		gratitude += r.GratitudeMentions
		if r.Tone != "" {
			if counts[r.Tone] == 0 {
				order = append(order, r.Tone)
			}
			counts[r.Tone]++
		}
		words = append(words, r.Language.RepeatedWords...)
		if lang.ThinkingStyle == "" {
			lang.ThinkingStyle = r.Language.ThinkingStyle
		}
		if lang.EmotionalIndicators == "" {
			lang.EmotionalIndicators = r.Language.EmotionalIndicators
		}
	}

	f := FinalSignals{Tone: types.ToneReflective, GratitudeMentions: gratitude}
	best := 0
	for _, t := range order {
		if counts[t] > best {
			f.Tone, best = t, counts[t]
		}
	}
	for _, t := range order {
		if t != f.Tone {
			f.SupportingTones = append(f.SupportingTones, string(t))
		}
	}
	lang.RepeatedWords = dedupeWords(words, maxRepeatedWords)
	if !lang.IsZero() {
		f.Language = &lang
	}
	return f
}

func dedupeWords(words []string, limit int) []string {
	seen := make(map[string]struct{}, len(words))
	var out []string
	for _, w := range words {
		key := strings.ToLower(strings.TrimSpace(w))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(w))
		if len(out) == limit {
			break
		}
	}
	return out
}

func nonZero(results []ChunkResult) []ChunkResult {
	out := make([]ChunkResult, 0, len(results))
	for _, r := range results {
		if !r.IsZero() {
			out = append(out, r)
		}
	}
	return out
}
