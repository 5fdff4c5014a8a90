package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/voxjournal/internal/observe"
	"github.com/MrWong99/voxjournal/pkg/store"
	"github.com/MrWong99/voxjournal/pkg/types"
)

const maxRepeatedWords = 5

type languageResponse types.LanguagePatterns

func (l *languageResponse) Validate() error {
	l.RepeatedWords = mergeWords(l.RepeatedWords)
	l.ThinkingStyle = strings.TrimSpace(l.ThinkingStyle)
	l.EmotionalIndicators = strings.TrimSpace(l.EmotionalIndicators)
	if types.LanguagePatterns(*l).IsZero() {
		return errors.New("no language signal")
	}
	return nil
}

type sessionInput struct {
	Bullets  []string                `json:"bullets"`
	Tone     types.Tone              `json:"tone,omitempty"`
	Language *types.LanguagePatterns `json:"language,omitempty"`
}

func sessionInputs(recs []store.SummaryRecord) []sessionInput {
	out := make([]sessionInput, len(recs))
	for i, r := range recs {
		out[i] = sessionInput{Bullets: r.Summary.Summary, Tone: r.Summary.Tone, Language: r.Summary.Language}
	}
	return out
}

// LanguagePatterns returns the language patterns of userID over the last
// rangeDays days. No summaries in the window yields the zero value without
// a request. When the model request fails the per-session signals are merged
// locally; that result is not cached.
func (s *Service) LanguagePatterns(ctx context.Context, userID string, rangeDays int) (types.LanguagePatterns, error) {
	ctx, span := observe.StartSpan(ctx, "insights.language_patterns")
	defer span.End()

	recs, err := s.window(ctx, userID, rangeDays)
	if err != nil || len(recs) == 0 {
		return types.LanguagePatterns{}, err
	}

	key := store.CacheKey{UserID: userID, RangeDays: rangeDays, Kind: store.KindLanguagePatterns}
	digest := digestOf(store.KindLanguagePatterns, rangeDays, recs)
	lp, err := cached(ctx, s, key, digest, func(ctx context.Context) (types.LanguagePatterns, error) {
		in, err := json.Marshal(sessionInputs(recs))
		if err != nil {
			return types.LanguagePatterns{}, fmt.Errorf("insights: language input: %w", err)
		}
		var resp languageResponse
		if err := s.extractor.Extract(ctx, languageSystemPrompt, string(in), &resp); err != nil {
			return types.LanguagePatterns{}, err
		}
		return types.LanguagePatterns(resp), nil
	})
	if err != nil {
		observe.Logger(ctx).Warn("insights: using local language patterns", "err", err)
		span.RecordError(err)
		return localLanguage(recs), nil
	}
	return lp, nil
}

// localLanguage merges the stored per-session signals: words in order of
// first use, and the most recent style and indicators.
func localLanguage(recs []store.SummaryRecord) types.LanguagePatterns {
	var out types.LanguagePatterns
	var words []string
	for _, r := range recs {
		l := r.Summary.Language
		if l == nil {
			continue
		}
		words = append(words, l.RepeatedWords...)
		if l.ThinkingStyle != "" {
			out.ThinkingStyle = l.ThinkingStyle
		}
		if l.EmotionalIndicators != "" {
			out.EmotionalIndicators = l.EmotionalIndicators
		}
	}
	out.RepeatedWords = mergeWords(words)
	return out
}

func mergeWords(words []string) []string {
	seen := make(map[string]struct{}, len(words))
	var out []string
	for _, w := range words {
		w = strings.TrimSpace(w)
		key := strings.ToLower(w)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, w)
		if len(out) == maxRepeatedWords {
			break
		}
	}
	return out
}
