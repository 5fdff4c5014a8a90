package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrWong99/voxjournal/internal/observe"
	"github.com/MrWong99/voxjournal/internal/summary"
	"github.com/MrWong99/voxjournal/pkg/store"
	"github.com/MrWong99/voxjournal/pkg/types"
)

type recommendationResponse struct {
	Recommendation string `json:"recommendation"`
}

func (r *recommendationResponse) Validate() error {
	r.Recommendation = strings.TrimSpace(r.Recommendation)
	if r.Recommendation == "" {
		return errors.New("empty recommendation")
	}
	return nil
}

type recommendationInput struct {
	Sessions       []sessionInput `json:"sessions"`
	TopTone        types.Tone     `json:"topTone,omitempty"`
	GratitudeTotal int            `json:"gratitudeTotal"`
}

// Recommendation returns a suggestion for userID built from the summaries of
// the last rangeDays days, their gratitude total and their most frequent
// tone. No summaries in the window yields "" without a request. Model
// failures are returned.
func (s *Service) Recommendation(ctx context.Context, userID string, rangeDays int) (string, error) {
	ctx, span := observe.StartSpan(ctx, "insights.recommendation")
	defer span.End()

	recs, err := s.window(ctx, userID, rangeDays)
	if err != nil || len(recs) == 0 {
		return "", err
	}

	in := recommendationInput{Sessions: sessionInputs(recs), TopTone: topTone(recs)}
	for _, r := range recs {
		in.GratitudeTotal += r.Summary.GratitudeMentions
	}

	key := store.CacheKey{UserID: userID, RangeDays: rangeDays, Kind: store.KindRecommendation}
	parts := append(inputParts(store.KindRecommendation, rangeDays, recs), strconv.Itoa(in.GratitudeTotal), string(in.TopTone))
	resp, err := cached(ctx, s, key, summary.ComputeDigest(parts...), func(ctx context.Context) (recommendationResponse, error) {
		body, err := json.Marshal(in)
		if err != nil {
			return recommendationResponse{}, fmt.Errorf("insights: recommendation input: %w", err)
		}
		var resp recommendationResponse
		if err := s.extractor.Extract(ctx, recommendationSystemPrompt, string(body), &resp); err != nil {
			return recommendationResponse{}, fmt.Errorf("insights: recommendation: %w", err)
		}
		return resp, nil
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return resp.Recommendation, nil
}

func digestOf(kind store.Kind, days int, recs []store.SummaryRecord) string {
	return summary.ComputeDigest(inputParts(kind, days, recs)...)
}
