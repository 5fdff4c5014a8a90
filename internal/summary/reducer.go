package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/voxjournal/internal/observe"
	"github.com/MrWong99/voxjournal/pkg/types"
)

type reduceResponse struct {
	Summary []string `json:"summary"`
}

func (r *reduceResponse) Validate() error {
	r.Summary = LocalDedupe(r.Summary)
	if len(r.Summary) == 0 {
		return errors.New("no bullets")
	}
	return nil
}

// Reducer merges chunk bullets into the session bullet list.
type Reducer struct {
	extractor Extractor
}

// NewReducer creates a Reducer.
func NewReducer(e Extractor) *Reducer { return &Reducer{extractor: e} }

// Reduce returns between one and [types.MaxSummaryBullets] deduplicated
// bullets covering every chunk. If the model request fails the bullets are
// deduplicated locally. No chunk bullets yields nil.
func (r *Reducer) Reduce(ctx context.Context, results []ChunkResult) []string {
	var all []string
	for _, res := range results {
		all = append(all, res.Bullets...)
	}
	if len(all) == 0 {
		return nil
	}
	if len(all) == 1 {
		return LocalDedupe(all)
	}

	var b strings.Builder
	for _, s := range all {
		fmt.Fprintf(&b, "- %s\n", s)
	}
	var resp reduceResponse
	if err := r.extractor.Extract(ctx, reduceSystemPrompt, b.String(), &resp); err != nil {
		observe.Logger(ctx).Warn("summary: reduce failed, using local dedupe", "err", err)
		return LocalDedupe(all)
	}
	return resp.Summary
}

// LocalDedupe keeps the first occurrence of every bullet by normalised form
// (trimmed, whitespace collapsed, lower-cased), in order, and caps the list
// at [types.MaxSummaryBullets]. Kept bullets are trimmed.
func LocalDedupe(bullets []string) []string {
	seen := make(map[string]struct{}, len(bullets))
	out := make([]string, 0, min(len(bullets), types.MaxSummaryBullets))
	for _, b := range bullets {
		key := normalize(b)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(b))
		if len(out) == types.MaxSummaryBullets {
			break
		}
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
