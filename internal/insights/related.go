package insights

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/voxjournal/internal/observe"
	"github.com/MrWong99/voxjournal/pkg/store"
	"github.com/MrWong99/voxjournal/pkg/types"
)

// ErrNoEmbeddings is returned by reflection operations when the service was
// built without an embeddings provider.
var ErrNoEmbeddings = errors.New("insights: no embeddings provider configured")

// ReflectionText renders the text that is embedded for a summary.
func ReflectionText(s types.SessionSummary) string {
	var b strings.Builder
	for _, bullet := range s.Summary {
		b.WriteString(bullet)
		b.WriteByte('\n')
	}
	if s.ToneNote != "" {
		b.WriteString(s.ToneNote)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

// Index embeds the summary of sessionID and stores it as a reflection.
// Summaries without text are skipped.
func (s *Service) Index(ctx context.Context, userID, sessionID string, sum types.SessionSummary) error {
	if s.embedder == nil {
		return ErrNoEmbeddings
	}
	text := ReflectionText(sum)
	if text == "" {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("insights: embed reflection: %w", err)
	}
	err = s.store.IndexReflection(ctx, store.Reflection{
		SessionID: sessionID,
		UserID:    userID,
		Text:      text,
		Model:     s.embedder.ModelID(),
		Embedding: vec,
		CreatedAt: sum.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("insights: index reflection: %w", err)
	}
	return nil
}

// RelatedReflections returns up to k prior reflections of userID most
// similar to text.
func (s *Service) RelatedReflections(ctx context.Context, userID, text string, k int) ([]store.ReflectionMatch, error) {
	if s.embedder == nil {
		return nil, ErrNoEmbeddings
	}
	ctx, span := observe.StartSpan(ctx, "insights.related")
	defer span.End()

	if strings.TrimSpace(text) == "" || k < 1 {
		return nil, nil
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("insights: embed query: %w", err)
	}
	matches, err := s.store.SearchReflections(ctx, userID, s.embedder.ModelID(), vec, k)
	if err != nil {
		return nil, fmt.Errorf("insights: search reflections: %w", err)
	}
	return matches, nil
}

// Embeddings reports whether reflection recall is available.
func (s *Service) Embeddings() bool { return s.embedder != nil }
