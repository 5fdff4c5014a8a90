package summary

import (
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/voxjournal/internal/session"
	"github.com/MrWong99/voxjournal/pkg/types"
)

// DefaultChunkBudget is the default rendered character budget of a chunk.
const DefaultChunkBudget = 8000

// TranscriptChunk is a contiguous run of turns.
type TranscriptChunk struct {
	Turns []types.Turn

	// Len is the rendered length in characters.
	Len int
}

// Text renders the chunk the way it is sent to the model.
func (c TranscriptChunk) Text(labels session.Labels) string {
	var b strings.Builder
	for _, t := range c.Turns {
		b.WriteString(labels.Line(t))
	}
	return b.String()
}

// Chunk greedily packs turns into chunks whose rendered length is at most
// budget. A turn longer than the budget occupies a chunk of its own and is
// never split. At least one chunk is returned, even for no turns. A budget
// below 1 selects [DefaultChunkBudget].
func Chunk(turns []types.Turn, budget int, labels session.Labels) []TranscriptChunk {
	if budget < 1 {
		budget = DefaultChunkBudget
	}
	var chunks []TranscriptChunk
	var cur TranscriptChunk
	for _, t := range turns {
		n := utf8.RuneCountInString(labels.Line(t))
		if len(cur.Turns) > 0 && cur.Len+n > budget {
			chunks = append(chunks, cur)
			cur = TranscriptChunk{}
		}
		cur.Turns = append(cur.Turns, t)
		cur.Len += n
	}
	if len(cur.Turns) > 0 || len(chunks) == 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}
