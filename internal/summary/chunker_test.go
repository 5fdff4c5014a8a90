package summary

import (
	"reflect"
	"strings"
	"testing"

	"github.com/MrWong99/voxjournal/internal/session"
	"github.com/MrWong99/voxjournal/pkg/types"
)

func user(text string) types.Turn { return types.Turn{Speaker: types.SpeakerUser, Text: text} }
func asst(text string) types.Turn { return types.Turn{Speaker: types.SpeakerAssistant, Text: text} }

func TestChunk_CoverageAndBound(t *testing.T) {
	t.Parallel()

	turns := []types.Turn{
		user("I woke up early"), asst("How did that feel?"),
		user("Calm, honestly. I made tea."), asst("That sounds peaceful."),
		user(strings.Repeat("long ", 30)), asst("Tell me more."),
	}
	for _, budget := range []int{1, 10, 40, 80, 200, 100000} {
		chunks := Chunk(turns, budget, session.Labels{})

		var got []types.Turn
		for _, c := range chunks {
			got = append(got, c.Turns...)
			if c.Len > budget && len(c.Turns) != 1 {
				t.Errorf("budget %d: chunk of %d turns has length %d", budget, len(c.Turns), c.Len)
			}
			if c.Len != len(c.Text(session.Labels{})) {
				t.Errorf("budget %d: Len %d != rendered %d", budget, c.Len, len(c.Text(session.Labels{})))
			}
		}
		if !reflect.DeepEqual(got, turns) {
			t.Errorf("budget %d: chunks do not reproduce the transcript", budget)
		}
	}
}

func TestChunk_OversizedTurnStaysWhole(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 20000-len("User: \n"))
	chunks := Chunk([]types.Turn{user(long)}, 8000, session.Labels{})
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if chunks[0].Len != 20000 || len(chunks[0].Turns) != 1 || chunks[0].Turns[0].Text != long {
		t.Errorf("chunk = len %d, %d turns", chunks[0].Len, len(chunks[0].Turns))
	}
}

func TestChunk_AlwaysOneChunk(t *testing.T) {
	t.Parallel()

	if got := Chunk(nil, 8000, session.Labels{}); len(got) != 1 || len(got[0].Turns) != 0 {
		t.Errorf("Chunk(nil) = %+v, want one empty chunk", got)
	}
	if got := Chunk([]types.Turn{user("hi")}, 0, session.Labels{}); len(got) != 1 {
		t.Errorf("Chunk(short) = %d chunks, want 1", len(got))
	}
}

func TestChunk_PacksGreedily(t *testing.T) {
	t.Parallel()

	// Each line "User: abcd\n" is 11 characters.
	turns := []types.Turn{user("abcd"), user("abcd"), user("abcd")}
	chunks := Chunk(turns, 22, session.Labels{})
	if len(chunks) != 2 || len(chunks[0].Turns) != 2 || len(chunks[1].Turns) != 1 {
		t.Errorf("chunks = %+v, want sizes 2 and 1", chunks)
	}
}
