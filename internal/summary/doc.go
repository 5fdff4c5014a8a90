// Package summary distils a finished session transcript into a
// [types.SessionSummary].
//
// The pipeline is a map-reduce over the transcript:
//
//  1. [Chunk] packs turns into budget-bounded chunks without splitting a turn.
//  2. [ChunkSummarizer] extracts bullets, tone, a gratitude count and language
//     signals from every chunk concurrently. A failed chunk degrades to an
//     empty result.
//  3. [Reducer] merges the chunk bullets into at most six session bullets,
//     falling back to [LocalDedupe].
//  4. A final extraction derives tone, language patterns and a
//     recommendation, with a local fallback built from the chunk results.
//  5. [GratitudeGuard] reconciles the model's gratitude count with a
//     pattern count over the user's own lines.
//
// Every structured request must return strict JSON; anything else counts as
// a failed attempt and is wrapped in [ErrMalformedResponse].
package summary
