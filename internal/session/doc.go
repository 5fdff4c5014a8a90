// Package session holds the per-session state that outlives individual
// turns: the wall-clock [TimeLimiter], the append-only [Transcript] and the
// best-effort [Recorder] that mirrors the transcript into the store.
//
// All exported types are safe for concurrent use.
package session
