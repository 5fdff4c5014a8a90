// Package insights derives cross-session views from stored summaries.
//
// Two variants are computed per (user, range) pair: the language patterns a
// user keeps returning to, and a recommendation for the coming days. Both are
// cached in the store next to a digest of their exact inputs, so a variant is
// only recomputed by the model when a summary inside its window changed.
//
// When an embeddings provider is configured, summaries are also indexed as
// reflections and [Service.RelatedReflections] recalls the nearest prior
// sessions for a piece of text.
package insights
