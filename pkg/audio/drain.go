package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to release a provider goroutine when a synthesis stream is
// abandoned mid-way (e.g. after a barge-in).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
