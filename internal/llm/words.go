package llm

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"
)

// Jitter returns a delay function drawing uniformly from [min, max].
func Jitter(min, max time.Duration) func() time.Duration {
	if max <= min {
		return func() time.Duration { return min }
	}
	return func() time.Duration {
		return min + rand.N(max-min+1)
	}
}

// StreamWords emits text word by word, re-joining words with single spaces, pausing
// delay() before every word. If failAfter > 0 the stream ends with failErr after
// that many words.
func StreamWords(ctx context.Context, text string, delay func() time.Duration, failAfter int, failErr error) <-chan Chunk {
	ch := make(chan Chunk)

	go func() {
		defer close(ch)

		words := strings.Split(text, " ")
		for i, w := range words {
			if failAfter > 0 && i == failAfter {
				Send(ctx, ch, Chunk{Err: failErr})
				return
			}

			timer := time.NewTimer(delay())
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			if i < len(words)-1 {
				w += " "
			}
			if !Send(ctx, ch, Chunk{Text: w}) {
				return
			}
		}
	}()

	return ch
}
