package llm

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// ReasoningFilter removes <think>...</think> spans from a streamed completion.
// A tag split across fragments is held back until it can be classified.
type ReasoningFilter struct {
	inside  bool
	pending string
}

// Write consumes one fragment and returns the visible text it completes.
func (f *ReasoningFilter) Write(fragment string) string {
	text := f.pending + fragment
	f.pending = ""

	var out strings.Builder
	for text != "" {
		tag := thinkOpen
		if f.inside {
			tag = thinkClose
		}

		if i := strings.Index(text, tag); i >= 0 {
			if !f.inside {
				out.WriteString(text[:i])
			}
			text = text[i+len(tag):]
			f.inside = !f.inside
			continue
		}

		keep := partialSuffix(text, tag)
		if !f.inside {
			out.WriteString(text[:len(text)-keep])
		}
		f.pending = text[len(text)-keep:]
		break
	}
	return out.String()
}

// Flush returns held-back text once the stream has ended. An unterminated
// think block is dropped.
func (f *ReasoningFilter) Flush() string {
	rest := f.pending
	f.pending = ""
	if f.inside {
		return ""
	}
	return rest
}

// StripReasoning removes every think block from a complete text.
func StripReasoning(text string) string {
	var f ReasoningFilter
	return f.Write(text) + f.Flush()
}

// partialSuffix is the length of the longest suffix of text that is a proper
// prefix of tag.
func partialSuffix(text, tag string) int {
	for n := min(len(tag)-1, len(text)); n > 0; n-- {
		if strings.HasSuffix(text, tag[:n]) {
			return n
		}
	}
	return 0
}
