package llm_test

import (
	"strings"
	"testing"

	"github.com/nulzo/model-playground/internal/llm"
	"github.com/stretchr/testify/assert"
)

func TestStripReasoning(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no tags", "plain answer", "plain answer"},
		{"leading block", "<think>hmm</think>The answer is 4.", "The answer is 4."},
		{"two blocks", "A<think>x</think>B<think>y</think>C", "ABC"},
		{"unterminated", "Visible<think>never closed", "Visible"},
		{"lone angle bracket", "1 < 2", "1 < 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, llm.StripReasoning(tt.in))
		})
	}
}

func TestReasoningFilterSplitTags(t *testing.T) {
	fragments := []string{"<thi", "nk>secret plan", "</th", "ink>Hello", " world <", "b>"}

	var f llm.ReasoningFilter
	var sb strings.Builder
	for _, frag := range fragments {
		sb.WriteString(f.Write(frag))
	}
	sb.WriteString(f.Flush())

	assert.Equal(t, "Hello world <b>", sb.String())
}

func TestReasoningFilterHoldsPartialTagUntilFlush(t *testing.T) {
	var f llm.ReasoningFilter
	assert.Equal(t, "Done ", f.Write("Done <th"))
	assert.Equal(t, "<th", f.Flush())
}
