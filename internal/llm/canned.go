package llm

import "fmt"

var cannedResponses = map[string]string{
	"gpt-3.5-turbo": `As GPT-3.5 Turbo, here is my answer to: "%s".

This is an interesting question. We can look at it from several angles:

1. **Technical**: it touches on where the underlying technology is heading
2. **Practical**: feasibility matters once it meets real workloads
3. **Outlook**: there is plenty of room for the field to grow

Overall it is worth thinking about carefully, and I hope this helps.`,

	"gpt-4o-mini": `As GPT-4o Mini, here is a more detailed answer to: "%s".

## Key Points
- **Core concepts**: start from the fundamental principles
- **Applications**: how it is implemented in practice
- **Challenges**: likely difficulties and how to address them

## Analysis
The question spans several dimensions. From an implementation point of view, efficiency, cost and maintainability all have to be balanced.

## Recommendation
Given current trends, an incremental approach is the safest way forward.

I hope this gives you something useful to work with!`,
}

const defaultCanned = "gpt-3.5-turbo"

// CannedResponse returns the offline answer for model, falling back to the
// gpt-3.5-turbo text for unknown models.
func CannedResponse(model, prompt string) string {
	tmpl, ok := cannedResponses[model]
	if !ok {
		tmpl = cannedResponses[defaultCanned]
	}
	return fmt.Sprintf(tmpl, prompt)
}
