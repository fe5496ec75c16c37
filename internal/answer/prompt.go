package answer

import (
	"strings"

	"github.com/hyperjump/kotae/internal/models"
)

// SentinelAnswer is returned when the context cannot support an answer, and
// the model is told to reply with it in the same situation.
const SentinelAnswer = "I don't have enough information in the context."

const promptTemplate = `You are a highly intelligent assistant for answering document-based questions.
Use ONLY the following context to answer the user's question.
If the context does not contain the answer, say "` + SentinelAnswer + `"

Context:
{{context}}

Question: {{question}}

Answer clearly in 3–5 sentences.
`

// BuildContext joins the trimmed, non-empty fragment texts in relevance
// order with blank lines, and returns the distinct source filenames of the
// fragments it used in first-seen order.
func BuildContext(results models.RetrievalResult) (string, []string) {
	parts := make([]string, 0, len(results))
	sources := make([]string, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		if r.Fragment == nil {
			continue
		}
		text := strings.TrimSpace(r.Fragment.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		if src := r.Fragment.SourceFilename; !seen[src] {
			seen[src] = true
			sources = append(sources, src)
		}
	}
	return strings.Join(parts, "\n\n"), sources
}

// BuildPrompt renders the grounding prompt for a question.
func BuildPrompt(context, question string) string {
	r := strings.NewReplacer("{{context}}", context, "{{question}}", question)
	return r.Replace(promptTemplate)
}
