package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SynthesizePrompt generates the answer-synthesis prompt from retrieved
// document context and memory facts.
func SynthesizePrompt(question, documentContext, memoryContext, sessionContext string) string {
	var b strings.Builder
	b.WriteString(`You are answering a question using retrieved documents and known facts about the user.

`)
	if sessionContext != "" {
		fmt.Fprintf(&b, "CONVERSATION SO FAR:\n%s\n\n", sessionContext)
	}
	if memoryContext != "" {
		fmt.Fprintf(&b, "KNOWN ABOUT THE USER:\n%s\n\n", memoryContext)
	}
	fmt.Fprintf(&b, `RETRIEVED DOCUMENTS:
%s

QUESTION: %s

Rules:
- Answer only from the retrieved documents and known facts
- If the documents don't cover the question, say so plainly
- Be concise; no preamble

Answer:`, documentContext, question)
	return b.String()
}

// SummarizePrompt generates the prompt for folding evicted session turns into
// the running summary.
func SummarizePrompt(existingSummary, transcript string) string {
	summaryContext := "This is the start of the conversation — no summary yet."
	if existingSummary != "" {
		summaryContext = fmt.Sprintf("RUNNING SUMMARY:\n%s", existingSummary)
	}

	return fmt.Sprintf(`You maintain a running summary of a conversation. Fold the new turns below into it.

%s

NEW TURNS:
%s

Rules:
- Preserve decisions, stated preferences, and open questions
- Drop greetings and filler
- Maximum 200 words
- Return ONLY the updated summary text`, summaryContext, transcript)
}

// ExtractFactsPrompt generates the prompt for extracting memory facts and
// relationships from a user/assistant exchange.
func ExtractFactsPrompt(userTurn, assistantTurn string) string {
	return fmt.Sprintf(`You are a memory extraction system. Analyze this exchange and extract durable facts about the user.

USER: %s

ASSISTANT: %s

Extract facts into these kinds:
- fact: stable statements about the user's world
- preference: likes, dislikes, chosen tools or styles
- goal: things the user is trying to accomplish
- context: current situation or constraints
- skill: demonstrated abilities
- interest: topics the user engages with

Rules:
- Only extract genuinely durable knowledge; skip session-specific details
- summary should be a short phrase; content the full statement
- confidence and importance are in [0, 1]
- relations link facts by their summaries, typed as one of:
  causes, relates_to, contradicts, supports, precedes, enables
- Return ONLY a JSON object, no other text

Return:
{
  "facts": [{"kind": "...", "content": "...", "summary": "...", "confidence": 0.0, "importance": 0.0}],
  "relations": [{"source_summary": "...", "target_summary": "...", "relation": "...", "strength": 0.0}]
}

If nothing worth extracting, return: {"facts": [], "relations": []}`, userTurn, assistantTurn)
}

// ExtractedFact is one fact parsed from an extraction response.
type ExtractedFact struct {
	Kind       string  `json:"kind"`
	Content    string  `json:"content"`
	Summary    string  `json:"summary"`
	Confidence float64 `json:"confidence"`
	Importance float64 `json:"importance"`
}

// ExtractedRelation links two extracted facts by summary.
type ExtractedRelation struct {
	SourceSummary string  `json:"source_summary"`
	TargetSummary string  `json:"target_summary"`
	Relation      string  `json:"relation"`
	Strength      float64 `json:"strength"`
}

// Extraction is the parsed result of an ExtractFactsPrompt completion.
type Extraction struct {
	Facts     []ExtractedFact     `json:"facts"`
	Relations []ExtractedRelation `json:"relations"`
}

// ParseExtraction decodes an extraction completion, tolerating surrounding
// prose and markdown fences that small models tend to emit.
func ParseExtraction(content string) (*Extraction, error) {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "{"); start >= 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			content = content[start : end+1]
		}
	}

	var ex Extraction
	if err := json.Unmarshal([]byte(content), &ex); err != nil {
		return nil, fmt.Errorf("parse extraction: %w", err)
	}
	return &ex, nil
}
