package openai

import (
	"fmt"
	"strings"

	"github.com/poiesic/crossfeed/ai"
)

const enrichmentResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "sentiment": {
      "type": "string"
    },
    "topics": {
      "type": "array",
      "items": {
        "type": "string",
        "pattern": "^[a-z]+( [a-z]+)*$"
      }
    },
    "entities": {
      "type": "array",
      "items": {
        "type": "string"
      }
    },
    "summary": {
      "type": "string",
      "maxLength": 200
    }
  },
  "required": ["sentiment", "topics", "entities", "summary"],
  "additionalProperties": false
}`

const enrichmentPromptTemplate = `Analyze the given student feedback text and return the analysis as JSON.

Output ONLY valid JSON which complies with the schema given below. Do not include any preamble, explanation,
greeting, or acknowledgment. Start your response directly with the opening brace { and end with the closing
brace }. Your output must exactly follow this schema:

%s

Rules:
- Sentiment must be exactly one of: %s.
- Topics are lowercase, 1-3 words each, singular form only. List the learning themes the feedback touches on.
- Entities are the specific subjects, skills, or materials named in the text. Do not hallucinate.
- Summary is a single sentence of at most 200 characters capturing the essence of the feedback.
- If the text mentions no topics or entities, return empty arrays for them.
- The JSON must parse without errors; no trailing commas, no extra keys, and no extraneous text outside the object.



Example (positive):
Input: "great progress on reading comprehension this month"
Output:
{
  "sentiment": "positive",
  "topics": ["reading comprehension"],
  "entities": ["reading"],
  "summary": "Student made strong progress in reading comprehension this month."
}

---  // informal / chat-style examples

Example (negative, no punctuation):
Input: "still struggling with fractions keeps falling behind"
Output:
{
  "sentiment": "negative",
  "topics": ["fraction"],
  "entities": ["fractions"],
  "summary": "Student continues to struggle with fractions and is falling behind."
}

Example (neutral, terse):
Input: "attended all sessions"
Output:
{
  "sentiment": "neutral",
  "topics": ["attendance"],
  "entities": [],
  "summary": "Student attended all sessions."
}`

// buildSystemPrompt creates the system prompt with the sentiment vocabulary embedded.
func buildSystemPrompt() string {
	return fmt.Sprintf(enrichmentPromptTemplate,
		enrichmentResponseSchema,
		strings.Join(ai.Sentiments, ", "))
}
