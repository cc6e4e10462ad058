package llm

import "fmt"

// ReconcilePrompt generates the prompt asking the model to propose card
// updates from a session transcript. The model must answer with a single
// JSON object carrying a batch confidence and per-card field changes.
func ReconcilePrompt(cardSummaries, transcript string) string {
	return fmt.Sprintf(`You maintain memory cards for a chat companion, reviewing a session transcript.

TRANSCRIPT:
---
%s

EXISTING CARDS:
---
%s

Output ONLY valid JSON proposing updates:
{
  "confidence": 0.0-1.0,
  "updates": [
    {
      "card_id": 12,
      "fields": [
        {
          "field": "personality|patterns|key_events|user_feelings|keywords|description|traits|interests|values",
          "value": "text, or an array of strings for list fields",
          "reason": "...",
          "confidence": 0.0-1.0
        }
      ]
    }
  ]
}

Rules:
- Only propose a field if the transcript clearly supports it (confidence >= 0.7 per field)
- List fields (patterns, traits, interests, values, keywords, key_events) take arrays; new items are merged, never removed
- Narrative fields (personality, description, user_feelings) take the full replacement text
- If overall confidence < 0.5, return an empty updates array
- Do not include any text outside of JSON`, transcript, cardSummaries)
}
