package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var thinkTagRegex = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinkTags removes DeepSeek R1 reasoning tags from the response.
func StripThinkTags(text string) string {
	return strings.TrimSpace(thinkTagRegex.ReplaceAllString(text, ""))
}

// ParseReply parses a model response into a Reply.
// Handles: bare JSON object, markdown code fences, object embedded in prose,
// single-element arrays. Confidence given on a 0-100 scale is normalized to [0,1].
func ParseReply(text string) (*Reply, error) {
	cleaned := StripThinkTags(text)

	// Remove markdown code fences
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" {
		return nil, fmt.Errorf("empty AI response")
	}

	var reply Reply
	if err := json.Unmarshal([]byte(cleaned), &reply); err == nil {
		return normalize(&reply), nil
	}

	var list []Reply
	if err := json.Unmarshal([]byte(cleaned), &list); err == nil && len(list) > 0 {
		return normalize(&list[0]), nil
	}

	// Try extracting a single JSON object
	jsonStart := strings.Index(cleaned, "{")
	jsonEnd := strings.LastIndex(cleaned, "}")
	if jsonStart >= 0 && jsonEnd > jsonStart {
		substr := cleaned[jsonStart : jsonEnd+1]
		if err := json.Unmarshal([]byte(substr), &reply); err == nil {
			return normalize(&reply), nil
		}
	}

	return nil, fmt.Errorf("failed to parse AI response as JSON: %.200s", cleaned)
}

func normalize(r *Reply) *Reply {
	if r.Confidence > 1 {
		r.Confidence /= 100
	}
	if r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}
	r.Stance = strings.ToLower(strings.TrimSpace(r.Stance))
	return r
}
