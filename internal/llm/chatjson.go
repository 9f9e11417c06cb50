package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
)

// maxJSONResponseBytes caps what ChatJSON accepts from a model; anything
// larger is treated as a malformed reply and retried.
const maxJSONResponseBytes = 32 * 1024

// maxCorrectiveRetries bounds the repair loop.
const maxCorrectiveRetries = 3

// ChatJSON runs a completion in JSON mode and parses the reply into a map.
// A malformed reply triggers a corrective turn: the bad reply is echoed back
// as an assistant message followed by a user message naming the problem, up
// to three repair attempts.
func (c *Client) ChatJSON(ctx context.Context, req ChatRequest, requiredKeys []string) (map[string]any, error) {
	req.JSONMode = true
	messages := req.Messages

	var lastErr error
	for attempt := 0; attempt <= maxCorrectiveRetries; attempt++ {
		req.Messages = messages
		raw, err := c.Chat(ctx, req)
		if err != nil {
			return nil, err
		}

		parsed, parseErr := parseJSONReply(raw, requiredKeys)
		if parseErr == nil {
			return parsed, nil
		}
		lastErr = parseErr

		c.logger.Warn("malformed json reply, sending corrective turn",
			"attempt", attempt+1, "error", parseErr)
		messages = append(messages,
			ChatMessage{Role: RoleAssistant, Content: truncate(raw, maxJSONResponseBytes)},
			ChatMessage{Role: RoleUser, Content: fmt.Sprintf(
				"Tu respuesta anterior no es valida: %s. Responde solo con un objeto JSON valido.", parseErr)},
		)
	}
	return nil, qerr.Persistent(
		fmt.Sprintf("llm returned invalid json after %d corrective retries", maxCorrectiveRetries), lastErr)
}

// parseJSONReply enforces the size cap, extracts the outermost JSON object
// and checks the required keys.
func parseJSONReply(raw string, requiredKeys []string) (map[string]any, error) {
	if len(raw) > maxJSONResponseBytes {
		return nil, fmt.Errorf("response of %d bytes exceeds the %d byte cap", len(raw), maxJSONResponseBytes)
	}

	extracted, err := extractJSONObject(raw)
	if err != nil {
		return nil, err
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(extracted), &parsed); err != nil {
		return nil, fmt.Errorf("invalid json: %v", err)
	}

	var missing []string
	for _, key := range requiredKeys {
		if _, ok := parsed[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required keys: %s", strings.Join(missing, ", "))
	}
	return parsed, nil
}

// extractJSONObject cuts the substring between the first '{' and its
// matching outermost '}'. Models wrap JSON in prose and code fences often
// enough that plain unmarshal is not an option.
func extractJSONObject(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", fmt.Errorf("no json object found in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return raw[start : i+1], nil
				}
			}
		}
	}
	return "", fmt.Errorf("unbalanced braces in response")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
