// Package shim implements the OpenAI-compatible surface: request validation,
// model rewriting, SSE framing, and the error envelope.
//
// Request bodies are handled as map[string]any rather than typed structs so
// every field the client sent, known to us or not, reaches the upstream
// verbatim. Only the model field is rewritten.
package shim

import "fmt"

// Validate checks the minimal OpenAI chat-completion contract. It returns
// ok=false with a client-facing reason; anything it does not check is passed
// through for the upstream to judge.
func Validate(body map[string]any) (bool, string) {
	raw, present := body["messages"]
	if !present {
		return false, "messages field is required"
	}
	messages, isList := raw.([]any)
	if !isList {
		return false, "messages must be an array"
	}
	if len(messages) == 0 {
		return false, "messages must not be empty"
	}
	for i, m := range messages {
		msg, isObj := m.(map[string]any)
		if !isObj {
			return false, fmt.Sprintf("messages[%d] must be an object", i)
		}
		if _, ok := msg["role"]; !ok {
			return false, fmt.Sprintf("messages[%d] missing role", i)
		}
		if _, ok := msg["content"]; !ok {
			return false, fmt.Sprintf("messages[%d] missing content", i)
		}
	}
	return true, ""
}

// Rewrite returns a shallow copy of the request with the model replaced by
// the stage-resolved one and stream made explicit. Every other field is
// carried over untouched.
func Rewrite(body map[string]any, model string) map[string]any {
	out := make(map[string]any, len(body)+1)
	for k, v := range body {
		out[k] = v
	}
	out["model"] = model
	if _, ok := out["stream"]; !ok {
		out["stream"] = false
	}
	return out
}

// IsStreaming reports whether the request asked for an SSE response.
func IsStreaming(body map[string]any) bool {
	stream, _ := body["stream"].(bool)
	return stream
}

// MessageChars returns the total length of all string message contents,
// feeding the input-token fallback estimate. Non-string content (tool calls,
// multipart) contributes nothing rather than guessing.
func MessageChars(body map[string]any) int {
	messages, _ := body["messages"].([]any)
	var n int
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if content, ok := msg["content"].(string); ok {
			n += len(content)
		}
	}
	return n
}

// EstimateTokens approximates a token count from character length. The
// 4-chars-per-token heuristic is only used when the upstream omits usage.
func EstimateTokens(chars int) int { return chars / 4 }
