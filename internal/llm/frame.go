package llm

import (
	"bytes"
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"
)

var (
	dataPrefix    = []byte("data:")
	doneSentinel  = []byte("[DONE]")
	fieldPrefixes = [][]byte{[]byte("event:"), []byte("id:"), []byte("retry:")}
)

// frame covers both dialects the relay understands: OpenAI server-sent
// events (choices[].delta.content) and Ollama newline-delimited JSON
// (message.content, done).
type frame struct {
	Choices []openai.ChatCompletionStreamChoice `json:"choices"`
	Message *struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// parseFrame decodes one transport line.  ok is false when the line claimed
// to carry a payload that could not be decoded; such lines are dropped by the
// caller.  end reports the terminal sentinel.
func parseFrame(line []byte) (content string, end, ok bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] == ':' {
		return "", false, true
	}
	for _, p := range fieldPrefixes {
		if bytes.HasPrefix(line, p) {
			return "", false, true
		}
	}

	payload := line
	if bytes.HasPrefix(line, dataPrefix) {
		payload = bytes.TrimSpace(line[len(dataPrefix):])
		if bytes.Equal(payload, doneSentinel) {
			return "", true, true
		}
	}

	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return "", false, false
	}
	switch {
	case len(f.Choices) > 0:
		content = f.Choices[0].Delta.Content
	case f.Message != nil:
		content = f.Message.Content
	}
	return content, f.Done, true
}
