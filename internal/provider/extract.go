package provider

import "github.com/tidwall/gjson"

// Extraction paths per family. Malformed or mismatching payloads yield "".
const (
	openAITextPath      = "choices.0.message.content"
	openAIStreamPath    = "choices.0.delta.content"
	anthropicTextPath   = "content.0.text"
	anthropicStreamPath = "delta.text"
	geminiTextPath      = "candidates.0.content.parts.0.text"
)

func extractPath(raw []byte, path string) string {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return ""
	}
	return gjson.GetBytes(raw, path).String()
}

func extractResponse(resp *Response, path string) string {
	if resp == nil {
		return ""
	}
	return extractPath(resp.Raw, path)
}

func extractAnthropicChunk(chunk []byte) string {
	if extractPath(chunk, "type") != "content_block_delta" {
		return ""
	}
	return extractPath(chunk, anthropicStreamPath)
}
