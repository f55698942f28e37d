package convert

import "encoding/json"

// Wire structs below mirror providers/anthropic.go's naming but extend it
// with the tool-use/tool-result and image content blocks §4.10 requires
// round-tripping; providers/anthropic.go's own structs are for the
// vendor-calling client and stay untouched.

type anthropicImageSource struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Source *anthropicImageSource `json:"source,omitempty"` // type: "image"

	ID    string          `json:"id,omitempty"`    // type: "tool_use"
	Name  string          `json:"name,omitempty"`  // type: "tool_use"
	Input json.RawMessage `json:"input,omitempty"` // type: "tool_use"

	ToolUseID string          `json:"tool_use_id,omitempty"` // type: "tool_result"
	Content   json.RawMessage `json:"content,omitempty"`     // type: "tool_result"
	IsError   bool            `json:"is_error,omitempty"`    // type: "tool_result"
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	StopSeqs    []string           `json:"stop_sequences,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

func anthropicStopReasonToCanonical(r string) StopReason {
	switch r {
	case "end_turn", "stop_sequence":
		if r == "stop_sequence" {
			return StopStopSequence
		}
		return StopEndTurn
	case "max_tokens":
		return StopMaxTokens
	case "tool_use":
		return StopToolUse
	default:
		return StopEndTurn
	}
}

func canonicalStopReasonToAnthropic(r StopReason) string {
	switch r {
	case StopMaxTokens:
		return "max_tokens"
	case StopToolUse:
		return "tool_use"
	case StopStopSequence:
		return "stop_sequence"
	default:
		return "end_turn"
	}
}

func anthropicRoleToCanonical(r string) Role {
	if r == "assistant" {
		return RoleAssistant
	}
	return RoleUser
}

func decodeAnthropicRequest(body []byte) (ChatRequest, error) {
	var req anthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return ChatRequest{}, err
	}
	out := ChatRequest{
		Model:     req.Model,
		System:    req.System,
		MaxTokens: intPtr(req.MaxTokens),
		Stop:      req.StopSeqs,
		Stream:    req.Stream,
		Temperature: req.Temperature,
	}
	if req.System != "" {
		out.Messages = append(out.Messages, Message{Role: RoleSystem, Parts: []Part{{Type: PartText, Text: req.System}}})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, Message{Role: anthropicRoleToCanonical(m.Role), Parts: blocksToParts(m.Content)})
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, ToolDef{Name: t.Name, Description: t.Description, Parameters: rawOrNil(t.InputSchema)})
	}
	return out, nil
}

func blocksToParts(blocks []anthropicContentBlock) []Part {
	var parts []Part
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, Part{Type: PartText, Text: b.Text})
		case "image":
			p := Part{Type: PartImage}
			if b.Source != nil {
				p.ImageMIMEType = b.Source.MediaType
				if b.Source.Type == "url" {
					p.ImageIsURL = true
					p.ImageData = b.Source.URL
				} else {
					p.ImageData = b.Source.Data
				}
			}
			parts = append(parts, p)
		case "tool_use":
			parts = append(parts, Part{Type: PartToolUse, ToolUseID: b.ID, ToolName: b.Name, ToolInput: rawOrNil(b.Input)})
		case "tool_result":
			parts = append(parts, Part{Type: PartToolResult, ToolUseID: b.ToolUseID, ToolResult: rawOrNil(b.Content), ToolIsError: b.IsError})
		}
	}
	return parts
}

func partsToAnthropicBlocks(parts []Part) []anthropicContentBlock {
	var blocks []anthropicContentBlock
	for _, p := range parts {
		switch p.Type {
		case PartText:
			blocks = append(blocks, anthropicContentBlock{Type: "text", Text: p.Text})
		case PartImage:
			src := &anthropicImageSource{MediaType: p.ImageMIMEType}
			if p.ImageIsURL {
				src.Type = "url"
				src.URL = p.ImageData
			} else {
				src.Type = "base64"
				src.Data = p.ImageData
			}
			blocks = append(blocks, anthropicContentBlock{Type: "image", Source: src})
		case PartToolUse, PartFunctionCall:
			blocks = append(blocks, anthropicContentBlock{Type: "tool_use", ID: p.ToolUseID, Name: p.ToolName, Input: marshalOrNull(p.ToolInput)})
		case PartToolResult, PartFunctionResponse:
			blocks = append(blocks, anthropicContentBlock{Type: "tool_result", ToolUseID: p.ToolUseID, Content: marshalOrNull(p.ToolResult), IsError: p.ToolIsError})
		}
	}
	return blocks
}

func encodeAnthropicRequest(req ChatRequest) ([]byte, error) {
	out := anthropicRequest{
		Model:       req.Model,
		System:      req.System,
		MaxTokens:   intOrDefault(req.MaxTokens, 4096),
		Temperature: req.Temperature,
		StopSeqs:    req.Stop,
		Stream:      req.Stream,
	}
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			continue // already folded into req.System by the caller's canonical form
		}
		role := "user"
		if m.Role == RoleAssistant {
			role = "assistant"
		}
		out.Messages = append(out.Messages, anthropicMessage{Role: role, Content: partsToAnthropicBlocks(m.Parts)})
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: marshalOrNull(t.Parameters)})
	}
	return json.Marshal(out)
}

func decodeAnthropicResponse(body []byte) (ChatResponse, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ChatResponse{}, err
	}
	return ChatResponse{
		ID:         resp.ID,
		Model:      resp.Model,
		Message:    Message{Role: RoleAssistant, Parts: blocksToParts(resp.Content)},
		StopReason: anthropicStopReasonToCanonical(resp.StopReason),
		Usage: Usage{
			InputTokens:      resp.Usage.InputTokens,
			OutputTokens:     resp.Usage.OutputTokens,
			CacheReadTokens:  resp.Usage.CacheReadInputTokens,
			CacheWriteTokens: resp.Usage.CacheCreationInputTokens,
		},
	}, nil
}

func encodeAnthropicResponse(resp ChatResponse) ([]byte, error) {
	out := anthropicResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       "assistant",
		Content:    partsToAnthropicBlocks(resp.Message.Parts),
		Model:      resp.Model,
		StopReason: canonicalStopReasonToAnthropic(resp.StopReason),
		Usage: anthropicUsage{
			InputTokens:              resp.Usage.InputTokens,
			OutputTokens:             resp.Usage.OutputTokens,
			CacheReadInputTokens:     resp.Usage.CacheReadTokens,
			CacheCreationInputTokens: resp.Usage.CacheWriteTokens,
		},
	}
	return json.Marshal(out)
}

func intPtr(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func intOrDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func rawOrNil(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func marshalOrNull(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
