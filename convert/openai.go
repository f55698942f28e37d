package convert

import "encoding/json"

// Wire structs named after the OpenAI Chat Completions dialect (§6), kept
// independent of providers/openai.go (that file drives the vendor SDK
// client; this one models the JSON a caller sends/receives in that
// dialect, which is what the converter translates).

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIMessage struct {
	Role       string              `json:"role"`
	Content    json.RawMessage     `json:"content,omitempty"` // string or []openAIContentPart
	ToolCalls  []openAIToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
	Name       string              `json:"name,omitempty"`
}

type openAIFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type openAIToolDef struct {
	Type     string            `json:"type"`
	Function openAIFunctionDef `json:"function"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAIToolDef `json:"tools,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type openAIUsage struct {
	PromptTokens            int `json:"prompt_tokens"`
	CompletionTokens        int `json:"completion_tokens"`
	TotalTokens             int `json:"total_tokens"`
	PromptTokensDetails struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details,omitempty"`
}

type openAIChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
}

type openAIStreamDelta struct {
	Role      string           `json:"role,omitempty"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIStreamChoice struct {
	Index        int               `json:"index"`
	Delta        openAIStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openAIStreamChunk struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Choices []openAIStreamChoice `json:"choices"`
	Usage   *openAIUsage         `json:"usage,omitempty"`
}

func openAIStopReasonToCanonical(r string) StopReason {
	switch r {
	case "length":
		return StopMaxTokens
	case "tool_calls":
		return StopToolUse
	case "content_filter":
		return StopContentFilter
	default:
		return StopEndTurn
	}
}

func canonicalStopReasonToOpenAI(r StopReason) string {
	switch r {
	case StopMaxTokens:
		return "length"
	case StopToolUse:
		return "tool_calls"
	case StopContentFilter:
		return "content_filter"
	default:
		return "stop"
	}
}

func decodeOpenAIRequest(body []byte) (ChatRequest, error) {
	var req openAIRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return ChatRequest{}, err
	}
	out := ChatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		Stream:      req.Stream,
	}
	for _, m := range req.Messages {
		role := openAIRoleToCanonical(m.Role)
		if role == RoleSystem {
			out.System = openAIContentToText(m.Content)
			continue
		}
		msg := Message{Role: role}
		if role == RoleTool {
			msg.Parts = []Part{{Type: PartToolResult, ToolUseID: m.ToolCallID, ToolResult: rawOrNil(m.Content)}}
		} else {
			msg.Parts = openAIContentToParts(m.Content)
			for _, tc := range m.ToolCalls {
				msg.Parts = append(msg.Parts, Part{Type: PartToolUse, ToolUseID: tc.ID, ToolName: tc.Function.Name, ToolInput: rawOrNil(json.RawMessage(tc.Function.Arguments))})
			}
		}
		out.Messages = append(out.Messages, msg)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, ToolDef{Name: t.Function.Name, Description: t.Function.Description, Parameters: rawOrNil(t.Function.Parameters)})
	}
	return out, nil
}

func openAIRoleToCanonical(r string) Role {
	switch r {
	case "system", "developer":
		return RoleSystem
	case "assistant":
		return RoleAssistant
	case "tool":
		return RoleTool
	default:
		return RoleUser
	}
}

func openAIContentToText(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	for _, p := range openAIContentToParts(raw) {
		if p.Type == PartText {
			return p.Text
		}
	}
	return ""
}

func openAIContentToParts(raw json.RawMessage) []Part {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if s == "" {
			return nil
		}
		return []Part{{Type: PartText, Text: s}}
	}
	var arr []openAIContentPart
	if json.Unmarshal(raw, &arr) == nil {
		var parts []Part
		for _, p := range arr {
			switch p.Type {
			case "text":
				parts = append(parts, Part{Type: PartText, Text: p.Text})
			case "image_url":
				if p.ImageURL != nil {
					parts = append(parts, Part{Type: PartImage, ImageIsURL: true, ImageData: p.ImageURL.URL})
				}
			}
		}
		return parts
	}
	return nil
}

func partsToOpenAIContent(parts []Part) (json.RawMessage, []openAIToolCall) {
	var textOnly []Part
	var toolCalls []openAIToolCall
	var hasNonText bool
	for _, p := range parts {
		switch p.Type {
		case PartText:
			textOnly = append(textOnly, p)
		case PartImage:
			textOnly = append(textOnly, p)
			hasNonText = true
		case PartToolUse, PartFunctionCall:
			args, _ := json.Marshal(p.ToolInput)
			toolCalls = append(toolCalls, openAIToolCall{ID: p.ToolUseID, Type: "function", Function: openAIFunctionCall{Name: p.ToolName, Arguments: string(args)}})
		}
	}
	if len(textOnly) == 0 {
		return nil, toolCalls
	}
	if !hasNonText && len(textOnly) == 1 {
		b, _ := json.Marshal(textOnly[0].Text)
		return b, toolCalls
	}
	var out []openAIContentPart
	for _, p := range textOnly {
		switch p.Type {
		case PartText:
			out = append(out, openAIContentPart{Type: "text", Text: p.Text})
		case PartImage:
			out = append(out, openAIContentPart{Type: "image_url", ImageURL: &openAIImageURL{URL: p.ImageData}})
		}
	}
	b, _ := json.Marshal(out)
	return b, toolCalls
}

func encodeOpenAIRequest(req ChatRequest) ([]byte, error) {
	out := openAIRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		Stream:      req.Stream,
	}
	if req.System != "" {
		sysContent, _ := json.Marshal(req.System)
		out.Messages = append(out.Messages, openAIMessage{Role: "system", Content: sysContent})
	}
	for _, m := range req.Messages {
		if m.Role == RoleSystem && req.System != "" {
			continue // already emitted above from req.System
		}
		role := "user"
		switch m.Role {
		case RoleSystem:
			role = "system"
		case RoleAssistant:
			role = "assistant"
		case RoleTool:
			role = "tool"
		}
		for _, p := range m.Parts {
			if role == "user" && p.Type == PartToolResult {
				role = "tool"
			}
		}
		msg := openAIMessage{Role: role}
		if role == "tool" {
			for _, p := range m.Parts {
				if p.Type == PartToolResult {
					msg.ToolCallID = p.ToolUseID
					msg.Content = marshalOrNull(p.ToolResult)
				}
			}
		} else {
			msg.Content, msg.ToolCalls = partsToOpenAIContent(m.Parts)
		}
		out.Messages = append(out.Messages, msg)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openAIToolDef{Type: "function", Function: openAIFunctionDef{Name: t.Name, Description: t.Description, Parameters: marshalOrNull(t.Parameters)}})
	}
	return json.Marshal(out)
}

func decodeOpenAIResponse(body []byte) (ChatResponse, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ChatResponse{}, err
	}
	out := ChatResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: Usage{
			InputTokens:     resp.Usage.PromptTokens,
			OutputTokens:    resp.Usage.CompletionTokens,
			CacheReadTokens: resp.Usage.PromptTokensDetails.CachedTokens,
		},
	}
	if len(resp.Choices) > 0 {
		c := resp.Choices[0]
		out.StopReason = openAIStopReasonToCanonical(c.FinishReason)
		parts := openAIContentToParts(c.Message.Content)
		for _, tc := range c.Message.ToolCalls {
			parts = append(parts, Part{Type: PartToolUse, ToolUseID: tc.ID, ToolName: tc.Function.Name, ToolInput: rawOrNil(json.RawMessage(tc.Function.Arguments))})
		}
		out.Message = Message{Role: RoleAssistant, Parts: parts}
	}
	return out, nil
}

func encodeOpenAIResponse(resp ChatResponse) ([]byte, error) {
	content, toolCalls := partsToOpenAIContent(resp.Message.Parts)
	out := openAIResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Choices: []openAIChoice{{
			Index:        0,
			Message:      openAIMessage{Role: "assistant", Content: content, ToolCalls: toolCalls},
			FinishReason: canonicalStopReasonToOpenAI(resp.StopReason),
		}},
		Usage: openAIUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
	out.Usage.PromptTokensDetails.CachedTokens = resp.Usage.CacheReadTokens
	return json.Marshal(out)
}
