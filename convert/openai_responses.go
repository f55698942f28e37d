package convert

import "encoding/json"

// Wire structs for the OpenAI Responses API dialect (§6's openai_responses),
// distinct from the Chat Completions dialect in openai.go: a flat "input"
// list instead of "messages", and an "output" item list instead of
// "choices".

type openAIRespInputItem struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content,omitempty"`
}

type openAIRespRequest struct {
	Model       string                 `json:"model"`
	Instructions string                `json:"instructions,omitempty"`
	Input       []openAIRespInputItem  `json:"input"`
	Tools       []openAIToolDef        `json:"tools,omitempty"`
	Temperature *float64               `json:"temperature,omitempty"`
	MaxOutputTokens *int               `json:"max_output_tokens,omitempty"`
	Stream      bool                   `json:"stream,omitempty"`
}

type openAIRespOutputContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type openAIRespOutputItem struct {
	Type    string                     `json:"type"` // "message" or "function_call"
	Role    string                     `json:"role,omitempty"`
	Content []openAIRespOutputContent  `json:"content,omitempty"`
	Name    string                     `json:"name,omitempty"`
	CallID  string                     `json:"call_id,omitempty"`
	Args    string                     `json:"arguments,omitempty"`
}

type openAIRespResponse struct {
	ID                 string                 `json:"id"`
	Model              string                 `json:"model"`
	Output             []openAIRespOutputItem `json:"output"`
	IncompleteReason    string                `json:"incomplete_details,omitempty"`
	Usage              openAIUsage            `json:"usage"`
}

func decodeOpenAIRespRequest(body []byte) (ChatRequest, error) {
	var req openAIRespRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return ChatRequest{}, err
	}
	out := ChatRequest{
		Model:       req.Model,
		System:      req.Instructions,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxOutputTokens,
		Stream:      req.Stream,
	}
	for _, item := range req.Input {
		out.Messages = append(out.Messages, Message{Role: openAIRoleToCanonical(item.Role), Parts: openAIContentToParts(item.Content)})
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, ToolDef{Name: t.Function.Name, Description: t.Function.Description, Parameters: rawOrNil(t.Function.Parameters)})
	}
	return out, nil
}

func encodeOpenAIRespRequest(req ChatRequest) ([]byte, error) {
	out := openAIRespRequest{
		Model:           req.Model,
		Instructions:    req.System,
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxTokens,
		Stream:          req.Stream,
	}
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			continue
		}
		content, _ := partsToOpenAIContent(m.Parts)
		role := "user"
		if m.Role == RoleAssistant {
			role = "assistant"
		}
		out.Input = append(out.Input, openAIRespInputItem{Role: role, Content: content})
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openAIToolDef{Type: "function", Function: openAIFunctionDef{Name: t.Name, Description: t.Description, Parameters: marshalOrNull(t.Parameters)}})
	}
	return json.Marshal(out)
}

func decodeOpenAIRespResponse(body []byte) (ChatResponse, error) {
	var resp openAIRespResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ChatResponse{}, err
	}
	out := ChatResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens},
	}
	stop := StopEndTurn
	var parts []Part
	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				if c.Type == "output_text" || c.Type == "text" {
					parts = append(parts, Part{Type: PartText, Text: c.Text})
				}
			}
		case "function_call":
			stop = StopToolUse
			parts = append(parts, Part{Type: PartToolUse, ToolUseID: item.CallID, ToolName: item.Name, ToolInput: rawOrNil(json.RawMessage(item.Args))})
		}
	}
	if resp.IncompleteReason != "" {
		stop = StopMaxTokens
	}
	out.Message = Message{Role: RoleAssistant, Parts: parts}
	out.StopReason = stop
	return out, nil
}

func encodeOpenAIRespResponse(resp ChatResponse) ([]byte, error) {
	out := openAIRespResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: openAIUsage{PromptTokens: resp.Usage.InputTokens, CompletionTokens: resp.Usage.OutputTokens, TotalTokens: resp.Usage.InputTokens + resp.Usage.OutputTokens},
	}
	var content []openAIRespOutputContent
	for _, p := range resp.Message.Parts {
		switch p.Type {
		case PartText:
			content = append(content, openAIRespOutputContent{Type: "output_text", Text: p.Text})
		case PartToolUse, PartFunctionCall:
			args, _ := json.Marshal(p.ToolInput)
			out.Output = append(out.Output, openAIRespOutputItem{Type: "function_call", Name: p.ToolName, CallID: p.ToolUseID, Args: string(args)})
		}
	}
	if len(content) > 0 {
		out.Output = append([]openAIRespOutputItem{{Type: "message", Role: "assistant", Content: content}}, out.Output...)
	}
	if resp.StopReason == StopMaxTokens {
		out.IncompleteReason = "max_output_tokens"
	}
	return json.Marshal(out)
}
