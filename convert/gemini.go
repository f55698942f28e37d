package convert

import "encoding/json"

// Wire structs for the Gemini generateContent dialect (§6), extended from
// providers/gemini.go's geminiPart/geminiContent with inlineData (image)
// and functionCall/functionResponse parts.

type geminiInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response,omitempty"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	InlineData       *geminiInlineData       `json:"inlineData,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount"`
	CandidatesTokenCount    int `json:"candidatesTokenCount"`
	ThoughtsTokenCount      int `json:"thoughtsTokenCount,omitempty"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
	TotalTokenCount         int `json:"totalTokenCount"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate   `json:"candidates"`
	UsageMetadata geminiUsageMetadata `json:"usageMetadata"`
}

func geminiFinishReasonToCanonical(r string) StopReason {
	switch r {
	case "MAX_TOKENS":
		return StopMaxTokens
	case "STOP":
		return StopEndTurn
	case "SAFETY", "RECITATION":
		return StopContentFilter
	default:
		return StopEndTurn
	}
}

func canonicalStopReasonToGemini(r StopReason) string {
	switch r {
	case StopMaxTokens:
		return "MAX_TOKENS"
	case StopContentFilter:
		return "SAFETY"
	default:
		return "STOP"
	}
}

func geminiRoleToCanonical(r string) Role {
	if r == "model" {
		return RoleAssistant
	}
	return RoleUser
}

func decodeGeminiRequest(body []byte) (ChatRequest, error) {
	var req geminiRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return ChatRequest{}, err
	}
	out := ChatRequest{}
	if req.GenerationConfig != nil {
		out.Temperature = req.GenerationConfig.Temperature
		out.MaxTokens = req.GenerationConfig.MaxOutputTokens
		out.Stop = req.GenerationConfig.StopSequences
	}
	if req.SystemInstruction != nil {
		for _, p := range req.SystemInstruction.Parts {
			out.System += p.Text
		}
	}
	for _, c := range req.Contents {
		out.Messages = append(out.Messages, Message{Role: geminiRoleToCanonical(c.Role), Parts: geminiPartsToCanonical(c.Parts)})
	}
	for _, t := range req.Tools {
		for _, fd := range t.FunctionDeclarations {
			out.Tools = append(out.Tools, ToolDef{Name: fd.Name, Description: fd.Description, Parameters: rawOrNil(fd.Parameters)})
		}
	}
	return out, nil
}

func geminiPartsToCanonical(parts []geminiPart) []Part {
	var out []Part
	for _, p := range parts {
		switch {
		case p.FunctionCall != nil:
			out = append(out, Part{Type: PartFunctionCall, ToolName: p.FunctionCall.Name, ToolInput: rawOrNil(p.FunctionCall.Args)})
		case p.FunctionResponse != nil:
			out = append(out, Part{Type: PartFunctionResponse, ToolName: p.FunctionResponse.Name, ToolResult: rawOrNil(p.FunctionResponse.Response)})
		case p.InlineData != nil:
			out = append(out, Part{Type: PartImage, ImageMIMEType: p.InlineData.MIMEType, ImageData: p.InlineData.Data})
		default:
			out = append(out, Part{Type: PartText, Text: p.Text})
		}
	}
	return out
}

func canonicalPartsToGemini(parts []Part) []geminiPart {
	var out []geminiPart
	for _, p := range parts {
		switch p.Type {
		case PartText:
			out = append(out, geminiPart{Text: p.Text})
		case PartImage:
			out = append(out, geminiPart{InlineData: &geminiInlineData{MIMEType: p.ImageMIMEType, Data: p.ImageData}})
		case PartToolUse, PartFunctionCall:
			out = append(out, geminiPart{FunctionCall: &geminiFunctionCall{Name: p.ToolName, Args: marshalOrNull(p.ToolInput)}})
		case PartToolResult, PartFunctionResponse:
			out = append(out, geminiPart{FunctionResponse: &geminiFunctionResponse{Name: p.ToolName, Response: marshalOrNull(p.ToolResult)}})
		}
	}
	return out
}

func encodeGeminiRequest(req ChatRequest) ([]byte, error) {
	out := geminiRequest{
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			StopSequences:   req.Stop,
		},
	}
	if req.System != "" {
		out.SystemInstruction = &geminiContent{Role: "user", Parts: []geminiPart{{Text: req.System}}}
	}
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			continue
		}
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		out.Contents = append(out.Contents, geminiContent{Role: role, Parts: canonicalPartsToGemini(m.Parts)})
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, geminiTool{FunctionDeclarations: []geminiFunctionDecl{{Name: t.Name, Description: t.Description, Parameters: marshalOrNull(t.Parameters)}}})
	}
	return json.Marshal(out)
}

func decodeGeminiResponse(body []byte) (ChatResponse, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ChatResponse{}, err
	}
	out := ChatResponse{}
	// gemini/stream_parser.py only extracts usage once totalTokenCount is
	// present, and sums candidates + thoughts into the canonical output
	// count (reasoning tokens are billed output, not a separate bucket).
	if resp.UsageMetadata.TotalTokenCount > 0 {
		out.Usage = Usage{
			InputTokens:     resp.UsageMetadata.PromptTokenCount,
			OutputTokens:    resp.UsageMetadata.CandidatesTokenCount + resp.UsageMetadata.ThoughtsTokenCount,
			CacheReadTokens: resp.UsageMetadata.CachedContentTokenCount,
		}
	}
	if len(resp.Candidates) > 0 {
		c := resp.Candidates[0]
		out.StopReason = geminiFinishReasonToCanonical(c.FinishReason)
		out.Message = Message{Role: RoleAssistant, Parts: geminiPartsToCanonical(c.Content.Parts)}
	}
	return out, nil
}

func encodeGeminiResponse(resp ChatResponse) ([]byte, error) {
	out := geminiResponse{
		Candidates: []geminiCandidate{{
			Content:      geminiContent{Role: "model", Parts: canonicalPartsToGemini(resp.Message.Parts)},
			FinishReason: canonicalStopReasonToGemini(resp.StopReason),
		}},
		UsageMetadata: geminiUsageMetadata{
			PromptTokenCount:     resp.Usage.InputTokens,
			CandidatesTokenCount: resp.Usage.OutputTokens,
			TotalTokenCount:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
	return json.Marshal(out)
}
