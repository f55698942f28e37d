package convert

import "encoding/json"

// decodeOpenAIStreamChunk maps one Chat Completions SSE data payload to a
// canonical StreamEvent (a "[DONE]" sentinel is handled by the stream
// package before reaching here).
func decodeOpenAIStreamChunk(raw []byte) (StreamEvent, bool) {
	var c openAIStreamChunk
	if json.Unmarshal(raw, &c) != nil {
		return StreamEvent{}, false
	}
	if len(c.Choices) == 0 {
		if c.Usage != nil {
			return StreamEvent{Kind: "stop", Usage: &Usage{InputTokens: c.Usage.PromptTokens, OutputTokens: c.Usage.CompletionTokens, CacheReadTokens: c.Usage.PromptTokensDetails.CachedTokens}}, true
		}
		return StreamEvent{}, false
	}
	choice := c.Choices[0]
	if choice.FinishReason != nil {
		ev := StreamEvent{Kind: "stop", ID: c.ID, Model: c.Model, StopReason: openAIStopReasonToCanonical(*choice.FinishReason)}
		if c.Usage != nil {
			ev.Usage = &Usage{InputTokens: c.Usage.PromptTokens, OutputTokens: c.Usage.CompletionTokens, CacheReadTokens: c.Usage.PromptTokensDetails.CachedTokens}
		}
		return ev, true
	}
	if len(choice.Delta.ToolCalls) > 0 {
		tc := choice.Delta.ToolCalls[0]
		return StreamEvent{Kind: "delta", ID: c.ID, Model: c.Model, DeltaToolCall: &Part{Type: PartToolUse, ToolUseID: tc.ID, ToolName: tc.Function.Name, ToolInput: tc.Function.Arguments}}, true
	}
	if choice.Delta.Role != "" && choice.Delta.Content == "" {
		return StreamEvent{Kind: "start", ID: c.ID, Model: c.Model}, true
	}
	return StreamEvent{Kind: "delta", ID: c.ID, Model: c.Model, DeltaText: choice.Delta.Content}, true
}

func encodeOpenAIStreamChunks(ev StreamEvent) [][]byte {
	switch ev.Kind {
	case "start":
		c := openAIStreamChunk{ID: ev.ID, Model: ev.Model, Choices: []openAIStreamChoice{{Delta: openAIStreamDelta{Role: "assistant"}}}}
		b, _ := json.Marshal(c)
		return [][]byte{b}
	case "delta":
		delta := openAIStreamDelta{Content: ev.DeltaText}
		if ev.DeltaToolCall != nil {
			args, _ := ev.DeltaToolCall.ToolInput.(string)
			delta = openAIStreamDelta{ToolCalls: []openAIToolCall{{ID: ev.DeltaToolCall.ToolUseID, Type: "function", Function: openAIFunctionCall{Name: ev.DeltaToolCall.ToolName, Arguments: args}}}}
		}
		c := openAIStreamChunk{ID: ev.ID, Model: ev.Model, Choices: []openAIStreamChoice{{Delta: delta}}}
		b, _ := json.Marshal(c)
		return [][]byte{b}
	case "stop":
		reason := canonicalStopReasonToOpenAI(ev.StopReason)
		c := openAIStreamChunk{ID: ev.ID, Model: ev.Model, Choices: []openAIStreamChoice{{Delta: openAIStreamDelta{}, FinishReason: &reason}}}
		if ev.Usage != nil {
			c.Usage = &openAIUsage{PromptTokens: ev.Usage.InputTokens, CompletionTokens: ev.Usage.OutputTokens, TotalTokens: ev.Usage.InputTokens + ev.Usage.OutputTokens}
			c.Usage.PromptTokensDetails.CachedTokens = ev.Usage.CacheReadTokens
		}
		b, _ := json.Marshal(c)
		return [][]byte{b}
	default:
		return nil
	}
}
