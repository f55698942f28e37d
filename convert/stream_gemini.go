package convert

import "encoding/json"

// decodeGeminiStreamChunk maps one element of Gemini's streamed JSON-array
// response (§4.9: "Gemini's streaming dialect is a JSON array, not SSE" —
// the stream package is responsible for splitting the array into elements
// before handing a single object here) to a canonical StreamEvent.
func decodeGeminiStreamChunk(raw []byte) (StreamEvent, bool) {
	var resp geminiResponse
	if json.Unmarshal(raw, &resp) != nil || len(resp.Candidates) == 0 {
		return StreamEvent{}, false
	}
	c := resp.Candidates[0]
	if c.FinishReason != "" {
		ev := StreamEvent{
			Kind:       "stop",
			StopReason: geminiFinishReasonToCanonical(c.FinishReason),
		}
		// gemini/stream_parser.py:267-269 only extracts usage from the final
		// chunk's usageMetadata.totalTokenCount, and bills thinking tokens as
		// output.
		if resp.UsageMetadata.TotalTokenCount > 0 {
			ev.Usage = &Usage{
				InputTokens:     resp.UsageMetadata.PromptTokenCount,
				OutputTokens:    resp.UsageMetadata.CandidatesTokenCount + resp.UsageMetadata.ThoughtsTokenCount,
				CacheReadTokens: resp.UsageMetadata.CachedContentTokenCount,
			}
		}
		return ev, true
	}
	for _, p := range c.Content.Parts {
		if p.FunctionCall != nil {
			return StreamEvent{Kind: "delta", DeltaToolCall: &Part{Type: PartFunctionCall, ToolName: p.FunctionCall.Name, ToolInput: rawOrNil(p.FunctionCall.Args)}}, true
		}
		if p.Text != "" {
			return StreamEvent{Kind: "delta", DeltaText: p.Text}, true
		}
	}
	return StreamEvent{}, false
}

func encodeGeminiStreamChunks(ev StreamEvent) [][]byte {
	switch ev.Kind {
	case "delta":
		part := geminiPart{Text: ev.DeltaText}
		if ev.DeltaToolCall != nil {
			part = geminiPart{FunctionCall: &geminiFunctionCall{Name: ev.DeltaToolCall.ToolName, Args: marshalOrNull(ev.DeltaToolCall.ToolInput)}}
		}
		resp := geminiResponse{Candidates: []geminiCandidate{{Content: geminiContent{Role: "model", Parts: []geminiPart{part}}}}}
		b, _ := json.Marshal(resp)
		return [][]byte{b}
	case "stop":
		resp := geminiResponse{Candidates: []geminiCandidate{{FinishReason: canonicalStopReasonToGemini(ev.StopReason)}}}
		if ev.Usage != nil {
			resp.UsageMetadata = geminiUsageMetadata{
				PromptTokenCount:        ev.Usage.InputTokens,
				CandidatesTokenCount:    ev.Usage.OutputTokens,
				CachedContentTokenCount: ev.Usage.CacheReadTokens,
				TotalTokenCount:         ev.Usage.InputTokens + ev.Usage.OutputTokens,
			}
		}
		b, _ := json.Marshal(resp)
		return [][]byte{b}
	default:
		return nil
	}
}
