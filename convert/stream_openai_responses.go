package convert

import "encoding/json"

// Wire structs for the OpenAI Responses API's SSE stream, named per §6's
// "SSE stream with response.* event types" — distinct from Chat
// Completions' per-chunk "choices[].delta" shape.

type openAIRespStreamEnvelope struct {
	Type     string `json:"type"`
	Delta    string `json:"delta,omitempty"`
	ItemID   string `json:"item_id,omitempty"`
	Item     *openAIRespOutputItem `json:"item,omitempty"`
	Response *openAIRespResponse   `json:"response,omitempty"`
}

// decodeOpenAIRespStreamChunk maps one "response.*" SSE data payload to a
// canonical StreamEvent. response.created starts the stream, output-text
// and function-call-argument deltas become "delta" events, and
// response.completed (named in §4.9 alongside message_start/message_delta
// as a usage-bearing event) carries the final usage block.
func decodeOpenAIRespStreamChunk(raw []byte) (StreamEvent, bool) {
	var e openAIRespStreamEnvelope
	if json.Unmarshal(raw, &e) != nil {
		return StreamEvent{}, false
	}
	switch e.Type {
	case "response.created":
		if e.Response != nil {
			return StreamEvent{Kind: "start", ID: e.Response.ID, Model: e.Response.Model}, true
		}
		return StreamEvent{Kind: "start"}, true
	case "response.output_text.delta":
		return StreamEvent{Kind: "delta", DeltaText: e.Delta}, true
	case "response.output_item.added":
		if e.Item != nil && e.Item.Type == "function_call" {
			return StreamEvent{Kind: "delta", DeltaToolCall: &Part{Type: PartToolUse, ToolUseID: e.Item.CallID, ToolName: e.Item.Name}}, true
		}
		return StreamEvent{}, false
	case "response.function_call_arguments.delta":
		return StreamEvent{Kind: "delta", DeltaToolCall: &Part{Type: PartToolUse, ToolUseID: e.ItemID, ToolInput: e.Delta}}, true
	case "response.completed":
		ev := StreamEvent{Kind: "stop", StopReason: StopEndTurn}
		if e.Response != nil {
			ev.ID, ev.Model = e.Response.ID, e.Response.Model
			if hasFunctionCall(e.Response.Output) {
				ev.StopReason = StopToolUse
			}
			if e.Response.IncompleteReason != "" {
				ev.StopReason = StopMaxTokens
			}
			ev.Usage = &Usage{InputTokens: e.Response.Usage.PromptTokens, OutputTokens: e.Response.Usage.CompletionTokens}
		}
		return ev, true
	case "response.failed", "error":
		return StreamEvent{Kind: "error"}, true
	default:
		return StreamEvent{}, false
	}
}

func hasFunctionCall(items []openAIRespOutputItem) bool {
	for _, it := range items {
		if it.Type == "function_call" {
			return true
		}
	}
	return false
}

// encodeOpenAIRespStreamChunks maps one canonical StreamEvent back to the
// Responses dialect's "response.*" SSE payload(s) it would have produced.
func encodeOpenAIRespStreamChunks(ev StreamEvent) [][]byte {
	switch ev.Kind {
	case "start":
		e := openAIRespStreamEnvelope{Type: "response.created", Response: &openAIRespResponse{ID: ev.ID, Model: ev.Model}}
		b, _ := json.Marshal(e)
		return [][]byte{b}
	case "delta":
		if ev.DeltaToolCall != nil {
			args, _ := ev.DeltaToolCall.ToolInput.(string)
			e := openAIRespStreamEnvelope{Type: "response.function_call_arguments.delta", ItemID: ev.DeltaToolCall.ToolUseID, Delta: args}
			b, _ := json.Marshal(e)
			return [][]byte{b}
		}
		e := openAIRespStreamEnvelope{Type: "response.output_text.delta", Delta: ev.DeltaText}
		b, _ := json.Marshal(e)
		return [][]byte{b}
	case "stop":
		resp := &openAIRespResponse{ID: ev.ID, Model: ev.Model}
		if ev.Usage != nil {
			resp.Usage = openAIUsage{PromptTokens: ev.Usage.InputTokens, CompletionTokens: ev.Usage.OutputTokens, TotalTokens: ev.Usage.InputTokens + ev.Usage.OutputTokens}
		}
		e := openAIRespStreamEnvelope{Type: "response.completed", Response: resp}
		b, _ := json.Marshal(e)
		return [][]byte{b}
	case "error":
		e := openAIRespStreamEnvelope{Type: "response.failed"}
		b, _ := json.Marshal(e)
		return [][]byte{b}
	default:
		return nil
	}
}
