package convert

import "encoding/json"

// Anthropic SSE event payloads (the JSON carried after "data: "), named
// after providers/anthropic.go's anthropicStreamMessageStart /
// anthropicStreamContentDelta but extended with message_delta/message_stop
// and tool-call (input_json_delta) frames.

type anthropicSSEMessageStart struct {
	Type    string `json:"type"`
	Message struct {
		ID    string         `json:"id"`
		Model string         `json:"model"`
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
}

type anthropicSSEContentBlockStart struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"content_block"`
}

type anthropicSSEContentBlockDelta struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta struct {
		Type        string `json:"type"` // "text_delta" or "input_json_delta"
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
	} `json:"delta"`
}

type anthropicSSEMessageDelta struct {
	Type  string `json:"type"`
	Delta struct {
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicSSEMessageStop struct {
	Type string `json:"type"`
}

// decodeAnthropicStreamChunk maps one SSE data payload to zero or one
// canonical StreamEvent (a content_block_start for a tool_use block yields
// a tool-call fragment carrying its id and name; the argument text follows
// in the input_json_delta fragments).
func decodeAnthropicStreamChunk(raw []byte) (StreamEvent, bool) {
	var probe struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(raw, &probe) != nil {
		return StreamEvent{}, false
	}
	switch probe.Type {
	case "message_start":
		var m anthropicSSEMessageStart
		json.Unmarshal(raw, &m) //nolint:errcheck
		return StreamEvent{
			Kind:  "start",
			ID:    m.Message.ID,
			Model: m.Message.Model,
			Usage: &Usage{
				InputTokens:      m.Message.Usage.InputTokens,
				OutputTokens:     m.Message.Usage.OutputTokens,
				CacheReadTokens:  m.Message.Usage.CacheReadInputTokens,
				CacheWriteTokens: m.Message.Usage.CacheCreationInputTokens,
			},
		}, true
	case "content_block_start":
		var s anthropicSSEContentBlockStart
		json.Unmarshal(raw, &s) //nolint:errcheck
		if s.ContentBlock.Type == "tool_use" {
			return StreamEvent{Kind: "delta", DeltaToolCall: &Part{Type: PartToolUse, ToolUseID: s.ContentBlock.ID, ToolName: s.ContentBlock.Name}}, true
		}
		return StreamEvent{}, false
	case "content_block_delta":
		var d anthropicSSEContentBlockDelta
		json.Unmarshal(raw, &d) //nolint:errcheck
		if d.Delta.Type == "text_delta" {
			return StreamEvent{Kind: "delta", DeltaText: d.Delta.Text}, true
		}
		if d.Delta.Type == "input_json_delta" {
			return StreamEvent{Kind: "delta", DeltaToolCall: &Part{Type: PartToolUse, ToolInput: d.Delta.PartialJSON}}, true
		}
		return StreamEvent{}, false
	case "message_delta":
		var d anthropicSSEMessageDelta
		json.Unmarshal(raw, &d) //nolint:errcheck
		return StreamEvent{
			Kind:       "stop",
			StopReason: anthropicStopReasonToCanonical(d.Delta.StopReason),
			Usage: &Usage{
				InputTokens:      d.Usage.InputTokens,
				OutputTokens:     d.Usage.OutputTokens,
				CacheReadTokens:  d.Usage.CacheReadInputTokens,
				CacheWriteTokens: d.Usage.CacheCreationInputTokens,
			},
		}, true
	case "message_stop":
		return StreamEvent{Kind: "stop"}, true
	case "error":
		return StreamEvent{Kind: "error"}, true
	default:
		return StreamEvent{}, false
	}
}

// encodeAnthropicStreamChunks maps one canonical StreamEvent back to the
// SSE data payload(s) it would have produced in the Anthropic dialect.
func encodeAnthropicStreamChunks(ev StreamEvent) [][]byte {
	switch ev.Kind {
	case "start":
		m := anthropicSSEMessageStart{Type: "message_start"}
		m.Message.ID = ev.ID
		m.Message.Model = ev.Model
		if ev.Usage != nil {
			m.Message.Usage = anthropicUsage{
				InputTokens:              ev.Usage.InputTokens,
				OutputTokens:             ev.Usage.OutputTokens,
				CacheReadInputTokens:     ev.Usage.CacheReadTokens,
				CacheCreationInputTokens: ev.Usage.CacheWriteTokens,
			}
		}
		b, _ := json.Marshal(m)
		return [][]byte{b}
	case "delta":
		if ev.DeltaToolCall != nil {
			d := anthropicSSEContentBlockDelta{Type: "content_block_delta"}
			d.Delta.Type = "input_json_delta"
			if s, ok := ev.DeltaToolCall.ToolInput.(string); ok {
				d.Delta.PartialJSON = s
			}
			b, _ := json.Marshal(d)
			return [][]byte{b}
		}
		d := anthropicSSEContentBlockDelta{Type: "content_block_delta"}
		d.Delta.Type = "text_delta"
		d.Delta.Text = ev.DeltaText
		b, _ := json.Marshal(d)
		return [][]byte{b}
	case "stop":
		d := anthropicSSEMessageDelta{Type: "message_delta"}
		d.Delta.StopReason = canonicalStopReasonToAnthropic(ev.StopReason)
		if ev.Usage != nil {
			d.Usage = anthropicUsage{
				InputTokens:              ev.Usage.InputTokens,
				OutputTokens:             ev.Usage.OutputTokens,
				CacheReadInputTokens:     ev.Usage.CacheReadTokens,
				CacheCreationInputTokens: ev.Usage.CacheWriteTokens,
			}
		}
		b1, _ := json.Marshal(d)
		b2, _ := json.Marshal(anthropicSSEMessageStop{Type: "message_stop"})
		return [][]byte{b1, b2}
	default:
		return nil
	}
}
