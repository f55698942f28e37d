// Package convert implements the Protocol Converter Registry (§4.10): a
// dispatch table (source, target) → Converter translating request bodies,
// response bodies, and stream chunks between the five wire dialects named
// in §6.
//
// The canonical intermediate form below is the dialect-agnostic shape every
// bundled converter translates through; it carries just enough structure
// (message roles, content-part types, stop reasons, usage) to round-trip a
// single user/assistant exchange with tool calls and one image, per §4.10's
// required coverage.
//
// Grounded on providers/anthropic.go, providers/openai.go, providers/gemini.go
// wire-format structs (field names and JSON tags kept where the dialect
// matches) and on the dispatch-table idiom in plugin/manager.go.
package convert

// Role is a canonical message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType names a canonical content-part kind.
type PartType string

const (
	PartText             PartType = "text"
	PartImage            PartType = "image"
	PartToolUse          PartType = "tool_use"
	PartToolResult       PartType = "tool_result"
	PartFunctionCall     PartType = "function_call"
	PartFunctionResponse PartType = "function_response"
)

// Part is one content part of a canonical Message.
type Part struct {
	Type PartType

	Text string // PartText

	ImageMIMEType string // PartImage
	ImageData     string // PartImage: base64 payload or a URL, per ImageIsURL
	ImageIsURL    bool

	ToolUseID   string      // PartToolUse, PartToolResult
	ToolName    string      // PartToolUse, PartFunctionCall
	ToolInput   interface{} // PartToolUse, PartFunctionCall: arguments
	ToolResult  interface{} // PartToolResult, PartFunctionResponse
	ToolIsError bool        // PartToolResult
}

// Message is one canonical chat message.
type Message struct {
	Role  Role
	Parts []Part
}

// ToolDef is a canonical tool/function declaration.
type ToolDef struct {
	Name        string
	Description string
	Parameters  interface{} // JSON Schema, passed through opaque
}

// StopReason is a canonical completion stop reason.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopToolUse      StopReason = "tool_use"
	StopStopSequence StopReason = "stop_sequence"
	StopContentFilter StopReason = "content_filter"
)

// Usage is canonical token accounting.
type Usage struct {
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
}

// ChatRequest is the canonical request shape.
type ChatRequest struct {
	Model         string
	System        string
	Messages      []Message
	Tools         []ToolDef
	Temperature   *float64
	MaxTokens     *int
	Stop          []string
	Stream        bool
}

// ChatResponse is the canonical non-stream response shape.
type ChatResponse struct {
	ID         string
	Model      string
	Message    Message
	StopReason StopReason
	Usage      Usage
}

// StreamEvent is one canonical streaming event.
type StreamEvent struct {
	// Kind is one of: "start", "delta", "stop", "error".
	Kind string

	ID    string
	Model string

	DeltaText      string
	DeltaToolCall  *Part // non-nil when this delta carries a tool-call fragment

	StopReason StopReason
	Usage      *Usage // defensively updated; see stream package

	Err error
}
