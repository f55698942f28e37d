package convert

import (
	"fmt"

	"github.com/ferro-labs/llm-gateway-core/catalog"
	"github.com/ferro-labs/llm-gateway-core/internal/logging"
)

type decodeRequestFn func([]byte) (ChatRequest, error)
type encodeRequestFn func(ChatRequest) ([]byte, error)
type decodeResponseFn func([]byte) (ChatResponse, error)
type encodeResponseFn func(ChatResponse) ([]byte, error)
type decodeStreamFn func([]byte) (StreamEvent, bool)
type encodeStreamFn func(StreamEvent) [][]byte

var decodeRequestFns = map[catalog.APIFormat]decodeRequestFn{
	catalog.FormatAnthropic:    decodeAnthropicRequest,
	catalog.FormatAnthropicCLI: decodeAnthropicRequest,
	catalog.FormatOpenAIChat:   decodeOpenAIRequest,
	catalog.FormatOpenAIResp:   decodeOpenAIRespRequest,
	catalog.FormatGemini:       decodeGeminiRequest,
}

var encodeRequestFns = map[catalog.APIFormat]encodeRequestFn{
	catalog.FormatAnthropic:    encodeAnthropicRequest,
	catalog.FormatAnthropicCLI: encodeAnthropicRequest,
	catalog.FormatOpenAIChat:   encodeOpenAIRequest,
	catalog.FormatOpenAIResp:   encodeOpenAIRespRequest,
	catalog.FormatGemini:       encodeGeminiRequest,
}

var decodeResponseFns = map[catalog.APIFormat]decodeResponseFn{
	catalog.FormatAnthropic:    decodeAnthropicResponse,
	catalog.FormatAnthropicCLI: decodeAnthropicResponse,
	catalog.FormatOpenAIChat:   decodeOpenAIResponse,
	catalog.FormatOpenAIResp:   decodeOpenAIRespResponse,
	catalog.FormatGemini:       decodeGeminiResponse,
}

var encodeResponseFns = map[catalog.APIFormat]encodeResponseFn{
	catalog.FormatAnthropic:    encodeAnthropicResponse,
	catalog.FormatAnthropicCLI: encodeAnthropicResponse,
	catalog.FormatOpenAIChat:   encodeOpenAIResponse,
	catalog.FormatOpenAIResp:   encodeOpenAIRespResponse,
	catalog.FormatGemini:       encodeGeminiResponse,
}

var decodeStreamFns = map[catalog.APIFormat]decodeStreamFn{
	catalog.FormatAnthropic:    decodeAnthropicStreamChunk,
	catalog.FormatAnthropicCLI: decodeAnthropicStreamChunk,
	catalog.FormatOpenAIChat:   decodeOpenAIStreamChunk,
	catalog.FormatOpenAIResp:   decodeOpenAIRespStreamChunk,
	catalog.FormatGemini:       decodeGeminiStreamChunk,
}

var encodeStreamFns = map[catalog.APIFormat]encodeStreamFn{
	catalog.FormatAnthropic:    encodeAnthropicStreamChunks,
	catalog.FormatAnthropicCLI: encodeAnthropicStreamChunks,
	catalog.FormatOpenAIChat:   encodeOpenAIStreamChunks,
	catalog.FormatOpenAIResp:   encodeOpenAIRespStreamChunks,
	catalog.FormatGemini:       encodeGeminiStreamChunks,
}

// Converter translates request/response/stream-chunk bodies from one wire
// dialect to another. A nil method means that leg is a passthrough (no
// conversion needed, or none is possible — see Available).
type Converter struct {
	Source, Target catalog.APIFormat

	ConvertRequest      func(body []byte) ([]byte, error)
	ConvertResponse     func(body []byte) ([]byte, error)
	ConvertStreamChunk  func(raw []byte) ([][]byte, error)
}

// Registry is the (source, target) → Converter dispatch table (§4.10).
type Registry struct {
	converters map[[2]catalog.APIFormat]*Converter
}

// NewRegistry builds the bundled converters for every (source, target) pair
// this module has codecs for — which, per §4.10, covers Claude↔OpenAI,
// Claude↔Gemini, and OpenAI↔Gemini (and the identity/no-op pairs), derived
// generically by chaining a decode-to-canonical step with an encode-from-
// canonical step rather than hand-writing one converter per pair.
func NewRegistry() *Registry {
	reg := &Registry{converters: make(map[[2]catalog.APIFormat]*Converter)}
	formats := []catalog.APIFormat{catalog.FormatAnthropic, catalog.FormatAnthropicCLI, catalog.FormatOpenAIChat, catalog.FormatOpenAIResp, catalog.FormatGemini}
	for _, src := range formats {
		for _, tgt := range formats {
			if c := buildConverter(src, tgt); c != nil {
				reg.converters[[2]catalog.APIFormat{src, tgt}] = c
			}
		}
	}
	return reg
}

func buildConverter(src, tgt catalog.APIFormat) *Converter {
	if src == tgt {
		return &Converter{Source: src, Target: tgt}
	}
	decReq, okDecReq := decodeRequestFns[src]
	encReq, okEncReq := encodeRequestFns[tgt]
	decResp, okDecResp := decodeResponseFns[src]
	encResp, okEncResp := encodeResponseFns[tgt]
	decStream, okDecStream := decodeStreamFns[src]
	encStream, okEncStream := encodeStreamFns[tgt]
	if !okDecReq || !okEncReq || !okDecResp || !okEncResp {
		return nil
	}
	c := &Converter{Source: src, Target: tgt}
	c.ConvertRequest = func(body []byte) ([]byte, error) {
		canonical, err := decReq(body)
		if err != nil {
			return nil, err
		}
		return encReq(canonical)
	}
	c.ConvertResponse = func(body []byte) ([]byte, error) {
		canonical, err := decResp(body)
		if err != nil {
			return nil, err
		}
		return encResp(canonical)
	}
	if okDecStream && okEncStream {
		c.ConvertStreamChunk = func(raw []byte) ([][]byte, error) {
			ev, ok := decStream(raw)
			if !ok {
				return nil, nil
			}
			return encStream(ev), nil
		}
	}
	return c
}

// Available reports whether Lookup(source, target) would return a non-nil
// converter; candidates.ConverterAvailable is satisfied by this method.
func (r *Registry) Available(source, target catalog.APIFormat) bool {
	_, ok := r.converters[[2]catalog.APIFormat{source, target}]
	return ok
}

// Lookup returns the converter for (source, target). When none is
// registered it returns a pass-through Converter and logs a warning, per
// §4.10's "degenerate pass-through with a warning log" fallback — callers
// should prefer checking Available first so this path is rare.
func (r *Registry) Lookup(source, target catalog.APIFormat) *Converter {
	if c, ok := r.converters[[2]catalog.APIFormat{source, target}]; ok {
		return c
	}
	logging.Logger.Warn("no protocol converter registered, passing body through unchanged",
		"source_format", string(source), "target_format", string(target))
	return &Converter{Source: source, Target: target}
}

func (c *Converter) String() string {
	return fmt.Sprintf("%s->%s", c.Source, c.Target)
}

// ParseStreamEvent decodes one raw upstream stream-chunk payload in format
// into a canonical StreamEvent, without requiring a registered (source,
// target) pair — used by the stream processor to inspect events (for usage
// tracking, early-error sniffing) even when no cross-format conversion is
// needed.
func ParseStreamEvent(format catalog.APIFormat, raw []byte) (StreamEvent, bool) {
	dec, ok := decodeStreamFns[format]
	if !ok {
		return StreamEvent{}, false
	}
	return dec(raw)
}

// RenderStreamEvent encodes a canonical StreamEvent back into format's raw
// stream-chunk payload(s).
func RenderStreamEvent(format catalog.APIFormat, ev StreamEvent) [][]byte {
	enc, ok := encodeStreamFns[format]
	if !ok {
		return nil
	}
	return enc(ev)
}
