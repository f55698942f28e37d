package stream

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/ferro-labs/llm-gateway-core/catalog"
	"github.com/ferro-labs/llm-gateway-core/errs"
)

// earlyErrorWindow is how many assembled frames are inspected before any
// byte is forwarded to the client, per §4.9.
const earlyErrorWindow = 5

// sniffEmbeddedError reports whether raw looks like an error payload for
// format, or like an HTML error page (the classic "base URL points at a
// login page, not the API" misconfiguration). Returns the extracted message
// when true.
func sniffEmbeddedError(format catalog.APIFormat, raw []byte) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if looksLikeHTML(trimmed) {
		return "upstream returned an HTML response instead of " + string(format) + " JSON", true
	}

	switch format {
	case catalog.FormatAnthropic, catalog.FormatAnthropicCLI:
		var e struct {
			Type  string `json:"type"`
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(trimmed, &e) == nil && e.Type == "error" {
			return e.Error.Message, true
		}
	case catalog.FormatOpenAIChat, catalog.FormatOpenAIResp:
		var e struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(trimmed, &e) == nil && e.Error.Message != "" {
			return e.Error.Message, true
		}
	case catalog.FormatGemini:
		var e struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(trimmed, &e) == nil && e.Error.Message != "" {
			return e.Error.Message, true
		}
	}
	return "", false
}

func looksLikeHTML(b []byte) bool {
	s := strings.ToLower(strings.TrimSpace(string(b)))
	return strings.HasPrefix(s, "<!doctype") || strings.HasPrefix(s, "<html")
}

// EmbeddedError constructs the taxonomy error §4.9 says the orchestrator
// should treat like an HTTP error for fallback purposes.
func EmbeddedError(message string) *errs.Error {
	return errs.New(errs.KindEmbeddedError, message)
}
