package dispatch

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ferro-labs/llm-gateway-core/catalog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// sensitiveQueryParams are never forwarded from the client's query string —
// most notably Gemini's ?key= caller auth (§6: "never forwarded from
// query").
var sensitiveQueryParams = map[string]bool{
	"key": true,
}

// defaultPath returns the format's default request path when the Endpoint
// doesn't declare a CustomPath (§6 outbound URL composition).
func defaultPath(format catalog.APIFormat, stream bool, model string) string {
	switch format {
	case catalog.FormatAnthropic, catalog.FormatAnthropicCLI:
		return "/v1/messages"
	case catalog.FormatOpenAIChat:
		return "/v1/chat/completions"
	case catalog.FormatOpenAIResp:
		return "/v1/responses"
	case catalog.FormatGemini:
		action := "generateContent"
		if stream {
			action = "streamGenerateContent"
		}
		return "/v1beta/models/" + url.PathEscape(model) + ":" + action
	default:
		return "/"
	}
}

// buildURL composes the upstream URL: BaseURL + (CustomPath, interpolated,
// or the format default) + whitelisted query params (§6).
func buildURL(ep catalog.Endpoint, stream bool, providerModelName string, clientQuery map[string]string) (string, error) {
	base := strings.TrimRight(ep.BaseURL, "/")

	path := ep.CustomPath
	if path == "" {
		path = defaultPath(ep.Format, stream, providerModelName)
	} else {
		action := "generateContent"
		if stream {
			action = "streamGenerateContent"
		}
		path = strings.ReplaceAll(path, "{model}", url.PathEscape(providerModelName))
		path = strings.ReplaceAll(path, "{action}", action)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	u, err := url.Parse(base + path)
	if err != nil {
		return "", fmt.Errorf("parsing upstream url: %w", err)
	}

	q := u.Query()
	for k, v := range clientQuery {
		if sensitiveQueryParams[strings.ToLower(k)] {
			continue
		}
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// setJSONModel rewrites the top-level "model" field of a JSON body to name,
// preserving every other field untouched (§4.8 step 4). Grounded on the
// sjson.SetBytes idiom for model-name rewriting seen in the pack's
// cross-provider request executors.
func setJSONModel(body []byte, name string) ([]byte, error) {
	return sjson.SetBytes(body, "model", name)
}

// requestedJSONModel reads the client-requested model name back out of a
// body, for logging the rewrite without a full unmarshal.
func requestedJSONModel(body []byte) string {
	return gjson.GetBytes(body, "model").String()
}
