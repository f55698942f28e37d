// Package dispatch implements the Request Dispatcher (§4.8): executes one
// attempt against one candidates.Candidate — acquire a concurrency slot,
// convert the body if the client and upstream speak different dialects,
// rewrite the model field and auth headers, compose the upstream URL, issue
// the HTTP call, and release the slot on every exit path.
//
// Grounded on providers/anthropic.go and providers/openai.go
// (http.Client construction, header setting, request building per vendor),
// generalized from one hand-written method per vendor to a single
// format-driven builder plus the §4.10 Protocol Converter Registry for the
// body, and on providers/base.go's Base struct for the name/baseURL/apiKey
// shape each Credential+Endpoint pair now plays.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ferro-labs/llm-gateway-core/adaptive"
	"github.com/ferro-labs/llm-gateway-core/candidates"
	"github.com/ferro-labs/llm-gateway-core/catalog"
	"github.com/ferro-labs/llm-gateway-core/concurrency"
	"github.com/ferro-labs/llm-gateway-core/convert"
	"github.com/ferro-labs/llm-gateway-core/errs"
	"github.com/ferro-labs/llm-gateway-core/internal/logging"
)

// Request is one dispatch attempt's input, per the §4.8 contract.
type Request struct {
	Candidate         candidates.Candidate
	CandidateRecordID candidates.RecordID

	Body   []byte // the client-format request body, unmodified
	Header http.Header
	Query  map[string]string // client-supplied query params, pre-filtering

	Stream           bool
	ClientFormat     catalog.APIFormat
	CanonicalModelID string
	ReservationRatio float64
}

// Result is a successful dispatch's raw upstream response. Body must be
// closed by the caller; for streaming responses it is handed straight to
// the stream package.
type Result struct {
	StatusCode     int
	Header         http.Header
	Body           io.ReadCloser
	UpstreamFormat catalog.APIFormat
}

// MarkStarted is invoked synchronously before the slot acquisition attempt,
// letting the Candidate Record Store (see candrecord) transition the record
// to "started" (§4.13). Nil is a valid no-op.
type MarkStarted func(candidates.RecordID)

// Dispatcher implements §4.8.
type Dispatcher struct {
	Concurrency *concurrency.Manager
	Converters  *convert.Registry
	HTTPClient  *http.Client
	Bedrock     *bedrockTransport // nil when no Endpoint uses TransportBedrock

	MarkStarted MarkStarted
}

// New constructs a Dispatcher. httpClient may be nil to use a default
// client with no extra transport tuning.
func New(mgr *concurrency.Manager, converters *convert.Registry, httpClient *http.Client) *Dispatcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Dispatcher{Concurrency: mgr, Converters: converters, HTTPClient: httpClient, Bedrock: newBedrockTransport()}
}

// hopByHopHeaders are stripped from the client's headers before merging in
// the Endpoint's own auth scheme (§4.8 step 4).
var hopByHopHeaders = map[string]bool{
	"authorization":     true,
	"host":              true,
	"content-length":    true,
	"transfer-encoding": true,
	"x-api-key":         true,
	"x-goog-api-key":    true,
	"anthropic-version": false, // passed through; not vendor auth
}

// Do executes one dispatch attempt per §4.8's numbered steps.
func (d *Dispatcher) Do(ctx context.Context, req Request) (Result, error) {
	if d.MarkStarted != nil {
		d.MarkStarted(req.CandidateRecordID)
	}

	if err := validateResponseFormatSchema(req.Body); err != nil {
		return Result{}, errs.Wrap(errs.KindClientRequestError, "invalid structured output schema", err)
	}

	cand := req.Candidate
	acquired, err := d.Concurrency.TryAcquire(ctx, cand.Endpoint.ID, cand.Endpoint.MaxConcurrent,
		cand.Credential.ID, credentialCap(cand.Credential), cand.IsCached, req.ReservationRatio)
	if err != nil {
		return Result{}, errs.Wrap(errs.KindInternalError, "concurrency backend error", err)
	}
	if !acquired {
		return Result{}, errs.New(errs.KindConcurrencyLimitReached, "no concurrency slot available for this candidate")
	}
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		if err := d.Concurrency.Release(ctx, cand.Endpoint.ID, cand.Credential.ID); err != nil {
			logging.Logger.Warn("failed to release concurrency slot", "error", err, "endpoint_id", cand.Endpoint.ID, "credential_id", cand.Credential.ID)
		}
	}
	defer release()

	body, err := d.buildBody(req)
	if err != nil {
		return Result{}, errs.Wrap(errs.KindClientRequestError, "failed to build upstream request body", err)
	}

	targetURL, err := buildURL(cand.Endpoint, req.Stream, cand.ProviderModelName, req.Query)
	if err != nil {
		return Result{}, errs.Wrap(errs.KindInternalError, "failed to compose upstream URL", err)
	}

	header := buildHeaders(req.Header, cand.Endpoint, cand.Credential)

	timeout := cand.Endpoint.Timeout
	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	keepCtx := false // set once the returned Body takes over cancel
	defer func() {
		if !keepCtx {
			cancel()
		}
	}()

	if cand.Endpoint.Transport == catalog.TransportBedrock {
		if d.Bedrock == nil {
			d.Bedrock = newBedrockTransport()
		}
		res, err := d.doBedrock(callCtx, cand, req, body)
		if err != nil {
			release()
			return Result{}, err
		}
		released, keepCtx = true, true
		res.Body = &releasingBody{ReadCloser: res.Body, release: func() { cancel(); _ = d.Concurrency.Release(ctx, cand.Endpoint.ID, cand.Credential.ID) }}
		return res, nil
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, errs.Wrap(errs.KindInternalError, "failed to build http request", err)
	}
	httpReq.Header = header

	httpResp, err := d.HTTPClient.Do(httpReq)
	if err != nil {
		return Result{}, errs.Wrap(errs.KindUpstreamUnavailable, "transport error calling upstream", err)
	}

	// The slot must stay held until the response body is fully drained
	// (streaming or not), so ownership of the release passes to the
	// returned Result's Body: closing it releases the slot exactly once.
	released, keepCtx = true, true
	return Result{
		StatusCode:     httpResp.StatusCode,
		Header:         httpResp.Header,
		Body:           &releasingBody{ReadCloser: httpResp.Body, release: func() { cancel(); _ = d.Concurrency.Release(ctx, cand.Endpoint.ID, cand.Credential.ID) }},
		UpstreamFormat: cand.Endpoint.Format,
	}, nil
}

// releasingBody releases the concurrency slot exactly once, on Close.
type releasingBody struct {
	io.ReadCloser
	release func()
	done    bool
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	if !b.done {
		b.done = true
		b.release()
	}
	return err
}

func credentialCap(c catalog.Credential) int {
	if c.MaxConcurrent != nil {
		return *c.MaxConcurrent
	}
	if c.Adaptive.LearnedMaxConcurrent > 0 {
		return c.Adaptive.LearnedMaxConcurrent
	}
	return adaptive.DefaultDefaults().InitialLimit
}

// buildBody runs the Protocol Converter when the client and upstream
// formats differ, then rewrites the model field to the provider's own
// model name via a non-destructive JSON patch that preserves every other
// client-supplied field (§4.8 step 4).
func (d *Dispatcher) buildBody(req Request) ([]byte, error) {
	body := req.Body
	upstreamFormat := req.Candidate.Endpoint.Format

	if req.ClientFormat != upstreamFormat {
		if d.Converters == nil {
			return nil, fmt.Errorf("no converter registry configured for %s -> %s", req.ClientFormat, upstreamFormat)
		}
		conv := d.Converters.Lookup(req.ClientFormat, upstreamFormat)
		if conv == nil || conv.ConvertRequest == nil {
			return nil, fmt.Errorf("no request converter registered for %s -> %s", req.ClientFormat, upstreamFormat)
		}
		converted, err := conv.ConvertRequest(body)
		if err != nil {
			return nil, fmt.Errorf("converting request body: %w", err)
		}
		body = converted
	}

	if from := requestedJSONModel(body); from != "" && from != req.Candidate.ProviderModelName {
		logging.Logger.Debug("rewriting model field for upstream", "from", from, "to", req.Candidate.ProviderModelName)
	}

	return rewriteModelField(body, upstreamFormat, req.Candidate.ProviderModelName)
}

func rewriteModelField(body []byte, format catalog.APIFormat, providerModelName string) ([]byte, error) {
	switch format {
	case catalog.FormatGemini:
		// Gemini carries the model in the URL path, not the JSON body.
		return body, nil
	default:
		return setJSONModel(body, providerModelName)
	}
}

// buildHeaders starts from the client's own headers, strips hop-by-hop and
// vendor-auth headers, injects the Credential's secret in the
// format-appropriate scheme, and merges the Endpoint's default headers
// (§4.8 step 4, §6 auth table).
func buildHeaders(client http.Header, ep catalog.Endpoint, cred catalog.Credential) http.Header {
	out := make(http.Header, len(client)+4)
	for k, vs := range client {
		if hopByHopHeaders[strings.ToLower(k)] {
			continue
		}
		out[k] = append([]string(nil), vs...)
	}

	switch ep.Format {
	case catalog.FormatAnthropic:
		out.Set("x-api-key", cred.Secret)
	case catalog.FormatAnthropicCLI, catalog.FormatOpenAIChat, catalog.FormatOpenAIResp:
		out.Set("Authorization", "Bearer "+cred.Secret)
	case catalog.FormatGemini:
		out.Set("x-goog-api-key", cred.Secret)
	}

	for k, v := range ep.Headers {
		if out.Get(k) == "" {
			out.Set(k, v)
		}
	}
	out.Set("Content-Type", "application/json")
	return out
}
