// Package orchestrator implements the Fallback Orchestrator (§4.11): the
// top-level per-request loop that walks a resolved candidate list, retries
// the cache-affine head of the list up to its Endpoint's budget, and falls
// through to the next candidate on any retriable failure.
//
// Grounded on gateway.go's Route/RouteStream methods for the overall shape
// (resolve once, loop candidates, record metrics, call hooks on terminal
// success/failure) and on src/services/orchestration/fallback_orchestrator.py
// for the exact candidate/retry traversal and the composition of a resolver,
// a dispatcher, and an error classifier as three separate collaborators
// rather than one monolith.
package orchestrator

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/ferro-labs/llm-gateway-core/adaptive"
	"github.com/ferro-labs/llm-gateway-core/affinity"
	"github.com/ferro-labs/llm-gateway-core/candidates"
	"github.com/ferro-labs/llm-gateway-core/catalog"
	"github.com/ferro-labs/llm-gateway-core/concurrency"
	"github.com/ferro-labs/llm-gateway-core/convert"
	"github.com/ferro-labs/llm-gateway-core/dispatch"
	"github.com/ferro-labs/llm-gateway-core/errs"
	"github.com/ferro-labs/llm-gateway-core/health"
	"github.com/ferro-labs/llm-gateway-core/internal/logging"
	"github.com/ferro-labs/llm-gateway-core/internal/metrics"
	"github.com/ferro-labs/llm-gateway-core/ratelimitclass"
	"github.com/ferro-labs/llm-gateway-core/stream"
)

// maxErrorSniffBytes bounds how much of an error response body the
// orchestrator will buffer to classify it and extract a message sample.
const maxErrorSniffBytes = 1 << 20

// Request is one inbound call's input: the candidate-resolution shape plus
// the dispatch-time body/headers/query that stay constant across every
// candidate tried.
type Request struct {
	candidates.Request

	Body   []byte
	Header http.Header
	Query  map[string]string
}

// Result is what the caller gets back: the winning attempt's raw upstream
// response plus the bookkeeping the HTTP surface needs to finish the
// response (which candidate served it, how many attempts it took).
type Result struct {
	dispatch.Result

	CanonicalModelID string
	Candidate        candidates.Candidate
	Attempts         int

	// streamBox, set only for a streaming success, carries the Stream
	// Processor's final Outcome (TTFB, usage) through to finishSuccessUsage
	// once the client finishes draining the body.
	streamBox *streamOutcomeBox
}

// RecordStore persists Candidate Record transitions (§4.13): available →
// pending → (streaming → success) | success | failed | skipped. A nil
// RecordStore makes every transition a no-op, so the orchestrator runs
// without a persistence layer wired up.
type RecordStore interface {
	// MarkAvailable pre-creates one row per attempt slot before any dispatch
	// is attempted, snapshotting the candidate it was allocated for and the
	// request's required-capability set.
	MarkAvailable(id candidates.RecordID, cand candidates.Candidate, requiredCapabilities map[string]bool)
	MarkPending(id candidates.RecordID)
	MarkSkipped(id candidates.RecordID, cand candidates.Candidate, reason string)
	MarkStreaming(id candidates.RecordID)
	MarkSuccess(id candidates.RecordID, statusCode int, latency time.Duration, observedInFlight int)
	MarkFailed(id candidates.RecordID, statusCode int, latency time.Duration, observedInFlight int, errKind, errMessage string)
}

// UsageRecord is one ledger row per inbound request (§4.12), written exactly
// once per request regardless of how many candidates were attempted.
type UsageRecord struct {
	CallerID         string
	ClientFormat     catalog.APIFormat
	CanonicalModelID string

	// Provider/Endpoint/CredentialID name the winning candidate, or are
	// empty with Provider == "unknown" when the request did not end on a
	// candidate (resolution failed, or every candidate failed).
	Provider     string
	EndpointID   string
	CredentialID string

	Stream     bool
	Success    bool
	StatusCode int
	ErrorKind  string

	TTFB      time.Duration
	TotalTime time.Duration

	// RequestHeader is req.Header with sensitive entries scrubbed (§4.12).
	RequestHeader http.Header
	RequestBody   []byte

	Extra map[string]string
}

// sensitiveHeaders lists the request headers a Usage Recorder must never
// persist verbatim, scrubbed case-insensitively before the ledger row is
// built.
var sensitiveHeaders = []string{"Authorization", "X-Api-Key", "X-Goog-Api-Key", "Cookie", "Set-Cookie"}

// scrubHeaders returns a copy of h with sensitiveHeaders values replaced by
// a fixed redaction marker, leaving everything else untouched.
func scrubHeaders(h http.Header) http.Header {
	if h == nil {
		return nil
	}
	out := h.Clone()
	for _, name := range sensitiveHeaders {
		if out.Get(name) != "" {
			out.Set(name, "[redacted]")
		}
	}
	return out
}

// UsageRecorder persists one UsageRecord per request. Nil is a valid no-op.
type UsageRecorder interface {
	Record(ctx context.Context, rec UsageRecord)
}

// Orchestrator implements §4.11, composing the already-built Candidate
// Resolver, Request Dispatcher, Health Monitor, Cache-Affinity Store, and
// Adaptive Tuner.
type Orchestrator struct {
	Resolver    *candidates.Resolver
	Dispatcher  *dispatch.Dispatcher
	Health      *health.Monitor
	Affinity    *affinity.Store
	Adaptive    *adaptive.Tuner
	Concurrency *concurrency.Manager

	// Stream runs every streaming attempt's upstream body through the
	// Stream Processor (§4.9): early embedded-error sniffing, cross-format
	// conversion, TTFB/usage extraction. Nil forwards the raw upstream
	// stream unprocessed — only acceptable when no two formats in the
	// catalog ever differ, since no conversion or sniffing happens in that
	// mode.
	Stream     *stream.Processor
	Converters *convert.Registry

	Records RecordStore
	Usage   UsageRecorder

	// ReservationRatio is forwarded to the Dispatcher's Concurrency.TryAcquire
	// call on every attempt; see §6's configuration knobs.
	ReservationRatio float64

	// rpmLimiters paces same-credential retries after an RPM-classified 429,
	// keyed by credential id. Concurrency-classified 429s don't use this:
	// those are handled by shrinking the adaptive ceiling instead of pacing.
	rpmLimiters sync.Map
}

// rpmLimiterFor returns (creating if absent) the per-credential limiter used
// to pace retries after an RPM-classified 429, re-tuned to retryAfterS when
// the upstream provided one.
func (o *Orchestrator) rpmLimiterFor(credentialID string, retryAfterS *int) *rate.Limiter {
	interval := time.Second
	if retryAfterS != nil && *retryAfterS > 0 {
		interval = time.Duration(*retryAfterS) * time.Second
	}
	limit := rate.Every(interval)
	if v, ok := o.rpmLimiters.Load(credentialID); ok {
		lim := v.(*rate.Limiter)
		lim.SetLimit(limit)
		return lim
	}
	lim := rate.NewLimiter(limit, 1)
	actual, _ := o.rpmLimiters.LoadOrStore(credentialID, lim)
	return actual.(*rate.Limiter)
}

// waitForRPM blocks the retry until the credential's RPM-paced limiter admits
// another request, or returns ctx's error if the request is cancelled first.
func (o *Orchestrator) waitForRPM(ctx context.Context, credentialID string, retryAfterS *int) error {
	lim := o.rpmLimiterFor(credentialID, retryAfterS)
	waitStart := time.Now()
	err := lim.Wait(ctx)
	metrics.RPMPaceWaitSeconds.WithLabelValues(credentialID).Observe(time.Since(waitStart).Seconds())
	if err != nil {
		return errs.Wrap(errs.KindUpstreamUnavailable, "rate-limit pacing wait interrupted", err)
	}
	return nil
}

// Run executes the full fallback loop for one inbound request.
func (o *Orchestrator) Run(ctx context.Context, req Request) (res Result, runErr error) {
	start := time.Now()
	defer func() {
		provider := "unknown"
		status := "success"
		if runErr != nil {
			status = "error"
		} else {
			provider = res.Candidate.Provider.ID
		}
		metrics.RequestsTotal.WithLabelValues(provider, req.ModelName, status).Inc()
		metrics.RequestDuration.WithLabelValues(provider, req.ModelName).Observe(time.Since(start).Seconds())
	}()

	resolved, err := o.Resolver.Resolve(req.Request)
	if err != nil {
		o.recordUsage(ctx, req, usageOutcome{err: err}, start)
		return Result{}, err
	}

	records := candidates.PreAllocate(resolved.Candidates)
	if o.Records != nil {
		for key, id := range records {
			o.Records.MarkAvailable(id, resolved.Candidates[key[0]], req.RequiredCapabilities)
		}
	}

	var lastErr error
	attempts := 0

candidateLoop:
	for i, cand := range resolved.Candidates {
		if cand.IsSkipped {
			if o.Records != nil {
				o.Records.MarkSkipped(records[[2]int{i, 0}], cand, cand.SkipReason)
			}
			continue
		}

		maxRetriesHere := 1
		if cand.IsCached {
			maxRetriesHere = cand.Endpoint.MaxRetries
			if maxRetriesHere <= 0 {
				maxRetriesHere = 1
			}
		}

		for retry := 0; retry < maxRetriesHere; retry++ {
			recordID := records[[2]int{i, retry}]
			attempts++
			attemptStart := time.Now()

			if o.Records != nil {
				o.Records.MarkPending(recordID)
			}

			dres, box, derr := o.attempt(ctx, req, cand, recordID, resolved.CanonicalModelID, attemptStart)
			if derr == nil {
				latency := time.Since(attemptStart)
				inFlight := o.observedInFlight(ctx, cand.Credential.ID)
				o.onSuccess(cand, latency, inFlight, req, resolved.CanonicalModelID)
				if o.Records != nil {
					o.Records.MarkSuccess(recordID, dres.StatusCode, latency, inFlight)
				}
				out := Result{Result: dres, CanonicalModelID: resolved.CanonicalModelID, Candidate: cand, Attempts: attempts, streamBox: box}
				o.finishSuccessUsage(ctx, req, &out, start)
				return out, nil
			}

			lastErr = derr
			latency := time.Since(attemptStart)
			inFlight := o.observedInFlight(ctx, cand.Credential.ID)

			var rlInfo ratelimitclass.Info
			if errs.KindOf(derr) == errs.KindRateLimited {
				if hdr, ok := rateLimitHeader(derr); ok {
					fip := &inFlight
					rlInfo = ratelimitclass.Classify(hdr, cand.Provider.Name, fip)
				}
			}

			hasRetryLeft := retry < maxRetriesHere-1
			d := classify(derr, rlInfo, hasRetryLeft)

			errKind := errs.KindOf(derr).String()
			if o.Records != nil {
				// §4.11's error→action table marks a slot refusal "skipped",
				// not "failed" — the candidate itself was never reached.
				if errs.KindOf(derr) == errs.KindConcurrencyLimitReached {
					o.Records.MarkSkipped(recordID, cand, errKind)
				} else {
					o.Records.MarkFailed(recordID, errs.KindOf(derr).HTTPStatus(), latency, inFlight, errKind, derr.Error())
				}
			}
			o.onFailure(cand, d, inFlight, req, resolved.CanonicalModelID, errKind)

			switch d.action {
			case ActionRaise:
				o.recordUsage(ctx, req, usageOutcome{err: derr, cand: &cand}, start)
				return Result{}, derr
			case ActionBreak:
				continue candidateLoop
			case ActionContinue:
				if d.isRateLimit && d.rateLimitKind == ratelimitclass.KindRPM {
					if waitErr := o.waitForRPM(ctx, cand.Credential.ID, rlInfo.RetryAfterS); waitErr != nil {
						o.recordUsage(ctx, req, usageOutcome{err: waitErr, cand: &cand}, start)
						return Result{}, waitErr
					}
				}
				continue
			}
		}
	}

	finalErr := errs.New(errs.KindAllCandidatesFailed, "no candidate could serve this request")
	if lastErr != nil {
		finalErr = finalErr.WithUpstream(errs.KindOf(lastErr).HTTPStatus(), lastErr.Error())
	}
	o.recordUsage(ctx, req, usageOutcome{err: finalErr}, start)
	return Result{}, finalErr
}

// attempt runs one dispatch call and turns an upstream HTTP status/body that
// signals failure into a classified error, buffering the body when doing so
// requires peeking at it (§4.11's convert_http_error equivalent). For a
// streaming 2xx it hands the body to runStream instead of returning it raw,
// so the Stream Processor's early-error sniff, cross-format conversion, and
// TTFB/usage extraction (§4.9) actually run on the request path.
func (o *Orchestrator) attempt(ctx context.Context, req Request, cand candidates.Candidate, recordID candidates.RecordID, canonicalModelID string, attemptStart time.Time) (dispatch.Result, *streamOutcomeBox, error) {
	res, err := o.Dispatcher.Do(ctx, dispatch.Request{
		Candidate:         cand,
		CandidateRecordID: recordID,
		Body:              req.Body,
		Header:            req.Header,
		Query:             req.Query,
		Stream:            req.Stream,
		ClientFormat:      req.ClientFormat,
		CanonicalModelID:  canonicalModelID,
		ReservationRatio:  o.ReservationRatio,
	})
	if err != nil {
		return dispatch.Result{}, nil, err
	}

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		if req.Stream {
			if o.Records != nil {
				o.Records.MarkStreaming(recordID)
			}
			sres, box, serr := o.runStream(ctx, res, req, attemptStart)
			return sres, box, serr
		}
		r, cerr := o.checkEmbeddedError(res)
		return r, nil, cerr
	}

	return dispatch.Result{}, nil, o.classifyHTTPFailure(res)
}

// streamOutcomeBox hands the Stream Processor's terminal Outcome from the
// background goroutine draining the upstream body through to
// usageTrackingBody.Close, which runs once the client finishes reading.
// Writes happen only in that one goroutine before it closes the pipe the
// reader drains, so by the time Close observes writes via get the value is
// already settled — no lock needed beyond visibility, which io.Pipe's own
// synchronization (a Close/Read happens-after every prior Write) provides.
type streamOutcomeBox struct {
	outcome stream.Outcome
	ready   bool
}

func (b *streamOutcomeBox) set(o stream.Outcome) {
	b.outcome = o
	b.ready = true
}

func (b *streamOutcomeBox) get() (stream.Outcome, bool) {
	if b == nil {
		return stream.Outcome{}, false
	}
	return b.outcome, b.ready
}

// runStream hands res.Body to the Stream Processor (§4.9). It blocks only
// until the processor either signals the first forwardable byte (the early
// embedded-error sniff passed) or fails before forwarding anything, then
// returns — the processor keeps draining the upstream body into the
// returned Result's Body on a background goroutine, converting each event
// to req.ClientFormat when the upstream speaks a different dialect.
func (o *Orchestrator) runStream(ctx context.Context, res dispatch.Result, req Request, attemptStart time.Time) (dispatch.Result, *streamOutcomeBox, error) {
	if o.Stream == nil {
		// No Stream Processor wired: fall back to forwarding the raw
		// upstream body, which only loses fidelity when upstream and client
		// formats actually differ or an embedded error needs sniffing.
		return res, nil, nil
	}

	pr, pw := io.Pipe()
	box := &streamOutcomeBox{}
	ready := make(chan error, 1)
	var readyOnce sync.Once
	signalReady := func(err error) { readyOnce.Do(func() { ready <- err }) }

	go func() {
		defer res.Body.Close()
		sinkCalled := false
		outcome, perr := o.Stream.Process(stream.Options{
			UpstreamFormat: res.UpstreamFormat,
			ClientFormat:   req.ClientFormat,
			Body:           res.Body,
			Converters:     o.Converters,
			Disconnected:   func() bool { return ctx.Err() != nil },
			Sink: func(data []byte) error {
				if !sinkCalled {
					sinkCalled = true
					signalReady(nil)
				}
				_, werr := pw.Write(data)
				return werr
			},
		})
		if perr != nil {
			// Embedded error (or HTML-page misconfiguration) caught by the
			// sniff window before any byte was forwarded: no pipe reader
			// has seen anything yet, so this still surfaces as a dispatch
			// failure the orchestrator can fall through on (§8 property 6).
			_ = pw.CloseWithError(perr)
			signalReady(perr)
			return
		}
		if !sinkCalled && outcome.Status == stream.StatusEmptyResponse {
			// The whole stream ended without ever forwarding a byte — treat
			// it the same as a pre-sniff embedded error rather than handing
			// the orchestrator a "success" with an empty body.
			err := outcome.Err
			if err == nil {
				err = stream.EmbeddedError("stream ended with no data events")
			}
			_ = pw.CloseWithError(err)
			signalReady(err)
			return
		}
		box.set(outcome)
		_ = pw.Close()
		signalReady(nil)
		o.Stream.FlushTelemetry(attemptStart, outcome, func(responseTimeMs int64, oc stream.Outcome) {
			logging.Logger.Info("stream completed",
				"response_time_ms", responseTimeMs, "status", string(oc.Status), "data_events", oc.DataEventCount)
		})
	}()

	if err := <-ready; err != nil {
		return dispatch.Result{}, nil, err
	}
	out := res
	out.Body = pr
	return out, box, nil
}

// checkEmbeddedError buffers a 2xx non-streaming body to detect the Gemini
// pattern of a 200 response carrying a top-level "error" payload, then hands
// the caller a fresh reader over the same bytes either way.
func (o *Orchestrator) checkEmbeddedError(res dispatch.Result) (dispatch.Result, error) {
	body, readErr := io.ReadAll(io.LimitReader(res.Body, maxErrorSniffBytes))
	_ = res.Body.Close()
	if readErr != nil {
		return dispatch.Result{}, errs.Wrap(errs.KindUpstreamUnavailable, "failed reading upstream response body", readErr)
	}

	if gjson.GetBytes(body, "error").Exists() {
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = gjson.GetBytes(body, "error").String()
		}
		return dispatch.Result{}, errs.New(errs.KindEmbeddedError, "upstream returned a 200 response carrying an error payload").WithUpstream(res.StatusCode, msg)
	}

	res.Body = io.NopCloser(bytes.NewReader(body))
	return res, nil
}

// classifyHTTPFailure turns a non-2xx upstream response into the most
// specific *errs.Error the status code and body text support, per §4.11's
// error→action table and error_classifier.py's convert_http_error.
func (o *Orchestrator) classifyHTTPFailure(res dispatch.Result) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorSniffBytes))
	_ = res.Body.Close()
	text := extractErrorText(body)

	switch {
	case res.StatusCode == http.StatusUnauthorized:
		return errs.New(errs.KindUpstreamAuth, "upstream rejected the credential").WithUpstream(res.StatusCode, text)
	case res.StatusCode == http.StatusTooManyRequests:
		return withRateLimitHeader(errs.New(errs.KindRateLimited, "upstream rate limit").WithUpstream(res.StatusCode, text), res.Header)
	case isClientErrorText(text):
		return errs.New(errs.KindClientRequestError, "upstream rejected the request body").WithUpstream(res.StatusCode, text)
	case res.StatusCode >= 500:
		return errs.New(errs.KindUpstreamUnavailable, "upstream server error").WithUpstream(res.StatusCode, text)
	default:
		// Any other 4xx not matching a known client-error pattern is treated
		// as a retriable upstream condition: another candidate's provider may
		// not share whatever rejected this one.
		return errs.New(errs.KindUpstreamUnavailable, "upstream rejected the request").WithUpstream(res.StatusCode, text)
	}
}

// extractErrorText pulls a human-readable message out of the common
// {"error":{"type":...,"message":...}} / {"error":"..."} / {"message":...}
// upstream error body shapes, falling back to the raw (truncated) body.
// When both error.type and error.message are present it returns
// "type: message", matching error_classifier.py:_extract_error_message so a
// client-error classification (Scenario 4) reports e.g.
// "invalid_request_error: prompt is too long" rather than the bare message.
func extractErrorText(body []byte) string {
	msg := gjson.GetBytes(body, "error.message").String()
	typ := gjson.GetBytes(body, "error.type").String()
	if msg != "" && typ != "" {
		return typ + ": " + msg
	}
	if msg != "" {
		return msg
	}
	if msg := gjson.GetBytes(body, "error").String(); msg != "" {
		return msg
	}
	if msg := gjson.GetBytes(body, "message").String(); msg != "" {
		return msg
	}
	return errs.Truncate(string(body), 500)
}

// rateLimitCarrier is an unexported context-free carrier: classifyHTTPFailure
// attaches the upstream response header onto the *errs.Error via a sentinel
// field on Error.Err, so the fallback loop can re-run ratelimitclass.Classify
// against the same headers without threading them through every call.
type rateLimitCarrier struct{ header http.Header }

func (rateLimitCarrier) Error() string { return "rate limit header carrier" }

func withRateLimitHeader(e *errs.Error, header http.Header) *errs.Error {
	e.Err = rateLimitCarrier{header: header}
	return e
}

func rateLimitHeader(err error) (http.Header, bool) {
	e, ok := err.(*errs.Error)
	if !ok {
		return nil, false
	}
	c, ok := e.Err.(rateLimitCarrier)
	if !ok {
		return nil, false
	}
	return c.header, true
}

// onSuccess applies the success side-effects: health reset, adaptive
// concurrency learning, and refreshing cache affinity.
func (o *Orchestrator) onSuccess(cand candidates.Candidate, latency time.Duration, inFlight int, req Request, canonicalModelID string) {
	metrics.CandidateAttemptsTotal.WithLabelValues(cand.Provider.ID, "success").Inc()
	if o.Health != nil {
		o.Health.RecordSuccess(cand.Credential.ID, latency)
		metrics.CircuitBreakerState.WithLabelValues(cand.Credential.ID).Set(float64(o.Health.State(cand.Credential.ID)))
	}
	if o.Adaptive != nil && cand.Credential.MaxConcurrent == nil {
		limit := o.Adaptive.HandleSuccess(cand.Credential.ID, inFlight)
		metrics.AdaptiveLimit.WithLabelValues(cand.Credential.ID).Set(float64(limit))
	}
	if o.Affinity != nil && cand.Credential.CacheTTLMinutes > 0 {
		key := affinityKey(req, canonicalModelID)
		o.Affinity.Set(key, affinityTarget(cand), time.Duration(cand.Credential.CacheTTLMinutes)*time.Minute)
		metrics.CacheAffinityOutcomes.WithLabelValues("set").Inc()
	}
}

// onFailure applies a classified failure's side-effects: health penalty,
// affinity invalidation, and adaptive 429 handling. errKind labels the
// ProviderErrors counter with the originating errs.Kind.
func (o *Orchestrator) onFailure(cand candidates.Candidate, d decision, inFlight int, req Request, canonicalModelID, errKind string) {
	metrics.CandidateAttemptsTotal.WithLabelValues(cand.Provider.ID, "failure").Inc()
	metrics.ProviderErrors.WithLabelValues(cand.Provider.ID, errKind).Inc()
	if d.action == ActionBreak && !d.countsAsHealthFail && !d.isRateLimit {
		metrics.RateLimitRejections.WithLabelValues(cand.Credential.ID).Inc()
	}
	if d.countsAsHealthFail && o.Health != nil {
		o.Health.RecordFailure(cand.Credential.ID)
		metrics.CircuitBreakerState.WithLabelValues(cand.Credential.ID).Set(float64(o.Health.State(cand.Credential.ID)))
	}
	if d.invalidateAffinity && o.Affinity != nil {
		key := affinityKey(req, canonicalModelID)
		o.Affinity.Invalidate(key, affinityTarget(cand))
		metrics.CacheAffinityOutcomes.WithLabelValues("invalidated").Inc()
	}
	if d.isRateLimit && o.Adaptive != nil && cand.Credential.MaxConcurrent == nil {
		fip := inFlight
		limit := o.Adaptive.Handle429(cand.Credential.ID, d.rateLimitKind, &fip)
		metrics.AdaptiveLimit.WithLabelValues(cand.Credential.ID).Set(float64(limit))
	}
}

// affinityKey builds the same (caller, format, canonical model) key the
// Candidate Resolver used to look up this request's cache affinity (§4.7).
func affinityKey(req Request, canonicalModelID string) affinity.Key {
	return affinity.Key{CallerID: req.CallerID, ClientFormat: string(req.ClientFormat), CanonicalModelID: canonicalModelID}
}

func affinityTarget(cand candidates.Candidate) affinity.Target {
	return affinity.Target{EndpointID: cand.Endpoint.ID, CredentialID: cand.Credential.ID}
}

func (o *Orchestrator) observedInFlight(ctx context.Context, credentialID string) int {
	if o.Concurrency == nil {
		return 0
	}
	n, err := o.Concurrency.CurrentCredentialInFlight(ctx, credentialID)
	if err != nil {
		logging.Logger.Warn("failed to read observed in-flight count", "error", err, "credential_id", credentialID)
		return 0
	}
	metrics.InFlightSlots.WithLabelValues(credentialID).Set(float64(n))
	return n
}

type usageOutcome struct {
	err  error
	cand *candidates.Candidate
}

func (o *Orchestrator) recordUsage(ctx context.Context, req Request, outcome usageOutcome, start time.Time) {
	if o.Usage == nil {
		return
	}
	rec := UsageRecord{
		CallerID:      req.CallerID,
		ClientFormat:  req.ClientFormat,
		Stream:        req.Stream,
		Provider:      "unknown",
		Success:       false,
		TotalTime:     time.Since(start),
		RequestHeader: scrubHeaders(req.Header),
		RequestBody:   req.Body,
	}
	if outcome.cand != nil {
		rec.Provider = outcome.cand.Provider.Name
		rec.EndpointID = outcome.cand.Endpoint.ID
		rec.CredentialID = outcome.cand.Credential.ID
	}
	if outcome.err != nil {
		rec.ErrorKind = errs.KindOf(outcome.err).String()
		rec.StatusCode = errs.KindOf(outcome.err).HTTPStatus()
	}
	o.Usage.Record(ctx, rec)
}

func (o *Orchestrator) finishSuccessUsage(ctx context.Context, req Request, res *Result, start time.Time) {
	if o.Usage == nil {
		return
	}
	rec := UsageRecord{
		CallerID:         req.CallerID,
		ClientFormat:     req.ClientFormat,
		CanonicalModelID: res.CanonicalModelID,
		Provider:         res.Candidate.Provider.Name,
		EndpointID:       res.Candidate.Endpoint.ID,
		CredentialID:     res.Candidate.Credential.ID,
		Stream:           req.Stream,
		Success:          true,
		StatusCode:       res.StatusCode,
		RequestHeader:    scrubHeaders(req.Header),
		RequestBody:      req.Body,
	}

	if !req.Stream {
		rec.TotalTime = time.Since(start)
		o.Usage.Record(ctx, rec)
		return
	}

	// For a streaming success, TTFB and token usage are only known once the
	// Stream Processor has run; until its Outcome lands in res.streamBox
	// (or if no Stream Processor is wired at all) this is the best estimate
	// available. Total time is only known once the body is fully drained;
	// wrap it so the usage row is written exactly once, on Close.
	rec.TTFB = time.Since(start)
	res.Result.Body = &usageTrackingBody{ReadCloser: res.Result.Body, start: start, record: rec, usage: o.Usage, ctx: ctx, box: res.streamBox}
}

// usageTrackingBody writes the request's Usage ledger row exactly once, when
// a streaming response body is closed by its ultimate caller, folding in the
// Stream Processor's real TTFB and extracted usage counters when box has
// settled by then.
type usageTrackingBody struct {
	io.ReadCloser
	start  time.Time
	record UsageRecord
	usage  UsageRecorder
	ctx    context.Context
	box    *streamOutcomeBox
	done   bool
}

func (b *usageTrackingBody) Close() error {
	err := b.ReadCloser.Close()
	if !b.done {
		b.done = true
		b.record.TotalTime = time.Since(b.start)
		if oc, ok := b.box.get(); ok {
			if !oc.FirstByteAt.IsZero() {
				b.record.TTFB = oc.FirstByteAt.Sub(b.start)
			}
			b.record.Extra = usageExtra(oc.Usage)
		}
		b.usage.Record(b.ctx, b.record)
	}
	return err
}

// usageExtra renders a convert.Usage into the UsageRecord's free-form Extra
// map (§4.12: "a snapshot of ... response metadata"); the core never
// computes cost, so these are the raw token counts for an external
// cost-calculation collaborator to consume.
func usageExtra(u convert.Usage) map[string]string {
	return map[string]string{
		"input_tokens":       strconv.Itoa(u.InputTokens),
		"output_tokens":      strconv.Itoa(u.OutputTokens),
		"cache_read_tokens":  strconv.Itoa(u.CacheReadTokens),
		"cache_write_tokens": strconv.Itoa(u.CacheWriteTokens),
	}
}
