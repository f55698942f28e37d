package stream

import (
	"bufio"
	"errors"
	"io"
	"time"

	"github.com/ferro-labs/llm-gateway-core/catalog"
	"github.com/ferro-labs/llm-gateway-core/convert"
	"github.com/ferro-labs/llm-gateway-core/internal/logging"
)

// Status is the terminal outcome of one stream forwarding pass (§4.9
// Termination).
type Status string

const (
	StatusSuccess         Status = "success"
	StatusEmptyResponse   Status = "empty_response"
	StatusConnectionError Status = "connection_error"
	StatusClientDisconnect Status = "client_disconnect"
)

// Defaults holds the Stream Processor's tunable thresholds (§4.9).
type Defaults struct {
	EmptyChunkThreshold          int
	DataTimeout                  time.Duration
	ClientDisconnectPollInterval time.Duration
	TelemetryFlushDelay          time.Duration
}

// DefaultDefaults returns the stock watchdog/polling/flush thresholds.
func DefaultDefaults() Defaults {
	return Defaults{
		EmptyChunkThreshold:          20,
		DataTimeout:                  30 * time.Second,
		ClientDisconnectPollInterval: 250 * time.Millisecond,
		TelemetryFlushDelay:          100 * time.Millisecond,
	}
}

// Sink receives one forwardable payload (already converted to ClientFormat
// when a conversion was needed). Framing it back onto the wire (SSE
// envelope, Gemini array commas) is the HTTP transport layer's job, which
// is out of scope here.
type Sink func(data []byte) error

// Options configures one Process call.
type Options struct {
	UpstreamFormat catalog.APIFormat
	ClientFormat   catalog.APIFormat
	Body           io.Reader
	Sink           Sink
	// Disconnected is polled at roughly ClientDisconnectPollInterval; a true
	// return stops forwarding and marks the outcome StatusClientDisconnect.
	Disconnected func() bool
	Converters   *convert.Registry
}

// Outcome is the terminal result of a Process call (§4.9 Termination, §4.12
// Usage Recorder inputs).
type Outcome struct {
	Status         Status
	FirstByteAt    time.Time
	DataEventCount int
	Usage          convert.Usage
	ResponseID     string
	StatusCode     int   // 499 when Status == StatusClientDisconnect
	Err            error // set for EmbeddedError / watchdog-synthesized failures
}

// Processor implements the Stream Processor (§4.9).
type Processor struct {
	d Defaults
}

// New constructs a Processor.
func New(d Defaults) *Processor {
	return &Processor{d: d}
}

// Process reads opts.Body as opts.UpstreamFormat, sniffs for an embedded
// error before forwarding anything, converts each event to opts.ClientFormat
// when they differ, writes forwardable payloads to opts.Sink, and returns
// the terminal Outcome.
func (p *Processor) Process(opts Options) (Outcome, error) {
	var outcome Outcome
	var converter *convert.Converter
	if opts.UpstreamFormat != opts.ClientFormat && opts.Converters != nil {
		converter = opts.Converters.Lookup(opts.UpstreamFormat, opts.ClientFormat)
	}

	br := bufio.NewReader(opts.Body)
	if prefix, err := br.Peek(512); err == nil || len(prefix) > 0 {
		if looksLikeHTML(prefix) {
			return Outcome{}, EmbeddedError("upstream returned an HTML response instead of " + string(opts.UpstreamFormat) + " JSON")
		}
	}
	opts.Body = br

	var sniffed []Frame
	sniffDone := false
	forwardingStarted := false
	emptyStreak := 0
	lastUsableAt := time.Now()
	lastPollAt := time.Now()
	var aggUsage convert.Usage
	var sniffErr error

	forward := func(raw []byte) bool {
		if converter != nil {
			if converter.ConvertStreamChunk == nil {
				logging.Logger.Warn("no stream-chunk converter registered, passing chunk through unchanged",
					"source_format", string(opts.UpstreamFormat), "target_format", string(opts.ClientFormat))
				return opts.Sink(raw) == nil
			}
			out, err := converter.ConvertStreamChunk(raw)
			if err != nil {
				logging.Logger.Warn("stream chunk conversion failed, forwarding raw", "error", err)
				out = [][]byte{raw}
			}
			for _, b := range out {
				if err := opts.Sink(b); err != nil {
					return false
				}
			}
			return true
		}
		return opts.Sink(raw) == nil
	}

	handleFrame := func(f Frame) bool {
		if !forwardingStarted {
			outcome.FirstByteAt = time.Now()
			forwardingStarted = true
		}

		ev, ok := convert.ParseStreamEvent(opts.UpstreamFormat, f.Data)
		if ok {
			emptyStreak = 0
			lastUsableAt = time.Now()
			if ev.Kind == "start" && outcome.ResponseID == "" {
				outcome.ResponseID = ev.ID
			}
			if ev.Kind == "delta" {
				outcome.DataEventCount++
			}
			if ev.Usage != nil {
				mergeUsage(&aggUsage, ev.Usage)
			}
		} else {
			emptyStreak++
		}

		if opts.Disconnected != nil && time.Since(lastPollAt) >= p.d.ClientDisconnectPollInterval {
			lastPollAt = time.Now()
			if opts.Disconnected() {
				outcome.Status = StatusClientDisconnect
				outcome.StatusCode = 499
				return false
			}
		}

		if emptyStreak >= p.d.EmptyChunkThreshold && time.Since(lastUsableAt) >= p.d.DataTimeout {
			outcome.Err = EmbeddedError("no usable stream data received before the watchdog timeout")
			outcome.Status = StatusEmptyResponse
			return false
		}

		return forward(f.Data)
	}

	emit := func(f Frame) bool {
		if !sniffDone {
			sniffed = append(sniffed, f)
			if len(sniffed) < earlyErrorWindow {
				return true
			}
			sniffDone = true
			for _, sf := range sniffed {
				if msg, bad := sniffEmbeddedError(opts.UpstreamFormat, sf.Data); bad {
					sniffErr = EmbeddedError(msg)
					return false
				}
			}
			for _, sf := range sniffed {
				if !handleFrame(sf) {
					return false
				}
			}
			return true
		}
		return handleFrame(f)
	}

	readErr := ReadFrames(opts.UpstreamFormat, opts.Body, emit)

	if sniffErr != nil {
		return Outcome{}, sniffErr
	}

	// Fewer than earlyErrorWindow frames arrived in total (stream ended
	// during the sniff buffer); still must run the sniff + forward pass.
	if !sniffDone && len(sniffed) > 0 {
		for _, sf := range sniffed {
			if msg, bad := sniffEmbeddedError(opts.UpstreamFormat, sf.Data); bad {
				return Outcome{}, EmbeddedError(msg)
			}
		}
		for _, sf := range sniffed {
			handleFrame(sf)
		}
	}

	outcome.Usage = aggUsage

	if outcome.Status == StatusClientDisconnect || outcome.Status == StatusEmptyResponse {
		return outcome, nil
	}

	if readErr != nil && !errors.Is(readErr, io.EOF) {
		if outcome.DataEventCount > 0 {
			outcome.Status = StatusConnectionError
			return outcome, nil
		}
		outcome.Status = StatusEmptyResponse
		outcome.Err = EmbeddedError("upstream connection failed before any data was received")
		return outcome, nil
	}

	if outcome.DataEventCount == 0 {
		outcome.Status = StatusEmptyResponse
		outcome.Err = EmbeddedError("stream ended with no data events")
		return outcome, nil
	}

	outcome.Status = StatusSuccess
	return outcome, nil
}

// FlushTelemetry computes response-time-in-ms from startedAt (captured
// before any post-close delay, per §9 Open Question 3) and then, after a
// small fixed delay, invokes record with the final outcome — matching the
// "background task that waits a small delay" language in §4.9.
func (p *Processor) FlushTelemetry(startedAt time.Time, outcome Outcome, record func(responseTimeMs int64, outcome Outcome)) {
	responseTimeMs := time.Since(startedAt).Milliseconds()
	go func() {
		time.Sleep(p.d.TelemetryFlushDelay)
		record(responseTimeMs, outcome)
	}()
}
