// Package stream implements the Stream Processor (§4.9): parses an
// upstream SSE or Gemini JSON-array body into per-chunk text/usage/tool-call
// events, sniffs embedded errors before any byte reaches the client,
// defensively merges usage counters, and applies the termination and
// watchdog rules.
//
// Grounded on providers/anthropic.go's CompleteStream
// (bufio.Scanner line reader, "data: " prefix stripping, channel-fed
// goroutine) generalized to a format-agnostic frame source, and
// providers/gemini.go's streaming handling for the JSON-array dialect.
package stream

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/ferro-labs/llm-gateway-core/catalog"
)

// Frame is one complete upstream stream unit: the JSON payload of an SSE
// "data:" field (with its event name, if any), or one object from Gemini's
// JSON-array stream.
type Frame struct {
	Event string // SSE "event:" field, "" for Gemini or untyped SSE frames
	Data  []byte
}

// sseFrames reads r as line-delimited SSE, buffering event:/data:/id:/retry:
// fields across lines and emitting one Frame per blank-line-terminated
// event (and a final flush at EOF if a partial event remains), per §4.9.
// Consecutive data: lines without a blank separator are joined with "\n"
// into a single event's Data, matching the SSE spec's multi-line data rule.
func sseFrames(r io.Reader, emit func(Frame) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var event string
	var data []string
	flush := func() bool {
		if len(data) == 0 {
			event = ""
			return true
		}
		ok := emit(Frame{Event: event, Data: []byte(strings.Join(data, "\n"))})
		event, data = "", nil
		return ok
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if !flush() {
				return nil
			}
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimPrefix(strings.TrimPrefix(line, "event:"), " ")
		case strings.HasPrefix(line, "id:"), strings.HasPrefix(line, "retry:"):
			// carried by the upstream for resume support; this gateway does
			// not expose resumable streams to clients, so these are dropped.
		}
	}
	flush()
	return scanner.Err()
}

// geminiArrayFrames reads r as Gemini's streamed JSON-array body (an
// opening '[', comma-separated objects, a closing ']') and emits one Frame
// per top-level object, tracked by brace depth so embedded braces in string
// values don't confuse the boundary.
func geminiArrayFrames(r io.Reader, emit func(Frame) bool) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var buf bytes.Buffer
	depth := 0
	inString := false
	escaped := false
	started := false

	for {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if !started {
			if b == '[' || b == ',' || b == '\n' || b == '\r' || b == ' ' || b == '\t' {
				continue
			}
		}
		if inString {
			buf.WriteByte(b)
			if escaped {
				escaped = false
			} else if b == '\\' {
				escaped = true
			} else if b == '"' {
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
			buf.WriteByte(b)
		case '{':
			depth++
			started = true
			buf.WriteByte(b)
		case '}':
			depth--
			buf.WriteByte(b)
			if depth == 0 {
				if !emit(Frame{Data: append([]byte(nil), buf.Bytes()...)}) {
					return nil
				}
				buf.Reset()
				started = false
			}
		case ']':
			return nil
		default:
			if started {
				buf.WriteByte(b)
			}
		}
	}
}

// ReadFrames dispatches to the frame reader matching format's wire shape:
// Gemini streams a JSON array, every other bundled dialect streams SSE.
//
// Both readers buffer at the byte level until a structural delimiter (a
// line break, a balanced brace) is found before handing a frame's bytes
// onward, so a network read that lands in the middle of a multi-byte UTF-8
// sequence never corrupts anything: the split bytes just sit in bufio's
// internal buffer until the rest arrives on a later read. No separate
// incremental rune decoder is needed because nothing downstream decodes
// text before a full frame is assembled.
func ReadFrames(format catalog.APIFormat, r io.Reader, emit func(Frame) bool) error {
	if format == catalog.FormatGemini {
		return geminiArrayFrames(r, emit)
	}
	return sseFrames(r, emit)
}
