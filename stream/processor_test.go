package stream

import (
	"strings"
	"testing"
	"time"

	"github.com/ferro-labs/llm-gateway-core/catalog"
	"github.com/ferro-labs/llm-gateway-core/convert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectSink() (Sink, *[][]byte) {
	var got [][]byte
	return func(b []byte) error {
		got = append(got, append([]byte(nil), b...))
		return nil
	}, &got
}

func TestProcessSameFormatForwardsRawBytes(t *testing.T) {
	body := strings.NewReader(
		"data: {\"type\":\"message_start\",\"message\":{\"id\":\"m1\",\"model\":\"claude-3\"}}\n\n" +
			"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n" +
			"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"input_tokens\":3,\"output_tokens\":2}}\n\n" +
			"data: {\"type\":\"message_stop\"}\n\n",
	)
	sink, got := collectSink()
	p := New(DefaultDefaults())

	outcome, err := p.Process(Options{
		UpstreamFormat: catalog.FormatAnthropic,
		ClientFormat:   catalog.FormatAnthropic,
		Body:           body,
		Sink:           sink,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, outcome.Status)
	assert.Equal(t, "m1", outcome.ResponseID)
	assert.Equal(t, 1, outcome.DataEventCount)
	assert.Equal(t, 3, outcome.Usage.InputTokens)
	assert.Equal(t, 2, outcome.Usage.OutputTokens)
	assert.False(t, outcome.FirstByteAt.IsZero())
	assert.Len(t, *got, 4)
}

func TestProcessCrossFormatConvertsChunks(t *testing.T) {
	body := strings.NewReader(
		"data: {\"type\":\"message_start\",\"message\":{\"id\":\"m1\",\"model\":\"claude-3\"}}\n\n" +
			"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n" +
			"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"input_tokens\":3,\"output_tokens\":2}}\n\n" +
			"data: {\"type\":\"message_stop\"}\n\n",
	)
	sink, got := collectSink()
	p := New(DefaultDefaults())
	reg := convert.NewRegistry()

	outcome, err := p.Process(Options{
		UpstreamFormat: catalog.FormatAnthropic,
		ClientFormat:   catalog.FormatOpenAIChat,
		Body:           body,
		Sink:           sink,
		Converters:     reg,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, outcome.Status)
	require.NotEmpty(t, *got)
	assert.Contains(t, string((*got)[1]), "\"content\":\"hi\"")
}

func TestProcessDefensiveUsageUpdateIgnoresLaterZero(t *testing.T) {
	body := strings.NewReader(
		"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"input_tokens\":5,\"output_tokens\":9}}\n\n" +
			"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"x\"}}\n\n" +
			"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"input_tokens\":0,\"output_tokens\":0}}\n\n",
	)
	sink, _ := collectSink()
	p := New(DefaultDefaults())

	outcome, err := p.Process(Options{
		UpstreamFormat: catalog.FormatAnthropic,
		ClientFormat:   catalog.FormatAnthropic,
		Body:           body,
		Sink:           sink,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, outcome.Usage.InputTokens)
	assert.Equal(t, 9, outcome.Usage.OutputTokens)
}

func TestProcessEmbeddedErrorSniffedBeforeForwarding(t *testing.T) {
	body := strings.NewReader(`data: {"type":"error","error":{"type":"overloaded_error","message":"upstream overloaded"}}` + "\n\n")
	sink, got := collectSink()
	p := New(DefaultDefaults())

	_, err := p.Process(Options{
		UpstreamFormat: catalog.FormatAnthropic,
		ClientFormat:   catalog.FormatAnthropic,
		Body:           body,
		Sink:           sink,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream overloaded")
	assert.Empty(t, *got)
}

func TestProcessHTMLResponseSniffedAsError(t *testing.T) {
	body := strings.NewReader("<!DOCTYPE html><html><body>login</body></html>")
	sink, _ := collectSink()
	p := New(DefaultDefaults())

	_, err := p.Process(Options{
		UpstreamFormat: catalog.FormatOpenAIChat,
		ClientFormat:   catalog.FormatOpenAIChat,
		Body:           body,
		Sink:           sink,
	})
	require.Error(t, err)
}

func TestProcessEmptyStreamYieldsEmptyResponseStatus(t *testing.T) {
	body := strings.NewReader("")
	sink, _ := collectSink()
	p := New(DefaultDefaults())

	outcome, err := p.Process(Options{
		UpstreamFormat: catalog.FormatOpenAIChat,
		ClientFormat:   catalog.FormatOpenAIChat,
		Body:           body,
		Sink:           sink,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusEmptyResponse, outcome.Status)
	assert.Error(t, outcome.Err)
}

func TestProcessClientDisconnectStopsForwarding(t *testing.T) {
	lines := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		lines = append(lines, `data: {"id":"x","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"a"}}]}`+"\n")
	}
	body := strings.NewReader(strings.Join(lines, "\n"))
	sink, _ := collectSink()
	p := New(Defaults{EmptyChunkThreshold: 20, DataTimeout: time.Second, ClientDisconnectPollInterval: 0})

	calls := 0
	outcome, err := p.Process(Options{
		UpstreamFormat: catalog.FormatOpenAIChat,
		ClientFormat:   catalog.FormatOpenAIChat,
		Body:           body,
		Sink:           sink,
		Disconnected: func() bool {
			calls++
			return calls > 2
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusClientDisconnect, outcome.Status)
	assert.Equal(t, 499, outcome.StatusCode)
}

func TestGeminiArrayFramesSplitsObjects(t *testing.T) {
	body := strings.NewReader(`[{"candidates":[{"content":{"role":"model","parts":[{"text":"a"}]}}]},{"candidates":[{"content":{"role":"model","parts":[{"text":"b"}]},"finishReason":"STOP"}]}]`)
	var frames []Frame
	err := geminiArrayFrames(body, func(f Frame) bool {
		frames = append(frames, f)
		return true
	})
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Contains(t, string(frames[1].Data), "STOP")
}
