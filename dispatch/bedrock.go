package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/ferro-labs/llm-gateway-core/candidates"
	"github.com/ferro-labs/llm-gateway-core/errs"
)

// bedrockTransport lazily builds and caches one bedrockruntime.Client per
// AWS region, since every Credential behind a Bedrock Endpoint in a region
// shares the same signing config shape.
//
// Grounded on mazori-ai-modelgate/internal/provider/bedrock.go's
// NewBedrockClient (awsconfig.LoadDefaultConfig with a static credentials
// provider feeding bedrockruntime.NewFromConfig), generalized from one
// long-lived client per process to one per (region, credential) pair since
// the Dispatcher serves many Credentials, not one fixed account.
type bedrockTransport struct {
	mu      sync.Mutex
	clients map[string]*bedrockruntime.Client
}

func newBedrockTransport() *bedrockTransport {
	return &bedrockTransport{clients: make(map[string]*bedrockruntime.Client)}
}

func (t *bedrockTransport) clientFor(ctx context.Context, region, accessKey, secretKey string) (*bedrockruntime.Client, error) {
	key := region + "|" + accessKey
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[key]; ok {
		return c, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	c := bedrockruntime.NewFromConfig(cfg)
	t.clients[key] = c
	return c, nil
}

// bedrockCredentialPair splits a Credential.Secret of the form
// "accessKeyID:secretAccessKey" — the one opaque secret string every other
// format treats as a bearer token is, for Bedrock Endpoints, an IAM pair.
func bedrockCredentialPair(secret string) (accessKey, secretKey string, err error) {
	parts := strings.SplitN(secret, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("bedrock credential secret must be \"accessKeyID:secretAccessKey\"")
	}
	return parts[0], parts[1], nil
}

// doBedrock executes one attempt via the AWS SDK instead of a raw
// *http.Request, for Endpoints whose Transport is catalog.TransportBedrock.
// The model-family wire dialect (Anthropic/Nova/Llama/Mistral shaped JSON)
// is whatever the Protocol Converter already produced in buildBody; this
// leg only differs in how the bytes reach AWS and come back.
func (d *Dispatcher) doBedrock(ctx context.Context, cand candidates.Candidate, req Request, body []byte) (Result, error) {
	if d.Bedrock == nil {
		d.Bedrock = newBedrockTransport()
	}
	accessKey, secretKey, err := bedrockCredentialPair(cand.Credential.Secret)
	if err != nil {
		return Result{}, errs.Wrap(errs.KindInternalError, "invalid bedrock credential", err)
	}
	region := cand.Endpoint.AWSRegion
	if region == "" {
		region = "us-east-1"
	}
	client, err := d.Bedrock.clientFor(ctx, region, accessKey, secretKey)
	if err != nil {
		return Result{}, errs.Wrap(errs.KindInternalError, "building bedrock client", err)
	}

	if !req.Stream {
		out, err := client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     &cand.ProviderModelName,
			ContentType: strPtr("application/json"),
			Body:        body,
		})
		if err != nil {
			return Result{}, errs.Wrap(errs.KindUpstreamUnavailable, "bedrock InvokeModel failed", err)
		}
		return Result{
			StatusCode:     http.StatusOK,
			Header:         http.Header{"Content-Type": []string{"application/json"}},
			Body:           io.NopCloser(bytes.NewReader(out.Body)),
			UpstreamFormat: cand.Endpoint.Format,
		}, nil
	}

	out, err := client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     &cand.ProviderModelName,
		ContentType: strPtr("application/json"),
		Body:        body,
	})
	if err != nil {
		return Result{}, errs.Wrap(errs.KindUpstreamUnavailable, "bedrock InvokeModelWithResponseStream failed", err)
	}

	return Result{
		StatusCode:     http.StatusOK,
		Header:         http.Header{"Content-Type": []string{"text/event-stream"}},
		Body:           newBedrockEventStreamReader(out.GetStream()),
		UpstreamFormat: cand.Endpoint.Format,
	}, nil
}

func strPtr(s string) *string { return &s }

// bedrockEventStreamReader adapts a bedrockruntime response stream (SDK
// event channel) into an io.ReadCloser yielding standard "data: <json>\n\n"
// SSE frames, so the existing format-agnostic stream.Processor (built on
// sseFrames) can consume a Bedrock response exactly like any other SSE
// upstream without a parallel parsing path.
type bedrockEventStreamReader struct {
	stream interface {
		Events() <-chan brtypes.ResponseStream
		Close() error
	}
	buf bytes.Buffer
}

func newBedrockEventStreamReader(stream interface {
	Events() <-chan brtypes.ResponseStream
	Close() error
}) *bedrockEventStreamReader {
	return &bedrockEventStreamReader{stream: stream}
}

func (r *bedrockEventStreamReader) Read(p []byte) (int, error) {
	for r.buf.Len() == 0 {
		ev, ok := <-r.stream.Events()
		if !ok {
			return 0, io.EOF
		}
		chunk, ok := ev.(*brtypes.ResponseStreamMemberChunk)
		if !ok {
			continue
		}
		r.buf.WriteString("data: ")
		r.buf.Write(chunk.Value.Bytes)
		r.buf.WriteString("\n\n")
	}
	return r.buf.Read(p)
}

func (r *bedrockEventStreamReader) Close() error {
	return r.stream.Close()
}
