// ABOUTME: Bedrock-backed Completer delivering the Anthropic-native payload
// ABOUTME: through bedrockruntime InvokeModel.

package completion

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const (
	defaultBedrockModelID = "anthropic.claude-sonnet-4-5-20250929-v1:0"
	bedrockPayloadVersion = "bedrock-2023-05-31"
)

// BedrockAPI is the slice of the bedrockruntime client this package uses.
type BedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput,
		optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient implements Completer through Amazon Bedrock, for deployments
// that keep model traffic on AWS credentials instead of an API key.
type BedrockClient struct {
	api     BedrockAPI
	modelID string
}

// NewBedrockClient wraps a bedrockruntime client. An empty modelID selects the
// default analysis model.
func NewBedrockClient(api BedrockAPI, modelID string) *BedrockClient {
	if modelID == "" {
		modelID = defaultBedrockModelID
	}
	return &BedrockClient{api: api, modelID: modelID}
}

// NewBedrockClientFromConfig builds the runtime client from a loaded AWS config.
func NewBedrockClientFromConfig(cfg aws.Config, modelID string) *BedrockClient {
	return NewBedrockClient(bedrockruntime.NewFromConfig(cfg), modelID)
}

// Model returns the Bedrock model identifier.
func (b *BedrockClient) Model() string {
	return b.modelID
}

// Complete performs one InvokeModel call with the Anthropic-native body.
func (b *BedrockClient) Complete(ctx context.Context, req *Request) (*Completion, error) {
	// Bedrock carries the model in the invocation id, not the body.
	body, err := encodeRequest(req, "", bedrockPayloadVersion)
	if err != nil {
		return nil, fmt.Errorf("encoding completion request: %w", err)
	}

	out, err := b.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("completion service unreachable: %w", err)
	}

	return decodeResponse(out.Body)
}
