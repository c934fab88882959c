package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/xiaot623/chatrelay/internal/domain"
)

// bedrockInvokeRules decodes the JSON payload of InvokeModel stream chunks.
// Payload shapes differ per model vendor.
var bedrockInvokeRules = frameRules{
	text: []path{
		{"choices", 0, "text"},
		{"choices", 0, "delta", "content"},
		{"delta", "text"},
		{"generation"},
		{"outputText"},
		{"completion"},
		{"message", "content", "*", "text"},
		{"text"},
		{"content"},
	},
	errors: []path{
		{"error", "message"},
		{"error"},
	},
}

// BedrockClient is the subset of the Bedrock runtime client used here.
type BedrockClient interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
	InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error)
}

// BedrockProvider streams from AWS Bedrock. By default it uses the Converse
// API; in invoke mode it sends a vendor prompt body to InvokeModel.
type BedrockProvider struct {
	client BedrockClient
	invoke bool
}

// NewBedrockClient builds a runtime client from the default AWS credential
// chain.
func NewBedrockClient(ctx context.Context, region string) (*bedrockruntime.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return bedrockruntime.NewFromConfig(cfg), nil
}

func NewBedrockProvider(client BedrockClient, invoke bool) *BedrockProvider {
	return &BedrockProvider{client: client, invoke: invoke}
}

func (p *BedrockProvider) Name() string {
	if p.invoke {
		return ProviderBedrockInvoke
	}
	return ProviderBedrock
}

func (p *BedrockProvider) Open(ctx context.Context, model domain.ModelConfig, history []domain.Message) (Stream, error) {
	if p.invoke {
		return p.openInvoke(ctx, model, history)
	}
	return p.openConverse(ctx, model, history)
}

func (p *BedrockProvider) openConverse(ctx context.Context, model domain.ModelConfig, history []domain.Message) (Stream, error) {
	out, err := p.client.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(model.ModelID),
		Messages:        converseMessages(model, history),
		InferenceConfig: inferenceConfig(model.Parameters),
	})
	if err != nil {
		return nil, err
	}
	stream := out.GetStream()
	return &eventStream[types.ConverseStreamOutput]{
		events: stream.Events(),
		close:  stream.Close,
		err:    stream.Err,
		decode: converseDelta,
	}, nil
}

func (p *BedrockProvider) openInvoke(ctx context.Context, model domain.ModelConfig, history []domain.Message) (Stream, error) {
	body, err := withExtra(&invokeRequest{
		Prompt:      promptText(model, history),
		Temperature: floatPtr(model.Parameters.Temperature),
		MaxTokens:   intPtr(model.Parameters.MaxTokens),
		TopP:        floatPtr(model.Parameters.TopP),
	}, model.Parameters.Extra)
	if err != nil {
		return nil, err
	}

	out, err := p.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(model.ModelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, err
	}
	stream := out.GetStream()
	return &eventStream[types.ResponseStream]{
		events: stream.Events(),
		close:  stream.Close,
		err:    stream.Err,
		decode: invokeChunk,
	}, nil
}

// invokeRequest is the prompt-style body accepted by text models on
// InvokeModel.
type invokeRequest struct {
	Prompt      string   `json:"prompt"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

// converseMessages maps normalized turns onto Converse messages. Folded
// turns become one message with several text blocks.
func converseMessages(model domain.ModelConfig, history []domain.Message) []types.Message {
	turns := conversation(model, history)
	msgs := make([]types.Message, 0, len(turns))
	for _, t := range turns {
		role := types.ConversationRoleUser
		if t.role == domain.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		blocks := make([]types.ContentBlock, 0, len(t.parts))
		for _, part := range t.parts {
			blocks = append(blocks, &types.ContentBlockMemberText{Value: part})
		}
		msgs = append(msgs, types.Message{Role: role, Content: blocks})
	}
	return msgs
}

func inferenceConfig(params domain.Parameters) *types.InferenceConfiguration {
	cfg := &types.InferenceConfiguration{}
	if params.Temperature != 0 {
		cfg.Temperature = aws.Float32(float32(params.Temperature))
	}
	if params.MaxTokens != 0 {
		cfg.MaxTokens = aws.Int32(int32(params.MaxTokens))
	}
	if params.TopP != 0 {
		cfg.TopP = aws.Float32(float32(params.TopP))
	}
	return cfg
}

// converseDelta extracts text from a Converse stream event.
func converseDelta(ev types.ConverseStreamOutput) (string, bool, error) {
	switch v := ev.(type) {
	case *types.ConverseStreamOutputMemberContentBlockDelta:
		if d, ok := v.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
			return d.Value, false, nil
		}
	case *types.ConverseStreamOutputMemberMessageStop:
		return "", true, nil
	}
	return "", false, nil
}

// invokeChunk decodes an InvokeModel stream chunk.
func invokeChunk(ev types.ResponseStream) (string, bool, error) {
	chunk, ok := ev.(*types.ResponseStreamMemberChunk)
	if !ok {
		return "", false, nil
	}
	var v any
	if err := json.Unmarshal(chunk.Value.Bytes, &v); err != nil {
		return "", false, nil
	}
	text, err := bedrockInvokeRules.decodeValue(v)
	if errors.Is(err, errSkipFrame) {
		return "", false, nil
	}
	return text, false, err
}

// eventStream adapts an SDK event channel to Stream.
type eventStream[T any] struct {
	events <-chan T
	close  func() error
	err    func() error
	decode func(T) (text string, stop bool, err error)
	done   bool
}

func (s *eventStream[T]) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	ev, ok := <-s.events
	if !ok {
		s.done = true
		if err := s.err(); err != nil {
			return "", fmt.Errorf("failed to read stream: %w", err)
		}
		return "", io.EOF
	}
	text, stop, err := s.decode(ev)
	if stop {
		s.done = true
	}
	return text, err
}

func (s *eventStream[T]) Close() error {
	return s.close()
}
