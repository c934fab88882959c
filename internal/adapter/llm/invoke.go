package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xiaot623/chatrelay/internal/domain"
	"github.com/xiaot623/chatrelay/internal/observability"
)

// EmptyResponseText is the placeholder recorded when a stream yields no text.
func EmptyResponseText(modelID string) string {
	return fmt.Sprintf("No response was generated from %s.", modelID)
}

// Invoke runs one streaming call and returns the complete text.
//
// onChunk is called once per non-empty delta, before Invoke returns, and the
// returned text is the concatenation of those deltas. A stream without any
// text produces a single placeholder chunk. Provider failures are returned as
// *domain.ModelInvocationError together with the text streamed so far.
func Invoke(ctx context.Context, p Provider, model domain.ModelConfig, history []domain.Message, onChunk ChunkFunc) (string, error) {
	stream, err := p.Open(ctx, model, history)
	if err != nil {
		return "", domain.NewModelInvocationError(model.ID, err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return full.String(), domain.NewModelInvocationError(model.ID, err)
		}
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		onChunk(delta)
	}

	if full.Len() == 0 {
		observability.Logger().Warn("empty response from model", "model", model.ID, "provider", p.Name())
		placeholder := EmptyResponseText(model.ID)
		onChunk(placeholder)
		return placeholder, nil
	}
	return full.String(), nil
}
