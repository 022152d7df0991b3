package llm

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lokutor-ai/voicebridge/pkg/voicesession"
)

// StreamingOpenAILLM is the adapter Stage B actually drives (spec.md §4.4:
// "reads the chunked text stream; feeds each chunk into the sentence
// segmenter"). Unlike OpenAILLM's hand-rolled HTTP client, this wraps
// github.com/sashabaranov/go-openai's CreateChatCompletionStream, the
// well-known Go client for OpenAI's SSE-based streaming API.
type StreamingOpenAILLM struct {
	client *openai.Client
	model  string
}

func NewStreamingOpenAILLM(apiKey, model string) *StreamingOpenAILLM {
	if model == "" {
		model = "gpt-4o"
	}
	return &StreamingOpenAILLM{client: openai.NewClient(apiKey), model: model}
}

func (l *StreamingOpenAILLM) Name() string { return "openai-streaming-llm" }

func toOpenAIMessages(messages []voicesession.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// Complete satisfies LLMProvider by collecting a full Stream call — used by
// the batch fallback path callers that don't need incremental delivery.
func (l *StreamingOpenAILLM) Complete(ctx context.Context, messages []voicesession.Message) (string, error) {
	var full string
	err := l.Stream(ctx, messages, func(chunk string) error {
		full += chunk
		return nil
	})
	return full, err
}

// Stream drives CreateChatCompletionStream and forwards each delta's
// content to onChunk, in order, until the stream ends or ctx is cancelled.
func (l *StreamingOpenAILLM) Stream(ctx context.Context, messages []voicesession.Message, onChunk voicesession.TextChunkCallback) error {
	stream, err := l.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    l.model,
		Messages: toOpenAIMessages(messages),
		Stream:   true,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if err := onChunk(delta); err != nil {
			return err
		}
	}
}

var (
	_ voicesession.LLMProvider          = (*StreamingOpenAILLM)(nil)
	_ voicesession.StreamingLLMProvider = (*StreamingOpenAILLM)(nil)
)
