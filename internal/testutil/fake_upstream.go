// Package testutil provides configurable test fakes for router interfaces.
package testutil

import (
	"context"

	gateway "github.com/cfx-labs/cfx-router/internal"
)

// FakeUpstream is a configurable server.UpstreamClient for testing.
type FakeUpstream struct {
	ChatFn   func(ctx context.Context, body map[string]any) ([]byte, error)
	StreamFn func(ctx context.Context, body map[string]any) (<-chan gateway.StreamChunk, error)

	// LastBody records the most recent request body passed to either call.
	LastBody map[string]any
	// Calls counts upstream invocations across both paths.
	Calls int
}

// ChatCompletion delegates to ChatFn or returns a canned completion.
func (f *FakeUpstream) ChatCompletion(ctx context.Context, body map[string]any) ([]byte, error) {
	f.Calls++
	f.LastBody = body
	if f.ChatFn != nil {
		return f.ChatFn(ctx, body)
	}
	return []byte(`{"id":"chatcmpl-fake","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`), nil
}

// ChatCompletionStream delegates to StreamFn or returns a short canned stream.
func (f *FakeUpstream) ChatCompletionStream(ctx context.Context, body map[string]any) (<-chan gateway.StreamChunk, error) {
	f.Calls++
	f.LastBody = body
	if f.StreamFn != nil {
		return f.StreamFn(ctx, body)
	}
	return FakeStreamChan(gateway.StreamChunk{
		Data:    []byte(`{"choices":[{"delta":{"content":"hello"}}]}`),
		Content: "hello",
	}), nil
}

// FakeStreamChan returns a channel pre-loaded with the given chunks, followed
// by a Done sentinel. The channel is closed after all chunks are sent.
func FakeStreamChan(chunks ...gateway.StreamChunk) <-chan gateway.StreamChunk {
	ch := make(chan gateway.StreamChunk, len(chunks)+1)
	for _, c := range chunks {
		ch <- c
	}
	ch <- gateway.StreamChunk{Done: true}
	close(ch)
	return ch
}
