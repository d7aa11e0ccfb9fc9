package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	gateway "github.com/cfx-labs/cfx-router/internal"
)

const maxLineSize = 64 * 1024 // 64KB per SSE line

// newScanner returns a bufio.Scanner configured for reading SSE lines with
// a 64KB buffer. Each call to Scan() returns a single line without the
// trailing newline.
func newScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 4096), maxLineSize)
	return s
}

// parseSSELine extracts the data payload from a single SSE line.
// Empty lines, comments, event/id/retry fields, and anything malformed all
// return ok=false; the relay only forwards data payloads.
func parseSSELine(line string) (data string, ok bool) {
	if line == "" || line[0] == ':' {
		return "", false
	}
	key, value, found := strings.Cut(line, ":")
	if !found || key != "data" {
		return "", false
	}
	// Strip optional leading space after colon per SSE spec
	return strings.TrimPrefix(value, " "), true
}

// readStream reads SSE lines from resp and sends them as StreamChunks on ch.
// Payloads are forwarded verbatim; lines that are not valid JSON are dropped
// rather than corrupting the relayed stream. Usage and delta content are
// extracted along the way for accounting. The channel is closed when done.
func readStream(ctx context.Context, resp *http.Response, ch chan<- gateway.StreamChunk) {
	defer close(ch)
	defer resp.Body.Close()

	scanner := newScanner(resp.Body)
	for scanner.Scan() {
		data, ok := parseSSELine(scanner.Text())
		if !ok {
			continue
		}
		if data == "[DONE]" {
			select {
			case ch <- gateway.StreamChunk{Done: true}:
			case <-ctx.Done():
			}
			return
		}
		if !json.Valid([]byte(data)) {
			continue
		}

		chunk := gateway.StreamChunk{Data: []byte(data)}
		if content := gjson.GetBytes(chunk.Data, "choices.0.delta.content"); content.Type == gjson.String {
			chunk.Content = content.String()
		}
		if u := gjson.GetBytes(chunk.Data, "usage"); u.Exists() && u.Type == gjson.JSON {
			var usage gateway.Usage
			if json.Unmarshal([]byte(u.Raw), &usage) == nil && usage.TotalTokens > 0 {
				chunk.Usage = &usage
			}
		}

		select {
		case ch <- chunk:
		case <-ctx.Done():
			// The consumer stopped; nothing will drain the channel, so no
			// terminal chunk is sent.
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case ch <- gateway.StreamChunk{Err: fmt.Errorf("read upstream stream: %w", err)}:
		case <-ctx.Done():
		}
	}
}

// readAll drains a non-streaming response body.
func readAll(resp *http.Response) ([]byte, error) {
	return io.ReadAll(resp.Body)
}
