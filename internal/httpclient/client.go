package httpclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxLineSize bounds a single SSE/NDJSON line; embedding payloads easily exceed bufio's 64KiB default.
const maxLineSize = 4 << 20

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// SendRequest marshals body as JSON, sends it and decodes a 2xx response into response.
// Non-2xx responses are returned as *UpstreamError.
func SendRequest(ctx context.Context, client HTTPClient, method, url string, headers map[string]string, body any, response any) error {
	resp, err := do(ctx, client, method, url, headers, body, "application/json")
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if response != nil {
		if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// LineProcessor receives every non-empty line of a streamed body. Returning ErrStopStream ends the
// stream without error.
type LineProcessor func(line string) error

// StreamRequest sends the request and feeds the response body to processLine line by line.
func StreamRequest(ctx context.Context, client HTTPClient, method, url string, headers map[string]string, body any, processLine LineProcessor) error {
	resp, err := do(ctx, client, method, url, headers, body, "text/event-stream")
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		if err := processLine(line); err != nil {
			if err == ErrStopStream {
				return nil
			}
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		// a cancelled context surfaces here as a read error on the body
		if ctxErr := ctx.Err(); ctxErr != nil {
			return context.Cause(ctx)
		}
		return fmt.Errorf("stream read failed: %w", err)
	}
	return nil
}

// sseDone is the sentinel OpenAI-style servers send as the last data line.
const sseDone = "[DONE]"

// EventProcessor receives the payload of each SSE "data:" line.
type EventProcessor func(data string) error

// StreamSSE reads a server-sent event stream and hands each data payload to processEvent. Comment
// and other field lines are skipped; the stream ends at "data: [DONE]" or when the body closes.
func StreamSSE(ctx context.Context, client HTTPClient, method, url string, headers map[string]string, body any, processEvent EventProcessor) error {
	return StreamRequest(ctx, client, method, url, headers, body, func(line string) error {
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			return nil
		}
		data = strings.TrimSpace(data)
		if data == sseDone {
			return ErrStopStream
		}
		return processEvent(data)
	})
}

func do(ctx context.Context, client HTTPClient, method, url string, headers map[string]string, body any, accept string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		_ = resp.Body.Close()
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       respBody,
			URL:        url,
		}
	}

	return resp, nil
}
