package llm

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

// upstreamResult holds the response from a single upstream call.
type upstreamResult struct {
	statusCode int
	body       []byte
}

// doUpstreamRequest POSTs a JSON body and reads the whole response.
func doUpstreamRequest(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, body []byte) (*upstreamResult, error) {
	resp, err := doUpstreamStreamRequest(ctx, client, endpoint, headers, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &upstreamResult{statusCode: resp.StatusCode, body: respBody}, nil
}

// doUpstreamStreamRequest POSTs a JSON body and returns the raw response.
// The caller owns resp.Body and must close it.
func doUpstreamStreamRequest(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return client.Do(req)
}

// upstreamMessage extracts a human-readable error from a failed response body.
func upstreamMessage(body []byte) string {
	var payload struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Error) > 0 {
		var obj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(payload.Error, &obj); err == nil && obj.Message != "" {
			return obj.Message
		}
		var s string
		if err := json.Unmarshal(payload.Error, &s); err == nil && s != "" {
			return s
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}

// scanSSEData calls fn with the payload of every "data:" line in r. It stops
// when fn returns false, at a "[DONE]" sentinel, or at end of input. sawDone
// reports whether the sentinel was reached.
func scanSSEData(r io.Reader, fn func(data string) bool) (sawDone bool, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return true, nil
		}
		if !fn(data) {
			return false, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("reading stream: %w", err)
	}
	return false, nil
}
