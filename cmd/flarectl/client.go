package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// client is a thin wrapper over the relay's HTTP API. Responses are decoded
// as generic JSON and pretty-printed; flarectl does not interpret them.
type client struct {
	baseURL string
	token   string
	timeout time.Duration
}

func (c *client) get(path string) (any, error) {
	return c.do(http.MethodGet, path, nil)
}

func (c *client) post(path string, body any) (any, error) {
	return c.do(http.MethodPost, path, body)
}

func (c *client) do(method, path string, body any) (any, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	url := strings.TrimRight(c.baseURL, "/") + path
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	httpClient := &http.Client{Timeout: c.timeout}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var decoded any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}

	if resp.StatusCode >= 400 {
		if m, ok := decoded.(map[string]any); ok {
			if msg, ok := m["error"].(string); ok {
				return nil, fmt.Errorf("%s: %s", resp.Status, msg)
			}
		}
		return nil, fmt.Errorf("%s", resp.Status)
	}
	return decoded, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
