package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Invoker — контракт внешней агентской сети. Для протокола это непрозрачный
// request/response сервис: промпт туда, сырой текст обратно.
type Invoker interface {
	Invoke(ctx context.Context, agent, prompt string) (string, error)
}

// HTTPClient вызывает агентскую сеть по HTTP
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type invokeRequest struct {
	Agent  string `json:"agent"`
	Prompt string `json:"prompt"`
}

func (c *HTTPClient) Invoke(ctx context.Context, agent, prompt string) (string, error) {
	body, err := json.Marshal(invokeRequest{Agent: agent, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("network: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invocations", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("network: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("network: call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("network: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		// Уважаем Retry-After апстрима: ретраер подождет ровно столько
		return "", &ThrottleError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Cause:      fmt.Errorf("upstream returned 429"),
		}
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("network: upstream status %d: %s", resp.StatusCode, raw)
	}

	return string(raw), nil
}

func parseRetryAfter(header string) time.Duration {
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 2 * time.Second
}
