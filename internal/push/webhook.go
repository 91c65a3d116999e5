package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookTransport POSTs {target,title,body} as JSON to a relay endpoint. Any
// 2xx status is success; a JSON reply with an "id" field yields the message id.
type WebhookTransport struct {
	URL    string
	APIKey string
	Client *http.Client
}

func NewWebhookTransport(url, apiKey string) *WebhookTransport {
	return &WebhookTransport{URL: url, APIKey: apiKey, Client: &http.Client{Timeout: 30 * time.Second}}
}

func (w *WebhookTransport) Send(ctx context.Context, n Notification) (string, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.APIKey)
	}
	resp, err := w.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(body))
	}
	var reply struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(body, &reply)
	return reply.ID, nil
}
