package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Webhook posts notifications as JSON to a chat bridge endpoint. Signature
// verification happens upstream of this boundary.
type Webhook struct {
	url        string
	token      string
	httpClient *http.Client
}

// NewWebhook creates a webhook notifier.
func NewWebhook(url, token string) (*Webhook, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	return &Webhook{url: url, token: token, httpClient: &http.Client{}}, nil
}

type webhookRequest struct {
	Kind           string          `json:"kind"`
	ConversationID string          `json:"conversation_id"`
	Text           string          `json:"text,omitempty"`
	Notice         *ApprovalNotice `json:"notice,omitempty"`
}

type webhookResponse struct {
	ReferenceID string `json:"reference_id"`
	Error       string `json:"error,omitempty"`
}

// SendApprovalRequest posts the notice and returns the channel reference id.
func (w *Webhook) SendApprovalRequest(ctx context.Context, notice ApprovalNotice) (string, error) {
	resp, err := w.post(ctx, webhookRequest{
		Kind:           "approval_request",
		ConversationID: notice.ConversationID,
		Notice:         &notice,
	})
	if err != nil {
		return "", err
	}
	return resp.ReferenceID, nil
}

// PostComment posts a comment on a conversation.
func (w *Webhook) PostComment(ctx context.Context, conversationID, text string) error {
	_, err := w.post(ctx, webhookRequest{
		Kind:           "comment",
		ConversationID: conversationID,
		Text:           text,
	})
	return err
}

func (w *Webhook) post(ctx context.Context, payload webhookRequest) (*webhookResponse, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("notification request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("notification channel returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed webhookResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("notification channel error: %s", parsed.Error)
	}
	return &parsed, nil
}
