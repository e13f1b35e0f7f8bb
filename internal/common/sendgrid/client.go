// Package sendgrid wraps the SendGrid v3 mail send API for dynamic
// template delivery.
package sendgrid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the SendGrid v3 REST API.
type Client struct {
	apiKey     string
	baseURL    string
	fromEmail  string
	fromName   string
	httpClient *http.Client
}

// ProviderError carries the provider's HTTP status and response body so
// failed sends retain the rejection context through queue retries.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("sendgrid send failed (status %d): %s", e.StatusCode, e.Body)
}

type address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type personalization struct {
	To                  []address              `json:"to"`
	DynamicTemplateData map[string]interface{} `json:"dynamic_template_data,omitempty"`
}

type sendRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             address           `json:"from"`
	TemplateID       string            `json:"template_id"`
}

func NewClient(apiKey, baseURL, fromEmail, fromName string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "https://api.sendgrid.com"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		apiKey:    apiKey,
		baseURL:   baseURL,
		fromEmail: fromEmail,
		fromName:  fromName,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SendTemplate sends a dynamic template email to a single recipient and
// returns the provider message id. Any non-2xx response is returned as a
// *ProviderError.
func (c *Client) SendTemplate(ctx context.Context, toEmail, templateID string, data map[string]interface{}) (string, error) {
	url := fmt.Sprintf("%s/v3/mail/send", c.baseURL)

	payload := sendRequest{
		Personalizations: []personalization{
			{
				To:                  []address{{Email: toEmail}},
				DynamicTemplateData: data,
			},
		},
		From:       address{Email: c.fromEmail, Name: c.fromName},
		TemplateID: templateID,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", &ProviderError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	return resp.Header.Get("X-Message-Id"), nil
}
