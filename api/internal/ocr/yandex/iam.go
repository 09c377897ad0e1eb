package yandex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const (
	iamURL = "https://iam.api.cloud.yandex.net/iam/v1/tokens"
	// IAM tokens live up to 12h; used when the reply carries no expiresAt.
	defaultTTL = 11 * time.Hour
)

// IamClient exchanges the OAuth token for a short-lived IAM token and caches it.
type IamClient struct {
	httpc    *http.Client
	oauth    string
	endpoint string

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func NewIamClient(oauth string) *IamClient {
	return &IamClient{
		httpc:    &http.Client{Timeout: 20 * time.Second},
		oauth:    oauth,
		endpoint: iamURL,
	}
}

// Reset drops the cached token so the next call fetches a fresh one.
func (c *IamClient) Reset() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *IamClient) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.expiry.Add(-time.Minute)) {
		return c.token, nil
	}

	b, _ := json.Marshal(map[string]string{"yandexPassportOauthToken": c.oauth})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("yandex iam: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out struct {
		IamToken  string    `json:"iamToken"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("yandex iam: decode: %w", err)
	}
	if out.IamToken == "" {
		return "", fmt.Errorf("yandex iam: empty token")
	}
	c.token, c.expiry = out.IamToken, out.ExpiresAt
	if c.expiry.IsZero() {
		c.expiry = time.Now().Add(defaultTTL)
	}
	return c.token, nil
}
