package billingclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"fb-lead-scanner/internal/domain"
	"fb-lead-scanner/internal/infra/metrics"
)

// Client проверяет статус подписки пользователя в биллинг-сервисе.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	userID     string
	cacheTTL   time.Duration

	mu        sync.Mutex
	cachedPro bool
	cachedAt  time.Time
}

var _ domain.FeatureGate = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		c.httpClient.Timeout = timeout
	}
}

// WithCacheTTL задаёт время жизни закешированного статуса подписки.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.cacheTTL = ttl
	}
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type subscriptionResponse struct {
	Plan      string     `json:"plan"`
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New создаёт клиента биллинга.
func New(baseURL, userID string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	if userID == "" {
		return nil, fmt.Errorf("userID is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "http"
	}
	client := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		userID:     userID,
		cacheTTL:   5 * time.Minute,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// IsPro сообщает, активна ли платная подписка. Положительный и
// отрицательный ответ кешируются на cacheTTL, ошибка сети кеш не трогает.
func (c *Client) IsPro(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if !c.cachedAt.IsZero() && time.Since(c.cachedAt) < c.cacheTTL {
		pro := c.cachedPro
		c.mu.Unlock()
		return pro, nil
	}
	c.mu.Unlock()

	var sub subscriptionResponse
	endpoint := fmt.Sprintf("/api/v1/subscriptions/%s", url.PathEscape(c.userID))
	if err := c.get(ctx, endpoint, &sub); err != nil {
		return false, err
	}
	pro := sub.Active && !strings.EqualFold(sub.Plan, "free")
	if pro && sub.ExpiresAt != nil && sub.ExpiresAt.Before(time.Now()) {
		pro = false
	}

	c.mu.Lock()
	c.cachedPro = pro
	c.cachedAt = time.Now()
	c.mu.Unlock()
	return pro, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string) (*http.Request, error) {
	resolved := *c.baseURL
	basePath := strings.TrimSuffix(c.baseURL.Path, "/")
	resolved.Path = path.Clean(basePath + endpoint)
	if !strings.HasSuffix(endpoint, "/") && strings.HasSuffix(resolved.Path, "/") {
		resolved.Path = strings.TrimSuffix(resolved.Path, "/")
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("billing", req.Method, req.URL.Path, start, err)
	if err != nil {
		return fmt.Errorf("billing api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		data, readErr := io.ReadAll(resp.Body)
		if readErr == nil && len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		if apiErr.Code != "" {
			return fmt.Errorf("billing api error [%s]: %s", apiErr.Code, apiErr.Error)
		}
		return fmt.Errorf("billing api error: status=%d message=%s", resp.StatusCode, apiErr.Error)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
