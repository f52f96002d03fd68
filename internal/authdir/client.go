package authdir

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lumina-pay/internal/cache"
	"github.com/lumina-pay/internal/config"
)

var (
	ErrDisabled     = errors.New("authdir: client disabled")
	ErrUserNotFound = errors.New("authdir: user not found")
	ErrRequest      = errors.New("authdir: request failed")
)

// Client 认证目录服务客户端。支付回调里常常只有邮箱，
// 需要回查目录服务换取 user_id；订阅镜像也推送到这里。
type Client struct {
	baseURL    string
	apiKey     string
	cacheTTL   time.Duration
	httpClient *http.Client
}

// MirrorPayload 推送到目录服务的订阅镜像字段。
type MirrorPayload struct {
	UserID string     `json:"user_id"`
	Plan   string     `json:"plan"`
	EndsAt *time.Time `json:"ends_at"`
}

// NewClient 创建目录服务客户端；base url 为空时返回禁用实例。
func NewClient(cfg *config.MirrorConfig) *Client {
	if cfg == nil || cfg.DisableAuthDir || strings.TrimSpace(cfg.AuthDirBaseURL) == "" {
		return &Client{}
	}
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	timeout := time.Duration(cfg.SyncTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.AuthDirBaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.AuthDirAPIKey),
		cacheTTL:   ttl,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Enabled 是否已配置目录服务
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

// ResolveUserByEmail 邮箱换 user_id，带 Redis 缓存。
func (c *Client) ResolveUserByEmail(ctx context.Context, email string) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrUserNotFound
	}

	cacheKey := "authdir:email:" + email
	var cached string
	if found, err := cache.GetJSON(ctx, cacheKey, &cached); err == nil && found && cached != "" {
		return cached, nil
	}

	endpoint := c.baseURL + "/internal/v1/users/lookup?email=" + url.QueryEscape(email)
	body, statusCode, err := c.doJSON(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	if statusCode == http.StatusNotFound {
		return "", ErrUserNotFound
	}
	if statusCode < 200 || statusCode >= 300 {
		return "", fmt.Errorf("%w: lookup status %d", ErrRequest, statusCode)
	}
	var parsed struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode lookup response", ErrRequest)
	}
	userID := strings.TrimSpace(parsed.UserID)
	if userID == "" {
		return "", ErrUserNotFound
	}

	_ = cache.SetJSON(ctx, cacheKey, userID, c.cacheTTL)
	return userID, nil
}

// PushMirror 推送订阅镜像到目录服务用户档案。
func (c *Client) PushMirror(ctx context.Context, payload MirrorPayload) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	if strings.TrimSpace(payload.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrRequest)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal mirror payload", ErrRequest)
	}
	endpoint := c.baseURL + "/internal/v1/users/" + url.PathEscape(payload.UserID) + "/subscription"
	respBody, statusCode, err := c.doJSON(ctx, http.MethodPut, endpoint, body)
	if err != nil {
		return err
	}
	if statusCode == http.StatusNotFound {
		return ErrUserNotFound
	}
	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("%w: mirror status %d body %s", ErrRequest, statusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body []byte) ([]byte, int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request", ErrRequest)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read response", ErrRequest)
	}
	return respBody, resp.StatusCode, nil
}
