package suno

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"sunoman/logger"

	"github.com/google/uuid"
)

const (
	defaultBaseURL = "https://studio-api.prod.suno.com"
	clerkURL       = "https://clerk.suno.com"
	clerkVersion   = "5.15.0"
)

// 失败分类，调用方据此决定重试还是上报
var (
	ErrRateLimited = errors.New("suno: rate limited")
	ErrAuthExpired = errors.New("suno: auth expired, update cookie")
	ErrRemote      = errors.New("suno: remote error")
)

// 模拟 macOS Chrome 的 UA 池，每个实例固定取一个
var userAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4_1) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
}

// Client Suno内部API客户端，直接处理 Clerk 认证与所有请求
type Client struct {
	baseURL    string
	clerkBase  string
	httpClient *http.Client

	cookies   map[string]string
	deviceID  string
	userAgent string

	// 认证状态，mu 保护
	mu          sync.Mutex
	sid         string
	token       string
	tokenExp    time.Time
	initialized bool
}

// NewClient 从浏览器 cookie 串创建客户端，cookie 必须包含 __client
func NewClient(cookieString string) (*Client, error) {
	cookies, err := parseCookies(cookieString)
	if err != nil {
		return nil, err
	}

	deviceID := cookies["ajs_anonymous_id"]
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	c := &Client{
		baseURL:   defaultBaseURL,
		clerkBase: clerkURL,
		httpClient: &http.Client{
			Timeout: time.Second * 30,
		},
		cookies:   cookies,
		deviceID:  deviceID,
		userAgent: userAgents[rand.Intn(len(userAgents))],
	}
	logger.Info("suno client created", logger.String("deviceId", deviceID[:8]+"..."))
	return c, nil
}

// SetBaseURL 设置API基础URL（测试用）
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// SetClerkURL 设置 Clerk 认证服务地址（测试用）
func (c *Client) SetClerkURL(url string) {
	c.clerkBase = url
}

// parseCookies 解析 cookie 串，过滤 Set-Cookie 属性
func parseCookies(cookieString string) (map[string]string, error) {
	attrs := map[string]bool{
		"expires": true, "max-age": true, "domain": true, "path": true,
		"secure": true, "httponly": true, "samesite": true, "partitioned": true,
	}
	cookies := make(map[string]string)
	for _, part := range strings.Split(cookieString, ";") {
		part = strings.TrimSpace(part)
		eq := strings.Index(part, "=")
		if eq <= 0 {
			continue // 跳过 "Secure" 这类裸属性
		}
		key := strings.TrimSpace(part[:eq])
		if attrs[strings.ToLower(key)] {
			continue
		}
		cookies[key] = strings.TrimSpace(part[eq+1:])
	}
	if cookies["__client"] == "" {
		return nil, fmt.Errorf("cookie string must contain __client token for Clerk auth")
	}
	return cookies, nil
}

func (c *Client) cookieHeader() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	parts := make([]string, 0, len(c.cookies))
	for k, v := range c.cookies {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, "; ")
}

// mergeSetCookies 把响应中的 set-cookie 合并回 cookie jar
func (c *Client) mergeSetCookies(resp *http.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ck := range resp.Cookies() {
		if ck.Name != "" {
			c.cookies[ck.Name] = ck.Value
		}
	}
}

func (c *Client) defaultHeaders() http.Header {
	h := http.Header{}
	h.Set("Affiliate-Id", "undefined")
	h.Set("Device-Id", `"`+c.deviceID+`"`) // Suno 要求带字面引号
	h.Set("x-suno-client", "Android prerelease-4nt180t 1.0.42")
	h.Set("X-Requested-With", "com.suno.android")
	h.Set("sec-ch-ua", `"Chromium";v="130", "Android WebView";v="130", "Not?A_Brand";v="99"`)
	h.Set("sec-ch-ua-mobile", "?1")
	h.Set("sec-ch-ua-platform", `"Android"`)
	h.Set("User-Agent", c.userAgent)
	return h
}

// request 发送认证请求，401/403/422 时刷新 token 重试一次
func (c *Client) request(ctx context.Context, method, path string, body any, out any) error {
	return c.requestWithRetry(ctx, method, path, body, out, true)
}

func (c *Client) requestWithRetry(ctx context.Context, method, path string, body any, out any, retryAuth bool) error {
	c.mu.Lock()
	initialized := c.initialized
	c.mu.Unlock()
	if !initialized {
		return fmt.Errorf("suno client not initialized, call Init first")
	}

	if err := c.ensureToken(ctx); err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header = c.defaultHeaders()
	c.mu.Lock()
	req.Header.Set("Authorization", "Bearer "+c.token)
	c.mu.Unlock()
	req.Header.Set("Cookie", c.cookieHeader())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求失败 %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.mergeSetCookies(resp)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s %s", ErrRateLimited, method, path)
	case resp.StatusCode == 401 || resp.StatusCode == 403 || resp.StatusCode == 422:
		if retryAuth {
			logger.Warn("auth rejected, refreshing token and retrying",
				logger.Int("status", resp.StatusCode), logger.String("path", path))
			if err := c.refreshToken(ctx); err != nil {
				return err
			}
			return c.requestWithRetry(ctx, method, path, body, out, false)
		}
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		return fmt.Errorf("%w (%d): %s", ErrAuthExpired, resp.StatusCode, text)
	case resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		logger.Error("suno api error",
			logger.Int("status", resp.StatusCode),
			logger.String("path", path),
			logger.String("body", string(text)))
		return fmt.Errorf("%w (%d): %s", ErrRemote, resp.StatusCode, text)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析响应失败 %s: %w", path, err)
	}
	return nil
}
