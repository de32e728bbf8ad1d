package suno

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sunoman/logger"

	"github.com/golang-jwt/jwt/v5"
)

// Init 完成 Clerk 认证：换取 session ID 并拿到首个 JWT
// 必须在任何API调用前执行一次，重复调用是空操作，
// JWT 的续期由 ensureToken 负责
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	done := c.initialized
	c.mu.Unlock()
	if done {
		return nil
	}

	if err := c.fetchSessionID(ctx); err != nil {
		return err
	}
	if err := c.refreshToken(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.initialized = true
	sid := c.sid
	c.mu.Unlock()
	logger.Info("suno client initialized", logger.String("sid", sid[:min(12, len(sid))]+"..."))
	return nil
}

// fetchSessionID 用 __client cookie 向 Clerk 换取会话ID
// GET https://clerk.suno.com/v1/client  (Authorization 是裸 cookie 值，不带 Bearer)
func (c *Client) fetchSessionID(ctx context.Context) error {
	url := fmt.Sprintf("%s/v1/client?_is_native=true&_clerk_js_version=%s", c.clerkBase, clerkVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("创建 Clerk 请求失败: %w", err)
	}
	c.mu.Lock()
	clientToken := c.cookies["__client"]
	c.mu.Unlock()
	req.Header.Set("Authorization", clientToken)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Cookie", c.cookieHeader())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("Clerk 认证请求失败: %w", err)
	}
	defer resp.Body.Close()
	c.mergeSetCookies(resp)

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("%w: clerk auth failed (%d): %s", ErrAuthExpired, resp.StatusCode, text)
	}

	var result struct {
		Response struct {
			LastActiveSessionID string `json:"last_active_session_id"`
		} `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("解析 Clerk 响应失败: %w", err)
	}
	if result.Response.LastActiveSessionID == "" {
		return fmt.Errorf("%w: no session ID from Clerk, cookie may be expired", ErrAuthExpired)
	}

	c.mu.Lock()
	c.sid = result.Response.LastActiveSessionID
	c.mu.Unlock()
	return nil
}

// refreshToken 向 Clerk 刷新 JWT
// POST https://clerk.suno.com/v1/client/sessions/{sid}/tokens
func (c *Client) refreshToken(ctx context.Context) error {
	c.mu.Lock()
	sid := c.sid
	clientToken := c.cookies["__client"]
	c.mu.Unlock()
	if sid == "" {
		return fmt.Errorf("cannot refresh token: no session ID (call Init first)")
	}

	url := fmt.Sprintf("%s/v1/client/sessions/%s/tokens?_is_native=true&_clerk_js_version=%s",
		c.clerkBase, sid, clerkVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return fmt.Errorf("创建 token 刷新请求失败: %w", err)
	}
	req.Header.Set("Authorization", clientToken)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Cookie", c.cookieHeader())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token 刷新请求失败: %w", err)
	}
	defer resp.Body.Close()
	c.mergeSetCookies(resp)

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("%w: token refresh failed (%d): %s", ErrAuthExpired, resp.StatusCode, text)
	}

	var result struct {
		JWT string `json:"jwt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("解析 token 响应失败: %w", err)
	}
	if result.JWT == "" {
		return fmt.Errorf("%w: no JWT in Clerk token response", ErrAuthExpired)
	}

	c.mu.Lock()
	c.token = result.JWT
	c.tokenExp = tokenExpiry(result.JWT)
	c.mu.Unlock()
	logger.Debug("JWT token refreshed")
	return nil
}

// ensureToken 在 JWT 快过期时提前刷新
func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	exp := c.tokenExp
	c.mu.Unlock()
	// 提前 10 秒刷新，避免在途请求撞上过期
	if time.Until(exp) > 10*time.Second {
		return nil
	}
	return c.refreshToken(ctx)
}

// tokenExpiry 直接从 JWT 的 exp 声明读出过期时间，读不出则按 50 秒兜底
// （Clerk 的 JWT 一般只有 60 秒有效期）
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return time.Now().Add(50 * time.Second)
}
