package suno

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"sunoman/logger"
)

// ErrNoCookie 未配置 cookie，无法创建客户端
var ErrNoCookie = errors.New("suno cookie not configured")

// Manager 持有当前客户端句柄，cookie 更新时整体替换。
// 旧客户端上进行中的请求继续用旧 cookie 跑完，新请求拿到新客户端。
type Manager struct {
	mu      sync.RWMutex
	client  *Client
	cookie  string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewManager cookie 为空时延迟到首次 Replace 再创建客户端
func NewManager(cookie string) *Manager {
	m := &Manager{cookie: strings.TrimSpace(cookie)}
	return m
}

// Get 返回当前客户端，确保已完成会话初始化
func (m *Manager) Get(ctx context.Context) (*Client, error) {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()

	if client != nil {
		if err := client.Init(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		client = m.client
	} else {
		if m.cookie == "" {
			return nil, ErrNoCookie
		}
		c, err := NewClient(m.cookie)
		if err != nil {
			return nil, err
		}
		m.client = c
		client = c
	}
	if err := client.Init(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Replace 换用新 cookie，立即构建新客户端并验证会话
func (m *Manager) Replace(ctx context.Context, cookie string) error {
	cookie = strings.TrimSpace(cookie)
	if cookie == "" {
		return ErrNoCookie
	}
	client, err := NewClient(cookie)
	if err != nil {
		return err
	}
	if err := client.Init(ctx); err != nil {
		return fmt.Errorf("validate new cookie: %w", err)
	}

	m.mu.Lock()
	m.cookie = cookie
	m.client = client
	m.mu.Unlock()

	logger.Info("Suno 客户端已更换")
	return nil
}

// WatchCookieFile 监听 cookie 文件变更，写入新内容后自动热替换。
// 编辑器保存常见的 rename+create 也要处理，所以 watch 所在目录。
func (m *Manager) WatchCookieFile(path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create cookie watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return fmt.Errorf("create cookie dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch cookie dir: %w", err)
	}

	m.watcher = watcher
	m.done = make(chan struct{})
	target := filepath.Clean(path)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				m.reloadCookie(path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("cookie 文件监听出错", logger.ErrorField(err))
			case <-m.done:
				return
			}
		}
	}()

	logger.Info("开始监听 cookie 文件", logger.String("path", path))
	return nil
}

func (m *Manager) reloadCookie(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("读取 cookie 文件失败", logger.ErrorField(err))
		return
	}
	cookie := strings.TrimSpace(string(data))
	if cookie == "" {
		return
	}

	m.mu.RLock()
	unchanged := cookie == m.cookie
	m.mu.RUnlock()
	if unchanged {
		return
	}

	if err := m.Replace(context.Background(), cookie); err != nil {
		logger.Error("cookie 热替换失败", logger.ErrorField(err))
	}
}

// Close 停止文件监听
func (m *Manager) Close() {
	if m.watcher != nil {
		close(m.done)
		m.watcher.Close()
		m.watcher = nil
	}
}
