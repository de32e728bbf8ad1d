package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sunoman/model"
)

// progressTTL 进度快照的过期时间。下载卡死时快照自动消失，
// 前端不会一直看到僵尸进度条。
const progressTTL = 120 * time.Second

// GetProgressKey 根据sunoID生成下载进度的Redis键
func GetProgressKey(sunoID string) string {
	return fmt.Sprintf("download:progress:%s", sunoID)
}

// SetDownloadProgress 写入一条进度快照并刷新TTL
func SetDownloadProgress(ctx context.Context, p model.DownloadProgress) error {
	if RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	if p.UpdatedAt == 0 {
		p.UpdatedAt = time.Now().Unix()
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	if err := RedisClient.Set(ctx, GetProgressKey(p.SunoID), data, progressTTL).Err(); err != nil {
		return fmt.Errorf("failed to set progress: %w", err)
	}
	return nil
}

// GetDownloadProgress 读取某个generation的进度快照，不存在时返回nil
func GetDownloadProgress(ctx context.Context, sunoID string) (*model.DownloadProgress, error) {
	if RedisClient == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	data, err := RedisClient.Get(ctx, GetProgressKey(sunoID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}

	var p model.DownloadProgress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
	}
	return &p, nil
}

// AllDownloadProgress 扫描所有进度快照，用于前端刷新后恢复进度显示
func AllDownloadProgress(ctx context.Context) (map[string]model.DownloadProgress, error) {
	if RedisClient == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	result := make(map[string]model.DownloadProgress)
	iter := RedisClient.Scan(ctx, 0, GetProgressKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		data, err := RedisClient.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get progress: %w", err)
		}
		var p model.DownloadProgress
		if err := json.Unmarshal(data, &p); err != nil {
			continue
		}
		result[p.SunoID] = p
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan progress keys: %w", err)
	}
	return result, nil
}

// ClearDownloadProgress 删除进度快照（流水线进入终态后调用）
func ClearDownloadProgress(ctx context.Context, sunoID string) error {
	if RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	return RedisClient.Del(ctx, GetProgressKey(sunoID)).Err()
}
