package suno

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// feedBatchLimit feed 接口单次最多查询的 clip 数
const feedBatchLimit = 20

// GetAudioInfo 批量查询 clip 状态，超过 20 个自动分批。
// 未知的 id 会被服务端静默忽略，调用方按返回结果对账。
func (c *Client) GetAudioInfo(ctx context.Context, ids []string) ([]AudioInfo, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	infos := make([]AudioInfo, 0, len(ids))
	for start := 0; start < len(ids); start += feedBatchLimit {
		end := start + feedBatchLimit
		if end > len(ids) {
			end = len(ids)
		}
		batch, err := c.fetchFeed(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		infos = append(infos, batch...)
	}
	return infos, nil
}

func (c *Client) fetchFeed(ctx context.Context, ids []string) ([]AudioInfo, error) {
	path := "/api/feed/v2?ids=" + url.QueryEscape(strings.Join(ids, ","))

	var resp struct {
		Clips []rawClip `json:"clips"`
	}
	if err := c.request(ctx, "GET", path, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	infos := make([]AudioInfo, 0, len(resp.Clips))
	for _, clip := range resp.Clips {
		infos = append(infos, mapAudioInfo(clip))
	}
	return infos, nil
}

// GetClip 查询单个 clip 的完整信息
func (c *Client) GetClip(ctx context.Context, sunoID string) (*AudioInfo, error) {
	var clip rawClip
	if err := c.request(ctx, "GET", "/api/clip/"+sunoID, nil, &clip); err != nil {
		return nil, fmt.Errorf("fetch clip %s: %w", sunoID, err)
	}
	info := mapAudioInfo(clip)
	return &info, nil
}

// GetCredits 查询账户剩余额度
func (c *Client) GetCredits(ctx context.Context) (*CreditsInfo, error) {
	var resp struct {
		TotalCreditsLeft float64 `json:"total_credits_left"`
		Period           string  `json:"period"`
		MonthlyLimit     float64 `json:"monthly_limit"`
		MonthlyUsage     float64 `json:"monthly_usage"`
	}
	if err := c.request(ctx, "GET", "/api/billing/info/", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch credits: %w", err)
	}
	return &CreditsInfo{
		CreditsLeft:  resp.TotalCreditsLeft,
		Period:       resp.Period,
		MonthlyLimit: resp.MonthlyLimit,
		MonthlyUsage: resp.MonthlyUsage,
	}, nil
}

// GetModels 查询当前账户可用的生成模型列表
func (c *Client) GetModels(ctx context.Context) ([]ModelInfo, error) {
	var resp struct {
		Models []struct {
			ExternalModelKey string   `json:"external_model_key"`
			Name             string   `json:"name"`
			Description      string   `json:"description"`
			MajorVersion     int      `json:"major_version"`
			IsDefault        bool     `json:"is_default"`
			IsDefaultFree    bool     `json:"is_default_free_user"`
			Badges           []string `json:"badges"`
			CanUse           bool     `json:"can_use"`
			PromptMaxLength  int      `json:"prompt_max_length"`
			TagsMaxLength    int      `json:"tags_max_length"`
		} `json:"models"`
	}
	if err := c.request(ctx, "GET", "/api/models/available", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch models: %w", err)
	}

	models := make([]ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, ModelInfo{
			ExternalKey:     m.ExternalModelKey,
			Name:            m.Name,
			Description:     m.Description,
			MajorVersion:    m.MajorVersion,
			IsDefault:       m.IsDefault,
			IsDefaultFree:   m.IsDefaultFree,
			Badges:          m.Badges,
			CanUse:          m.CanUse,
			MaxPromptLength: m.PromptMaxLength,
			MaxTagsLength:   m.TagsMaxLength,
		})
	}
	return models, nil
}
