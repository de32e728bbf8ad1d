package suno

import (
	"context"
	"fmt"
)

// GenerateRequest 自定义生成模式的提交参数
type GenerateRequest struct {
	Prompt           string `json:"prompt"`
	Tags             string `json:"tags"`
	NegativeTags     string `json:"negative_tags"`
	Title            string `json:"title"`
	MakeInstrumental bool   `json:"make_instrumental"`
	Model            string `json:"mv"`
}

// generatePayload 服务端要求未使用的续写字段显式传 null
type generatePayload struct {
	Prompt           string   `json:"prompt"`
	GenerationType   string   `json:"generation_type"`
	Tags             string   `json:"tags"`
	NegativeTags     string   `json:"negative_tags"`
	MV               string   `json:"mv"`
	Title            string   `json:"title"`
	ContinueClipID   *string  `json:"continue_clip_id"`
	ContinueAt       *float64 `json:"continue_at"`
	InfillStartS     *float64 `json:"infill_start_s"`
	InfillEndS       *float64 `json:"infill_end_s"`
	Task             *string  `json:"task"`
	MakeInstrumental bool     `json:"make_instrumental"`
}

type generateResponse struct {
	ID    string    `json:"id"`
	Clips []rawClip `json:"clips"`
}

// CustomGenerate 提交一次自定义生成，返回 Suno 分配的 clip 列表。
// 一次提交通常产出两个 clip。
func (c *Client) CustomGenerate(ctx context.Context, req GenerateRequest) ([]AudioInfo, error) {
	if req.Model == "" {
		req.Model = "chirp-crow"
	}
	payload := generatePayload{
		Prompt:           req.Prompt,
		GenerationType:   "TEXT",
		Tags:             req.Tags,
		NegativeTags:     req.NegativeTags,
		MV:               req.Model,
		Title:            req.Title,
		MakeInstrumental: req.MakeInstrumental,
	}

	var resp generateResponse
	if err := c.request(ctx, "POST", "/api/generate/v2/", payload, &resp); err != nil {
		return nil, fmt.Errorf("submit generation: %w", err)
	}
	if len(resp.Clips) == 0 {
		return nil, fmt.Errorf("submit generation: empty clip list in response")
	}

	infos := make([]AudioInfo, 0, len(resp.Clips))
	for _, clip := range resp.Clips {
		infos = append(infos, mapAudioInfo(clip))
	}
	return infos, nil
}
