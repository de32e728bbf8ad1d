package suno

import (
	"context"
	"errors"
	"fmt"
)

// ErrWAVPending WAV 文件尚未转换完成
var ErrWAVPending = errors.New("wav conversion pending")

// RequestWAVConversion 触发服务端 WAV 转换。幂等，对同一 clip 重复调用无副作用。
func (c *Client) RequestWAVConversion(ctx context.Context, sunoID string) error {
	payload := map[string]string{"clip_id": sunoID}
	if err := c.request(ctx, "POST", "/api/gen/"+sunoID+"/convert_wav/", payload, nil); err != nil {
		return fmt.Errorf("request wav conversion %s: %w", sunoID, err)
	}
	return nil
}

// WAVFileURL 查询转换结果。转换未完成时服务端返回空 URL，
// 此时返回 ErrWAVPending，调用方轮询重试。
func (c *Client) WAVFileURL(ctx context.Context, sunoID string) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	if err := c.request(ctx, "GET", "/api/gen/"+sunoID+"/wav_file/", nil, &resp); err != nil {
		return "", fmt.Errorf("fetch wav url %s: %w", sunoID, err)
	}
	if resp.URL == "" {
		return "", ErrWAVPending
	}
	return resp.URL, nil
}
