package suno

import (
	"encoding/json"
	"strings"

	"sunoman/model"
)

// rawClip Suno API 返回的原始 clip 结构，metadata 里嵌着真正有用的字段
type rawClip struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	ImageURL   string          `json:"image_url"`
	ImageLarge string          `json:"image_large_url"`
	AudioURL   string          `json:"audio_url"`
	VideoURL   string          `json:"video_url"`
	Status     string          `json:"status"`
	Duration   float64         `json:"duration"`
	ModelName  string          `json:"model_name"`
	CreatedAt  string          `json:"created_at"`
	Metadata   json.RawMessage `json:"metadata"`
}

type rawMetadata struct {
	Duration     float64 `json:"duration"`
	Tags         string  `json:"tags"`
	Prompt       string  `json:"prompt"`
	ErrorMessage string  `json:"error_message"`
}

// AudioInfo 扁平化后的 clip 信息，供轮询与下载使用
type AudioInfo struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	ImageURL     string          `json:"imageUrl"`
	ImageLarge   string          `json:"imageLargeUrl"`
	AudioURL     string          `json:"audioUrl"`
	VideoURL     string          `json:"videoUrl"`
	Status       model.GenStatus `json:"status"`
	Duration     float64         `json:"duration"`
	ModelName    string          `json:"modelName"`
	Tags         string          `json:"tags"`
	Prompt       string          `json:"prompt"`
	ErrorMessage string          `json:"errorMessage"`
	CreatedAt    string          `json:"createdAt"`
	Lyric        string          `json:"lyric,omitempty"`
}

func mapAudioInfo(clip rawClip) AudioInfo {
	var meta rawMetadata
	if len(clip.Metadata) > 0 {
		json.Unmarshal(clip.Metadata, &meta)
	}
	duration := meta.Duration
	if duration == 0 {
		duration = clip.Duration
	}
	return AudioInfo{
		ID:           clip.ID,
		Title:        clip.Title,
		ImageURL:     clip.ImageURL,
		ImageLarge:   clip.ImageLarge,
		AudioURL:     clip.AudioURL,
		VideoURL:     clip.VideoURL,
		Status:       model.GenStatus(clip.Status),
		Duration:     duration,
		ModelName:    clip.ModelName,
		Tags:         meta.Tags,
		Prompt:       meta.Prompt,
		ErrorMessage: meta.ErrorMessage,
		CreatedAt:    clip.CreatedAt,
		Lyric:        parseLyrics(meta.Prompt),
	}
}

// parseLyrics 清理歌词文本，去掉空行
func parseLyrics(text string) string {
	if text == "" {
		return ""
	}
	lines := make([]string, 0)
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// CreditsInfo 账户额度信息
type CreditsInfo struct {
	CreditsLeft  float64 `json:"creditsLeft"`
	Period       string  `json:"period,omitempty"`
	MonthlyLimit float64 `json:"monthlyLimit,omitempty"`
	MonthlyUsage float64 `json:"monthlyUsage,omitempty"`
}

// ModelInfo 可用生成模型
type ModelInfo struct {
	ExternalKey     string   `json:"externalKey"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	MajorVersion    int      `json:"majorVersion"`
	IsDefault       bool     `json:"isDefault"`
	IsDefaultFree   bool     `json:"isDefaultFree"`
	Badges          []string `json:"badges"`
	CanUse          bool     `json:"canUse"`
	MaxPromptLength int      `json:"maxPromptLength"`
	MaxTagsLength   int      `json:"maxTagsLength"`
}
