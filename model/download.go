package model

// DownloadPhase 下载流水线阶段
type DownloadPhase string

const (
	PhaseConverting  DownloadPhase = "converting"  // 等待远端 WAV 转换
	PhaseDownloading DownloadPhase = "downloading" // 正在流式下载
	PhaseAnalyzing   DownloadPhase = "analyzing"   // 静音分析中
	PhaseComplete    DownloadPhase = "complete"
	PhaseError       DownloadPhase = "error"
	PhaseTimeout     DownloadPhase = "timeout" // 转换超时，重试大概率可恢复
)

// Terminal reports whether the phase ends a pipeline run.
func (p DownloadPhase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError || p == PhaseTimeout
}

// DownloadFormat 请求的音频格式
type DownloadFormat string

const (
	FormatMP3  DownloadFormat = "mp3"
	FormatWAV  DownloadFormat = "wav"
	FormatBoth DownloadFormat = "both"
)

// Valid reports whether f is a known format.
func (f DownloadFormat) Valid() bool {
	return f == FormatMP3 || f == FormatWAV || f == FormatBoth
}

// WantsMP3 reports whether the format includes an MP3 download.
func (f DownloadFormat) WantsMP3() bool { return f == FormatMP3 || f == FormatBoth }

// WantsWAV reports whether the format requires server-side WAV conversion.
func (f DownloadFormat) WantsWAV() bool { return f == FormatWAV || f == FormatBoth }

// DownloadProgress 某个 generation 的下载进度快照，存于 Redis
type DownloadProgress struct {
	SunoID    string        `json:"sunoId"`
	Phase     DownloadPhase `json:"phase"`
	Progress  float64       `json:"progress"` // 0.0-1.0，-1 表示不确定
	Message   string        `json:"message"`
	UpdatedAt int64         `json:"updatedAt"` // unix 秒
}

// SilenceSegment 一段检测到的静音
type SilenceSegment struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
}

// SilenceAnalysis ffmpeg silencedetect 的结构化结果
type SilenceAnalysis struct {
	HasSilence      bool             `json:"hasSilence"`
	SilenceCount    int              `json:"silenceCount"`
	TotalSilenceSec float64          `json:"totalSilenceSec"`
	DurationSec     float64          `json:"durationSec"`
	AvgLevelDB      float64          `json:"avgLevelDb"`
	Segments        []SilenceSegment `json:"segments"`
}
