package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"sunoman/logger"
	"sunoman/model"
)

// Analyzer 对已下载的音频做静音检测
type Analyzer interface {
	Analyze(ctx context.Context, path string, thresholdDB float64, minLenMS int) (*model.SilenceAnalysis, error)
}

// FFmpegAnalyzer 通过 ffmpeg silencedetect 滤镜实现静音检测，
// 结果从 stderr 的日志行里解析出来。
type FFmpegAnalyzer struct {
	FFmpegPath string
}

func NewFFmpegAnalyzer(ffmpegPath string) *FFmpegAnalyzer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegAnalyzer{FFmpegPath: ffmpegPath}
}

var (
	silenceStartRe = regexp.MustCompile(`silence_start:\s*([\d.]+)`)
	silenceEndRe   = regexp.MustCompile(`silence_end:\s*([\d.]+)\s*\|\s*silence_duration:\s*([\d.]+)`)
	durationRe     = regexp.MustCompile(`Duration:\s*(\d+):(\d+):([\d.]+)`)
	meanVolumeRe   = regexp.MustCompile(`mean_volume:\s*(-?[\d.]+)\s*dB`)
)

// Analyze 跑一次 ffmpeg，同时挂 silencedetect 和 volumedetect 两个滤镜
func (a *FFmpegAnalyzer) Analyze(ctx context.Context, path string, thresholdDB float64, minLenMS int) (*model.SilenceAnalysis, error) {
	filter := fmt.Sprintf("silencedetect=noise=%gdB:d=%g,volumedetect",
		thresholdDB, float64(minLenMS)/1000.0)

	cmd := exec.CommandContext(ctx, a.FFmpegPath,
		"-i", path,
		"-af", filter,
		"-f", "null", "-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// ffmpeg 输出到 null muxer 正常退出码为 0，真正的检测结果在 stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("run ffmpeg on %s: %w: %s", path, err, tail(stderr.String(), 200))
	}

	analysis := parseSilenceOutput(stderr.String())
	logger.Debug("静音分析完成",
		logger.String("file", path),
		logger.Int("segments", analysis.SilenceCount))
	return analysis, nil
}

// parseSilenceOutput 从 ffmpeg stderr 解析静音段和音频时长
func parseSilenceOutput(output string) *model.SilenceAnalysis {
	analysis := &model.SilenceAnalysis{Segments: []model.SilenceSegment{}}

	var pendingStart float64
	var hasPending bool
	for _, line := range strings.Split(output, "\n") {
		if m := silenceStartRe.FindStringSubmatch(line); m != nil {
			pendingStart, _ = strconv.ParseFloat(m[1], 64)
			hasPending = true
			continue
		}
		if m := silenceEndRe.FindStringSubmatch(line); m != nil {
			end, _ := strconv.ParseFloat(m[1], 64)
			dur, _ := strconv.ParseFloat(m[2], 64)
			start := end - dur
			if hasPending {
				start = pendingStart
				hasPending = false
			}
			analysis.Segments = append(analysis.Segments, model.SilenceSegment{
				Start:    start,
				End:      end,
				Duration: dur,
			})
			analysis.TotalSilenceSec += dur
			continue
		}
		if m := durationRe.FindStringSubmatch(line); m != nil {
			h, _ := strconv.ParseFloat(m[1], 64)
			mi, _ := strconv.ParseFloat(m[2], 64)
			s, _ := strconv.ParseFloat(m[3], 64)
			analysis.DurationSec = h*3600 + mi*60 + s
			continue
		}
		if m := meanVolumeRe.FindStringSubmatch(line); m != nil {
			analysis.AvgLevelDB, _ = strconv.ParseFloat(m[1], 64)
		}
	}

	// 文件末尾的静音段可能只有 silence_start 没有 silence_end
	if hasPending && analysis.DurationSec > pendingStart {
		dur := analysis.DurationSec - pendingStart
		analysis.Segments = append(analysis.Segments, model.SilenceSegment{
			Start:    pendingStart,
			End:      analysis.DurationSec,
			Duration: dur,
		})
		analysis.TotalSilenceSec += dur
	}

	analysis.SilenceCount = len(analysis.Segments)
	analysis.HasSilence = analysis.SilenceCount > 0
	return analysis
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
