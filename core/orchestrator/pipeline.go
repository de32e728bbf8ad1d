package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sunoman/cache"
	"sunoman/core/analyzer"
	"sunoman/core/event"
	"sunoman/core/suno"
	"sunoman/logger"
	"sunoman/model"
	"sunoman/repository"
	"sunoman/storage"
)

// SunoAPI 流水线和轮询器依赖的远端接口子集
type SunoAPI interface {
	CustomGenerate(ctx context.Context, req suno.GenerateRequest) ([]suno.AudioInfo, error)
	GetAudioInfo(ctx context.Context, ids []string) ([]suno.AudioInfo, error)
	GetClip(ctx context.Context, sunoID string) (*suno.AudioInfo, error)
	RequestWAVConversion(ctx context.Context, sunoID string) error
	WAVFileURL(ctx context.Context, sunoID string) (string, error)
	DownloadFile(ctx context.Context, fileURL, dest string, onProgress suno.ProgressFunc) error
	GetCredits(ctx context.Context) (*suno.CreditsInfo, error)
	GetModels(ctx context.Context) ([]suno.ModelInfo, error)
}

// ClientSource 提供当前可用的远端客户端，cookie 热替换后拿到的是新实例
type ClientSource interface {
	Get(ctx context.Context) (SunoAPI, error)
}

type managerSource struct {
	m *suno.Manager
}

func (s managerSource) Get(ctx context.Context) (SunoAPI, error) {
	return s.m.Get(ctx)
}

// NewManagerSource 把 suno.Manager 适配成 ClientSource
func NewManagerSource(m *suno.Manager) ClientSource {
	return managerSource{m: m}
}

// Pipeline 单个 generation 的下载流水线：
// WAV 转换等待、音频下载、附属文件、静音分析、可选归档。
type Pipeline struct {
	Songs    repository.SongRepository
	Gens     repository.GenerationRepository
	Settings repository.SettingsRepository
	Client   ClientSource
	Analyzer analyzer.Analyzer
	Bus      *event.Bus

	WAVPollInterval time.Duration
	WAVPollTimeout  time.Duration
}

const (
	defaultWAVPollInterval = 2 * time.Second
	defaultWAVPollTimeout  = 60 * time.Second
)

// Run 执行一次完整的下载流水线。generation 已下载且文件仍在时跳过，
// 除非 job 带了 Force 标记。
func (p *Pipeline) Run(ctx context.Context, job Job) (Outcome, error) {
	sunoID := job.SunoID

	gen, err := p.Gens.GetBySunoID(sunoID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("load generation %s: %w", sunoID, err)
	}

	settings, err := p.Settings.Snapshot()
	if err != nil {
		return OutcomeFailed, fmt.Errorf("load settings: %w", err)
	}

	if !job.Force && gen.Downloaded && gen.FilePath != "" {
		if _, statErr := os.Stat(gen.FilePath); statErr == nil {
			logger.Debug("文件已存在，跳过下载", logger.String("sunoId", sunoID))
			return OutcomeSkipped, nil
		}
	}

	song, err := p.Songs.GetSongByID(gen.SongID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("load song %d: %w", gen.SongID, err)
	}

	client, err := p.Client.Get(ctx)
	if err != nil {
		p.fail(sunoID, err)
		return OutcomeFailed, err
	}

	// 下载前刷新一次 clip，拿最新的音频地址（流式地址会过期）
	clip, err := client.GetClip(ctx, sunoID)
	if err != nil {
		p.fail(sunoID, err)
		return OutcomeFailed, err
	}
	if clip.Status != model.GenComplete {
		logger.Info("clip 尚未生成完成，跳过下载",
			logger.String("sunoId", sunoID),
			logger.String("status", string(clip.Status)))
		return OutcomeSkipped, nil
	}
	if clip.AudioURL == "" {
		p.fail(sunoID, fmt.Errorf("clip %s has no audio url", sunoID))
		return OutcomeFailed, fmt.Errorf("clip %s has no audio url", sunoID)
	}

	dir := p.targetDir(settings.DownloadDir, song.Title, sunoID)
	// 重新下载时清掉旧目录，避免新旧文件混在一起
	if err := os.RemoveAll(dir); err != nil {
		return OutcomeFailed, fmt.Errorf("clean target dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return OutcomeFailed, fmt.Errorf("create target dir: %w", err)
	}

	base := filepath.Base(dir)
	format := job.Format
	if format == "" {
		format = settings.DownloadFormat
	}

	// 阶段一：需要 WAV 时先等远端转换
	var wavURL string
	if format.WantsWAV() {
		wavURL, err = p.awaitWAV(ctx, client, sunoID)
		if err != nil {
			// 转换超时降级为 MP3，而不是让整个任务失败
			logger.Warn("WAV 转换未完成，降级为 MP3",
				logger.String("sunoId", sunoID),
				logger.ErrorField(err))
			p.publish(sunoID, model.PhaseTimeout, -1, "WAV 转换超时，降级为 MP3")
			wavURL = ""
		}
	}

	// 阶段二：下载音频
	var primary string
	if wavURL != "" {
		dest := filepath.Join(dir, base+".wav")
		if err := p.downloadAudio(ctx, client, sunoID, wavURL, dest); err != nil {
			p.fail(sunoID, err)
			return OutcomeFailed, err
		}
		primary = dest
	}
	if format.WantsMP3() || wavURL == "" {
		dest := filepath.Join(dir, base+".mp3")
		if err := p.downloadAudio(ctx, client, sunoID, clip.AudioURL, dest); err != nil {
			p.fail(sunoID, err)
			return OutcomeFailed, err
		}
		if primary == "" {
			primary = dest
		}
	}

	p.writeSidecars(ctx, client, dir, base, song, clip)

	if err := p.Gens.MarkDownloaded(sunoID, true, primary); err != nil {
		return OutcomeFailed, fmt.Errorf("mark downloaded: %w", err)
	}

	// 阶段三：静音分析（失败不影响下载结果）
	if settings.AutoAnalyzeSilence && p.Analyzer != nil {
		p.publish(sunoID, model.PhaseAnalyzing, -1, "静音分析中")
		p.analyzeSilence(ctx, sunoID, primary, settings)
	}

	// 可选：上传归档
	if storage.Enabled() {
		if err := storage.ArchiveDir(ctx, dir); err != nil {
			logger.Warn("归档上传失败", logger.String("dir", dir), logger.ErrorField(err))
		}
	}

	p.publish(sunoID, model.PhaseComplete, 1, "下载完成")
	logger.Info("下载完成",
		logger.String("sunoId", sunoID),
		logger.String("file", primary))
	return OutcomeDone, nil
}

// awaitWAV 触发 WAV 转换并轮询结果，超时返回错误
func (p *Pipeline) awaitWAV(ctx context.Context, client SunoAPI, sunoID string) (string, error) {
	interval := p.WAVPollInterval
	if interval <= 0 {
		interval = defaultWAVPollInterval
	}
	timeout := p.WAVPollTimeout
	if timeout <= 0 {
		timeout = defaultWAVPollTimeout
	}

	p.publish(sunoID, model.PhaseConverting, -1, "等待 WAV 转换")
	if err := client.RequestWAVConversion(ctx, sunoID); err != nil {
		return "", err
	}

	deadline := time.Now().Add(timeout)
	for {
		url, err := client.WAVFileURL(ctx, sunoID)
		if err == nil {
			return url, nil
		}
		if !errors.Is(err, suno.ErrWAVPending) {
			return "", err
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("wav conversion timed out after %s", timeout)
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (p *Pipeline) downloadAudio(ctx context.Context, client SunoAPI, sunoID, url, dest string) error {
	name := filepath.Base(dest)
	p.publish(sunoID, model.PhaseDownloading, 0, "下载 "+name)

	lastPublish := time.Now()
	return client.DownloadFile(ctx, url, dest, func(written, total int64) {
		// 进度事件限流，每 500ms 最多发一次；最后一块必须发出去，
		// 否则订阅方看不到 100%
		final := total > 0 && written >= total
		if !final && time.Since(lastPublish) < 500*time.Millisecond {
			return
		}
		lastPublish = time.Now()
		progress := -1.0
		if total > 0 {
			progress = float64(written) / float64(total)
		}
		p.publish(sunoID, model.PhaseDownloading, progress, "下载 "+name)
	})
}

// writeSidecars 写封面、歌词信息和原始元数据，单个失败只记日志
func (p *Pipeline) writeSidecars(ctx context.Context, client SunoAPI, dir, base string, song *model.Song, clip *suno.AudioInfo) {
	if clip.ImageURL != "" {
		cover := filepath.Join(dir, "cover.jpg")
		imageURL := clip.ImageLarge
		if imageURL == "" {
			imageURL = clip.ImageURL
		}
		if err := client.DownloadFile(ctx, imageURL, cover, nil); err != nil {
			logger.Warn("封面下载失败", logger.String("sunoId", clip.ID), logger.ErrorField(err))
		}
	}

	info := fmt.Sprintf("Title: %s\nSuno ID: %s\nModel: %s\nTags: %s\nDuration: %.1fs\nCreated: %s\n\n%s\n",
		song.Title, clip.ID, clip.ModelName, clip.Tags, clip.Duration, clip.CreatedAt, clip.Lyric)
	if err := os.WriteFile(filepath.Join(dir, "info.txt"), []byte(info), 0o644); err != nil {
		logger.Warn("写入 info.txt 失败", logger.ErrorField(err))
	}

	if data, err := json.MarshalIndent(clip, "", "  "); err == nil {
		if err := os.WriteFile(filepath.Join(dir, "metadata.json"), data, 0o644); err != nil {
			logger.Warn("写入 metadata.json 失败", logger.ErrorField(err))
		}
	}
}

func (p *Pipeline) analyzeSilence(ctx context.Context, sunoID, path string, settings model.Settings) {
	analysis, err := p.Analyzer.Analyze(ctx, path,
		float64(settings.SilenceThresholdDB),
		int(settings.MinSilenceLen/time.Millisecond))
	if err != nil {
		logger.Warn("静音分析失败", logger.String("sunoId", sunoID), logger.ErrorField(err))
		return
	}

	details, err := json.Marshal(analysis)
	if err != nil {
		return
	}
	if err := p.Gens.StoreSilence(sunoID, analysis.HasSilence, string(details)); err != nil {
		logger.Warn("保存静音分析结果失败", logger.String("sunoId", sunoID), logger.ErrorField(err))
	}
}

// publish 同时推送事件总线和 Redis 进度快照
func (p *Pipeline) publish(sunoID string, phase model.DownloadPhase, progress float64, message string) {
	snapshot := model.DownloadProgress{
		SunoID:    sunoID,
		Phase:     phase,
		Progress:  progress,
		Message:   message,
		UpdatedAt: time.Now().Unix(),
	}
	if p.Bus != nil {
		p.Bus.PublishProgress(snapshot)
	}
	if cache.RedisClient != nil {
		if err := cache.SetDownloadProgress(context.Background(), snapshot); err != nil {
			logger.Debug("写入进度快照失败", logger.ErrorField(err))
		}
	}
}

func (p *Pipeline) fail(sunoID string, cause error) {
	p.publish(sunoID, model.PhaseError, -1, cause.Error())
}

// targetDir 目录名形如 {安全标题}_{sunoID前8位}
func (p *Pipeline) targetDir(downloadDir, title, sunoID string) string {
	short := sunoID
	if len(short) > 8 {
		short = short[:8]
	}
	return filepath.Join(downloadDir, safeTitle(title)+"_"+short)
}

// safeTitle 去掉文件名里的非法字符，限制长度
func safeTitle(title string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, title)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return "untitled"
	}
	runes := []rune(cleaned)
	if len(runes) > 50 {
		cleaned = string(runes[:50])
	}
	return cleaned
}
