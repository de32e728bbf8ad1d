package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"sunoman/core/event"
	"sunoman/core/suno"
	"sunoman/logger"
	"sunoman/model"
	"sunoman/repository"
)

// Poller 后台轮询器。周期性查询所有未完成 generation 的远端状态，
// 写回数据库并在完成时触发自动下载。
type Poller struct {
	Songs       repository.SongRepository
	Gens        repository.GenerationRepository
	Settings    repository.SettingsRepository
	Client      ClientSource
	Coordinator *Coordinator
	Bus         *event.Bus

	pollNow chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	running atomic.Bool
}

func (p *Poller) init() {
	p.once.Do(func() {
		p.pollNow = make(chan struct{}, 1)
		p.stop = make(chan struct{})
	})
}

// Start 启动轮询循环。间隔每轮重新读取设置，改动即时生效。
func (p *Poller) Start(ctx context.Context) {
	p.init()
	p.wg.Add(1)
	p.running.Store(true)
	go func() {
		defer p.wg.Done()
		defer p.running.Store(false)
		for {
			interval := p.RunCycle(ctx)
			select {
			case <-time.After(interval):
			case <-p.pollNow:
				logger.Debug("收到立即轮询请求")
			case <-p.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop 停止轮询循环并等待当前周期结束
func (p *Poller) Stop() {
	p.init()
	close(p.stop)
	p.wg.Wait()
}

// Running 轮询循环是否在运行
func (p *Poller) Running() bool {
	return p.running.Load()
}

// PollNow 请求立即执行一轮轮询，信号已挂起时静默合并
func (p *Poller) PollNow() {
	p.init()
	select {
	case p.pollNow <- struct{}{}:
	default:
	}
}

// RunCycle 执行一轮轮询，返回下一轮之前应等待的间隔
func (p *Poller) RunCycle(ctx context.Context) time.Duration {
	settings, err := p.Settings.Snapshot()
	if err != nil {
		logger.Error("读取轮询设置失败", logger.ErrorField(err))
		return 10 * time.Second
	}
	interval := settings.PollingInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	incomplete, err := p.Gens.IncompleteGenerations()
	if err != nil {
		logger.Error("查询未完成 generation 失败", logger.ErrorField(err))
		return interval
	}
	if len(incomplete) == 0 {
		return interval
	}

	client, err := p.Client.Get(ctx)
	if err != nil {
		logger.Error("获取 Suno 客户端失败", logger.ErrorField(err))
		return interval
	}

	ids := make([]string, 0, len(incomplete))
	for _, gen := range incomplete {
		ids = append(ids, gen.SunoID)
	}
	infos, err := client.GetAudioInfo(ctx, ids)
	if err != nil {
		logger.Error("查询远端状态失败", logger.ErrorField(err))
		return interval
	}

	byID := make(map[string]int, len(infos))
	for i, info := range infos {
		byID[info.ID] = i
	}

	touched := make(map[int64]bool)
	for _, gen := range incomplete {
		idx, found := byID[gen.SunoID]
		if !found {
			p.handleMissing(gen, settings.StaleAfter, touched)
			continue
		}
		p.applyRemote(gen, &infos[idx], settings, touched)
	}

	for songID := range touched {
		p.rollupSong(songID)
	}
	return interval
}

// applyRemote 把一条远端状态写回本地，必要时入队自动下载
func (p *Poller) applyRemote(gen *model.Generation, info *suno.AudioInfo, settings model.Settings, touched map[int64]bool) {
	if info.Status == gen.SunoStatus && info.AudioURL == gen.AudioURL {
		return
	}

	status := info.Status
	upd := model.GenerationUpdate{SunoStatus: &status}
	if info.AudioURL != "" {
		upd.AudioURL = &info.AudioURL
	}
	if info.ImageURL != "" {
		upd.ImageURL = &info.ImageURL
	}
	if info.VideoURL != "" {
		upd.VideoURL = &info.VideoURL
	}
	if info.Duration > 0 {
		upd.Duration = &info.Duration
	}
	if info.ErrorMessage != "" {
		upd.ErrorMessage = &info.ErrorMessage
	}

	if err := p.Gens.ApplyUpdate(gen.SunoID, upd); err != nil {
		logger.Error("写回 generation 状态失败",
			logger.String("sunoId", gen.SunoID),
			logger.ErrorField(err))
		return
	}
	touched[gen.SongID] = true

	if p.Bus != nil {
		p.Bus.Publish(model.Event{
			Type:   model.EventGenerationUpdate,
			SunoID: gen.SunoID,
			SongID: gen.SongID,
			Status: string(info.Status),
			Error:  info.ErrorMessage,
		})
	}

	newlyComplete := !gen.SunoStatus.Terminal() && info.Status == model.GenComplete
	if newlyComplete && settings.AutoDownload && p.Coordinator != nil {
		if info.Duration < settings.MinDurationFilter {
			logger.Info("时长低于阈值，不自动下载",
				logger.String("sunoId", gen.SunoID),
				logger.Float64("duration", info.Duration))
			return
		}
		if p.Coordinator.Enqueue(Job{SunoID: gen.SunoID}) {
			logger.Info("已入队自动下载", logger.String("sunoId", gen.SunoID))
		}
	}
}

// handleMissing 远端查无此 clip。短时间内属正常（feed 有延迟），
// 超过 stale_after 判定为丢失，标记错误避免永久轮询。
func (p *Poller) handleMissing(gen *model.Generation, staleAfter time.Duration, touched map[int64]bool) {
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	ref := gen.UpdatedAt
	if ref.IsZero() {
		ref = gen.CreatedAt
	}
	if time.Since(ref) < staleAfter {
		return
	}

	status := model.GenError
	msg := "remote record missing"
	if err := p.Gens.ApplyUpdate(gen.SunoID, model.GenerationUpdate{
		SunoStatus:   &status,
		ErrorMessage: &msg,
	}); err != nil {
		logger.Error("标记丢失 generation 失败",
			logger.String("sunoId", gen.SunoID),
			logger.ErrorField(err))
		return
	}
	touched[gen.SongID] = true
	logger.Warn("generation 远端查无记录，已标记为错误",
		logger.String("sunoId", gen.SunoID))

	if p.Bus != nil {
		p.Bus.Publish(model.Event{
			Type:   model.EventGenerationUpdate,
			SunoID: gen.SunoID,
			SongID: gen.SongID,
			Status: string(status),
			Error:  msg,
		})
	}
}

// rollupSong 根据名下所有 generation 重算歌曲状态。
// 任意一个完成即算完成，历史失败不会把完成的歌拉回错误态。
func (p *Poller) rollupSong(songID int64) {
	gens, err := p.Gens.ListBySongID(songID)
	if err != nil {
		logger.Error("汇总歌曲状态失败", logger.Int64("songId", songID), logger.ErrorField(err))
		return
	}
	if len(gens) == 0 {
		return
	}

	status := model.SongProcessing
	errorMessage := ""
	allTerminal := true
	for _, gen := range gens {
		if gen.SunoStatus == model.GenComplete {
			status = model.SongComplete
			errorMessage = ""
			allTerminal = true
			break
		}
		if !gen.SunoStatus.Terminal() {
			allTerminal = false
		} else if gen.ErrorMessage != "" {
			errorMessage = gen.ErrorMessage
		}
	}
	if status != model.SongComplete {
		if allTerminal {
			status = model.SongError
			if errorMessage == "" {
				errorMessage = "generation failed"
			}
		} else {
			errorMessage = ""
		}
	}

	if err := p.Songs.UpdateSongStatus(songID, status, errorMessage); err != nil {
		logger.Error("更新歌曲状态失败", logger.Int64("songId", songID), logger.ErrorField(err))
	}
}
