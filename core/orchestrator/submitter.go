package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sunoman/core/event"
	"sunoman/core/suno"
	"sunoman/logger"
	"sunoman/model"
	"sunoman/repository"
)

// SubmitReport 一次批量提交的汇总
type SubmitReport struct {
	Submitted int `json:"submitted"`
	Failed    int `json:"failed"`
}

// Submitter 把本地待提交的歌曲分批推给 Suno。
// 批间和曲间延迟按设置节流，撞上限流时退避后重试一次。
type Submitter struct {
	Songs    repository.SongRepository
	Gens     repository.GenerationRepository
	Settings repository.SettingsRepository
	Client   ClientSource
	Poller   *Poller
	Bus      *event.Bus

	RateLimitBackoff time.Duration
}

const defaultRateLimitBackoff = 60 * time.Second

// SubmitSong 提交单首歌，成功后歌曲进入 submitted 状态
func (s *Submitter) SubmitSong(ctx context.Context, songID int64) error {
	song, err := s.Songs.GetSongByID(songID)
	if err != nil {
		return fmt.Errorf("load song %d: %w", songID, err)
	}
	if song.Status != model.SongPending && song.Status != model.SongError {
		return fmt.Errorf("song %d is %s, only pending or error songs can be submitted", songID, song.Status)
	}
	return s.submit(ctx, song)
}

// SubmitAll 提交全部待提交歌曲。遇到单曲失败继续后面的，
// 最后返回成功和失败的数量。
func (s *Submitter) SubmitAll(ctx context.Context) (SubmitReport, error) {
	songs, err := s.Songs.PendingSongs()
	if err != nil {
		return SubmitReport{}, fmt.Errorf("list pending songs: %w", err)
	}
	return s.submitBatches(ctx, songs), nil
}

// RetryFailed 把所有失败的歌曲重新提交，每次重试都会产生新的 generation
func (s *Submitter) RetryFailed(ctx context.Context) (SubmitReport, error) {
	songs, err := s.Songs.FailedSongs()
	if err != nil {
		return SubmitReport{}, fmt.Errorf("list failed songs: %w", err)
	}
	return s.submitBatches(ctx, songs), nil
}

func (s *Submitter) submitBatches(ctx context.Context, songs []*model.Song) SubmitReport {
	var report SubmitReport
	if len(songs) == 0 {
		return report
	}

	settings, err := s.Settings.Snapshot()
	if err != nil {
		logger.Error("读取提交设置失败", logger.ErrorField(err))
		settings = model.Settings{BatchSize: 5, BatchDelay: 30 * time.Second, ItemDelay: 3 * time.Second}
	}
	batchSize := settings.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}

	logger.Info("开始批量提交",
		logger.Int("songs", len(songs)),
		logger.Int("batchSize", batchSize))

	for i, song := range songs {
		if i > 0 {
			delay := settings.ItemDelay
			if i%batchSize == 0 {
				delay = settings.BatchDelay
				logger.Info("批次间等待", logger.Duration("delay", delay))
			}
			if !sleepCtx(ctx, delay) {
				report.Failed += len(songs) - i
				return report
			}
		}

		if err := s.submit(ctx, song); err != nil {
			logger.Error("提交失败",
				logger.Int64("songId", song.ID),
				logger.String("title", song.Title),
				logger.ErrorField(err))
			report.Failed++
			continue
		}
		report.Submitted++
	}

	if s.Poller != nil && report.Submitted > 0 {
		s.Poller.PollNow()
	}
	return report
}

func (s *Submitter) submit(ctx context.Context, song *model.Song) error {
	client, err := s.Client.Get(ctx)
	if err != nil {
		s.markFailed(song, err)
		return err
	}

	req := suno.GenerateRequest{
		Prompt:           song.Lyrics,
		Tags:             song.Tags,
		NegativeTags:     song.NegativeTags,
		Title:            song.Title,
		MakeInstrumental: song.MakeInstrumental,
		Model:            song.Model,
	}

	clips, err := client.CustomGenerate(ctx, req)
	if errors.Is(err, suno.ErrRateLimited) {
		backoff := s.RateLimitBackoff
		if backoff <= 0 {
			backoff = defaultRateLimitBackoff
		}
		logger.Warn("触发限流，退避后重试",
			logger.Int64("songId", song.ID),
			logger.Duration("backoff", backoff))
		if !sleepCtx(ctx, backoff) {
			s.markFailed(song, ctx.Err())
			return ctx.Err()
		}
		clips, err = client.CustomGenerate(ctx, req)
	}
	if err != nil {
		s.markFailed(song, err)
		return err
	}

	for _, clip := range clips {
		status := clip.Status
		if status == "" {
			status = model.GenSubmitted
		}
		if _, err := s.Gens.CreateGeneration(song.ID, clip.ID, status); err != nil {
			logger.Error("保存 generation 失败",
				logger.String("sunoId", clip.ID),
				logger.ErrorField(err))
		}
	}

	if err := s.Songs.UpdateSongStatus(song.ID, model.SongSubmitted, ""); err != nil {
		return fmt.Errorf("mark song submitted: %w", err)
	}

	if s.Bus != nil {
		s.Bus.Publish(model.Event{
			Type:   model.EventGenerationUpdate,
			SongID: song.ID,
			Status: string(model.SongSubmitted),
		})
	}
	logger.Info("提交成功",
		logger.Int64("songId", song.ID),
		logger.String("title", song.Title),
		logger.Int("clips", len(clips)))
	return nil
}

func (s *Submitter) markFailed(song *model.Song, cause error) {
	msg := "submit failed"
	if cause != nil {
		msg = cause.Error()
	}
	if err := s.Songs.UpdateSongStatus(song.ID, model.SongError, msg); err != nil {
		logger.Error("标记歌曲失败状态出错", logger.Int64("songId", song.ID), logger.ErrorField(err))
	}
}

// sleepCtx 可取消的等待，返回 false 表示 ctx 已取消
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
