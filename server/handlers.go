package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"sunoman/config"
	"sunoman/core/analyzer"
	"sunoman/core/orchestrator"
	"sunoman/core/suno"
	"sunoman/logger"
	"sunoman/model"
	"sunoman/repository"
)

// APIHandler 处理所有API请求
type APIHandler struct {
	songRepo     repository.SongRepository
	genRepo      repository.GenerationRepository
	settingsRepo repository.SettingsRepository
	client       orchestrator.ClientSource
	submitter    *orchestrator.Submitter
	coordinator  *orchestrator.Coordinator
	poller       *orchestrator.Poller
	manager      *suno.Manager
	analyzer     analyzer.Analyzer
	cfg          *config.Config
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(
	songRepo repository.SongRepository,
	genRepo repository.GenerationRepository,
	settingsRepo repository.SettingsRepository,
	client orchestrator.ClientSource,
	submitter *orchestrator.Submitter,
	coordinator *orchestrator.Coordinator,
	poller *orchestrator.Poller,
	manager *suno.Manager,
	silence analyzer.Analyzer,
	cfg *config.Config,
) *APIHandler {
	return &APIHandler{
		songRepo:     songRepo,
		genRepo:      genRepo,
		settingsRepo: settingsRepo,
		client:       client,
		submitter:    submitter,
		coordinator:  coordinator,
		poller:       poller,
		manager:      manager,
		analyzer:     silence,
		cfg:          cfg,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type songInput struct {
	Title            string `json:"title"`
	Lyrics           string `json:"lyrics"`
	Tags             string `json:"tags"`
	NegativeTags     string `json:"negativeTags"`
	MakeInstrumental bool   `json:"makeInstrumental"`
	Model            string `json:"model"`
}

type createSongsRequest struct {
	Songs     []songInput `json:"songs"`
	BatchName string      `json:"batchName"`
	Submit    bool        `json:"submit"` // true 时创建后立即提交
}

// CreateSongsHandler 批量导入歌曲。同一次导入共享一个批次名，
// 未指定时自动生成。
func (h *APIHandler) CreateSongsHandler(w http.ResponseWriter, r *http.Request) {
	var req createSongsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Songs) == 0 {
		writeError(w, http.StatusBadRequest, "songs list is empty")
		return
	}

	settings, err := h.settingsRepo.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}

	batchName := strings.TrimSpace(req.BatchName)
	if batchName == "" {
		batchName = "batch-" + uuid.NewString()[:8]
	}

	ids := make([]int64, 0, len(req.Songs))
	for _, in := range req.Songs {
		if strings.TrimSpace(in.Title) == "" {
			writeError(w, http.StatusBadRequest, "song title is required")
			return
		}
		genModel := in.Model
		if genModel == "" {
			genModel = settings.DefaultModel
		}
		song := &model.Song{
			Title:            strings.TrimSpace(in.Title),
			Lyrics:           in.Lyrics,
			Tags:             in.Tags,
			NegativeTags:     in.NegativeTags,
			MakeInstrumental: in.MakeInstrumental,
			Model:            genModel,
			Status:           model.SongPending,
			BatchName:        batchName,
		}
		id, err := h.songRepo.CreateSong(song)
		if err != nil {
			logger.Error("创建歌曲失败", logger.String("title", song.Title), logger.ErrorField(err))
			writeError(w, http.StatusInternalServerError, "failed to create song")
			return
		}
		ids = append(ids, id)
	}

	if req.Submit {
		// 提交可能耗时数分钟（批间延迟），放后台跑
		go func() {
			report, err := h.submitter.SubmitAll(context.Background())
			if err != nil {
				logger.Error("导入后提交失败", logger.ErrorField(err))
				return
			}
			logger.Info("导入后提交完成",
				logger.Int("submitted", report.Submitted),
				logger.Int("failed", report.Failed))
		}()
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"ids":       ids,
		"batchName": batchName,
		"created":   len(ids),
	})
}

// ListSongsHandler 分页查询歌曲列表
func (h *APIHandler) ListSongsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.SongFilter{
		Status:  q.Get("status"),
		Search:  q.Get("search"),
		Page:    queryInt(q.Get("page"), 1),
		PerPage: queryInt(q.Get("perPage"), 20),
	}

	page, err := h.songRepo.ListSongs(filter)
	if err != nil {
		logger.Error("查询歌曲列表失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to list songs")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GetSongHandler 查询单首歌及其全部 generation
func (h *APIHandler) GetSongHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	song, err := h.songRepo.GetSongByID(id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "song not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load song")
		return
	}

	gens, err := h.genRepo.ListBySongID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load generations")
		return
	}

	type genView struct {
		*model.Generation
		Downloading bool `json:"downloading"`
	}
	views := make([]genView, 0, len(gens))
	for _, gen := range gens {
		views = append(views, genView{
			Generation:  gen,
			Downloading: h.coordinator.InFlight(gen.SunoID),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"song":        song,
		"generations": views,
	})
}

// DeleteSongHandler 删除歌曲、名下 generation 和已下载的文件
func (h *APIHandler) DeleteSongHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	filePaths, err := h.songRepo.DeleteSongCascade(id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "song not found")
		return
	}
	if err != nil {
		logger.Error("删除歌曲失败", logger.Int64("songId", id), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to delete song")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted":      true,
		"filesRemoved": h.removeSongFiles(filePaths),
	})
}

// BatchDeleteSongsHandler 批量删除歌曲及其文件
func (h *APIHandler) BatchDeleteSongsHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids list is required")
		return
	}

	deleted, removed := 0, 0
	for _, id := range req.IDs {
		filePaths, err := h.songRepo.DeleteSongCascade(id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			logger.Error("批量删除失败", logger.Int64("songId", id), logger.ErrorField(err))
			continue
		}
		deleted++
		removed += h.removeSongFiles(filePaths)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted":      deleted,
		"filesRemoved": removed,
	})
}

// removeSongFiles 删除歌曲的下载目录，只接受下载根目录内的路径。
// download_dir 设置可在运行时修改，新旧根目录都算合法。
func (h *APIHandler) removeSongFiles(filePaths []string) int {
	roots := []string{h.cfg.DownloadDir}
	if settings, err := h.settingsRepo.Snapshot(); err == nil && settings.DownloadDir != "" {
		roots = append(roots, settings.DownloadDir)
	}

	removed := 0
	for _, fp := range filePaths {
		if fp == "" {
			continue
		}
		dir := filepath.Dir(fp)
		allowed := false
		for _, root := range roots {
			if withinDir(root, dir) {
				allowed = true
				break
			}
		}
		if !allowed {
			logger.Warn("文件不在下载目录内，跳过删除", logger.String("path", fp))
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("删除下载目录失败", logger.String("dir", dir), logger.ErrorField(err))
			continue
		}
		removed++
	}
	return removed
}

// SubmitSongHandler 提交单首歌
func (h *APIHandler) SubmitSongHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.submitter.SubmitSong(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "song not found")
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.poller.PollNow()
	writeJSON(w, http.StatusOK, map[string]bool{"submitted": true})
}

// SubmitAllHandler 提交全部待提交歌曲，同步等待整批完成
func (h *APIHandler) SubmitAllHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.submitter.SubmitAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RetryFailedHandler 重新提交全部失败歌曲
func (h *APIHandler) RetryFailedHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.submitter.RetryFailed(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// StatsHandler 仪表盘统计
func (h *APIHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.songRepo.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// PollNowHandler 触发一轮立即轮询
func (h *APIHandler) PollNowHandler(w http.ResponseWriter, r *http.Request) {
	h.poller.PollNow()
	writeJSON(w, http.StatusAccepted, map[string]bool{"requested": true})
}

// PollStatusHandler 轮询器运行状态
func (h *APIHandler) PollStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"running": h.poller.Running()})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid song id")
		return 0, false
	}
	return id, true
}

func queryInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// withinDir 判断 path 是否位于 base 目录内
func withinDir(base, path string) bool {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absBase, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
