package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"sunoman/logger"
	"sunoman/model"
)

// CreditsHandler 查询 Suno 账户剩余额度
func (h *APIHandler) CreditsHandler(w http.ResponseWriter, r *http.Request) {
	client, err := h.client.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	credits, err := client.GetCredits(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, credits)
}

// ModelsHandler 查询可用生成模型
func (h *APIHandler) ModelsHandler(w http.ResponseWriter, r *http.Request) {
	client, err := h.client.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	models, err := client.GetModels(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models)
}

// UpdateCookieHandler 热替换 Suno cookie
func (h *APIHandler) UpdateCookieHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Cookie string `json:"cookie"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Cookie) == "" {
		writeError(w, http.StatusBadRequest, "cookie is required")
		return
	}

	if err := h.manager.Replace(r.Context(), req.Cookie); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"replaced": true})
}

// ImportHistoryHandler 把已存在于 Suno 账户的 clip 导入本地库，
// 每个 clip 生成一首歌和对应的 generation 记录。
func (h *APIHandler) ImportHistoryHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids list is empty")
		return
	}

	client, err := h.client.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	infos, err := client.GetAudioInfo(r.Context(), req.IDs)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	imported := 0
	for _, info := range infos {
		title := info.Title
		if title == "" {
			title = "Imported " + info.ID[:8]
		}
		songStatus := model.SongProcessing
		switch info.Status {
		case model.GenComplete:
			songStatus = model.SongComplete
		case model.GenError:
			songStatus = model.SongError
		}

		song := &model.Song{
			Title:     title,
			Lyrics:    info.Lyric,
			Tags:      info.Tags,
			Model:     info.ModelName,
			Status:    songStatus,
			BatchName: "history-import",
		}
		songID, err := h.songRepo.CreateSong(song)
		if err != nil {
			logger.Error("导入歌曲失败", logger.String("sunoId", info.ID), logger.ErrorField(err))
			continue
		}

		status := info.Status
		if status == "" {
			status = model.GenSubmitted
		}
		if _, err := h.genRepo.CreateGeneration(songID, info.ID, status); err != nil {
			logger.Error("导入 generation 失败", logger.String("sunoId", info.ID), logger.ErrorField(err))
			continue
		}

		upd := model.GenerationUpdate{}
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
		if upd.AudioURL != nil || upd.Duration != nil || upd.ImageURL != nil || upd.VideoURL != nil {
			if err := h.genRepo.ApplyUpdate(info.ID, upd); err != nil {
				logger.Warn("回填导入数据失败", logger.String("sunoId", info.ID), logger.ErrorField(err))
			}
		}
		imported++
	}

	if imported > 0 {
		h.poller.PollNow()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requested": len(req.IDs),
		"imported":  imported,
	})
}
