package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"sunoman/cache"
	"sunoman/core/orchestrator"
	"sunoman/logger"
	"sunoman/model"
)

// DownloadHandler 入队下载单个 generation，立即返回。
// 支持 ?force=1 强制重下和 ?format=mp3|wav|both 临时覆盖格式。
func (h *APIHandler) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	sunoID := mux.Vars(r)["sunoId"]
	if sunoID == "" {
		writeError(w, http.StatusBadRequest, "sunoId is required")
		return
	}

	if _, err := h.genRepo.GetBySunoID(sunoID); err != nil {
		writeError(w, http.StatusNotFound, "generation not found")
		return
	}

	job := orchestrator.Job{
		SunoID: sunoID,
		Force:  r.URL.Query().Get("force") == "1" || r.URL.Query().Get("force") == "true",
	}
	if f := r.URL.Query().Get("format"); f != "" {
		format := model.DownloadFormat(f)
		if !format.Valid() {
			writeError(w, http.StatusBadRequest, "invalid format: "+f)
			return
		}
		job.Format = format
	}

	if !h.coordinator.Enqueue(job) {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"queued": false,
			"reason": "already downloading or queued",
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": true})
}

// DownloadAllHandler 下载全部符合条件的已完成 generation，
// 同步执行并返回汇总结果。
func (h *APIHandler) DownloadAllHandler(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settingsRepo.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}

	gens, err := h.genRepo.Downloadable(settings.MinDurationFilter)
	if err != nil {
		logger.Error("查询待下载 generation 失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to list downloadable generations")
		return
	}
	if len(gens) == 0 {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"succeeded": 0, "skipped": 0, "failed": 0,
		})
		return
	}

	jobs := make([]orchestrator.Job, 0, len(gens))
	for _, gen := range gens {
		jobs = append(jobs, orchestrator.Job{SunoID: gen.SunoID})
	}

	report := h.coordinator.RunBatch(r.Context(), jobs)
	writeJSON(w, http.StatusOK, report)
}

// DownloadProgressHandler 返回当前所有下载进度快照
func (h *APIHandler) DownloadProgressHandler(w http.ResponseWriter, r *http.Request) {
	progress, err := cache.AllDownloadProgress(r.Context())
	if err != nil {
		logger.Error("读取进度快照失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to read progress")
		return
	}
	writeJSON(w, http.StatusOK, progress)
}
