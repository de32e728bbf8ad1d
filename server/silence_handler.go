package server

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"sunoman/logger"
	"sunoman/model"
)

// SilenceDetailsHandler 返回某个 generation 的静音分析结果
func (h *APIHandler) SilenceDetailsHandler(w http.ResponseWriter, r *http.Request) {
	sunoID := mux.Vars(r)["sunoId"]

	gen, err := h.genRepo.GetBySunoID(sunoID)
	if err != nil {
		writeError(w, http.StatusNotFound, "generation not found")
		return
	}
	if !gen.HasSilence.Valid {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"analyzed": false,
		})
		return
	}

	var analysis model.SilenceAnalysis
	if gen.SilenceJSON.Valid {
		if err := json.Unmarshal([]byte(gen.SilenceJSON.String), &analysis); err != nil {
			writeError(w, http.StatusInternalServerError, "corrupt silence record")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"analyzed": true,
		"analysis": analysis,
	})
}

// ReanalyzeSilenceHandler 对已下载的文件重新执行静音分析
func (h *APIHandler) ReanalyzeSilenceHandler(w http.ResponseWriter, r *http.Request) {
	sunoID := mux.Vars(r)["sunoId"]

	gen, err := h.genRepo.GetBySunoID(sunoID)
	if err != nil {
		writeError(w, http.StatusNotFound, "generation not found")
		return
	}
	if gen.FilePath == "" {
		writeError(w, http.StatusConflict, "generation has no downloaded file")
		return
	}
	if _, err := os.Stat(gen.FilePath); err != nil {
		writeError(w, http.StatusConflict, "downloaded file is missing")
		return
	}
	if h.analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "silence analyzer is not available")
		return
	}

	settings, err := h.settingsRepo.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}

	analysis, err := h.analyzer.Analyze(r.Context(), gen.FilePath,
		float64(settings.SilenceThresholdDB),
		int(settings.MinSilenceLen/time.Millisecond))
	if err != nil {
		logger.Error("静音分析失败", logger.String("sunoId", sunoID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "silence analysis failed")
		return
	}

	details, err := json.Marshal(analysis)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode analysis")
		return
	}
	if err := h.genRepo.StoreSilence(sunoID, analysis.HasSilence, string(details)); err != nil {
		logger.Error("保存静音分析结果失败", logger.String("sunoId", sunoID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to store analysis")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"analyzed": true,
		"analysis": analysis,
	})
}
