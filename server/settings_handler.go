package server

import (
	"encoding/json"
	"net/http"

	"sunoman/logger"
	"sunoman/repository"
)

// GetSettingsHandler 返回全部运行期设置（含默认值）
func (h *APIHandler) GetSettingsHandler(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settingsRepo.All()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// UpdateSettingsHandler 批量更新设置。未知键整体拒绝，
// 更新在下一轮轮询周期自然生效，不需要重启。
func (h *APIHandler) UpdateSettingsHandler(w http.ResponseWriter, r *http.Request) {
	var updates map[string]string
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(updates) == 0 {
		writeError(w, http.StatusBadRequest, "no settings provided")
		return
	}

	for key := range updates {
		if !repository.KnownSetting(key) {
			writeError(w, http.StatusBadRequest, "unknown setting: "+key)
			return
		}
	}

	for key, value := range updates {
		if err := h.settingsRepo.Set(key, value); err != nil {
			logger.Error("写入设置失败", logger.String("key", key), logger.ErrorField(err))
			writeError(w, http.StatusInternalServerError, "failed to update setting "+key)
			return
		}
	}

	settings, err := h.settingsRepo.All()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}
