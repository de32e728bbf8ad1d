package repository

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"sunoman/db"
	"sunoman/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Default values seeded on first start. Keys missing from the table fall
// back to these, so partially seeded databases stay usable.
var settingDefaults = map[string]string{
	"auto_download":        "true",
	"auto_analyze_silence": "true",
	"polling_interval":     "10",
	"batch_size":           "5",
	"batch_delay":          "30",
	"item_delay":           "3",
	"download_format":      "mp3",
	"silence_threshold":    "-40",
	"min_silence_length":   "1000",
	"min_duration_filter":  "180",
	"stale_after":          "1800",
	"download_dir":         "downloads",
	"default_model":        "chirp-crow",
}

// KnownSetting reports whether key is a recognized policy key.
func KnownSetting(key string) bool {
	_, ok := settingDefaults[key]
	return ok
}

// SettingsRepository 运行期策略的读写接口
type SettingsRepository interface {
	Get(key string) (string, error)
	Set(key, value string) error
	All() (map[string]string, error)
	// Snapshot returns a typed view of the whole table. Callers take a fresh
	// snapshot at the start of each polling cycle so edits apply live.
	Snapshot() (model.Settings, error)
}

// gormSettingsRepository implements SettingsRepository on the GORM connection.
type gormSettingsRepository struct {
	DB *gorm.DB
}

// NewGormSettingsRepository creates a settings repository and seeds defaults
// for keys that do not exist yet.
func NewGormSettingsRepository() (SettingsRepository, error) {
	r := &gormSettingsRepository{DB: db.GormDB}
	if err := r.seedDefaults(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *gormSettingsRepository) seedDefaults() error {
	for key, val := range settingDefaults {
		setting := model.Setting{Key: key, Value: val, UpdatedAt: time.Now()}
		// 已存在的键不覆盖
		err := r.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&setting).Error
		if err != nil {
			return fmt.Errorf("failed to seed setting %s: %w", key, err)
		}
	}
	return nil
}

// Get returns the stored value or the compiled-in default.
func (r *gormSettingsRepository) Get(key string) (string, error) {
	var setting model.Setting
	err := r.DB.First(&setting, "`key` = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if def, ok := settingDefaults[key]; ok {
				return def, nil
			}
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return setting.Value, nil
}

// Set upserts a setting value.
func (r *gormSettingsRepository) Set(key, value string) error {
	setting := model.Setting{Key: key, Value: value, UpdatedAt: time.Now()}
	err := r.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// All returns every stored setting merged over the defaults.
func (r *gormSettingsRepository) All() (map[string]string, error) {
	var settings []model.Setting
	if err := r.DB.Find(&settings).Error; err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	out := make(map[string]string, len(settingDefaults))
	for k, v := range settingDefaults {
		out[k] = v
	}
	for _, s := range settings {
		out[s.Key] = s.Value
	}
	return out, nil
}

// Snapshot parses the settings table into the typed policy struct.
func (r *gormSettingsRepository) Snapshot() (model.Settings, error) {
	raw, err := r.All()
	if err != nil {
		return model.Settings{}, err
	}
	return ParseSettings(raw), nil
}

// ParseSettings converts raw key/value settings into the typed snapshot,
// substituting defaults for malformed values.
func ParseSettings(raw map[string]string) model.Settings {
	return model.Settings{
		AutoDownload:       parseBool(raw, "auto_download"),
		AutoAnalyzeSilence: parseBool(raw, "auto_analyze_silence"),
		PollingInterval:    parseSeconds(raw, "polling_interval"),
		BatchSize:          parseInt(raw, "batch_size"),
		BatchDelay:         parseSeconds(raw, "batch_delay"),
		ItemDelay:          parseSeconds(raw, "item_delay"),
		DownloadFormat:     parseFormat(raw["download_format"]),
		SilenceThresholdDB: parseInt(raw, "silence_threshold"),
		MinSilenceLen:      time.Duration(parseInt(raw, "min_silence_length")) * time.Millisecond,
		MinDurationFilter:  parseFloat(raw, "min_duration_filter"),
		StaleAfter:         parseSeconds(raw, "stale_after"),
		DownloadDir:        raw["download_dir"],
		DefaultModel:       raw["default_model"],
	}
}

func parseFormat(v string) model.DownloadFormat {
	f := model.DownloadFormat(v)
	if !f.Valid() {
		return model.FormatMP3
	}
	return f
}

func parseBool(raw map[string]string, key string) bool {
	b, err := strconv.ParseBool(raw[key])
	if err != nil {
		b, _ = strconv.ParseBool(settingDefaults[key])
	}
	return b
}

func parseInt(raw map[string]string, key string) int {
	n, err := strconv.Atoi(raw[key])
	if err != nil {
		n, _ = strconv.Atoi(settingDefaults[key])
	}
	return n
}

func parseFloat(raw map[string]string, key string) float64 {
	f, err := strconv.ParseFloat(raw[key], 64)
	if err != nil {
		f, _ = strconv.ParseFloat(settingDefaults[key], 64)
	}
	return f
}

func parseSeconds(raw map[string]string, key string) time.Duration {
	return time.Duration(parseInt(raw, key)) * time.Second
}
