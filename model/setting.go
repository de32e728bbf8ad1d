package model

import "time"

// Setting 运行期可调策略的键值存储（GORM 模型）
type Setting struct {
	Key       string    `gorm:"primaryKey;size:64" json:"key"`
	Value     string    `gorm:"size:255;not null" json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName keeps the table name stable regardless of pluralization rules.
func (Setting) TableName() string { return "settings" }

// Settings is a typed snapshot of the policy table, re-read at the start
// of every polling cycle so changes apply without a restart.
type Settings struct {
	AutoDownload       bool
	AutoAnalyzeSilence bool
	PollingInterval    time.Duration
	BatchSize          int
	BatchDelay         time.Duration
	ItemDelay          time.Duration
	DownloadFormat     DownloadFormat
	SilenceThresholdDB int           // dBFS，低于此视为静音
	MinSilenceLen      time.Duration // 最短静音段
	MinDurationFilter  float64       // 秒，批量下载时过滤短曲目
	StaleAfter         time.Duration // 远端查无记录多久后判定丢失
	DownloadDir        string
	DefaultModel       string
}
