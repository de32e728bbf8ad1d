package repository

import (
	"testing"
	"time"

	"sunoman/model"
)

func TestParseSettingsDefaults(t *testing.T) {
	s := ParseSettings(map[string]string{})

	if !s.AutoDownload {
		t.Error("auto_download should default to true")
	}
	if s.PollingInterval != 10*time.Second {
		t.Errorf("polling interval = %v, want 10s", s.PollingInterval)
	}
	if s.BatchSize != 5 {
		t.Errorf("batch size = %d, want 5", s.BatchSize)
	}
	if s.DownloadFormat != model.FormatMP3 {
		t.Errorf("format = %s, want mp3", s.DownloadFormat)
	}
	if s.MinDurationFilter != 180 {
		t.Errorf("min duration = %v, want 180", s.MinDurationFilter)
	}
	if s.StaleAfter != 30*time.Minute {
		t.Errorf("stale after = %v, want 30m", s.StaleAfter)
	}
	if s.MinSilenceLen != time.Second {
		t.Errorf("min silence length = %v, want 1s", s.MinSilenceLen)
	}
}

func TestParseSettingsOverrides(t *testing.T) {
	s := ParseSettings(map[string]string{
		"auto_download":       "false",
		"polling_interval":    "30",
		"batch_size":          "10",
		"download_format":     "both",
		"min_duration_filter": "90.5",
		"silence_threshold":   "-35",
		"download_dir":        "/data/music",
	})

	if s.AutoDownload {
		t.Error("auto_download override ignored")
	}
	if s.PollingInterval != 30*time.Second {
		t.Errorf("polling interval = %v", s.PollingInterval)
	}
	if s.BatchSize != 10 {
		t.Errorf("batch size = %d", s.BatchSize)
	}
	if s.DownloadFormat != model.FormatBoth {
		t.Errorf("format = %s", s.DownloadFormat)
	}
	if s.MinDurationFilter != 90.5 {
		t.Errorf("min duration = %v", s.MinDurationFilter)
	}
	if s.SilenceThresholdDB != -35 {
		t.Errorf("threshold = %d", s.SilenceThresholdDB)
	}
	if s.DownloadDir != "/data/music" {
		t.Errorf("download dir = %q", s.DownloadDir)
	}
}

func TestParseSettingsMalformedFallsBack(t *testing.T) {
	s := ParseSettings(map[string]string{
		"polling_interval": "not-a-number",
		"download_format":  "flac",
		"auto_download":    "maybe",
	})

	if s.PollingInterval != 10*time.Second {
		t.Errorf("malformed interval should fall back to default, got %v", s.PollingInterval)
	}
	if s.DownloadFormat != model.FormatMP3 {
		t.Errorf("unknown format should fall back to mp3, got %s", s.DownloadFormat)
	}
	if !s.AutoDownload {
		t.Error("malformed bool should fall back to default true")
	}
}

func TestKnownSetting(t *testing.T) {
	if !KnownSetting("batch_size") {
		t.Error("batch_size is a known key")
	}
	if KnownSetting("no_such_key") {
		t.Error("unknown keys must be rejected")
	}
}
