package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sunoman/core/event"
	"sunoman/core/suno"
	"sunoman/model"
)

func newTestPipeline(t *testing.T, api *fakeSunoAPI, settings model.Settings) (*Pipeline, *fakeSongRepo, *fakeGenRepo) {
	t.Helper()
	settings.DownloadDir = t.TempDir()
	songs := newFakeSongRepo()
	gens := newFakeGenRepo()
	p := &Pipeline{
		Songs:           songs,
		Gens:            gens,
		Settings:        &fakeSettingsRepo{settings: settings},
		Client:          fakeSource{api: api},
		Analyzer:        &fakeAnalyzer{},
		WAVPollInterval: time.Millisecond,
		WAVPollTimeout:  5 * time.Millisecond,
	}
	return p, songs, gens
}

func seedCompleteClip(songs *fakeSongRepo, gens *fakeGenRepo, api *fakeSunoAPI, sunoID, title string) int64 {
	songID, _ := songs.CreateSong(&model.Song{Title: title, Status: model.SongComplete})
	gens.CreateGeneration(songID, sunoID, model.GenComplete)
	api.clips[sunoID] = suno.AudioInfo{
		ID:        sunoID,
		Title:     title,
		Status:    model.GenComplete,
		AudioURL:  "https://cdn/" + sunoID + ".mp3",
		ImageURL:  "https://cdn/" + sunoID + ".jpg",
		Duration:  200,
		ModelName: "chirp-crow",
		Tags:      "pop",
	}
	return songID
}

func TestPipelineDownloadsMP3WithSidecars(t *testing.T) {
	api := &fakeSunoAPI{clips: map[string]suno.AudioInfo{}}
	settings := testSettings()
	settings.AutoAnalyzeSilence = true
	p, songs, gens := newTestPipeline(t, api, settings)
	seedCompleteClip(songs, gens, api, "abcdefgh1234", "My Song")

	outcome, err := p.Run(context.Background(), Job{SunoID: "abcdefgh1234"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome != OutcomeDone {
		t.Fatalf("outcome = %v, want done", outcome)
	}

	dir := filepath.Join(p.settingsDir(t), "My Song_abcdefgh")
	for _, name := range []string{"My Song_abcdefgh.mp3", "cover.jpg", "info.txt", "metadata.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}

	gen, _ := gens.GetBySunoID("abcdefgh1234")
	if !gen.Downloaded {
		t.Error("generation should be marked downloaded")
	}
	if gen.FilePath != filepath.Join(dir, "My Song_abcdefgh.mp3") {
		t.Errorf("file path = %q", gen.FilePath)
	}
	if !gen.HasSilence.Valid || !gen.HasSilence.Bool {
		t.Error("silence analysis result should be stored")
	}
}

// settingsDir 取出流水线实际使用的下载根目录
func (p *Pipeline) settingsDir(t *testing.T) string {
	t.Helper()
	settings, err := p.Settings.Snapshot()
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	return settings.DownloadDir
}

func TestPipelineSkipsAlreadyDownloaded(t *testing.T) {
	api := &fakeSunoAPI{clips: map[string]suno.AudioInfo{}}
	p, songs, gens := newTestPipeline(t, api, testSettings())
	seedCompleteClip(songs, gens, api, "clip-done", "Done")

	existing := filepath.Join(p.settingsDir(t), "already.mp3")
	if err := os.WriteFile(existing, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	gens.MarkDownloaded("clip-done", true, existing)

	outcome, err := p.Run(context.Background(), Job{SunoID: "clip-done"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Fatalf("outcome = %v, want skipped when file already on disk", outcome)
	}
}

func TestPipelineForceRedownloads(t *testing.T) {
	api := &fakeSunoAPI{clips: map[string]suno.AudioInfo{}}
	p, songs, gens := newTestPipeline(t, api, testSettings())
	seedCompleteClip(songs, gens, api, "clip-force", "Force")

	existing := filepath.Join(p.settingsDir(t), "keep.mp3")
	if err := os.WriteFile(existing, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	gens.MarkDownloaded("clip-force", true, existing)

	outcome, err := p.Run(context.Background(), Job{SunoID: "clip-force", Force: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome != OutcomeDone {
		t.Fatalf("outcome = %v, force must bypass the downloaded check", outcome)
	}

	gen, _ := gens.GetBySunoID("clip-force")
	if gen.FilePath == existing {
		t.Error("file path should point at the fresh download")
	}
}

func TestPipelineFormatOverride(t *testing.T) {
	api := &fakeSunoAPI{clips: map[string]suno.AudioInfo{}, wavURL: "https://cdn/file.wav"}
	settings := testSettings()
	settings.DownloadFormat = model.FormatMP3
	p, songs, gens := newTestPipeline(t, api, settings)
	seedCompleteClip(songs, gens, api, "clip-ovr", "Override")

	outcome, err := p.Run(context.Background(), Job{SunoID: "clip-ovr", Format: model.FormatWAV})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome != OutcomeDone {
		t.Fatalf("outcome = %v, want done", outcome)
	}

	gen, _ := gens.GetBySunoID("clip-ovr")
	if filepath.Ext(gen.FilePath) != ".wav" {
		t.Errorf("primary file = %q, format override should win over settings", gen.FilePath)
	}
}

func TestPipelineRedownloadsWhenFileMissing(t *testing.T) {
	api := &fakeSunoAPI{clips: map[string]suno.AudioInfo{}}
	p, songs, gens := newTestPipeline(t, api, testSettings())
	seedCompleteClip(songs, gens, api, "clip-gone", "Gone")

	gens.MarkDownloaded("clip-gone", true, filepath.Join(p.settingsDir(t), "missing", "gone.mp3"))

	outcome, err := p.Run(context.Background(), Job{SunoID: "clip-gone"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome != OutcomeDone {
		t.Fatalf("outcome = %v, deleted file should trigger a fresh download", outcome)
	}
}

func TestPipelineSkipsUnfinishedClip(t *testing.T) {
	api := &fakeSunoAPI{clips: map[string]suno.AudioInfo{}}
	p, songs, gens := newTestPipeline(t, api, testSettings())
	songID, _ := songs.CreateSong(&model.Song{Title: "WIP", Status: model.SongProcessing})
	gens.CreateGeneration(songID, "clip-wip", model.GenStreaming)
	api.clips["clip-wip"] = suno.AudioInfo{ID: "clip-wip", Status: model.GenStreaming}

	outcome, err := p.Run(context.Background(), Job{SunoID: "clip-wip"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Fatalf("outcome = %v, streaming clip must not be downloaded", outcome)
	}
}

func TestPipelineWAVTimeoutFallsBackToMP3(t *testing.T) {
	api := &fakeSunoAPI{clips: map[string]suno.AudioInfo{}, wavPendingErrs: 1 << 20}
	settings := testSettings()
	settings.DownloadFormat = model.FormatWAV
	p, songs, gens := newTestPipeline(t, api, settings)
	seedCompleteClip(songs, gens, api, "clip-wav-slow", "Slow")

	outcome, err := p.Run(context.Background(), Job{SunoID: "clip-wav-slow"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome != OutcomeDone {
		t.Fatalf("outcome = %v, timeout should fall back to mp3", outcome)
	}

	gen, _ := gens.GetBySunoID("clip-wav-slow")
	if filepath.Ext(gen.FilePath) != ".mp3" {
		t.Errorf("file path = %q, want mp3 fallback", gen.FilePath)
	}
}

func TestPipelineDownloadsBothFormats(t *testing.T) {
	api := &fakeSunoAPI{clips: map[string]suno.AudioInfo{}, wavURL: "https://cdn/file.wav"}
	settings := testSettings()
	settings.DownloadFormat = model.FormatBoth
	p, songs, gens := newTestPipeline(t, api, settings)
	seedCompleteClip(songs, gens, api, "clip-both", "Both")

	outcome, err := p.Run(context.Background(), Job{SunoID: "clip-both"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome != OutcomeDone {
		t.Fatalf("outcome = %v, want done", outcome)
	}

	dir := filepath.Join(p.settingsDir(t), "Both_clip-bot")
	for _, ext := range []string{".wav", ".mp3"} {
		if _, err := os.Stat(filepath.Join(dir, "Both_clip-bot"+ext)); err != nil {
			t.Errorf("expected %s file: %v", ext, err)
		}
	}

	// 同时下载两种格式时以 WAV 为主文件
	gen, _ := gens.GetBySunoID("clip-both")
	if filepath.Ext(gen.FilePath) != ".wav" {
		t.Errorf("primary file = %q, want wav", gen.FilePath)
	}
}

func TestPipelinePublishesFinalProgress(t *testing.T) {
	api := &fakeSunoAPI{clips: map[string]suno.AudioInfo{}}
	p, songs, gens := newTestPipeline(t, api, testSettings())
	p.Bus = event.NewBus()
	sub := p.Bus.Subscribe()
	defer p.Bus.Unsubscribe(sub)
	seedCompleteClip(songs, gens, api, "clip-prog", "Progress")

	outcome, err := p.Run(context.Background(), Job{SunoID: "clip-prog"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome != OutcomeDone {
		t.Fatalf("outcome = %v, want done", outcome)
	}

	// 限流不应吞掉最后一块进度，订阅方必须看到 100%
	sawFull := false
	for done := false; !done; {
		select {
		case ev := <-sub.C:
			if ev.Phase == string(model.PhaseDownloading) && ev.Progress == 1 {
				sawFull = true
			}
			if ev.Phase == string(model.PhaseComplete) {
				done = true
			}
		case <-time.After(time.Second):
			done = true
		}
	}
	if !sawFull {
		t.Error("no downloading event with progress 1.0 was broadcast")
	}
}

func TestSafeTitle(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Plain Title", "Plain Title"},
		{"a/b\\c:d*e", "a_b_c_d_e"},
		{"  spaced  ", "spaced"},
		{"", "untitled"},
		{"夜曲 Nocturne", "夜曲 Nocturne"},
	}
	for _, c := range cases {
		if got := safeTitle(c.in); got != c.want {
			t.Errorf("safeTitle(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
