package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sunoman/core/suno"
	"sunoman/model"
	"sunoman/repository"
)

// 内存版的仓库与远端客户端，编排层的测试都跑在这些假实现上

type fakeSongRepo struct {
	mu     sync.Mutex
	songs  map[int64]*model.Song
	nextID int64
}

func newFakeSongRepo() *fakeSongRepo {
	return &fakeSongRepo{songs: make(map[int64]*model.Song)}
}

func (r *fakeSongRepo) CreateSong(song *model.Song) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	cp := *song
	cp.ID = r.nextID
	if cp.Status == "" {
		cp.Status = model.SongPending
	}
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = time.Now()
	r.songs[cp.ID] = &cp
	return cp.ID, nil
}

func (r *fakeSongRepo) GetSongByID(id int64) (*model.Song, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	song, ok := r.songs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *song
	return &cp, nil
}

func (r *fakeSongRepo) ListSongs(filter model.SongFilter) (*model.SongPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	page := &model.SongPage{Page: 1, PerPage: len(r.songs)}
	for _, s := range r.songs {
		cp := *s
		page.Songs = append(page.Songs, &cp)
	}
	page.Total = len(page.Songs)
	return page, nil
}

func (r *fakeSongRepo) UpdateSongStatus(songID int64, status model.SongStatus, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	song, ok := r.songs[songID]
	if !ok {
		return repository.ErrNotFound
	}
	song.Status = status
	song.ErrorMessage = errorMessage
	song.UpdatedAt = time.Now()
	return nil
}

func (r *fakeSongRepo) byStatus(statuses ...model.SongStatus) []*model.Song {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Song
	for _, s := range r.songs {
		for _, want := range statuses {
			if s.Status == want {
				cp := *s
				out = append(out, &cp)
				break
			}
		}
	}
	return out
}

func (r *fakeSongRepo) PendingSongs() ([]*model.Song, error) {
	return r.byStatus(model.SongPending), nil
}

func (r *fakeSongRepo) FailedSongs() ([]*model.Song, error) {
	return r.byStatus(model.SongError), nil
}

func (r *fakeSongRepo) DeleteSongCascade(songID int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.songs[songID]; !ok {
		return nil, repository.ErrNotFound
	}
	delete(r.songs, songID)
	return nil, nil
}

func (r *fakeSongRepo) Stats() (*model.Stats, error) {
	return &model.Stats{}, nil
}

type fakeGenRepo struct {
	mu     sync.Mutex
	gens   map[string]*model.Generation
	nextID int64
}

func newFakeGenRepo() *fakeGenRepo {
	return &fakeGenRepo{gens: make(map[string]*model.Generation)}
}

func (r *fakeGenRepo) CreateGeneration(songID int64, sunoID string, status model.GenStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.gens[sunoID]; exists {
		return 0, fmt.Errorf("constraint violation: duplicate suno id %s", sunoID)
	}
	r.nextID++
	r.gens[sunoID] = &model.Generation{
		ID:         r.nextID,
		SongID:     songID,
		SunoID:     sunoID,
		SunoStatus: status,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	return r.nextID, nil
}

func (r *fakeGenRepo) GetBySunoID(sunoID string) (*model.Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gen, ok := r.gens[sunoID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *gen
	return &cp, nil
}

func (r *fakeGenRepo) ListBySongID(songID int64) ([]*model.Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Generation
	for _, gen := range r.gens {
		if gen.SongID == songID {
			cp := *gen
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeGenRepo) ApplyUpdate(sunoID string, upd model.GenerationUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	gen, ok := r.gens[sunoID]
	if !ok {
		return repository.ErrNotFound
	}
	if upd.SunoStatus != nil && !gen.SunoStatus.Terminal() {
		gen.SunoStatus = *upd.SunoStatus
	}
	if upd.AudioURL != nil {
		gen.AudioURL = *upd.AudioURL
	}
	if upd.ImageURL != nil {
		gen.ImageURL = *upd.ImageURL
	}
	if upd.VideoURL != nil {
		gen.VideoURL = *upd.VideoURL
	}
	if upd.Duration != nil {
		gen.Duration = *upd.Duration
	}
	if upd.ErrorMessage != nil {
		gen.ErrorMessage = *upd.ErrorMessage
	}
	gen.UpdatedAt = time.Now()
	return nil
}

func (r *fakeGenRepo) IncompleteGenerations() ([]*model.Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Generation
	for _, gen := range r.gens {
		if !gen.SunoStatus.Terminal() {
			cp := *gen
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeGenRepo) Downloadable(minDuration float64) ([]*model.Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Generation
	for _, gen := range r.gens {
		if gen.SunoStatus == model.GenComplete && !gen.Downloaded && gen.Duration >= minDuration {
			cp := *gen
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeGenRepo) MarkDownloaded(sunoID string, downloaded bool, filePath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	gen, ok := r.gens[sunoID]
	if !ok {
		return repository.ErrNotFound
	}
	gen.Downloaded = downloaded
	gen.FilePath = filePath
	return nil
}

func (r *fakeGenRepo) StoreSilence(sunoID string, hasSilence bool, detailsJSON string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	gen, ok := r.gens[sunoID]
	if !ok {
		return repository.ErrNotFound
	}
	gen.HasSilence.Valid = true
	gen.HasSilence.Bool = hasSilence
	gen.SilenceJSON.Valid = true
	gen.SilenceJSON.String = detailsJSON
	return nil
}

// setBackdated 把一条 generation 的更新时间拨回过去，模拟长时间无进展
func (r *fakeGenRepo) setBackdated(sunoID string, age time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen, ok := r.gens[sunoID]; ok {
		gen.UpdatedAt = time.Now().Add(-age)
		gen.CreatedAt = gen.UpdatedAt
	}
}

type fakeSettingsRepo struct {
	mu       sync.Mutex
	settings model.Settings
}

func (r *fakeSettingsRepo) Get(key string) (string, error) { return "", nil }
func (r *fakeSettingsRepo) Set(key, value string) error    { return nil }
func (r *fakeSettingsRepo) All() (map[string]string, error) {
	return map[string]string{}, nil
}
func (r *fakeSettingsRepo) Snapshot() (model.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings, nil
}

func testSettings() model.Settings {
	return model.Settings{
		AutoDownload:       true,
		AutoAnalyzeSilence: false,
		PollingInterval:    10 * time.Second,
		BatchSize:          2,
		BatchDelay:         time.Millisecond,
		ItemDelay:          time.Millisecond,
		DownloadFormat:     model.FormatMP3,
		SilenceThresholdDB: -40,
		MinSilenceLen:      time.Second,
		MinDurationFilter:  180,
		StaleAfter:         30 * time.Minute,
		DownloadDir:        "",
		DefaultModel:       "chirp-crow",
	}
}

// fakeSunoAPI 可编程的远端桩
type fakeSunoAPI struct {
	mu sync.Mutex

	clips map[string]suno.AudioInfo

	generateClips  []suno.AudioInfo
	generateErrs   []error // 依次弹出，用完后视为成功
	generateCalls  int
	feedCalls      int
	wavURL         string
	wavPendingErrs int // WAVFileURL 先返回这么多次 pending
	downloadErr    error
}

func (f *fakeSunoAPI) CustomGenerate(ctx context.Context, req suno.GenerateRequest) ([]suno.AudioInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generateCalls++
	if len(f.generateErrs) > 0 {
		err := f.generateErrs[0]
		f.generateErrs = f.generateErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(f.generateClips) > 0 {
		return f.generateClips, nil
	}
	n := f.generateCalls
	return []suno.AudioInfo{
		{ID: fmt.Sprintf("gen-%d-a", n), Status: model.GenSubmitted},
		{ID: fmt.Sprintf("gen-%d-b", n), Status: model.GenSubmitted},
	}, nil
}

func (f *fakeSunoAPI) GetAudioInfo(ctx context.Context, ids []string) ([]suno.AudioInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedCalls++
	var out []suno.AudioInfo
	for _, id := range ids {
		if info, ok := f.clips[id]; ok {
			out = append(out, info)
		}
	}
	return out, nil
}

func (f *fakeSunoAPI) GetClip(ctx context.Context, sunoID string) (*suno.AudioInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.clips[sunoID]
	if !ok {
		return nil, fmt.Errorf("clip %s not found", sunoID)
	}
	return &info, nil
}

func (f *fakeSunoAPI) RequestWAVConversion(ctx context.Context, sunoID string) error {
	return nil
}

func (f *fakeSunoAPI) WAVFileURL(ctx context.Context, sunoID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.wavPendingErrs > 0 {
		f.wavPendingErrs--
		return "", suno.ErrWAVPending
	}
	if f.wavURL == "" {
		return "", suno.ErrWAVPending
	}
	return f.wavURL, nil
}

func (f *fakeSunoAPI) DownloadFile(ctx context.Context, fileURL, dest string, onProgress suno.ProgressFunc) error {
	f.mu.Lock()
	err := f.downloadErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if mkErr := os.MkdirAll(filepath.Dir(dest), 0o755); mkErr != nil {
		return mkErr
	}
	if onProgress != nil {
		onProgress(4, 8)
		onProgress(8, 8)
	}
	return os.WriteFile(dest, []byte("fake-audio"), 0o644)
}

func (f *fakeSunoAPI) GetCredits(ctx context.Context) (*suno.CreditsInfo, error) {
	return &suno.CreditsInfo{CreditsLeft: 100}, nil
}

func (f *fakeSunoAPI) GetModels(ctx context.Context) ([]suno.ModelInfo, error) {
	return nil, nil
}

type fakeSource struct {
	api SunoAPI
	err error
}

func (s fakeSource) Get(ctx context.Context) (SunoAPI, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.api, nil
}

type fakeAnalyzer struct {
	calls int
	mu    sync.Mutex
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, path string, thresholdDB float64, minLenMS int) (*model.SilenceAnalysis, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return &model.SilenceAnalysis{
		HasSilence:   true,
		SilenceCount: 1,
		Segments:     []model.SilenceSegment{{Start: 10, End: 12, Duration: 2}},
	}, nil
}
