package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"sunoman/db"
	"sunoman/model"
)

// GenerationRepository defines the interface for generation data operations.
type GenerationRepository interface {
	CreateGeneration(songID int64, sunoID string, status model.GenStatus) (int64, error)
	GetBySunoID(sunoID string) (*model.Generation, error)
	ListBySongID(songID int64) ([]*model.Generation, error)
	// ApplyUpdate writes the fields set in upd. Status writes are monotonic:
	// a terminal status is never overwritten with an earlier one.
	ApplyUpdate(sunoID string, upd model.GenerationUpdate) error
	// IncompleteGenerations returns non-terminal generations, oldest first,
	// so the fixed poll batch size cannot starve old submissions.
	IncompleteGenerations() ([]*model.Generation, error)
	// Downloadable returns complete, not-yet-downloaded generations with an
	// audio URL and a duration of at least minDuration seconds.
	Downloadable(minDuration float64) ([]*model.Generation, error)
	MarkDownloaded(sunoID string, downloaded bool, filePath string) error
	StoreSilence(sunoID string, hasSilence bool, detailsJSON string) error
}

// mysqlGenerationRepository implements GenerationRepository for MySQL.
type mysqlGenerationRepository struct {
	DB *sql.DB
}

// NewMySQLGenerationRepository creates a new instance of mysqlGenerationRepository.
func NewMySQLGenerationRepository() GenerationRepository {
	return &mysqlGenerationRepository{DB: db.DB}
}

const genColumns = `id, song_id, suno_id, audio_url, image_url, video_url, duration,
	suno_status, COALESCE(error_message, ''), downloaded, file_path, has_silence, silence_details,
	created_at, updated_at`

func scanGeneration(row interface{ Scan(...any) error }) (*model.Generation, error) {
	gen := &model.Generation{}
	err := row.Scan(&gen.ID, &gen.SongID, &gen.SunoID, &gen.AudioURL, &gen.ImageURL,
		&gen.VideoURL, &gen.Duration, &gen.SunoStatus, &gen.ErrorMessage,
		&gen.Downloaded, &gen.FilePath, &gen.HasSilence, &gen.SilenceJSON,
		&gen.CreatedAt, &gen.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return gen, nil
}

// CreateGeneration records a new submission attempt for a song.
func (r *mysqlGenerationRepository) CreateGeneration(songID int64, sunoID string, status model.GenStatus) (int64, error) {
	if status == "" {
		status = model.GenSubmitted
	}
	query := `INSERT INTO generations (song_id, suno_id, suno_status, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?)`
	stmt, err := r.DB.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement for CreateGeneration: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	res, err := stmt.Exec(songID, sunoID, status, now, now)
	if err != nil {
		// 外键失败说明 song 不存在，这是编程错误而不是瞬态故障
		if strings.Contains(err.Error(), "foreign key constraint") {
			return 0, fmt.Errorf("constraint violation: generation references missing song %d: %w", songID, err)
		}
		return 0, fmt.Errorf("failed to execute CreateGeneration: %w", err)
	}
	return res.LastInsertId()
}

// GetBySunoID retrieves a generation by its remote identifier.
func (r *mysqlGenerationRepository) GetBySunoID(sunoID string) (*model.Generation, error) {
	query := `SELECT ` + genColumns + ` FROM generations WHERE suno_id = ?`
	gen, err := scanGeneration(r.DB.QueryRow(query, sunoID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan generation %s: %w", sunoID, err)
	}
	return gen, nil
}

// ListBySongID retrieves all generations of a song, newest first.
func (r *mysqlGenerationRepository) ListBySongID(songID int64) ([]*model.Generation, error) {
	query := `SELECT ` + genColumns + ` FROM generations WHERE song_id = ? ORDER BY created_at DESC`
	rows, err := r.DB.Query(query, songID)
	if err != nil {
		return nil, fmt.Errorf("failed to query generations for song %d: %w", songID, err)
	}
	defer rows.Close()

	gens := make([]*model.Generation, 0)
	for rows.Next() {
		gen, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation in ListBySongID: %w", err)
		}
		gens = append(gens, gen)
	}
	return gens, rows.Err()
}

// ApplyUpdate writes the non-nil fields of upd in a single statement.
func (r *mysqlGenerationRepository) ApplyUpdate(sunoID string, upd model.GenerationUpdate) error {
	setParts := []string{}
	args := []any{}

	if upd.SunoStatus != nil {
		// 状态单调推进：terminal 状态不允许被回写
		setParts = append(setParts,
			"suno_status = IF(suno_status IN ('complete','error'), suno_status, ?)")
		args = append(args, *upd.SunoStatus)
	}
	if upd.AudioURL != nil {
		setParts = append(setParts, "audio_url = ?")
		args = append(args, *upd.AudioURL)
	}
	if upd.ImageURL != nil {
		setParts = append(setParts, "image_url = ?")
		args = append(args, *upd.ImageURL)
	}
	if upd.VideoURL != nil {
		setParts = append(setParts, "video_url = ?")
		args = append(args, *upd.VideoURL)
	}
	if upd.Duration != nil {
		setParts = append(setParts, "duration = ?")
		args = append(args, *upd.Duration)
	}
	if upd.ErrorMessage != nil {
		setParts = append(setParts, "error_message = ?")
		args = append(args, *upd.ErrorMessage)
	}
	if len(setParts) == 0 {
		return nil
	}
	setParts = append(setParts, "updated_at = ?")
	args = append(args, time.Now(), sunoID)

	query := `UPDATE generations SET ` + strings.Join(setParts, ", ") + ` WHERE suno_id = ?`
	res, err := r.DB.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to execute ApplyUpdate for %s: %w", sunoID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := r.GetBySunoID(sunoID); getErr != nil {
			return getErr
		}
	}
	return nil
}

// IncompleteGenerations returns generations still in flight, oldest first.
func (r *mysqlGenerationRepository) IncompleteGenerations() ([]*model.Generation, error) {
	query := `SELECT ` + genColumns + ` FROM generations
	           WHERE suno_status NOT IN ('complete', 'error')
	           ORDER BY created_at ASC`
	rows, err := r.DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query incomplete generations: %w", err)
	}
	defer rows.Close()

	gens := make([]*model.Generation, 0)
	for rows.Next() {
		gen, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation in IncompleteGenerations: %w", err)
		}
		gens = append(gens, gen)
	}
	return gens, rows.Err()
}

// Downloadable returns finished generations awaiting download.
func (r *mysqlGenerationRepository) Downloadable(minDuration float64) ([]*model.Generation, error) {
	query := `SELECT ` + genColumns + ` FROM generations
	           WHERE suno_status = 'complete'
	             AND downloaded = 0
	             AND duration >= ?
	             AND audio_url != ''
	           ORDER BY created_at ASC`
	rows, err := r.DB.Query(query, minDuration)
	if err != nil {
		return nil, fmt.Errorf("failed to query downloadable generations: %w", err)
	}
	defer rows.Close()

	gens := make([]*model.Generation, 0)
	for rows.Next() {
		gen, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation in Downloadable: %w", err)
		}
		gens = append(gens, gen)
	}
	return gens, rows.Err()
}

// MarkDownloaded records the local artifact path for a generation.
func (r *mysqlGenerationRepository) MarkDownloaded(sunoID string, downloaded bool, filePath string) error {
	query := `UPDATE generations SET downloaded = ?, file_path = ?, updated_at = ? WHERE suno_id = ?`
	if _, err := r.DB.Exec(query, downloaded, filePath, time.Now(), sunoID); err != nil {
		return fmt.Errorf("failed to execute MarkDownloaded for %s: %w", sunoID, err)
	}
	return nil
}

// StoreSilence persists the silence analysis result for a generation.
func (r *mysqlGenerationRepository) StoreSilence(sunoID string, hasSilence bool, detailsJSON string) error {
	query := `UPDATE generations SET has_silence = ?, silence_details = ?, updated_at = ? WHERE suno_id = ?`
	if _, err := r.DB.Exec(query, hasSilence, detailsJSON, time.Now(), sunoID); err != nil {
		return fmt.Errorf("failed to execute StoreSilence for %s: %w", sunoID, err)
	}
	return nil
}
