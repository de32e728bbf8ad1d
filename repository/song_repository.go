package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sunoman/db"
	"sunoman/model"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// SongRepository defines the interface for song data operations.
type SongRepository interface {
	CreateSong(song *model.Song) (int64, error)
	GetSongByID(id int64) (*model.Song, error)
	ListSongs(filter model.SongFilter) (*model.SongPage, error)
	UpdateSongStatus(songID int64, status model.SongStatus, errorMessage string) error
	PendingSongs() ([]*model.Song, error)
	FailedSongs() ([]*model.Song, error)
	// DeleteSongCascade removes the song and all its generations in one
	// transaction and returns the file paths of downloaded artifacts so the
	// caller can remove them from disk.
	DeleteSongCascade(songID int64) ([]string, error)
	Stats() (*model.Stats, error)
}

// mysqlSongRepository implements SongRepository for MySQL.
type mysqlSongRepository struct {
	DB *sql.DB
}

// NewMySQLSongRepository creates a new instance of mysqlSongRepository.
func NewMySQLSongRepository() SongRepository {
	return &mysqlSongRepository{DB: db.DB}
}

const songColumns = `id, title, lyrics, tags, negative_tags, make_instrumental, model, status,
	COALESCE(error_message, ''), batch_name, created_at, updated_at`

func scanSong(row interface{ Scan(...any) error }) (*model.Song, error) {
	song := &model.Song{}
	err := row.Scan(&song.ID, &song.Title, &song.Lyrics, &song.Tags, &song.NegativeTags,
		&song.MakeInstrumental, &song.Model, &song.Status, &song.ErrorMessage,
		&song.BatchName, &song.CreatedAt, &song.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return song, nil
}

// CreateSong adds a new song to the database.
func (r *mysqlSongRepository) CreateSong(song *model.Song) (int64, error) {
	query := `INSERT INTO songs (title, lyrics, tags, negative_tags, make_instrumental, model, status, batch_name, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := r.DB.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement for CreateSong: %w", err)
	}
	defer stmt.Close()

	status := song.Status
	if status == "" {
		status = model.SongPending
	}
	now := time.Now()
	res, err := stmt.Exec(song.Title, song.Lyrics, song.Tags, song.NegativeTags,
		song.MakeInstrumental, song.Model, status, song.BatchName, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to execute CreateSong: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for CreateSong: %w", err)
	}
	return id, nil
}

// GetSongByID retrieves a song by its ID.
func (r *mysqlSongRepository) GetSongByID(id int64) (*model.Song, error) {
	query := `SELECT ` + songColumns + ` FROM songs WHERE id = ?`
	song, err := scanSong(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan song by ID %d: %w", id, err)
	}
	return song, nil
}

// ListSongs retrieves a page of songs matching the filter.
func (r *mysqlSongRepository) ListSongs(filter model.SongFilter) (*model.SongPage, error) {
	where := ""
	args := []any{}
	if filter.Status != "" && filter.Status != "all" {
		where = " WHERE status = ?"
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		if where == "" {
			where = " WHERE"
		} else {
			where += " AND"
		}
		where += " (title LIKE ? OR tags LIKE ?)"
		like := "%" + filter.Search + "%"
		args = append(args, like, like)
	}

	var total int
	if err := r.DB.QueryRow("SELECT COUNT(*) FROM songs"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count songs: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage < 1 {
		perPage = 20
	}
	offset := (page - 1) * perPage

	query := `SELECT ` + songColumns + ` FROM songs` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := r.DB.Query(query, append(args, perPage, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query songs: %w", err)
	}
	defer rows.Close()

	songs := make([]*model.Song, 0)
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan song in ListSongs: %w", err)
		}
		songs = append(songs, song)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration in ListSongs: %w", err)
	}

	totalPages := (total + perPage - 1) / perPage
	if totalPages < 1 {
		totalPages = 1
	}
	return &model.SongPage{
		Songs:      songs,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
	}, nil
}

// UpdateSongStatus updates the song lifecycle status. An empty errorMessage
// clears any previous error.
func (r *mysqlSongRepository) UpdateSongStatus(songID int64, status model.SongStatus, errorMessage string) error {
	query := `UPDATE songs SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`
	stmt, err := r.DB.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement for UpdateSongStatus: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.Exec(status, errorMessage, time.Now(), songID)
	if err != nil {
		return fmt.Errorf("failed to execute UpdateSongStatus for song ID %d: %w", songID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, getErr := r.GetSongByID(songID); getErr != nil {
			return getErr
		}
	}
	return nil
}

func (r *mysqlSongRepository) songsByStatus(status model.SongStatus) ([]*model.Song, error) {
	query := `SELECT ` + songColumns + ` FROM songs WHERE status = ? ORDER BY id ASC`
	rows, err := r.DB.Query(query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query songs with status %s: %w", status, err)
	}
	defer rows.Close()

	songs := make([]*model.Song, 0)
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan song in songsByStatus: %w", err)
		}
		songs = append(songs, song)
	}
	return songs, rows.Err()
}

// PendingSongs returns songs waiting for submission, oldest first.
func (r *mysqlSongRepository) PendingSongs() ([]*model.Song, error) {
	return r.songsByStatus(model.SongPending)
}

// FailedSongs returns songs whose last submission failed.
func (r *mysqlSongRepository) FailedSongs() ([]*model.Song, error) {
	return r.songsByStatus(model.SongError)
}

// DeleteSongCascade 在事务中删除歌曲及其所有 generation，返回落盘文件路径
func (r *mysqlSongRepository) DeleteSongCascade(songID int64) ([]string, error) {
	tx, err := r.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction for DeleteSongCascade: %w", err)
	}
	defer func() {
		if tx != nil {
			tx.Rollback()
		}
	}()

	rows, err := tx.Query(`SELECT file_path FROM generations WHERE song_id = ? AND file_path != ''`, songID)
	if err != nil {
		return nil, fmt.Errorf("failed to collect file paths for song %d: %w", songID, err)
	}
	paths := make([]string, 0)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan file path: %w", err)
		}
		paths = append(paths, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating file paths: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM generations WHERE song_id = ?`, songID); err != nil {
		return nil, fmt.Errorf("failed to delete generations for song %d: %w", songID, err)
	}
	res, err := tx.Exec(`DELETE FROM songs WHERE id = ?`, songID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete song %d: %w", songID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit DeleteSongCascade: %w", err)
	}
	tx = nil
	return paths, nil
}

// Stats aggregates song and generation counters for the dashboard.
func (r *mysqlSongRepository) Stats() (*model.Stats, error) {
	stats := &model.Stats{}
	query := `SELECT
		COUNT(*),
		SUM(status = 'complete'),
		SUM(status IN ('submitted', 'processing')),
		SUM(status = 'pending'),
		SUM(status = 'error')
	FROM songs`
	var completed, processing, pending, errs sql.NullInt64
	if err := r.DB.QueryRow(query).Scan(&stats.Total, &completed, &processing, &pending, &errs); err != nil {
		return nil, fmt.Errorf("failed to query song stats: %w", err)
	}
	stats.Completed = int(completed.Int64)
	stats.Processing = int(processing.Int64)
	stats.Pending = int(pending.Int64)
	stats.Errors = int(errs.Int64)

	genQuery := `SELECT
		COUNT(*),
		SUM(suno_status = 'complete'),
		SUM(suno_status NOT IN ('complete', 'error')),
		SUM(suno_status = 'error')
	FROM generations`
	var gComplete, gProcessing, gError sql.NullInt64
	if err := r.DB.QueryRow(genQuery).Scan(&stats.TotalGens, &gComplete, &gProcessing, &gError); err != nil {
		return nil, fmt.Errorf("failed to query generation stats: %w", err)
	}
	stats.CompletedGens = int(gComplete.Int64)
	stats.ProcessingGens = int(gProcessing.Int64)
	stats.ErrorGens = int(gError.Int64)
	return stats, nil
}
