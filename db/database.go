package db

import (
	"database/sql"
	"fmt"
	"log"

	"sunoman/config"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

var DB *sql.DB

// ConnectDB establishes a connection to the database.
func ConnectDB(cfg *config.Config) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	var err error
	DB, err = sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	if err = DB.Ping(); err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Successfully connected to the database.")
	return nil
}

// InitDB initializes the database schema, creating tables if they don't exist.
func InitDB() error {
	if err := createSongsTable(); err != nil {
		return err
	}
	if err := createGenerationsTable(); err != nil {
		return err
	}
	log.Println("Database initialization completed.")
	return nil
}

func createSongsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS songs (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		lyrics TEXT NOT NULL,
		tags VARCHAR(512) NOT NULL DEFAULT '',
		negative_tags VARCHAR(512) NOT NULL DEFAULT '',
		make_instrumental TINYINT(1) NOT NULL DEFAULT 0,
		model VARCHAR(64) NOT NULL DEFAULT 'chirp-crow',
		status VARCHAR(32) NOT NULL DEFAULT 'pending',
		error_message TEXT,
		batch_name VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_songs_status (status)
	);
	`
	if _, err := DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create songs table: %w", err)
	}
	log.Println("Songs table initialized successfully (or already exists).")
	return nil
}

func createGenerationsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS generations (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		song_id BIGINT NOT NULL,
		suno_id VARCHAR(64) NOT NULL,
		audio_url VARCHAR(767) NOT NULL DEFAULT '',
		image_url VARCHAR(767) NOT NULL DEFAULT '',
		video_url VARCHAR(767) NOT NULL DEFAULT '',
		duration DOUBLE NOT NULL DEFAULT 0,
		suno_status VARCHAR(32) NOT NULL DEFAULT 'submitted',
		error_message TEXT,
		downloaded TINYINT(1) NOT NULL DEFAULT 0,
		file_path VARCHAR(767) NOT NULL DEFAULT '',
		has_silence TINYINT(1),
		silence_details TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		CONSTRAINT fk_song_generations FOREIGN KEY (song_id) REFERENCES songs(id) ON DELETE CASCADE,
		CONSTRAINT uq_suno_id UNIQUE (suno_id),
		INDEX idx_generations_status (suno_status)
	);
	`
	if _, err := DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create generations table: %w", err)
	}
	log.Println("Generations table initialized successfully (or already exists).")
	return nil
}
