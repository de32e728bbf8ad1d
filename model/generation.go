package model

import (
	"database/sql"
	"time"
)

// GenStatus 远端生成状态，镜像 Suno 自己的词汇表
type GenStatus string

const (
	GenSubmitted GenStatus = "submitted"
	GenQueued    GenStatus = "queued"
	GenStreaming GenStatus = "streaming"
	GenComplete  GenStatus = "complete"
	GenError     GenStatus = "error"
)

// Terminal reports whether the status admits no further remote progress.
func (s GenStatus) Terminal() bool {
	return s == GenComplete || s == GenError
}

// rank defines the monotonic ordering submitted < queued < streaming < terminal.
func (s GenStatus) rank() int {
	switch s {
	case GenSubmitted:
		return 0
	case GenQueued:
		return 1
	case GenStreaming:
		return 2
	case GenComplete, GenError:
		return 3
	}
	return -1
}

// AtLeast reports whether s is as far along as other in the lifecycle order.
func (s GenStatus) AtLeast(other GenStatus) bool {
	return s.rank() >= other.rank()
}

// Generation is one remote submission attempt tied to a song. The remote
// identifier (SunoID) is assigned only after a successful submission.
type Generation struct {
	ID           int64          `json:"id"`
	SongID       int64          `json:"songId"`
	SunoID       string         `json:"sunoId"`
	AudioURL     string         `json:"audioUrl"`
	ImageURL     string         `json:"imageUrl"`
	VideoURL     string         `json:"videoUrl"`
	Duration     float64        `json:"duration"`
	SunoStatus   GenStatus      `json:"sunoStatus"`
	ErrorMessage string         `json:"errorMessage"`
	Downloaded   bool           `json:"downloaded"`
	FilePath     string         `json:"filePath"`
	HasSilence   sql.NullBool   `json:"hasSilence"` // null until analysis runs
	SilenceJSON  sql.NullString `json:"-"`           // raw analysis result
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// GenerationUpdate carries the mutable fields written by the polling loop.
// Nil pointers mean "leave unchanged".
type GenerationUpdate struct {
	SunoStatus   *GenStatus
	AudioURL     *string
	ImageURL     *string
	VideoURL     *string
	Duration     *float64
	ErrorMessage *string
}
