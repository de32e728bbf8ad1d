package model

import "time"

// SongStatus 歌曲生成生命周期状态
type SongStatus string

const (
	SongPending    SongStatus = "pending"    // 已导入，等待提交
	SongSubmitted  SongStatus = "submitted"  // 已提交到 Suno
	SongProcessing SongStatus = "processing" // 远端生成中
	SongComplete   SongStatus = "complete"   // 至少一个 generation 完成
	SongError      SongStatus = "error"      // 提交或生成失败
)

// Song represents one unit of user intent: lyrics, style tags and the
// target model. A song may own several generations (each retry creates a
// new one, history is never rewritten).
type Song struct {
	ID               int64      `json:"id"`
	Title            string     `json:"title"`
	Lyrics           string     `json:"lyrics"`
	Tags             string     `json:"tags"`
	NegativeTags     string     `json:"negativeTags"`
	MakeInstrumental bool       `json:"makeInstrumental"`
	Model            string     `json:"model"`
	Status           SongStatus `json:"status"`
	ErrorMessage     string     `json:"errorMessage"`
	BatchName        string     `json:"batchName"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// SongFilter 歌曲列表查询条件
type SongFilter struct {
	Status  string // "all" 或具体状态
	Search  string // 标题、标签模糊匹配
	Page    int
	PerPage int
}

// SongPage 分页结果
type SongPage struct {
	Songs      []*Song `json:"songs"`
	Total      int     `json:"total"`
	Page       int     `json:"page"`
	PerPage    int     `json:"perPage"`
	TotalPages int     `json:"totalPages"`
}

// Stats 仪表盘统计
type Stats struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	Processing     int `json:"processing"`
	Pending        int `json:"pending"`
	Errors         int `json:"errors"`
	TotalGens      int `json:"totalGens"`
	CompletedGens  int `json:"completedGens"`
	ProcessingGens int `json:"processingGens"`
	ErrorGens      int `json:"errorGens"`
}
