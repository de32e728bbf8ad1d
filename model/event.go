package model

// EventType 广播事件类型
type EventType string

const (
	// EventProgress 下载流水线进度
	EventProgress EventType = "progress"
	// EventGenerationUpdate generation 状态变化
	EventGenerationUpdate EventType = "generation_update"
	// EventStatus 保留给非核心信号（如 cookie 更新提示）
	EventStatus EventType = "status"
)

// Event 发布到事件总线、再经 WebSocket 推给客户端的统一消息
type Event struct {
	Type      EventType `json:"event"`
	SunoID    string    `json:"sunoId,omitempty"`
	SongID    int64     `json:"songId,omitempty"`
	Status    string    `json:"status,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	Progress  float64   `json:"progress,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp int64     `json:"timestamp"`
}
