package domain

import "time"

// TaskType описывает вид задачи автоматики.
type TaskType string

const (
	// TaskScanGroup — открыть группу и просканировать её ленту.
	TaskScanGroup TaskType = "scan_group"
	// TaskProcessLeads — дообработать накопленные лиды.
	TaskProcessLeads TaskType = "process_leads"
)

// TaskStatus описывает состояние задачи в очереди планировщика.
type TaskStatus string

const (
	// TaskPending — задача ждёт своего времени.
	TaskPending TaskStatus = "pending"
	// TaskRunning — задача выполняется прямо сейчас.
	TaskRunning TaskStatus = "running"
	// TaskCompleted — задача завершилась успешно.
	TaskCompleted TaskStatus = "completed"
	// TaskFailed — задача завершилась ошибкой.
	TaskFailed TaskStatus = "failed"
)

// Terminal сообщает, достигла ли задача конечного состояния.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// ScheduledTask — одна задача цикла сканирования.
type ScheduledTask struct {
	ID          string     `json:"id"`
	Type        TaskType   `json:"type"`
	TargetID    int64      `json:"target_id,omitempty"`
	TargetURL   string     `json:"target_url,omitempty"`
	TargetLabel string     `json:"target_label,omitempty"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
}

// AutomationState — персистентное состояние планировщика. Синглтон.
type AutomationState struct {
	IsRunning      bool            `json:"is_running"`
	CurrentTaskID  string          `json:"current_task_id,omitempty"`
	Queue          []ScheduledTask `json:"queue"`
	CompletedCount int             `json:"completed_count"`
	FailedCount    int             `json:"failed_count"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
}

// AutomationSettings — пользовательские настройки автоматики.
type AutomationSettings struct {
	Enabled             bool       `json:"enabled"`
	ScanMode            ScanMode   `json:"scan_mode"`
	ScanIntervalMinutes int        `json:"scan_interval_minutes"`
	GroupsPerCycle      int        `json:"groups_per_cycle"`
	DelayMinSeconds     int        `json:"delay_min_seconds"`
	DelayMaxSeconds     int        `json:"delay_max_seconds"`
	AutoAnalyze         bool       `json:"auto_analyze"`
	MinLeadScore        int        `json:"min_lead_score"`
	MinTextLength       int        `json:"min_text_length"`
	LastScanAt          *time.Time `json:"last_scan_at,omitempty"`
}

// DefaultAutomationSettings возвращает настройки по умолчанию.
func DefaultAutomationSettings() AutomationSettings {
	return AutomationSettings{
		Enabled:             false,
		ScanMode:            ScanModeManual,
		ScanIntervalMinutes: 30,
		GroupsPerCycle:      3,
		DelayMinSeconds:     45,
		DelayMaxSeconds:     120,
		AutoAnalyze:         true,
		MinLeadScore:        60,
		MinTextLength:       30,
	}
}

// SessionLimits — счётчики использования и состояние паузы-кулдауна. Синглтон.
type SessionLimits struct {
	MaxPostsPerHour      int        `json:"max_posts_per_hour"`
	MaxGroupsPerDay      int        `json:"max_groups_per_day"`
	CooldownMinutes      int        `json:"cooldown_minutes"`
	PostsScannedThisHour int        `json:"posts_scanned_this_hour"`
	GroupsVisitedToday   int        `json:"groups_visited_today"`
	LastHourReset        time.Time  `json:"last_hour_reset"`
	LastDayReset         time.Time  `json:"last_day_reset"`
	IsPaused             bool       `json:"is_paused"`
	PausedUntil          *time.Time `json:"paused_until,omitempty"`
}

// DefaultSessionLimits возвращает лимиты по умолчанию с отсчётом от now.
func DefaultSessionLimits(now time.Time) SessionLimits {
	return SessionLimits{
		MaxPostsPerHour: 50,
		MaxGroupsPerDay: 20,
		CooldownMinutes: 30,
		LastHourReset:   now,
		LastDayReset:    now,
	}
}
