package domain

import "time"

// ContentItem представляет один пост ленты, полученный от экстрактора.
type ContentItem struct {
	SourceID   string    `json:"source_id"`
	Text       string    `json:"text"`
	AuthorName string    `json:"author_name"`
	AuthorURL  string    `json:"author_url"`
	URL        string    `json:"url"`
	GroupLabel string    `json:"group_label"`
	PostedAt   time.Time `json:"posted_at"`
}

// ScanMode определяет, кто инициировал скан.
type ScanMode string

const (
	// ScanModeManual — скан запущен пользователем вручную.
	ScanModeManual ScanMode = "manual"
	// ScanModeAuto — скан запущен автоматикой.
	ScanModeAuto ScanMode = "auto"
)

// ScanBatch — пакет постов, присланный оболочкой расширения.
type ScanBatch struct {
	TaskID     string        `json:"task_id,omitempty"`
	PageURL    string        `json:"page_url"`
	GroupLabel string        `json:"group_label,omitempty"`
	Mode       ScanMode      `json:"mode"`
	Items      []ContentItem `json:"items"`
}

// ScanResult содержит итог одного прохода пайплайна.
type ScanResult struct {
	ItemsFound    int      `json:"items_found"`
	LeadsDetected int      `json:"leads_detected"`
	Errors        []string `json:"errors,omitempty"`
}

// Intent описывает намерение автора поста по оценке классификатора.
type Intent string

const (
	// IntentSeekingService — автор ищет услугу или исполнителя.
	IntentSeekingService Intent = "seeking_service"
	// IntentRecommendation — автор просит рекомендацию.
	IntentRecommendation Intent = "recommendation"
	// IntentComplaining — автор жалуется на текущее решение.
	IntentComplaining Intent = "complaining"
	// IntentQuestion — автор задаёт нейтральный вопрос.
	IntentQuestion Intent = "question"
	// IntentSelling — автор сам что-то продаёт.
	IntentSelling Intent = "selling"
	// IntentIrrelevant — пост не относится к делу.
	IntentIrrelevant Intent = "irrelevant"
	// IntentGeneral — намерение не определялось (анализ выключен).
	IntentGeneral Intent = "general"
)

// Engaged сообщает, стоит ли готовить черновик ответа для этого намерения.
func (i Intent) Engaged() bool {
	switch i {
	case IntentSeekingService, IntentRecommendation, IntentComplaining:
		return true
	}
	return false
}

// Classification — результат анализа поста внешней моделью.
type Classification struct {
	Intent     Intent   `json:"intent"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Score      int      `json:"score"`
	Keywords   []string `json:"keywords,omitempty"`
}

// LeadStatus описывает стадию работы с лидом.
type LeadStatus string

const (
	// LeadStatusNew — лид найден и ещё не обработан пользователем.
	LeadStatusNew LeadStatus = "new"
	// LeadStatusContacted — пользователь написал автору.
	LeadStatusContacted LeadStatus = "contacted"
	// LeadStatusArchived — лид убран из работы.
	LeadStatusArchived LeadStatus = "archived"
)

// Lead — сохранённый пост, признанный потенциальным клиентом.
type Lead struct {
	ID         string          `json:"id"`
	SourceID   string          `json:"source_id"`
	Text       string          `json:"text"`
	AuthorName string          `json:"author_name"`
	AuthorURL  string          `json:"author_url"`
	URL        string          `json:"url"`
	GroupLabel string          `json:"group_label"`
	Intent     Intent          `json:"intent"`
	Score      int             `json:"score"`
	Analysis   *Classification `json:"analysis,omitempty"`
	DraftReply string          `json:"draft_reply,omitempty"`
	Status     LeadStatus      `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Persona — профиль пользователя для фильтрации постов и генерации ответов.
type Persona struct {
	ID               int64
	Name             string
	Keywords         []string
	NegativeKeywords []string
	Tone             string
	ValueProposition string
	IsActive         bool
	CreatedAt        time.Time
}

// WatchedGroup — группа, которую сканирует автоматика.
type WatchedGroup struct {
	ID          int64
	Name        string
	URL         string
	Category    string
	LastVisited *time.Time
	LeadsFound  int
	IsActive    bool
	CreatedAt   time.Time
}
