package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ScansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scans_total",
		Help: "Количество запусков пайплайна сканирования",
	}, []string{"mode"})

	ScanDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scan_duration_seconds",
		Help:    "Длительность одного прохода пайплайна",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	LeadsDetectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leads_detected_total",
		Help: "Количество сохранённых лидов",
	})

	ItemsSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_items_skipped_total",
		Help: "Пропущенные посты по причинам",
	}, []string{"reason"})

	SessionRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_rejections_total",
		Help: "Отказы гварда сессии по причинам",
	}, []string{"reason"})

	TasksFinishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_tasks_finished_total",
		Help: "Завершённые задачи планировщика по статусам",
	}, []string{"status"})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "automation_queue_depth",
		Help: "Текущая глубина очереди задач",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})

	LeadsFoundByGroup = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leads_found_by_group_total",
		Help: "Найденные лиды по отслеживаемым группам",
	}, []string{"group_id"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		ScansTotal,
		ScanDurationSeconds,
		LeadsDetectedTotal,
		ItemsSkippedTotal,
		SessionRejectionsTotal,
		TasksFinishedTotal,
		QueueDepth,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
		LeadsFoundByGroup,
	)
}

// ObserveScan записывает длительность прохода пайплайна.
func ObserveScan(mode string, start time.Time) {
	ScansTotal.WithLabelValues(mode).Inc()
	ScanDurationSeconds.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}

// IncItemSkipped увеличивает счётчик пропусков по причине.
func IncItemSkipped(reason string) {
	ItemsSkippedTotal.WithLabelValues(reason).Inc()
}

// IncSessionRejection увеличивает счётчик отказов гварда.
func IncSessionRejection(reason string) {
	SessionRejectionsTotal.WithLabelValues(reason).Inc()
}

// IncTaskFinished увеличивает счётчик завершённых задач.
func IncTaskFinished(status string) {
	TasksFinishedTotal.WithLabelValues(status).Inc()
}

// IncLeadsForGroup увеличивает счётчик лидов для группы.
func IncLeadsForGroup(groupID int64, count int) {
	if count <= 0 {
		return
	}
	LeadsFoundByGroup.WithLabelValues(strconv.FormatInt(groupID, 10)).Add(float64(count))
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}
