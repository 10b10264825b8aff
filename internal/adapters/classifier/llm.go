package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fb-lead-scanner/internal/domain"
	openai "fb-lead-scanner/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLM реализует классификацию постов через OpenAI Chat Completions.
type LLM struct {
	client  chatClient
	model   string
	timeout time.Duration
}

var _ domain.Classifier = (*LLM)(nil)

// NewLLM создаёт классификатор.
func NewLLM(client chatClient, model string, timeout time.Duration) *LLM {
	if model == "" {
		model = "gpt-4.1-mini"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LLM{client: client, model: model, timeout: timeout}
}

type classificationPayload struct {
	Intent     string   `json:"intent"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Score      int      `json:"score"`
	Keywords   []string `json:"keywords"`
}

var knownIntents = map[string]domain.Intent{
	string(domain.IntentSeekingService): domain.IntentSeekingService,
	string(domain.IntentRecommendation): domain.IntentRecommendation,
	string(domain.IntentComplaining):    domain.IntentComplaining,
	string(domain.IntentQuestion):       domain.IntentQuestion,
	string(domain.IntentSelling):        domain.IntentSelling,
	string(domain.IntentIrrelevant):     domain.IntentIrrelevant,
}

// Classify определяет намерение автора поста относительно услуг персоны.
func (l *LLM) Classify(ctx context.Context, text string, persona domain.Persona) (domain.Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf(`Оцени пост из группы Facebook как потенциальный лид.
Услуги исполнителя: %s.
Ключевые слова: %s.
Верни JSON формата {"intent": "...", "confidence": 0.0, "reasoning": "...", "score": 0, "keywords": ["..."]}.
Допустимые intent: seeking_service, recommendation, complaining, question, selling, irrelevant.
score — целое 0..100, насколько пост похож на заявку клиента.
Текст поста:
%s`, persona.ValueProposition, strings.Join(persona.Keywords, ", "), clipRunes(text, 2000))

	req := openai.ChatCompletionRequest{
		Model:       l.model,
		Temperature: 0.1,
		MaxTokens:   300,
		Messages: []openai.ChatMessage{
			{
				Role:    openai.RoleSystem,
				Content: "Ты аналитик лидов. Оценивай только по тексту поста, ничего не выдумывай.",
			},
			{
				Role:    openai.RoleUser,
				Content: userPrompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	}

	resp, err := l.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.Classification{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.Classification{}, fmt.Errorf("openai completion: пустой ответ")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	var parsed classificationPayload
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return domain.Classification{}, fmt.Errorf("распаковка ответа LLM: %w", err)
	}
	intent, ok := knownIntents[strings.TrimSpace(parsed.Intent)]
	if !ok {
		intent = domain.IntentIrrelevant
	}
	return domain.Classification{
		Intent:     intent,
		Confidence: clampFloat(parsed.Confidence, 0, 1),
		Reasoning:  strings.TrimSpace(parsed.Reasoning),
		Score:      clampInt(parsed.Score, 0, 100),
		Keywords:   filterValues(parsed.Keywords),
	}, nil
}

// GenerateReply готовит черновик ответа автору поста от имени персоны.
func (l *LLM) GenerateReply(ctx context.Context, text string, intent domain.Intent, persona domain.Persona) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	tone := strings.TrimSpace(persona.Tone)
	if tone == "" {
		tone = "дружелюбный, без навязчивости"
	}
	userPrompt := fmt.Sprintf(`Напиши короткий комментарий-ответ автору поста в группе Facebook.
Намерение автора: %s.
Предложение исполнителя: %s.
Тон: %s.
Не больше трёх предложений, без ссылок и без прямой рекламы.
Текст поста:
%s`, intent, persona.ValueProposition, tone, clipRunes(text, 2000))

	req := openai.ChatCompletionRequest{
		Model:       l.model,
		Temperature: 0.7,
		MaxTokens:   200,
		Messages: []openai.ChatMessage{
			{
				Role:    openai.RoleSystem,
				Content: "Ты помогаешь фрилансеру отвечать потенциальным клиентам. Пиши естественно, как человек.",
			},
			{
				Role:    openai.RoleUser,
				Content: userPrompt,
			},
		},
	}

	resp, err := l.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion: пустой ответ")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func filterValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func clipRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
