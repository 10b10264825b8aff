package classifier

import (
	"context"
	"strings"

	"fb-lead-scanner/internal/domain"
)

// Keyword — эвристический классификатор без внешних вызовов. Используется,
// когда LLM не настроен: намерение выводится по маркерным фразам, черновик
// ответа не генерируется.
type Keyword struct{}

var _ domain.Classifier = (*Keyword)(nil)

// NewKeyword создаёт эвристический классификатор.
func NewKeyword() *Keyword {
	return &Keyword{}
}

var intentMarkers = []struct {
	intent  domain.Intent
	phrases []string
}{
	{domain.IntentSeekingService, []string{
		"ищу", "нужен", "нужна", "нужно", "требуется", "кто может", "кто делает",
		"looking for", "need a", "need an", "anyone who can", "who can help",
	}},
	{domain.IntentRecommendation, []string{
		"посоветуйте", "порекомендуйте", "кого посоветуете", "can anyone recommend",
		"any recommendations", "recommend me",
	}},
	{domain.IntentComplaining, []string{
		"недоволен", "недовольна", "ужасный сервис", "подвёл", "кинул",
		"terrible service", "let me down", "so disappointed",
	}},
	{domain.IntentSelling, []string{
		"продаю", "предлагаю услуги", "скидка", "акция", "наши услуги",
		"we offer", "for sale", "discount", "dm me for prices",
	}},
	{domain.IntentQuestion, []string{
		"подскажите", "как лучше", "сколько стоит", "how much does", "what is the best way",
	}},
}

// Classify выводит намерение по маркерным фразам текста.
func (k *Keyword) Classify(_ context.Context, text string, persona domain.Persona) (domain.Classification, error) {
	lower := strings.ToLower(text)
	for _, marker := range intentMarkers {
		for _, phrase := range marker.phrases {
			if !strings.Contains(lower, phrase) {
				continue
			}
			cls := domain.Classification{
				Intent:     marker.intent,
				Confidence: 0.4,
				Reasoning:  "маркерная фраза: " + phrase,
				Score:      scoreFor(marker.intent, lower, persona),
				Keywords:   matchedKeywords(lower, persona.Keywords),
			}
			return cls, nil
		}
	}
	return domain.Classification{
		Intent:     domain.IntentIrrelevant,
		Confidence: 0.2,
		Reasoning:  "маркерные фразы не найдены",
		Score:      0,
	}, nil
}

// GenerateReply у эвристики всегда пустой: черновики пишет только LLM.
func (k *Keyword) GenerateReply(context.Context, string, domain.Intent, domain.Persona) (string, error) {
	return "", nil
}

func scoreFor(intent domain.Intent, lower string, persona domain.Persona) int {
	base := 0
	switch intent {
	case domain.IntentSeekingService:
		base = 70
	case domain.IntentRecommendation:
		base = 65
	case domain.IntentComplaining:
		base = 55
	case domain.IntentQuestion:
		base = 40
	case domain.IntentSelling:
		base = 10
	}
	// Совпадения с ключевыми словами персоны добавляют уверенности.
	bonus := 5 * len(matchedKeywords(lower, persona.Keywords))
	if bonus > 20 {
		bonus = 20
	}
	return base + bonus
}

func matchedKeywords(lower string, keywords []string) []string {
	var matched []string
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			matched = append(matched, kw)
		}
	}
	return matched
}
