package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"fb-lead-scanner/internal/domain"
	"fb-lead-scanner/internal/infra/metrics"
)

type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram доставляет уведомления о лидах в личный чат пользователя.
type Telegram struct {
	bot    botAPI
	chatID int64
	log    zerolog.Logger
}

var _ domain.Notifier = (*Telegram)(nil)

// NewTelegram создаёт нотификатор.
func NewTelegram(bot botAPI, chatID int64, log zerolog.Logger) *Telegram {
	return &Telegram{bot: bot, chatID: chatID, log: log}
}

// NotifyLead отправляет карточку лида. Длинные посты режутся по лимиту
// Telegram, клавиатура со ссылкой идёт только на первой части.
func (t *Telegram) NotifyLead(_ context.Context, lead domain.Lead) error {
	parts := SplitMessage(formatLead(lead))
	for i, part := range parts {
		msg := tgbotapi.NewMessage(t.chatID, part)
		if i == 0 && lead.URL != "" {
			keyboard := tgbotapi.NewInlineKeyboardMarkup(
				tgbotapi.NewInlineKeyboardRow(
					tgbotapi.NewInlineKeyboardButtonURL("Открыть пост", lead.URL),
				),
			)
			msg.ReplyMarkup = keyboard
		}
		start := time.Now()
		_, err := t.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(t.chatID, 10), start, err)
		if err != nil {
			t.log.Error().Err(err).Str("lead_id", lead.ID).Msg("не удалось отправить уведомление о лиде")
			return fmt.Errorf("отправка уведомления: %w", err)
		}
	}
	return nil
}

func formatLead(lead domain.Lead) string {
	var b strings.Builder
	b.WriteString("🎯 Новый лид")
	if lead.GroupLabel != "" {
		b.WriteString(" — ")
		b.WriteString(lead.GroupLabel)
	}
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Намерение: %s (score %d)\n", intentLabel(lead.Intent), lead.Score)
	if lead.AuthorName != "" {
		fmt.Fprintf(&b, "Автор: %s\n", lead.AuthorName)
	}
	if lead.Analysis != nil && lead.Analysis.Reasoning != "" {
		fmt.Fprintf(&b, "Почему: %s\n", lead.Analysis.Reasoning)
	}
	b.WriteString("\n")
	b.WriteString(clipRunes(lead.Text, 800))
	if lead.DraftReply != "" {
		b.WriteString("\n\n💬 Черновик ответа:\n")
		b.WriteString(lead.DraftReply)
	}
	return b.String()
}

func intentLabel(intent domain.Intent) string {
	switch intent {
	case domain.IntentSeekingService:
		return "ищет услугу"
	case domain.IntentRecommendation:
		return "просит рекомендацию"
	case domain.IntentComplaining:
		return "жалуется"
	case domain.IntentQuestion:
		return "задаёт вопрос"
	case domain.IntentSelling:
		return "продаёт"
	case domain.IntentGeneral:
		return "без анализа"
	default:
		return string(intent)
	}
}

func clipRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}
