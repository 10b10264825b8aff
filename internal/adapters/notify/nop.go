package notify

import (
	"context"

	"github.com/rs/zerolog"

	"fb-lead-scanner/internal/domain"
)

// Nop — нотификатор без доставки. Используется, когда Telegram не настроен:
// лид остаётся в хранилище, пользователь увидит его через API.
type Nop struct {
	log zerolog.Logger
}

var _ domain.Notifier = Nop{}

// NewNop создаёт нотификатор-заглушку.
func NewNop(log zerolog.Logger) Nop {
	return Nop{log: log}
}

// NotifyLead пишет лид только в лог.
func (n Nop) NotifyLead(_ context.Context, lead domain.Lead) error {
	n.log.Info().Str("lead_id", lead.ID).Str("intent", string(lead.Intent)).
		Int("score", lead.Score).Msg("новый лид (уведомления выключены)")
	return nil
}
