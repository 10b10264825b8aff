package billingclient

import (
	"context"

	"fb-lead-scanner/internal/domain"
)

// Static — гейт с фиксированным ответом. Используется, когда биллинг не
// настроен: в dev-окружении все функции открыты, в остальных закрыты.
type Static bool

var _ domain.FeatureGate = Static(false)

// IsPro возвращает фиксированный статус подписки.
func (s Static) IsPro(context.Context) (bool, error) {
	return bool(s), nil
}
