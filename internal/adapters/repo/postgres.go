package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fb-lead-scanner/internal/domain"
	"fb-lead-scanner/internal/infra/metrics"
)

// Postgres реализует репозитории лидов, групп и персон на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.LeadRepo    = (*Postgres)(nil)
	_ domain.GroupRepo   = (*Postgres)(nil)
	_ domain.PersonaRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 5*time.Second)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// UpsertLead сохраняет лид идемпотентно по URL исходного поста.
// Повторная вставка того же поста возвращает уже сохранённую запись,
// не затирая статус и черновик ответа.
func (p *Postgres) UpsertLead(ctx context.Context, lead domain.Lead) (domain.Lead, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if lead.Status == "" {
		lead.Status = domain.LeadStatusNew
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = time.Now().UTC()
	}

	var analysis []byte
	if lead.Analysis != nil {
		raw, err := json.Marshal(lead.Analysis)
		if err != nil {
			return domain.Lead{}, fmt.Errorf("упаковка анализа: %w", err)
		}
		analysis = raw
	}

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO leads (id, source_id, text, author_name, author_url, url, group_label, intent, score, analysis, draft_reply, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (url) DO UPDATE SET url = EXCLUDED.url
RETURNING id, source_id, text, author_name, author_url, url, group_label, intent, score, analysis, draft_reply, status, created_at
`, lead.ID, lead.SourceID, lead.Text, lead.AuthorName, lead.AuthorURL, lead.URL,
		lead.GroupLabel, lead.Intent, lead.Score, analysis, lead.DraftReply, lead.Status, lead.CreatedAt)
	saved, err := scanLead(row)
	metrics.ObserveNetworkRequest("postgres", "leads_upsert", "leads", start, err)
	if err != nil {
		return domain.Lead{}, fmt.Errorf("сохранение лида: %w", err)
	}
	return saved, nil
}

// ListLeads возвращает лиды, новые первыми.
func (p *Postgres) ListLeads(ctx context.Context, limit, offset int) ([]domain.Lead, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, source_id, text, author_name, author_url, url, group_label, intent, score, analysis, draft_reply, status, created_at
FROM leads
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`, limit, offset)
	metrics.ObserveNetworkRequest("postgres", "leads_list", "leads", start, err)
	if err != nil {
		return nil, fmt.Errorf("список лидов: %w", err)
	}
	defer rows.Close()

	var leads []domain.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("чтение лида: %w", err)
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

// UpdateLeadStatus переводит лид в новый статус.
func (p *Postgres) UpdateLeadStatus(ctx context.Context, id string, status domain.LeadStatus) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE leads SET status = $2 WHERE id = $1`, id, status)
	metrics.ObserveNetworkRequest("postgres", "leads_update_status", "leads", start, err)
	if err != nil {
		return fmt.Errorf("обновление статуса лида: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("лид %s не найден", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (domain.Lead, error) {
	var (
		lead     domain.Lead
		analysis []byte
	)
	err := row.Scan(&lead.ID, &lead.SourceID, &lead.Text, &lead.AuthorName, &lead.AuthorURL,
		&lead.URL, &lead.GroupLabel, &lead.Intent, &lead.Score, &analysis, &lead.DraftReply,
		&lead.Status, &lead.CreatedAt)
	if err != nil {
		return domain.Lead{}, err
	}
	if len(analysis) > 0 {
		var cls domain.Classification
		if err := json.Unmarshal(analysis, &cls); err != nil {
			return domain.Lead{}, fmt.Errorf("распаковка анализа: %w", err)
		}
		lead.Analysis = &cls
	}
	return lead, nil
}

// UpsertGroup сохраняет группу идемпотентно по URL.
func (p *Postgres) UpsertGroup(ctx context.Context, group domain.WatchedGroup) (domain.WatchedGroup, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO watched_groups (name, url, category, is_active)
VALUES ($1,$2,$3,$4)
ON CONFLICT (url) DO UPDATE SET name = EXCLUDED.name, is_active = EXCLUDED.is_active
RETURNING id, name, url, category, last_visited, leads_found, is_active, created_at
`, group.Name, group.URL, group.Category, group.IsActive)
	saved, err := scanGroup(row)
	metrics.ObserveNetworkRequest("postgres", "groups_upsert", "watched_groups", start, err)
	if err != nil {
		return domain.WatchedGroup{}, fmt.Errorf("сохранение группы: %w", err)
	}
	return saved, nil
}

// ListGroups возвращает группы в порядке добавления.
func (p *Postgres) ListGroups(ctx context.Context, limit, offset int) ([]domain.WatchedGroup, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, name, url, category, last_visited, leads_found, is_active, created_at
FROM watched_groups
ORDER BY created_at
LIMIT $1 OFFSET $2
`, limit, offset)
	metrics.ObserveNetworkRequest("postgres", "groups_list", "watched_groups", start, err)
	if err != nil {
		return nil, fmt.Errorf("список групп: %w", err)
	}
	defer rows.Close()
	return collectGroups(rows)
}

// ListActiveGroups возвращает только активные группы.
func (p *Postgres) ListActiveGroups(ctx context.Context) ([]domain.WatchedGroup, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, name, url, category, last_visited, leads_found, is_active, created_at
FROM watched_groups
WHERE is_active
ORDER BY created_at
`)
	metrics.ObserveNetworkRequest("postgres", "groups_list_active", "watched_groups", start, err)
	if err != nil {
		return nil, fmt.Errorf("список активных групп: %w", err)
	}
	defer rows.Close()
	return collectGroups(rows)
}

// CountGroups возвращает общее число групп.
func (p *Postgres) CountGroups(ctx context.Context) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	var count int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM watched_groups`).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "groups_count", "watched_groups", start, err)
	if err != nil {
		return 0, fmt.Errorf("подсчёт групп: %w", err)
	}
	return count, nil
}

// SetGroupActive включает либо выключает группу.
func (p *Postgres) SetGroupActive(ctx context.Context, id int64, active bool) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE watched_groups SET is_active = $2 WHERE id = $1`, id, active)
	metrics.ObserveNetworkRequest("postgres", "groups_set_active", "watched_groups", start, err)
	if err != nil {
		return fmt.Errorf("переключение группы: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrGroupNotFound
	}
	return nil
}

// RemoveGroup удаляет группу.
func (p *Postgres) RemoveGroup(ctx context.Context, id int64) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM watched_groups WHERE id = $1`, id)
	metrics.ObserveNetworkRequest("postgres", "groups_remove", "watched_groups", start, err)
	if err != nil {
		return fmt.Errorf("удаление группы: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrGroupNotFound
	}
	return nil
}

// MarkVisited фиксирует визит автоматики и количество найденных лидов.
func (p *Postgres) MarkVisited(ctx context.Context, id int64, visitedAt time.Time, leadsFound int) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE watched_groups SET last_visited = $2, leads_found = leads_found + $3 WHERE id = $1
`, id, visitedAt, leadsFound)
	metrics.ObserveNetworkRequest("postgres", "groups_mark_visited", "watched_groups", start, err)
	if err != nil {
		return fmt.Errorf("отметка визита: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrGroupNotFound
	}
	metrics.IncLeadsForGroup(id, leadsFound)
	return nil
}

func collectGroups(rows pgx.Rows) ([]domain.WatchedGroup, error) {
	var groups []domain.WatchedGroup
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("чтение группы: %w", err)
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

func scanGroup(row rowScanner) (domain.WatchedGroup, error) {
	var group domain.WatchedGroup
	err := row.Scan(&group.ID, &group.Name, &group.URL, &group.Category,
		&group.LastVisited, &group.LeadsFound, &group.IsActive, &group.CreatedAt)
	if err != nil {
		return domain.WatchedGroup{}, err
	}
	return group, nil
}

// ActivePersona возвращает единственную активную персону.
func (p *Postgres) ActivePersona(ctx context.Context) (domain.Persona, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT id, name, keywords, negative_keywords, tone, value_proposition, is_active, created_at
FROM personas
WHERE is_active
LIMIT 1
`)
	persona, err := scanPersona(row)
	metrics.ObserveNetworkRequest("postgres", "personas_active", "personas", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Persona{}, domain.ErrNoActivePersona
	}
	if err != nil {
		return domain.Persona{}, fmt.Errorf("активная персона: %w", err)
	}
	return persona, nil
}

// ListPersonas возвращает все персоны.
func (p *Postgres) ListPersonas(ctx context.Context) ([]domain.Persona, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, name, keywords, negative_keywords, tone, value_proposition, is_active, created_at
FROM personas
ORDER BY created_at
`)
	metrics.ObserveNetworkRequest("postgres", "personas_list", "personas", start, err)
	if err != nil {
		return nil, fmt.Errorf("список персон: %w", err)
	}
	defer rows.Close()

	var personas []domain.Persona
	for rows.Next() {
		persona, err := scanPersona(rows)
		if err != nil {
			return nil, fmt.Errorf("чтение персоны: %w", err)
		}
		personas = append(personas, persona)
	}
	return personas, rows.Err()
}

// SetPersonaActive делает персону активной, снимая флаг с остальных.
func (p *Postgres) SetPersonaActive(ctx context.Context, id int64) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("начало транзакции: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	start := time.Now()
	if _, err := tx.Exec(ctx, `UPDATE personas SET is_active = false WHERE is_active`); err != nil {
		metrics.ObserveNetworkRequest("postgres", "personas_set_active", "personas", start, err)
		return fmt.Errorf("сброс активной персоны: %w", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE personas SET is_active = true WHERE id = $1`, id)
	metrics.ObserveNetworkRequest("postgres", "personas_set_active", "personas", start, err)
	if err != nil {
		return fmt.Errorf("включение персоны: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("персона %d не найдена", id)
	}
	return tx.Commit(ctx)
}

func scanPersona(row rowScanner) (domain.Persona, error) {
	var (
		persona  domain.Persona
		keywords []byte
		negative []byte
	)
	err := row.Scan(&persona.ID, &persona.Name, &keywords, &negative,
		&persona.Tone, &persona.ValueProposition, &persona.IsActive, &persona.CreatedAt)
	if err != nil {
		return domain.Persona{}, err
	}
	if len(keywords) > 0 {
		if err := json.Unmarshal(keywords, &persona.Keywords); err != nil {
			return domain.Persona{}, fmt.Errorf("распаковка ключевых слов: %w", err)
		}
	}
	if len(negative) > 0 {
		if err := json.Unmarshal(negative, &persona.NegativeKeywords); err != nil {
			return domain.Persona{}, fmt.Errorf("распаковка стоп-слов: %w", err)
		}
	}
	return persona, nil
}
