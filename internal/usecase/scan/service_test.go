package scan

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fb-lead-scanner/internal/domain"
	"fb-lead-scanner/internal/usecase/session"
)

type stubState struct {
	settings *domain.AutomationSettings
	seen     []string
}

func (s *stubState) LoadAutomationState(context.Context) (domain.AutomationState, error) {
	return domain.AutomationState{}, nil
}
func (s *stubState) SaveAutomationState(context.Context, domain.AutomationState) error { return nil }
func (s *stubState) LoadSettings(context.Context) (domain.AutomationSettings, error) {
	if s.settings != nil {
		return *s.settings, nil
	}
	settings := domain.DefaultAutomationSettings()
	settings.Enabled = true
	return settings, nil
}
func (s *stubState) SaveSettings(context.Context, domain.AutomationSettings) error { return nil }
func (s *stubState) LoadSessionLimits(context.Context) (domain.SessionLimits, error) {
	return domain.DefaultSessionLimits(time.Now()), nil
}
func (s *stubState) SaveSessionLimits(context.Context, domain.SessionLimits) error { return nil }
func (s *stubState) LoadSeenIDs(context.Context) ([]string, error)                 { return s.seen, nil }
func (s *stubState) SaveSeenIDs(_ context.Context, ids []string) error {
	s.seen = ids
	return nil
}

type stubGuard struct {
	verdict    session.Verdict
	increments int
}

func (g *stubGuard) Check(context.Context) (session.Verdict, error) { return g.verdict, nil }
func (g *stubGuard) Increment(context.Context, session.UsageKind) error {
	g.increments++
	return nil
}

type stubPersonas struct {
	persona domain.Persona
	missing bool
}

func (p *stubPersonas) ActivePersona(context.Context) (domain.Persona, error) {
	if p.missing {
		return domain.Persona{}, domain.ErrNoActivePersona
	}
	return p.persona, nil
}
func (p *stubPersonas) ListPersonas(context.Context) ([]domain.Persona, error) { return nil, nil }
func (p *stubPersonas) SetPersonaActive(context.Context, int64) error          { return nil }

type stubLeads struct {
	saved []domain.Lead
	fail  map[string]error
}

func (l *stubLeads) UpsertLead(_ context.Context, lead domain.Lead) (domain.Lead, error) {
	if err, ok := l.fail[lead.SourceID]; ok {
		return domain.Lead{}, err
	}
	l.saved = append(l.saved, lead)
	return lead, nil
}
func (l *stubLeads) ListLeads(context.Context, int, int) ([]domain.Lead, error) { return l.saved, nil }
func (l *stubLeads) UpdateLeadStatus(context.Context, string, domain.LeadStatus) error {
	return nil
}

type stubClassifier struct {
	cls     domain.Classification
	reply   string
	perText map[string]domain.Classification
	err     error
}

func (c *stubClassifier) Classify(_ context.Context, text string, _ domain.Persona) (domain.Classification, error) {
	if c.err != nil {
		return domain.Classification{}, c.err
	}
	if cls, ok := c.perText[text]; ok {
		return cls, nil
	}
	return c.cls, nil
}
func (c *stubClassifier) GenerateReply(context.Context, string, domain.Intent, domain.Persona) (string, error) {
	return c.reply, nil
}

type stubNotifier struct{ notified int }

func (n *stubNotifier) NotifyLead(context.Context, domain.Lead) error {
	n.notified++
	return nil
}

type noLimiter struct{}

func (noLimiter) Consume(context.Context) error { return nil }

func testPersona() domain.Persona {
	return domain.Persona{
		ID:               1,
		Name:             "веб-студия",
		Keywords:         []string{"need a website", "landing page"},
		NegativeKeywords: []string{"hiring"},
		IsActive:         true,
	}
}

func newTestService(state *stubState, guard *stubGuard, personas *stubPersonas, leads *stubLeads, cls *stubClassifier, notifier *stubNotifier) *Service {
	svc := NewService(NewLedger(state, 100), guard, personas, leads, cls, notifier, state, noLimiter{}, zerolog.Nop())
	svc.delay = func(context.Context, time.Duration, time.Duration) error { return nil }
	return svc
}

func item(id, text string) domain.ContentItem {
	return domain.ContentItem{SourceID: id, Text: text, URL: "https://facebook.com/groups/g/posts/" + id}
}

func longText(phrase string) string {
	return phrase + " " + strings.Repeat("please help, ", 5)
}

func TestRunDedupAcrossScans(t *testing.T) {
	state := &stubState{}
	guard := &stubGuard{verdict: session.Verdict{CanProceed: true}}
	leads := &stubLeads{}
	cls := &stubClassifier{cls: domain.Classification{Intent: domain.IntentQuestion, Score: 90}}
	svc := newTestService(state, guard, &stubPersonas{persona: testPersona()}, leads, cls, &stubNotifier{})

	batch := []domain.ContentItem{item("p1", longText("need a website"))}
	first, err := svc.Run(context.Background(), batch, domain.ScanModeManual)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if first.LeadsDetected != 1 {
		t.Fatalf("ожидали 1 лид, получили %d", first.LeadsDetected)
	}

	second, err := svc.Run(context.Background(), batch, domain.ScanModeAuto)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if second.LeadsDetected != 0 {
		t.Fatalf("повторный проход должен дать 0 лидов, получили %d", second.LeadsDetected)
	}
	if len(leads.saved) != 1 {
		t.Fatalf("ожидали ровно один сохранённый лид, получили %d", len(leads.saved))
	}
}

func TestRunNegativeKeywordWins(t *testing.T) {
	state := &stubState{}
	guard := &stubGuard{verdict: session.Verdict{CanProceed: true}}
	leads := &stubLeads{}
	cls := &stubClassifier{cls: domain.Classification{Intent: domain.IntentQuestion, Score: 90}}
	svc := newTestService(state, guard, &stubPersonas{persona: testPersona()}, leads, cls, &stubNotifier{})

	// Пост содержит и позитивную, и негативную фразу — негативная сильнее.
	batch := []domain.ContentItem{item("p1", longText("we are hiring, need a website team"))}
	result, err := svc.Run(context.Background(), batch, domain.ScanModeManual)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.LeadsDetected != 0 {
		t.Fatal("негативное слово должно отклонить пост")
	}
}

func TestRunNoPersonaFailsClosed(t *testing.T) {
	state := &stubState{}
	guard := &stubGuard{verdict: session.Verdict{CanProceed: true}}
	leads := &stubLeads{}
	svc := newTestService(state, guard, &stubPersonas{missing: true}, leads, &stubClassifier{}, &stubNotifier{})

	result, err := svc.Run(context.Background(), []domain.ContentItem{item("p1", longText("need a website"))}, domain.ScanModeManual)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.LeadsDetected != 0 || len(leads.saved) != 0 {
		t.Fatal("без активной персоны ничего не сохраняется")
	}
}

func TestRunShortTextSkipped(t *testing.T) {
	state := &stubState{}
	guard := &stubGuard{verdict: session.Verdict{CanProceed: true}}
	leads := &stubLeads{}
	svc := newTestService(state, guard, &stubPersonas{persona: testPersona()}, leads, &stubClassifier{cls: domain.Classification{Intent: domain.IntentQuestion, Score: 90}}, &stubNotifier{})

	result, err := svc.Run(context.Background(), []domain.ContentItem{item("p1", "need a website")}, domain.ScanModeManual)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.LeadsDetected != 0 {
		t.Fatal("короткий пост должен отфильтроваться как шум")
	}
}

func TestRunGuardRejectionAbortsBeforeItems(t *testing.T) {
	state := &stubState{}
	guard := &stubGuard{verdict: session.Verdict{CanProceed: false, Reason: "часовой лимит"}}
	leads := &stubLeads{}
	svc := newTestService(state, guard, &stubPersonas{persona: testPersona()}, leads, &stubClassifier{}, &stubNotifier{})

	result, err := svc.Run(context.Background(), []domain.ContentItem{item("p1", longText("need a website"))}, domain.ScanModeManual)
	if err != nil {
		t.Fatalf("отказ по политике не должен быть ошибкой: %v", err)
	}
	if len(result.Errors) != 1 || result.Errors[0] != "часовой лимит" {
		t.Fatalf("ожидали одну причину отказа, получили %v", result.Errors)
	}
	if len(leads.saved) != 0 {
		t.Fatal("при отказе гварда посты не обрабатываются")
	}
}

func TestRunDisabledAbortsBeforeItems(t *testing.T) {
	settings := domain.DefaultAutomationSettings()
	settings.Enabled = false
	state := &stubState{settings: &settings}
	guard := &stubGuard{verdict: session.Verdict{CanProceed: true}}
	svc := newTestService(state, guard, &stubPersonas{persona: testPersona()}, &stubLeads{}, &stubClassifier{}, &stubNotifier{})

	result, err := svc.Run(context.Background(), []domain.ContentItem{item("p1", longText("need a website"))}, domain.ScanModeManual)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("ожидали одну строку про выключенный скан, получили %v", result.Errors)
	}
}

func TestRunScoreAndIntentGating(t *testing.T) {
	state := &stubState{}
	guard := &stubGuard{verdict: session.Verdict{CanProceed: true}}
	leads := &stubLeads{}
	lowText := longText("need a website cheap")
	sellingText := longText("need a website builders, landing page offer")
	goodText := longText("need a website for my bakery")
	cls := &stubClassifier{
		reply: "Здравствуйте! Могу помочь с сайтом.",
		perText: map[string]domain.Classification{
			lowText:     {Intent: domain.IntentSeekingService, Score: 20},
			sellingText: {Intent: domain.IntentSelling, Score: 95},
			goodText:    {Intent: domain.IntentSeekingService, Score: 88},
		},
	}
	svc := newTestService(state, guard, &stubPersonas{persona: testPersona()}, leads, cls, &stubNotifier{})

	batch := []domain.ContentItem{
		item("low", lowText),
		item("selling", sellingText),
		item("good", goodText),
	}
	result, err := svc.Run(context.Background(), batch, domain.ScanModeAuto)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.LeadsDetected != 1 {
		t.Fatalf("ожидали 1 лид после гейтинга, получили %d", result.LeadsDetected)
	}
	if len(leads.saved) != 1 || leads.saved[0].SourceID != "good" {
		t.Fatalf("сохранился не тот лид: %+v", leads.saved)
	}
	if leads.saved[0].DraftReply == "" {
		t.Fatal("для seeking_service должен быть черновик ответа")
	}
	if leads.saved[0].Analysis == nil {
		t.Fatal("классификация должна быть приложена к лиду")
	}
}

func TestRunAnalysisDisabledSavesNeutralLead(t *testing.T) {
	settings := domain.DefaultAutomationSettings()
	settings.Enabled = true
	settings.AutoAnalyze = false
	state := &stubState{settings: &settings}
	guard := &stubGuard{verdict: session.Verdict{CanProceed: true}}
	leads := &stubLeads{}
	cls := &stubClassifier{err: errors.New("классификатор не должен вызываться")}
	svc := newTestService(state, guard, &stubPersonas{persona: testPersona()}, leads, cls, &stubNotifier{})

	result, err := svc.Run(context.Background(), []domain.ContentItem{item("p1", longText("need a website"))}, domain.ScanModeManual)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.LeadsDetected != 1 {
		t.Fatalf("ожидали 1 лид, получили %d", result.LeadsDetected)
	}
	if leads.saved[0].Intent != domain.IntentGeneral || leads.saved[0].Analysis != nil {
		t.Fatal("без автоанализа лид сохраняется с нейтральным намерением")
	}
}

func TestRunPerItemFailureIsolation(t *testing.T) {
	state := &stubState{}
	guard := &stubGuard{verdict: session.Verdict{CanProceed: true}}
	leads := &stubLeads{fail: map[string]error{"bad": errors.New("отказ базы")}}
	cls := &stubClassifier{cls: domain.Classification{Intent: domain.IntentQuestion, Score: 90}}
	notifier := &stubNotifier{}
	svc := newTestService(state, guard, &stubPersonas{persona: testPersona()}, leads, cls, notifier)

	batch := []domain.ContentItem{
		item("bad", longText("need a website, broken save")),
		item("ok", longText("need a website, fine save")),
	}
	result, err := svc.Run(context.Background(), batch, domain.ScanModeManual)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.LeadsDetected != 1 {
		t.Fatalf("второй пост должен обработаться, получили %d лидов", result.LeadsDetected)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "bad") {
		t.Fatalf("ожидали одну ошибку по посту bad, получили %v", result.Errors)
	}
	if guard.increments != 1 || notifier.notified != 1 {
		t.Fatalf("инкременты=%d уведомления=%d", guard.increments, notifier.notified)
	}
}

func TestObserverSkipsWhenManualMode(t *testing.T) {
	settings := domain.DefaultAutomationSettings()
	settings.Enabled = true
	settings.ScanMode = domain.ScanModeManual
	state := &stubState{settings: &settings}

	ran := make(chan struct{}, 1)
	obs := NewObserver(runnerFunc(func(ctx context.Context, items []domain.ContentItem, mode domain.ScanMode) (domain.ScanResult, error) {
		ran <- struct{}{}
		return domain.ScanResult{}, nil
	}), state, zerolog.Nop(), 10*time.Millisecond)

	obs.Notify([]domain.ContentItem{item("p1", "text")})
	select {
	case <-ran:
		t.Fatal("в ручном режиме автоскан не должен запускаться")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestObserverCoalescesBursts(t *testing.T) {
	settings := domain.DefaultAutomationSettings()
	settings.Enabled = true
	settings.ScanMode = domain.ScanModeAuto
	state := &stubState{settings: &settings}

	runs := make(chan int, 10)
	obs := NewObserver(runnerFunc(func(ctx context.Context, items []domain.ContentItem, mode domain.ScanMode) (domain.ScanResult, error) {
		if mode != domain.ScanModeAuto {
			t.Errorf("ожидали автоматический режим, получили %s", mode)
		}
		runs <- len(items)
		return domain.ScanResult{}, nil
	}), state, zerolog.Nop(), 20*time.Millisecond)

	obs.Notify([]domain.ContentItem{item("p1", "a")})
	obs.Notify([]domain.ContentItem{item("p2", "b")})
	obs.Notify([]domain.ContentItem{item("p3", "c")})

	select {
	case n := <-runs:
		if n != 3 {
			t.Fatalf("ожидали один запуск с 3 постами, получили %d", n)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("дебаунс не сработал")
	}
	select {
	case <-runs:
		t.Fatal("серия сигналов должна схлопнуться в один запуск")
	case <-time.After(60 * time.Millisecond):
	}
}

type runnerFunc func(ctx context.Context, items []domain.ContentItem, mode domain.ScanMode) (domain.ScanResult, error)

func (f runnerFunc) Run(ctx context.Context, items []domain.ContentItem, mode domain.ScanMode) (domain.ScanResult, error) {
	return f(ctx, items, mode)
}
