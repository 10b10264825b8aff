package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"fb-lead-scanner/internal/domain"
	"fb-lead-scanner/internal/usecase/automation"
	"fb-lead-scanner/internal/usecase/groups"
)

type stubRunner struct {
	result domain.ScanResult
	calls  int
}

func (s *stubRunner) Run(_ context.Context, items []domain.ContentItem, _ domain.ScanMode) (domain.ScanResult, error) {
	s.calls++
	s.result.ItemsFound = len(items)
	return s.result, nil
}

type stubScheduler struct {
	startErr error
	stopped  bool
	state    domain.AutomationState
}

func (s *stubScheduler) Start(context.Context) error { return s.startErr }
func (s *stubScheduler) Stop(context.Context) error  { s.stopped = true; return nil }
func (s *stubScheduler) Status(context.Context) (domain.AutomationState, error) {
	return s.state, nil
}

type stubGroupRepo struct {
	groups []domain.WatchedGroup
}

func (s *stubGroupRepo) UpsertGroup(_ context.Context, g domain.WatchedGroup) (domain.WatchedGroup, error) {
	g.ID = int64(len(s.groups) + 1)
	s.groups = append(s.groups, g)
	return g, nil
}
func (s *stubGroupRepo) ListGroups(context.Context, int, int) ([]domain.WatchedGroup, error) {
	return s.groups, nil
}
func (s *stubGroupRepo) ListActiveGroups(context.Context) ([]domain.WatchedGroup, error) {
	return s.groups, nil
}
func (s *stubGroupRepo) CountGroups(context.Context) (int, error) { return len(s.groups), nil }
func (s *stubGroupRepo) SetGroupActive(context.Context, int64, bool) error {
	return nil
}
func (s *stubGroupRepo) RemoveGroup(context.Context, int64) error { return domain.ErrGroupNotFound }
func (s *stubGroupRepo) MarkVisited(context.Context, int64, time.Time, int) error {
	return nil
}

type stubGate struct {
	pro bool
}

func (s *stubGate) IsPro(context.Context) (bool, error) { return s.pro, nil }

type stubLeads struct {
	statuses map[string]domain.LeadStatus
}

func (s *stubLeads) UpsertLead(_ context.Context, l domain.Lead) (domain.Lead, error) { return l, nil }
func (s *stubLeads) ListLeads(context.Context, int, int) ([]domain.Lead, error) {
	return nil, nil
}
func (s *stubLeads) UpdateLeadStatus(_ context.Context, id string, status domain.LeadStatus) error {
	if s.statuses == nil {
		s.statuses = map[string]domain.LeadStatus{}
	}
	s.statuses[id] = status
	return nil
}

type stubPersonas struct{}

func (stubPersonas) ActivePersona(context.Context) (domain.Persona, error) {
	return domain.Persona{}, domain.ErrNoActivePersona
}
func (stubPersonas) ListPersonas(context.Context) ([]domain.Persona, error) { return nil, nil }
func (stubPersonas) SetPersonaActive(context.Context, int64) error          { return nil }

type stubState struct {
	settings domain.AutomationSettings
	saved    *domain.AutomationSettings
}

func (s *stubState) LoadAutomationState(context.Context) (domain.AutomationState, error) {
	return domain.AutomationState{}, nil
}
func (s *stubState) SaveAutomationState(context.Context, domain.AutomationState) error { return nil }
func (s *stubState) LoadSettings(context.Context) (domain.AutomationSettings, error) {
	return s.settings, nil
}
func (s *stubState) SaveSettings(_ context.Context, settings domain.AutomationSettings) error {
	s.saved = &settings
	return nil
}
func (s *stubState) LoadSessionLimits(context.Context) (domain.SessionLimits, error) {
	return domain.DefaultSessionLimits(time.Now()), nil
}
func (s *stubState) SaveSessionLimits(context.Context, domain.SessionLimits) error { return nil }
func (s *stubState) LoadSeenIDs(context.Context) ([]string, error)                 { return nil, nil }
func (s *stubState) SaveSeenIDs(context.Context, []string) error                   { return nil }

func newTestServer(t *testing.T, h *Handler) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	h.Mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newTestHandler(sched *stubScheduler, gate *stubGate, state *stubState) (*Handler, *stubRunner) {
	runner := &stubRunner{result: domain.ScanResult{LeadsDetected: 1}}
	groupsUC := groups.NewService(&stubGroupRepo{}, gate, 3)
	h := NewHandler(runner, sched, groupsUC, &stubLeads{}, stubPersonas{}, state, gate, zerolog.Nop())
	return h, runner
}

func doJSON(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("создание запроса: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("запрос %s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestManualScan(t *testing.T) {
	h, runner := newTestHandler(&stubScheduler{}, &stubGate{pro: true}, &stubState{})
	srv := newTestServer(t, h)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/scan", `{"items":[{"source_id":"p1","text":"Ищу мастера"}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("статус %d", resp.StatusCode)
	}
	if runner.calls != 1 {
		t.Fatalf("пайплайн не вызван")
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/scan", `{"items":[]}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("пустой пакет должен отклоняться: %d", resp.StatusCode)
	}
}

func TestAutomationStartErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"выключена", automation.ErrAutomationDisabled, http.StatusConflict},
		{"нужен pro", automation.ErrProRequired, http.StatusPaymentRequired},
		{"уже запущена", automation.ErrAlreadyRunning, http.StatusConflict},
		{"успех", nil, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, _ := newTestHandler(&stubScheduler{startErr: tc.err}, &stubGate{pro: true}, &stubState{})
			srv := newTestServer(t, h)

			resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/automation/start", "")
			if resp.StatusCode != tc.status {
				t.Fatalf("ожидали %d, получили %d", tc.status, resp.StatusCode)
			}
		})
	}
}

func TestPutSettingsRequiresProToEnable(t *testing.T) {
	state := &stubState{}
	h, _ := newTestHandler(&stubScheduler{}, &stubGate{pro: false}, state)
	srv := newTestServer(t, h)

	body := `{"enabled":true,"scan_mode":"auto","scan_interval_minutes":30,"groups_per_cycle":3,"delay_min_seconds":45,"delay_max_seconds":120}`
	resp := doJSON(t, http.MethodPut, srv.URL+"/api/v1/settings", body)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("включение автоматики без pro должно отклоняться: %d", resp.StatusCode)
	}
	if state.saved != nil {
		t.Fatalf("настройки не должны сохраняться")
	}

	body = `{"enabled":false,"scan_mode":"manual","scan_interval_minutes":30,"groups_per_cycle":3,"delay_min_seconds":45,"delay_max_seconds":120}`
	resp = doJSON(t, http.MethodPut, srv.URL+"/api/v1/settings", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("выключенные настройки сохраняются без pro: %d", resp.StatusCode)
	}
	if state.saved == nil {
		t.Fatalf("настройки не сохранены")
	}
}

func TestPutSettingsValidation(t *testing.T) {
	h, _ := newTestHandler(&stubScheduler{}, &stubGate{pro: true}, &stubState{})
	srv := newTestServer(t, h)

	cases := []string{
		`{"enabled":false,"scan_interval_minutes":0,"groups_per_cycle":3,"delay_min_seconds":45,"delay_max_seconds":120}`,
		`{"enabled":false,"scan_interval_minutes":30,"groups_per_cycle":3,"delay_min_seconds":120,"delay_max_seconds":45}`,
	}
	for _, body := range cases {
		resp := doJSON(t, http.MethodPut, srv.URL+"/api/v1/settings", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("невалидные настройки должны отклоняться: %d", resp.StatusCode)
		}
	}
}

func TestAddGroupValidation(t *testing.T) {
	h, _ := newTestHandler(&stubScheduler{}, &stubGate{pro: true}, &stubState{})
	srv := newTestServer(t, h)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/groups", `{"url":"https://example.com/not-a-group"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("не-группа должна отклоняться: %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/groups", `{"url":"https://www.facebook.com/groups/remont.amsterdam"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("валидная группа должна добавляться: %d", resp.StatusCode)
	}
}

func TestSetLeadStatusValidation(t *testing.T) {
	h, _ := newTestHandler(&stubScheduler{}, &stubGate{pro: true}, &stubState{})
	srv := newTestServer(t, h)

	resp := doJSON(t, http.MethodPut, srv.URL+"/api/v1/leads/l1/status", `{"status":"weird"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("неизвестный статус должен отклоняться: %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPut, srv.URL+"/api/v1/leads/l1/status", `{"status":"contacted"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("валидный статус должен сохраняться: %d", resp.StatusCode)
	}
}

func TestRemoveGroupNotFound(t *testing.T) {
	h, _ := newTestHandler(&stubScheduler{}, &stubGate{pro: true}, &stubState{})
	srv := newTestServer(t, h)

	resp := doJSON(t, http.MethodDelete, srv.URL+"/api/v1/groups/99", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("ожидали 404, получили %d", resp.StatusCode)
	}
}
