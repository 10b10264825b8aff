package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"fb-lead-scanner/internal/domain"
	"fb-lead-scanner/internal/usecase/automation"
	"fb-lead-scanner/internal/usecase/groups"
)

type scanRunner interface {
	Run(ctx context.Context, items []domain.ContentItem, mode domain.ScanMode) (domain.ScanResult, error)
}

type scheduler interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) (domain.AutomationState, error)
}

// Handler — управляющий HTTP API для оболочки расширения.
type Handler struct {
	runner    scanRunner
	scheduler scheduler
	groups    *groups.Service
	leads     domain.LeadRepo
	personas  domain.PersonaRepo
	state     domain.StateRepo
	gate      domain.FeatureGate
	log       zerolog.Logger
}

// NewHandler создаёт обработчик.
func NewHandler(runner scanRunner, sched scheduler, groupsUC *groups.Service, leads domain.LeadRepo, personas domain.PersonaRepo, state domain.StateRepo, gate domain.FeatureGate, log zerolog.Logger) *Handler {
	return &Handler{
		runner:    runner,
		scheduler: sched,
		groups:    groupsUC,
		leads:     leads,
		personas:  personas,
		state:     state,
		gate:      gate,
		log:       log,
	}
}

// Mount вешает маршруты на роутер.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/scan", h.manualScan)

		r.Post("/automation/start", h.automationStart)
		r.Post("/automation/stop", h.automationStop)
		r.Get("/automation/status", h.automationStatus)

		r.Get("/settings", h.getSettings)
		r.Put("/settings", h.putSettings)

		r.Get("/groups", h.listGroups)
		r.Post("/groups", h.addGroup)
		r.Put("/groups/{id}/active", h.setGroupActive)
		r.Delete("/groups/{id}", h.removeGroup)

		r.Get("/leads", h.listLeads)
		r.Put("/leads/{id}/status", h.setLeadStatus)

		r.Get("/personas", h.listPersonas)
		r.Put("/personas/{id}/activate", h.activatePersona)
	})
}

func (h *Handler) manualScan(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var batch domain.ScanBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(batch.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items are required")
		return
	}
	result, err := h.runner.Run(r.Context(), batch.Items, domain.ScanModeManual)
	if err != nil {
		h.log.Error().Err(err).Msg("ручной скан через API завершился ошибкой")
		writeError(w, http.StatusInternalServerError, "scan failed")
		return
	}
	writeJSON(w, result)
}

func (h *Handler) automationStart(w http.ResponseWriter, r *http.Request) {
	err := h.scheduler.Start(r.Context())
	switch {
	case errors.Is(err, automation.ErrAutomationDisabled):
		writeError(w, http.StatusConflict, "automation is disabled in settings")
	case errors.Is(err, automation.ErrProRequired):
		writeError(w, http.StatusPaymentRequired, "pro subscription required")
	case errors.Is(err, automation.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "automation is already running")
	case err != nil:
		h.log.Error().Err(err).Msg("не удалось запустить автоматику")
		writeError(w, http.StatusInternalServerError, "failed to start automation")
	default:
		writeJSON(w, map[string]string{"status": "started"})
	}
}

func (h *Handler) automationStop(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Stop(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("не удалось остановить автоматику")
		writeError(w, http.StatusInternalServerError, "failed to stop automation")
		return
	}
	writeJSON(w, map[string]string{"status": "stopped"})
}

func (h *Handler) automationStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.scheduler.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load status")
		return
	}
	writeJSON(w, state)
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.state.LoadSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	writeJSON(w, settings)
}

func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var settings domain.AutomationSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if settings.ScanIntervalMinutes <= 0 || settings.GroupsPerCycle <= 0 {
		writeError(w, http.StatusBadRequest, "interval and groups per cycle must be positive")
		return
	}
	if settings.DelayMinSeconds < 0 || settings.DelayMaxSeconds < settings.DelayMinSeconds {
		writeError(w, http.StatusBadRequest, "invalid delay range")
		return
	}
	if settings.Enabled {
		pro, err := h.gate.IsPro(r.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, "failed to check subscription")
			return
		}
		if !pro {
			writeError(w, http.StatusPaymentRequired, "pro subscription required")
			return
		}
	}
	if err := h.state.SaveSettings(r.Context(), settings); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	writeJSON(w, settings)
}

func (h *Handler) listGroups(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	list, err := h.groups.ListGroups(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list groups")
		return
	}
	if list == nil {
		list = []domain.WatchedGroup{}
	}
	writeJSON(w, list)
}

type addGroupRequest struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

func (h *Handler) addGroup(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req addGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	group, err := h.groups.AddGroup(r.Context(), req.URL, req.Name, req.Category)
	switch {
	case errors.Is(err, groups.ErrURLInvalid):
		writeError(w, http.StatusBadRequest, "not a facebook group url")
	case errors.Is(err, groups.ErrGroupLimit):
		writeError(w, http.StatusPaymentRequired, "group limit reached, pro subscription required")
	case err != nil:
		h.log.Error().Err(err).Msg("не удалось добавить группу")
		writeError(w, http.StatusInternalServerError, "failed to add group")
	default:
		writeJSON(w, group)
	}
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

func (h *Handler) setGroupActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()
	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := h.groups.SetActive(r.Context(), id, req.Active)
	switch {
	case errors.Is(err, domain.ErrGroupNotFound):
		writeError(w, http.StatusNotFound, "group not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to update group")
	default:
		writeJSON(w, map[string]string{"status": "ok"})
	}
}

func (h *Handler) removeGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	err := h.groups.RemoveGroup(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrGroupNotFound):
		writeError(w, http.StatusNotFound, "group not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to remove group")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) listLeads(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	list, err := h.leads.ListLeads(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list leads")
		return
	}
	if list == nil {
		list = []domain.Lead{}
	}
	writeJSON(w, list)
}

type setLeadStatusRequest struct {
	Status domain.LeadStatus `json:"status"`
}

func (h *Handler) setLeadStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	defer r.Body.Close()
	var req setLeadStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.Status {
	case domain.LeadStatusNew, domain.LeadStatusContacted, domain.LeadStatusArchived:
	default:
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	if err := h.leads.UpdateLeadStatus(r.Context(), id, req.Status); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update lead")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) listPersonas(w http.ResponseWriter, r *http.Request) {
	list, err := h.personas.ListPersonas(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list personas")
		return
	}
	if list == nil {
		list = []domain.Persona{}
	}
	writeJSON(w, list)
}

func (h *Handler) activatePersona(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.personas.SetPersonaActive(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to activate persona")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
