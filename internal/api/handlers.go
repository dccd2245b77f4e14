// Package api exposes the cycle engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"example.com/wbgt/internal/auth"
	"example.com/wbgt/internal/broadcast"
	"example.com/wbgt/internal/cache"
	"example.com/wbgt/internal/domain"
	"example.com/wbgt/internal/persistence"
	"example.com/wbgt/internal/zone"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Option customises a Handler.
type Option func(*Handler)

// WithLogger overrides the handler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithHub enables the event stream endpoint.
func WithHub(hub *broadcast.Hub) Option {
	return func(h *Handler) {
		h.hub = hub
	}
}

// WithReadCache serves participant reads through reads. The same cache must
// be registered as the service's invalidator.
func WithReadCache(reads *cache.TTL[domain.Participant]) Option {
	return func(h *Handler) {
		h.reads = reads
	}
}

// WithTokenTTL sets the lifetime of tokens issued on join.
func WithTokenTTL(ttl time.Duration) Option {
	return func(h *Handler) {
		if ttl > 0 {
			h.tokenTTL = ttl
		}
	}
}

// WithHeartbeat sets the keep-alive period of event streams.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service   *domain.Service
	tokens    auth.Config
	tokenTTL  time.Duration
	hub       *broadcast.Hub
	reads     *cache.TTL[domain.Participant]
	validate  *validator.Validate
	logger    *slog.Logger
	heartbeat time.Duration
}

// NewHandler builds a Handler that signs join tokens with tokens.
func NewHandler(service *domain.Service, tokens auth.Config, opts ...Option) *Handler {
	h := &Handler{
		service:   service,
		tokens:    tokens,
		tokenTTL:  12 * time.Hour,
		validate:  validator.New(),
		logger:    slog.Default().With(slog.String("component", "api")),
		heartbeat: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", healthz)
	mux.HandleFunc("GET /v1/time", h.serverTime)
	mux.HandleFunc("GET /v1/zones", h.zones)

	mux.HandleFunc("POST /v1/conducts", h.createConduct)
	mux.HandleFunc("POST /v1/conducts/join", h.joinConduct)
	mux.HandleFunc("GET /v1/conducts/{conduct}/participants", h.listParticipants)
	mux.HandleFunc("GET /v1/conducts/{conduct}/participants/{name}", h.participantByName)
	mux.HandleFunc("DELETE /v1/conducts/{conduct}/participants/{name}", h.removeParticipant)
	mux.HandleFunc("POST /v1/conducts/{conduct}/participants/{name}/rest", h.startRest)
	mux.HandleFunc("GET /v1/conducts/{conduct}/history", h.history)
	mux.HandleFunc("GET /v1/conducts/{conduct}/status", h.systemStatus)
	mux.HandleFunc("GET /v1/conducts/{conduct}/events", h.events)
	mux.HandleFunc("POST /v1/conducts/{conduct}/cut-off", h.toggleCutOff)
	mux.HandleFunc("POST /v1/conducts/{conduct}/clear", h.clearAll)

	mux.HandleFunc("GET /v1/participants/{participant}", h.participantByID)
	mux.HandleFunc("POST /v1/participants/{participant}/zone", h.startWork)
	mux.HandleFunc("POST /v1/participants/{participant}/stop", h.stopCycle)
	mux.HandleFunc("POST /v1/participants/{participant}/renotify", h.renotify)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) serverTime(w http.ResponseWriter, r *http.Request) {
	now := h.service.Now()
	writeJSON(w, http.StatusOK, TimeResponse{
		ServerTime: now,
		WallTime:   now.Format("15:04:05"),
		Timezone:   now.Location().String(),
	})
}

func (h *Handler) zones(w http.ResponseWriter, r *http.Request) {
	specs := zone.All()
	out := make([]ZoneView, 0, len(specs))
	for _, spec := range specs {
		out = append(out, ZoneView{
			Zone:        string(spec.ID),
			WorkSeconds: int(spec.Work / time.Second),
			RestSeconds: int(spec.Rest / time.Second),
			Rank:        spec.Rank,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) createConduct(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeConductsWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope conducts:write required")
		return
	}

	var req CreateConductRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.service.CreateConduct(r.Context(), req.Name)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConductView(*c))
}

func (h *Handler) joinConduct(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, c, err := h.service.JoinConduct(r.Context(), domain.JoinInput{
		PIN:      req.PIN,
		Name:     req.Name,
		Role:     req.Role,
		JoinCode: req.JoinCode,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	now := h.service.Now()
	claims := auth.Claims{
		Subject:   p.ID,
		ConductID: c.ID,
		Name:      p.Name,
		Role:      string(p.Role),
		Scopes:    map[string]struct{}{},
	}
	if p.Role == domain.RoleConductingBody {
		claims.Scopes[auth.ScopeConductsWrite] = struct{}{}
	}
	token, err := auth.Issue(claims, h.tokens, now, h.tokenTTL)
	if err != nil {
		h.logger.Error("issue token", slog.String("participant_id", p.ID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "server_error", "unable to issue token")
		return
	}

	writeJSON(w, http.StatusOK, JoinResponse{
		Participant: toParticipantView(*p),
		Conduct:     toConductView(*c),
		Token:       token,
		ExpiresAt:   now.Add(h.tokenTTL),
	})
}

func (h *Handler) listParticipants(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.conductCaller(w, r)
	if !ok {
		return
	}
	list, err := h.service.Participants(r.Context(), caller.ConductID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	items := make([]ParticipantView, 0, len(list))
	for _, p := range list {
		items = append(items, toParticipantView(p))
	}
	writeJSON(w, http.StatusOK, ListParticipantsResponse{Items: items})
}

func (h *Handler) participantByName(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.conductCaller(w, r)
	if !ok {
		return
	}
	name := r.PathValue("name")

	var (
		p   *domain.Participant
		err error
	)
	if name == caller.Name {
		p, err = h.cachedParticipant(r, caller.ParticipantID)
	} else {
		p, err = h.service.GetState(r.Context(), caller.ConductID, name)
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toParticipantView(*p))
}

func (h *Handler) participantByID(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	p, err := h.cachedParticipant(r, r.PathValue("participant"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if p.ConductID != caller.ConductID {
		h.writeDomainError(w, r, domain.ErrWrongConduct)
		return
	}
	writeJSON(w, http.StatusOK, toParticipantView(*p))
}

func (h *Handler) removeParticipant(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.conductCaller(w, r)
	if !ok {
		return
	}
	if err := h.service.RemoveParticipant(r.Context(), caller.ConductID, r.PathValue("name"), caller); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) startRest(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.conductCaller(w, r)
	if !ok {
		return
	}
	p, rest, err := h.service.StartRest(r.Context(), caller.ConductID, r.PathValue("name"), caller)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StartRestResponse{
		Participant: toParticipantView(*p),
		RestSeconds: int(rest / time.Second),
	})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.conductCaller(w, r)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "invalid limit")
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	entries, next, err := h.service.History(r.Context(), caller.ConductID, cursor, limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	items := make([]ActivityView, 0, len(entries))
	for _, e := range entries {
		items = append(items, toActivityView(e))
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Items: items, NextCursor: persistence.EncodeCursor(next)})
}

func (h *Handler) systemStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.conductCaller(w, r)
	if !ok {
		return
	}
	status, err := h.service.SystemStatus(r.Context(), caller.ConductID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusView(status, h.service.Now()))
}

func (h *Handler) toggleCutOff(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.conductCaller(w, r)
	if !ok {
		return
	}
	status, err := h.service.ToggleCutOff(r.Context(), caller.ConductID, caller)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusView(status, h.service.Now()))
}

func (h *Handler) clearAll(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.conductCaller(w, r)
	if !ok {
		return
	}
	if err := h.service.ClearAll(r.Context(), caller.ConductID, caller); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) startWork(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req StartWorkRequest
	if !h.decode(w, r, &req) {
		return
	}
	z, err := zone.Parse(req.Zone)
	if err != nil {
		h.writeDomainError(w, r, domain.ErrUnknownZone)
		return
	}

	p, err := h.service.StartWork(r.Context(), r.PathValue("participant"), z, caller)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toParticipantView(*p))
}

func (h *Handler) stopCycle(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	p, err := h.service.StopCycle(r.Context(), r.PathValue("participant"), caller)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toParticipantView(*p))
}

func (h *Handler) renotify(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	sent, err := h.service.RenotifyWorkComplete(r.Context(), r.PathValue("participant"), caller)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RenotifyResponse{Notified: sent})
}

func (h *Handler) cachedParticipant(r *http.Request, id string) (*domain.Participant, error) {
	if h.reads == nil {
		return h.service.Participant(r.Context(), id)
	}
	p, err := h.reads.GetOrLoad(r.Context(), id, func(ctx context.Context) (domain.Participant, error) {
		p, err := h.service.Participant(ctx, id)
		if err != nil {
			return domain.Participant{}, err
		}
		return *p, nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// caller resolves the authenticated caller.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (domain.Caller, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok || claims.ConductID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing conduct membership")
		return domain.Caller{}, false
	}
	return domain.Caller{
		ParticipantID: claims.Subject,
		ConductID:     claims.ConductID,
		Name:          claims.Name,
		Role:          domain.Role(claims.Role),
	}, true
}

// conductCaller resolves the caller and checks they belong to the conduct in
// the path.
func (h *Handler) conductCaller(w http.ResponseWriter, r *http.Request) (domain.Caller, bool) {
	caller, ok := h.caller(w, r)
	if !ok {
		return caller, false
	}
	if caller.ConductID != r.PathValue("conduct") {
		writeError(w, http.StatusForbidden, "forbidden", domain.ErrWrongConduct.Error())
		return caller, false
	}
	return caller, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", validationDetail(err))
		return false
	}
	return true
}

func validationDetail(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return err.Error()
	}
	fe := ve[0]
	if fe.Param() != "" {
		return fe.Field() + " failed " + fe.Tag() + "=" + fe.Param()
	}
	return fe.Field() + " failed " + fe.Tag()
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch domain.Kind(err) {
	case domain.ErrNotFound:
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case domain.ErrForbidden:
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case domain.ErrInvalidState:
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case domain.ErrInvalidArgument:
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		h.logger.Error("request failed",
			slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
