// Package httpapi is the operator and client HTTP surface: the live socket,
// change ingestion, the notification log, resend and escalation.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"grievd/internal/domain"
	"grievd/internal/identity"
	"grievd/internal/live"
	"grievd/internal/storage"
	"grievd/internal/transport/ws"
	logx "grievd/pkg/logx"
)

const maxChangeBody = 1 << 20

type Authenticator interface {
	Verify(token string) (live.Actor, error)
}

type Ingester interface {
	Ingest(ctx context.Context, payload []byte) (domain.ChangeEvent, error)
}

type LogReader interface {
	Query(ctx context.Context, f storage.Filter) ([]domain.Attempt, error)
	Stats(ctx context.Context) (storage.Stats, error)
}

type Resender interface {
	Resend(ctx context.Context, id string) (domain.Outcome, error)
}

type Escalator interface {
	Escalate(ctx context.Context, complaintID, actorID string) (domain.Outcome, error)
}

// Deps wires the API. Metrics and Health may be nil.
type Deps struct {
	Auth     Authenticator
	Live     ws.Connector
	Ingest   Ingester
	Log      LogReader
	Resend   Resender
	Escalate Escalator
	Metrics  http.Handler
	Health   func(ctx context.Context) error
	WS       ws.Config
	Logger   logx.Logger
	Timeout  time.Duration
}

type API struct {
	d   Deps
	log logx.Logger
}

func New(d Deps) *API {
	if d.Logger.IsZero() {
		d.Logger = logx.Nop()
	}
	if d.Timeout <= 0 {
		d.Timeout = 30 * time.Second
	}
	return &API{d: d, log: d.Logger.With(logx.String("comp", "http"))}
}

// Handler returns the full router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	a.Register(r)
	return r
}

// Register mounts all routes on r.
func (a *API) Register(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.recoverer)
	r.Use(a.accessLog)

	r.Get("/healthz", a.handleHealth)
	if a.d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.d.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(a.requireActor)
		r.Get("/live", a.handleLive)

		r.Group(func(r chi.Router) {
			r.Use(a.requireRole(domain.RoleAdmin))
			r.Use(middleware.Timeout(a.d.Timeout))
			r.Post("/changes", a.handleIngest)
			r.Get("/notifications", a.handleQuery)
			r.Get("/notifications/stats", a.handleStats)
			r.Post("/notifications/{id}/resend", a.handleResend)
			r.Post("/complaints/{id}/escalate", a.handleEscalate)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.d.Health != nil {
		if err := a.d.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleLive(w http.ResponseWriter, r *http.Request) {
	actor, _ := identity.ActorFrom(r.Context())
	conn, err := ws.NewUpgrader(a.d.WS).Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		a.log.Debug("websocket upgrade failed", logx.Err(err))
		return
	}
	_ = ws.Serve(r.Context(), conn, a.d.Live, actor, a.d.WS, a.log)
}

type ingestResponse struct {
	ID       string            `json:"id,omitempty"`
	Entity   domain.EntityType `json:"entity"`
	EntityID string            `json:"entity_id"`
	Op       domain.Operation  `json:"operation"`
}

func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxChangeBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "change payload too large")
		return
	}
	ev, err := a.d.Ingest.Ingest(r.Context(), body)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, "invalid_change", err.Error())
			return
		}
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ingestResponse{ID: ev.ID, Entity: ev.Entity, EntityID: ev.EntityID, Op: ev.Op})
}

type queryResponse struct {
	Items []domain.Attempt `json:"items"`
	Count int              `json:"count"`
}

func (a *API) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f storage.Filter
	if v := q.Get("channel"); v != "" {
		ch, ok := domain.ParseChannel(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "bad_request", "unknown channel "+strconv.Quote(v))
			return
		}
		f.Channel = ch
	}
	if v := q.Get("status"); v != "" {
		st, ok := domain.ParseAttemptStatus(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "bad_request", "unknown status "+strconv.Quote(v))
			return
		}
		f.Status = st
	}
	f.RecipientContains = strings.TrimSpace(q.Get("q"))
	f.RelatedID = strings.TrimSpace(q.Get("related_id"))
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	items, err := a.d.Log.Query(r.Context(), f)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if items == nil {
		items = []domain.Attempt{}
	}
	writeJSON(w, http.StatusOK, queryResponse{Items: items, Count: len(items)})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.d.Log.Stats(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleResend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	out, err := a.d.Resend.Resend(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleEscalate(w http.ResponseWriter, r *http.Request) {
	actor, _ := identity.ActorFrom(r.Context())
	out, err := a.d.Escalate.Escalate(r.Context(), chi.URLParam(r, "id"), actor.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- auth ----

func (a *API) requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := identity.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			// Browsers cannot set headers on websocket upgrades.
			tok = r.URL.Query().Get("access_token")
		}
		if tok == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		actor, err := a.d.Auth.Verify(tok)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.WithActor(r.Context(), actor)))
	})
}

func (a *API) requireRole(role domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := identity.ActorFrom(r.Context())
			if !ok || actor.Role != role {
				writeError(w, http.StatusForbidden, "forbidden", "requires role "+string(role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ---- middleware ----

func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				a.log.Error("http handler panicked", logx.String("path", r.URL.Path), logx.Any("panic", rec), logx.String("request_id", middleware.GetReqID(r.Context())))
				writeError(w, http.StatusInternalServerError, "internal_error", "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// ---- errors ----

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= 500 {
		a.log.Error("request failed", logx.String("path", r.URL.Path), logx.String("request_id", middleware.GetReqID(r.Context())), logx.Err(err))
	}
	desc := err.Error()
	if status == http.StatusInternalServerError {
		desc = ""
	}
	writeError(w, status, code, desc)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, domain.ErrUnavailable), errors.Is(err, domain.ErrTimeout), errors.Is(err, domain.ErrNotConfigured), errors.Is(err, storage.ErrClosed):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeError(w http.ResponseWriter, status int, code, desc string) {
	writeJSON(w, status, errorBody{Error: code, Description: desc})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
