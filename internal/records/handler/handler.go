package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vaxledger/internal/records/models"
	id "vaxledger/pkg/domain"
	"vaxledger/pkg/platform/httputil"
	"vaxledger/pkg/platform/middleware/auth"
	"vaxledger/pkg/requestcontext"
)

type Ingestion interface {
	Submit(ctx context.Context, cmd models.SubmitCommand) (*models.SubmitResult, error)
	History(ctx context.Context, childID id.ChildID) ([]models.ImmunizationEvent, error)
}

type Doses interface {
	ListForChild(ctx context.Context, childID id.ChildID) ([]models.DoseStatus, error)
}

// Handler serves immunization ingestion and dose status endpoints.
type Handler struct {
	ingestion  Ingestion
	doses      Doses
	logger     *slog.Logger
	writeRoles []string
}

type Option func(*Handler)

// WithWriteRoles restricts event submission to the given token roles.
func WithWriteRoles(roles ...string) Option {
	return func(h *Handler) {
		h.writeRoles = roles
	}
}

func New(ingestion Ingestion, doses Doses, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{ingestion: ingestion, doses: doses, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	submit := r
	if len(h.writeRoles) > 0 {
		submit = r.With(auth.RequireRole(h.logger, h.writeRoles...))
	}
	submit.Post("/immunizations", h.HandleSubmit)
	r.Get("/children/{childID}/immunizations", h.HandleHistory)
	r.Get("/children/{childID}/doses", h.HandleDoses)
}

func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[SubmitImmunizationRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.ingestion.Submit(ctx, req.Command())
	if err != nil {
		h.logger.WarnContext(ctx, "immunization submission rejected",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	warnings := result.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	httputil.WriteJSON(w, http.StatusCreated, SubmitResponse{
		Event:    toImmunizationResponse(result.Event),
		Warnings: warnings,
	})
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	childID, err := id.ParseChildID(chi.URLParam(r, "childID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	events, err := h.ingestion.History(r.Context(), childID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp := make([]ImmunizationResponse, 0, len(events))
	for i := range events {
		resp = append(resp, toImmunizationResponse(&events[i]))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleDoses(w http.ResponseWriter, r *http.Request) {
	childID, err := id.ParseChildID(chi.URLParam(r, "childID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	statuses, err := h.doses.ListForChild(r.Context(), childID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp := make([]DoseStatusResponse, 0, len(statuses))
	for _, d := range statuses {
		resp = append(resp, toDoseStatusResponse(d))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
