package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vaxledger/internal/child/models"
	id "vaxledger/pkg/domain"
	"vaxledger/pkg/platform/httputil"
	"vaxledger/pkg/platform/middleware/auth"
	"vaxledger/pkg/requestcontext"
)

type Service interface {
	Register(ctx context.Context, cmd models.RegisterCommand) (*models.Child, error)
	Get(ctx context.Context, childID id.ChildID) (*models.Child, error)
}

// Handler serves child registration endpoints.
type Handler struct {
	svc        Service
	logger     *slog.Logger
	writeRoles []string
}

type Option func(*Handler)

// WithWriteRoles restricts registration to the given roles.
func WithWriteRoles(roles ...string) Option {
	return func(h *Handler) {
		h.writeRoles = roles
	}
}

func New(svc Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{svc: svc, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	if len(h.writeRoles) > 0 {
		r.With(auth.RequireRole(h.logger, h.writeRoles...)).Post("/children", h.HandleRegister)
	} else {
		r.Post("/children", h.HandleRegister)
	}
	r.Get("/children/{childID}", h.HandleGet)
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[RegisterChildRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	child, err := h.svc.Register(ctx, req.Command())
	if err != nil {
		h.logger.WarnContext(ctx, "child registration failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toChildResponse(child))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	childID, err := id.ParseChildID(chi.URLParam(r, "childID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	child, err := h.svc.Get(ctx, childID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toChildResponse(child))
}
