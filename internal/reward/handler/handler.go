package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vaxledger/internal/reward/models"
	"vaxledger/internal/reward/service"
	id "vaxledger/pkg/domain"
	"vaxledger/pkg/platform/httputil"
	"vaxledger/pkg/platform/middleware/auth"
	"vaxledger/pkg/requestcontext"
)

type Service interface {
	CheckEligibility(ctx context.Context, childID id.ChildID) (*models.Eligibility, error)
	Award(ctx context.Context, childID id.ChildID, parentAddress string) (*models.AwardResult, error)
	Claim(ctx context.Context, childID id.ChildID) (*models.Claim, error)
	Stats(ctx context.Context) (*service.Stats, error)
}

type Handler struct {
	svc        Service
	logger     *slog.Logger
	awardRoles []string
}

type Option func(*Handler)

// WithAwardRoles restricts award requests to the given roles.
func WithAwardRoles(roles ...string) Option {
	return func(h *Handler) {
		h.awardRoles = roles
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
	r.Get("/children/{childID}/reward", h.HandleEligibility)
	r.Get("/children/{childID}/reward/claim", h.HandleClaim)
	if len(h.awardRoles) > 0 {
		r.With(auth.RequireRole(h.logger, h.awardRoles...)).Post("/children/{childID}/reward", h.HandleAward)
	} else {
		r.Post("/children/{childID}/reward", h.HandleAward)
	}
	r.Get("/ledger/stats", h.HandleStats)
}

func (h *Handler) HandleEligibility(w http.ResponseWriter, r *http.Request) {
	childID, err := id.ParseChildID(chi.URLParam(r, "childID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	elig, err := h.svc.CheckEligibility(r.Context(), childID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toEligibilityResponse(elig))
}

// HandleAward returns 201 when the ledger accepted the reward and 200 for
// ineligible or simulated outcomes. A repeat award is 409.
func (h *Handler) HandleAward(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	childID, err := id.ParseChildID(chi.URLParam(r, "childID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[AwardRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.svc.Award(ctx, childID, req.ParentAddress)
	if err != nil {
		h.logger.WarnContext(ctx, "reward award failed",
			"request_id", requestID,
			"child_id", childID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	status := http.StatusOK
	if result.Awarded {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, AwardResponse{
		Awarded:   result.Awarded,
		Simulated: result.Simulated,
		Reason:    result.Reason,
		Claim:     toClaimResponse(result.Claim),
	})
}

func (h *Handler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	childID, err := id.ParseChildID(chi.URLParam(r, "childID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	claim, err := h.svc.Claim(r.Context(), childID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toClaimResponse(claim))
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toStatsResponse(stats))
}
