package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vaxledger/internal/eligibility"
	id "vaxledger/pkg/domain"
	"vaxledger/pkg/platform/httputil"
	"vaxledger/pkg/requestcontext"
)

type Engine interface {
	ProgressSummary(ctx context.Context, childID id.ChildID) (*eligibility.Progress, error)
	Check(ctx context.Context, childID id.ChildID, rule eligibility.Rule) (*eligibility.Verdict, error)
}

type Handler struct {
	engine Engine
	logger *slog.Logger
}

func New(engine Engine, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/children/{childID}/progress", h.HandleProgress)
	r.Get("/children/{childID}/eligibility/{rule}", h.HandleEligibility)
}

type ProgressResponse struct {
	ChildID               string   `json:"child_id"`
	ChildAgeMonths        int      `json:"child_age_months"`
	CompletedCount        int      `json:"completed_count"`
	TotalRequired         int      `json:"total_required"`
	CompletionRatePercent int      `json:"completion_rate_percent"`
	MissingVaccines       []string `json:"missing_vaccines"`
}

type VerdictResponse struct {
	Type                  string   `json:"type"`
	Eligible              bool     `json:"eligible"`
	Reason                string   `json:"reason"`
	ChildAgeMonths        int      `json:"child_age_months"`
	CompletionRatePercent int      `json:"completion_rate_percent"`
	Required              int      `json:"required"`
	Completed             int      `json:"completed"`
	Missing               []string `json:"missing"`
}

func (h *Handler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	childID, err := id.ParseChildID(chi.URLParam(r, "childID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	p, err := h.engine.ProgressSummary(r.Context(), childID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ProgressResponse{
		ChildID:               p.ChildID.String(),
		ChildAgeMonths:        p.ChildAgeMonths,
		CompletedCount:        p.CompletedCount,
		TotalRequired:         p.TotalRequired,
		CompletionRatePercent: p.CompletionRatePercent,
		MissingVaccines:       nonNil(p.MissingVaccines),
	})
}

func (h *Handler) HandleEligibility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	childID, err := id.ParseChildID(chi.URLParam(r, "childID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rule, err := eligibility.ParseRule(chi.URLParam(r, "rule"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	v, err := h.engine.Check(ctx, childID, rule)
	if err != nil {
		h.logger.WarnContext(ctx, "eligibility check failed",
			"request_id", requestcontext.RequestID(ctx),
			"rule", string(rule),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, VerdictResponse{
		Type:                  string(v.Rule),
		Eligible:              v.Eligible,
		Reason:                v.Reason,
		ChildAgeMonths:        v.ChildAgeMonths,
		CompletionRatePercent: v.CompletionRatePercent,
		Required:              v.Required,
		Completed:             v.Completed,
		Missing:               nonNil(v.Missing),
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
